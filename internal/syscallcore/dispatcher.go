package syscallcore

import (
	"github.com/ehrlich-b/microkernel/internal/logging"
)

// Handler claims or passes a Syscall. A Handler returns ok=false to let
// the next handler in the chain try; ok=true means result is final.
type Handler interface {
	Handle(pid uint32, sc Syscall) (result SyscallResult, ok bool)
}

// Dispatcher is the ordered handler chain: each Execute call walks the
// chain until a handler claims the call. Grounded on backend.go's
// CreateAndServe staged-construction shape, generalized from "unwind on
// failure" to "pass to the next handler."
type Dispatcher struct {
	handlers []Handler
	log      *logging.Logger
}

// NewDispatcher builds a Dispatcher trying handlers in order.
func NewDispatcher(log *logging.Logger, handlers ...Handler) *Dispatcher {
	if log == nil {
		log = logging.Default()
	}
	return &Dispatcher{handlers: handlers, log: log}
}

// Execute runs sc through the handler chain and returns the first claim.
// An unclaimed syscall is an Error result naming the unknown kind.
func (d *Dispatcher) Execute(pid uint32, sc Syscall) SyscallResult {
	for _, h := range d.handlers {
		if result, ok := h.Handle(pid, sc); ok {
			return result
		}
	}
	d.log.Warnf("syscall %s from pid %d claimed by no handler", sc.Kind, pid)
	return Failure("unhandled syscall: " + string(sc.Kind))
}
