package process

import (
	"sync"
	"time"

	"github.com/ehrlich-b/microkernel/internal/logging"
)

// osSignaler is the minimal OS-signal contract the preemption controller
// needs, grounded on internal/queue/runner.go's unix.SchedSetaffinity /
// unix.Kill usage. Swappable so non-Unix builds (and tests) can supply a
// logging-only stub instead of real signals.
type osSignaler interface {
	Stop(osPid int) error
	Continue(osPid int) error
}

// PreemptionController wraps a Scheduler and a pid->OS-pid lookup,
// sending SIGSTOP/SIGCONT around every schedule-induced switch. On
// non-Unix hosts (or when constructed with a stub signaler) it logs a
// warning and proceeds logically without OS signals, per spec §4.E.
type PreemptionController struct {
	mu        sync.Mutex
	scheduler *Scheduler
	manager   *Manager
	signaler  osSignaler
	log       *logging.Logger
	lastPid   uint32
	haveLast  bool
}

// NewPreemptionController constructs a controller over scheduler and
// manager, using the platform's native signaler when available.
func NewPreemptionController(scheduler *Scheduler, manager *Manager, log *logging.Logger) *PreemptionController {
	if log == nil {
		log = logging.Default()
	}
	return &PreemptionController{
		scheduler: scheduler,
		manager:   manager,
		signaler:  newPlatformSignaler(log),
		log:       log,
	}
}

// Tick drives one Schedule() call and, on a pid switch, stops the
// outgoing OS process (if any) and continues the incoming one.
func (c *PreemptionController) Tick() (pid uint32, switched bool, ok bool) {
	pid, switched, ok = c.scheduler.Schedule()
	if !ok || !switched {
		return pid, switched, ok
	}

	c.mu.Lock()
	outgoing, hadOutgoing := c.lastPid, c.haveLast
	c.lastPid = pid
	c.haveLast = true
	c.mu.Unlock()

	if hadOutgoing && outgoing != pid {
		if info, found := c.manager.Get(outgoing); found && info.OSPid != 0 {
			if err := c.signaler.Stop(info.OSPid); err != nil {
				c.log.Warnf("preempt: failed to SIGSTOP pid %d (os_pid %d): %v", outgoing, info.OSPid, err)
			}
		}
	}
	if info, found := c.manager.Get(pid); found && info.OSPid != 0 {
		if err := c.signaler.Continue(info.OSPid); err != nil {
			c.log.Warnf("preempt: failed to SIGCONT pid %d (os_pid %d): %v", pid, info.OSPid, err)
		}
	}
	return pid, switched, ok
}

// Runner drives Tick in a loop every quantum until ctx (stop channel) is
// closed. Quantum is re-read from the scheduler on each iteration so
// SetQuantum changes are picked up atomically, per spec §4.E.
type Runner struct {
	controller *PreemptionController
	stop       chan struct{}
	stopped    sync.Once
	quantum    func() time.Duration
}

// NewRunner constructs a scheduler task loop over controller. Each tick
// sleeps for the scheduler's current quantum; quantum (or DefaultQuantum
// when it is not positive) is used only when the controller has no
// scheduler or the scheduler's quantum is not positive.
func NewRunner(controller *PreemptionController, quantum time.Duration) *Runner {
	fallback := quantum
	if fallback <= 0 {
		fallback = DefaultQuantum
	}
	return &Runner{
		controller: controller,
		stop:       make(chan struct{}),
		quantum: func() time.Duration {
			if s := controller.scheduler; s != nil {
				s.mu.Lock()
				q := s.quantum
				s.mu.Unlock()
				if q > 0 {
					return q
				}
			}
			return fallback
		},
	}
}

// Start runs the scheduler task loop on its own goroutine until Stop is
// called.
func (r *Runner) Start() {
	go func() {
		for {
			select {
			case <-r.stop:
				return
			default:
			}
			r.controller.Tick()
			time.Sleep(r.quantum())
		}
	}()
}

// Stop terminates the loop; safe to call more than once.
func (r *Runner) Stop() {
	r.stopped.Do(func() { close(r.stop) })
}
