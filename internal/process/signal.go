package process

import (
	"sync"

	"github.com/ehrlich-b/microkernel/kernelerr"
)

// Signal is a POSIX-style signal number.
type Signal int

const (
	SigHUP  Signal = 1
	SigINT  Signal = 2
	SigQUIT Signal = 3
	SigKILL Signal = 9
	SigUSR1 Signal = 10
	SigUSR2 Signal = 12
	SigTERM Signal = 15
	SigSTOP Signal = 19
	SigCONT Signal = 18
	SigCHLD Signal = 17
)

// Action is the dispatcher's resolved response to a delivered signal.
type Action int

const (
	ActionIgnore Action = iota
	ActionTerminate
	ActionStop
	ActionContinue
	ActionHandlerInvoked
)

func (a Action) String() string {
	switch a {
	case ActionTerminate:
		return "terminate"
	case ActionStop:
		return "stop"
	case ActionContinue:
		return "continue"
	case ActionHandlerInvoked:
		return "handler_invoked"
	default:
		return "ignore"
	}
}

// Handler is a user-registered signal handler; returning true claims the
// signal (dispatcher reports ActionHandlerInvoked), false defers to the
// signal's default action.
type Handler func(sig Signal) (claimed bool)

// defaultAction is the POSIX-conventional default disposition for sig
// absent a registered handler.
func defaultAction(sig Signal) Action {
	switch sig {
	case SigKILL, SigTERM, SigINT, SigQUIT:
		return ActionTerminate
	case SigSTOP:
		return ActionStop
	case SigCONT:
		return ActionContinue
	default:
		return ActionIgnore
	}
}

type pidSignalState struct {
	mu      sync.Mutex
	pending map[Signal]bool
	handlers map[Signal]Handler
}

// SignalManager accepts signal sends, validates them, tracks each
// target's pending-signal set, and dispatches to registered handlers or
// default actions.
type SignalManager struct {
	manager *Manager
	mu      sync.Mutex
	state   map[uint32]*pidSignalState
}

// NewSignalManager constructs a SignalManager bound to manager (used to
// validate target pids exist and to act on Terminate/Stop/Continue).
func NewSignalManager(manager *Manager) *SignalManager {
	return &SignalManager{manager: manager, state: make(map[uint32]*pidSignalState)}
}

func (sm *SignalManager) stateFor(pid uint32) *pidSignalState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	st, ok := sm.state[pid]
	if !ok {
		st = &pidSignalState{pending: make(map[Signal]bool), handlers: make(map[Signal]Handler)}
		sm.state[pid] = st
	}
	return st
}

// RegisterHandler installs a handler for sig on target pid, overriding
// the default action when it claims the signal.
func (sm *SignalManager) RegisterHandler(pid uint32, sig Signal, h Handler) {
	st := sm.stateFor(pid)
	st.mu.Lock()
	st.handlers[sig] = h
	st.mu.Unlock()
}

// Pending reports target's current pending-signal set.
func (sm *SignalManager) Pending(pid uint32) []Signal {
	st := sm.stateFor(pid)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Signal, 0, len(st.pending))
	for sig, p := range st.pending {
		if p {
			out = append(out, sig)
		}
	}
	return out
}

// Send validates (sig) and (target exists), marks it pending on target,
// and triggers the dispatcher, returning the resolved Action.
func (sm *SignalManager) Send(senderPid, targetPid uint32, sig Signal) (Action, error) {
	if sig <= 0 {
		return ActionIgnore, kernelerr.New("process", "send_signal", kernelerr.CodeInvalidSignal, "signal number must be positive")
	}
	if _, ok := sm.manager.Get(targetPid); !ok {
		return ActionIgnore, kernelerr.NewForPid("process", "send_signal", targetPid, kernelerr.CodeProcessNotFound, "target pid not found")
	}

	st := sm.stateFor(targetPid)
	st.mu.Lock()
	st.pending[sig] = true
	handler, hasHandler := st.handlers[sig]
	st.mu.Unlock()

	action := sm.dispatch(targetPid, sig, handler, hasHandler)

	st.mu.Lock()
	delete(st.pending, sig)
	st.mu.Unlock()

	return action, nil
}

func (sm *SignalManager) dispatch(targetPid uint32, sig Signal, handler Handler, hasHandler bool) Action {
	if hasHandler {
		if handler(sig) {
			return ActionHandlerInvoked
		}
	}

	action := defaultAction(sig)
	switch action {
	case ActionTerminate:
		_ = sm.manager.Terminate(targetPid)
	case ActionStop:
		_ = sm.manager.SetState(targetPid, StateStopped)
	case ActionContinue:
		_ = sm.manager.SetState(targetPid, StateRunning)
	}
	return action
}

// Cleanup removes targetPid's signal state, called on process
// termination.
func (sm *SignalManager) Cleanup(pid uint32) {
	sm.mu.Lock()
	delete(sm.state, pid)
	sm.mu.Unlock()
}
