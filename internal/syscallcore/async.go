package syscallcore

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/microkernel/internal/guard"
	"github.com/ehrlich-b/microkernel/kernelerr"
)

// Status is an async task's lifecycle state (spec §4.F's Task type:
// Pending, Running, Completed(result), Failed(msg), Cancelled).
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// taskEntry is one submitted async task. status/progress/result are
// guarded by mu so Submit's goroutine and Cancel/GetStatus never race.
type taskEntry struct {
	mu       sync.Mutex
	id       uint64
	pid      uint32
	status   Status
	progress float64
	result   SyscallResult
	failMsg  string
	cancelCh chan struct{}

	// abort is this task's async-task guard (spec §3), constructed in
	// Submit. Cancel and CleanupProcessTasks release it rather than
	// poking cancelCh directly, so every cancellation path goes through
	// the same idempotent guard.Release discipline.
	abort *guard.AsyncTaskGuard
}

// AsyncManager is the async task tracker: submit/get_status/cancel/
// cleanup over a dispatcher. Grounded on backend.go's CreateAndServe
// staged style in spirit (submit starts a supervised goroutine the way
// CreateAndServe starts supervised runners), but the task bookkeeping
// itself has no teacher analogue — no pack example implements a
// cancellable future/task abstraction, so it is a plain map guarded by
// a mutex (standard-library justification).
type AsyncManager struct {
	dispatcher *Dispatcher
	mu         sync.Mutex
	tasks      map[uint64]*taskEntry
	nextID     atomic.Uint64
}

// NewAsyncManager wraps a Dispatcher.
func NewAsyncManager(d *Dispatcher) *AsyncManager {
	return &AsyncManager{dispatcher: d, tasks: make(map[uint64]*taskEntry)}
}

// Submit inserts a Pending task and spawns it: it flips to Running, races
// a one-shot cancel channel against the blocking dispatch, and on
// completion sets Completed(result)/Failed(msg) with progress 1, or on
// cancellation (only possible while still Pending) sets Cancelled.
func (a *AsyncManager) Submit(pid uint32, sc Syscall) uint64 {
	id := a.nextID.Add(1)
	t := &taskEntry{id: id, pid: pid, status: StatusPending, cancelCh: make(chan struct{})}
	t.abort = guard.NewAsyncTaskGuard(id, pid, func(uint64) error { return requestCancel(t) })
	a.mu.Lock()
	a.tasks[id] = t
	a.mu.Unlock()

	go a.run(t, sc)
	return id
}

// requestCancel is the abort function backing each task's
// guard.AsyncTaskGuard: it succeeds only while the task is still
// Pending, since once Running the blocking dispatch is no longer
// interruptible.
func requestCancel(t *taskEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return kernelerr.New("syscallcore", "Cancel", kernelerr.CodeInvalidOperation, "task is not pending")
	}
	t.status = StatusCancelled
	close(t.cancelCh)
	return nil
}

func (a *AsyncManager) run(t *taskEntry, sc Syscall) {
	t.mu.Lock()
	if t.status == StatusCancelled {
		t.mu.Unlock()
		return
	}
	t.status = StatusRunning
	t.mu.Unlock()

	resultCh := make(chan SyscallResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- Failure("task panicked")
			}
		}()
		resultCh <- a.dispatcher.Execute(t.pid, sc)
	}()

	select {
	case <-t.cancelCh:
		t.mu.Lock()
		t.status = StatusCancelled
		t.mu.Unlock()
	case result := <-resultCh:
		t.mu.Lock()
		if result.Kind == ResultError {
			t.status = StatusFailed
			t.failMsg = result.Message
		} else {
			t.status = StatusCompleted
		}
		t.result = result
		t.progress = 1
		t.mu.Unlock()
	}
}

// GetStatus reports a task's current status and progress. ok is false
// if task_id is unknown.
func (a *AsyncManager) GetStatus(taskID uint64) (status Status, progress float64, ok bool) {
	a.mu.Lock()
	t, found := a.tasks[taskID]
	a.mu.Unlock()
	if !found {
		return 0, 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.progress, true
}

// Result returns a completed task's SyscallResult. ok is false unless
// the task has reached StatusCompleted.
func (a *AsyncManager) Result(taskID uint64) (SyscallResult, bool) {
	a.mu.Lock()
	t, found := a.tasks[taskID]
	a.mu.Unlock()
	if !found {
		return SyscallResult{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.status == StatusCompleted
}

// Cancel succeeds only if the task's cancel channel is still held, i.e.
// the task is still Pending; once Running (blocking execution started)
// cancellation is no longer observable and Cancel returns false.
func (a *AsyncManager) Cancel(taskID uint64) bool {
	a.mu.Lock()
	t, found := a.tasks[taskID]
	a.mu.Unlock()
	if !found {
		return false
	}
	return t.abort.Release() == nil
}

// CleanupCompleted removes every task in a terminal state (Completed,
// Failed, or Cancelled).
func (a *AsyncManager) CleanupCompleted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for id, t := range a.tasks {
		t.mu.Lock()
		terminal := t.status == StatusCompleted || t.status == StatusFailed || t.status == StatusCancelled
		t.mu.Unlock()
		if terminal {
			delete(a.tasks, id)
			removed++
		}
	}
	return removed
}

// CleanupProcessTasks cancels (best-effort) and removes every task
// owned by pid, regardless of status — called from the resource
// orchestrator on process termination.
func (a *AsyncManager) CleanupProcessTasks(pid uint32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	composite := guard.NewComposite()
	removed := 0
	for id, t := range a.tasks {
		t.mu.Lock()
		owned := t.pid == pid
		t.mu.Unlock()
		if !owned {
			continue
		}
		composite.Add(t.abort)
		delete(a.tasks, id)
		removed++
	}
	_ = composite.Release()
	return removed
}

// HasPidTasks reports whether any tracked task is owned by pid, for the
// resource cleanup orchestrator's has_resources check (spec §4.G).
func (a *AsyncManager) HasPidTasks(pid uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.tasks {
		t.mu.Lock()
		owned := t.pid == pid
		t.mu.Unlock()
		if owned {
			return true
		}
	}
	return false
}

// Count reports how many tasks are currently tracked.
func (a *AsyncManager) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}
