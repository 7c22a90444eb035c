package guard

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/microkernel/kernelerr"
)

// TransactionState is a TransactionGuard's lifecycle position.
type TransactionState int

const (
	TransactionActive TransactionState = iota
	TransactionCommitted
	TransactionRolledBack
	TransactionPoisoned
)

func (s TransactionState) String() string {
	switch s {
	case TransactionActive:
		return "active"
	case TransactionCommitted:
		return "committed"
	case TransactionRolledBack:
		return "rolled_back"
	case TransactionPoisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

// Operation is one entry in a TransactionGuard's log, kept for
// diagnostics (Name) and potential per-operation rollback bookkeeping.
type Operation struct {
	Name string
	Data any
}

// TransactionGuard logs a sequence of operations and either commits or
// rolls them all back as a unit, grounded on transaction_guard_tests.rs:
// commit "consumes" the transaction (further Commit/Rollback fail), and
// a transaction that is neither committed nor rolled back before its
// owning scope ends auto-rolls-back on Release.
type TransactionGuard struct {
	mu       sync.Mutex
	pid      uint32
	hasPid   bool
	ops      []Operation
	state    TransactionState
	poisonMsg string
	commitFn   func([]Operation) error
	rollbackFn func([]Operation) error
}

// NewTransaction creates an active transaction scoped to pid (pass 0,
// false if the transaction is not process-scoped). commitFn and
// rollbackFn receive the accumulated operation log.
func NewTransaction(pid uint32, hasPid bool, commitFn, rollbackFn func([]Operation) error) *TransactionGuard {
	return &TransactionGuard{pid: pid, hasPid: hasPid, state: TransactionActive, commitFn: commitFn, rollbackFn: rollbackFn}
}

func (t *TransactionGuard) ResourceType() string { return "transaction" }

func (t *TransactionGuard) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TransactionActive
}

// Pid returns the owning pid and whether the transaction is pid-scoped.
func (t *TransactionGuard) Pid() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pid, t.hasPid
}

func (t *TransactionGuard) State() TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AddOperation appends op to the log. It fails once the transaction has
// left the active state.
func (t *TransactionGuard) AddOperation(op Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TransactionActive {
		return t.notActiveLocked("AddOperation")
	}
	t.ops = append(t.ops, op)
	return nil
}

// Operations returns a copy of the logged operations.
func (t *TransactionGuard) Operations() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Operation, len(t.ops))
	copy(out, t.ops)
	return out
}

// Commit runs the commit function over the logged operations and
// consumes the transaction: a second Commit or a later Rollback fails.
// A failing commitFn poisons the transaction rather than leaving it
// active, since its operations are now in an unknown state.
func (t *TransactionGuard) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TransactionActive {
		return t.notActiveLocked("Commit")
	}
	if err := t.commitFn(t.ops); err != nil {
		t.state = TransactionPoisoned
		t.poisonMsg = err.Error()
		return err
	}
	t.state = TransactionCommitted
	return nil
}

// Rollback runs the rollback function over the logged operations and
// consumes the transaction.
func (t *TransactionGuard) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TransactionActive {
		return t.notActiveLocked("Rollback")
	}
	t.state = TransactionRolledBack
	return t.rollbackFn(t.ops)
}

// Poison marks the transaction unusable without running either the
// commit or rollback function, for callers that have detected the
// underlying resource is already in a bad state.
func (t *TransactionGuard) Poison(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TransactionPoisoned
	t.poisonMsg = reason
}

func (t *TransactionGuard) IsPoisoned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TransactionPoisoned
}

func (t *TransactionGuard) PoisonReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.poisonMsg
}

// Recover moves a poisoned transaction back to active, discarding the
// poison reason. It refuses to recover a committed or rolled-back
// transaction, since those are terminal by design.
func (t *TransactionGuard) Recover() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TransactionPoisoned {
		return kernelerr.New("guard", "Recover", kernelerr.CodeInvalidOperation, "transaction is not poisoned")
	}
	t.state = TransactionActive
	t.poisonMsg = ""
	return nil
}

// Release implements Guard: an active transaction rolls back, anything
// else (already committed, already rolled back, poisoned) is a no-op.
// This is the "abandoned scope" path; callers that want to succeed
// should call Commit explicitly before the guard goes out of scope.
func (t *TransactionGuard) Release() error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state != TransactionActive {
		return nil
	}
	return t.Rollback()
}

func (t *TransactionGuard) notActiveLocked(op string) error {
	return kernelerr.New("guard", op, kernelerr.CodeInvalidOperation, fmt.Sprintf("transaction is %s, not active", t.state))
}

// Execute runs fn inside a fresh transaction: on success it commits and
// returns fn's result, on failure it rolls back and returns the error.
// Grounded on transaction_guard_tests.rs's execute() helper.
func Execute[T any](pid uint32, hasPid bool, commitFn, rollbackFn func([]Operation) error, fn func(*TransactionGuard) (T, error)) (T, error) {
	tx := NewTransaction(pid, hasPid, commitFn, rollbackFn)
	result, err := fn(tx)
	if err != nil {
		var zero T
		if rbErr := tx.Rollback(); rbErr != nil {
			return zero, fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
