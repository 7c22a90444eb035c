package guard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/microkernel/kernelerr"
)

func TestMemoryGuardReleaseCallsDeallocate(t *testing.T) {
	var freed uint64
	g := NewMemoryGuard(100, 64, 1, func(addr uint64) error {
		freed = addr
		return nil
	})
	require.True(t, g.Active())
	require.NoError(t, g.Release())
	assert.Equal(t, uint64(100), freed)
	assert.False(t, g.Active())
}

func TestMemoryGuardDoubleReleaseFails(t *testing.T) {
	g := NewMemoryGuard(1, 1, 1, func(uint64) error { return nil })
	require.NoError(t, g.Release())
	err := g.Release()
	require.Error(t, err)
	assert.True(t, kernelerr.IsCode(err, kernelerr.CodeAlreadyReleased))
}

func TestFdGuardReleaseCallsClose(t *testing.T) {
	var closedHandle uint64
	g := NewFdGuard(7, 5, "/tmp/x", func(pid uint32, handle uint64) error {
		closedHandle = handle
		return nil
	})
	require.NoError(t, g.Release())
	assert.Equal(t, uint64(7), closedHandle)
}

func TestAsyncTaskGuardAbortsByDefault(t *testing.T) {
	aborted := false
	g := NewAsyncTaskGuard(9, 1, func(uint64) error {
		aborted = true
		return nil
	})
	require.NoError(t, g.Release())
	assert.True(t, aborted)
}

func TestAsyncTaskGuardNoAutoAbortSkipsAbort(t *testing.T) {
	aborted := false
	g := NewAsyncTaskGuard(9, 1, func(uint64) error {
		aborted = true
		return nil
	}).NoAutoAbort()
	require.NoError(t, g.Release())
	assert.False(t, aborted)
}

func TestCompositeGuardLIFOReleaseOrder(t *testing.T) {
	var order []int
	release := func(n int) func() error {
		return func() error {
			order = append(order, n)
			return nil
		}
	}
	c := NewComposite()
	c.Add(NewIPCGuard(1, "pipe", func(uint64) error { return release(1)() }))
	c.Add(NewIPCGuard(2, "pipe", func(uint64) error { return release(2)() }))
	c.Add(NewIPCGuard(3, "pipe", func(uint64) error { return release(3)() }))

	require.NoError(t, c.Release())
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestCompositeGuardAggregatesErrors(t *testing.T) {
	boom := errors.New("boom")
	c := NewComposite()
	c.Add(NewIPCGuard(1, "pipe", func(uint64) error { return nil }))
	c.Add(NewIPCGuard(2, "pipe", func(uint64) error { return boom }))

	err := c.Release()
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestCompositeGuardDoubleReleaseFails(t *testing.T) {
	c := NewComposite()
	c.Add(NewIPCGuard(1, "pipe", func(uint64) error { return nil }))
	require.NoError(t, c.Release())
	err := c.Release()
	require.Error(t, err)
	assert.True(t, kernelerr.IsCode(err, kernelerr.CodeAlreadyReleased))
}

func TestCompositeGuardBuilder(t *testing.T) {
	c := NewCompositeBuilder().
		With("fd", NewFdGuard(1, 1, "", func(uint32, uint64) error { return nil })).
		With("mem", NewMemoryGuard(1, 1, 1, func(uint64) error { return nil })).
		Build()
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"fd", "memory"}, c.GuardTypes())
}

func TestTransactionGuardCommitConsumesTransaction(t *testing.T) {
	var committed []Operation
	tx := NewTransaction(1, true, func(ops []Operation) error {
		committed = ops
		return nil
	}, func([]Operation) error { return nil })

	require.NoError(t, tx.AddOperation(Operation{Name: "write"}))
	require.NoError(t, tx.Commit())
	assert.Equal(t, TransactionCommitted, tx.State())
	assert.Len(t, committed, 1)

	err := tx.Commit()
	require.Error(t, err)
	err = tx.Rollback()
	require.Error(t, err)
}

func TestTransactionGuardAutoRollbackOnRelease(t *testing.T) {
	rolledBack := false
	tx := NewTransaction(0, false, func([]Operation) error { return nil }, func([]Operation) error {
		rolledBack = true
		return nil
	})
	require.NoError(t, tx.AddOperation(Operation{Name: "write"}))
	require.NoError(t, tx.Release())
	assert.True(t, rolledBack)
	assert.Equal(t, TransactionRolledBack, tx.State())
}

func TestTransactionGuardPoisonAndRecover(t *testing.T) {
	tx := NewTransaction(0, false, func([]Operation) error { return nil }, func([]Operation) error { return nil })
	tx.Poison("bad state")
	assert.True(t, tx.IsPoisoned())
	assert.Equal(t, "bad state", tx.PoisonReason())

	require.Error(t, tx.Commit())
	require.NoError(t, tx.Recover())
	assert.Equal(t, TransactionActive, tx.State())
}

func TestTransactionGuardCommitFailurePoisons(t *testing.T) {
	boom := errors.New("boom")
	tx := NewTransaction(0, false, func([]Operation) error { return boom }, func([]Operation) error { return nil })
	err := tx.Commit()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, TransactionPoisoned, tx.State())
}

func TestExecuteCommitsOnSuccess(t *testing.T) {
	committed := false
	result, err := Execute(1, true,
		func([]Operation) error { committed = true; return nil },
		func([]Operation) error { return nil },
		func(tx *TransactionGuard) (int, error) {
			require.NoError(t, tx.AddOperation(Operation{Name: "step"}))
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.True(t, committed)
}

func TestExecuteRollsBackOnFailure(t *testing.T) {
	rolledBack := false
	boom := errors.New("boom")
	_, err := Execute(1, true,
		func([]Operation) error { return nil },
		func([]Operation) error { rolledBack = true; return nil },
		func(tx *TransactionGuard) (int, error) {
			return 0, boom
		})
	require.ErrorIs(t, err, boom)
	assert.True(t, rolledBack)
}
