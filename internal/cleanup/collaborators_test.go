package cleanup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/microkernel/internal/ipc"
	"github.com/ehrlich-b/microkernel/internal/memmgr"
	"github.com/ehrlich-b/microkernel/internal/process"
	"github.com/ehrlich-b/microkernel/internal/ring"
	"github.com/ehrlich-b/microkernel/internal/sandbox"
	"github.com/ehrlich-b/microkernel/internal/syscallcore"
)

func TestMemoryCleanupFreesProcessAllocations(t *testing.T) {
	mem := memmgr.New(memmgr.DefaultConfig())
	_, err := mem.Allocate(256, 7)
	require.NoError(t, err)

	c := MemoryCleanup{Mem: mem}
	require.True(t, c.HasResources(7))
	stats, err := c.Cleanup(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), stats.BytesFreed)
	assert.False(t, c.HasResources(7))
}

func TestSignalCleanupClearsPending(t *testing.T) {
	procs := process.New(process.Config{})
	pid := procs.Create("p", 10)
	sig := process.NewSignalManager(procs)
	_, err := sig.Send(0, pid, process.SigUSR1)
	require.NoError(t, err)

	c := SignalCleanup{Signals: sig}
	require.True(t, c.HasResources(pid))
	stats, err := c.Cleanup(pid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ResourcesFreed)
	assert.False(t, c.HasResources(pid))
}

func TestAsyncTaskCleanupRemovesOwnedTasks(t *testing.T) {
	procs := process.New(process.Config{})
	sched := process.NewScheduler(process.SchedulerConfig{})
	sig := process.NewSignalManager(procs)
	mem := memmgr.New(memmgr.DefaultConfig())
	perms := sandbox.NewPermissionManager(sandbox.New(), sandbox.PermissionConfig{})
	dispatcher := syscallcore.NewDispatcher(nil, syscallcore.NewCoreHandler(procs, sched, sig, mem, perms))
	async := syscallcore.NewAsyncManager(dispatcher)

	taskID := async.Submit(42, syscallcore.Syscall{Kind: syscallcore.KindProcessCreate, Payload: syscallcore.ProcessCreatePayload{Name: "x", Priority: 1}})
	require.Eventually(t, func() bool {
		return async.HasPidTasks(42)
	}, time.Second, time.Millisecond)

	c := AsyncTaskCleanup{Async: async}
	require.True(t, c.HasResources(42))
	stats, err := c.Cleanup(42)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ResourcesFreed)
	assert.False(t, c.HasResources(42))
	_, ok := async.Result(taskID)
	assert.False(t, ok)
}

func TestZeroCopyCleanupDestroysRing(t *testing.T) {
	mem := memmgr.New(memmgr.DefaultConfig())
	mgr := ipc.New(mem, ipc.DefaultConfig())
	_, err := mgr.CreateZeroCopyRing(3, 4)
	require.NoError(t, err)

	c := ZeroCopyCleanup{IPC: mgr}
	require.True(t, c.HasResources(3))
	stats, err := c.Cleanup(3)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ResourcesFreed)
	assert.False(t, c.HasResources(3))
}

func TestRingCleanupClosesOwnedHandles(t *testing.T) {
	r := ring.New(ring.Config{FS: ring.NewOSFileSystem(), Net: ring.NewNetDialer(), Tick: time.Millisecond})
	r.Start()
	t.Cleanup(r.Stop)

	path := t.TempDir() + "/f.txt"
	seq, err := r.Submit(5, ring.OpOpen, 0, ring.Args{Path: path, Flags: 0x42, Mode: 0o644})
	require.NoError(t, err)
	_, err = r.WaitCompletion(seq, time.Second)
	require.NoError(t, err)

	c := RingCleanup{Ring: r}
	require.True(t, c.HasResources(5))
	stats, err := c.Cleanup(5)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ResourcesFreed)
	assert.False(t, c.HasResources(5))
}
