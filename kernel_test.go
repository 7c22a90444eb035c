package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/microkernel/internal/syscallcore"
)

func newTestHost(t *testing.T) (*Host, *MockCollector) {
	t.Helper()
	collector := NewMockCollector()
	cfg := DefaultConfig()
	cfg.Executor = NewMockExecutor()
	cfg.VFS = NewMockVFS()
	cfg.Collector = collector
	h := New(context.Background(), cfg)
	t.Cleanup(h.Shutdown)
	return h, collector
}

func TestHostExecuteProcessCreateRoutesThroughDispatcher(t *testing.T) {
	h, collector := newTestHost(t)

	result := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindProcessCreate,
		Payload: syscallcore.ProcessCreatePayload{Name: "worker", Priority: 50},
	})

	require.True(t, result.Ok())
	pid, ok := result.Data.(uint32)
	require.True(t, ok)
	assert.NotZero(t, pid)

	assert.Equal(t, 1, collector.Len())
	assert.Equal(t, 1, h.Stats().ProcessCount)
}

func TestHostExecuteMemoryAllocateRoundTrip(t *testing.T) {
	h, _ := newTestHost(t)

	result := h.Execute(7, syscallcore.Syscall{
		Kind:    syscallcore.KindMemAllocate,
		Payload: syscallcore.MemAllocatePayload{Size: 4096, Pid: 7},
	})
	require.True(t, result.Ok())

	stats := h.Stats()
	assert.Equal(t, uint64(4096), stats.MemoryUsed)
}

func TestHostExecuteUnknownKindFails(t *testing.T) {
	h, _ := newTestHost(t)

	result := h.Execute(0, syscallcore.Syscall{Kind: "nonexistent_kind"})
	assert.False(t, result.Ok())
	assert.Equal(t, syscallcore.ResultError, result.Kind)
}

func TestHostExecuteRecordsSyscallMetrics(t *testing.T) {
	h, _ := newTestHost(t)

	h.Execute(0, syscallcore.Syscall{Kind: "nonexistent_kind"})
	h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindProcessCreate,
		Payload: syscallcore.ProcessCreatePayload{Name: "a", Priority: 1},
	})

	snap := h.Stats()
	assert.Equal(t, uint64(2), snap.SyscallOps)
	assert.Equal(t, uint64(1), snap.SyscallErrors)
}

func TestHostProcessTerminationRunsCleanupAndInvalidatesSandbox(t *testing.T) {
	h, collector := newTestHost(t)

	created := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindProcessCreate,
		Payload: syscallcore.ProcessCreatePayload{Name: "doomed", Priority: 1},
	})
	pid := created.Data.(uint32)

	h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindMemAllocate,
		Payload: syscallcore.MemAllocatePayload{Size: 1024, Pid: pid},
	})

	require.NoError(t, h.Processes.Terminate(pid))

	assert.Equal(t, uint64(0), h.Memory.ProcessMemory(pid).Current)

	found := false
	for _, e := range collector.Events {
		if e.Category == "process.cleanup" && e.Pid == pid {
			found = true
		}
	}
	assert.True(t, found, "expected a process.cleanup event for the terminated pid")
}

func TestDefaultConfigPopulatesSubsystemDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint64(DefaultTotalMemoryBytes), cfg.TotalMemoryBytes)
	assert.Equal(t, DefaultQuantum, cfg.SchedulerQuantum)
}
