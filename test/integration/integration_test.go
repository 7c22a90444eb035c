// Package integration exercises kernel.Host end to end across every
// subsystem (A-G), one test per scenario named in the syscall core's
// testable-properties list.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kernel "github.com/ehrlich-b/microkernel"
	"github.com/ehrlich-b/microkernel/internal/ipc"
	"github.com/ehrlich-b/microkernel/internal/process"
	"github.com/ehrlich-b/microkernel/internal/sandbox"
	"github.com/ehrlich-b/microkernel/internal/syscallcore"
)

func newHost(t *testing.T) *kernel.Host {
	t.Helper()
	cfg := kernel.DefaultConfig()
	cfg.Executor = kernel.NewMockExecutor()
	cfg.VFS = kernel.NewMockVFS()
	h := kernel.New(context.Background(), cfg)
	// Host.New starts the scheduler's background Runner for a live
	// kernel instance; these tests drive the scheduler and preemption
	// controller directly, so the background tick loop is stopped to
	// keep scheduling deterministic (it is exercised on its own in
	// internal/process's preempt_test.go).
	h.Runner.Stop()
	t.Cleanup(h.Shutdown)
	return h
}

// Scenario 1: sandboxed file allow.
func TestSandboxedFileAllow(t *testing.T) {
	h := newHost(t)

	pid := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindProcessCreate,
		Payload: syscallcore.ProcessCreatePayload{Name: "reader", Priority: 1},
	}).Data.(uint32)

	h.Sandboxes.Set(pid, &sandbox.SandboxConfig{
		Capabilities: sandbox.CapFileRead,
		PathRules:    sandbox.PathRules{Allow: []string{"/tmp"}},
	})
	h.Permissions.InvalidatePid(pid)

	require.True(t, h.Execute(pid, syscallcore.Syscall{
		Kind:    syscallcore.KindCreate,
		Payload: syscallcore.CreatePayload{Path: "/tmp/test.txt", Mode: 0o644},
	}).Ok())

	decision := h.Execute(pid, syscallcore.Syscall{
		Kind: syscallcore.KindPermission,
		Payload: syscallcore.PermissionPayload{Request: sandbox.Request{
			Pid:      pid,
			Resource: sandbox.Resource{Kind: sandbox.ResourcePath, Path: "/tmp/test.txt"},
			Action:   sandbox.CapFileRead,
		}},
	})
	require.True(t, decision.Ok())

	stat := h.Execute(pid, syscallcore.Syscall{
		Kind:    syscallcore.KindStat,
		Payload: syscallcore.PathPayload{Path: "/tmp/test.txt"},
	})
	assert.True(t, stat.Ok())

	denied := h.Execute(pid, syscallcore.Syscall{
		Kind: syscallcore.KindPermission,
		Payload: syscallcore.PermissionPayload{Request: sandbox.Request{
			Pid:      pid,
			Resource: sandbox.Resource{Kind: sandbox.ResourcePath, Path: "/etc/passwd"},
			Action:   sandbox.CapFileRead,
		}},
	})
	assert.False(t, denied.Ok())
	assert.Equal(t, syscallcore.ResultPermissionDenied, denied.Kind)
}

// Scenario 2: missing capability.
func TestMissingCapabilityDeniesSpawn(t *testing.T) {
	h := newHost(t)

	pid := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindProcessCreate,
		Payload: syscallcore.ProcessCreatePayload{Name: "restricted", Priority: 1},
	}).Data.(uint32)

	h.Sandboxes.Set(pid, &sandbox.SandboxConfig{Capabilities: 0})
	h.Permissions.InvalidatePid(pid)

	result := h.Execute(pid, syscallcore.Syscall{
		Kind: syscallcore.KindPermission,
		Payload: syscallcore.PermissionPayload{Request: sandbox.Request{
			Pid:    pid,
			Action: sandbox.CapCreateProcess,
		}},
	})
	assert.False(t, result.Ok())
	assert.Equal(t, syscallcore.ResultPermissionDenied, result.Kind)
}

// Scenario 3: memory round trip.
func TestMemoryRoundTrip(t *testing.T) {
	h := newHost(t)

	alloc := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindMemAllocate,
		Payload: syscallcore.MemAllocatePayload{Size: 1 << 20, Pid: 0},
	})
	require.True(t, alloc.Ok())
	addr := alloc.Data.(uint64)

	require.NoError(t, h.Memory.WriteBytes(addr, []byte{1, 2, 3, 4}))
	got, err := h.Memory.ReadBytes(addr, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	dealloc := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindMemDeallocate,
		Payload: syscallcore.AddrPayload{Addr: addr},
	})
	require.True(t, dealloc.Ok())
	assert.Equal(t, uint64(0), h.Memory.Info().Used)
}

// Scenario 4: priority scheduling.
func TestPriorityScheduling(t *testing.T) {
	h := newHost(t)
	h.Scheduler.SetPolicy(process.PolicyPriority)

	h.Scheduler.Enqueue(1, 3)
	h.Scheduler.Enqueue(2, 8)
	h.Scheduler.Enqueue(3, 5)

	next, _, ok := h.Scheduler.Schedule()
	require.True(t, ok)
	assert.Equal(t, uint32(2), next)
}

// Scenario 5: PubSub fan-out.
func TestPubSubFanOut(t *testing.T) {
	h := newHost(t)

	alloc := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindMemAllocate,
		Payload: syscallcore.MemAllocatePayload{Size: 16, Pid: 0},
	})
	require.True(t, alloc.Ok())
	addr := alloc.Data.(uint64)
	payload := []byte("hello-pubsub")
	require.NoError(t, h.Memory.WriteBytes(addr, payload))

	created := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindQueueCreatePubSub,
		Payload: syscallcore.QueueCreatePayload{Capacity: 8},
	})
	require.True(t, created.Ok())
	qid := created.Data.(ipc.Queue).ID()

	require.True(t, h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindQueueSubscribe,
		Payload: syscallcore.QueueSubPayload{ID: qid, Pid: 1},
	}).Ok())
	require.True(t, h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindQueueSubscribe,
		Payload: syscallcore.QueueSubPayload{ID: qid, Pid: 2},
	}).Ok())

	sent := h.Execute(0, syscallcore.Syscall{
		Kind: syscallcore.KindQueueSend,
		Payload: syscallcore.QueueSendPayload{ID: qid, Msg: ipc.QueueMessage{
			DataAddress: addr,
			DataLength:  uint64(len(payload)),
		}},
	})
	require.True(t, sent.Ok())

	for _, pid := range []uint32{1, 2} {
		recv := h.Execute(0, syscallcore.Syscall{
			Kind:    syscallcore.KindQueuePoll,
			Payload: syscallcore.QueuePollPayload{ID: qid, Pid: pid, Timeout: time.Second},
		})
		require.True(t, recv.Ok())
		msg := recv.Data.(ipc.QueueMessage)
		data, err := h.Memory.ReadBytes(msg.DataAddress, msg.DataLength)
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	}
}

// Scenario 6: preempted yield.
func TestPreemptedYield(t *testing.T) {
	h := newHost(t)
	h.Scheduler.SetQuantum(10 * time.Millisecond)

	pidA := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindProcessCreateWithCommand,
		Payload: syscallcore.ProcessCreateWithCommandPayload{Name: "a", Priority: 1, Command: process.CommandConfig{Command: "echo", Args: []string{"a"}}},
	}).Data.(uint32)
	pidB := h.Execute(0, syscallcore.Syscall{
		Kind:    syscallcore.KindProcessCreateWithCommand,
		Payload: syscallcore.ProcessCreateWithCommandPayload{Name: "b", Priority: 1, Command: process.CommandConfig{Command: "echo", Args: []string{"b"}}},
	}).Data.(uint32)

	h.Scheduler.Enqueue(pidA, 1)
	h.Scheduler.Enqueue(pidB, 1)

	first, _, ok := h.Preempt.Tick()
	require.True(t, ok)
	assert.Equal(t, pidA, first)

	time.Sleep(15 * time.Millisecond)

	second, switched, ok := h.Preempt.Tick()
	require.True(t, ok)
	assert.True(t, switched)
	assert.Equal(t, pidB, second)
}
