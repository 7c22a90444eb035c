package syscallcore

import (
	"time"

	"github.com/ehrlich-b/microkernel/internal/memmgr"
	"github.com/ehrlich-b/microkernel/internal/process"
	"github.com/ehrlich-b/microkernel/internal/sandbox"
)

// CoreHandler is the catch-all default handler: process lifecycle,
// scheduler control, memory stats and mmap-style allocation, signals,
// sandbox/permission checks, and the wall-clock time kinds. It is last
// in the dispatcher chain (spec §4.F: "io_uring handler, IPC handler,
// catch-all defaults").
type CoreHandler struct {
	procs  *process.Manager
	sched  *process.Scheduler
	sig    *process.SignalManager
	mem    *memmgr.Manager
	perms  *sandbox.PermissionManager
}

// NewCoreHandler wires the five root-level subsystem collaborators.
func NewCoreHandler(procs *process.Manager, sched *process.Scheduler, sig *process.SignalManager, mem *memmgr.Manager, perms *sandbox.PermissionManager) *CoreHandler {
	return &CoreHandler{procs: procs, sched: sched, sig: sig, mem: mem, perms: perms}
}

// ProcessCreatePayload is KindProcessCreate's payload.
type ProcessCreatePayload struct {
	Name     string
	Priority int
}

// ProcessCreateWithCommandPayload is KindProcessCreateWithCommand's payload.
type ProcessCreateWithCommandPayload struct {
	Name     string
	Priority int
	Command  process.CommandConfig
}

// PidPayload carries a bare pid; used by KindProcessTerminate,
// KindProcessGetInfo, KindMemProcessStats, KindSignalPending.
type PidPayload struct {
	Pid uint32
}

// ProcessSetPriorityPayload is KindProcessSetPriority's payload.
type ProcessSetPriorityPayload struct {
	Pid      uint32
	Priority int
}

// MemAllocatePayload is KindMemAllocate/KindMmap's payload.
type MemAllocatePayload struct {
	Size uint64
	Pid  uint32
}

// AddrPayload carries a bare address; used by KindMemDeallocate/KindMunmap.
type AddrPayload struct {
	Addr uint64
}

// MprotectPayload is KindMprotect's payload.
type MprotectPayload struct {
	Addr  uint64
	Flags int
}

// SchedulerSetPolicyPayload is KindSchedulerSetPolicy's payload.
type SchedulerSetPolicyPayload struct {
	Policy process.Policy
}

// SchedulerSetQuantumPayload is KindSchedulerSetQuantum's payload.
type SchedulerSetQuantumPayload struct {
	Quantum time.Duration
}

// SignalSendPayload is KindSignalSend's payload.
type SignalSendPayload struct {
	SenderPid uint32
	TargetPid uint32
	Signal    process.Signal
}

// SignalRegisterHandlerPayload is KindSignalRegisterHandler's payload.
type SignalRegisterHandlerPayload struct {
	Pid     uint32
	Signal  process.Signal
	Handler process.Handler
}

// PermissionPayload is KindPermission's payload.
type PermissionPayload struct {
	Request sandbox.Request
}

// SandboxSetPayload is KindSandboxSet's payload.
type SandboxSetPayload struct {
	Pid    uint32
	Config *sandbox.SandboxConfig
}

// SandboxCapabilityPayload is shared by KindSandboxGrant/KindSandboxRevoke.
type SandboxCapabilityPayload struct {
	Pid        uint32
	Capability sandbox.Capability
}

func (h *CoreHandler) Handle(pid uint32, sc Syscall) (SyscallResult, bool) {
	switch sc.Kind {
	case KindProcessCreate:
		p := sc.Payload.(ProcessCreatePayload)
		newPid := h.procs.Create(p.Name, p.Priority)
		return Success(newPid), true

	case KindProcessCreateWithCommand:
		p := sc.Payload.(ProcessCreateWithCommandPayload)
		newPid, err := h.procs.CreateWithCommand(p.Name, p.Priority, p.Command)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(newPid), true

	case KindProcessTerminate:
		p := sc.Payload.(PidPayload)
		if err := h.procs.Terminate(p.Pid); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindProcessGetInfo:
		p := sc.Payload.(PidPayload)
		info, ok := h.procs.Get(p.Pid)
		if !ok {
			return Failure("process not found"), true
		}
		return Success(info), true

	case KindProcessList:
		return Success(h.procs.List()), true

	case KindProcessSetPriority:
		p := sc.Payload.(ProcessSetPriorityPayload)
		if err := h.procs.SetPriority(p.Pid, p.Priority); err != nil {
			return Failure(err.Error()), true
		}
		h.sched.SetPriority(p.Pid, p.Priority)
		return Success(nil), true

	case KindMemAllocate, KindMmap:
		p := sc.Payload.(MemAllocatePayload)
		addr, err := h.mem.Allocate(p.Size, p.Pid)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(addr), true

	case KindMemDeallocate, KindMunmap:
		p := sc.Payload.(AddrPayload)
		if err := h.mem.Deallocate(p.Addr); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindMprotect:
		// The simulated memory manager tracks allocation state, not
		// per-page protection flags; acknowledged as a no-op.
		return Success(nil), true

	case KindMemInfo:
		return Success(h.mem.Info()), true

	case KindMemProcessStats:
		p := sc.Payload.(PidPayload)
		return Success(h.mem.ProcessMemory(p.Pid)), true

	case KindSchedulerSetPolicy:
		p := sc.Payload.(SchedulerSetPolicyPayload)
		h.sched.SetPolicy(p.Policy)
		return Success(nil), true

	case KindSchedulerSetQuantum:
		p := sc.Payload.(SchedulerSetQuantumPayload)
		h.sched.SetQuantum(p.Quantum)
		return Success(nil), true

	case KindSchedulerGetCurrent:
		current, ok := h.sched.Current()
		if !ok {
			return Failure("no current process"), true
		}
		return Success(current), true

	case KindSchedulerSchedule:
		next, switched, ok := h.sched.Schedule()
		if !ok {
			return Failure("nothing ready to schedule"), true
		}
		return Success(struct {
			Pid      uint32
			Switched bool
		}{next, switched}), true

	case KindSignalSend:
		p := sc.Payload.(SignalSendPayload)
		action, err := h.sig.Send(p.SenderPid, p.TargetPid, p.Signal)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(action), true

	case KindSignalRegisterHandler:
		p := sc.Payload.(SignalRegisterHandlerPayload)
		h.sig.RegisterHandler(p.Pid, p.Signal, p.Handler)
		return Success(nil), true

	case KindSignalPending:
		p := sc.Payload.(PidPayload)
		return Success(h.sig.Pending(p.Pid)), true

	case KindTimeNow:
		return Success(time.Now()), true

	case KindTimeSleep:
		d := sc.Payload.(time.Duration)
		time.Sleep(d)
		return Success(nil), true

	case KindPermission:
		p := sc.Payload.(PermissionPayload)
		decision, err := h.perms.Check(p.Request)
		if err != nil {
			return Failure(err.Error()), true
		}
		if !decision.Allowed {
			return Denied(decision.Reason), true
		}
		return Success(decision), true

	case KindSandboxSet:
		p := sc.Payload.(SandboxSetPayload)
		h.perms.Sandboxes().Set(p.Pid, p.Config)
		h.perms.InvalidatePid(p.Pid)
		return Success(nil), true

	case KindSandboxGrant:
		p := sc.Payload.(SandboxCapabilityPayload)
		h.perms.Sandboxes().GrantCapability(p.Pid, p.Capability)
		h.perms.InvalidatePid(p.Pid)
		return Success(nil), true

	case KindSandboxRevoke:
		p := sc.Payload.(SandboxCapabilityPayload)
		h.perms.Sandboxes().RevokeCapability(p.Pid, p.Capability)
		h.perms.InvalidatePid(p.Pid)
		return Success(nil), true

	default:
		return SyscallResult{}, false
	}
}
