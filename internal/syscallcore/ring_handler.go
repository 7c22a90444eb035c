package syscallcore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/microkernel/internal/ring"
)

// RingHandler claims every file and network I/O kind, submitting each
// call to the completion ring and blocking on WaitCompletion so that a
// synchronous Execute call still observes the ring's metadata-vs-I/O
// split transparently (spec §4.F: callers don't choose sync or async,
// the ring does). Also owns a small fd-alias table for dup/dup2/fcntl,
// since the ring's FileSystem contract (spec §4.F) only names
// open/read/write/close/fsync/lseek/send/recv/accept/connect.
type RingHandler struct {
	ring    *ring.Ring
	timeout time.Duration

	mu      sync.Mutex
	aliases map[ring.Handle]ring.Handle
	flags   map[ring.Handle]int
	nextFD  atomic.Uint64
}

// NewRingHandler wraps an already-started ring.Ring.
func NewRingHandler(r *ring.Ring, timeout time.Duration) *RingHandler {
	if timeout <= 0 {
		timeout = ring.DefaultTimeout
	}
	return &RingHandler{
		ring:    r,
		timeout: timeout,
		aliases: make(map[ring.Handle]ring.Handle),
		flags:   make(map[ring.Handle]int),
	}
}

func (h *RingHandler) resolve(handle ring.Handle) ring.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if real, ok := h.aliases[handle]; ok {
		return real
	}
	return handle
}

func (h *RingHandler) submitWait(pid uint32, op ring.Op, args ring.Args) (ring.Completion, error) {
	seq, err := h.ring.Submit(pid, op, 0, args)
	if err != nil {
		return ring.Completion{}, err
	}
	return h.ring.WaitCompletion(seq, h.timeout)
}

// OpenPayload is KindOpen's payload.
type OpenPayload struct {
	Path  string
	Flags int
	Mode  uint32
}

// HandlePayload carries a bare ring.Handle; used by KindClose, KindFsync.
type HandlePayload struct {
	Handle ring.Handle
}

// ReadPayload is KindRead's payload.
type ReadPayload struct {
	Handle ring.Handle
	Length int
}

// WritePayload is KindWrite's payload.
type WritePayload struct {
	Handle ring.Handle
	Data   []byte
}

// LseekPayload is KindLseek's payload.
type LseekPayload struct {
	Handle ring.Handle
	Offset int64
	Whence int
}

// NetConnectPayload is KindNetConnect's payload.
type NetConnectPayload struct {
	Network string
	Address string
}

// NetSendPayload is KindNetSend's payload.
type NetSendPayload struct {
	Handle ring.Handle
	Data   []byte
}

// NetRecvPayload is KindNetRecv's payload.
type NetRecvPayload struct {
	Handle ring.Handle
	Length int
}

// DupPayload is KindDup's payload.
type DupPayload struct {
	Handle ring.Handle
}

// Dup2Payload is KindDup2's payload.
type Dup2Payload struct {
	Handle    ring.Handle
	NewHandle ring.Handle
}

// FcntlPayload is KindFcntl's payload. Cmd is "F_GETFL" or "F_SETFL".
type FcntlPayload struct {
	Handle ring.Handle
	Cmd    string
	Arg    int
}

func (h *RingHandler) Handle(pid uint32, sc Syscall) (SyscallResult, bool) {
	switch sc.Kind {
	case KindOpen:
		p := sc.Payload.(OpenPayload)
		c, err := h.submitWait(pid, ring.OpOpen, ring.Args{Path: p.Path, Flags: p.Flags, Mode: p.Mode})
		return resultFromHandle(c, err), true

	case KindClose:
		p := sc.Payload.(HandlePayload)
		real := h.resolve(p.Handle)
		c, err := h.submitWait(pid, ring.OpClose, ring.Args{Handle: real})
		return resultFromErr(c.Err, err), true

	case KindRead:
		p := sc.Payload.(ReadPayload)
		real := h.resolve(p.Handle)
		c, err := h.submitWait(pid, ring.OpRead, ring.Args{Handle: real, Length: p.Length})
		return resultFromData(c, err), true

	case KindWrite:
		p := sc.Payload.(WritePayload)
		real := h.resolve(p.Handle)
		c, err := h.submitWait(pid, ring.OpWrite, ring.Args{Handle: real, Data: p.Data})
		return resultFromN(c, err), true

	case KindFsync:
		p := sc.Payload.(HandlePayload)
		real := h.resolve(p.Handle)
		c, err := h.submitWait(pid, ring.OpFsync, ring.Args{Handle: real})
		return resultFromErr(c.Err, err), true

	case KindLseek:
		p := sc.Payload.(LseekPayload)
		real := h.resolve(p.Handle)
		c, err := h.submitWait(pid, ring.OpLseek, ring.Args{Handle: real, Offset: p.Offset, Whence: p.Whence})
		if err != nil {
			return Failure(err.Error()), true
		}
		if c.Err != nil {
			return Failure(c.Err.Error()), true
		}
		return Success(c.Offset), true

	case KindNetConnect:
		p := sc.Payload.(NetConnectPayload)
		c, err := h.submitWait(pid, ring.OpConnect, ring.Args{Network: p.Network, Address: p.Address})
		return resultFromHandle(c, err), true

	case KindNetAccept:
		p := sc.Payload.(HandlePayload)
		real := h.resolve(p.Handle)
		c, err := h.submitWait(pid, ring.OpAccept, ring.Args{Handle: real})
		return resultFromHandle(c, err), true

	case KindNetSend:
		p := sc.Payload.(NetSendPayload)
		real := h.resolve(p.Handle)
		c, err := h.submitWait(pid, ring.OpSend, ring.Args{Handle: real, Data: p.Data})
		return resultFromN(c, err), true

	case KindNetRecv:
		p := sc.Payload.(NetRecvPayload)
		real := h.resolve(p.Handle)
		c, err := h.submitWait(pid, ring.OpRecv, ring.Args{Handle: real, Length: p.Length})
		return resultFromData(c, err), true

	case KindRingSubmit:
		p := sc.Payload.(Submission)
		seq, err := h.ring.Submit(pid, p.Op, p.UserData, p.Args)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(seq), true

	case KindRingWaitCompletion:
		p := sc.Payload.(WaitPayload)
		c, err := h.ring.WaitCompletion(p.Seq, p.Timeout)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(c), true

	case KindDup:
		p := sc.Payload.(DupPayload)
		real := h.resolve(p.Handle)
		alias := ring.Handle(h.nextFD.Add(1))
		h.mu.Lock()
		h.aliases[alias] = real
		h.mu.Unlock()
		return Success(alias), true

	case KindDup2:
		p := sc.Payload.(Dup2Payload)
		real := h.resolve(p.Handle)
		h.mu.Lock()
		h.aliases[p.NewHandle] = real
		h.mu.Unlock()
		return Success(p.NewHandle), true

	case KindFcntl:
		p := sc.Payload.(FcntlPayload)
		real := h.resolve(p.Handle)
		h.mu.Lock()
		defer h.mu.Unlock()
		switch p.Cmd {
		case "F_SETFL":
			h.flags[real] = p.Arg
			return Success(p.Arg), true
		default: // F_GETFL
			return Success(h.flags[real]), true
		}

	default:
		return SyscallResult{}, false
	}
}

// Submission mirrors ring.Submission's caller-facing fields for a raw
// KindRingSubmit call (Seq is assigned by the ring, not the caller).
type Submission struct {
	Op       ring.Op
	UserData uint64
	Args     ring.Args
}

// WaitPayload is KindRingWaitCompletion's payload.
type WaitPayload struct {
	Seq     uint64
	Timeout time.Duration
}

func resultFromHandle(c ring.Completion, err error) SyscallResult {
	if err != nil {
		return Failure(err.Error())
	}
	if c.Err != nil {
		return Failure(c.Err.Error())
	}
	return Success(c.Handle)
}

func resultFromData(c ring.Completion, err error) SyscallResult {
	if err != nil {
		return Failure(err.Error())
	}
	if c.Err != nil {
		return Failure(c.Err.Error())
	}
	return Success(c.Data)
}

func resultFromN(c ring.Completion, err error) SyscallResult {
	if err != nil {
		return Failure(err.Error())
	}
	if c.Err != nil {
		return Failure(c.Err.Error())
	}
	return Success(c.N)
}

func resultFromErr(cErr, submitErr error) SyscallResult {
	if submitErr != nil {
		return Failure(submitErr.Error())
	}
	if cErr != nil {
		return Failure(cErr.Error())
	}
	return Success(nil)
}
