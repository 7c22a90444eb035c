package syscallcore

import (
	"context"
	"time"

	"github.com/ehrlich-b/microkernel/internal/ipc"
)

// IPCHandler claims every pipe, shared-memory, and queue kind, wired
// directly to an ipc.Manager.
type IPCHandler struct {
	ipc *ipc.Manager
}

// NewIPCHandler wraps an ipc.Manager.
func NewIPCHandler(m *ipc.Manager) *IPCHandler {
	return &IPCHandler{ipc: m}
}

// PipeCreatePayload is KindPipeCreate's payload.
type PipeCreatePayload struct {
	ReaderPid uint32
	WriterPid uint32
	Capacity  uint64
}

// PipeIOPayload is shared by KindPipeRead/KindPipeWrite.
type PipeIOPayload struct {
	ID     uint64
	Data   []byte
	Length uint64
}

// ShmCreatePayload is KindShmCreate's payload.
type ShmCreatePayload struct {
	Pid  uint32
	Size uint64
}

// ShmAttachPayload is KindShmAttach's payload.
type ShmAttachPayload struct {
	ID       uint64
	Pid      uint32
	ReadOnly bool
}

// ShmDetachPayload is KindShmDetach's payload.
type ShmDetachPayload struct {
	ID  uint64
	Pid uint32
}

// ShmIOPayload is shared by KindShmRead/KindShmWrite.
type ShmIOPayload struct {
	ID     uint64
	Pid    uint32
	Offset uint64
	Length uint64
	Data   []byte
}

// IDPayload carries a bare resource id; used by KindPipeCloseReader,
// KindPipeCloseWriter, KindShmDestroy, KindQueueDestroy, KindQueueClose.
type IDPayload struct {
	ID uint64
}

// QueueCreatePayload is shared by the three queue-create kinds.
type QueueCreatePayload struct {
	Capacity int
}

// QueueSendPayload is KindQueueSend's payload.
type QueueSendPayload struct {
	ID  uint64
	Msg ipc.QueueMessage
}

// QueueSubPayload is shared by KindQueueSubscribe/KindQueueUnsubscribe.
type QueueSubPayload struct {
	ID  uint64
	Pid uint32
}

// QueuePollPayload is KindQueuePoll's payload.
type QueuePollPayload struct {
	ID      uint64
	Pid     uint32
	Timeout time.Duration
}

func (h *IPCHandler) Handle(pid uint32, sc Syscall) (SyscallResult, bool) {
	switch sc.Kind {
	case KindPipeCreate:
		p := sc.Payload.(PipeCreatePayload)
		pipe, err := h.ipc.CreatePipe(p.ReaderPid, p.WriterPid, p.Capacity)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(pipe), true

	case KindPipeRead:
		p := sc.Payload.(PipeIOPayload)
		pipe, err := h.ipc.Pipe(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		data, err := pipe.Read(p.Length)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(data), true

	case KindPipeWrite:
		p := sc.Payload.(PipeIOPayload)
		pipe, err := h.ipc.Pipe(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		n, err := pipe.Write(p.Data)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(n), true

	case KindPipeCloseReader:
		p := sc.Payload.(IDPayload)
		pipe, err := h.ipc.Pipe(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		pipe.CloseReader()
		return Success(nil), true

	case KindPipeCloseWriter:
		p := sc.Payload.(IDPayload)
		pipe, err := h.ipc.Pipe(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		pipe.CloseWriter()
		return Success(nil), true

	case KindShmCreate:
		p := sc.Payload.(ShmCreatePayload)
		seg, err := h.ipc.CreateSharedMemory(p.Pid, p.Size)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(seg), true

	case KindShmAttach:
		p := sc.Payload.(ShmAttachPayload)
		seg, err := h.ipc.SharedMemory(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		if err := seg.Attach(p.Pid, p.ReadOnly); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindShmDetach:
		p := sc.Payload.(ShmDetachPayload)
		seg, err := h.ipc.SharedMemory(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		seg.Detach(p.Pid)
		return Success(nil), true

	case KindShmRead:
		p := sc.Payload.(ShmIOPayload)
		data, err := h.ipc.ReadSharedMemory(p.ID, p.Pid, p.Offset, p.Length)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(data), true

	case KindShmWrite:
		p := sc.Payload.(ShmIOPayload)
		if err := h.ipc.WriteSharedMemory(p.ID, p.Pid, p.Offset, p.Data); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindShmDestroy:
		p := sc.Payload.(IDPayload)
		if err := h.ipc.DestroySharedMemory(p.ID); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindQueueCreateFIFO:
		p := sc.Payload.(QueueCreatePayload)
		q, err := h.ipc.CreateFIFOQueue(p.Capacity)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(q), true

	case KindQueueCreatePriority:
		p := sc.Payload.(QueueCreatePayload)
		q, err := h.ipc.CreatePriorityQueue(p.Capacity)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(q), true

	case KindQueueCreatePubSub:
		q, err := h.ipc.CreatePubSubQueue()
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(q), true

	case KindQueueSend:
		p := sc.Payload.(QueueSendPayload)
		q, err := h.ipc.Queue(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		if err := q.Send(p.Msg); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindQueueReceive:
		p := sc.Payload.(IDPayload)
		q, err := h.ipc.Queue(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		msg, err := q.Receive()
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(msg), true

	case KindQueueSubscribe:
		p := sc.Payload.(QueueSubPayload)
		q, err := h.ipc.Queue(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		sub, err := q.Subscribe(p.Pid)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(sub), true

	case KindQueueUnsubscribe:
		p := sc.Payload.(QueueSubPayload)
		q, err := h.ipc.Queue(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		if err := q.Unsubscribe(p.Pid); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindQueuePoll:
		p := sc.Payload.(QueuePollPayload)
		q, err := h.ipc.Queue(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		msg, err := q.Poll(context.Background(), p.Pid, p.Timeout)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(msg), true

	case KindQueueClose:
		p := sc.Payload.(IDPayload)
		q, err := h.ipc.Queue(p.ID)
		if err != nil {
			return Failure(err.Error()), true
		}
		if err := q.Close(); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindQueueDestroy:
		p := sc.Payload.(IDPayload)
		if err := h.ipc.DestroyQueue(p.ID); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	default:
		return SyscallResult{}, false
	}
}
