// Package ipc implements the microkernel's inter-process communication
// substrate: pipes backed by the memory manager's byte store, shared
// memory backed by an anonymous mmap (with its budget accounted through
// the memory manager), three queue kinds, and a per-pid zero-copy ring.
//
// Grounded on the teacher's internal/queue package: pool.go's size-bucketed
// buffer pool becomes the zero-copy ring's buffer pool, and runner.go's
// tick-driven completion loop becomes the ring's executor loop. The FIFO
// queue and the zero-copy ring's submission queue are backed by
// code.hybscloud.com/lfq, the same lock-free-queue library the completion
// ring uses for its submission queue; the Priority queue is a mutex-guarded
// heap.
package ipc

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/microkernel/internal/logging"
	"github.com/ehrlich-b/microkernel/internal/memmgr"
	"github.com/ehrlich-b/microkernel/internal/primitives"
	"github.com/ehrlich-b/microkernel/kernelerr"
)

const (
	// DefaultSharedMemoryBudget is the global byte ceiling across every
	// shared memory segment.
	DefaultSharedMemoryBudget = 500 * 1024 * 1024

	// DefaultSegmentsPerProcess caps how many segments a single pid may
	// attach-as-owner.
	DefaultSegmentsPerProcess = 10

	// DefaultQueueByteBudget is the hard global limit on queue metadata
	// plus payload bytes, across every FIFO/Priority/PubSub queue.
	DefaultQueueByteBudget = 100 * 1024 * 1024

	// DefaultFIFOCapacity is the default bounded message count for FIFO
	// and Priority queues.
	DefaultFIFOCapacity = 10000

	// queueMessageOverhead approximates the fixed metadata cost of one
	// QueueMessage for budget accounting purposes.
	queueMessageOverhead = 64
)

// Config parameterizes a Manager.
type Config struct {
	SharedMemoryBudget  uint64
	SegmentsPerProcess  int
	QueueByteBudget     uint64
	FIFOCapacity        int
	Logger              *logging.Logger
}

// DefaultConfig returns the spec §4.C defaults.
func DefaultConfig() Config {
	return Config{
		SharedMemoryBudget: DefaultSharedMemoryBudget,
		SegmentsPerProcess: DefaultSegmentsPerProcess,
		QueueByteBudget:    DefaultQueueByteBudget,
		FIFOCapacity:       DefaultFIFOCapacity,
	}
}

// Manager owns every IPC primitive: pipes, shared memory segments, queues,
// and zero-copy rings. All allocations ultimately go through the shared
// memory manager's byte store.
type Manager struct {
	cfg Config
	mem *memmgr.Manager
	log *logging.Logger

	nextID atomic.Uint64

	pipes *primitives.StripedMap[*Pipe]

	segMu          sync.Mutex
	segments       map[uint64]*SharedMemory
	sharedMemUsed  atomic.Uint64
	segmentsByPid  map[uint32]int

	queues     *primitives.StripedMap[Queue]
	queueBytes atomic.Uint64

	rings *primitives.StripedMap[*ZeroCopyRing]

	waiter primitives.Waiter
}

// New constructs a Manager backed by mem, filling zero-value Config fields
// with defaults.
func New(mem *memmgr.Manager, cfg Config) *Manager {
	if cfg.SharedMemoryBudget == 0 {
		cfg.SharedMemoryBudget = DefaultSharedMemoryBudget
	}
	if cfg.SegmentsPerProcess == 0 {
		cfg.SegmentsPerProcess = DefaultSegmentsPerProcess
	}
	if cfg.QueueByteBudget == 0 {
		cfg.QueueByteBudget = DefaultQueueByteBudget
	}
	if cfg.FIFOCapacity == 0 {
		cfg.FIFOCapacity = DefaultFIFOCapacity
	}
	return &Manager{
		cfg:           cfg,
		mem:           mem,
		log:           cfg.Logger,
		pipes:         primitives.NewStripedMap[*Pipe](0),
		segments:      make(map[uint64]*SharedMemory),
		segmentsByPid: make(map[uint32]int),
		queues:        primitives.NewStripedMap[Queue](0),
		rings:         primitives.NewStripedMap[*ZeroCopyRing](0),
		waiter:        primitives.NewWaiter(primitives.StrategyCondvar, 64),
	}
}

func (m *Manager) newID() uint64 {
	return m.nextID.Add(1)
}

func idKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func (m *Manager) tryReserveQueueBytes(n uint64) bool {
	for {
		cur := m.queueBytes.Load()
		if cur+n > m.cfg.QueueByteBudget {
			return false
		}
		if m.queueBytes.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

func (m *Manager) withinQueueBudget(n uint64) bool {
	return m.queueBytes.Load()+n <= m.cfg.QueueByteBudget
}

func (m *Manager) releaseQueueBytes(n uint64) {
	for {
		cur := m.queueBytes.Load()
		next := cur - n
		if n > cur {
			next = 0
		}
		if m.queueBytes.CompareAndSwap(cur, next) {
			return
		}
	}
}

// notFound builds a kernelerr for a missing IPC object.
func notFound(op, desc string) error {
	return kernelerr.New("ipc", op, kernelerr.CodeNotFound, desc)
}

func wouldBlock(op, desc string) error {
	return kernelerr.New("ipc", op, kernelerr.CodeWouldBlock, desc)
}

func limitExceeded(op, desc string) error {
	return kernelerr.New("ipc", op, kernelerr.CodeLimitExceeded, desc)
}

func invalidOperation(op, desc string) error {
	return kernelerr.New("ipc", op, kernelerr.CodeInvalidOperation, desc)
}

func closedErr(op, desc string) error {
	return kernelerr.New("ipc", op, kernelerr.CodeClosed, desc)
}
