package ipc

import (
	"sync"

	"github.com/ehrlich-b/microkernel/internal/guard"
	"github.com/ehrlich-b/microkernel/kernelerr"
)

// accessMode is what a pid is permitted to do with an attached segment.
type accessMode int

const (
	accessNone accessMode = iota
	accessRead
	accessReadWrite
)

// SharedMemory is a byte-addressable region attachable by multiple pids
// with independent read/write access. Its pages live in an anonymous
// mmap (internal/ipc/sharedmem_mmap_unix.go), not the memory manager's
// per-block byte store: every attached pid reads and writes the same
// backing array, the way a real shared-memory segment is one mapping
// visible to several processes rather than one copy per attachment.
// baseAddr is still minted through the memory manager purely so
// capacity/budget accounting (Allocate/Deallocate, ProcessLimit) stays
// in one place for every kind of allocation.
type SharedMemory struct {
	ID       uint64
	Size     uint64
	OwnerPid uint32
	baseAddr uint64
	buf      []byte

	mu          sync.RWMutex
	attachments map[uint32]accessMode
	destroyed   bool
}

// CreateSharedMemory allocates a new segment of size bytes owned by pid,
// enforcing the global byte budget and the per-process segment cap.
func (m *Manager) CreateSharedMemory(pid uint32, size uint64) (*SharedMemory, error) {
	if size == 0 {
		return nil, invalidOperation("CreateSharedMemory", "size must be > 0")
	}

	m.segMu.Lock()
	if m.segmentsByPid[pid] >= m.cfg.SegmentsPerProcess {
		m.segMu.Unlock()
		return nil, limitExceeded("CreateSharedMemory", "per-process segment count exceeded")
	}
	for {
		used := m.sharedMemUsed.Load()
		if used+size > m.cfg.SharedMemoryBudget {
			m.segMu.Unlock()
			return nil, limitExceeded("CreateSharedMemory", "global shared memory budget exceeded")
		}
		if m.sharedMemUsed.CompareAndSwap(used, used+size) {
			break
		}
	}

	base, err := m.mem.Allocate(size, pid)
	if err != nil {
		m.sharedMemUsed.Add(^(size - 1))
		m.segMu.Unlock()
		return nil, kernelerr.Wrap("ipc", "CreateSharedMemory", err)
	}

	buf, err := mmapAnon(size)
	if err != nil {
		_ = m.mem.Deallocate(base)
		m.sharedMemUsed.Add(^(size - 1))
		m.segMu.Unlock()
		return nil, kernelerr.New("ipc", "CreateSharedMemory", kernelerr.CodeExecutionError, "mmap failed: "+err.Error())
	}

	seg := &SharedMemory{
		ID:          m.newID(),
		Size:        size,
		OwnerPid:    pid,
		baseAddr:    base,
		buf:         buf,
		attachments: map[uint32]accessMode{pid: accessReadWrite},
	}
	m.segments[seg.ID] = seg
	m.segmentsByPid[pid]++
	m.segMu.Unlock()
	return seg, nil
}

// SharedMemory looks up a segment by id.
func (m *Manager) SharedMemory(id uint64) (*SharedMemory, error) {
	m.segMu.Lock()
	seg, ok := m.segments[id]
	m.segMu.Unlock()
	if !ok {
		return nil, notFound("SharedMemory", "no such segment")
	}
	return seg, nil
}

// Attach grants pid access to the segment, read-only or read-write.
func (seg *SharedMemory) Attach(pid uint32, readOnly bool) error {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.destroyed {
		return notFound("Attach", "segment already destroyed")
	}
	mode := accessReadWrite
	if readOnly {
		mode = accessRead
	}
	seg.attachments[pid] = mode
	return nil
}

// Detach revokes pid's access to the segment.
func (seg *SharedMemory) Detach(pid uint32) {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	delete(seg.attachments, pid)
}

func (seg *SharedMemory) accessOf(pid uint32) accessMode {
	seg.mu.RLock()
	defer seg.mu.RUnlock()
	return seg.attachments[pid]
}

// Read returns n bytes at offset, requiring pid to hold at least
// read-only access.
func (seg *SharedMemory) Read(pid uint32, offset, n uint64) ([]byte, error) {
	if seg.accessOf(pid) == accessNone {
		return nil, kernelerr.New("ipc", "Read", kernelerr.CodePermissionDenied, "not attached to segment")
	}
	if offset+n > seg.Size {
		return nil, kernelerr.New("ipc", "Read", kernelerr.CodeInvalidAddress, "read out of bounds")
	}
	seg.mu.RLock()
	defer seg.mu.RUnlock()
	out := make([]byte, n)
	copy(out, seg.buf[offset:offset+n])
	return out, nil
}

// Write stores data at offset, requiring pid to hold read-write access.
func (seg *SharedMemory) Write(pid uint32, offset uint64, data []byte) error {
	if seg.accessOf(pid) != accessReadWrite {
		return kernelerr.New("ipc", "Write", kernelerr.CodePermissionDenied, "not attached with write access")
	}
	if offset+uint64(len(data)) > seg.Size {
		return kernelerr.New("ipc", "Write", kernelerr.CodeInvalidAddress, "write out of bounds")
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	copy(seg.buf[offset:], data)
	return nil
}

// ReadSharedMemory reads through the named segment's mmap-backed pages.
func (m *Manager) ReadSharedMemory(id uint64, pid uint32, offset, n uint64) ([]byte, error) {
	seg, err := m.SharedMemory(id)
	if err != nil {
		return nil, err
	}
	return seg.Read(pid, offset, n)
}

// WriteSharedMemory writes through the named segment's mmap-backed pages.
func (m *Manager) WriteSharedMemory(id uint64, pid uint32, offset uint64, data []byte) error {
	seg, err := m.SharedMemory(id)
	if err != nil {
		return err
	}
	return seg.Write(pid, offset, data)
}

// DestroySharedMemory unmaps the segment's pages and releases its
// budget accounting, through a guard.CompositeGuard (spec §3) of two
// IPC guards so both the mmap and the memory-manager bookkeeping are
// released exactly once, in the order acquired.
func (m *Manager) DestroySharedMemory(id uint64) error {
	m.segMu.Lock()
	seg, ok := m.segments[id]
	if !ok {
		m.segMu.Unlock()
		return notFound("DestroySharedMemory", "no such segment")
	}
	delete(m.segments, id)
	m.segmentsByPid[seg.OwnerPid]--
	m.segMu.Unlock()

	seg.mu.Lock()
	seg.destroyed = true
	buf := seg.buf
	seg.buf = nil
	seg.mu.Unlock()

	m.sharedMemUsed.Add(^(seg.Size - 1))

	composite := guard.NewComposite()
	composite.Add(guard.NewIPCGuard(seg.ID, "shm_pages", func(uint64) error { return munmapAnon(buf) }))
	composite.Add(guard.NewIPCGuard(seg.ID, "shm_accounting", func(uint64) error { return m.mem.Deallocate(seg.baseAddr) }))
	return composite.Release()
}

// SharedMemoryStats reports aggregate shared-memory usage.
type SharedMemoryStats struct {
	SegmentCount int
	BytesUsed    uint64
	Budget       uint64
}

// SharedMemoryStats returns a snapshot of global shared-memory usage.
func (m *Manager) SharedMemoryStats() SharedMemoryStats {
	m.segMu.Lock()
	count := len(m.segments)
	m.segMu.Unlock()
	return SharedMemoryStats{
		SegmentCount: count,
		BytesUsed:    m.sharedMemUsed.Load(),
		Budget:       m.cfg.SharedMemoryBudget,
	}
}
