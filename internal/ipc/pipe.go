package ipc

import (
	"io"
	"sync"

	"github.com/ehrlich-b/microkernel/internal/guard"
	"github.com/ehrlich-b/microkernel/internal/memmgr"
	"github.com/ehrlich-b/microkernel/kernelerr"
)

// Pipe is a half-duplex, unidirectional byte channel whose circular buffer
// lives in memory-manager-allocated bytes.
type Pipe struct {
	ID         uint64
	ReaderPid  uint32
	WriterPid  uint32
	Capacity   uint64
	baseAddr   uint64
	mem        *memmgr.Manager

	mu            sync.Mutex
	readOffset    uint64
	writeOffset   uint64
	bufferedBytes uint64
	readerClosed  bool
	writerClosed  bool
}

// CreatePipe allocates a new pipe of the given capacity between a reader
// and writer pid.
func (m *Manager) CreatePipe(readerPid, writerPid uint32, capacity uint64) (*Pipe, error) {
	if capacity == 0 {
		capacity = 64 * 1024
	}
	base, err := m.mem.Allocate(capacity, writerPid)
	if err != nil {
		return nil, kernelerr.Wrap("ipc", "CreatePipe", err)
	}
	p := &Pipe{
		ID:        m.newID(),
		ReaderPid: readerPid,
		WriterPid: writerPid,
		Capacity:  capacity,
		baseAddr:  base,
		mem:       m.mem,
	}
	m.pipes.Set(idKey(p.ID), p)
	return p, nil
}

// Pipe looks up a pipe by id.
func (m *Manager) Pipe(id uint64) (*Pipe, error) {
	p, ok := m.pipes.Get(idKey(id))
	if !ok {
		return nil, notFound("Pipe", "no such pipe")
	}
	return p, nil
}

// DestroyPipe frees the pipe's backing memory and removes it from the
// manager.
func (m *Manager) DestroyPipe(id uint64) error {
	p, ok := m.pipes.Get(idKey(id))
	if !ok {
		return notFound("DestroyPipe", "no such pipe")
	}
	m.pipes.Delete(idKey(id))
	g := guard.NewIPCGuard(p.ID, "pipe", func(uint64) error { return m.mem.Deallocate(p.baseAddr) })
	return g.Release()
}

// Write appends up to len(data) bytes, wrapping at the buffer boundary.
// It writes as much as fits and returns that count — a pipe near full
// returns a partial count rather than WouldBlock; WouldBlock is reserved
// for a buffer that is completely full (see SPEC_FULL §14).
func (p *Pipe) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readerClosed {
		return 0, closedErr("Write", "pipe reader end is closed")
	}
	available := p.Capacity - p.bufferedBytes
	if available == 0 {
		return 0, wouldBlock("Write", "pipe buffer is full")
	}

	n := uint64(len(data))
	if n > available {
		n = available
	}
	if n == 0 {
		return 0, nil
	}

	firstChunk := p.Capacity - p.writeOffset
	if firstChunk > n {
		firstChunk = n
	}
	if err := p.mem.WriteBytes(p.baseAddr+p.writeOffset, data[:firstChunk]); err != nil {
		return 0, kernelerr.Wrap("ipc", "Write", err)
	}
	if remainder := n - firstChunk; remainder > 0 {
		if err := p.mem.WriteBytes(p.baseAddr, data[firstChunk:n]); err != nil {
			return int(firstChunk), kernelerr.Wrap("ipc", "Write", err)
		}
	}

	p.writeOffset = (p.writeOffset + n) % p.Capacity
	p.bufferedBytes += n
	return int(n), nil
}

// Read drains up to n bytes. It returns io.EOF (with a zero-length
// result) once the buffer is empty and the writer end is closed; it
// returns WouldBlock when empty but the writer is still open.
func (p *Pipe) Read(n uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bufferedBytes == 0 {
		if p.writerClosed {
			return nil, io.EOF
		}
		return nil, wouldBlock("Read", "pipe buffer is empty")
	}

	if n > p.bufferedBytes {
		n = p.bufferedBytes
	}

	out := make([]byte, n)
	firstChunk := p.Capacity - p.readOffset
	if firstChunk > n {
		firstChunk = n
	}
	chunk, err := p.mem.ReadBytes(p.baseAddr+p.readOffset, firstChunk)
	if err != nil {
		return nil, kernelerr.Wrap("ipc", "Read", err)
	}
	copy(out, chunk)
	if remainder := n - firstChunk; remainder > 0 {
		chunk2, err := p.mem.ReadBytes(p.baseAddr, remainder)
		if err != nil {
			return nil, kernelerr.Wrap("ipc", "Read", err)
		}
		copy(out[firstChunk:], chunk2)
	}

	p.readOffset = (p.readOffset + n) % p.Capacity
	p.bufferedBytes -= n
	return out, nil
}

// CloseWriter marks the writer end closed; a reader draining remaining
// bytes will subsequently observe io.EOF.
func (p *Pipe) CloseWriter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writerClosed = true
}

// CloseReader marks the reader end closed; further writes fail Closed.
func (p *Pipe) CloseReader() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readerClosed = true
}

// PipeStats is a point-in-time snapshot of a pipe's buffer state.
type PipeStats struct {
	BufferedBytes uint64
	Capacity      uint64
	ReaderClosed  bool
	WriterClosed  bool
}

// Stats returns a snapshot of the pipe's buffer state.
func (p *Pipe) Stats() PipeStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PipeStats{
		BufferedBytes: p.bufferedBytes,
		Capacity:      p.Capacity,
		ReaderClosed:  p.readerClosed,
		WriterClosed:  p.writerClosed,
	}
}
