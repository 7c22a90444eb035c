// Package memmgr implements the microkernel's simulated physical memory:
// a segregated free list allocator with best-fit-within-class placement,
// a byte store standing in for physical pages, and per-process tracking.
//
// Grounded on the teacher's backend/mem.go: a fixed-size buffer protected
// by sharded locks, sized so parallel I/O doesn't serialize on one mutex.
// The free list itself (small/medium/large tiers) has no teacher
// analogue and is built in the same plain-struct, no-exotic-library idiom.
package memmgr

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/microkernel/internal/guard"
	"github.com/ehrlich-b/microkernel/internal/logging"
	"github.com/ehrlich-b/microkernel/internal/primitives"
	"github.com/ehrlich-b/microkernel/kernelerr"
)

const (
	// DefaultTotalBytes is the simulated total physical memory budget.
	DefaultTotalBytes = 1 << 30 // 1 GiB

	smallMin   = 64
	smallMax   = 4 * 1024
	mediumMax  = 64 * 1024
	smallBuckets  = 12
	mediumBuckets = 15
	mediumStride  = 4 * 1024

	// DefaultGCThreshold is the number of deallocations between GC sweeps.
	DefaultGCThreshold = 1000

	// splitSlack is the minimum leftover before a popped block is split
	// instead of handed out whole.
	splitSlack = 32
)

// Block mirrors spec §3's MemoryBlock: address, size, allocation state,
// and owning pid.
type Block struct {
	Address   uint64
	Size      uint64
	Allocated bool
	Owner     uint32
}

// ProcessStats tracks current/peak byte usage and allocation count for a
// single pid.
type ProcessStats struct {
	Current uint64
	Peak    uint64
	Allocs  uint64
}

// Info is the point-in-time total/used/available snapshot.
type Info struct {
	Total     uint64
	Used      uint64
	Available uint64
}

// Config parameterizes a Manager.
type Config struct {
	TotalBytes  uint64
	GCThreshold uint64
	ProcessLimit uint64 // 0 disables the per-process advisory limit
	Logger      *logging.Logger
}

// DefaultConfig returns sane defaults matching spec §4.B.
func DefaultConfig() Config {
	return Config{
		TotalBytes:  DefaultTotalBytes,
		GCThreshold: DefaultGCThreshold,
	}
}

// Manager is the segregated-free-list memory allocator.
type Manager struct {
	cfg Config
	log *logging.Logger

	totalBytes  uint64
	used        atomic.Uint64
	nextAddress atomic.Uint64

	// freeMu covers all size-class buckets with a single critical
	// section, per spec §5: "a single mutex covering all size classes;
	// critical sections are O(1) for small/medium and O(log n) for large."
	freeMu     sync.Mutex
	smallFree  [smallBuckets][]uint64
	mediumFree [mediumBuckets][]uint64
	largeFree  map[uint64][]uint64 // size -> addresses
	largeSizes []uint64            // sorted unique sizes present in largeFree

	blocks *primitives.StripedMap[*Block] // addr (hex string) -> Block

	bytesMu sync.RWMutex
	bytes   map[uint64][]byte // block base address -> backing buffer

	perPid *primitives.StripedMap[*ProcessStats]

	deallocCount atomic.Uint64
}

// New constructs a Manager from the given config, filling in defaults
// for zero fields.
func New(cfg Config) *Manager {
	if cfg.TotalBytes == 0 {
		cfg.TotalBytes = DefaultTotalBytes
	}
	if cfg.GCThreshold == 0 {
		cfg.GCThreshold = DefaultGCThreshold
	}
	m := &Manager{
		cfg:        cfg,
		log:        cfg.Logger,
		totalBytes: cfg.TotalBytes,
		largeFree:  make(map[uint64][]uint64),
		blocks:     primitives.NewStripedMap[*Block](0),
		bytes:      make(map[uint64][]byte),
		perPid:     primitives.NewStripedMap[*ProcessStats](0),
	}
	return m
}

func addrKey(addr uint64) string {
	return strconv.FormatUint(addr, 16)
}

// roundUp64 raises a size below smallMin to smallMin; larger sizes are
// returned unchanged.
func roundUp64(size uint64) uint64 {
	if size < smallMin {
		return smallMin
	}
	return size
}

// smallBucketIndex returns the smallest power-of-two bucket (base 64,
// doubling) that can hold size, clamped to the bucket count.
func smallBucketIndex(size uint64) int {
	size = roundUp64(size)
	bucketSize := uint64(smallMin)
	for i := 0; i < smallBuckets; i++ {
		if bucketSize >= size {
			return i
		}
		bucketSize <<= 1
	}
	return smallBuckets - 1
}

func smallBucketSize(i int) uint64 {
	return uint64(smallMin) << uint(i)
}

// mediumBucketIndex returns ceil((size-smallMax)/mediumStride), clamped.
func mediumBucketIndex(size uint64) int {
	if size <= smallMax {
		return 0
	}
	idx := int((size - smallMax + mediumStride - 1) / mediumStride)
	if idx >= mediumBuckets {
		idx = mediumBuckets - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func mediumBucketSize(i int) uint64 {
	return smallMax + uint64(i+1)*mediumStride
}

func tierFor(size uint64) int {
	switch {
	case size < smallMax:
		return 0
	case size <= mediumMax:
		return 1
	default:
		return 2
	}
}

// Allocate reserves size bytes for pid, returning the base address of
// the new block.
func (m *Manager) Allocate(size uint64, pid uint32) (uint64, error) {
	if size == 0 {
		size = 1
	}
	size = roundUp64(size)

	if limit := m.cfg.ProcessLimit; limit > 0 {
		if stats := m.processStats(pid); stats.Current+size > limit {
			return 0, &kernelerr.ProcessLimitExceeded{Requested: size, Limit: limit, Current: stats.Current}
		}
	}

	addr, blockSize, ok := m.popFreeBlock(size)
	if !ok {
		var err error
		addr, blockSize, err = m.bumpAllocate(size)
		if err != nil {
			return 0, err
		}
	}

	block := &Block{Address: addr, Size: blockSize, Allocated: true, Owner: pid}
	m.blocks.Set(addrKey(addr), block)
	m.used.Add(blockSize)
	m.trackAlloc(pid, blockSize)

	if m.log != nil {
		m.log.Debug("allocated block", "addr", fmt.Sprintf("0x%x", addr), "size", blockSize, "pid", pid)
	}
	return addr, nil
}

// AllocateGuard is Allocate wrapped in a guard.MemoryGuard so the caller
// can defer g.Release() and have the block freed on every exit path,
// including ones that never reach the intended use of the memory.
func (m *Manager) AllocateGuard(size uint64, pid uint32) (*guard.MemoryGuard, error) {
	addr, err := m.Allocate(size, pid)
	if err != nil {
		return nil, err
	}
	block := m.findBlockContaining(addr)
	actual := size
	if block != nil {
		actual = block.Size
	}
	return guard.NewMemoryGuard(addr, actual, pid, m.Deallocate), nil
}

// popFreeBlock looks for a free block that fits size, splitting it if the
// leftover is worth keeping. Returns ok=false if no free block fits.
func (m *Manager) popFreeBlock(size uint64) (addr uint64, blockSize uint64, ok bool) {
	m.freeMu.Lock()
	defer m.freeMu.Unlock()

	tier := tierFor(size)
	switch tier {
	case 0:
		if a, bs, found := m.popSmall(size); found {
			return a, bs, true
		}
		if a, bs, found := m.popMedium(size); found {
			return a, bs, true
		}
		return m.popLarge(size)
	case 1:
		if a, bs, found := m.popMedium(size); found {
			return a, bs, true
		}
		return m.popLarge(size)
	default:
		return m.popLarge(size)
	}
}

func (m *Manager) popSmall(size uint64) (uint64, uint64, bool) {
	start := smallBucketIndex(size)
	for i := start; i < smallBuckets; i++ {
		if len(m.smallFree[i]) == 0 {
			continue
		}
		addr := m.popStack(&m.smallFree[i])
		bucketSize := smallBucketSize(i)
		return m.maybeSplit(addr, bucketSize, size, m.insertSmall)
	}
	return 0, 0, false
}

func (m *Manager) popMedium(size uint64) (uint64, uint64, bool) {
	start := mediumBucketIndex(size)
	for i := start; i < mediumBuckets; i++ {
		if len(m.mediumFree[i]) == 0 {
			continue
		}
		addr := m.popStack(&m.mediumFree[i])
		bucketSize := mediumBucketSize(i)
		return m.maybeSplit(addr, bucketSize, size, m.insertMedium)
	}
	return 0, 0, false
}

func (m *Manager) popLarge(size uint64) (uint64, uint64, bool) {
	idx := sort.Search(len(m.largeSizes), func(i int) bool { return m.largeSizes[i] >= size })
	if idx >= len(m.largeSizes) {
		return 0, 0, false
	}
	bucketSize := m.largeSizes[idx]
	addrs := m.largeFree[bucketSize]
	addr := addrs[len(addrs)-1]
	addrs = addrs[:len(addrs)-1]
	if len(addrs) == 0 {
		delete(m.largeFree, bucketSize)
		m.largeSizes = append(m.largeSizes[:idx], m.largeSizes[idx+1:]...)
	} else {
		m.largeFree[bucketSize] = addrs
	}
	return m.maybeSplit(addr, bucketSize, size, m.insertFree)
}

func (m *Manager) popStack(stack *[]uint64) uint64 {
	s := *stack
	addr := s[len(s)-1]
	*stack = s[:len(s)-1]
	return addr
}

// maybeSplit returns (addr, size, true) directly if splitting isn't
// worthwhile, otherwise shrinks the block to exactly `want` and reinserts
// the remainder as a new free block via insert.
func (m *Manager) maybeSplit(addr, have, want uint64, insert func(addr, size uint64)) (uint64, uint64, bool) {
	if have < want+splitSlack {
		return addr, have, true
	}
	remainderAddr := addr + want
	remainderSize := have - want
	insert(remainderAddr, remainderSize)
	return addr, want, true
}

func (m *Manager) insertFree(addr, size uint64) {
	switch tierFor(size) {
	case 0:
		m.insertSmall(addr, size)
	case 1:
		m.insertMedium(addr, size)
	default:
		m.insertLarge(addr, size)
	}
}

func (m *Manager) insertSmall(addr, size uint64) {
	i := smallBucketIndex(size)
	m.smallFree[i] = append(m.smallFree[i], addr)
}

func (m *Manager) insertMedium(addr, size uint64) {
	i := mediumBucketIndex(size)
	m.mediumFree[i] = append(m.mediumFree[i], addr)
}

func (m *Manager) insertLarge(addr, size uint64) {
	if _, ok := m.largeFree[size]; !ok {
		idx := sort.Search(len(m.largeSizes), func(i int) bool { return m.largeSizes[i] >= size })
		m.largeSizes = append(m.largeSizes, 0)
		copy(m.largeSizes[idx+1:], m.largeSizes[idx:])
		m.largeSizes[idx] = size
	}
	m.largeFree[size] = append(m.largeFree[size], addr)
}

func (m *Manager) bumpAllocate(size uint64) (uint64, uint64, error) {
	used := m.used.Load()
	if used+size > m.totalBytes {
		return 0, 0, &kernelerr.OutOfMemory{
			Requested: size,
			Available: m.totalBytes - used,
			Used:      used,
			Total:     m.totalBytes,
		}
	}
	addr := m.nextAddress.Add(size) - size
	return addr, size, nil
}

// Deallocate frees the block at addr.
func (m *Manager) Deallocate(addr uint64) error {
	key := addrKey(addr)
	block, ok := m.blocks.Get(key)
	if !ok || !block.Allocated {
		return &kernelerr.InvalidAddress{Addr: addr}
	}

	block.Allocated = false
	m.used.Add(^(block.Size - 1)) // subtract block.Size via two's complement
	m.trackFree(block.Owner, block.Size)

	m.freeMu.Lock()
	m.insertFree(block.Address, block.Size)
	m.freeMu.Unlock()

	if m.deallocCount.Add(1) >= m.cfg.GCThreshold {
		m.deallocCount.Store(0)
		m.gc()
	}

	if m.log != nil {
		m.log.Debug("deallocated block", "addr", fmt.Sprintf("0x%x", addr), "size", block.Size)
	}
	return nil
}

// gc coalesces adjacent free blocks and drops tombstone metadata for
// fully-freed regions. Linear over the block index, acceptable per spec
// §4.B (this is the simulated-physical tier, not a hot path).
func (m *Manager) gc() {
	type entry struct {
		addr uint64
		size uint64
		free bool
	}
	var all []entry
	m.blocks.Range(func(_ string, b *Block) bool {
		all = append(all, entry{b.Address, b.Size, !b.Allocated})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].addr < all[j].addr })

	m.freeMu.Lock()
	defer m.freeMu.Unlock()

	for i := 0; i+1 < len(all); i++ {
		if !all[i].free {
			continue
		}
		j := i + 1
		mergedSize := all[i].size
		for j < len(all) && all[j].free && all[i].addr+mergedSize == all[j].addr {
			mergedSize += all[j].size
			j++
		}
		if j == i+1 {
			continue
		}
		// Remove the tombstones for all[i+1:j] and fold their size into all[i].
		for k := i + 1; k < j; k++ {
			m.blocks.Delete(addrKey(all[k].addr))
		}
		m.blocks.Set(addrKey(all[i].addr), &Block{Address: all[i].addr, Size: mergedSize, Allocated: false})
		all[i].size = mergedSize
	}

	// Rebuild free-list buckets from the coalesced block index.
	for i := range m.smallFree {
		m.smallFree[i] = m.smallFree[i][:0]
	}
	for i := range m.mediumFree {
		m.mediumFree[i] = m.mediumFree[i][:0]
	}
	m.largeFree = make(map[uint64][]uint64)
	m.largeSizes = m.largeSizes[:0]
	m.blocks.Range(func(_ string, b *Block) bool {
		if !b.Allocated {
			m.insertFree(b.Address, b.Size)
		}
		return true
	})
}

func (m *Manager) findBlockContaining(addr uint64) *Block {
	var found *Block
	m.blocks.Range(func(_ string, b *Block) bool {
		if b.Allocated && addr >= b.Address && addr < b.Address+b.Size {
			found = b
			return false
		}
		return true
	})
	return found
}

// ReadBytes reads n bytes starting at addr, bounds-checked against the
// containing block. Unwritten regions read as zeros.
func (m *Manager) ReadBytes(addr uint64, n uint64) ([]byte, error) {
	block := m.findBlockContaining(addr)
	if block == nil {
		return nil, &kernelerr.InvalidAddress{Addr: addr}
	}
	offset := addr - block.Address
	if offset+n > block.Size {
		return nil, &kernelerr.InvalidAddress{Addr: addr + n}
	}

	m.bytesMu.RLock()
	defer m.bytesMu.RUnlock()
	buf := m.bytes[block.Address]
	out := make([]byte, n)
	if buf != nil {
		end := offset + n
		if end > uint64(len(buf)) {
			end = uint64(len(buf))
		}
		if end > offset {
			copy(out, buf[offset:end])
		}
	}
	return out, nil
}

// WriteBytes writes data starting at addr, bounds-checked against the
// containing block.
func (m *Manager) WriteBytes(addr uint64, data []byte) error {
	block := m.findBlockContaining(addr)
	if block == nil {
		return &kernelerr.InvalidAddress{Addr: addr}
	}
	offset := addr - block.Address
	if offset+uint64(len(data)) > block.Size {
		return &kernelerr.InvalidAddress{Addr: addr + uint64(len(data))}
	}

	m.bytesMu.Lock()
	defer m.bytesMu.Unlock()
	buf := m.bytes[block.Address]
	need := offset + uint64(len(data))
	if uint64(len(buf)) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], data)
	m.bytes[block.Address] = buf
	return nil
}

func (m *Manager) processStats(pid uint32) *ProcessStats {
	key := strconv.FormatUint(uint64(pid), 10)
	stats, ok := m.perPid.Get(key)
	if !ok {
		stats = &ProcessStats{}
		m.perPid.Set(key, stats)
	}
	return stats
}

func (m *Manager) trackAlloc(pid uint32, size uint64) {
	key := strconv.FormatUint(uint64(pid), 10)
	m.perPid.Update(key, func(v *ProcessStats, ok bool) (*ProcessStats, bool) {
		if !ok || v == nil {
			v = &ProcessStats{}
		}
		v.Current += size
		v.Allocs++
		if v.Current > v.Peak {
			v.Peak = v.Current
		}
		return v, true
	})
}

func (m *Manager) trackFree(pid uint32, size uint64) {
	key := strconv.FormatUint(uint64(pid), 10)
	m.perPid.Update(key, func(v *ProcessStats, ok bool) (*ProcessStats, bool) {
		if !ok || v == nil {
			return v, ok
		}
		if v.Current >= size {
			v.Current -= size
		} else {
			v.Current = 0
		}
		return v, true
	})
}

// ProcessMemory returns a copy of the per-pid statistics.
func (m *Manager) ProcessMemory(pid uint32) ProcessStats {
	key := strconv.FormatUint(uint64(pid), 10)
	if stats, ok := m.perPid.Get(key); ok {
		return *stats
	}
	return ProcessStats{}
}

// FreeProcessMemory deallocates every block owned by pid, returning the
// number of bytes freed.
func (m *Manager) FreeProcessMemory(pid uint32) uint64 {
	var toFree []uint64
	m.blocks.Range(func(_ string, b *Block) bool {
		if b.Allocated && b.Owner == pid {
			toFree = append(toFree, b.Address)
		}
		return true
	})

	composite := guard.NewComposite()
	var freed uint64
	for _, addr := range toFree {
		size := uint64(0)
		if block, ok := m.blocks.Get(addrKey(addr)); ok {
			size = block.Size
		}
		freed += size
		composite.Add(guard.NewMemoryGuard(addr, size, pid, m.Deallocate))
	}
	if err := composite.Release(); err != nil && m.log != nil {
		m.log.Warn("process teardown left memory unfreed", "pid", pid, "err", err)
	}

	m.perPid.Delete(strconv.FormatUint(uint64(pid), 10))
	return freed
}

// Info returns the total/used/available snapshot.
func (m *Manager) Info() Info {
	used := m.used.Load()
	return Info{Total: m.totalBytes, Used: used, Available: m.totalBytes - used}
}

// Stats is an alias for Info kept for API symmetry with spec §4.B's
// `stats()`/`info()` pair — both return the same snapshot today.
func (m *Manager) Stats() Info {
	return m.Info()
}
