package kernelerr

import "fmt"

// OutOfMemory carries the full allocation context spec §7 requires.
type OutOfMemory struct {
	Requested uint64
	Available uint64
	Used      uint64
	Total     uint64
}

func (e *OutOfMemory) Error() string {
	return fmt.Sprintf("memory: out of memory (requested=%d available=%d used=%d total=%d)",
		e.Requested, e.Available, e.Used, e.Total)
}

// ProcessLimitExceeded reports a per-process allocation ceiling breach.
type ProcessLimitExceeded struct {
	Requested uint64
	Limit     uint64
	Current   uint64
}

func (e *ProcessLimitExceeded) Error() string {
	return fmt.Sprintf("memory: process limit exceeded (requested=%d limit=%d current=%d)",
		e.Requested, e.Limit, e.Current)
}

// InvalidAddress reports a lookup against an address with no live block.
type InvalidAddress struct {
	Addr uint64
}

func (e *InvalidAddress) Error() string {
	return fmt.Sprintf("memory: invalid address 0x%x", e.Addr)
}

// AlignmentError reports a misaligned access.
type AlignmentError struct {
	Addr      uint64
	Alignment uint64
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("memory: address 0x%x not aligned to %d", e.Addr, e.Alignment)
}
