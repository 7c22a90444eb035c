// Package wire encodes the kernel's point-in-time snapshots for
// transport across the library boundary: a compact binary form for
// low-overhead transport, and a JSON fallback for anything that needs
// to be human-readable or decoded by a non-Go client (spec §6).
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// MarshalError reports a wire encode/decode failure.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "wire: insufficient data for unmarshal"
	ErrUnknownType       MarshalError = "wire: no binary encoding for this type"
)

// MetricsSnapshot is the wire-shaped twin of kernel.MetricsSnapshot.
// Kept as a separate type, with fixed-width integer gauges and without
// the root type's LatencyHistogram; its fields match the binary layout
// below one for one, in the same order.
type MetricsSnapshot struct {
	SyscallOps    uint64
	SyscallErrors uint64
	SyscallDenied uint64
	AvgLatencyNs  uint64
	UptimeNs      uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	SyscallsPerSec float64
	ErrorRate      float64

	ProcessCount    uint32
	RunQueueLength  uint32
	MemoryUsed      uint64
	MemoryAvailable uint64
	AsyncTasks      uint32
}

const metricsSnapshotSize = 8*8 + 8*2 + 4*3 + 8*2

// MarshalBinary encodes a MetricsSnapshot into its fixed-width compact
// form, field by field in declaration order — the same manual
// binary.LittleEndian discipline internal/uapi/marshal.go uses for its
// fixed-size ioctl structs, generalized from C-ABI struct layouts to a
// plain Go struct with no C-compatibility constraint.
func (s MetricsSnapshot) MarshalBinary() ([]byte, error) {
	buf := make([]byte, metricsSnapshotSize)
	off := 0
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[off:off+8], v)
		off += 8
	}
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
		off += 4
	}
	putF64 := func(v float64) {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
		off += 8
	}

	putU64(s.SyscallOps)
	putU64(s.SyscallErrors)
	putU64(s.SyscallDenied)
	putU64(s.AvgLatencyNs)
	putU64(s.UptimeNs)
	putU64(s.LatencyP50Ns)
	putU64(s.LatencyP99Ns)
	putU64(s.LatencyP999Ns)
	putF64(s.SyscallsPerSec)
	putF64(s.ErrorRate)
	putU32(s.ProcessCount)
	putU32(s.RunQueueLength)
	putU64(s.MemoryUsed)
	putU64(s.MemoryAvailable)
	putU32(s.AsyncTasks)

	return buf, nil
}

// UnmarshalBinary decodes a MetricsSnapshot from its compact form.
func (s *MetricsSnapshot) UnmarshalBinary(data []byte) error {
	if len(data) < metricsSnapshotSize {
		return ErrInsufficientData
	}
	off := 0
	getU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		return v
	}
	getU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		return v
	}
	getF64 := func() float64 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
		return v
	}

	s.SyscallOps = getU64()
	s.SyscallErrors = getU64()
	s.SyscallDenied = getU64()
	s.AvgLatencyNs = getU64()
	s.UptimeNs = getU64()
	s.LatencyP50Ns = getU64()
	s.LatencyP99Ns = getU64()
	s.LatencyP999Ns = getU64()
	s.SyscallsPerSec = getF64()
	s.ErrorRate = getF64()
	s.ProcessCount = getU32()
	s.RunQueueLength = getU32()
	s.MemoryUsed = getU64()
	s.MemoryAvailable = getU64()
	s.AsyncTasks = getU32()

	return nil
}

// ProcessInfo is the wire-shaped twin of process.Info.
type ProcessInfo struct {
	Pid       uint32
	Name      string
	Priority  int32
	State     uint8
	OSPid     int32
	CreatedAt int64 // unix nanos
}

// MarshalBinary encodes a ProcessInfo. Name is variable-length, so the
// binary form is length-prefixed rather than fixed-width, unlike
// MetricsSnapshot.
func (p ProcessInfo) MarshalBinary() ([]byte, error) {
	nameBytes := []byte(p.Name)
	buf := make([]byte, 4+4+1+1+4+8+len(nameBytes))
	off := 0
	binary.LittleEndian.PutUint32(buf[off:off+4], p.Pid)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(p.Priority))
	off += 4
	buf[off] = p.State
	off++
	buf[off] = byte(len(nameBytes))
	off++
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(p.OSPid))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(p.CreatedAt))
	off += 8
	copy(buf[off:], nameBytes)
	return buf, nil
}

// UnmarshalBinary decodes a ProcessInfo.
func (p *ProcessInfo) UnmarshalBinary(data []byte) error {
	const headerSize = 4 + 4 + 1 + 1 + 4 + 8
	if len(data) < headerSize {
		return ErrInsufficientData
	}
	off := 0
	p.Pid = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	p.Priority = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	p.State = data[off]
	off++
	nameLen := int(data[off])
	off++
	p.OSPid = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	p.CreatedAt = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	if len(data) < off+nameLen {
		return ErrInsufficientData
	}
	p.Name = string(data[off : off+nameLen])
	return nil
}

// binaryMarshaler is satisfied by every wire type above.
type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

// Marshal encodes v with the compact binary form when v implements
// one, falling back to JSON for everything else — mirroring
// internal/uapi/marshal.go's type-switch dispatch, minus its unsafe
// directMarshal fallback (no wire type here needs C-struct memory
// layout compatibility).
func Marshal(v any) ([]byte, error) {
	if bm, ok := v.(binaryMarshaler); ok {
		return bm.MarshalBinary()
	}
	return json.Marshal(v)
}

// MarshalJSON always encodes v as JSON, regardless of whether it has a
// binary form — for callers that specifically need the fallback
// encoding (e.g. a non-Go client, or a human-readable log).
func MarshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

type binaryUnmarshaler interface {
	UnmarshalBinary([]byte) error
}

// Unmarshal decodes data into v, using v's binary form if it
// implements one. Callers that encoded with MarshalJSON must decode
// with json.Unmarshal directly, since the wire format carries no
// self-describing tag (spec §6 draws no wire format of its own; the
// caller on both ends agrees out of band on which encoding is in use).
func Unmarshal(data []byte, v any) error {
	if bu, ok := v.(binaryUnmarshaler); ok {
		return bu.UnmarshalBinary(data)
	}
	return fmt.Errorf("%w: %T has no binary form, use json.Unmarshal", ErrUnknownType, v)
}
