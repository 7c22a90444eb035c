package kernel

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/microkernel/internal/syscallcore"
)

// LatencyBuckets defines the syscall-latency histogram buckets in
// nanoseconds, unchanged from the teacher's I/O-latency buckets: they
// cover the same 1us-10s range a syscall dispatch (rather than a block
// I/O) plausibly falls into.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks syscall dispatch statistics for a Host, grounded
// directly on the teacher's read/write/discard/flush counters and
// latency histogram — generalized from "one of four block-I/O
// operation kinds" to "one of the syscall core's ~70 kinds, bucketed
// into success/error/denied."
type Metrics struct {
	SyscallOps    atomic.Uint64
	SyscallErrors atomic.Uint64
	SyscallDenied atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSyscall records one dispatched syscall's outcome and latency.
func (m *Metrics) RecordSyscall(result syscallcore.SyscallResult, latencyNs uint64) {
	m.SyscallOps.Add(1)
	switch {
	case result.Kind == syscallcore.ResultPermissionDenied:
		m.SyscallDenied.Add(1)
	case result.Kind == syscallcore.ResultError:
		m.SyscallErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the host as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time view of Metrics plus live
// subsystem gauges gathered by Host.Stats.
type MetricsSnapshot struct {
	SyscallOps    uint64
	SyscallErrors uint64
	SyscallDenied uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	SyscallsPerSec float64
	ErrorRate      float64

	// Live subsystem gauges, not accumulated counters.
	ProcessCount    int
	RunQueueLength  int
	MemoryUsed      uint64
	MemoryAvailable uint64
	AsyncTasks      int
}

// Snapshot creates a point-in-time snapshot of dispatch metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SyscallOps:    m.SyscallOps.Load(),
		SyscallErrors: m.SyscallErrors.Load(),
		SyscallDenied: m.SyscallDenied.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.SyscallsPerSec = float64(snap.SyscallOps) / (float64(snap.UptimeNs) / 1e9)
	}
	if snap.SyscallOps > 0 {
		snap.ErrorRate = float64(snap.SyscallErrors+snap.SyscallDenied) / float64(snap.SyscallOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Execute dispatches a syscall through the host's handler chain,
// recording latency/outcome into Metrics and emitting an observability
// event — the single entry point a server binary should call instead
// of reaching into Host.Dispatcher directly.
func (h *Host) Execute(pid uint32, sc syscallcore.Syscall) syscallcore.SyscallResult {
	start := time.Now()
	result := h.Dispatcher.Execute(pid, sc)
	h.metrics.RecordSyscall(result, uint64(time.Since(start).Nanoseconds()))
	h.emit(Event{Severity: severityFor(result), Category: "syscall." + string(sc.Kind), Pid: pid, Payload: result})
	return result
}

func severityFor(r syscallcore.SyscallResult) Severity {
	switch r.Kind {
	case syscallcore.ResultPermissionDenied:
		return SeverityWarn
	case syscallcore.ResultError:
		return SeverityError
	default:
		return SeverityDebug
	}
}

// Stats gathers a point-in-time snapshot across every subsystem: the
// syscall dispatch histogram plus live gauges from process, memory,
// and async task state.
func (h *Host) Stats() MetricsSnapshot {
	snap := h.metrics.Snapshot()
	snap.ProcessCount = len(h.Processes.List())
	snap.RunQueueLength = h.Scheduler.Len()
	mem := h.Memory.Stats()
	snap.MemoryUsed = mem.Used
	snap.MemoryAvailable = mem.Available
	snap.AsyncTasks = h.Async.Count()
	return snap
}
