// Package cleanup implements the microkernel's resource cleanup
// orchestrator (spec §4.G): a registry of heterogeneous per-subsystem
// collaborators walked in reverse registration order on process
// termination.
//
// Grounded on backend.go's StopAndDelete: cancel context, stop queue
// runners (in registration order), controller teardown — generalized
// from a fixed three-step teardown into an ordered, reversed
// collaborator registry so new resource kinds register themselves
// instead of StopAndDelete growing another hardcoded step.
package cleanup

import "sync"

// Stats aggregates one collaborator's cleanup outcome for one pid.
type Stats struct {
	ResourcesFreed int
	BytesFreed     uint64
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.ResourcesFreed += other.ResourcesFreed
	s.BytesFreed += other.BytesFreed
}

// ResourceCleanup is one subsystem's termination hook: whether pid holds
// any of its resources, and releasing them if so. Spec §4.G names
// socket, signal, ring, zero-copy, io_uring, async-task, and
// memory-mapping sub-registrars as concrete implementers.
type ResourceCleanup interface {
	ResourceType() string
	HasResources(pid uint32) bool
	Cleanup(pid uint32) (Stats, error)
}

// Result is cleanup_process's return value: the pid cleaned, aggregated
// stats across every collaborator that had resources, and any
// per-collaborator errors (cleanup is best-effort; errors never
// propagate to the caller of termination).
type Result struct {
	Pid    uint32
	Stats  Stats
	Errors []error
}

// Registry holds an ordered list of collaborators, cleaned up in
// reverse registration order on CleanupProcess — lower-level resources
// (memory) register earliest so they're released last.
type Registry struct {
	mu           sync.Mutex
	collaborators []ResourceCleanup
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register appends rc to the registry. Registration order is fixed by
// the composing layer (spec §4.G): callers should register
// lower-level resources (e.g. memory) before higher-level ones so they
// clean up last.
func (r *Registry) Register(rc ResourceCleanup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collaborators = append(r.collaborators, rc)
}

// CleanupProcess walks registered collaborators in reverse registration
// order, invoking Cleanup on each that reports HasResources, and
// aggregates the outcome.
func (r *Registry) CleanupProcess(pid uint32) Result {
	r.mu.Lock()
	ordered := make([]ResourceCleanup, len(r.collaborators))
	copy(ordered, r.collaborators)
	r.mu.Unlock()

	result := Result{Pid: pid}
	for i := len(ordered) - 1; i >= 0; i-- {
		rc := ordered[i]
		if !rc.HasResources(pid) {
			continue
		}
		stats, err := rc.Cleanup(pid)
		result.Stats.Add(stats)
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	return result
}
