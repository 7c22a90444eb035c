// Package sandbox implements the microkernel's capability-and-path-rule
// permission system: a per-pid sandbox configuration store wrapped by a
// permission manager with an LRU decision cache.
//
// Has no direct teacher analogue (ublk has no permission model); built in
// the teacher's idiom — a sharded map plus structured kernelerr values and
// leveled logging — rather than adapted from its code.
package sandbox

import (
	"strconv"

	"github.com/ehrlich-b/microkernel/internal/primitives"
)

// Capability is a bitmask of permitted syscall action categories.
type Capability uint64

const (
	CapFileRead Capability = 1 << iota
	CapFileWrite
	CapCreateProcess
	CapNetwork
	CapMemory
	CapSignal
	CapQueue
	CapSharedMemory
	CapPipe
	CapScheduler
)

// Has reports whether c includes every bit in other.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// ResourceKind discriminates what a Resource addresses.
type ResourceKind int

const (
	ResourceOther ResourceKind = iota
	ResourcePath
	ResourceNetwork
)

// Resource is the target of a permission check.
type Resource struct {
	Kind ResourceKind
	Path string
	Host string
	Port int
}

// SandboxConfig is one process's permission envelope: capability bits,
// path allow/block rules, and network rules.
type SandboxConfig struct {
	Capabilities Capability
	PathRules    PathRules
	NetworkRules []NetworkRule
}

// Manager holds a sharded pid → SandboxConfig map.
type Manager struct {
	configs *primitives.StripedMap[*SandboxConfig]
}

// New constructs an empty sandbox Manager.
func New() *Manager {
	return &Manager{configs: primitives.NewStripedMap[*SandboxConfig](0)}
}

func pidKey(pid uint32) string {
	return strconv.FormatUint(uint64(pid), 10)
}

// Set installs or replaces the sandbox config for pid.
func (m *Manager) Set(pid uint32, cfg *SandboxConfig) {
	m.configs.Set(pidKey(pid), cfg)
}

// Get returns the sandbox config for pid, if any has been registered.
func (m *Manager) Get(pid uint32) (*SandboxConfig, bool) {
	return m.configs.Get(pidKey(pid))
}

// Remove deletes a pid's sandbox config, e.g. on process termination.
func (m *Manager) Remove(pid uint32) {
	m.configs.Delete(pidKey(pid))
}

// GrantCapability adds bits to pid's capability set, creating a default
// (deny-everything-else) config if none exists yet.
func (m *Manager) GrantCapability(pid uint32, cap Capability) {
	cfg, ok := m.Get(pid)
	if !ok {
		cfg = &SandboxConfig{}
		m.Set(pid, cfg)
	}
	cfg.Capabilities |= cap
}

// RevokeCapability clears bits from pid's capability set.
func (m *Manager) RevokeCapability(pid uint32, cap Capability) {
	cfg, ok := m.Get(pid)
	if !ok {
		return
	}
	cfg.Capabilities &^= cap
}
