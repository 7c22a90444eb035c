package process

// Limits is the resource envelope applied to an OS process, consumed by
// the optional limit-enforcer collaborator (spec §6).
type Limits struct {
	MemoryBytes  uint64
	CPUShares    int
	MaxPids      int
	MaxOpenFiles int
}

// LimitEnforcer is the external, optional limit-enforcer collaborator;
// a no-op implementation is expected on hosts without cgroup/rlimit
// support.
type LimitEnforcer interface {
	Apply(osPid int, limits Limits) error
}

// NoopLimitEnforcer is the default LimitEnforcer for hosts that do not
// support resource limits.
type NoopLimitEnforcer struct{}

func (NoopLimitEnforcer) Apply(int, Limits) error { return nil }

// LimitsForPriority maps a priority to its band's Limits, per spec
// §4.E's five fixed design-constant bands.
func LimitsForPriority(priority int) Limits {
	switch {
	case priority >= 90:
		return Limits{MemoryBytes: 2 << 30, CPUShares: 1024, MaxPids: 64, MaxOpenFiles: 4096}
	case priority >= 70:
		return Limits{MemoryBytes: 1 << 30, CPUShares: 768, MaxPids: 32, MaxOpenFiles: 2048}
	case priority >= 50:
		return Limits{MemoryBytes: 512 << 20, CPUShares: 512, MaxPids: 16, MaxOpenFiles: 1024}
	case priority >= 30:
		return Limits{MemoryBytes: 256 << 20, CPUShares: 256, MaxPids: 8, MaxOpenFiles: 512}
	default:
		return Limits{MemoryBytes: 64 << 20, CPUShares: 64, MaxPids: 2, MaxOpenFiles: 128}
	}
}
