//go:build unix

package process

import (
	"github.com/ehrlich-b/microkernel/internal/logging"
	"golang.org/x/sys/unix"
)

// unixLimitEnforcer pins the OS process to a CPU set sized by its
// CPUShares band, reusing internal/queue/runner.go's
// unix.SchedSetaffinity CPU-pinning idiom (there: one queue thread per
// CPU; here: higher CPU-share bands get a wider affinity mask).
type unixLimitEnforcer struct {
	log *logging.Logger
}

// NewOSLimitEnforcer constructs the platform LimitEnforcer.
func NewOSLimitEnforcer(log *logging.Logger) LimitEnforcer {
	if log == nil {
		log = logging.Default()
	}
	return &unixLimitEnforcer{log: log}
}

func (e *unixLimitEnforcer) Apply(osPid int, limits Limits) error {
	numCPU := cpuSetSizeForShares(limits.CPUShares)
	var mask unix.CPUSet
	for i := 0; i < numCPU; i++ {
		mask.Set(i)
	}
	if err := unix.SchedSetaffinity(osPid, &mask); err != nil {
		e.log.Warnf("process: failed to set CPU affinity for os_pid %d: %v", osPid, err)
		return nil
	}
	return nil
}

// cpuSetSizeForShares maps a CPU-share weight to how many CPUs (starting
// at 0) the process may run on, clamped to a sane minimum of 1.
func cpuSetSizeForShares(shares int) int {
	n := shares / 256
	if n < 1 {
		n = 1
	}
	if n > 64 {
		n = 64
	}
	return n
}
