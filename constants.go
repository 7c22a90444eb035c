package kernel

import (
	"time"

	"github.com/ehrlich-b/microkernel/internal/ipc"
	"github.com/ehrlich-b/microkernel/internal/memmgr"
	"github.com/ehrlich-b/microkernel/internal/process"
	"github.com/ehrlich-b/microkernel/internal/ring"
)

// Re-exported subsystem defaults, for callers building a Config without
// reaching into internal packages.
const (
	DefaultTotalMemoryBytes  = memmgr.DefaultTotalBytes
	DefaultGCThreshold       = memmgr.DefaultGCThreshold
	DefaultSharedMemoryQuota = ipc.DefaultSharedMemoryBudget
	DefaultQueueByteBudget   = ipc.DefaultQueueByteBudget
	DefaultFIFOCapacity      = ipc.DefaultFIFOCapacity
	DefaultQuantum           = process.DefaultQuantum
	DefaultRingDepth         = ring.DefaultDepth
	DefaultRingTimeout       = ring.DefaultTimeout
)

// DefaultShutdownGrace is how long Shutdown waits for in-flight async
// tasks to reach a terminal state before the host tears down its
// subsystems regardless (mirrors backend.go's post-cancel sleep before
// closing queue runners).
const DefaultShutdownGrace = 10 * time.Millisecond

// DefaultPermissionCacheEntries/TTL size the sandbox's LRU decision cache.
const (
	DefaultPermissionCacheEntries = 10000
	DefaultPermissionCacheTTL     = 5 * time.Second
)
