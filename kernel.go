// Package kernel wires the microkernel's subsystems (A-G) into one
// facade — a Host that a server binary constructs once and drives for
// its lifetime.
package kernel

import (
	"context"
	"time"

	"github.com/ehrlich-b/microkernel/internal/cleanup"
	"github.com/ehrlich-b/microkernel/internal/ipc"
	"github.com/ehrlich-b/microkernel/internal/logging"
	"github.com/ehrlich-b/microkernel/internal/memmgr"
	"github.com/ehrlich-b/microkernel/internal/process"
	"github.com/ehrlich-b/microkernel/internal/ring"
	"github.com/ehrlich-b/microkernel/internal/sandbox"
	"github.com/ehrlich-b/microkernel/internal/syscallcore"
)

// Executor is the external OS-process-spawning collaborator (spec §6),
// re-exported from internal/process so callers never import an
// internal package directly.
type Executor = process.Executor

// LimitEnforcer is the external resource-limit collaborator (spec §6;
// optional, no-op on unsupported hosts).
type LimitEnforcer = process.LimitEnforcer

// Limits mirrors spec §6's limit-enforcer payload.
type Limits = process.Limits

// VFS is the external filesystem collaborator (spec §6): open/read/
// write/create/delete/metadata/list_dir/create_dir/remove_dir/copy/
// rename. No pack example ships a filesystem abstraction this broad —
// the default implementation (DefaultVFS) is backed directly by
// stdlib os/io, the same family as engine_fallback.go's OSFileSystem
// (DESIGN.md justification for the standard-library default).
type VFS interface {
	Open(path string, flags int, mode uint32) (ring.Handle, error)
	Read(h ring.Handle, n int) ([]byte, error)
	Write(h ring.Handle, data []byte) (int, error)
	Create(path string, mode uint32) error
	Delete(path string) error
	Metadata(path string) (syscallcore.StatInfo, error)
	ListDir(path string) ([]string, error)
	CreateDir(path string) error
	RemoveDir(path string) error
	Copy(src, dst string) (int64, error)
	Rename(src, dst string) error
}

// Severity orders observability events, least to most severe (spec §6).
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityCritical
)

// Event is one observability emission (spec §6); the core is
// indifferent to transport, so Collector implementations decide where
// events go.
type Event struct {
	Timestamp   time.Time
	Severity    Severity
	Category    string
	Payload     any
	Pid         uint32
	CausalityID string
}

// Collector is the external observability collaborator (spec §6).
type Collector interface {
	Emit(Event)
}

// NoOpCollector discards every event.
type NoOpCollector struct{}

func (NoOpCollector) Emit(Event) {}

// Config parameterizes a Host. Zero-value fields fall back to package
// defaults the way memmgr.Config/ipc.Config/sandbox.PermissionConfig
// already do at their own layer.
type Config struct {
	// Collaborators (spec §6). Executor defaults to
	// process.NewExecExecutor (os/exec-backed); VFS defaults to
	// DefaultVFS; Collector defaults to NoOpCollector. LimitEnforcer is
	// kept in the Config only: New passes it to no subsystem, so no
	// limits are applied to spawned processes whether or not it is set.
	Executor      Executor
	LimitEnforcer LimitEnforcer
	VFS           VFS
	Collector     Collector

	TotalMemoryBytes  uint64
	MemoryGCThreshold uint64
	ProcessLimit      uint64

	SchedulerPolicy  process.Policy
	SchedulerQuantum time.Duration

	SharedMemoryBudget uint64
	SegmentsPerProcess int
	QueueByteBudget    uint64
	FIFOCapacity       int

	PermissionCacheEntries int
	PermissionCacheTTL     time.Duration
	Audit                  sandbox.AuditFunc

	RingDepth   int
	RingTick    time.Duration
	RingTimeout time.Duration

	Logger *logging.Logger
}

// DefaultConfig returns a Config with every subsystem's own package
// default, the way backend.go's DefaultParams seeded DeviceParams.
func DefaultConfig() Config {
	return Config{
		TotalMemoryBytes:  DefaultTotalMemoryBytes,
		MemoryGCThreshold: DefaultGCThreshold,

		SchedulerPolicy:  process.PolicyRoundRobin,
		SchedulerQuantum: DefaultQuantum,

		SharedMemoryBudget: DefaultSharedMemoryQuota,
		SegmentsPerProcess: ipc.DefaultSegmentsPerProcess,
		QueueByteBudget:    DefaultQueueByteBudget,
		FIFOCapacity:       DefaultFIFOCapacity,

		PermissionCacheEntries: DefaultPermissionCacheEntries,
		PermissionCacheTTL:     DefaultPermissionCacheTTL,

		RingDepth:   DefaultRingDepth,
		RingTick:    time.Millisecond,
		RingTimeout: DefaultRingTimeout,
	}
}

// Host owns one instance of every subsystem (A-G) and is the single
// entry point a server binary drives. Grounded on backend.go's
// Device/CreateAndServe/StopAndDelete triad: construction is staged
// with rollback on failure, and teardown cancels, drains, then tears
// down collaborators in a fixed order — generalized here from one
// block device's queue runners to the kernel's full subsystem set.
type Host struct {
	cfg Config
	log *logging.Logger

	Memory      *memmgr.Manager
	IPC         *ipc.Manager
	Sandboxes   *sandbox.Manager
	Permissions *sandbox.PermissionManager
	Processes   *process.Manager
	Scheduler   *process.Scheduler
	Signals     *process.SignalManager
	Preempt     *process.PreemptionController
	Runner      *process.Runner
	Ring        *ring.Ring
	Dispatcher  *syscallcore.Dispatcher
	Async       *syscallcore.AsyncManager
	Batch       *syscallcore.BatchExecutor
	Cleanup     *cleanup.Registry

	vfs       VFS
	collector Collector
	metrics   *Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs every subsystem in dependency order (A Primitives are
// ambient, not a standalone manager; B Memory; C IPC; D Sandbox; E
// Process & Scheduler; F Syscall Core; G Resource Orchestrator) and
// wires process termination into the cleanup registry, mirroring
// CreateAndServe's staged-construction shape. Never returns a partially
// wired Host: subsystem construction here cannot itself fail (each
// internal New panics only on programmer error, never on runtime
// conditions), so unlike CreateAndServe there is no rollback path to
// generalize — spec §7 places host-construction failures outside
// steady-state error recovery.
func New(ctx context.Context, cfg Config) *Host {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Executor == nil {
		cfg.Executor = process.NewExecExecutor()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	mem := memmgr.New(memmgr.Config{
		TotalBytes:   firstNonZero(cfg.TotalMemoryBytes, DefaultTotalMemoryBytes),
		GCThreshold:  firstNonZero(cfg.MemoryGCThreshold, DefaultGCThreshold),
		ProcessLimit: cfg.ProcessLimit,
		Logger:       log,
	})

	ipcMgr := ipc.New(mem, ipc.Config{
		SharedMemoryBudget: firstNonZero(cfg.SharedMemoryBudget, DefaultSharedMemoryQuota),
		SegmentsPerProcess: firstNonZeroInt(cfg.SegmentsPerProcess, ipc.DefaultSegmentsPerProcess),
		QueueByteBudget:    firstNonZero(cfg.QueueByteBudget, DefaultQueueByteBudget),
		FIFOCapacity:       firstNonZeroInt(cfg.FIFOCapacity, DefaultFIFOCapacity),
		Logger:             log,
	})

	sandboxes := sandbox.New()
	perms := sandbox.NewPermissionManager(sandboxes, sandbox.PermissionConfig{
		CacheEntries: firstNonZeroInt(cfg.PermissionCacheEntries, DefaultPermissionCacheEntries),
		CacheTTL:     firstNonZeroDuration(cfg.PermissionCacheTTL, DefaultPermissionCacheTTL),
		Audit:        cfg.Audit,
		Logger:       log,
	})

	procs := process.New(process.Config{Executor: cfg.Executor, Logger: log})
	sched := process.NewScheduler(process.SchedulerConfig{
		Policy:  cfg.SchedulerPolicy,
		Quantum: firstNonZeroDuration(cfg.SchedulerQuantum, DefaultQuantum),
	})
	sig := process.NewSignalManager(procs)
	preempt := process.NewPreemptionController(sched, procs, log)
	runner := process.NewRunner(preempt, firstNonZeroDuration(cfg.SchedulerQuantum, DefaultQuantum))

	vfs := cfg.VFS
	if vfs == nil {
		vfs = NewDefaultVFS()
	}
	fs, net := defaultRingCollaborators()
	r := ring.New(ring.Config{
		FS:      fs,
		Net:     net,
		Depth:   firstNonZeroInt(cfg.RingDepth, DefaultRingDepth),
		Tick:    firstNonZeroDuration(cfg.RingTick, time.Millisecond),
		Timeout: firstNonZeroDuration(cfg.RingTimeout, DefaultRingTimeout),
		Logger:  log,
	})
	r.Start()

	fileTree := syscallcore.NewFileTreeHandler(vfs, net)
	dispatcher := syscallcore.NewDispatcher(log,
		syscallcore.NewRingHandler(r, firstNonZeroDuration(cfg.RingTimeout, DefaultRingTimeout)),
		syscallcore.NewIPCHandler(ipcMgr),
		fileTree,
		syscallcore.NewCoreHandler(procs, sched, sig, mem, perms),
	)
	async := syscallcore.NewAsyncManager(dispatcher)
	batch := syscallcore.NewBatchExecutor(dispatcher)

	registry := cleanup.New()
	registry.Register(cleanup.MemoryCleanup{Mem: mem})
	registry.Register(cleanup.ZeroCopyCleanup{IPC: ipcMgr})
	registry.Register(cleanup.AsyncTaskCleanup{Async: async})
	registry.Register(cleanup.SignalCleanup{Signals: sig})
	registry.Register(cleanup.RingCleanup{Ring: r})

	hostCtx, cancel := context.WithCancel(ctx)

	collector := cfg.Collector
	if collector == nil {
		collector = NoOpCollector{}
	}

	h := &Host{
		cfg:         cfg,
		log:         log,
		Memory:      mem,
		IPC:         ipcMgr,
		Sandboxes:   sandboxes,
		Permissions: perms,
		Processes:   procs,
		Scheduler:   sched,
		Signals:     sig,
		Preempt:     preempt,
		Runner:      runner,
		Ring:        r,
		Dispatcher:  dispatcher,
		Async:       async,
		Batch:       batch,
		Cleanup:     registry,
		vfs:         vfs,
		collector:   collector,
		metrics:     NewMetrics(),
		ctx:         hostCtx,
		cancel:      cancel,
	}

	runner.Start()

	procs.SetOnTerminate(func(pid uint32) {
		result := registry.CleanupProcess(pid)
		sandboxes.Remove(pid)
		perms.InvalidatePid(pid)
		h.emit(Event{Severity: SeverityInfo, Category: "process.cleanup", Pid: pid, Payload: result})
	})

	return h
}

func (h *Host) emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.collector.Emit(e)
}

// Shutdown cancels the host's context, gives in-flight async tasks
// DefaultShutdownGrace to settle, then stops the ring — mirroring
// StopAndDelete's cancel-then-sleep-then-close-runners sequence.
func (h *Host) Shutdown() {
	h.cancel()
	h.Runner.Stop()
	h.metrics.Stop()
	time.Sleep(DefaultShutdownGrace)
	h.Ring.Stop()
}

// Context returns the host's lifetime context; subsystems that accept
// one for blocking operations should use this.
func (h *Host) Context() context.Context {
	return h.ctx
}

func firstNonZero(v, fallback uint64) uint64 {
	if v == 0 {
		return fallback
	}
	return v
}

func firstNonZeroInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func firstNonZeroDuration(v, fallback time.Duration) time.Duration {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultRingCollaborators() (ring.FileSystem, ring.Network) {
	return ring.NewOSFileSystem(), ring.NewNetDialer()
}
