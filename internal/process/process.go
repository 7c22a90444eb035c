// Package process implements the microkernel's process lifecycle, command
// validation, scheduler, preemption controller, and signal manager.
//
// Grounded on internal/ctrl/control.go's controller-owns-resource lifecycle
// shape (NewController/Close/AddDevice/StopDevice/DeleteDevice becomes
// Manager's New/Create/Terminate) and internal/queue/runner.go's CPU
// affinity and OS-thread-pinning idiom, reused for the preemption
// controller's SIGSTOP/SIGCONT signaling.
package process

import (
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/microkernel/internal/logging"
	"github.com/ehrlich-b/microkernel/kernelerr"
)

// State is a process's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopped
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// CommandConfig describes an OS process to spawn alongside a logical pid.
type CommandConfig struct {
	Command        string
	Args           []string
	Env            []string
	WorkingDir     string
	CaptureOutput  bool
}

// Info is a snapshot of one process's metadata.
type Info struct {
	Pid       uint32
	Name      string
	Priority  int
	State     State
	OSPid     int
	CreatedAt time.Time
}

// Executor is the external OS-process-spawning collaborator (spec §6).
type Executor interface {
	Spawn(name string, cfg CommandConfig) (osPid int, err error)
	Kill(osPid int) error
	Wait(osPid int) error
	IsRunning(osPid int) bool
}

// execExecutor is the default Executor backed by os/exec.
type execExecutor struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewExecExecutor constructs the default OS-process Executor.
func NewExecExecutor() Executor {
	return &execExecutor{procs: make(map[int]*exec.Cmd)}
}

func (e *execExecutor) Spawn(name string, cfg CommandConfig) (int, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	osPid := cmd.Process.Pid
	e.mu.Lock()
	e.procs[osPid] = cmd
	e.mu.Unlock()
	go func() { _ = cmd.Wait() }()
	return osPid, nil
}

func (e *execExecutor) Kill(osPid int) error {
	e.mu.Lock()
	cmd, ok := e.procs[osPid]
	e.mu.Unlock()
	if !ok || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func (e *execExecutor) Wait(osPid int) error {
	e.mu.Lock()
	cmd, ok := e.procs[osPid]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return cmd.Wait()
}

func (e *execExecutor) IsRunning(osPid int) bool {
	e.mu.Lock()
	cmd, ok := e.procs[osPid]
	e.mu.Unlock()
	if !ok || cmd.ProcessState == nil {
		return ok
	}
	return !cmd.ProcessState.Exited()
}

// shellMetacharacters and their URL-encoded/backslash-escaped forms,
// rejected by ValidateCommand per spec §4.E.
var shellMetaPattern = regexp.MustCompile(`[;|&\n\r\x00]|\$\(|\)`)
var urlEncodedMeta = []string{"%3b", "%7c", "%26", "%0a", "%0d", "%00", "%24%28", "%29"}

var commandWhitelist = []string{"/bin/", "/usr/bin/", "/usr/local/bin/", "/sbin/", "/usr/sbin/"}

// ValidateCommand rejects shell metacharacters, traversal, and
// non-whitelisted absolute paths, applied to both the command and every
// argument before any OS spawn is attempted.
func ValidateCommand(cfg CommandConfig) error {
	if strings.TrimSpace(cfg.Command) == "" {
		return kernelerr.New("process", "validate_command", kernelerr.CodeInvalidCommand, "empty command")
	}
	if err := validateToken(cfg.Command); err != nil {
		return err
	}
	for _, arg := range cfg.Args {
		if err := validateToken(arg); err != nil {
			return err
		}
	}
	if strings.HasPrefix(cfg.Command, "/") {
		allowed := false
		for _, prefix := range commandWhitelist {
			if strings.HasPrefix(cfg.Command, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return kernelerr.New("process", "validate_command", kernelerr.CodeInvalidCommand, "absolute command path not in whitelist: "+cfg.Command)
		}
	}
	return nil
}

func validateToken(token string) error {
	if shellMetaPattern.MatchString(token) {
		return kernelerr.New("process", "validate_command", kernelerr.CodeInvalidCommand, "shell metacharacter rejected: "+token)
	}
	lower := strings.ToLower(token)
	for _, enc := range urlEncodedMeta {
		if strings.Contains(lower, enc) {
			return kernelerr.New("process", "validate_command", kernelerr.CodeInvalidCommand, "url-encoded shell metacharacter rejected: "+token)
		}
	}
	if strings.Contains(token, "..") || strings.Contains(token, `\.\.`) || strings.Contains(lower, "%2e%2e") {
		return kernelerr.New("process", "validate_command", kernelerr.CodeInvalidCommand, "path traversal rejected: "+token)
	}
	return nil
}

// Config parameterizes a process Manager.
type Config struct {
	Executor Executor
	Logger   *logging.Logger
}

// entry is the process table's internal record, extending Info with the
// bookkeeping the scheduler and preemption controller need.
type entry struct {
	mu    sync.Mutex
	info  Info
	osPid int
}

// Manager is the process table: pid allocation, lifecycle transitions,
// and command-validated OS spawn, grounded on internal/ctrl/control.go's
// create/track/terminate shape.
type Manager struct {
	cfg     Config
	log     *logging.Logger
	exec    Executor
	nextPid atomic.Uint32
	table   sync.Map // uint32 -> *entry
	onTerminate func(pid uint32)
}

// New constructs a process Manager.
func New(cfg Config) *Manager {
	if cfg.Executor == nil {
		cfg.Executor = NewExecExecutor()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Manager{cfg: cfg, log: log, exec: cfg.Executor}
}

// SetOnTerminate installs a hook invoked after a process transitions to
// Terminated and before it is removed from the table (the resource orchestrator
// wires its cleanup_process call here).
func (m *Manager) SetOnTerminate(fn func(pid uint32)) {
	m.onTerminate = fn
}

// Create registers a new logical process with no OS-level backing.
func (m *Manager) Create(name string, priority int) uint32 {
	pid := m.nextPid.Add(1)
	e := &entry{info: Info{Pid: pid, Name: name, Priority: priority, State: StateCreated, CreatedAt: now()}}
	m.table.Store(pid, e)
	return pid
}

// CreateWithCommand registers a process and spawns the backing OS
// process, after validating cfg.
func (m *Manager) CreateWithCommand(name string, priority int, cfg CommandConfig) (uint32, error) {
	if err := ValidateCommand(cfg); err != nil {
		return 0, err
	}
	pid := m.Create(name, priority)
	osPid, err := m.exec.Spawn(name, cfg)
	if err != nil {
		m.table.Delete(pid)
		wrapped := kernelerr.New("process", "create_with_command", kernelerr.CodeSpawnFailed, err.Error())
		wrapped.Inner = err
		return 0, wrapped
	}
	e, _ := m.table.Load(pid)
	ent := e.(*entry)
	ent.mu.Lock()
	ent.info.OSPid = osPid
	ent.info.State = StateRunning
	ent.osPid = osPid
	ent.mu.Unlock()
	return pid, nil
}

// Get returns a snapshot of pid's Info.
func (m *Manager) Get(pid uint32) (Info, bool) {
	v, ok := m.table.Load(pid)
	if !ok {
		return Info{}, false
	}
	ent := v.(*entry)
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.info, true
}

// SetState transitions pid to state.
func (m *Manager) SetState(pid uint32, state State) error {
	v, ok := m.table.Load(pid)
	if !ok {
		return kernelerr.NewForPid("process", "set_state", pid, kernelerr.CodeProcessNotFound, "pid not found")
	}
	ent := v.(*entry)
	ent.mu.Lock()
	ent.info.State = state
	ent.mu.Unlock()
	return nil
}

// SetPriority updates pid's priority in the process table. The Scheduler
// keeps its own copy, updated by Scheduler.SetPriority; the syscall
// core's set-priority handler calls both, so the change is visible to the
// next Schedule() call.
func (m *Manager) SetPriority(pid uint32, priority int) error {
	v, ok := m.table.Load(pid)
	if !ok {
		return kernelerr.NewForPid("process", "set_priority", pid, kernelerr.CodeProcessNotFound, "pid not found")
	}
	ent := v.(*entry)
	ent.mu.Lock()
	ent.info.Priority = priority
	ent.mu.Unlock()
	return nil
}

// Terminate transitions pid to Terminated, kills the backing OS process
// if any, invokes the orchestrator hook, and removes pid from the table.
func (m *Manager) Terminate(pid uint32) error {
	v, ok := m.table.Load(pid)
	if !ok {
		return kernelerr.NewForPid("process", "terminate", pid, kernelerr.CodeProcessNotFound, "pid not found")
	}
	ent := v.(*entry)
	ent.mu.Lock()
	ent.info.State = StateTerminated
	osPid := ent.osPid
	ent.mu.Unlock()

	if osPid != 0 {
		_ = m.exec.Kill(osPid)
	}
	if m.onTerminate != nil {
		m.onTerminate(pid)
	}
	m.table.Delete(pid)
	return nil
}

// List returns a snapshot of every tracked process.
func (m *Manager) List() []Info {
	var out []Info
	m.table.Range(func(_, v any) bool {
		ent := v.(*entry)
		ent.mu.Lock()
		out = append(out, ent.info)
		ent.mu.Unlock()
		return true
	})
	return out
}

func now() time.Time { return time.Now() }
