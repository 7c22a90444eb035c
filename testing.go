package kernel

import (
	"sync"

	"github.com/ehrlich-b/microkernel/internal/process"
	"github.com/ehrlich-b/microkernel/internal/ring"
	"github.com/ehrlich-b/microkernel/internal/syscallcore"
	"github.com/ehrlich-b/microkernel/kernelerr"
)

// NoopLimitEnforcer is the default LimitEnforcer for hosts without
// cgroup/rlimit support, re-exported from internal/process.
var NoopLimitEnforcer = process.NoopLimitEnforcer{}

// MockExecutor is a mock Executor for testing, tracking every spawned
// "OS process" in memory instead of calling os/exec. Grounded on
// testing.go's MockBackend call-tracking style, generalized from I/O
// method counters to process lifecycle method counters.
type MockExecutor struct {
	mu       sync.Mutex
	nextPid  int
	running  map[int]bool
	spawns   []process.CommandConfig
	killed   []int
	waited   []int
}

// NewMockExecutor creates an empty MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{nextPid: 1000, running: make(map[int]bool)}
}

func (m *MockExecutor) Spawn(name string, cfg process.CommandConfig) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	osPid := m.nextPid
	m.nextPid++
	m.running[osPid] = true
	m.spawns = append(m.spawns, cfg)
	return osPid, nil
}

func (m *MockExecutor) Kill(osPid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed = append(m.killed, osPid)
	delete(m.running, osPid)
	return nil
}

func (m *MockExecutor) Wait(osPid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waited = append(m.waited, osPid)
	return nil
}

func (m *MockExecutor) IsRunning(osPid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[osPid]
}

// SpawnCount returns how many times Spawn was called.
func (m *MockExecutor) SpawnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spawns)
}

// KilledPids returns every osPid passed to Kill, in call order.
func (m *MockExecutor) KilledPids() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.killed))
	copy(out, m.killed)
	return out
}

// MockLimitEnforcer records every Apply call instead of touching
// cgroups/rlimits.
type MockLimitEnforcer struct {
	mu     sync.Mutex
	Err    error
	calls  []mockLimitCall
}

type mockLimitCall struct {
	OSPid  int
	Limits process.Limits
}

func (m *MockLimitEnforcer) Apply(osPid int, limits process.Limits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockLimitCall{OSPid: osPid, Limits: limits})
	return m.Err
}

// Calls returns the Limits passed to Apply, in call order; the osPids
// are not included.
func (m *MockLimitEnforcer) Calls() []process.Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]process.Limits, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Limits
	}
	return out
}

// MockVFS is an in-memory VFS for testing, avoiding real filesystem
// access. Paths are flat keys; directories are not distinguished from
// files beyond the IsDir flag recorded at CreateDir time.
type MockVFS struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	nextH   ring.Handle
	handles map[ring.Handle]string
}

// NewMockVFS creates an empty MockVFS.
func NewMockVFS() *MockVFS {
	return &MockVFS{
		files:   make(map[string][]byte),
		dirs:    make(map[string]bool),
		handles: make(map[ring.Handle]string),
		nextH:   1,
	}
}

func (v *MockVFS) Open(path string, flags int, mode uint32) (ring.Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.files[path]; !ok {
		v.files[path] = nil
	}
	h := v.nextH
	v.nextH++
	v.handles[h] = path
	return h, nil
}

func (v *MockVFS) Read(h ring.Handle, n int) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	path := v.handles[h]
	data := v.files[path]
	if n > len(data) {
		n = len(data)
	}
	return data[:n], nil
}

func (v *MockVFS) Write(h ring.Handle, data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	path := v.handles[h]
	v.files[path] = append(v.files[path], data...)
	return len(data), nil
}

func (v *MockVFS) Create(path string, mode uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.files[path] = []byte{}
	return nil
}

func (v *MockVFS) Delete(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.files, path)
	return nil
}

func (v *MockVFS) Metadata(path string) (syscallcore.StatInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dirs[path] {
		return syscallcore.StatInfo{IsDir: true}, nil
	}
	data, ok := v.files[path]
	if !ok {
		return syscallcore.StatInfo{}, kernelerr.New("vfs", "metadata", kernelerr.CodeNotFound, "path not found")
	}
	return syscallcore.StatInfo{Size: int64(len(data))}, nil
}

func (v *MockVFS) ListDir(path string) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var names []string
	for p := range v.files {
		names = append(names, p)
	}
	return names, nil
}

func (v *MockVFS) CreateDir(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dirs[path] = true
	return nil
}

func (v *MockVFS) RemoveDir(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.dirs, path)
	return nil
}

func (v *MockVFS) Copy(src, dst string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	data := v.files[src]
	v.files[dst] = append([]byte{}, data...)
	return int64(len(data)), nil
}

func (v *MockVFS) Rename(src, dst string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.files[dst] = v.files[src]
	delete(v.files, src)
	return nil
}

var _ VFS = (*MockVFS)(nil)

// MockCollector records every emitted Event instead of discarding or
// forwarding it, for assertions in tests.
type MockCollector struct {
	mu     sync.Mutex
	Events []Event
}

// NewMockCollector creates an empty MockCollector.
func NewMockCollector() *MockCollector {
	return &MockCollector{}
}

func (c *MockCollector) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events = append(c.Events, e)
}

// Len returns how many events have been recorded.
func (c *MockCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Events)
}

var _ Collector = (*MockCollector)(nil)
