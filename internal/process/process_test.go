package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/microkernel/kernelerr"
)

func TestCreateAndGet(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 50)
	info, ok := m.Get(pid)
	require.True(t, ok)
	assert.Equal(t, "worker", info.Name)
	assert.Equal(t, 50, info.Priority)
	assert.Equal(t, StateCreated, info.State)
}

func TestTerminateRemovesFromTable(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 10)
	require.NoError(t, m.Terminate(pid))
	_, ok := m.Get(pid)
	assert.False(t, ok)
}

func TestTerminateInvokesHook(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 10)
	var hookPid uint32
	m.SetOnTerminate(func(p uint32) { hookPid = p })
	require.NoError(t, m.Terminate(pid))
	assert.Equal(t, pid, hookPid)
}

func TestTerminateUnknownPidFails(t *testing.T) {
	m := New(Config{})
	err := m.Terminate(999)
	require.Error(t, err)
	assert.True(t, kernelerr.IsCode(err, kernelerr.CodeProcessNotFound))
}

func TestSetPriorityAndState(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 10)
	require.NoError(t, m.SetPriority(pid, 75))
	require.NoError(t, m.SetState(pid, StateRunning))
	info, _ := m.Get(pid)
	assert.Equal(t, 75, info.Priority)
	assert.Equal(t, StateRunning, info.State)
}

func TestValidateCommandRejectsShellMetacharacters(t *testing.T) {
	cases := []string{
		"/bin/ls; rm -rf /",
		"/bin/ls | cat",
		"/bin/ls && echo hi",
		"/bin/ls\n",
		"/bin/ls $(whoami)",
	}
	for _, c := range cases {
		err := ValidateCommand(CommandConfig{Command: c})
		assert.Error(t, err, "expected rejection for %q", c)
	}
}

func TestValidateCommandRejectsURLEncodedMetacharacters(t *testing.T) {
	err := ValidateCommand(CommandConfig{Command: "/bin/ls%3brm"})
	assert.Error(t, err)
}

func TestValidateCommandRejectsTraversal(t *testing.T) {
	err := ValidateCommand(CommandConfig{Command: "/bin/../etc/passwd"})
	assert.Error(t, err)

	err = ValidateCommand(CommandConfig{Command: "/bin/ls", Args: []string{"../../etc/passwd"}})
	assert.Error(t, err)
}

func TestValidateCommandRejectsNonWhitelistedAbsolutePath(t *testing.T) {
	err := ValidateCommand(CommandConfig{Command: "/opt/evil/tool"})
	assert.Error(t, err)
}

func TestValidateCommandAllowsWhitelistedPath(t *testing.T) {
	err := ValidateCommand(CommandConfig{Command: "/usr/bin/true", Args: []string{"--version"}})
	assert.NoError(t, err)
}

func TestValidateCommandRejectsEmpty(t *testing.T) {
	err := ValidateCommand(CommandConfig{Command: ""})
	assert.Error(t, err)
}

type fakeExecutor struct {
	nextOSPid int
	killed    []int
}

func (f *fakeExecutor) Spawn(name string, cfg CommandConfig) (int, error) {
	f.nextOSPid++
	return f.nextOSPid, nil
}
func (f *fakeExecutor) Kill(osPid int) error { f.killed = append(f.killed, osPid); return nil }
func (f *fakeExecutor) Wait(osPid int) error { return nil }
func (f *fakeExecutor) IsRunning(osPid int) bool { return true }

func TestCreateWithCommandSpawnsAndTracksOSPid(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(Config{Executor: exec})
	pid, err := m.CreateWithCommand("worker", 50, CommandConfig{Command: "/usr/bin/true"})
	require.NoError(t, err)
	info, ok := m.Get(pid)
	require.True(t, ok)
	assert.Equal(t, 1, info.OSPid)
	assert.Equal(t, StateRunning, info.State)
}

func TestCreateWithCommandRejectsInvalidCommand(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(Config{Executor: exec})
	_, err := m.CreateWithCommand("worker", 50, CommandConfig{Command: "/opt/evil"})
	require.Error(t, err)
	assert.True(t, kernelerr.IsCode(err, kernelerr.CodeInvalidCommand))
}

func TestTerminateKillsOSProcess(t *testing.T) {
	exec := &fakeExecutor{}
	m := New(Config{Executor: exec})
	pid, err := m.CreateWithCommand("worker", 50, CommandConfig{Command: "/bin/ls"})
	require.NoError(t, err)
	require.NoError(t, m.Terminate(pid))
	assert.Contains(t, exec.killed, 1)
}
