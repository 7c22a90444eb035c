package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/microkernel/kernelerr"
)

func TestSendSignalDefaultTerminate(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 10)
	sm := NewSignalManager(m)

	action, err := sm.Send(0, pid, SigTERM)
	require.NoError(t, err)
	assert.Equal(t, ActionTerminate, action)
	_, ok := m.Get(pid)
	assert.False(t, ok, "terminate action should remove the process")
}

func TestSendSignalDefaultStopAndContinue(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 10)
	sm := NewSignalManager(m)

	action, err := sm.Send(0, pid, SigSTOP)
	require.NoError(t, err)
	assert.Equal(t, ActionStop, action)
	info, _ := m.Get(pid)
	assert.Equal(t, StateStopped, info.State)

	action, err = sm.Send(0, pid, SigCONT)
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, action)
	info, _ = m.Get(pid)
	assert.Equal(t, StateRunning, info.State)
}

func TestSendSignalUnknownDefaultsToIgnore(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 10)
	sm := NewSignalManager(m)

	action, err := sm.Send(0, pid, SigUSR1)
	require.NoError(t, err)
	assert.Equal(t, ActionIgnore, action)
}

func TestRegisteredHandlerClaimsSignal(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 10)
	sm := NewSignalManager(m)

	var invoked bool
	sm.RegisterHandler(pid, SigTERM, func(sig Signal) bool {
		invoked = true
		return true
	})

	action, err := sm.Send(0, pid, SigTERM)
	require.NoError(t, err)
	assert.Equal(t, ActionHandlerInvoked, action)
	assert.True(t, invoked)
	_, ok := m.Get(pid)
	assert.True(t, ok, "claimed signal should not trigger the default terminate action")
}

func TestHandlerDecliningFallsBackToDefault(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 10)
	sm := NewSignalManager(m)

	sm.RegisterHandler(pid, SigTERM, func(sig Signal) bool { return false })

	action, err := sm.Send(0, pid, SigTERM)
	require.NoError(t, err)
	assert.Equal(t, ActionTerminate, action)
}

func TestSendSignalToUnknownPidFails(t *testing.T) {
	m := New(Config{})
	sm := NewSignalManager(m)
	_, err := sm.Send(0, 999, SigTERM)
	require.Error(t, err)
	assert.True(t, kernelerr.IsCode(err, kernelerr.CodeProcessNotFound))
}

func TestSendInvalidSignalNumberFails(t *testing.T) {
	m := New(Config{})
	pid := m.Create("worker", 10)
	sm := NewSignalManager(m)
	_, err := sm.Send(0, pid, Signal(0))
	require.Error(t, err)
	assert.True(t, kernelerr.IsCode(err, kernelerr.CodeInvalidSignal))
}
