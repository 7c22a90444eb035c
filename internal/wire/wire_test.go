package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshotBinaryRoundTrip(t *testing.T) {
	want := MetricsSnapshot{
		SyscallOps:      100,
		SyscallErrors:   3,
		SyscallDenied:   2,
		AvgLatencyNs:    12345,
		UptimeNs:        999999,
		LatencyP50Ns:    100,
		LatencyP99Ns:    5000,
		LatencyP999Ns:   10000,
		SyscallsPerSec:  42.5,
		ErrorRate:       5.0,
		ProcessCount:    7,
		RunQueueLength:  2,
		MemoryUsed:      4096,
		MemoryAvailable: 65536,
		AsyncTasks:      1,
	}

	data, err := Marshal(want)
	require.NoError(t, err)

	var got MetricsSnapshot
	require.NoError(t, Unmarshal(data, &got))
	assert.Equal(t, want, got)
}

func TestMetricsSnapshotUnmarshalInsufficientData(t *testing.T) {
	var got MetricsSnapshot
	err := got.UnmarshalBinary([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestProcessInfoBinaryRoundTrip(t *testing.T) {
	want := ProcessInfo{
		Pid:       42,
		Name:      "worker",
		Priority:  10,
		State:     1,
		OSPid:     9999,
		CreatedAt: 1700000000000000000,
	}

	data, err := Marshal(want)
	require.NoError(t, err)

	var got ProcessInfo
	require.NoError(t, Unmarshal(data, &got))
	assert.Equal(t, want, got)
}

func TestProcessInfoUnmarshalInsufficientData(t *testing.T) {
	var got ProcessInfo
	assert.ErrorIs(t, got.UnmarshalBinary(nil), ErrInsufficientData)
}

func TestMarshalFallsBackToJSONForPlainStruct(t *testing.T) {
	type plain struct {
		A int
		B string
	}
	data, err := Marshal(plain{A: 1, B: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"A":1,"B":"x"}`, string(data))
}

func TestUnmarshalRejectsPlainStructWithoutBinaryForm(t *testing.T) {
	type plain struct{ A int }
	err := Unmarshal([]byte("{}"), &plain{})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestMarshalJSONAlwaysUsesJSON(t *testing.T) {
	data, err := MarshalJSON(ProcessInfo{Pid: 1, Name: "x"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Pid":1`)
}
