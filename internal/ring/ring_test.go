package ring

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T) *Ring {
	t.Helper()
	r := New(Config{FS: NewOSFileSystem(), Net: NewNetDialer(), Tick: time.Millisecond})
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

func TestMetadataOpsReturnSynchronouslyWithSeq(t *testing.T) {
	r := newTestRing(t)
	tmp, err := os.CreateTemp(t.TempDir(), "ring")
	require.NoError(t, err)
	tmp.Close()

	seq, err := r.Submit(1, OpOpen, 42, Args{Path: tmp.Name(), Flags: os.O_RDWR, Mode: 0o644})
	require.NoError(t, err)

	c, err := r.WaitCompletion(seq, time.Second)
	require.NoError(t, err)
	assert.NoError(t, c.Err)
	assert.Equal(t, uint64(42), c.UserData)
}

func TestWriteThenReadRoundTripThroughRing(t *testing.T) {
	r := newTestRing(t)
	path := t.TempDir() + "/data.txt"
	f, err := os.Create(path)
	require.NoError(t, err)
	f.Close()

	openSeq, err := r.Submit(1, OpOpen, 0, Args{Path: path, Flags: os.O_RDWR, Mode: 0o644})
	require.NoError(t, err)
	openC, err := r.WaitCompletion(openSeq, time.Second)
	require.NoError(t, err)
	require.NoError(t, openC.Err)
	h := openC.Handle

	writeSeq, err := r.Submit(1, OpWrite, 1, Args{Handle: h, Data: []byte("hello ring")})
	require.NoError(t, err)
	writeC, err := r.WaitCompletion(writeSeq, time.Second)
	require.NoError(t, err)
	require.NoError(t, writeC.Err)
	assert.Equal(t, 10, writeC.N)

	seekSeq, err := r.Submit(1, OpLseek, 2, Args{Handle: h, Offset: 0, Whence: os.SEEK_SET})
	require.NoError(t, err)
	_, err = r.WaitCompletion(seekSeq, time.Second)
	require.NoError(t, err)

	readSeq, err := r.Submit(1, OpRead, 3, Args{Handle: h, Length: 32})
	require.NoError(t, err)
	readC, err := r.WaitCompletion(readSeq, time.Second)
	require.NoError(t, err)
	require.NoError(t, readC.Err)
	assert.Equal(t, "hello ring", string(readC.Data))
}

func TestWaitCompletionTimesOutThenRemainsRetrievable(t *testing.T) {
	r := New(Config{FS: NewOSFileSystem(), Net: NewNetDialer(), Tick: time.Hour}) // never ticks
	r.Start()
	t.Cleanup(r.Stop)

	path := t.TempDir() + "/data.txt"
	f, err := os.Create(path)
	require.NoError(t, err)
	f.Close()
	openSeq, err := r.Submit(1, OpOpen, 0, Args{Path: path, Flags: os.O_RDWR, Mode: 0o644})
	require.NoError(t, err)
	openC, err := r.WaitCompletion(openSeq, time.Second)
	require.NoError(t, err)
	h := openC.Handle

	seq, err := r.Submit(1, OpRead, 99, Args{Handle: h, Length: 8})
	require.NoError(t, err)

	_, err = r.WaitCompletion(seq, 10*time.Millisecond)
	require.Error(t, err, "ring tick is parked for an hour, so the read cannot complete in time")

	// Manually drain the (never-ticking) ring so the read actually
	// executes, then confirm the completion is retrievable afterward —
	// the same sequence, looked up again, succeeds.
	r.drainTick()
	c, err := r.WaitCompletion(seq, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), c.UserData)
}

func TestCleanupPidClosesOwnedFileHandles(t *testing.T) {
	r := newTestRing(t)
	path := t.TempDir() + "/owned.txt"
	f, err := os.Create(path)
	require.NoError(t, err)
	f.Close()

	openSeq, err := r.Submit(9, OpOpen, 0, Args{Path: path, Flags: os.O_RDWR, Mode: 0o644})
	require.NoError(t, err)
	openC, err := r.WaitCompletion(openSeq, time.Second)
	require.NoError(t, err)

	assert.True(t, r.HasOwnedHandles(9))
	assert.False(t, r.HasOwnedHandles(10))

	filesClosed, socketsClosed := r.CleanupPid(9)
	assert.Equal(t, 1, filesClosed)
	assert.Equal(t, 0, socketsClosed)
	assert.False(t, r.HasOwnedHandles(9))
	_ = openC
}

func TestFsyncAndCloseThroughRing(t *testing.T) {
	r := newTestRing(t)
	path := t.TempDir() + "/f.txt"
	f, err := os.Create(path)
	require.NoError(t, err)
	f.Close()

	openSeq, _ := r.Submit(1, OpOpen, 0, Args{Path: path, Flags: os.O_RDWR, Mode: 0o644})
	openC, err := r.WaitCompletion(openSeq, time.Second)
	require.NoError(t, err)
	h := openC.Handle

	fsyncSeq, _ := r.Submit(1, OpFsync, 0, Args{Handle: h})
	c, err := r.WaitCompletion(fsyncSeq, time.Second)
	require.NoError(t, err)
	assert.NoError(t, c.Err)

	closeSeq, _ := r.Submit(1, OpClose, 0, Args{Handle: h})
	c, err = r.WaitCompletion(closeSeq, time.Second)
	require.NoError(t, err)
	assert.NoError(t, c.Err)
}
