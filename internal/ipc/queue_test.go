package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOQueueOrdering(t *testing.T) {
	m := newTestManager(t)
	q, err := m.CreateFIFOQueue(0)
	require.NoError(t, err)

	require.NoError(t, q.Send(QueueMessage{ID: 1, DataLength: 4}))
	require.NoError(t, q.Send(QueueMessage{ID: 2, DataLength: 4}))

	a, err := q.Receive()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.ID)

	b, err := q.Receive()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), b.ID)
}

func TestPriorityQueueOrdering(t *testing.T) {
	m := newTestManager(t)
	q, err := m.CreatePriorityQueue(0)
	require.NoError(t, err)

	require.NoError(t, q.Send(QueueMessage{ID: 1, Priority: 1}))
	require.NoError(t, q.Send(QueueMessage{ID: 2, Priority: 9}))

	hi, err := q.Receive()
	require.NoError(t, err)
	assert.Equal(t, int32(9), hi.Priority)

	lo, err := q.Receive()
	require.NoError(t, err)
	assert.Equal(t, int32(1), lo.Priority)
}

func TestPriorityQueueTiesBrokenByInsertionOrder(t *testing.T) {
	m := newTestManager(t)
	q, err := m.CreatePriorityQueue(0)
	require.NoError(t, err)

	require.NoError(t, q.Send(QueueMessage{ID: 10, Priority: 5}))
	require.NoError(t, q.Send(QueueMessage{ID: 11, Priority: 5}))

	first, err := q.Receive()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), first.ID)
}

func TestPubSubFanOutAndUnsubscribe(t *testing.T) {
	m := newTestManager(t)
	q, err := m.CreatePubSubQueue()
	require.NoError(t, err)

	h1, err := q.Subscribe(1)
	require.NoError(t, err)
	h2, err := q.Subscribe(2)
	require.NoError(t, err)

	require.NoError(t, q.Send(QueueMessage{ID: 1, DataAddress: 42}))

	m1, err := h1.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), m1.DataAddress)

	m2, err := h2.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), m2.DataAddress)

	require.NoError(t, q.Unsubscribe(1))
	require.NoError(t, q.Send(QueueMessage{ID: 2, DataAddress: 99}))

	_, err = h2.Recv(time.Second)
	require.NoError(t, err)

	// subscriber 1 was unsubscribed and should not see the second publish.
	_, err = h1.Recv(20 * time.Millisecond)
	assert.Error(t, err)
}

func TestFIFOSubscribeIsInvalidOperation(t *testing.T) {
	m := newTestManager(t)
	q, err := m.CreateFIFOQueue(0)
	require.NoError(t, err)

	_, err = q.Subscribe(1)
	assert.Error(t, err)
}

func TestPubSubPollIsInvalidOperation(t *testing.T) {
	m := newTestManager(t)
	q, err := m.CreatePubSubQueue()
	require.NoError(t, err)

	_, err = q.Poll(context.Background(), 1, time.Second)
	assert.Error(t, err)
}

func TestQueueGlobalByteBudgetEnforced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueByteBudget = 100
	m := New(newTestManager(t).mem, cfg)

	q, err := m.CreateFIFOQueue(10)
	require.NoError(t, err)

	require.NoError(t, q.Send(QueueMessage{ID: 1, DataLength: 10}))
	err = q.Send(QueueMessage{ID: 2, DataLength: 10000})
	assert.Error(t, err)
}

func TestFIFOPollWakesOnSend(t *testing.T) {
	m := newTestManager(t)
	q, err := m.CreateFIFOQueue(0)
	require.NoError(t, err)

	done := make(chan QueueMessage, 1)
	go func() {
		msg, err := q.Poll(context.Background(), 0, time.Second)
		if err == nil {
			done <- msg
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Send(QueueMessage{ID: 7}))

	select {
	case msg := <-done:
		assert.Equal(t, uint64(7), msg.ID)
	case <-time.After(time.Second):
		t.Fatal("poll did not wake on send")
	}
}

func TestFIFOQueueAtCapacityIsWouldBlock(t *testing.T) {
	m := newTestManager(t)
	q, err := m.CreateFIFOQueue(2)
	require.NoError(t, err)

	require.NoError(t, q.Send(QueueMessage{ID: 1}))
	require.NoError(t, q.Send(QueueMessage{ID: 2}))
	err = q.Send(QueueMessage{ID: 3})
	assert.Error(t, err)
}
