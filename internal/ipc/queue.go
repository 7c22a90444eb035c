package ipc

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	lfq "code.hybscloud.com/lfq"

	"github.com/ehrlich-b/microkernel/internal/guard"
)

// QueueKind distinguishes the three concrete queue shapes behind one
// manager.
type QueueKind int

const (
	KindFIFO QueueKind = iota
	KindPriority
	KindPubSub
)

func (k QueueKind) String() string {
	switch k {
	case KindFIFO:
		return "fifo"
	case KindPriority:
		return "priority"
	case KindPubSub:
		return "pubsub"
	default:
		return "unknown"
	}
}

// QueueMessage is the metadata envelope for one message; payload bytes
// live in the memory manager and are never copied into the queue.
type QueueMessage struct {
	ID          uint64
	FromPid     uint32
	DataAddress uint64
	DataLength  uint64
	Priority    int32
	Timestamp   int64
}

func messageCost(msg QueueMessage) uint64 {
	return queueMessageOverhead + msg.DataLength
}

// QueueStats is a point-in-time snapshot of a queue.
type QueueStats struct {
	Kind   QueueKind
	Length int
	Closed bool
}

// Queue is the common surface every queue kind exposes. Subscribe/
// Unsubscribe are only meaningful on PubSub queues; on FIFO/Priority they
// return InvalidOperation, and Poll on a PubSub queue via the standard
// FIFO/Priority path returns the same — both are intentional (SPEC_FULL
// §14).
type Queue interface {
	ID() uint64
	Kind() QueueKind
	Send(msg QueueMessage) error
	Receive() (QueueMessage, error)
	Subscribe(pid uint32) (*SubscriberHandle, error)
	Unsubscribe(pid uint32) error
	Poll(ctx context.Context, pid uint32, timeout time.Duration) (QueueMessage, error)
	Close() error
	Destroy() error
	Stats() QueueStats
}

// --- FIFO ---

type queueEntry struct {
	msg  QueueMessage
	cost uint64
}

type fifoQueue struct {
	id      uint64
	mgr     *Manager
	backing *lfq.MPMC[queueEntry]
	length  atomic.Int64
	closed  atomic.Bool
}

// CreateFIFOQueue creates a bounded FIFO queue of the given capacity
// (0 selects the default).
func (m *Manager) CreateFIFOQueue(capacity int) (Queue, error) {
	if capacity <= 0 {
		capacity = m.cfg.FIFOCapacity
	}
	if capacity < 2 {
		capacity = 2
	}
	q := &fifoQueue{id: m.newID(), mgr: m, backing: lfq.NewMPMC[queueEntry](capacity)}
	m.queues.Set(idKey(q.id), q)
	return q, nil
}

func (q *fifoQueue) ID() uint64      { return q.id }
func (q *fifoQueue) Kind() QueueKind { return KindFIFO }

func (q *fifoQueue) Send(msg QueueMessage) error {
	if q.closed.Load() {
		return closedErr("Send", "queue is closed")
	}
	cost := messageCost(msg)
	if !q.mgr.tryReserveQueueBytes(cost) {
		return limitExceeded("Send", "global queue byte budget exceeded")
	}
	entry := queueEntry{msg: msg, cost: cost}
	if err := q.backing.Enqueue(&entry); err != nil {
		q.mgr.releaseQueueBytes(cost)
		return wouldBlock("Send", "queue is at capacity")
	}
	q.length.Add(1)
	q.mgr.waiter.WakeAll(idKey(q.id))
	return nil
}

func (q *fifoQueue) Receive() (QueueMessage, error) {
	entry, err := q.backing.Dequeue()
	if err != nil {
		return QueueMessage{}, wouldBlock("Receive", "queue is empty")
	}
	q.length.Add(-1)
	q.mgr.releaseQueueBytes(entry.cost)
	return entry.msg, nil
}

func (q *fifoQueue) Subscribe(uint32) (*SubscriberHandle, error) {
	return nil, invalidOperation("Subscribe", "subscribe is only valid on a PubSub queue")
}

func (q *fifoQueue) Unsubscribe(uint32) error {
	return invalidOperation("Unsubscribe", "unsubscribe is only valid on a PubSub queue")
}

func (q *fifoQueue) Poll(ctx context.Context, _ uint32, timeout time.Duration) (QueueMessage, error) {
	return pollLoop(ctx, q, q.mgr.waiter, idKey(q.id), timeout)
}

func (q *fifoQueue) Close() error {
	q.closed.Store(true)
	q.mgr.waiter.WakeAll(idKey(q.id))
	return nil
}

func (q *fifoQueue) Destroy() error {
	q.mgr.queues.Delete(idKey(q.id))
	for {
		entry, err := q.backing.Dequeue()
		if err != nil {
			break
		}
		q.mgr.releaseQueueBytes(entry.cost)
	}
	return nil
}

func (q *fifoQueue) Stats() QueueStats {
	return QueueStats{Kind: KindFIFO, Length: int(q.length.Load()), Closed: q.closed.Load()}
}

// pollLoop implements spec §4.C's poll algorithm for FIFO/Priority
// queues: try receive, and if empty, await the notification primitive,
// re-checking closed on wake.
func pollLoop(ctx context.Context, q Queue, waiter interface {
	Wait(key string, timeout time.Duration) bool
}, key string, timeout time.Duration) (QueueMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := q.Receive()
		if err == nil {
			return msg, nil
		}
		if q.Stats().Closed {
			return QueueMessage{}, closedErr("Poll", "queue is closed")
		}
		select {
		case <-ctx.Done():
			return QueueMessage{}, ctx.Err()
		default:
		}
		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			return QueueMessage{}, wouldBlock("Poll", "poll timed out")
		}
		waitFor := remaining
		if timeout <= 0 {
			waitFor = 50 * time.Millisecond
		} else if waitFor > 50*time.Millisecond {
			waitFor = 50 * time.Millisecond
		}
		waiter.Wait(key, waitFor)
	}
}

// --- Priority ---

type priorityEntry struct {
	msg QueueMessage
}

// priorityHeap is a max-heap over (priority, -message_id): higher
// priority first, FIFO among ties (lower id first).
type priorityHeap []priorityEntry

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].msg.ID < h[j].msg.ID
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(priorityEntry)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type priorityQueue struct {
	id     uint64
	mgr    *Manager
	cap    int
	mu     sync.Mutex
	h      priorityHeap
	closed atomic.Bool
}

// CreatePriorityQueue creates a bounded max-heap priority queue.
func (m *Manager) CreatePriorityQueue(capacity int) (Queue, error) {
	if capacity <= 0 {
		capacity = m.cfg.FIFOCapacity
	}
	q := &priorityQueue{id: m.newID(), mgr: m, cap: capacity}
	heap.Init(&q.h)
	m.queues.Set(idKey(q.id), q)
	return q, nil
}

func (q *priorityQueue) ID() uint64      { return q.id }
func (q *priorityQueue) Kind() QueueKind { return KindPriority }

func (q *priorityQueue) Send(msg QueueMessage) error {
	if q.closed.Load() {
		return closedErr("Send", "queue is closed")
	}
	cost := messageCost(msg)
	if !q.mgr.tryReserveQueueBytes(cost) {
		return limitExceeded("Send", "global queue byte budget exceeded")
	}
	q.mu.Lock()
	if len(q.h) >= q.cap {
		q.mu.Unlock()
		q.mgr.releaseQueueBytes(cost)
		return wouldBlock("Send", "queue is at capacity")
	}
	heap.Push(&q.h, priorityEntry{msg: msg})
	q.mu.Unlock()
	q.mgr.waiter.WakeAll(idKey(q.id))
	return nil
}

func (q *priorityQueue) Receive() (QueueMessage, error) {
	q.mu.Lock()
	if len(q.h) == 0 {
		q.mu.Unlock()
		return QueueMessage{}, wouldBlock("Receive", "queue is empty")
	}
	entry := heap.Pop(&q.h).(priorityEntry)
	q.mu.Unlock()
	q.mgr.releaseQueueBytes(messageCost(entry.msg))
	return entry.msg, nil
}

func (q *priorityQueue) Subscribe(uint32) (*SubscriberHandle, error) {
	return nil, invalidOperation("Subscribe", "subscribe is only valid on a PubSub queue")
}

func (q *priorityQueue) Unsubscribe(uint32) error {
	return invalidOperation("Unsubscribe", "unsubscribe is only valid on a PubSub queue")
}

func (q *priorityQueue) Poll(ctx context.Context, _ uint32, timeout time.Duration) (QueueMessage, error) {
	return pollLoop(ctx, q, q.mgr.waiter, idKey(q.id), timeout)
}

func (q *priorityQueue) Close() error {
	q.closed.Store(true)
	q.mgr.waiter.WakeAll(idKey(q.id))
	return nil
}

func (q *priorityQueue) Destroy() error {
	q.mgr.queues.Delete(idKey(q.id))
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.h {
		q.mgr.releaseQueueBytes(messageCost(e.msg))
	}
	q.h = nil
	return nil
}

func (q *priorityQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Kind: KindPriority, Length: len(q.h), Closed: q.closed.Load()}
}

// --- PubSub ---

// SubscriberHandle is a PubSub subscriber's receive handle. It behaves
// like an unbounded channel: Recv never applies backpressure to
// publishers. Its channel is closed by Unsubscribe or by closing the
// queue, and a publish prunes closed channels; a handle that is merely
// dropped is not detected, and its subscription stays until Unsubscribe.
type SubscriberHandle struct {
	ch *unboundedChannel
}

// Recv blocks up to timeout for the next message.
func (h *SubscriberHandle) Recv(timeout time.Duration) (QueueMessage, error) {
	msg, ok, closed := h.ch.wait(timeout)
	if ok {
		return msg, nil
	}
	if closed {
		return QueueMessage{}, closedErr("Recv", "subscriber handle closed")
	}
	return QueueMessage{}, wouldBlock("Recv", "poll timed out")
}

type unboundedChannel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []QueueMessage
	closed bool
}

func newUnboundedChannel() *unboundedChannel {
	c := &unboundedChannel{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *unboundedChannel) push(msg QueueMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.buf = append(c.buf, msg)
	c.cond.Broadcast()
}

func (c *unboundedChannel) wait(timeout time.Duration) (QueueMessage, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for len(c.buf) == 0 && !c.closed {
		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			return QueueMessage{}, false, false
		}
		wait := remaining
		if timeout <= 0 || wait > 20*time.Millisecond {
			wait = 20 * time.Millisecond
		}
		timer := time.AfterFunc(wait, c.cond.Broadcast)
		c.cond.Wait()
		timer.Stop()
	}
	if len(c.buf) > 0 {
		msg := c.buf[0]
		c.buf = c.buf[1:]
		return msg, true, false
	}
	return QueueMessage{}, false, true
}

func (c *unboundedChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
}

type pubsubQueue struct {
	id     uint64
	mgr    *Manager
	mu     sync.Mutex
	subs   map[uint32]*unboundedChannel
	closed atomic.Bool
}

// CreatePubSubQueue creates a publish/subscribe queue with unbounded
// per-subscriber delivery.
func (m *Manager) CreatePubSubQueue() (Queue, error) {
	q := &pubsubQueue{id: m.newID(), mgr: m, subs: make(map[uint32]*unboundedChannel)}
	m.queues.Set(idKey(q.id), q)
	return q, nil
}

func (q *pubsubQueue) ID() uint64      { return q.id }
func (q *pubsubQueue) Kind() QueueKind { return KindPubSub }

// Send publishes msg to every subscriber, pruning any whose handle has
// been closed.
func (q *pubsubQueue) Send(msg QueueMessage) error {
	if q.closed.Load() {
		return closedErr("Send", "queue is closed")
	}
	cost := messageCost(msg)
	if !q.mgr.withinQueueBudget(cost) {
		return limitExceeded("Send", "global queue byte budget exceeded")
	}
	q.mu.Lock()
	for pid, ch := range q.subs {
		ch.mu.Lock()
		disconnected := ch.closed
		ch.mu.Unlock()
		if disconnected {
			delete(q.subs, pid)
			continue
		}
		ch.push(msg)
	}
	q.mu.Unlock()
	return nil
}

func (q *pubsubQueue) Receive() (QueueMessage, error) {
	return QueueMessage{}, invalidOperation("Receive", "receive is only valid on FIFO/Priority queues; use Subscribe")
}

func (q *pubsubQueue) Subscribe(pid uint32) (*SubscriberHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.subs[pid]
	if !ok {
		ch = newUnboundedChannel()
		q.subs[pid] = ch
	}
	return &SubscriberHandle{ch: ch}, nil
}

func (q *pubsubQueue) Unsubscribe(pid uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.subs[pid]
	if !ok {
		return notFound("Unsubscribe", "pid is not subscribed")
	}
	ch.close()
	delete(q.subs, pid)
	return nil
}

// Poll on a PubSub queue via the standard FIFO/Priority path returns
// InvalidOperation — callers must use Subscribe and the SubscriberHandle
// directly (SPEC_FULL §14, intentionally not unified with fifoQueue/
// priorityQueue's Poll).
func (q *pubsubQueue) Poll(context.Context, uint32, time.Duration) (QueueMessage, error) {
	return QueueMessage{}, invalidOperation("Poll", "poll a PubSub queue via its SubscriberHandle instead")
}

func (q *pubsubQueue) Close() error {
	q.closed.Store(true)
	q.mu.Lock()
	defer q.mu.Unlock()
	for pid, ch := range q.subs {
		ch.close()
		delete(q.subs, pid)
	}
	return nil
}

func (q *pubsubQueue) Destroy() error {
	q.mgr.queues.Delete(idKey(q.id))
	return q.Close()
}

func (q *pubsubQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Kind: KindPubSub, Length: len(q.subs), Closed: q.closed.Load()}
}

// Queue looks up a queue by id.
func (m *Manager) Queue(id uint64) (Queue, error) {
	q, ok := m.queues.Get(idKey(id))
	if !ok {
		return nil, notFound("Queue", "no such queue")
	}
	return q, nil
}

// DestroyQueue destroys the queue, releasing any reserved budget.
func (m *Manager) DestroyQueue(id uint64) error {
	q, ok := m.queues.Get(idKey(id))
	if !ok {
		return notFound("DestroyQueue", "no such queue")
	}
	g := guard.NewIPCGuard(id, "queue", func(uint64) error { return q.Destroy() })
	return g.Release()
}
