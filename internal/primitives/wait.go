package primitives

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Waiter is the common contract every wait strategy implements.
type Waiter interface {
	// Wait blocks until woken or timeout elapses (timeout<=0 means no
	// timeout). Returns true if woken, false on timeout.
	Wait(key string, timeout time.Duration) bool
	// WakeOne wakes a single waiter blocked on key, if any.
	WakeOne(key string)
	// WakeAll wakes every waiter blocked on key.
	WakeAll(key string)
	// WaiterCount reports how many goroutines currently block on key.
	WaiterCount(key string) int
}

// Strategy selects a Waiter implementation.
type Strategy int

const (
	// StrategyCondvar uses a fixed array of cache-line-padded condvar
	// slots, chosen by hashing the key. Collisions cause spurious wakes.
	StrategyCondvar Strategy = iota
	// StrategyAdaptiveSpin spins briefly, then yields, then backs off to
	// sleeping, and finally falls back to the condvar strategy.
	StrategyAdaptiveSpin
)

// NewWaiter constructs a Waiter for the given strategy and slot count
// (rounded up to a power of two; 0 selects a default).
func NewWaiter(strategy Strategy, slots int) Waiter {
	cv := newCondvarWaiter(slots)
	switch strategy {
	case StrategyAdaptiveSpin:
		return &adaptiveSpinWaiter{fallback: cv}
	default:
		return cv
	}
}

// padded pads a sync.Cond+counter to its own cache line to avoid false
// sharing between adjacent slots.
type padded struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiters int32
	epoch   uint64
	_       [40]byte // pad to ~64 bytes alongside the above fields
}

type condvarWaiter struct {
	slots []*padded
	mask  uint64
}

func newCondvarWaiter(n int) *condvarWaiter {
	if n <= 0 {
		n = 64
	}
	size := 1
	for size < n {
		size <<= 1
	}
	slots := make([]*padded, size)
	for i := range slots {
		p := &padded{}
		p.cond = sync.NewCond(&p.mu)
		slots[i] = p
	}
	return &condvarWaiter{slots: slots, mask: uint64(size - 1)}
}

func (c *condvarWaiter) slotFor(key string) *padded {
	return c.slots[hashKey(key)&c.mask]
}

func (c *condvarWaiter) Wait(key string, timeout time.Duration) bool {
	slot := c.slotFor(key)
	slot.mu.Lock()
	startEpoch := slot.epoch
	atomic.AddInt32(&slot.waiters, 1)
	defer atomic.AddInt32(&slot.waiters, -1)

	if timeout <= 0 {
		for slot.epoch == startEpoch {
			slot.cond.Wait()
		}
		slot.mu.Unlock()
		return true
	}

	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		slot.mu.Lock()
		close(done)
		slot.cond.Broadcast()
		slot.mu.Unlock()
	})
	defer timer.Stop()

	woken := false
	for slot.epoch == startEpoch {
		select {
		case <-done:
			slot.mu.Unlock()
			return false
		default:
		}
		slot.cond.Wait()
	}
	woken = true
	slot.mu.Unlock()
	return woken
}

func (c *condvarWaiter) WakeOne(key string) {
	slot := c.slotFor(key)
	slot.mu.Lock()
	slot.epoch++
	slot.cond.Signal()
	slot.mu.Unlock()
}

func (c *condvarWaiter) WakeAll(key string) {
	slot := c.slotFor(key)
	slot.mu.Lock()
	slot.epoch++
	slot.cond.Broadcast()
	slot.mu.Unlock()
}

func (c *condvarWaiter) WaiterCount(key string) int {
	slot := c.slotFor(key)
	return int(atomic.LoadInt32(&slot.waiters))
}

// adaptiveSpinWaiter implements the three-phase spin described in spec
// §4.A: tight spin (~10 iters), yield (~40 iters), exponential backoff
// sleep capped at 1ms, falling back to a condvar wait once the budget is
// exhausted.
type adaptiveSpinWaiter struct {
	fallback *condvarWaiter
	signaled sync.Map // key -> *uint64 generation counter
}

func (a *adaptiveSpinWaiter) generation(key string) *uint64 {
	v, _ := a.signaled.LoadOrStore(key, new(uint64))
	return v.(*uint64)
}

func (a *adaptiveSpinWaiter) Wait(key string, timeout time.Duration) bool {
	gen := a.generation(key)
	start := atomic.LoadUint64(gen)
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for i := 0; i < 10; i++ {
		if atomic.LoadUint64(gen) != start {
			return true
		}
		spinPause()
	}
	for i := 0; i < 40; i++ {
		if atomic.LoadUint64(gen) != start {
			return true
		}
		runtime.Gosched()
	}

	backoff := time.Microsecond * 50
	const cap = time.Millisecond
	for {
		if atomic.LoadUint64(gen) != start {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > cap {
			break
		}
	}

	remaining := time.Duration(0)
	if !deadline.IsZero() {
		remaining = time.Until(deadline)
		if remaining <= 0 {
			return atomic.LoadUint64(gen) != start
		}
	}
	return a.fallback.Wait(key, remaining)
}

func (a *adaptiveSpinWaiter) WakeOne(key string) {
	atomic.AddUint64(a.generation(key), 1)
	a.fallback.WakeOne(key)
}

func (a *adaptiveSpinWaiter) WakeAll(key string) {
	atomic.AddUint64(a.generation(key), 1)
	a.fallback.WakeAll(key)
}

func (a *adaptiveSpinWaiter) WaiterCount(key string) int {
	return a.fallback.WaiterCount(key)
}
