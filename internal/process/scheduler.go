package process

import (
	"container/heap"
	"sync"
	"time"
)

// Policy selects which queue discipline the scheduler uses.
type Policy int

const (
	PolicyRoundRobin Policy = iota
	PolicyPriority
	PolicyFair
)

// queued is one runnable entry tracked by the scheduler.
type queued struct {
	pid      uint32
	priority int
	vruntime float64
	seq      uint64 // insertion order, for FIFO tie-breaking
	index    int    // heap index, maintained by container/heap
}

// priorityHeap orders by priority descending, ties broken by insertion
// order (lower seq first), per spec §4.E / §8.
type priorityHeap []*queued

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	e := x.(*queued)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// vruntimeHeap orders by virtual runtime ascending (smallest vruntime
// runs next), ties broken by insertion order, backing the Fair policy.
type vruntimeHeap []*queued

func (h vruntimeHeap) Len() int { return len(h) }
func (h vruntimeHeap) Less(i, j int) bool {
	if h[i].vruntime != h[j].vruntime {
		return h[i].vruntime < h[j].vruntime
	}
	return h[i].seq < h[j].seq
}
func (h vruntimeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *vruntimeHeap) Push(x any) {
	e := x.(*queued)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *vruntimeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// priorityWeight maps a priority band to a CFS-style weight: higher
// priority accrues vruntime more slowly, so it is preferred again sooner.
func priorityWeight(priority int) float64 {
	switch {
	case priority >= 90:
		return 8
	case priority >= 70:
		return 4
	case priority >= 50:
		return 2
	case priority >= 30:
		return 1
	default:
		return 0.5
	}
}

// Scheduler maintains three parallel queues (one active per Policy), a
// current entry, and a pid->location index for O(1) FIFO priority
// updates and O(log n) heap updates.
type Scheduler struct {
	mu       sync.Mutex
	policy   Policy
	quantum  time.Duration
	fifo     []*queued // deque, front = index 0
	prio     priorityHeap
	fair     vruntimeHeap
	byPid    map[uint32]*queued
	current  *queued
	curStart time.Time
	nextSeq  uint64
}

// SchedulerConfig parameterizes a Scheduler.
type SchedulerConfig struct {
	Policy  Policy
	Quantum time.Duration
}

// DefaultQuantum is the scheduler's default time slice.
const DefaultQuantum = 10 * time.Millisecond

// NewScheduler constructs a Scheduler under the given policy and quantum.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	q := cfg.Quantum
	if q <= 0 {
		q = DefaultQuantum
	}
	return &Scheduler{
		policy:  cfg.Policy,
		quantum: q,
		byPid:   make(map[uint32]*queued),
	}
}

// Enqueue adds pid to the ready set at the given priority.
func (s *Scheduler) Enqueue(pid uint32, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	e := &queued{pid: pid, priority: priority, seq: s.nextSeq}
	s.byPid[pid] = e
	switch s.policy {
	case PolicyRoundRobin:
		e.index = len(s.fifo)
		s.fifo = append(s.fifo, e)
	case PolicyPriority:
		heap.Push(&s.prio, e)
	case PolicyFair:
		heap.Push(&s.fair, e)
	}
}

// SetPriority updates pid's priority in the ready set (and current, if
// it is running), re-ordering the active heap if necessary.
func (s *Scheduler) SetPriority(pid uint32, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.pid == pid {
		s.current.priority = priority
	}
	e, ok := s.byPid[pid]
	if !ok {
		return
	}
	e.priority = priority
	switch s.policy {
	case PolicyPriority:
		if e.index >= 0 && e.index < len(s.prio) {
			heap.Fix(&s.prio, e.index)
		}
	}
}

// SetPolicy collects every entry across all queues and the current slot,
// switches the active policy, and re-enqueues each entry under the new
// policy (spec §4.E: "policy changes are safe mid-run").
func (s *Scheduler) SetPolicy(policy Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*queued
	all = append(all, s.fifo...)
	all = append(all, []*queued(s.prio)...)
	all = append(all, []*queued(s.fair)...)
	if s.current != nil {
		all = append(all, s.current)
		s.current = nil
	}

	s.fifo = nil
	s.prio = nil
	s.fair = nil
	s.byPid = make(map[uint32]*queued)
	s.policy = policy

	for _, e := range all {
		e.index = -1
		s.byPid[e.pid] = e
		switch policy {
		case PolicyRoundRobin:
			e.index = len(s.fifo)
			s.fifo = append(s.fifo, e)
		case PolicyPriority:
			heap.Push(&s.prio, e)
		case PolicyFair:
			heap.Push(&s.fair, e)
		}
	}
}

func (s *Scheduler) popFront() *queued {
	switch s.policy {
	case PolicyRoundRobin:
		if len(s.fifo) == 0 {
			return nil
		}
		e := s.fifo[0]
		s.fifo = s.fifo[1:]
		delete(s.byPid, e.pid)
		return e
	case PolicyPriority:
		if len(s.prio) == 0 {
			return nil
		}
		e := heap.Pop(&s.prio).(*queued)
		delete(s.byPid, e.pid)
		return e
	case PolicyFair:
		if len(s.fair) == 0 {
			return nil
		}
		e := heap.Pop(&s.fair).(*queued)
		delete(s.byPid, e.pid)
		return e
	}
	return nil
}

func (s *Scheduler) peekFrontPriority() (int, bool) {
	switch s.policy {
	case PolicyRoundRobin:
		if len(s.fifo) == 0 {
			return 0, false
		}
		return s.fifo[0].priority, true
	case PolicyPriority:
		if len(s.prio) == 0 {
			return 0, false
		}
		return s.prio[0].priority, true
	case PolicyFair:
		if len(s.fair) == 0 {
			return 0, false
		}
		return s.fair[0].priority, true
	}
	return 0, false
}

// Schedule implements spec §4.E's per-call decision:
//  1. keep current if its quantum has not elapsed and it is not
//     strictly lower priority than the ready-set head;
//  2. otherwise pop the next entry by policy and make it current.
//
// Returns the pid to run and whether a switch occurred (the preemption
// controller uses the switch signal to send SIGSTOP/SIGCONT).
func (s *Scheduler) Schedule() (pid uint32, switched bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		elapsed := time.Since(s.curStart)
		headPriority, hasHead := s.peekFrontPriority()
		if elapsed < s.quantum && (!hasHead || headPriority <= s.current.priority) {
			return s.current.pid, false, true
		}
		s.accrueVruntime(elapsed)
		s.requeueCurrent()
	}

	next := s.popFront()
	if next == nil {
		if s.current != nil {
			return s.current.pid, false, true
		}
		return 0, false, false
	}
	s.current = next
	s.curStart = time.Now()
	return next.pid, true, true
}

func (s *Scheduler) accrueVruntime(elapsed time.Duration) {
	if s.policy != PolicyFair || s.current == nil {
		return
	}
	s.current.vruntime += float64(elapsed) / priorityWeight(s.current.priority)
}

func (s *Scheduler) requeueCurrent() {
	if s.current == nil {
		return
	}
	e := s.current
	s.current = nil
	// Re-queueing a timed-out entry assigns it a fresh sequence number so
	// same-priority/vruntime ties cycle fairly instead of the original
	// insertion order perpetually favoring the earliest entry.
	s.nextSeq++
	e.seq = s.nextSeq
	s.byPid[e.pid] = e
	switch s.policy {
	case PolicyRoundRobin:
		e.index = len(s.fifo)
		s.fifo = append(s.fifo, e)
	case PolicyPriority:
		heap.Push(&s.prio, e)
	case PolicyFair:
		heap.Push(&s.fair, e)
	}
}

// Remove drops pid from the ready set or the current slot (e.g. on
// process termination), returning whether it was found.
func (s *Scheduler) Remove(pid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.pid == pid {
		s.current = nil
		return true
	}
	e, ok := s.byPid[pid]
	if !ok {
		return false
	}
	delete(s.byPid, pid)
	switch s.policy {
	case PolicyRoundRobin:
		for i, f := range s.fifo {
			if f == e {
				s.fifo = append(s.fifo[:i], s.fifo[i+1:]...)
				break
			}
		}
	case PolicyPriority:
		if e.index >= 0 && e.index < len(s.prio) {
			heap.Remove(&s.prio, e.index)
		}
	case PolicyFair:
		if e.index >= 0 && e.index < len(s.fair) {
			heap.Remove(&s.fair, e.index)
		}
	}
	return true
}

// Len reports the number of ready (non-current) entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.policy {
	case PolicyRoundRobin:
		return len(s.fifo)
	case PolicyPriority:
		return len(s.prio)
	case PolicyFair:
		return len(s.fair)
	}
	return 0
}

// Current returns the currently-scheduled pid, if any.
func (s *Scheduler) Current() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0, false
	}
	return s.current.pid, true
}

// SetQuantum updates the scheduler's time slice; picked up atomically by
// the next Schedule() call.
func (s *Scheduler) SetQuantum(q time.Duration) {
	s.mu.Lock()
	s.quantum = q
	s.mu.Unlock()
}
