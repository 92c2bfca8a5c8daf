package kthread

import (
	"container/heap"
	"sync"

	"pintosgo/internal/common"
	"pintosgo/internal/fixedpoint"
	"pintosgo/internal/klog"
	"pintosgo/internal/ksync"
)

var log = klog.For("sched")

const timeSlice = 4 // TIME_SLICE in original_source/src/threads/thread.c

// readyItem and sleepItem are the heap elements for the ready queue
// (ordered by descending effective priority, FIFO among ties) and the
// sleep queue (ordered by ascending wake tick), matching
// original_source's list_insert_ordered(&ready_list, has_higher_priority)
// and list_insert_ordered(&sleeping_list, wakes_up_earlier).

type readyItem struct {
	t   *Thread_t
	seq int64
}

type readyHeap []*readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	pi, pj := h[i].t.EffectivePriority(), h[j].t.EffectivePriority()
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)         { *h = append(*h, x.(*readyItem)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

type sleepItem struct {
	t    *Thread_t
	wake int64
	seq  int64
}

type sleepHeap []*sleepItem

func (h sleepHeap) Len() int { return len(h) }
func (h sleepHeap) Less(i, j int) bool {
	if h[i].wake != h[j].wake {
		return h[i].wake < h[j].wake
	}
	return h[i].seq < h[j].seq
}
func (h sleepHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *sleepHeap) Push(x any)   { *h = append(*h, x.(*sleepItem)) }
func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Scheduler is the single-CPU priority/MLFQ scheduler. All of its
// exported thread-lifecycle methods (Yield, Block, Sleep, Exit,
// SemaDown, LockAcquire, CondWait) must be called by the goroutine of
// the thread they act on -- they are how that goroutine gives up or
// regains the baton.
type Scheduler struct {
	mu       sync.Mutex
	ready    readyHeap
	sleeping sleepHeap
	all      map[common.Tid_t]*Thread_t
	current  *Thread_t
	idle     *Thread_t

	seq     int64
	nextTid int32

	tickCount   int64
	threadTicks int
	idleTicks   int64
	kernelTicks int64

	mlfqs   bool
	loadAvg fixedpoint.Fixed

	metrics *Metrics
}

// NewScheduler creates a scheduler and its initial thread, representing
// whichever goroutine calls NewScheduler (analogous to thread_init
// adopting the booting goroutine as "main"). mlfqs selects the BSD
// scheduler, matching the "-o mlfqs" boot option. metrics may be nil.
func NewScheduler(mlfqs bool, metrics *Metrics) (*Scheduler, *Thread_t) {
	s := &Scheduler{
		all:     make(map[common.Tid_t]*Thread_t),
		mlfqs:   mlfqs,
		loadAvg: fixedpoint.FromInt(0),
		metrics: metrics,
	}
	heap.Init(&s.ready)
	heap.Init(&s.sleeping)

	main := newThread("main", common.PriDefault, 0, fixedpoint.FromInt(0))
	main.Tid = s.allocTid()
	main.status = StatusRunning
	s.all[main.Tid] = main
	s.current = main

	idle := newThread("idle", common.PriMin, 0, fixedpoint.FromInt(0))
	idle.Tid = s.allocTid()
	s.all[idle.Tid] = idle
	s.idle = idle
	go s.idleLoop(idle)

	return s, main
}

func (s *Scheduler) allocTid() common.Tid_t {
	s.nextTid++
	return common.Tid_t(s.nextTid)
}

func (s *Scheduler) nextSeqLocked() int64 {
	s.seq++
	return s.seq
}

// idleLoop is the idle thread's body: next_thread_to_run returns it
// whenever the ready queue is empty, at which point it immediately
// gives the CPU away again, forever.
func (s *Scheduler) idleLoop(self *Thread_t) {
	for {
		<-self.resume
		self.setStatus(StatusRunning)
		s.relinquish(self)
	}
}

// wakeSleepersLocked moves every sleeper whose wake tick has arrived
// onto the ready queue, exactly thread_wake_up's job, but invoked from
// inside relinquish the way original_source's schedule() calls
// thread_wake_up() as its very first action.
func (s *Scheduler) wakeSleepersLocked() {
	for s.sleeping.Len() > 0 && s.sleeping[0].wake <= s.tickCount {
		item := heap.Pop(&s.sleeping).(*sleepItem)
		item.t.setStatus(StatusReady)
		heap.Push(&s.ready, &readyItem{t: item.t, seq: s.nextSeqLocked()})
	}
}

// popNextLocked is next_thread_to_run.
func (s *Scheduler) popNextLocked() *Thread_t {
	if s.ready.Len() == 0 {
		return s.idle
	}
	item := heap.Pop(&s.ready).(*readyItem)
	return item.t
}

func (s *Scheduler) reportMetricsLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.ReadyCount.Set(float64(s.ready.Len()))
	s.metrics.LoadAvgX100.Set(float64(s.loadAvg.MulInt(100).ToIntRound()))
}

// relinquish picks the next thread to run and hands it the baton. It
// never waits for cur to be rescheduled; callers that need to block
// until they run again must follow this with a receive on cur's resume
// channel (see Yield, Block, waitForBaton). The handoff send happens
// even when next == cur (cur's own resume channel is buffered for
// exactly this case): it keeps the "give away the baton, then wait to
// get it back" pattern uniform regardless of whether anyone else was
// ready to take it.
func (s *Scheduler) relinquish(cur *Thread_t) {
	s.mu.Lock()
	s.wakeSleepersLocked()
	next := s.popNextLocked()
	s.current = next
	s.reportMetricsLocked()
	s.mu.Unlock()

	next.setStatus(StatusRunning)
	next.resume <- struct{}{}
}

// waitForBaton puts t on the ready queue and blocks until some future
// relinquish call chooses it. Used after an external wakeup (a
// semaphore/lock/condvar signal) has already fired but before t is
// actually entitled to run again.
func (s *Scheduler) waitForBaton(t *Thread_t) {
	s.mu.Lock()
	t.setStatus(StatusReady)
	heap.Push(&s.ready, &readyItem{t: t, seq: s.nextSeqLocked()})
	s.mu.Unlock()

	<-t.resume
	t.setStatus(StatusRunning)
}

// Current returns the thread presently holding the baton.
func (s *Scheduler) Current() *Thread_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Yield gives up the CPU without blocking: t rejoins the ready queue
// and may be rescheduled immediately.
func (s *Scheduler) Yield(t *Thread_t) {
	if t == s.idle {
		return
	}
	s.mu.Lock()
	t.setStatus(StatusReady)
	heap.Push(&s.ready, &readyItem{t: t, seq: s.nextSeqLocked()})
	s.mu.Unlock()

	s.relinquish(t)
	<-t.resume
	t.setStatus(StatusRunning)
}

// Block deschedules t until some other thread calls Unblock(t).
func (s *Scheduler) Block(t *Thread_t) {
	t.setStatus(StatusBlocked)
	s.relinquish(t)
	<-t.resume
	t.setStatus(StatusRunning)
}

// Unblock marks a blocked thread ready. It does not itself cause a
// context switch, matching thread_unblock's documented contract.
func (s *Scheduler) Unblock(t *Thread_t) {
	s.mu.Lock()
	t.setStatus(StatusReady)
	heap.Push(&s.ready, &readyItem{t: t, seq: s.nextSeqLocked()})
	s.mu.Unlock()
}

// Sleep parks t until the scheduler's tick counter reaches wakeTick.
func (s *Scheduler) Sleep(t *Thread_t, wakeTick int64) {
	s.mu.Lock()
	heap.Push(&s.sleeping, &sleepItem{t: t, wake: wakeTick, seq: s.nextSeqLocked()})
	s.mu.Unlock()

	t.setStatus(StatusBlocked)
	s.relinquish(t)
	<-t.resume
	t.setStatus(StatusRunning)
}

// isHighestPriority is is_highest_priority: true unless the ready
// queue's front has strictly higher priority than t.
func (s *Scheduler) isHighestPriority(t *Thread_t) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready.Len() == 0 {
		return true
	}
	return t.EffectivePriority() >= s.ready[0].t.EffectivePriority()
}

// yieldIfNecessary is yield_if_necessary.
func (s *Scheduler) yieldIfNecessary(t *Thread_t) {
	if !s.isHighestPriority(t) {
		s.Yield(t)
	}
}

// SetPriority performs t's thread_set_priority(p): ignored outright
// under the MLFQ scheduler (original_source/src/threads/thread.c:484),
// otherwise sets t's base priority and yields if t no longer has the
// highest priority.
func (s *Scheduler) SetPriority(t *Thread_t, p int) {
	if s.mlfqs {
		return
	}
	t.SetBasePriority(p)
	s.yieldIfNecessary(t)
}

// SetNice performs t's thread_set_nice(n): sets niceness, recomputes
// effective priority from the MLFQ formula, and yields if t no longer
// has the highest priority (original_source/src/threads/thread.c:623-632).
func (s *Scheduler) SetNice(t *Thread_t, n int) {
	t.SetNice(n)
	s.recalcPriorityLocked(t)
	s.yieldIfNecessary(t)
}

// CreateThread spawns a new thread and adds it to the ready queue,
// yielding caller if the new thread now has strictly higher priority,
// exactly thread_create's contract.
func (s *Scheduler) CreateThread(caller *Thread_t, name string, priority int, fn func(t *Thread_t)) *Thread_t {
	nice, recentCpu := 0, fixedpoint.FromInt(0)
	if caller != nil {
		nice, recentCpu = caller.Nice(), caller.RecentCpu()
	}
	nt := newThread(name, priority, nice, recentCpu)
	nt.Tid = s.allocTid()
	if s.mlfqs {
		nt.priority = s.calcPriority(nt)
		nt.basePriority = nt.priority
	}

	s.mu.Lock()
	s.all[nt.Tid] = nt
	nt.setStatus(StatusReady)
	heap.Push(&s.ready, &readyItem{t: nt, seq: s.nextSeqLocked()})
	s.mu.Unlock()

	log.Debugf("created tid=%d name=%q priority=%d", nt.Tid, nt.Name, nt.EffectivePriority())

	go func() {
		<-nt.resume
		nt.setStatus(StatusRunning)
		fn(nt)
		s.Exit(nt)
	}()

	if caller != nil {
		s.yieldIfNecessary(caller)
	}
	return nt
}

// Exit retires t: it is removed from the all-threads table and the
// baton handed to whoever runs next. The caller's goroutine must return
// immediately after calling Exit; Exit never hands the baton back to it.
// Exit on a thread that is already dying does nothing, so a thread whose
// body already called Exit is not handed off a second time when its
// goroutine returns.
func (s *Scheduler) Exit(t *Thread_t) {
	if t.Status() == StatusDying {
		return
	}
	s.mu.Lock()
	delete(s.all, t.Tid)
	s.mu.Unlock()
	t.setStatus(StatusDying)
	log.Debugf("tid=%d name=%q exiting", t.Tid, t.Name)
	s.relinquish(t)
}

// ForEach calls fn for every live thread, mirroring thread_foreach.
func (s *Scheduler) ForEach(fn func(t *Thread_t)) {
	s.mu.Lock()
	threads := make([]*Thread_t, 0, len(s.all))
	for _, t := range s.all {
		threads = append(threads, t)
	}
	s.mu.Unlock()
	for _, t := range threads {
		fn(t)
	}
}

// --- ksync integration ---

// SemaDown performs t's sema_down(sema): it hands off the CPU the
// instant t is committed to waiting, and reclaims it only after the
// semaphore has actually woken t back up.
func (s *Scheduler) SemaDown(t *Thread_t, sema *ksync.Sema_t) {
	parked := false
	sema.DownNotify(t, func() {
		parked = true
		t.setStatus(StatusBlocked)
		s.relinquish(t)
	})
	if parked {
		s.waitForBaton(t)
	}
}

// LockAcquire performs t's lock_acquire(lock) with donation.
func (s *Scheduler) LockAcquire(t *Thread_t, lock *ksync.Lock_t) {
	parked := false
	lock.AcquireNotify(t, func() {
		parked = true
		t.setStatus(StatusBlocked)
		s.relinquish(t)
	})
	if parked {
		s.waitForBaton(t)
	}
}

// LockRelease performs t's lock_release(lock): releases ownership and
// yields if t no longer has the highest priority, matching release's
// trailing yield_if_necessary in original_source/src/threads/synch.c.
func (s *Scheduler) LockRelease(t *Thread_t, lock *ksync.Lock_t) {
	lock.Release(t)
	s.yieldIfNecessary(t)
}

// CondWait performs t's cond_wait(cond, lock): queues t as a waiter,
// releases lock through LockRelease, parks until a later Signal/
// Broadcast wakes it, then reacquires lock through LockAcquire --
// mirroring cond_wait's lock_release/sema_down/lock_acquire sequence
// with both the release and the reacquire running through the
// scheduler's own baton-handoff methods, never a bare lock call that
// could run kernel code outside of whoever currently holds the baton.
func (s *Scheduler) CondWait(t *Thread_t, cond *ksync.Cond_t, lock *ksync.Lock_t) {
	ready := cond.Enqueue(t)
	s.LockRelease(t, lock)

	t.setStatus(StatusBlocked)
	s.relinquish(t)
	<-ready
	s.waitForBaton(t)

	s.LockAcquire(t, lock)
}

// --- MLFQ ---

// Tick must be called by whichever thread currently holds the baton,
// once per simulated timer tick (the timer IRQ, in a real kernel,
// always interrupts whoever is running). It updates MLFQ bookkeeping and
// enforces the round-robin time slice.
func (s *Scheduler) Tick(t *Thread_t) {
	s.mu.Lock()
	s.tickCount++
	tick := s.tickCount
	if t == s.idle {
		s.idleTicks++
	} else {
		s.kernelTicks++
	}

	if s.mlfqs {
		if t != s.idle {
			t.mu.Lock()
			t.recentCpu = t.recentCpu.AddInt(1)
			t.mu.Unlock()
		}
		if tick%common.TimerFreq == 0 {
			s.recalcLoadAvgLocked()
			for _, th := range s.all {
				s.recalcRecentCpuLocked(th)
			}
		}
		if tick%4 == 0 {
			for _, th := range s.all {
				s.recalcPriorityLocked(th)
			}
		}
	}

	s.threadTicks++
	needYield := s.threadTicks >= timeSlice
	if needYield {
		s.threadTicks = 0
	}
	s.reportMetricsLocked()
	s.mu.Unlock()

	if needYield {
		s.Yield(t)
	}
}

// recalcLoadAvgLocked is thread_recalculate_load_avg.
func (s *Scheduler) recalcLoadAvgLocked() {
	readyCount := s.ready.Len()
	if s.current != s.idle {
		readyCount++
	}
	readyFixed := fixedpoint.FromInt(readyCount).DivInt(60)
	s.loadAvg = s.loadAvg.MulInt(59).DivInt(60).Add(readyFixed)
}

// recalcRecentCpuLocked is thread_recalculate_recent_cpu.
func (s *Scheduler) recalcRecentCpuLocked(t *Thread_t) {
	coeff := s.loadAvg.MulInt(2)
	coeff = coeff.Div(coeff.AddInt(1))

	t.mu.Lock()
	t.recentCpu = t.recentCpu.Mul(coeff).AddInt(t.nice)
	t.mu.Unlock()
}

// calcPriority is thread_calculate_priority.
func (s *Scheduler) calcPriority(t *Thread_t) int {
	t.mu.Lock()
	recentCpu, nice := t.recentCpu, t.nice
	t.mu.Unlock()

	p := fixedpoint.FromInt(common.PriMax)
	p = p.Sub(recentCpu.DivInt(4))
	p = p.Sub(fixedpoint.FromInt(nice).MulInt(2))
	v := p.ToIntTruncate()
	if v < common.PriMin {
		v = common.PriMin
	}
	if v > common.PriMax {
		v = common.PriMax
	}
	return v
}

// recalcPriorityLocked is thread_recalculate_priority.
func (s *Scheduler) recalcPriorityLocked(t *Thread_t) {
	v := s.calcPriority(t)
	t.mu.Lock()
	t.priority = v
	t.basePriority = v
	t.mu.Unlock()
}

// LoadAvgX100 returns 100 times the system load average, matching
// thread_get_load_avg.
func (s *Scheduler) LoadAvgX100() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg.MulInt(100).ToIntRound()
}

// Stats returns idle/kernel tick counts for diagnostics, mirroring
// thread_print_stats.
func (s *Scheduler) Stats() (idleTicks, kernelTicks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleTicks, s.kernelTicks
}

// TickCount returns the current tick count.
func (s *Scheduler) TickCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickCount
}

// Mlfqs reports whether the MLFQ scheduler is active.
func (s *Scheduler) Mlfqs() bool { return s.mlfqs }
