// Package ksync implements the kernel's synchronization primitives:
// counting semaphores, locks with priority donation, and Mesa-style
// condition variables. The waiter queue is a container/heap priority
// queue of one-shot channels, the shape lifted from Chromium siso's
// sync/semaphore.Prioritized, generalized from static per-request weight
// to the donation-mutable effective priority a parked thread carries in
// original_source's threads/thread.c.
package ksync

import (
	"container/heap"
	"sync"
)

// Waiter is anything that can report its current scheduling priority.
// internal/kthread.Thread_t satisfies this; tests may use a bare struct.
type Waiter interface {
	EffectivePriority() int
}

type semWaiter struct {
	w     Waiter
	ready chan struct{}
	index int
}

type waiterHeap []*semWaiter

func (h waiterHeap) Len() int { return len(h) }

// Less orders by effective priority, descending: the highest-priority
// waiter is popped first. Ties are broken FIFO by insertion order,
// which is preserved because container/heap is not a stable sort on
// its own -- we break ties using the index each waiter was pushed at.
func (h waiterHeap) Less(i, j int) bool {
	pi, pj := h[i].w.EffectivePriority(), h[j].w.EffectivePriority()
	if pi != pj {
		return pi > pj
	}
	return h[i].index < h[j].index
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *waiterHeap) Push(x any) {
	*h = append(*h, x.(*semWaiter))
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Sema_t is a counting semaphore whose wait queue wakes the
// highest-effective-priority waiter first, re-heapified at every
// down/up since donation can change a parked waiter's priority while it
// sleeps (spec.md C2). value == 1 with an initial down gives a binary
// "sleep lock" used to implement Lock_t.
type Sema_t struct {
	mu    sync.Mutex
	value int
	pq    waiterHeap
	seq   int
}

// NewSema creates a semaphore with the given initial value.
func NewSema(value int) *Sema_t {
	s := &Sema_t{value: value}
	heap.Init(&s.pq)
	return s
}

// Down blocks until the semaphore's value is positive, then decrements
// it. w is the calling thread, used to rank it in the wait queue.
func (s *Sema_t) Down(w Waiter) {
	s.DownNotify(w, nil)
}

// DownNotify is Down, but invokes onParked (if non-nil) after the
// caller has been committed to the wait queue and just before it
// actually parks. internal/kthread uses this hook to hand its
// single-CPU baton to another thread at the exact point a thread
// becomes unrunnable, the same instant Pintos's sema_down calls
// thread_block().
func (s *Sema_t) DownNotify(w Waiter, onParked func()) {
	s.mu.Lock()
	if s.value > 0 {
		s.value--
		s.mu.Unlock()
		return
	}
	item := &semWaiter{w: w, ready: make(chan struct{}), index: s.seq}
	s.seq++
	heap.Push(&s.pq, item)
	s.mu.Unlock()

	if onParked != nil {
		onParked()
	}
	<-item.ready
}

// Up wakes the highest-priority waiter if any, otherwise increments the
// value. The heap is re-initialized before popping so that a donation
// applied to a parked waiter since it was pushed is reflected in wake
// order (spec.md C2's "re-sorted at wake").
func (s *Sema_t) Up() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pq.Len() == 0 {
		s.value++
		return
	}
	heap.Init(&s.pq)
	item := heap.Pop(&s.pq).(*semWaiter)
	close(item.ready)
}

// TryDown attempts a non-blocking decrement, returning whether it
// succeeded.
func (s *Sema_t) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// NumWaiters reports the current wait queue depth, for diagnostics and
// tests.
func (s *Sema_t) NumWaiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pq.Len()
}
