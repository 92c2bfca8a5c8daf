package ksync

import (
	"container/heap"
	"sync"
)

// Cond_t is a Mesa-semantics condition variable: Wait atomically
// releases the associated lock and blocks, then reacquires the lock
// before returning. Signal wakes the single highest-priority waiter;
// Broadcast wakes all of them. No priority donation flows through a
// condition variable -- original_source's condition.c never calls
// thread_donate_priority from cond_signal, and spec.md C2 carries that
// behavior forward unchanged.
type Cond_t struct {
	mu      sync.Mutex
	waiters waiterHeap
	seq     int
}

// NewCond creates an empty condition variable.
func NewCond() *Cond_t {
	return &Cond_t{}
}

// Wait releases lock, blocks until signaled, then reacquires lock. The
// caller must hold lock when calling Wait.
func (c *Cond_t) Wait(lock *Lock_t, t Donatee) {
	c.WaitNotify(lock, t, nil)
}

// WaitNotify is Wait, but invokes onParked (if non-nil) after lock has
// been released and just before the caller actually parks. It is only
// safe for callers with no scheduler integration: the scheduler's own
// CondWait uses Enqueue directly so the release and reacquire phases
// run through LockRelease/LockAcquire instead of a bare lock.Release/
// Acquire call racing ahead of the baton.
func (c *Cond_t) WaitNotify(lock *Lock_t, t Donatee, onParked func()) {
	ready := c.Enqueue(t)

	lock.Release(t)
	if onParked != nil {
		onParked()
	}
	<-ready
	lock.Acquire(t)
}

// Enqueue registers t as a waiter on c and returns the channel that
// closes when a later Signal/Broadcast wakes it, without touching any
// lock. Scheduler.CondWait uses this directly so it can route the
// release-then-park and reacquire through its own LockRelease/
// LockAcquire, keeping both phases under baton control.
func (c *Cond_t) Enqueue(t Donatee) <-chan struct{} {
	item := &semWaiter{w: t, ready: make(chan struct{}), index: c.seq}
	c.mu.Lock()
	c.seq++
	heap.Push(&c.waiters, item)
	c.mu.Unlock()
	return item.ready
}

// Signal wakes the highest-effective-priority waiter, if any.
func (c *Cond_t) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters.Len() == 0 {
		return
	}
	heap.Init(&c.waiters)
	item := heap.Pop(&c.waiters).(*semWaiter)
	close(item.ready)
}

// Broadcast wakes every waiter.
func (c *Cond_t) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.waiters.Len() > 0 {
		item := heap.Pop(&c.waiters).(*semWaiter)
		close(item.ready)
	}
}

// NumWaiters reports the current wait count, for tests.
func (c *Cond_t) NumWaiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters.Len()
}
