package ksync

import (
	"sync"

	"pintosgo/internal/klog"

	"pintosgo/internal/common"
)

var log = klog.For("ksync")

// Donatee is a thread that can receive and carry donated priority. It is
// satisfied by internal/kthread.Thread_t; Lock_t and Cond_t only depend
// on this interface so ksync never imports kthread.
type Donatee interface {
	Waiter

	// BlockingLock reports the lock this thread is currently waiting to
	// acquire, or nil if it isn't blocked on one.
	BlockingLock() *Lock_t
	SetBlockingLock(l *Lock_t)

	// Donate records that priority was donated to this thread on
	// account of lock, raising its effective priority if priority is
	// higher than any existing donation for that lock.
	Donate(lock *Lock_t, priority int)

	// UndonateLock removes any donation this thread holds on account of
	// lock, recomputing its effective priority from its base priority
	// and any remaining donations.
	UndonateLock(lock *Lock_t)
}

// Lock_t is a mutex with priority donation: a thread blocked trying to
// acquire a held lock donates its effective priority to the holder, and
// transitively to whatever the holder itself is blocked on, up to
// common.MaxDonationChain hops (original_source's thread_donate_priority,
// spec.md C2).
type Lock_t struct {
	sema *Sema_t

	mu     sync.Mutex
	holder Donatee
}

// NewLock creates an unheld lock.
func NewLock() *Lock_t {
	return &Lock_t{sema: NewSema(1)}
}

// Acquire blocks until the lock is free, donating priority up the chain
// while waiting, then takes ownership.
func (l *Lock_t) Acquire(t Donatee) {
	l.AcquireNotify(t, nil)
}

// AcquireNotify is Acquire, but invokes onParked (if non-nil) at the
// instant the caller is committed to waiting, mirroring
// Sema_t.DownNotify.
func (l *Lock_t) AcquireNotify(t Donatee, onParked func()) {
	l.mu.Lock()
	holder := l.holder
	l.mu.Unlock()

	if holder != nil && holder != t {
		t.SetBlockingLock(l)
		donateChain(t)
	}

	l.sema.DownNotify(t, onParked)

	l.mu.Lock()
	l.holder = t
	l.mu.Unlock()
	t.SetBlockingLock(nil)
}

// TryAcquire attempts a non-blocking acquire, returning whether it
// succeeded. No donation occurs on failure: the caller didn't block.
func (l *Lock_t) TryAcquire(t Donatee) bool {
	if !l.sema.TryDown() {
		return false
	}
	l.mu.Lock()
	l.holder = t
	l.mu.Unlock()
	return true
}

// Release gives up ownership, removing any donation the releasing
// thread was carrying on this lock's account, and wakes the
// highest-priority waiter.
func (l *Lock_t) Release(t Donatee) {
	l.mu.Lock()
	l.holder = nil
	l.mu.Unlock()
	t.UndonateLock(l)
	l.sema.Up()
}

// Holder returns the current owner, or nil if unheld.
func (l *Lock_t) Holder() Donatee {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// IsHeldBy reports whether t currently owns the lock.
func (l *Lock_t) IsHeldBy(t Donatee) bool {
	return l.Holder() == t
}

// donateChain walks blocking-lock edges from donor toward whatever it's
// ultimately waiting on, donating donor's current effective priority at
// each hop, matching thread_donate_priority's recursive re-entry after
// thread_choose_priority at the receiver. Bounded at
// common.MaxDonationChain hops; exceeding it is a programmer error (a
// lock-acquire cycle), not a runtime condition to recover from.
func donateChain(donor Donatee) {
	cur := donor
	for depth := 0; ; depth++ {
		lock := cur.BlockingLock()
		if lock == nil {
			return
		}
		if depth >= common.MaxDonationChain {
			klog.Panicf("ksync: donation chain exceeded %d hops", common.MaxDonationChain)
		}
		receiver := lock.Holder()
		if receiver == nil {
			return
		}
		receiver.Donate(lock, cur.EffectivePriority())
		cur = receiver
	}
}
