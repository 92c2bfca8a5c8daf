// Package frame implements the kaddr-keyed frame table: the physical-page
// ownership map that C6's supplemental page table and C7's fault handler
// allocate from. Physical memory is simulated as a flat byte arena sized
// at boot; a kaddr is an index into that arena, not a real pointer, the
// same relationship Biscuit's physmem/pgcount bookkeeping has to actual
// RAM.
package frame

import (
	"fmt"
	"math/rand"
	"sync"

	"pintosgo/internal/common"
	"pintosgo/internal/klog"
)

var log = klog.For("frame")

// Frame_t is one entry in the frame table: original_source's vm/frame.h
// struct frame, keyed by kaddr.
type Frame_t struct {
	Kaddr     common.Pa_t
	Uaddr     common.Uaddr_t
	Writable  bool
	Owner     common.Tid_t
	Evictable bool
}

// EvictHandler is implemented by whatever owns page contents (the
// supplemental page table) so that Table can evict a victim without
// knowing anything about swap or the filesystem. Evict must, per
// spec.md C4's victim-handling sequence: clear the owner's PTE, persist
// the page if dirty or anonymous (to swap) or mmap-dirty (write-back to
// file), and leave clean file-backed pages to simply drop. Table removes
// the frame record itself once Evict returns successfully.
type EvictHandler interface {
	Evict(f *Frame_t) error
}

// Table is the frame table plus the simulated RAM arena it allocates
// from.
type Table struct {
	mu      sync.Mutex
	ram     []byte
	frames  map[common.Pa_t]*Frame_t
	free    []common.Pa_t
	handler EvictHandler
}

// NewTable allocates a simulated RAM arena of numFrames pages and an
// empty frame table. handler is consulted whenever allocation must evict
// to make room.
func NewTable(numFrames int, handler EvictHandler) *Table {
	t := &Table{
		ram:     make([]byte, numFrames*common.PGSIZE),
		frames:  make(map[common.Pa_t]*Frame_t, numFrames),
		free:    make([]common.Pa_t, numFrames),
		handler: handler,
	}
	for i := 0; i < numFrames; i++ {
		t.free[i] = common.Pa_t(i)
	}
	return t
}

// Bytes returns the page-sized slice of simulated RAM backing kaddr. The
// caller may read or write it directly; Table does not interpret frame
// contents.
func (t *Table) Bytes(kaddr common.Pa_t) []byte {
	off := int(kaddr) * common.PGSIZE
	return t.ram[off : off+common.PGSIZE]
}

// Alloc installs a frame for uaddr, evicting a victim first if the pool
// is exhausted. The returned frame starts Evictable.
func (t *Table) Alloc(uaddr common.Uaddr_t, writable bool, owner common.Tid_t) (*Frame_t, error) {
	t.mu.Lock()
	if len(t.free) == 0 {
		t.mu.Unlock()
		if err := t.evictOne(); err != nil {
			return nil, err
		}
		t.mu.Lock()
	}
	if len(t.free) == 0 {
		t.mu.Unlock()
		klog.Panicf("frame: pool exhausted after eviction")
	}

	kaddr := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	f := &Frame_t{Kaddr: kaddr, Uaddr: uaddr, Writable: writable, Owner: owner, Evictable: true}
	t.frames[kaddr] = f
	t.mu.Unlock()

	return f, nil
}

// evictOne picks a victim uniformly among currently evictable frames and
// hands it to the handler. original_source's frame_evict samples
// `random_ulong() % (frame_table_size - 1) + 1` over the *whole* table,
// which both ignores Evictable and can land on an index outside the
// table when frame_table_size is small (spec.md §9(b)); this samples
// uniformly over just the evictable subset instead.
func (t *Table) evictOne() error {
	t.mu.Lock()
	candidates := make([]*Frame_t, 0, len(t.frames))
	for _, f := range t.frames {
		if f.Evictable {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		t.mu.Unlock()
		klog.Panicf("frame: eviction requested but every frame is pinned")
	}
	victim := candidates[rand.Intn(len(candidates))]
	t.mu.Unlock()

	log.WithField("kaddr", victim.Kaddr).Debug("evicting frame")
	if err := t.handler.Evict(victim); err != nil {
		return fmt.Errorf("frame: evict kaddr %d: %w", victim.Kaddr, err)
	}

	t.mu.Lock()
	delete(t.frames, victim.Kaddr)
	t.free = append(t.free, victim.Kaddr)
	t.mu.Unlock()
	return nil
}

// Free removes a frame record and returns its page to the pool. It does
// not clear the page's contents -- the next allocation may overwrite
// them, same as palloc_free_page.
func (t *Table) Free(kaddr common.Pa_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.frames[kaddr]; !ok {
		klog.Panicf("frame: free of unowned kaddr %d", kaddr)
	}
	delete(t.frames, kaddr)
	t.free = append(t.free, kaddr)
}

// Lookup returns the frame at kaddr, if any.
func (t *Table) Lookup(kaddr common.Pa_t) (*Frame_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.frames[kaddr]
	return f, ok
}

// FindByUaddr linear-scans the table for owner's frame mapping uaddr, the
// same traversal original_source's frame_find_upage performs (there,
// over the whole table; here narrowed to one owner since this table is
// shared system-wide across processes).
func (t *Table) FindByUaddr(owner common.Tid_t, uaddr common.Uaddr_t) (*Frame_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.frames {
		if f.Owner == owner && f.Uaddr == uaddr {
			return f, true
		}
	}
	return nil, false
}

// SetEvictable pins or unpins a frame. A pinned (Evictable == false)
// frame is one currently undergoing I/O into its contents and must never
// be chosen as an eviction victim.
func (t *Table) SetEvictable(kaddr common.Pa_t, evictable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.frames[kaddr]
	if !ok {
		klog.Panicf("frame: set_evictable on unowned kaddr %d", kaddr)
	}
	f.Evictable = evictable
}

// NumFrames reports the table's total capacity, for diagnostics and
// tests.
func (t *Table) NumFrames() int {
	return len(t.ram) / common.PGSIZE
}

// NumFree reports the number of currently unallocated frames.
func (t *Table) NumFree() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.free)
}
