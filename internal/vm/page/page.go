// Package page implements the per-process supplemental page table: the
// uaddr -> page-state map the fault handler consults to materialize a
// page, and the Registry that lets the shared frame table evict any
// process's page without frame needing to know what a page table is.
package page

import (
	"fmt"
	"sync"

	"pintosgo/internal/common"
	"pintosgo/internal/device"
	"pintosgo/internal/klog"
	"pintosgo/internal/vm/frame"
	"pintosgo/internal/vm/swap"
)

var log = klog.For("page")

// State classifies how to materialize a non-resident page, per
// original_source's vm/page.h and spec.md C6.
type State int

const (
	ZeroFill State = iota
	FileBacked
	MMapped
	InSwap
)

func (s State) String() string {
	switch s {
	case ZeroFill:
		return "zero-fill"
	case FileBacked:
		return "file-backed"
	case MMapped:
		return "mmapped"
	case InSwap:
		return "in-swap"
	default:
		return "unknown"
	}
}

// Entry is one supplemental page table entry. kind never changes after
// creation (it is the page's origin: anonymous, ELF segment, or mmap
// region); inSwap/slot track whether the page is currently swapped out.
// State() folds these into the four-valued view spec.md C6 describes.
type Entry struct {
	Uaddr      common.Uaddr_t
	kind       State
	Writable   bool
	Dirty      bool
	File       device.FileHandle
	FileOffset uint32
	ReadBytes  uint32

	inSwap bool
	slot   swap.Slot
}

// State reports the entry's current materialization recipe: InSwap
// overrides kind whenever the page is actually swapped out, otherwise
// kind (ZeroFill/FileBacked/MMapped) describes where a fault should fetch
// it from.
func (e *Entry) State() State {
	if e.inSwap {
		return InSwap
	}
	return e.kind
}

// Table is one process's uaddr -> Entry map.
type Table struct {
	mu      sync.Mutex
	owner   common.Tid_t
	entries map[common.Uaddr_t]*Entry
	reg     *Registry
}

// Registry routes frame-table eviction callbacks to the owning process's
// Table and owns the frame table and swap manager every Table allocates
// and swaps through. One Registry per kernel instance.
type Registry struct {
	mu     sync.Mutex
	tables map[common.Tid_t]*Table
	frames *frame.Table
	swap   *swap.Manager
}

// NewRegistry builds a registry over a swap manager; the frame table is
// attached afterwards with BindFrameTable. The registry itself satisfies
// frame.EvictHandler, so callers construct it before constructing the
// frame.Table it backs.
func NewRegistry(swapMgr *swap.Manager) *Registry {
	return &Registry{
		tables: make(map[common.Tid_t]*Table),
		swap:   swapMgr,
	}
}

// BindFrameTable completes the two-way wiring between Registry and
// frame.Table: frame.NewTable needs a Registry as its EvictHandler, and
// Registry needs the resulting *frame.Table back to allocate frames for
// page_load and free them on process exit.
func (r *Registry) BindFrameTable(ft *frame.Table) {
	r.frames = ft
}

// Frames returns the frame table this registry was bound to, letting
// other packages (internal/process's user-memory accessor) read a
// loaded page's bytes by kaddr without duplicating frame bookkeeping.
func (r *Registry) Frames() *frame.Table {
	return r.frames
}

// NewTable creates an empty supplemental page table for owner and
// registers it so evictions of owner's frames route here.
func (r *Registry) NewTable(owner common.Tid_t) *Table {
	t := &Table{owner: owner, entries: make(map[common.Uaddr_t]*Entry), reg: r}
	r.mu.Lock()
	r.tables[owner] = t
	r.mu.Unlock()
	return t
}

// Evict implements frame.EvictHandler, dispatching to the frame's
// owning process's table.
func (r *Registry) Evict(f *frame.Frame_t) error {
	r.mu.Lock()
	t := r.tables[f.Owner]
	r.mu.Unlock()
	if t == nil {
		return fmt.Errorf("page: evict kaddr %d: owner %d has no page table", f.Kaddr, f.Owner)
	}
	return t.evict(f)
}

func (r *Registry) forget(owner common.Tid_t) {
	r.mu.Lock()
	delete(r.tables, owner)
	r.mu.Unlock()
}

// InstallZeroFill adds a zero-fill (anonymous) entry at uaddr's page.
func (t *Table) InstallZeroFill(uaddr common.Uaddr_t, writable bool) {
	t.install(&Entry{Uaddr: common.RoundDownPage(uaddr), kind: ZeroFill, Writable: writable})
}

// InstallFileBacked adds an entry read from (file, offset) on first
// fault, zero-padded past readBytes to a full page.
func (t *Table) InstallFileBacked(uaddr common.Uaddr_t, writable bool, f device.FileHandle, offset, readBytes uint32) {
	t.install(&Entry{
		Uaddr: common.RoundDownPage(uaddr), kind: FileBacked, Writable: writable,
		File: f, FileOffset: offset, ReadBytes: readBytes,
	})
}

// InstallMMapped adds a writable, file-backed entry whose lifetime is
// bound to a mapped-file region: dirty pages write back to file on
// eviction or destroy instead of going to swap.
func (t *Table) InstallMMapped(uaddr common.Uaddr_t, f device.FileHandle, offset, readBytes uint32) {
	t.install(&Entry{
		Uaddr: common.RoundDownPage(uaddr), kind: MMapped, Writable: true,
		File: f, FileOffset: offset, ReadBytes: readBytes,
	})
}

func (t *Table) install(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[e.Uaddr]; exists {
		klog.Panicf("page: duplicate supplemental entry for uaddr %#x", e.Uaddr)
	}
	t.entries[e.Uaddr] = e
}

// Lookup returns the entry covering uaddr's page, if any.
func (t *Table) Lookup(uaddr common.Uaddr_t) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[common.RoundDownPage(uaddr)]
	return e, ok
}

// MarkDirty records that a resident page has been written to, so a
// later eviction knows to persist it. This module has no MMU dirty bit
// to read, so the write-path (syscall write into an mmap'd region, or
// any store through a writable user page) calls this explicitly.
func (t *Table) MarkDirty(uaddr common.Uaddr_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[common.RoundDownPage(uaddr)]; ok {
		e.Dirty = true
	}
}

// Load is page_load: the fault handler's single entry point. It pins the
// allocated frame for the duration of its own I/O, per spec.md C6. A page
// that is already resident is returned in its current frame unchanged.
func (t *Table) Load(uaddr common.Uaddr_t) (*frame.Frame_t, error) {
	page := common.RoundDownPage(uaddr)
	t.mu.Lock()
	e, ok := t.entries[page]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("page: load uaddr %#x: no supplemental entry", uaddr)
	}
	if f, resident := t.reg.frames.FindByUaddr(t.owner, page); resident {
		return f, nil
	}

	f, err := t.reg.frames.Alloc(page, e.Writable, t.owner)
	if err != nil {
		return nil, err
	}
	t.reg.frames.SetEvictable(f.Kaddr, false)
	defer t.reg.frames.SetEvictable(f.Kaddr, true)

	buf := t.reg.frames.Bytes(f.Kaddr)

	t.mu.Lock()
	inSwap, slot := e.inSwap, e.slot
	kind := e.kind
	t.mu.Unlock()

	switch {
	case inSwap:
		if err := t.reg.swap.ReadPage(slot, buf); err != nil {
			return nil, err
		}
		t.mu.Lock()
		e.inSwap = false
		e.slot = swap.NoSlot
		t.mu.Unlock()
	case kind == ZeroFill:
		for i := range buf {
			buf[i] = 0
		}
	case kind == FileBacked || kind == MMapped:
		for i := range buf {
			buf[i] = 0
		}
		e.File.Seek(e.FileOffset)
		if _, errno := e.File.Read(buf[:e.ReadBytes]); errno != common.EOK {
			return nil, fmt.Errorf("page: load uaddr %#x: file read failed: %d", uaddr, errno)
		}
	}

	log.WithField("uaddr", fmt.Sprintf("%#x", uaddr)).WithField("state", kind).Debug("page loaded")
	return f, nil
}

// evict performs the victim-handling sequence from spec.md C4 step 2-4
// for one frame, called by Registry.Evict under the frame table's
// selection (steps 1 and 5 -- clearing the PTE and freeing the frame
// record -- are frame.Table's and the process layer's responsibility).
func (t *Table) evict(f *frame.Frame_t) error {
	t.mu.Lock()
	e, ok := t.entries[f.Uaddr]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("page: evict uaddr %#x: no supplemental entry", f.Uaddr)
	}

	content := t.reg.frames.Bytes(f.Kaddr)

	switch {
	case e.kind == MMapped:
		if e.Dirty {
			if err := t.writeBack(e, content); err != nil {
				return err
			}
		}
		// Dropped either way: a later fault refetches from (file, offset).
	case e.kind == ZeroFill || e.Dirty:
		slot, err := t.reg.swap.WritePage(content)
		if err != nil {
			return err
		}
		t.mu.Lock()
		e.inSwap = true
		e.slot = slot
		t.mu.Unlock()
	default:
		// Clean, non-mmap file-backed: drop, refetch from file later.
	}
	return nil
}

func (t *Table) writeBack(e *Entry, content []byte) error {
	e.File.Seek(e.FileOffset)
	n, errno := e.File.Write(content[:e.ReadBytes])
	if errno != common.EOK {
		return fmt.Errorf("page: write-back uaddr %#x: %d", e.Uaddr, errno)
	}
	if uint32(n) != e.ReadBytes {
		return fmt.Errorf("page: write-back uaddr %#x: short write %d/%d", e.Uaddr, n, e.ReadBytes)
	}
	return nil
}

// Remove tears down a single entry outside of process exit: if resident
// and a dirty mmap page, writes it back; frees any held frame or swap
// slot; deletes the entry. Used by munmap.
func (t *Table) Remove(uaddr common.Uaddr_t) {
	page := common.RoundDownPage(uaddr)
	t.mu.Lock()
	e, ok := t.entries[page]
	t.mu.Unlock()
	if !ok {
		return
	}

	if f, resident := t.reg.frames.FindByUaddr(t.owner, page); resident {
		if e.kind == MMapped && e.Dirty {
			if err := t.writeBack(e, t.reg.frames.Bytes(f.Kaddr)); err != nil {
				log.WithField("uaddr", fmt.Sprintf("%#x", page)).WithField("err", err).Warn("mmap write-back failed during munmap")
			}
		}
		t.reg.frames.Free(f.Kaddr)
	} else if e.inSwap {
		t.reg.swap.Free(e.slot)
	}

	t.mu.Lock()
	delete(t.entries, page)
	t.mu.Unlock()
}

// Destroy walks the table on process exit: freeing swap slots still held,
// writing back dirty mmap pages that are still resident, and freeing any
// frames this process still owns. It then deregisters the table.
func (t *Table) Destroy() {
	t.mu.Lock()
	entries := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.Unlock()

	for _, e := range entries {
		if f, resident := t.reg.frames.FindByUaddr(t.owner, e.Uaddr); resident {
			if e.kind == MMapped && e.Dirty {
				if err := t.writeBack(e, t.reg.frames.Bytes(f.Kaddr)); err != nil {
					log.WithField("uaddr", fmt.Sprintf("%#x", e.Uaddr)).WithField("err", err).Warn("mmap write-back failed during destroy")
				}
			}
			t.reg.frames.Free(f.Kaddr)
		} else if e.inSwap {
			t.reg.swap.Free(e.slot)
		}
	}

	t.mu.Lock()
	t.entries = make(map[common.Uaddr_t]*Entry)
	t.mu.Unlock()
	t.reg.forget(t.owner)
}
