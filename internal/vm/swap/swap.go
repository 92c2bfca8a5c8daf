// Package swap implements the swap slot manager: a bitmap over
// page-sized slots on a block device, written and read a page at a time.
package swap

import (
	"fmt"
	"sync"

	"pintosgo/internal/common"
	"pintosgo/internal/device"
	"pintosgo/internal/klog"
)

var log = klog.For("swap")

const sectorsPerPage = common.PGSIZE / common.SectorSize

// Slot identifies a page-sized region of the swap device. Width resolved
// per spec.md §9(a): one source header used int16_t, another plain int;
// int32 fits any realistic swap partition and matches common.Pa_t/Tid_t's
// 32-bit convention.
type Slot int32

// NoSlot is the sentinel for "not in swap". It is not Slot's zero value:
// slot 0 is a real slot.
const NoSlot Slot = -1

// Manager is the swap bitmap plus the block device it reads and writes
// whole pages against.
type Manager struct {
	mu       sync.Mutex
	used     []uint64
	numSlots int
	dev      device.BlockDevice
}

// NewManager sizes the bitmap from dev's sector count: original_source's
// swap_init computes ENTRY_COUNT the same way, from the swap device's
// block_size.
func NewManager(dev device.BlockDevice) *Manager {
	n := int(dev.NumSectors() / sectorsPerPage)
	return &Manager{
		used:     make([]uint64, (n+63)/64),
		numSlots: n,
		dev:      dev,
	}
}

// NumSlots reports the total slot count.
func (m *Manager) NumSlots() int {
	return m.numSlots
}

// WritePage scans for the first free slot, flips it busy, and writes buf
// (exactly common.PGSIZE bytes) across sectorsPerPage consecutive
// sectors. Panics if the partition is full, mirroring original_source's
// PANIC("swap partition is full") -- swap exhaustion is a resource-
// exhaustion fatal error per spec.md §7, not a recoverable one.
func (m *Manager) WritePage(buf []byte) (Slot, error) {
	if len(buf) != common.PGSIZE {
		return NoSlot, fmt.Errorf("swap: write_page buffer is %d bytes, want %d", len(buf), common.PGSIZE)
	}

	m.mu.Lock()
	slot, ok := m.scanAndFlipLocked()
	m.mu.Unlock()
	if !ok {
		klog.Panicf("swap: partition is full")
	}

	sector := int64(slot) * sectorsPerPage
	for i := 0; i < sectorsPerPage; i++ {
		off := i * common.SectorSize
		if err := m.dev.WriteSector(sector+int64(i), buf[off:off+common.SectorSize]); err != nil {
			return NoSlot, fmt.Errorf("swap: write_page sector %d: %w", sector+int64(i), err)
		}
	}
	log.WithField("slot", slot).Debug("wrote page to swap")
	return slot, nil
}

// ReadPage reads slot's contents into buf and clears the slot, the same
// free-on-read behavior as original_source's swap_read_page (which also
// sets page->saddr back to -1).
func (m *Manager) ReadPage(slot Slot, buf []byte) error {
	if len(buf) != common.PGSIZE {
		return fmt.Errorf("swap: read_page buffer is %d bytes, want %d", len(buf), common.PGSIZE)
	}
	if err := m.checkSlot(slot); err != nil {
		return err
	}

	sector := int64(slot) * sectorsPerPage
	for i := 0; i < sectorsPerPage; i++ {
		off := i * common.SectorSize
		if err := m.dev.ReadSector(sector+int64(i), buf[off:off+common.SectorSize]); err != nil {
			return fmt.Errorf("swap: read_page sector %d: %w", sector+int64(i), err)
		}
	}

	m.mu.Lock()
	m.clearLocked(slot)
	m.mu.Unlock()
	log.WithField("slot", slot).Debug("read page from swap")
	return nil
}

// Free clears a slot's bit without reading or zeroing its contents,
// original_source's swap_remove -- used when a supplemental entry in
// swap is discarded (process exit) rather than faulted back in.
func (m *Manager) Free(slot Slot) {
	if slot == NoSlot {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(slot)
}

func (m *Manager) checkSlot(slot Slot) error {
	if slot < 0 || int(slot) >= m.numSlots {
		return fmt.Errorf("swap: slot %d out of range [0,%d)", slot, m.numSlots)
	}
	return nil
}

func (m *Manager) scanAndFlipLocked() (Slot, bool) {
	for i := 0; i < m.numSlots; i++ {
		word, bit := i/64, uint(i%64)
		if m.used[word]&(1<<bit) == 0 {
			m.used[word] |= 1 << bit
			return Slot(i), true
		}
	}
	return NoSlot, false
}

func (m *Manager) clearLocked(slot Slot) {
	word, bit := int(slot)/64, uint(int(slot)%64)
	m.used[word] &^= 1 << bit
}
