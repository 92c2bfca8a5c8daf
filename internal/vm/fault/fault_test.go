package fault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintosgo/internal/common"
	"pintosgo/internal/device"
	"pintosgo/internal/vm/frame"
	"pintosgo/internal/vm/page"
	"pintosgo/internal/vm/swap"
)

const sectorsPerPage = common.PGSIZE / common.SectorSize

func newHarness(t *testing.T, numFrames, numSwapPages int) (*page.Table, *frame.Table) {
	t.Helper()
	reg := page.NewRegistry(swap.NewManager(device.NewMemBlockDevice(int64(numSwapPages * sectorsPerPage))))
	ft := frame.NewTable(numFrames, reg)
	reg.BindFrameTable(ft)
	return reg.NewTable(1), ft
}

func TestKernelVAFromUserRingKills(t *testing.T) {
	pages, _ := newHarness(t, 4, 4)
	h := NewHandler(pages)

	res := h.Handle(common.PHYS_BASE+0x1000, Read, RingUser, common.PHYS_BASE-64)
	assert.Equal(t, Kill, res.Outcome)
}

func TestSupplementalEntryFaultLoads(t *testing.T) {
	pages, _ := newHarness(t, 4, 4)
	pages.InstallZeroFill(0x1000, true)
	h := NewHandler(pages)

	res := h.Handle(0x1000, Read, RingUser, common.PHYS_BASE-64)
	require.Equal(t, Resolved, res.Outcome)
	require.NotNil(t, res.Frame)
}

func TestWriteToReadOnlyPageKills(t *testing.T) {
	pages, _ := newHarness(t, 4, 4)
	fs := device.NewMemFileSystem()
	require.Equal(t, common.EOK, fs.Create("ro", 4))
	fh, errno := fs.Open("ro")
	require.Equal(t, common.EOK, errno)
	pages.InstallFileBacked(0x2000, false, fh, 0, 4)
	h := NewHandler(pages)

	res := h.Handle(0x2000, Write, RingUser, common.PHYS_BASE-64)
	assert.Equal(t, Kill, res.Outcome)
}

func TestStackGrowthWithinWindowInstallsZeroFill(t *testing.T) {
	pages, _ := newHarness(t, 4, 4)
	h := NewHandler(pages)

	esp := common.PHYS_BASE - 256
	uaddr := esp - 4 // within esp - 32 window

	res := h.Handle(uaddr, Write, RingUser, esp)
	require.Equal(t, Resolved, res.Outcome)

	_, ok := pages.Lookup(uaddr)
	assert.True(t, ok)
}

func TestAccessBelowStackWindowKills(t *testing.T) {
	pages, _ := newHarness(t, 4, 4)
	h := NewHandler(pages)

	esp := common.PHYS_BASE - 256
	uaddr := esp - 1000 // far below esp - 32

	res := h.Handle(uaddr, Write, RingUser, esp)
	assert.Equal(t, Kill, res.Outcome)
}

func TestAccessBeyondMaxStackBytesKills(t *testing.T) {
	pages, _ := newHarness(t, 4, 4)
	h := NewHandler(pages)

	esp := common.PHYS_BASE - common.MaxStackBytes + 8
	uaddr := esp - 16 // within slack of esp, but beyond the 8 MiB cap

	res := h.Handle(uaddr, Write, RingUser, esp)
	assert.Equal(t, Kill, res.Outcome)
}

func TestNoEntryAndNotStackGrowthKills(t *testing.T) {
	pages, _ := newHarness(t, 4, 4)
	h := NewHandler(pages)

	res := h.Handle(0x08049999, Read, RingUser, common.PHYS_BASE-64)
	assert.Equal(t, Kill, res.Outcome)
}

// TestEvictionRoundTrip is spec.md §8 end-to-end scenario 5: allocate
// frames until one must be evicted, touch the evicted page, and confirm
// the fault handler reloads identical bytes.
func TestEvictionRoundTrip(t *testing.T) {
	pages, ft := newHarness(t, 1, 4)
	pages.InstallZeroFill(0x1000, true)
	pages.InstallZeroFill(0x2000, true)
	h := NewHandler(pages)

	res := h.Handle(0x1000, Write, RingUser, common.PHYS_BASE-64)
	require.Equal(t, Resolved, res.Outcome)
	buf := ft.Bytes(res.Frame.Kaddr)
	for i := range buf {
		buf[i] = 0x77
	}
	pages.MarkDirty(0x1000)

	// Second page forces eviction of the first out of the single frame.
	res2 := h.Handle(0x2000, Write, RingUser, common.PHYS_BASE-64)
	require.Equal(t, Resolved, res2.Outcome)
	assert.Equal(t, res.Frame.Kaddr, res2.Frame.Kaddr)

	// Touching 0x1000 again faults it back in with identical content.
	res3 := h.Handle(0x1000, Read, RingUser, common.PHYS_BASE-64)
	require.Equal(t, Resolved, res3.Outcome)
	got := ft.Bytes(res3.Frame.Kaddr)
	for _, b := range got {
		assert.Equal(t, byte(0x77), b)
	}
}
