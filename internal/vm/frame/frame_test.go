package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintosgo/internal/common"
)

// stubHandler records evictions and always reports success, freeing no
// extra state -- the frame table itself reclaims the kaddr once Evict
// returns.
type stubHandler struct {
	evicted []common.Pa_t
}

func (h *stubHandler) Evict(f *Frame_t) error {
	h.evicted = append(h.evicted, f.Kaddr)
	return nil
}

func TestAllocFreeRoundTrip(t *testing.T) {
	tbl := NewTable(4, &stubHandler{})

	f, err := tbl.Alloc(0x1000, true, 7)
	require.NoError(t, err)
	assert.True(t, f.Evictable)
	assert.Equal(t, common.Tid_t(7), f.Owner)
	assert.Equal(t, 3, tbl.NumFree())

	tbl.Free(f.Kaddr)
	assert.Equal(t, 4, tbl.NumFree())
	_, ok := tbl.Lookup(f.Kaddr)
	assert.False(t, ok)
}

func TestAllocTriggersEvictionWhenPoolExhausted(t *testing.T) {
	h := &stubHandler{}
	tbl := NewTable(2, h)

	a, err := tbl.Alloc(0x1000, true, 1)
	require.NoError(t, err)
	b, err := tbl.Alloc(0x2000, true, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.NumFree())

	// Both frames are evictable; the third alloc must evict one of them
	// rather than panic.
	_, err = tbl.Alloc(0x3000, true, 1)
	require.NoError(t, err)
	require.Len(t, h.evicted, 1)
	assert.Contains(t, []common.Pa_t{a.Kaddr, b.Kaddr}, h.evicted[0])
}

func TestPinnedFrameNeverEvicted(t *testing.T) {
	h := &stubHandler{}
	tbl := NewTable(2, h)

	pinned, err := tbl.Alloc(0x1000, true, 1)
	require.NoError(t, err)
	tbl.SetEvictable(pinned.Kaddr, false)

	victim, err := tbl.Alloc(0x2000, true, 1)
	require.NoError(t, err)

	// Pool is now full (pinned + victim); a third alloc must evict
	// victim, never pinned.
	_, err = tbl.Alloc(0x3000, true, 1)
	require.NoError(t, err)
	require.Len(t, h.evicted, 1)
	assert.Equal(t, victim.Kaddr, h.evicted[0])
}

func TestSetEvictableOnUnownedKaddrPanics(t *testing.T) {
	tbl := NewTable(1, &stubHandler{})
	assert.Panics(t, func() { tbl.SetEvictable(99, true) })
}

func TestAllPinnedPanicsOnEviction(t *testing.T) {
	tbl := NewTable(1, &stubHandler{})
	f, err := tbl.Alloc(0x1000, true, 1)
	require.NoError(t, err)
	tbl.SetEvictable(f.Kaddr, false)

	assert.Panics(t, func() {
		tbl.Alloc(0x2000, true, 1)
	})
}

func TestFindByUaddrScansByOwner(t *testing.T) {
	tbl := NewTable(4, &stubHandler{})
	a, err := tbl.Alloc(0x1000, true, 1)
	require.NoError(t, err)
	_, err = tbl.Alloc(0x1000, true, 2)
	require.NoError(t, err)

	found, ok := tbl.FindByUaddr(1, 0x1000)
	require.True(t, ok)
	assert.Equal(t, a.Kaddr, found.Kaddr)

	_, ok = tbl.FindByUaddr(1, 0x9999)
	assert.False(t, ok)
}

func TestBytesIsPageSizedAndIndependentPerFrame(t *testing.T) {
	tbl := NewTable(2, &stubHandler{})
	a, err := tbl.Alloc(0x1000, true, 1)
	require.NoError(t, err)
	b, err := tbl.Alloc(0x2000, true, 1)
	require.NoError(t, err)

	bufA := tbl.Bytes(a.Kaddr)
	bufB := tbl.Bytes(b.Kaddr)
	require.Len(t, bufA, common.PGSIZE)

	bufA[0] = 0xAB
	assert.NotEqual(t, bufA[0], bufB[0])
}
