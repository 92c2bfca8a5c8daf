package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromIntRoundTrip(t *testing.T) {
	x := FromInt(59)
	require.Equal(t, 59, x.ToIntTruncate())
	require.Equal(t, 59, x.ToIntRound())
}

func TestRoundToNearestHalfAwayFromZero(t *testing.T) {
	// 1/2 in fixed point.
	half := Fixed(F / 2)
	assert.Equal(t, 1, half.ToIntRound())
	assert.Equal(t, 0, half.ToIntTruncate())

	neg := Fixed(-F / 2)
	assert.Equal(t, -1, neg.ToIntRound())
	assert.Equal(t, 0, neg.ToIntTruncate())
}

func TestMulDivWidening(t *testing.T) {
	x := FromInt(1 << 10)
	y := FromInt(3)
	// would overflow int32 if not widened to int64 internally.
	got := x.Mul(y)
	assert.Equal(t, 3<<10, got.ToIntTruncate())

	got2 := x.Div(FromInt(2))
	assert.Equal(t, 1<<9, got2.ToIntTruncate())
}

func TestAddSubInt(t *testing.T) {
	x := FromInt(10)
	assert.Equal(t, 15, x.AddInt(5).ToIntTruncate())
	assert.Equal(t, 7, x.SubInt(3).ToIntTruncate())
}

func TestMulDivInt(t *testing.T) {
	x := FromInt(10)
	assert.Equal(t, 20, x.MulInt(2).ToIntTruncate())
	assert.Equal(t, 5, x.DivInt(2).ToIntTruncate())
}

func TestLoadAvgRecurrence(t *testing.T) {
	// load_avg = (59/60)*load_avg + (1/60)*ready_count, starting at 0 with
	// one ready thread forever, should climb toward 1 and never exceed it.
	loadAvg := FromInt(0)
	for i := 0; i < 1000; i++ {
		readyThreads := FromInt(1).DivInt(60)
		loadAvg = loadAvg.MulInt(59).DivInt(60).Add(readyThreads)
	}
	got := loadAvg.ToIntRound()
	assert.Equal(t, 1, got)
}
