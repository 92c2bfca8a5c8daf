package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintosgo/internal/common"
)

func TestBuildArgvStackIsWordAligned(t *testing.T) {
	layout := BuildArgvStack(common.PHYS_BASE, []string{"echo", "hello", "world"})
	assert.Zero(t, uintptr(layout.Esp)%4, "esp must be word-aligned")
	assert.Equal(t, int(common.PHYS_BASE-layout.Esp), len(layout.Bytes))
}

func TestBuildArgvStackArgcMatchesArgv(t *testing.T) {
	argv := []string{"a", "bb", "ccc"}
	layout := BuildArgvStack(common.PHYS_BASE, argv)

	// Fake return address (4 bytes) then argc then argv pointer, in that
	// order from Esp upward.
	argc := le32At(layout.Bytes, 4)
	require.Equal(t, uint32(len(argv)), argc)
}

func TestBuildArgvStackArgvPointsAtPackedStrings(t *testing.T) {
	argv := []string{"prog", "x"}
	layout := BuildArgvStack(common.PHYS_BASE, argv)

	argvPtr := common.Uaddr_t(le32At(layout.Bytes, 8))
	argv0Ptr := common.Uaddr_t(le32At(layout.Bytes, int(argvPtr-layout.Esp)))

	off := int(argv0Ptr - layout.Esp)
	require.GreaterOrEqual(t, off, 0)
	require.Less(t, off, len(layout.Bytes))
	end := off
	for end < len(layout.Bytes) && layout.Bytes[end] != 0 {
		end++
	}
	assert.Equal(t, argv[0], string(layout.Bytes[off:end]))
}

func le32At(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}
