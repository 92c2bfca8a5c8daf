package process

import (
	"pintosgo/internal/common"
)

// UserMem is a process's validated-pointer accessor: the Go stand-in for
// Biscuit's userio_i/fakeubuf_t abstraction, which lets the kernel copy
// to/from user memory through an interface instead of a raw pointer.
// Since this module has no MMU or real page-table walk, "validating" a
// pointer means confirming the supplemental page table covers it, and
// "copying" means faulting the page resident (via page.Table.Load) and
// touching the underlying frame bytes directly.
type UserMem struct {
	proc *Proc_t
}

// Valid reports whether a single byte at addr is a legal user access:
// below PHYS_BASE and covered by a supplemental entry.
func (u *UserMem) Valid(addr common.Uaddr_t) bool {
	if addr == 0 || addr >= common.PHYS_BASE {
		return false
	}
	_, ok := u.proc.Pages.Lookup(addr)
	return ok
}

// ValidRange validates the first and last byte of [addr, addr+n), per
// spec.md C8's "validated byte-wise (first and last byte)" rule — it
// does not walk every page in between, matching the source's shortcut.
func (u *UserMem) ValidRange(addr common.Uaddr_t, n int) bool {
	if n <= 0 {
		return n == 0
	}
	if !u.Valid(addr) {
		return false
	}
	return u.Valid(addr + common.Uaddr_t(n) - 1)
}

// Read copies n bytes starting at addr out of user memory, faulting
// each touched page resident first. Returns false if the range doesn't
// validate.
func (u *UserMem) Read(addr common.Uaddr_t, n int) ([]byte, bool) {
	if !u.ValidRange(addr, n) {
		return nil, false
	}
	out := make([]byte, n)
	copied := 0
	for copied < n {
		va := addr + common.Uaddr_t(copied)
		pg := common.RoundDownPage(va)
		f, err := u.proc.Pages.Load(pg)
		if err != nil {
			return nil, false
		}
		off := int(common.PageOffset(va))
		want := min(n-copied, common.PGSIZE-off)
		buf := u.proc.framesBytes(f)
		copy(out[copied:copied+want], buf[off:off+want])
		copied += want
	}
	return out, true
}

// Write copies data into user memory starting at addr, faulting each
// touched page resident and marking it dirty so a later eviction
// preserves the write. Returns false if the range doesn't validate.
func (u *UserMem) Write(addr common.Uaddr_t, data []byte) bool {
	if !u.ValidRange(addr, len(data)) {
		return false
	}
	copied := 0
	for copied < len(data) {
		va := addr + common.Uaddr_t(copied)
		pg := common.RoundDownPage(va)
		e, _ := u.proc.Pages.Lookup(pg)
		if e != nil && !e.Writable {
			return false
		}
		f, err := u.proc.Pages.Load(pg)
		if err != nil {
			return false
		}
		off := int(common.PageOffset(va))
		want := min(len(data)-copied, common.PGSIZE-off)
		buf := u.proc.framesBytes(f)
		copy(buf[off:off+want], data[copied:copied+want])
		u.proc.Pages.MarkDirty(pg)
		copied += want
	}
	return true
}

// ReadCString reads a NUL-terminated string starting at addr, one byte
// at a time (each byte validated as it's touched), up to maxLen bytes.
// Returns false if the range is never validated or no NUL is found
// within maxLen.
func (u *UserMem) ReadCString(addr common.Uaddr_t, maxLen int) (string, bool) {
	var out []byte
	for i := 0; i < maxLen; i++ {
		b, ok := u.Read(addr+common.Uaddr_t(i), 1)
		if !ok {
			return "", false
		}
		if b[0] == 0 {
			return string(out), true
		}
		out = append(out, b[0])
	}
	return "", false
}

// ReadUint32 reads one little-endian word at addr.
func (u *UserMem) ReadUint32(addr common.Uaddr_t) (uint32, bool) {
	b, ok := u.Read(addr, 4)
	if !ok {
		return 0, false
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
