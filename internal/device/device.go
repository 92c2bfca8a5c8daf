// Package device defines the narrow interfaces the kernel needs from the
// outside world: a block device for swap and the filesystem, a console
// for stdout, and a filesystem for open/read/write/remove. Real disk,
// IDE controller, and filesystem-format code live outside this module's
// scope (spec.md's external collaborators, §1) — these interfaces are
// the seam, modeled on Biscuit's dev_t/devfops_t split in main.go.
package device

import "pintosgo/internal/common"

// BlockDevice is a flat array of fixed-size sectors, addressed by sector
// number. Implementations: a real file-backed device (FileBlockDevice)
// and an in-memory one for tests (MemBlockDevice).
type BlockDevice interface {
	ReadSector(sector int64, buf []byte) error
	WriteSector(sector int64, buf []byte) error
	NumSectors() int64
}

// Console is the kernel's text output sink, standing in for the VGA
// text-mode console Biscuit and Pintos both write boot messages to.
type Console interface {
	WriteString(s string)
}

// FileSystem is the narrow set of filesystem operations syscalls need.
// A real directory/inode layer is out of this module's scope; this
// interface is the seam a host filesystem or an in-memory fake sits
// behind.
type FileSystem interface {
	Create(name string, initialSize uint32) common.Err_t
	Remove(name string) common.Err_t
	Open(name string) (FileHandle, common.Err_t)
}

// FileHandle is an open file: syscalls read/write/seek/tell/close
// through it. File position is owned by the handle, not the fd table,
// matching Pintos's struct file.
type FileHandle interface {
	Read(buf []byte) (int, common.Err_t)
	Write(buf []byte) (int, common.Err_t)
	Seek(pos uint32)
	Tell() uint32
	Length() (uint32, common.Err_t)
	Close()
}
