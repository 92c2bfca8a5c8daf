package device

import (
	"sync"

	"pintosgo/internal/common"
)

// MemFileSystem is an in-memory FileSystem fake. A real on-disk
// filesystem format is external-collaborator territory (spec.md §1);
// this is what process/syscall tests and a demo boot run against.
type MemFileSystem struct {
	mu    sync.Mutex
	files map[string]*memFile
}

func NewMemFileSystem() *MemFileSystem {
	return &MemFileSystem{files: make(map[string]*memFile)}
}

type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (fs *MemFileSystem) Create(name string, initialSize uint32) common.Err_t {
	if len(name) == 0 {
		return common.EINVAL
	}
	if len(name) > 63 {
		return common.ENAMETOOLONG
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; ok {
		return common.EEXIST
	}
	fs.files[name] = &memFile{data: make([]byte, initialSize)}
	return common.EOK
}

func (fs *MemFileSystem) Remove(name string) common.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return common.ENOENT
	}
	delete(fs.files, name)
	return common.EOK
}

func (fs *MemFileSystem) Open(name string) (FileHandle, common.Err_t) {
	fs.mu.Lock()
	f, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return nil, common.ENOENT
	}
	return &memFileHandle{f: f}, common.EOK
}

// memFileHandle is a per-open file position cursor over a shared
// memFile, matching Pintos's struct file (position belongs to the
// handle, the underlying inode is shared).
type memFileHandle struct {
	f   *memFile
	pos uint32
}

func (h *memFileHandle) Read(buf []byte) (int, common.Err_t) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if int(h.pos) >= len(h.f.data) {
		return 0, common.EOK
	}
	n := copy(buf, h.f.data[h.pos:])
	h.pos += uint32(n)
	return n, common.EOK
}

func (h *memFileHandle) Write(buf []byte) (int, common.Err_t) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	end := int(h.pos) + len(buf)
	if end > len(h.f.data) {
		grown := make([]byte, end)
		copy(grown, h.f.data)
		h.f.data = grown
	}
	n := copy(h.f.data[h.pos:end], buf)
	h.pos += uint32(n)
	return n, common.EOK
}

func (h *memFileHandle) Seek(pos uint32) { h.pos = pos }
func (h *memFileHandle) Tell() uint32    { return h.pos }

func (h *memFileHandle) Length() (uint32, common.Err_t) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	return uint32(len(h.f.data)), common.EOK
}

func (h *memFileHandle) Close() {}
