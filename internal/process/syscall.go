package process

import (
	"os"

	"github.com/google/uuid"

	"pintosgo/internal/common"
	"pintosgo/internal/kthread"
)

// chunkSize is the maximum number of bytes moved per iteration of the
// read/write copy loop, matching Biscuit's circbuf_t chunked copy-in/
// copy-out. spec.md §9(d): the source's version of this loop
// double-counts its last chunk; Write and Read here always accumulate
// the actual bytes transferred per chunk, so the returned count is
// exactly the number of bytes moved.
const chunkSize = 256

// Halt implements the halt syscall: it never returns.
func (m *Manager) Halt() {
	log.Info("halt")
	os.Exit(0)
}

// Create implements create(name, size). Takes the filesystem lock,
// a suspension point per spec.md §5.
func (m *Manager) Create(self *kthread.Thread_t, name string, size uint32) bool {
	m.sched.LockAcquire(self, m.fsLock)
	defer m.sched.LockRelease(self, m.fsLock)
	return m.fs.Create(name, size) == common.EOK
}

// Remove implements remove(name).
func (m *Manager) Remove(self *kthread.Thread_t, name string) bool {
	m.sched.LockAcquire(self, m.fsLock)
	defer m.sched.LockRelease(self, m.fsLock)
	return m.fs.Remove(name) == common.EOK
}

// Open implements open(name); returns the new fd or -1.
func (m *Manager) Open(self *kthread.Thread_t, p *Proc_t, name string) int {
	m.sched.LockAcquire(self, m.fsLock)
	fh, errno := m.fs.Open(name)
	m.sched.LockRelease(self, m.fsLock)
	if errno != common.EOK {
		return -1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fd := p.nextFd
	p.nextFd++
	p.fds[fd] = &openFile{name: name, handle: fh}
	return fd
}

// Filesize implements filesize(fd); returns -1 for a bad fd.
func (m *Manager) Filesize(p *Proc_t, fd int) int {
	f := p.lookupFd(fd)
	if f == nil {
		return -1
	}
	n, errno := f.handle.Length()
	if errno != common.EOK {
		return -1
	}
	return int(n)
}

// Read implements read(fd, buf, size): buf is a user address, validated
// byte-wise before any copy. fd 0 (stdin) has no console-input model in
// this module (spec.md's external console interface is read/write only
// at the seam level used here) and always returns 0.
func (m *Manager) Read(p *Proc_t, fd int, buf common.Uaddr_t, size int) int {
	if fd == fdStdin {
		return 0
	}
	if fd == fdStdout {
		return -1
	}
	f := p.lookupFd(fd)
	if f == nil {
		return -1
	}
	if !p.Mem.ValidRange(buf, size) {
		return -1
	}

	total := 0
	for total < size {
		want := min(size-total, chunkSize)
		tmp := make([]byte, want)
		n, errno := f.handle.Read(tmp)
		if errno != common.EOK {
			return -1
		}
		if !p.Mem.Write(buf+common.Uaddr_t(total), tmp[:n]) {
			return -1
		}
		total += n
		if n < want {
			break
		}
	}
	return total
}

// Write implements write(fd, buf, size), chunked at chunkSize bytes per
// spec.md §9(d). For stdout it always returns size on success: the
// console sink has no notion of a short write, so every chunk's full
// length is counted, fixing the source's double-count bug. For a file
// fd, the count is the sum of each chunk's actual Write return.
func (m *Manager) Write(p *Proc_t, fd int, buf common.Uaddr_t, size int) int {
	if fd == fdStdin {
		return -1
	}
	if !p.Mem.ValidRange(buf, size) {
		return -1
	}

	if fd == fdStdout {
		total := 0
		for total < size {
			want := min(size-total, chunkSize)
			chunk, ok := p.Mem.Read(buf+common.Uaddr_t(total), want)
			if !ok {
				return -1
			}
			m.console.WriteString(string(chunk))
			total += want
		}
		return total
	}

	f := p.lookupFd(fd)
	if f == nil {
		return -1
	}
	total := 0
	for total < size {
		want := min(size-total, chunkSize)
		chunk, ok := p.Mem.Read(buf+common.Uaddr_t(total), want)
		if !ok {
			return -1
		}
		n, errno := f.handle.Write(chunk)
		if errno != common.EOK {
			return -1
		}
		total += n
		if n < want {
			break
		}
	}
	return total
}

// Seek implements seek(fd, pos).
func (m *Manager) Seek(p *Proc_t, fd int, pos uint32) {
	if f := p.lookupFd(fd); f != nil {
		f.handle.Seek(pos)
	}
}

// Tell implements tell(fd); returns -1 for a bad fd.
func (m *Manager) Tell(p *Proc_t, fd int) int {
	f := p.lookupFd(fd)
	if f == nil {
		return -1
	}
	return int(f.handle.Tell())
}

// Close implements close(fd).
func (m *Manager) Close(p *Proc_t, fd int) {
	p.mu.Lock()
	f, ok := p.fds[fd]
	if ok {
		delete(p.fds, fd)
	}
	p.mu.Unlock()
	if ok {
		f.handle.Close()
	}
}

func (p *Proc_t) lookupFd(fd int) *openFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fds[fd]
}

// Mmap implements mmap(fd, addr): rejects fd 0/1, a non-page-aligned or
// NULL addr, an empty file, and any VA range overlapping an existing
// supplemental entry. On success it reopens the file (a fresh handle
// with its own position, so the mapping's I/O doesn't disturb the
// caller's own fd) and installs one MMapped entry per page.
func (m *Manager) Mmap(self *kthread.Thread_t, p *Proc_t, fd int, addr common.Uaddr_t) (uuid.UUID, bool) {
	if fd == fdStdin || fd == fdStdout {
		return uuid.Nil, false
	}
	if addr == 0 || common.PageOffset(addr) != 0 {
		return uuid.Nil, false
	}

	f := p.lookupFd(fd)
	if f == nil {
		return uuid.Nil, false
	}
	length, errno := f.handle.Length()
	if errno != common.EOK || length == 0 {
		return uuid.Nil, false
	}

	npages := int((uint32(length) + common.PGSIZE - 1) / common.PGSIZE)
	for i := 0; i < npages; i++ {
		va := addr + common.Uaddr_t(i*common.PGSIZE)
		if _, exists := p.Pages.Lookup(va); exists {
			return uuid.Nil, false
		}
	}

	m.sched.LockAcquire(self, m.fsLock)
	reopened, errno := m.fs.Open(f.name)
	m.sched.LockRelease(self, m.fsLock)
	if errno != common.EOK {
		return uuid.Nil, false
	}

	id := uuid.New()
	remaining := length
	for i := 0; i < npages; i++ {
		va := addr + common.Uaddr_t(i*common.PGSIZE)
		readBytes := uint32(common.PGSIZE)
		if remaining < common.PGSIZE {
			readBytes = remaining
		}
		p.Pages.InstallMMapped(va, reopened, uint32(i*common.PGSIZE), readBytes)
		remaining -= readBytes
	}

	p.mu.Lock()
	p.mmaps[id] = &mmapRegion{id: id, base: addr, npages: npages, file: reopened}
	p.mu.Unlock()
	return id, true
}

// Munmap implements munmap(id): writes back dirty pages, drops the
// supplemental entries, and closes the mapping's private file handle.
func (m *Manager) Munmap(p *Proc_t, id uuid.UUID) bool {
	p.mu.Lock()
	region, ok := p.mmaps[id]
	if ok {
		delete(p.mmaps, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	for i := 0; i < region.npages; i++ {
		p.Pages.Remove(region.base + common.Uaddr_t(i*common.PGSIZE))
	}
	region.file.Close()
	return true
}
