package process

import (
	"github.com/google/uuid"

	"pintosgo/internal/common"
	"pintosgo/internal/kthread"
)

// Syscall is a recognized system call number, the first word on the
// user stack at trap time (spec.md C8).
type Syscall uint32

const (
	SysHalt Syscall = iota
	SysExit
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	SysMmap
	SysMunmap
)

// maxCmdlineLen bounds exec/create/remove/open's string-argument scan,
// standing in for a real page-boundary check on an unterminated string.
const maxCmdlineLen = 128

// Dispatch reads the syscall number and its arguments off the user
// stack at esp, validating every word and string pointer byte-wise
// before use, and invokes the corresponding operation. A validation
// failure terminates the calling process with exit status -1, per
// spec.md C8 and §7's user-facing error handling. It returns the value
// to load into eax (for syscalls that return one) and whether the
// process was terminated as a result.
func (m *Manager) Dispatch(self *kthread.Thread_t, p *Proc_t, esp common.Uaddr_t) (eax int32, killed bool) {
	nrWord, ok := p.Mem.ReadUint32(esp)
	if !ok {
		m.finishExit(m.sched, self, p, -1)
		return -1, true
	}

	word := func(i int) (uint32, bool) {
		return p.Mem.ReadUint32(esp + common.Uaddr_t(4*(i+1)))
	}
	str := func(i int) (string, bool) {
		addr, ok := word(i)
		if !ok {
			return "", false
		}
		return p.Mem.ReadCString(common.Uaddr_t(addr), maxCmdlineLen)
	}
	fail := func() (int32, bool) {
		m.finishExit(m.sched, self, p, -1)
		return -1, true
	}

	switch Syscall(nrWord) {
	case SysHalt:
		m.Halt()
		return 0, false

	case SysExit:
		status, ok := word(0)
		if !ok {
			return fail()
		}
		m.finishExit(m.sched, self, p, int32(status))
		return int32(status), true

	case SysExec:
		cmd, ok := str(0)
		if !ok {
			return fail()
		}
		return int32(m.Exec(self, p, cmd)), false

	case SysWait:
		pid, ok := word(0)
		if !ok {
			return fail()
		}
		return m.Wait(self, p, common.Tid_t(int32(pid))), false

	case SysCreate:
		name, ok := str(0)
		if !ok {
			return fail()
		}
		size, ok := word(1)
		if !ok {
			return fail()
		}
		if m.Create(self, name, size) {
			return 1, false
		}
		return 0, false

	case SysRemove:
		name, ok := str(0)
		if !ok {
			return fail()
		}
		if m.Remove(self, name) {
			return 1, false
		}
		return 0, false

	case SysOpen:
		name, ok := str(0)
		if !ok {
			return fail()
		}
		return int32(m.Open(self, p, name)), false

	case SysFilesize:
		fd, ok := word(0)
		if !ok {
			return fail()
		}
		return int32(m.Filesize(p, int(int32(fd)))), false

	case SysRead:
		fd, ok := word(0)
		if !ok {
			return fail()
		}
		buf, ok := word(1)
		if !ok {
			return fail()
		}
		size, ok := word(2)
		if !ok {
			return fail()
		}
		if !p.Mem.ValidRange(common.Uaddr_t(buf), int(size)) {
			return fail()
		}
		return int32(m.Read(p, int(int32(fd)), common.Uaddr_t(buf), int(size))), false

	case SysWrite:
		fd, ok := word(0)
		if !ok {
			return fail()
		}
		buf, ok := word(1)
		if !ok {
			return fail()
		}
		size, ok := word(2)
		if !ok {
			return fail()
		}
		if !p.Mem.ValidRange(common.Uaddr_t(buf), int(size)) {
			return fail()
		}
		return int32(m.Write(p, int(int32(fd)), common.Uaddr_t(buf), int(size))), false

	case SysSeek:
		fd, ok := word(0)
		if !ok {
			return fail()
		}
		pos, ok := word(1)
		if !ok {
			return fail()
		}
		m.Seek(p, int(int32(fd)), pos)
		return 0, false

	case SysTell:
		fd, ok := word(0)
		if !ok {
			return fail()
		}
		return int32(m.Tell(p, int(int32(fd)))), false

	case SysClose:
		fd, ok := word(0)
		if !ok {
			return fail()
		}
		m.Close(p, int(int32(fd)))
		return 0, false

	case SysMmap:
		fd, ok := word(0)
		if !ok {
			return fail()
		}
		addr, ok := word(1)
		if !ok {
			return fail()
		}
		id, ok := m.Mmap(self, p, int(int32(fd)), common.Uaddr_t(addr))
		if !ok {
			return -1, false
		}
		return int32(mmapIDToHandle(p, id)), false

	case SysMunmap:
		handle, ok := word(0)
		if !ok {
			return fail()
		}
		id, ok := handleToMmapID(p, int(int32(handle)))
		if !ok {
			return -1, false
		}
		if m.Munmap(p, id) {
			return 0, false
		}
		return -1, false

	default:
		return fail()
	}
}

// mmapIDToHandle and handleToMmapID translate between the uuid.UUID a
// mapping is tracked by internally and the small per-process integer a
// user program actually receives from mmap/passes to munmap, matching
// the source's mapid_t being scoped to one process rather than global.
func mmapIDToHandle(p *Proc_t, id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mmapHandles == nil {
		p.mmapHandles = make(map[int]uuid.UUID)
	}
	h := p.nextMmapHandle
	p.nextMmapHandle++
	p.mmapHandles[h] = id
	return h
}

func handleToMmapID(p *Proc_t, handle int) (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.mmapHandles[handle]
	if ok {
		delete(p.mmapHandles, handle)
	}
	return id, ok
}
