// Package process implements C8: process creation, the parent/child
// exec-wait protocol, per-process file descriptors, mmap bookkeeping,
// and the syscall dispatch table. It ties together kthread's scheduler,
// vm/page's supplemental tables, vm/fault's fault handler, and device's
// filesystem/console seams, attached to each kernel thread via
// Thread_t.UserData.
package process

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pintosgo/internal/common"
	"pintosgo/internal/device"
	"pintosgo/internal/klog"
	"pintosgo/internal/ksync"
	"pintosgo/internal/kthread"
	"pintosgo/internal/vm/fault"
	"pintosgo/internal/vm/frame"
	"pintosgo/internal/vm/page"
)

var log = klog.For("process")

const (
	fdStdin     = 0
	fdStdout    = 1
	fdFirstUser = 2
)

// openFile is one entry in a process's fd table.
type openFile struct {
	name   string
	handle device.FileHandle
}

type mmapRegion struct {
	id     uuid.UUID
	base   common.Uaddr_t
	npages int
	file   device.FileHandle
}

// ChildRecord is the bookkeeping a parent keeps on one child it created
// via exec, per spec.md C8: a loading semaphore the child signals once
// its program image is resolved, and a wait semaphore the child signals
// in Exit.
type ChildRecord struct {
	Tid  common.Tid_t
	Proc *Proc_t

	LoadingSema     *ksync.Sema_t
	LoadedCorrectly bool

	WaitSema   *ksync.Sema_t
	Exited     bool
	ExitStatus int32
	Waited     bool
}

// Proc_t is one process: a supplemental page table, a fault handler over
// it, an fd table, and its exec/wait relationship to its parent and
// children. A process's pid equals its first thread's tid.
type Proc_t struct {
	mu sync.Mutex

	Pid  common.Pid_t
	Name string

	Pages *page.Table
	Fault *fault.Handler
	Mem   *UserMem

	fds    map[int]*openFile
	nextFd int

	mmaps          map[uuid.UUID]*mmapRegion
	mmapHandles    map[int]uuid.UUID
	nextMmapHandle int

	parentRecord *ChildRecord // this process's own entry in its parent's children map; nil if orphaned or init
	children     map[common.Tid_t]*ChildRecord

	exited bool
	mgr    *Manager
}

// ProgramFunc stands in for a loaded binary's entry point: the "user
// code" that traps into the kernel via m.Dispatch (or the typed syscall
// methods directly). There is no ELF loader in scope (spec.md §1);
// Manager resolves a command name to one of these via RegisterProgram,
// the same way a real exec would resolve a path to a parsed ELF image.
// self is passed through so the program can make blocking syscalls
// (exec, wait, filesystem ops) that need the calling thread's identity.
type ProgramFunc func(m *Manager, self *kthread.Thread_t, p *Proc_t, argv []string) int32

// Manager owns everything process-wide: the scheduler processes run
// under, the shared vm stack, the filesystem and its serializing lock,
// the console, and the registry of loadable program images.
type Manager struct {
	sched   *kthread.Scheduler
	pageReg *page.Registry

	fs      device.FileSystem
	fsLock  *ksync.Lock_t
	console device.Console

	mu       sync.Mutex
	programs map[string]ProgramFunc
}

// NewManager builds a process manager over an already-running scheduler
// and vm stack.
func NewManager(sched *kthread.Scheduler, pageReg *page.Registry, fs device.FileSystem, console device.Console) *Manager {
	return &Manager{
		sched:    sched,
		pageReg:  pageReg,
		fs:       fs,
		fsLock:   ksync.NewLock(),
		console:  console,
		programs: make(map[string]ProgramFunc),
	}
}

// RegisterProgram makes name resolvable by Exec, standing in for
// installing a binary at a path a real exec would ELF-load.
func (m *Manager) RegisterProgram(name string, fn ProgramFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[name] = fn
}

func (m *Manager) lookupProgram(name string) (ProgramFunc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn, ok := m.programs[name]
	return fn, ok
}

func (p *Proc_t) framesBytes(f *frame.Frame_t) []byte {
	return p.mgr.pageReg.Frames().Bytes(f.Kaddr)
}

func newProc(mgr *Manager, owner common.Tid_t, name string) *Proc_t {
	pages := mgr.pageReg.NewTable(owner)
	p := &Proc_t{
		Pid:         common.Pid_t(owner),
		Name:        name,
		Pages:       pages,
		Fault:       fault.NewHandler(pages),
		fds:         make(map[int]*openFile),
		nextFd:      fdFirstUser,
		mmaps:       make(map[uuid.UUID]*mmapRegion),
		mmapHandles: make(map[int]uuid.UUID),
		children:    make(map[common.Tid_t]*ChildRecord),
		mgr:         mgr,
	}
	p.Mem = &UserMem{proc: p}
	return p
}

// NewRootProcess binds a Proc_t to an already-running thread (the
// kernel's boot thread) with no parent, for the one process in the
// system that isn't created via Exec.
func (m *Manager) NewRootProcess(self *kthread.Thread_t, name string) *Proc_t {
	p := newProc(m, self.Tid, name)
	self.UserData = p
	return p
}

// splitCmdline splits a command line on whitespace into argv, per
// spec.md C8's process-load step.
func splitCmdline(cmdline string) []string {
	var argv []string
	start := -1
	for i, r := range cmdline {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				argv = append(argv, cmdline[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		argv = append(argv, cmdline[start:])
	}
	return argv
}

// Exec implements exec(cmd): caller creates a child record with a loading
// semaphore, spawns the child thread, blocks until the child has either
// resolved its program image or failed to, and returns the child's tid
// or TID_ERROR.
func (m *Manager) Exec(caller *kthread.Thread_t, callerProc *Proc_t, cmdline string) common.Tid_t {
	argv := splitCmdline(cmdline)
	if len(argv) == 0 {
		return common.TID_ERROR
	}

	rec := &ChildRecord{
		LoadingSema: ksync.NewSema(0),
		WaitSema:    ksync.NewSema(0),
	}

	nt := m.sched.CreateThread(caller, argv[0], common.PriDefault, func(self *kthread.Thread_t) {
		childProc := newProc(m, self.Tid, argv[0])
		childProc.parentRecord = rec
		rec.Proc = childProc
		self.UserData = childProc

		fn, ok := m.lookupProgram(argv[0])
		rec.LoadedCorrectly = ok
		rec.LoadingSema.Up()
		if !ok {
			log.WithField("name", argv[0]).Warn("exec: no such program")
			m.finishExit(m.sched, self, childProc, -1)
			return
		}

		status := fn(m, self, childProc, argv)
		m.finishExit(m.sched, self, childProc, status)
	})

	rec.Tid = nt.Tid
	callerProc.mu.Lock()
	callerProc.children[nt.Tid] = rec
	callerProc.mu.Unlock()

	m.sched.SemaDown(caller, rec.LoadingSema)
	if !rec.LoadedCorrectly {
		return common.TID_ERROR
	}
	return nt.Tid
}

// Wait implements wait(pid): a child may be waited on at most once; a
// non-child or already-waited child returns -1 immediately; an already-
// exited child's status is returned without blocking, since WaitSema was
// already signalled by its Exit.
func (m *Manager) Wait(caller *kthread.Thread_t, callerProc *Proc_t, childTid common.Tid_t) int32 {
	callerProc.mu.Lock()
	rec, ok := callerProc.children[childTid]
	if ok {
		if rec.Waited {
			ok = false
		} else {
			rec.Waited = true
		}
	}
	callerProc.mu.Unlock()
	if !ok {
		return -1
	}

	m.sched.SemaDown(caller, rec.WaitSema)
	return rec.ExitStatus
}

// Exit implements process_exit (spec.md §7): close fds, tear down the
// supplemental page table (freeing frames/swap, writing back dirty mmap
// pages), signal the parent's wait semaphore, and orphan any remaining
// children. The calling thread's goroutine must not run any further
// process code after this returns; the scheduler call beneath it hands
// the baton to the next thread and never hands it back to this one.
func (m *Manager) Exit(sched *kthread.Scheduler, self *kthread.Thread_t, p *Proc_t, status int32) {
	m.finishExit(sched, self, p, status)
}

// finishExit is idempotent: a process may reach it once via an explicit
// exit syscall (through Dispatch) and once more via its ProgramFunc
// returning normally, and must only actually tear down and relinquish
// the scheduler baton the first time.
func (m *Manager) finishExit(sched *kthread.Scheduler, self *kthread.Thread_t, p *Proc_t, status int32) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	for fd, f := range p.fds {
		f.handle.Close()
		delete(p.fds, fd)
	}
	children := make([]*ChildRecord, 0, len(p.children))
	for _, c := range p.children {
		children = append(children, c)
	}
	p.mu.Unlock()

	p.Pages.Destroy()

	for _, c := range children {
		if c.Proc != nil {
			c.Proc.mu.Lock()
			c.Proc.parentRecord = nil
			c.Proc.mu.Unlock()
		}
	}

	log.WithField("name", p.Name).WithField("status", status).Info("process exited")
	m.console.WriteString(fmt.Sprintf("%s: exit(%d)\n", p.Name, status))

	if p.parentRecord != nil {
		p.parentRecord.ExitStatus = status
		p.parentRecord.Exited = true
		p.parentRecord.WaitSema.Up()
	}

	sched.Exit(self)
}
