package process

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintosgo/internal/common"
	"pintosgo/internal/device"
	"pintosgo/internal/kthread"
	"pintosgo/internal/vm/frame"
	"pintosgo/internal/vm/page"
	"pintosgo/internal/vm/swap"
)

const sectorsPerPage = common.PGSIZE / common.SectorSize

type testConsole struct {
	mu     sync.Mutex
	writes []string
}

func (c *testConsole) WriteString(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, s)
}

func (c *testConsole) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := ""
	for _, s := range c.writes {
		out += s
	}
	return out
}

func newHarness(t *testing.T, numFrames, numSwapPages int) (*kthread.Scheduler, *kthread.Thread_t, *Manager, *testConsole, *device.MemFileSystem) {
	t.Helper()
	sched, main := kthread.NewScheduler(false, nil)

	reg := page.NewRegistry(swap.NewManager(device.NewMemBlockDevice(int64(numSwapPages * sectorsPerPage))))
	ft := frame.NewTable(numFrames, reg)
	reg.BindFrameTable(ft)

	fs := device.NewMemFileSystem()
	console := &testConsole{}
	mgr := NewManager(sched, reg, fs, console)
	return sched, main, mgr, console, fs
}

// exitStatusProgram registers a program that simply returns status.
func exitStatusProgram(status int32) ProgramFunc {
	return func(m *Manager, self *kthread.Thread_t, p *Proc_t, argv []string) int32 {
		return status
	}
}

func TestExecWaitReturnsExitStatus(t *testing.T) {
	sched, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")
	mgr.RegisterProgram("child", exitStatusProgram(7))

	tid := mgr.Exec(main, root, "child")
	require.NotEqual(t, common.TID_ERROR, tid)

	status := mgr.Wait(main, root, tid)
	assert.Equal(t, int32(7), status)
	_ = sched
}

func TestExecUnknownProgramReturnsErrorTid(t *testing.T) {
	_, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")

	tid := mgr.Exec(main, root, "nonexistent")
	assert.Equal(t, common.TID_ERROR, tid)
}

func TestWaitOnNonChildReturnsNegOne(t *testing.T) {
	_, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")

	assert.Equal(t, int32(-1), mgr.Wait(main, root, common.Tid_t(999)))
}

func TestWaitTwiceOnSameChildReturnsNegOneSecondTime(t *testing.T) {
	_, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")
	mgr.RegisterProgram("child", exitStatusProgram(3))

	tid := mgr.Exec(main, root, "child")
	require.Equal(t, int32(3), mgr.Wait(main, root, tid))
	assert.Equal(t, int32(-1), mgr.Wait(main, root, tid))
}

// TestExecGrandchildWithoutWaitDoesNotBlockParentExit covers a parent
// that execs a grandchild and exits without ever waiting on it: the
// grandchild's WaitSema.Up() has no one left to wake, but that must not
// hang the parent's own exit.
func TestExecGrandchildWithoutWaitDoesNotBlockParentExit(t *testing.T) {
	_, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")
	mgr.RegisterProgram("grandchild", exitStatusProgram(1))
	mgr.RegisterProgram("parent", func(m *Manager, self *kthread.Thread_t, p *Proc_t, argv []string) int32 {
		m.Exec(self, p, "grandchild")
		return 0
	})

	tid := mgr.Exec(main, root, "parent")
	assert.Equal(t, int32(0), mgr.Wait(main, root, tid))
}

func TestCreateOpenReadWriteRoundTrip(t *testing.T) {
	_, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")

	require.True(t, mgr.Create(main, "greeting", 0))
	fd := mgr.Open(main, root, "greeting")
	require.GreaterOrEqual(t, fd, fdFirstUser)

	root.Pages.InstallZeroFill(0x10000000, true)
	_, err := root.Pages.Load(0x10000000)
	require.NoError(t, err)

	n := mgr.Write(root, fd, 0x10000000, 5)
	require.Equal(t, 5, n)

	mgr.Seek(root, fd, 0)
	readBuf := common.Uaddr_t(0x10001000)
	root.Pages.InstallZeroFill(readBuf, true)
	n = mgr.Read(root, fd, readBuf, 5)
	assert.Equal(t, 5, n)

	mgr.Close(root, fd)
	assert.Equal(t, -1, mgr.Tell(root, fd), "fd must be invalid after close")
}

func TestMmapRejectsStdFds(t *testing.T) {
	_, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")
	_, ok := mgr.Mmap(main, root, fdStdin, 0x20000000)
	assert.False(t, ok)
	_, ok = mgr.Mmap(main, root, fdStdout, 0x20000000)
	assert.False(t, ok)
}

func TestMmapRejectsNonPageAlignedAddr(t *testing.T) {
	_, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")
	require.True(t, mgr.Create(main, "f", 100))
	fd := mgr.Open(main, root, "f")

	_, ok := mgr.Mmap(main, root, fd, 0x20000001)
	assert.False(t, ok)
	_, ok = mgr.Mmap(main, root, fd, 0)
	assert.False(t, ok)
}

func TestMmapRejectsEmptyFile(t *testing.T) {
	_, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")
	require.True(t, mgr.Create(main, "empty", 0))
	fd := mgr.Open(main, root, "empty")

	_, ok := mgr.Mmap(main, root, fd, 0x20000000)
	assert.False(t, ok)
}

func TestMmapRejectsOverlapWithExistingEntry(t *testing.T) {
	_, main, mgr, _, _ := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")
	require.True(t, mgr.Create(main, "f", 100))
	fd := mgr.Open(main, root, "f")

	root.Pages.InstallZeroFill(0x20000000, true)
	_, ok := mgr.Mmap(main, root, fd, 0x20000000)
	assert.False(t, ok)
}

func TestMmapMunmapRoundTrip(t *testing.T) {
	_, main, mgr, _, fs := newHarness(t, 4, 4)
	root := mgr.NewRootProcess(main, "root")
	require.Equal(t, common.EOK, fs.Create("mapped", common.PGSIZE))
	fd := mgr.Open(main, root, "mapped")

	id, ok := mgr.Mmap(main, root, fd, 0x30000000)
	require.True(t, ok)

	_, ok = root.Pages.Lookup(0x30000000)
	assert.True(t, ok)

	require.True(t, mgr.Munmap(root, id))
	_, ok = root.Pages.Lookup(0x30000000)
	assert.False(t, ok)
}
