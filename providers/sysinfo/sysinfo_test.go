package sysinfo

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dashbloxx/Asterisk/kernel"
	"github.com/Dashbloxx/Asterisk/vfs"
)

type fakeVMM struct {
	total, used int
}

func (f *fakeVMM) AcquirePageFrames4K(n int) ([]uintptr, error) { return nil, nil }
func (f *fakeVMM) ReleasePageFrames4K(frames []uintptr)         {}
func (f *fakeVMM) MapMemory(proc kernel.ProcessID, phys []uintptr, user bool) (uintptr, error) {
	return 0, nil
}
func (f *fakeVMM) TotalPageCount() int { return f.total }
func (f *fakeVMM) UsedPageCount() int  { return f.used }

type fakeScheduler struct {
	threads []kernel.ThreadInfo
}

func (f *fakeScheduler) Threads() []kernel.ThreadInfo { return f.threads }

func newTestSubsystem(vmm *fakeVMM, sched *fakeScheduler) *kernel.Subsystem {
	return kernel.New(vmm, sched, logrus.New())
}

func mountSysinfo(t *testing.T, sub *kernel.Subsystem) *vfs.FS {
	t.Helper()
	fsys := sub.FS
	_, err := fsys.Mkdir(fsys.Root(), "system", 0)
	require.NoError(t, err)
	ty := New(sub, nil)
	fsys.Register(ty)
	require.NoError(t, fsys.Mount("", "/system", "sysinfo", 0, nil))
	return fsys
}

func TestMeminfoReportsVMMCounters(t *testing.T) {
	sub := newTestSubsystem(&fakeVMM{total: 1024, used: 42}, &fakeScheduler{})
	fsys := mountSysinfo(t, sub)

	node, err := fsys.GetNode("/system/meminfo/totalpages")
	require.NoError(t, err)
	f, err := fsys.Open(node, vfs.ORdonly)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := fsys.Read(f, buf)
	require.NoError(t, err)
	assert.Equal(t, "1024", string(buf[:n]))

	node, err = fsys.GetNode("/system/meminfo/usedpages")
	require.NoError(t, err)
	f, err = fsys.Open(node, vfs.ORdonly)
	require.NoError(t, err)
	n, err = fsys.Read(f, buf)
	require.NoError(t, err)
	assert.Equal(t, "42", string(buf[:n]))
}

func TestMeminfoSecondReadOnSameHandleIsEOF(t *testing.T) {
	sub := newTestSubsystem(&fakeVMM{total: 10, used: 1}, &fakeScheduler{})
	fsys := mountSysinfo(t, sub)
	node, err := fsys.GetNode("/system/meminfo/totalpages")
	require.NoError(t, err)
	f, err := fsys.Open(node, vfs.ORdonly)
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = fsys.Read(f, buf)
	require.NoError(t, err)
	n, err := fsys.Read(f, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMeminfoBufferSizeBoundary(t *testing.T) {
	sub := newTestSubsystem(&fakeVMM{total: 10, used: 1}, &fakeScheduler{})
	fsys := mountSysinfo(t, sub)
	node, err := fsys.GetNode("/system/meminfo/totalpages")
	require.NoError(t, err)

	f, err := fsys.Open(node, vfs.ORdonly)
	require.NoError(t, err)
	_, err = fsys.Read(f, make([]byte, 3))
	assert.ErrorIs(t, err, vfs.ErrIO)

	f2, err := fsys.Open(node, vfs.ORdonly)
	require.NoError(t, err)
	_, err = fsys.Read(f2, make([]byte, 4))
	assert.NoError(t, err)
}

func TestThreadsDirectoryRebuildsOnEachOpen(t *testing.T) {
	sched := &fakeScheduler{threads: []kernel.ThreadInfo{
		{Tid: 1, State: "running", Process: 7, ProcessName: "init"},
		{Tid: 2, State: "wait_io:recv", Process: 7, ProcessName: "init"},
		{Tid: 3, State: "running", Process: 9, ProcessName: "shell"},
	}}
	sub := newTestSubsystem(&fakeVMM{}, sched)
	fsys := mountSysinfo(t, sub)

	threadsNode, err := fsys.GetNode("/system/threads")
	require.NoError(t, err)
	_, err = fsys.Open(threadsNode, vfs.ORdonly)
	require.NoError(t, err)

	var names []string
	for i := 0; ; i++ {
		d, err := fsys.Readdir(threadsNode, i)
		if err != nil {
			break
		}
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"1", "2", "3"}, names)

	node, err := fsys.GetNode("/system/threads/2")
	require.NoError(t, err)
	f, err := fsys.Open(node, vfs.ORdonly)
	require.NoError(t, err)
	buf := make([]byte, 256)
	n, err := fsys.Read(f, buf)
	require.NoError(t, err)
	content := string(buf[:n])
	assert.True(t, strings.Contains(content, "tid:2"))
	assert.True(t, strings.Contains(content, "state:wait_io:recv"))

	sched.threads = sched.threads[:1]
	_, err = fsys.Open(threadsNode, vfs.ORdonly)
	require.NoError(t, err)
	_, err = fsys.GetNode("/system/threads/2")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestThreadFileReadRequiresAtLeast128ByteBuffer(t *testing.T) {
	sched := &fakeScheduler{threads: []kernel.ThreadInfo{{Tid: 5}}}
	sub := newTestSubsystem(&fakeVMM{}, sched)
	fsys := mountSysinfo(t, sub)
	threadsNode, err := fsys.GetNode("/system/threads")
	require.NoError(t, err)
	_, err = fsys.Open(threadsNode, vfs.ORdonly)
	require.NoError(t, err)

	node, err := fsys.GetNode("/system/threads/5")
	require.NoError(t, err)
	f, err := fsys.Open(node, vfs.ORdonly)
	require.NoError(t, err)
	_, err = fsys.Read(f, make([]byte, 127))
	assert.ErrorIs(t, err, vfs.ErrIO)
}

func TestPipesAndShmPlaceholdersExistAsPlainDirectories(t *testing.T) {
	sub := newTestSubsystem(&fakeVMM{}, &fakeScheduler{})
	fsys := mountSysinfo(t, sub)
	for _, p := range []string{"/system/pipes", "/system/shm"} {
		n, err := fsys.GetNode(p)
		require.NoError(t, err)
		assert.True(t, n.Type.Has(vfs.Directory))
	}
}

func TestUptimeReflectsBootTime(t *testing.T) {
	sub := newTestSubsystem(&fakeVMM{}, &fakeScheduler{})
	fsys := mountSysinfo(t, sub)
	node, err := fsys.GetNode("/system/uptime")
	require.NoError(t, err)
	f, err := fsys.Open(node, vfs.ORdonly)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := fsys.Read(f, buf)
	require.NoError(t, err)
	assert.NotEmpty(t, string(buf[:n]))
}
