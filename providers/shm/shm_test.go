package shm

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dashbloxx/Asterisk/internal/sched"
	"github.com/Dashbloxx/Asterisk/internal/vmm"
	"github.com/Dashbloxx/Asterisk/kernel"
	"github.com/Dashbloxx/Asterisk/vfs"
)

func newSubsystem(t *testing.T) *kernel.Subsystem {
	t.Helper()
	return kernel.New(vmm.New(1<<20), sched.New(), logrus.New())
}

func mountShmDir(t *testing.T, sub *kernel.Subsystem) string {
	t.Helper()
	sysNode, err := sub.FS.Mkdir(sub.FS.Root(), "system", 0)
	require.NoError(t, err)
	_, err = sub.FS.Mkdir(sysNode, "shm", 0)
	require.NoError(t, err)
	return "/system/shm"
}

func TestCreateObjectThenFinddirAndReaddirSeeIt(t *testing.T) {
	sub := newSubsystem(t)
	dirPath := mountShmDir(t, sub)
	ty, err := Install(sub, dirPath)
	require.NoError(t, err)

	node, err := ty.CreateObject("X")
	require.NoError(t, err)
	assert.True(t, node.Type.Has(vfs.CharacterDevice))

	found, err := sub.FS.GetNode(dirPath + "/X")
	require.NoError(t, err)
	assert.Equal(t, node.ID, found.ID)
}

func TestReaddirEnumeratesCreatedObjects(t *testing.T) {
	sub := newSubsystem(t)
	dirPath := mountShmDir(t, sub)
	ty, err := Install(sub, dirPath)
	require.NoError(t, err)
	_, err = ty.CreateObject("A")
	require.NoError(t, err)
	_, err = ty.CreateObject("B")
	require.NoError(t, err)

	dirNode, err := sub.FS.GetNode(dirPath)
	require.NoError(t, err)

	var names []string
	for i := 0; ; i++ {
		d, err := sub.FS.Readdir(dirNode, i)
		if err != nil {
			break
		}
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"A", "B"}, names)
}

func TestFinddirUnknownNameIsNotFound(t *testing.T) {
	sub := newSubsystem(t)
	dirPath := mountShmDir(t, sub)
	_, err := Install(sub, dirPath)
	require.NoError(t, err)

	_, err = sub.FS.GetNode(dirPath + "/missing")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func openObject(t *testing.T, sub *kernel.Subsystem, path string) *vfs.FileHandle {
	t.Helper()
	node, err := sub.FS.GetNode(path)
	require.NoError(t, err)
	f, err := sub.FS.Open(node, vfs.ORdwr)
	require.NoError(t, err)
	return f
}

func TestFtruncateRoundsUpToPagesAndIsValidOnce(t *testing.T) {
	sub := newSubsystem(t)
	dirPath := mountShmDir(t, sub)
	ty, err := Install(sub, dirPath)
	require.NoError(t, err)
	node, err := ty.CreateObject("X")
	require.NoError(t, err)

	f := openObject(t, sub, dirPath+"/X")
	require.NoError(t, sub.FS.Ftruncate(f, 1))
	assert.Equal(t, int64(1), node.Length)

	info, err := ty.Info("X")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PageCount)

	err = sub.FS.Ftruncate(f, 4096)
	assert.ErrorIs(t, err, vfs.ErrInvalid)
}

func TestFtruncateNonPositiveLengthIsInvalid(t *testing.T) {
	sub := newSubsystem(t)
	dirPath := mountShmDir(t, sub)
	ty, err := Install(sub, dirPath)
	require.NoError(t, err)
	_, err = ty.CreateObject("X")
	require.NoError(t, err)
	f := openObject(t, sub, dirPath+"/X")
	assert.ErrorIs(t, sub.FS.Ftruncate(f, 0), vfs.ErrInvalid)
	assert.ErrorIs(t, sub.FS.Ftruncate(f, -1), vfs.ErrInvalid)
}

func TestMmapOnZeroPageObjectReturnsNullNoError(t *testing.T) {
	sub := newSubsystem(t)
	dirPath := mountShmDir(t, sub)
	ty, err := Install(sub, dirPath)
	require.NoError(t, err)
	_, err = ty.CreateObject("X")
	require.NoError(t, err)
	f := openObject(t, sub, dirPath+"/X")

	addr, err := sub.FS.Mmap(f, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0), addr)
}

func TestShmHandshakeTwoProcessesSeeSamePattern(t *testing.T) {
	sub := newSubsystem(t)
	dirPath := mountShmDir(t, sub)
	ty, err := Install(sub, dirPath)
	require.NoError(t, err)
	_, err = ty.CreateObject("X")
	require.NoError(t, err)

	p1 := openObject(t, sub, dirPath+"/X")
	p1.Thread = 1
	require.NoError(t, sub.FS.Ftruncate(p1, 8192))
	addr1, err := sub.FS.Mmap(p1, 0, 0, 0)
	require.NoError(t, err)
	require.NotZero(t, addr1)

	vm := sub.VMM.(*vmm.VMM)
	view1 := vm.ByteView(addr1)
	require.NotNil(t, view1)
	view1[0] = 0xAA

	p2 := openObject(t, sub, dirPath+"/X")
	p2.Thread = 2
	addr2, err := sub.FS.Mmap(p2, 0, 0, 0)
	require.NoError(t, err)
	view2 := vm.ByteView(addr2)
	require.NotNil(t, view2)
	assert.Equal(t, byte(0xAA), view2[0])

	node, err := sub.FS.GetNode(dirPath + "/X")
	require.NoError(t, err)
	assert.NoError(t, sub.FS.Unlink(node, 0))

	ty.UnmapForProcessAll(kernel.ProcessID(1))
	ty.UnmapForProcessAll(kernel.ProcessID(2))

	_, err = sub.FS.GetNode(dirPath + "/X")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestUnlinkWithLiveMappingDefersDestroyUntilUnmap(t *testing.T) {
	sub := newSubsystem(t)
	dirPath := mountShmDir(t, sub)
	ty, err := Install(sub, dirPath)
	require.NoError(t, err)
	_, err = ty.CreateObject("X")
	require.NoError(t, err)

	f := openObject(t, sub, dirPath+"/X")
	f.Thread = 9
	require.NoError(t, sub.FS.Ftruncate(f, 4096))
	_, err = sub.FS.Mmap(f, 0, 0, 0)
	require.NoError(t, err)

	node, err := sub.FS.GetNode(dirPath + "/X")
	require.NoError(t, err)
	require.NoError(t, sub.FS.Unlink(node, 0))

	_, err = sub.FS.GetNode(dirPath + "/X")
	require.NoError(t, err, "object must survive unlink while a mapping is live")

	ty.UnmapForProcessAll(kernel.ProcessID(9))
	_, err = sub.FS.GetNode(dirPath + "/X")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestInfoUnknownNameIsNotFound(t *testing.T) {
	sub := newSubsystem(t)
	dirPath := mountShmDir(t, sub)
	ty, err := Install(sub, dirPath)
	require.NoError(t, err)
	_, err = ty.Info("nope")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}
