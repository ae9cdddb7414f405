package sysinfo

import (
	"fmt"
	"strconv"

	"github.com/Dashbloxx/Asterisk/kernel"
	"github.com/Dashbloxx/Asterisk/vfs"
)

// threadsDirOps rebuilds the threads/ directory's children from the
// scheduler's live thread list on every open, per spec.md §4.4: "prior
// children are freed, then the thread list ... is walked". No Finder
// or Direrer override is needed — once the children exist, the VFS
// core's default in-memory sibling scan serves Finddir/Readdir.
type threadsDirOps struct {
	tree  *vfs.Tree
	sched kernel.Scheduler
}

var _ vfs.Opener = (*threadsDirOps)(nil)

func (d *threadsDirOps) Open(f *vfs.FileHandle, flags int) error {
	n := f.Node
	d.tree.ClearChildren(n)
	for _, info := range d.sched.Threads() {
		child := d.tree.NewNode(strconv.Itoa(info.Tid), vfs.File)
		child.Ops = &threadFileOps{info: info}
		if err := d.tree.AddChild(n, child); err != nil {
			return fmt.Errorf("sysinfo: rebuild threads/: %w", err)
		}
	}
	return nil
}

// threadFileOps backs one threads/<tid> file: a single key-value block
// emitted at offset==0, requiring a buffer of at least 128 bytes per
// spec.md §4.4.
type threadFileOps struct {
	info kernel.ThreadInfo
}

var (
	_ vfs.Opener = (*threadFileOps)(nil)
	_ vfs.Reader = (*threadFileOps)(nil)
)

func (t *threadFileOps) Open(f *vfs.FileHandle, flags int) error { return nil }

func (t *threadFileOps) Read(f *vfs.FileHandle, buf []byte) (int, error) {
	if len(buf) < 128 {
		return 0, vfs.ErrIO
	}
	if f.Offset != 0 {
		return 0, nil
	}
	i := t.info
	text := fmt.Sprintf(
		"tid:%d\nbirthTime:%d\nuserMode:%t\nstate:%s\nsyscalls:%d\ncontextSwitches:%d\ncpuTimeMs:%d\ncpuUsagePercent:%d\nprocess:%d\nprocessName:%s\n",
		i.Tid, i.BirthTimeUnix, i.UserMode, i.State, i.Syscalls, i.ContextSwitches, i.CPUTimeMs, i.CPUUsagePercent, i.Process, i.ProcessName,
	)
	n := copy(buf, text)
	f.Offset += int64(n)
	return n, nil
}
