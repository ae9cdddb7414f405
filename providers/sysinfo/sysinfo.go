// Package sysinfo implements the synthetic "/system" tree: read-only
// memory counters, a live per-thread directory rebuilt on every open,
// and placeholder pipes/shm directories the shared-memory provider
// overrides in place (vfs.FileSystemType.Mount installs one overlay;
// providers/shm's Install call attaches its Ops directly to the
// "shm" child node this package creates, the same
// registered-but-overridable-subtree idiom spec.md §4.5 describes).
package sysinfo

import (
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"

	"github.com/Dashbloxx/Asterisk/kernel"
	"github.com/Dashbloxx/Asterisk/vfs"
)

// bboltPeakBucket/-Key name the single counter this provider persists:
// the high-water mark of vmm.UsedPageCount(), a supplement SPEC_FULL.md
// §3.4 adds, grounded on backend/cache/storage_persistent.go's bbolt
// usage for a monotonic on-disk counter.
var (
	bboltPeakBucket = []byte("sysinfo")
	bboltPeakKey    = []byte("peakpages")
)

// Type is the "sysinfo" filesystem driver. A single instance is
// mounted once at boot, conventionally at "/system".
type Type struct {
	sub *kernel.Subsystem
	db  *bbolt.DB // optional; nil disables peakpages persistence
}

var _ vfs.FileSystemType = (*Type)(nil)

// New creates a sysinfo driver bound to sub. db may be nil, in which
// case meminfo/peakpages reports the current used-page count: no
// high-water mark is kept, in memory or on disk.
func New(sub *kernel.Subsystem, db *bbolt.DB) *Type {
	return &Type{sub: sub, db: db}
}

func (t *Type) Name() string { return "sysinfo" }

func (t *Type) CheckMount(fsys *vfs.FS, sourcePath, targetPath string, flags uint32, data any) error {
	tgt, err := fsys.GetNode(targetPath)
	if err != nil {
		return err
	}
	if !tgt.Type.Has(vfs.Directory) {
		return fmt.Errorf("sysinfo: mount target %s is not a directory: %w", targetPath, vfs.ErrInvalid)
	}
	return nil
}

// Mount builds the static subtree described in spec.md §4.4 (plus the
// peakpages/uptime supplements) under a fresh overlay root and installs
// it as targetPath's mount point.
func (t *Type) Mount(fsys *vfs.FS, sourcePath, targetPath string, flags uint32, data any) error {
	tgt, err := fsys.GetNode(targetPath)
	if err != nil {
		return err
	}
	tree := fsys.Tree()

	root := tree.NewNode("", vfs.Directory)
	root.MountSource = tgt.ID // synthetic: there is no backing device, so the mount target stands in as the source marker

	meminfo := tree.NewNode("meminfo", vfs.Directory)
	mustAddChild(tree, root, meminfo)
	mustAddChild(tree, meminfo, scalarFile(tree, "totalpages", func() int64 { return int64(t.sub.VMM.TotalPageCount()) }))
	mustAddChild(tree, meminfo, scalarFile(tree, "usedpages", func() int64 { return int64(t.sub.VMM.UsedPageCount()) }))
	mustAddChild(tree, meminfo, scalarFile(tree, "peakpages", func() int64 { return t.peakPages() }))

	mustAddChild(tree, root, scalarFile(tree, "uptime", func() int64 { return int64(t.sub.Uptime().Seconds()) }))

	threads := tree.NewNode("threads", vfs.Directory)
	threads.Ops = &threadsDirOps{tree: tree, sched: t.sub.Scheduler}
	mustAddChild(tree, root, threads)

	mustAddChild(tree, root, tree.NewNode("pipes", vfs.Directory))
	mustAddChild(tree, root, tree.NewNode("shm", vfs.Directory))

	tgt.Type |= vfs.MountPoint
	tgt.MountPoint = root.ID
	return nil
}

func mustAddChild(tree *vfs.Tree, parent, child *vfs.Node) {
	// Names are chosen by this package and never collide; AddChild's
	// ErrExists can only fire on a programming error here.
	if err := tree.AddChild(parent, child); err != nil {
		panic(fmt.Sprintf("sysinfo: static subtree build: %v", err))
	}
}

// peakPages returns the largest used-page count recorded in the bbolt
// store, updating it when the current count is higher. Without a store
// it returns the current used-page count.
func (t *Type) peakPages() int64 {
	used := int64(t.sub.VMM.UsedPageCount())
	if t.db == nil {
		return used
	}
	var peak int64
	err := t.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bboltPeakBucket)
		if err != nil {
			return err
		}
		if v := b.Get(bboltPeakKey); v != nil {
			peak = bytesToInt64(v)
		}
		if used > peak {
			peak = used
			return b.Put(bboltPeakKey, int64ToBytes(peak))
		}
		return nil
	})
	if err != nil {
		t.sub.Log.WithError(err).Warn("sysinfo: peakpages persistence failed")
	}
	return peak
}

func int64ToBytes(v int64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf
}

func bytesToInt64(buf []byte) int64 {
	var v int64
	for i := 0; i < 8 && i < len(buf); i++ {
		v |= int64(buf[i]) << (8 * i)
	}
	return v
}

// scalarOps is a read-only node whose content is the decimal ASCII
// rendering of value(), produced once per handle at offset==0 and
// EOF after, per spec.md §4.4's meminfo contract. A read with less
// than 4 bytes of buffer fails IO_ERROR regardless of offset.
type scalarOps struct {
	value func() int64
}

var (
	_ vfs.Opener = (*scalarOps)(nil)
	_ vfs.Reader = (*scalarOps)(nil)
)

func (s *scalarOps) Open(f *vfs.FileHandle, flags int) error { return nil }

func (s *scalarOps) Read(f *vfs.FileHandle, buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, vfs.ErrIO
	}
	if f.Offset != 0 {
		return 0, nil
	}
	text := strconv.FormatInt(s.value(), 10)
	n := copy(buf, text)
	f.Offset += int64(n)
	return n, nil
}

// scalarFile builds a read-only file node backed by scalarOps.
func scalarFile(tree *vfs.Tree, name string, value func() int64) *vfs.Node {
	node := tree.NewNode(name, vfs.File)
	node.Ops = &scalarOps{value: value}
	return node
}
