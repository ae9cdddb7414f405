// Package fatfs binds a block-device node to a FAT16 volume. It
// implements vfs.FileSystemType so a kernel.Subsystem can fs.Register
// it under the name "fat", the same registration idiom
// backend/union/union.go uses for fs.RegInfo/fs.Register.
//
// The on-disk format handling (BPB decode, FAT table cache, cluster
// chains, 8.3 directory entries) is grounded on the field layout and
// window-cache technique of github.com/soypat/fat — reimplemented
// rather than imported because that library's volume-mount and
// directory walk are unexported, and the sampled snapshot's
// dir.follow_path is an unfinished stub.
package fatfs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Dashbloxx/Asterisk/providers/blockdev"
	"github.com/Dashbloxx/Asterisk/vfs"
)

// MaxVolumes bounds the fixed volume table spec.md §3 describes
// ("a small fixed-size table of block-device nodes").
const MaxVolumes = 8

// maxAssembledPathLen is the FAT-namespace path buffer's usable
// capacity: 126 chars succeed, 127 fail NAME_TOO_LONG (spec.md §8
// boundary case).
const maxAssembledPathLen = 126

// Type is the "fat" filesystem driver, reserving one volume slot per
// successful Mount.
type Type struct {
	mu    sync.Mutex
	slots [MaxVolumes]*volume
}

var _ vfs.FileSystemType = (*Type)(nil)

// New creates an empty FAT driver with every volume slot free.
func New() *Type { return &Type{} }

// Name identifies this driver to vfs.FS.Mount's fstype argument.
func (t *Type) Name() string { return "fat" }

// CheckMount validates that sourcePath is a block device and
// targetPath a directory, without reserving a volume slot.
func (t *Type) CheckMount(fsys *vfs.FS, sourcePath, targetPath string, flags uint32, data any) error {
	src, err := fsys.GetNode(sourcePath)
	if err != nil {
		return err
	}
	if !src.Type.Has(vfs.BlockDevice) {
		return fmt.Errorf("fatfs: mount source %s is not a block device: %w", sourcePath, vfs.ErrInvalid)
	}
	tgt, err := fsys.GetNode(targetPath)
	if err != nil {
		return err
	}
	if !tgt.Type.Has(vfs.Directory) {
		return fmt.Errorf("fatfs: mount target %s is not a directory: %w", targetPath, vfs.ErrInvalid)
	}
	return nil
}

// Mount reserves a free volume slot, reads the BPB and FAT table off
// the backing block device, and installs the overlay root as
// targetPath's mount point. Any failure releases the reserved slot and
// leaves targetPath untouched.
func (t *Type) Mount(fsys *vfs.FS, sourcePath, targetPath string, flags uint32, data any) error {
	src, err := fsys.GetNode(sourcePath)
	if err != nil {
		return err
	}
	tgt, err := fsys.GetNode(targetPath)
	if err != nil {
		return err
	}
	bdOps, ok := src.Ops.(*blockdev.Ops)
	if !ok {
		return fmt.Errorf("fatfs: mount source %s has no block-device ops: %w", sourcePath, vfs.ErrInvalid)
	}

	idx, err := t.reserveSlot()
	if err != nil {
		return err
	}

	vol, err := mountVolume(idx, bdOps.Dev, src)
	if err != nil {
		t.releaseSlot(idx)
		return err
	}

	t.mu.Lock()
	t.slots[idx] = vol
	t.mu.Unlock()

	root := fsys.Tree().NewNode("", vfs.Directory)
	root.MountSource = src.ID
	root.Ops = &dirOps{fsys: fsys, vol: vol, isRoot: true, self: root}

	tgt.Type |= vfs.MountPoint
	tgt.MountPoint = root.ID
	return nil
}

func (t *Type) reserveSlot() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = &volume{} // placeholder, replaced on success
			return i, nil
		}
	}
	return 0, fmt.Errorf("fatfs: all %d volume slots are occupied: %w", MaxVolumes, vfs.ErrIO)
}

func (t *Type) releaseSlot(idx int) {
	t.mu.Lock()
	t.slots[idx] = nil
	t.mu.Unlock()
}

// DiskIoctl answers a disk_ioctl request against volumeIndex's backing
// block device via a VFS round trip (Open then Ioctl), the Go form of
// spec.md §4.3's "disk_ioctl supports ... GET_SECTOR_COUNT and
// GET_BLOCK_SIZE by opening the block device via VFS and issuing the
// corresponding VFS ioctls". A disk_* callback against an unbound slot
// fails NOT_READY.
func (t *Type) DiskIoctl(fsys *vfs.FS, volumeIndex int, cmd uint32) (uint32, error) {
	t.mu.Lock()
	vol := t.slots[volumeIndex]
	t.mu.Unlock()
	if vol == nil || vol.devNode == nil {
		return 0, vfs.ErrNotReady
	}
	f, err := fsys.Open(vol.devNode, vfs.ORdonly)
	if err != nil {
		return 0, err
	}
	defer fsys.Close(f)
	var out uint32
	if err := fsys.Ioctl(f, cmd, &out); err != nil {
		return 0, err
	}
	return out, nil
}

// VolumeInfo is a Statfs-like summary of a mounted volume's capacity,
// the supplement SPEC_FULL.md §3.3 adds for a df-style status command.
type VolumeInfo struct {
	TotalClusters   uint32
	FreeClusters    uint32
	BytesPerCluster uint32
}

// VolumeInfo reports capacity for the volume mounted in slot
// volumeIndex, scanning the cached FAT table for free entries.
func (t *Type) VolumeInfo(volumeIndex int) (VolumeInfo, error) {
	t.mu.Lock()
	vol := t.slots[volumeIndex]
	t.mu.Unlock()
	if vol == nil {
		return VolumeInfo{}, vfs.ErrNotReady
	}
	total := vol.geom.clusterCount()
	var free uint32
	for c := uint32(2); c < total+2; c++ {
		if vol.fatEntry(c) == fatFree {
			free++
		}
	}
	return VolumeInfo{
		TotalClusters:   total,
		FreeClusters:    free,
		BytesPerCluster: vol.clusterBytes(),
	}, nil
}

// assemblePath walks n's parent chain up to (but not including) its
// mount root, building "<vol>:/a/b/c" the way spec.md §4.3 describes.
func assemblePath(tree *vfs.Tree, volIdx int, n *vfs.Node) (string, error) {
	var segments []string
	cur := n
	for cur != nil && cur.MountSource == vfs.NoID {
		segments = append(segments, cur.Name)
		cur = tree.Get(cur.Parent)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d:", volIdx)
	for i := len(segments) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segments[i])
	}
	path := b.String()
	if len(path) > maxAssembledPathLen {
		return "", vfs.ErrNameTooLong
	}
	return path, nil
}

// dirOps is the capability set a FAT directory node's Ops holds.
type dirOps struct {
	fsys       *vfs.FS
	vol        *volume
	isRoot     bool
	firstClust uint32
	self       *vfs.Node
}

var (
	_ vfs.Opener  = (*dirOps)(nil)
	_ vfs.Finder  = (*dirOps)(nil)
	_ vfs.Direrer = (*dirOps)(nil)
	_ vfs.Stater  = (*dirOps)(nil)
)

// Open re-assembles this directory's FAT-namespace path to surface a
// NAME_TOO_LONG failure the same way a real open would, per spec.md
// §9's resolution that open/stat overflow maps to a failure return
// rather than a panic.
func (d *dirOps) Open(f *vfs.FileHandle, flags int) error {
	_, err := assemblePath(d.fsys.Tree(), d.vol.idx, d.self)
	return err
}

func (d *dirOps) entries() ([]dirent, error) {
	return d.vol.readDir(d.isRoot, d.firstClust)
}

// Finddir scans in-memory children first (a prior Finddir/Readdir may
// already have materialized the node), then falls back to a FAT
// directory scan and lazily allocates a child node on a hit, per
// spec.md §4.3.
func (d *dirOps) Finddir(n *vfs.Node, name string) (*vfs.Node, error) {
	tree := d.fsys.Tree()
	if existing := tree.ChildByName(n, name); existing != nil {
		return existing, nil
	}
	entries, err := d.entries()
	if err != nil {
		return nil, err
	}
	upper := strings.ToUpper(name)
	for _, e := range entries {
		if strings.ToUpper(e.name) != upper {
			continue
		}
		var child *vfs.Node
		if e.isDir {
			child = tree.NewNode(name, vfs.Directory)
			child.Ops = &dirOps{fsys: d.fsys, vol: d.vol, firstClust: e.firstClust, self: child}
		} else {
			child = tree.NewNode(name, vfs.File)
			child.Length = int64(e.size)
			child.Ops = &fileOps{fsys: d.fsys, vol: d.vol, firstClust: e.firstClust, size: e.size, loc: e, self: child}
		}
		if err := tree.AddChild(n, child); err != nil {
			return nil, err
		}
		return child, nil
	}
	return nil, vfs.ErrNotFound
}

// Readdir returns the index-th live entry of the FAT directory,
// re-scanning the volume on every call per spec.md §4.3's
// open/read-i-times/close contract.
func (d *dirOps) Readdir(n *vfs.Node, index int) (*vfs.Dirent, error) {
	entries, err := d.entries()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(entries) {
		return nil, vfs.ErrNotFound
	}
	e := entries[index]
	typ := vfs.File
	if e.isDir {
		typ = vfs.Directory
	}
	return &vfs.Dirent{Name: e.name, Type: typ, Inode: n.ID}, nil
}

func (d *dirOps) Stat(n *vfs.Node) error { return nil }

// fileOps is the capability set a FAT file node's Ops holds. Clusters
// are walked fresh on every Read/Write rather than cached per node,
// trading some efficiency for a much smaller state machine — adequate
// at the volume sizes this kernel targets.
type fileOps struct {
	mu         sync.Mutex
	fsys       *vfs.FS
	vol        *volume
	firstClust uint32
	size       uint32
	loc        dirent
	self       *vfs.Node
}

var (
	_ vfs.Opener  = (*fileOps)(nil)
	_ vfs.Reader  = (*fileOps)(nil)
	_ vfs.Writer  = (*fileOps)(nil)
	_ vfs.Lseeker = (*fileOps)(nil)
	_ vfs.Stater  = (*fileOps)(nil)
	_ vfs.Closer  = (*fileOps)(nil)
)

// Open does not translate the POSIX flag set itself: Write rejects a
// handle opened without OWronly or ORdwr. No FAT-side file descriptor
// allocation is needed since fileOps
// itself is the per-node "open file" state (spec.md §4.3's
// file.private_data is this struct). The path is still reassembled so
// an overflowing path fails NAME_TOO_LONG exactly as a real FAT open
// would before ever touching the library.
func (o *fileOps) Open(f *vfs.FileHandle, flags int) error {
	_, err := assemblePath(o.fsys.Tree(), o.vol.idx, o.self)
	return err
}

// Read fills buf from the file's cluster chain at f's current offset,
// returning (0, nil) at EOF per the FAT library read contract spec.md
// §4.3 describes (partial reads return the byte count transferred).
func (o *fileOps) Read(f *vfs.FileHandle, buf []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if f.Offset >= int64(o.size) || len(buf) == 0 {
		return 0, nil
	}
	remaining := int64(o.size) - f.Offset
	want := len(buf)
	if int64(want) > remaining {
		want = int(remaining)
	}
	chain, err := o.vol.clusterChain(o.firstClust)
	if err != nil {
		return 0, err
	}
	cb := int64(o.vol.clusterBytes())
	read := 0
	for read < want {
		pos := f.Offset + int64(read)
		ci := int(pos / cb)
		if ci >= len(chain) {
			break
		}
		data, err := o.vol.readCluster(chain[ci])
		if err != nil {
			return read, err
		}
		off := pos % cb
		n := int64(len(data)) - off
		if n > int64(want-read) {
			n = int64(want - read)
		}
		copy(buf[read:], data[off:off+n])
		read += int(n)
	}
	f.Offset += int64(read)
	return read, nil
}

// Write writes buf at f's current offset, allocating new clusters via
// the volume's free-scan allocator when the file must grow, and
// patches the directory entry's size/first-cluster fields in place.
func (o *fileOps) Write(f *vfs.FileHandle, buf []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if f.Flags&(vfs.OWronly|vfs.ORdwr) == 0 {
		return 0, vfs.ErrIO
	}
	if len(buf) == 0 {
		return 0, nil
	}
	cb := int64(o.vol.clusterBytes())
	chain, err := o.vol.clusterChain(o.firstClust)
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(buf) {
		pos := f.Offset + int64(written)
		ci := int(pos / cb)
		for ci >= len(chain) {
			next, err := o.vol.allocateCluster()
			if err != nil {
				return written, err
			}
			if len(chain) == 0 {
				o.firstClust = next
			} else {
				o.vol.setFATEntry(chain[len(chain)-1], uint16(next))
			}
			chain = append(chain, next)
		}
		data, err := o.vol.readCluster(chain[ci])
		if err != nil {
			return written, err
		}
		off := pos % cb
		n := int64(len(data)) - off
		if n > int64(len(buf)-written) {
			n = int64(len(buf) - written)
		}
		copy(data[off:off+n], buf[written:written+int(n)])
		if err := o.vol.writeCluster(chain[ci], data); err != nil {
			return written, err
		}
		written += int(n)
	}

	f.Offset += int64(written)
	if uint32(f.Offset) > o.size {
		o.size = uint32(f.Offset)
	}
	f.Node.Length = int64(o.size)
	if err := o.vol.writeDirentField(o.loc, o.size, o.firstClust); err != nil {
		return written, err
	}
	return written, nil
}

// Lseek implements SEEK_SET/SEEK_CUR/SEEK_END exactly as spec.md
// §4.3 specifies.
func (o *fileOps) Lseek(f *vfs.FileHandle, offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case vfs.SeekSet:
		base = 0
	case vfs.SeekCur:
		base = f.Offset
	case vfs.SeekEnd:
		base = int64(o.size)
	default:
		return 0, vfs.ErrInvalid
	}
	newOffset := base + offset
	if newOffset < 0 {
		return 0, vfs.ErrInvalid
	}
	f.Offset = newOffset
	return newOffset, nil
}

func (o *fileOps) Stat(n *vfs.Node) error {
	n.Length = int64(o.size)
	return nil
}

// Close flushes any FAT table sectors this file's writes dirtied.
func (o *fileOps) Close(f *vfs.FileHandle) error {
	return o.vol.flushFAT()
}
