// Package vfs implements the kernel's virtual file system core: the
// node tree, the mount table, path resolution, and the dispatch that
// routes every fs_* operation through a node's provider-supplied
// capability set. Pluggable providers (FAT, sysinfo, shm, unix
// sockets) live in sibling packages under providers/ and register
// themselves with a FS at boot, mirroring how the teacher's backends
// register an fs.RegInfo with fs.Register in an init().
package vfs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileSystemType is a registered filesystem driver, the Go analogue of
// the original's FileSystem{name, mount, check_mount} struct.
type FileSystemType interface {
	// Name is the string fs_mount's fstype argument is matched
	// against.
	Name() string
	// Mount installs the provider's overlay at targetPath, which must
	// already exist as a directory node. Implementations resolve
	// sourcePath/targetPath themselves via fsys.GetNode, exactly as
	// the original's mount() hooks called fs_get_node internally.
	Mount(fsys *FS, sourcePath, targetPath string, flags uint32, data any) error
	// CheckMount is a dry run invoked before Mount to validate that
	// source/target are acceptable, without installing anything.
	CheckMount(fsys *FS, sourcePath, targetPath string, flags uint32, data any) error
}

// FS is the kernel-wide VFS core: the node arena, the mount table
// (registered FileSystemTypes), and the root node. One FS is created
// at boot by kernel.Subsystem and handed to every provider's
// registration call.
type FS struct {
	tree *Tree
	root *Node

	mu       sync.Mutex
	registry map[string]FileSystemType

	log *logrus.Entry
}

// New creates a VFS core with an empty root directory, "/".
func New(log *logrus.Entry) *FS {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	tree, root := NewTree("")
	return &FS{
		tree:     tree,
		root:     root,
		registry: make(map[string]FileSystemType),
		log:      log.WithField("component", "vfs"),
	}
}

// Tree exposes the node arena so providers can allocate and link
// nodes directly (fatfs and sysinfo both need this to build their
// synthetic subtrees).
func (fsys *FS) Tree() *Tree { return fsys.tree }

// Root returns the VFS root node.
func (fsys *FS) Root() *Node { return fsys.root }

// Register adds a FileSystemType to the mount table, the Go form of
// fs_register. Re-registering the same name replaces the previous
// entry, matching a lookup-by-name registry rather than erroring.
func (fsys *FS) Register(fstype FileSystemType) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fsys.registry[fstype.Name()] = fstype
	fsys.log.Debugf("registered filesystem type %q", fstype.Name())
}

func (fsys *FS) lookupFSType(name string) (FileSystemType, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fstype, ok := fsys.registry[name]
	if !ok {
		return nil, fmt.Errorf("vfs: unknown filesystem type %q: %w", name, ErrNotSupported)
	}
	return fstype, nil
}

// Mount looks up fstypeName in the registry and invokes its Mount
// hook, the Go form of fs_mount. CheckMount is run first as a dry run;
// a failure there short-circuits without touching any node.
func (fsys *FS) Mount(sourcePath, targetPath, fstypeName string, flags uint32, data any) error {
	fstype, err := fsys.lookupFSType(fstypeName)
	if err != nil {
		return err
	}
	if err := fstype.CheckMount(fsys, sourcePath, targetPath, flags, data); err != nil {
		return fmt.Errorf("vfs: check_mount %s -> %s: %w", sourcePath, targetPath, err)
	}
	if err := fstype.Mount(fsys, sourcePath, targetPath, flags, data); err != nil {
		return fmt.Errorf("vfs: mount %s -> %s (%s): %w", sourcePath, targetPath, fstypeName, err)
	}
	fsys.log.Infof("mounted %s on %s as %s", sourcePath, targetPath, fstypeName)
	return nil
}

// crossMount follows node.MountPoint while it is set, the "if current
// node has MOUNT_POINT set, traverse into its mount_point first" step
// every path-resolution and dispatch operation performs.
func (fsys *FS) crossMount(n *Node) *Node {
	for n != nil && n.Type.Has(MountPoint) {
		next := fsys.tree.Get(n.MountPoint)
		if next == nil {
			break
		}
		n = next
	}
	return n
}

// Finddir resolves one path component under dir, using the provider's
// Finder hook if present and otherwise the default in-memory
// sibling-list scan.
func (fsys *FS) Finddir(dir *Node, name string) (*Node, error) {
	dir = fsys.crossMount(dir)
	if f, ok := dir.Ops.(Finder); ok {
		return f.Finddir(dir, name)
	}
	if n := fsys.tree.ChildByName(dir, name); n != nil {
		return n, nil
	}
	return nil, ErrNotFound
}

// Readdir returns the index-th directory entry of dir, or
// (nil, ErrNotFound) past the end — the Go form of the index-based
// readdir(node, i) contract, returned by value instead of aliasing a
// shared static dirent buffer.
func (fsys *FS) Readdir(dir *Node, index int) (*Dirent, error) {
	dir = fsys.crossMount(dir)
	if d, ok := dir.Ops.(Direrer); ok {
		return d.Readdir(dir, index)
	}
	children := fsys.tree.Children(dir)
	if index < 0 || index >= len(children) {
		return nil, ErrNotFound
	}
	c := children[index]
	return &Dirent{Name: c.Name, Type: c.Type, Inode: c.ID}, nil
}

// GetNode resolves an absolute, '/'-separated path from the VFS root,
// crossing mount points at every step.
func (fsys *FS) GetNode(path string) (*Node, error) {
	return fsys.GetNodeRelative(fsys.root, path)
}

// GetNodeRelative resolves path starting from start, the Go form of
// get_node_absolute_or_relative (the process's working-directory node
// is supplied by the caller; process lookup itself is out of scope
// here, per spec.md §6).
func (fsys *FS) GetNodeRelative(start *Node, path string) (*Node, error) {
	n := fsys.crossMount(start)
	if path == "" || path == "/" {
		return n, nil
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		next, err := fsys.Finddir(n, part)
		if err != nil {
			return nil, err
		}
		n = fsys.crossMount(next)
	}
	return n, nil
}

// Mkdir creates a directory named name under parent. If parent's Ops
// implements Mkdirer the call is delegated (FAT directories, for
// instance, would need to touch the backing volume); otherwise a
// plain in-memory directory node is created and linked.
func (fsys *FS) Mkdir(parent *Node, name string, flags uint32) (*Node, error) {
	parent = fsys.crossMount(parent)
	if name == "" {
		return nil, ErrInvalid
	}
	if m, ok := parent.Ops.(Mkdirer); ok {
		return m.Mkdir(parent, name, flags)
	}
	if fsys.tree.ChildByName(parent, name) != nil {
		return nil, ErrExists
	}
	child := fsys.tree.NewNode(name, Directory)
	if err := fsys.tree.AddChild(parent, child); err != nil {
		return nil, err
	}
	return child, nil
}

// Open opens node for I/O and returns a FileHandle, the Go form of
// fs_open -> File*. Directories with no Opener hook open trivially, as
// the original's synthetic providers do.
func (fsys *FS) Open(node *Node, flags int) (*FileHandle, error) {
	node = fsys.crossMount(node)
	f := &FileHandle{Node: node, Flags: flags}
	if o, ok := node.Ops.(Opener); ok {
		if err := o.Open(f, flags); err != nil {
			return nil, err
		}
		return f, nil
	}
	if node.Type.Has(Directory) {
		return f, nil
	}
	return nil, ErrNotSupported
}

// Close releases a FileHandle, the Go form of fs_close.
func (fsys *FS) Close(f *FileHandle) error {
	if c, ok := f.Node.Ops.(Closer); ok {
		return c.Close(f)
	}
	return nil
}

// Read reads into buf at f's current offset, the Go form of fs_read.
func (fsys *FS) Read(f *FileHandle, buf []byte) (int, error) {
	r, ok := f.Node.Ops.(Reader)
	if !ok {
		return 0, ErrNotSupported
	}
	return r.Read(f, buf)
}

// Write writes buf at f's current offset, the Go form of fs_write.
func (fsys *FS) Write(f *FileHandle, buf []byte) (int, error) {
	w, ok := f.Node.Ops.(Writer)
	if !ok {
		return 0, ErrNotSupported
	}
	return w.Write(f, buf)
}

// Lseek repositions f's offset, the Go form of fs_lseek.
func (fsys *FS) Lseek(f *FileHandle, offset int64, whence int) (int64, error) {
	l, ok := f.Node.Ops.(Lseeker)
	if !ok {
		return 0, ErrNotSupported
	}
	return l.Lseek(f, offset, whence)
}

// Stat refreshes node's Type/Length from its backing store, the Go
// form of fs_stat called on a node rather than a path.
func (fsys *FS) Stat(node *Node) error {
	node = fsys.crossMount(node)
	if s, ok := node.Ops.(Stater); ok {
		return s.Stat(node)
	}
	return nil
}

// Ioctl issues a device control request, the Go form of fs_ioctl.
func (fsys *FS) Ioctl(f *FileHandle, cmd uint32, arg any) error {
	i, ok := f.Node.Ops.(Ioctler)
	if !ok {
		return ErrNotSupported
	}
	return i.Ioctl(f, cmd, arg)
}

// Ftruncate sets a node's length via its backing store, used by the
// shared-memory provider's once-only truncate.
func (fsys *FS) Ftruncate(f *FileHandle, length int64) error {
	t, ok := f.Node.Ops.(Truncater)
	if !ok {
		return ErrNotSupported
	}
	return t.Ftruncate(f, length)
}

// Mmap maps a node's backing pages into the caller's address space,
// used by the shared-memory provider.
func (fsys *FS) Mmap(f *FileHandle, size, offset uint64, flags uint32) (uintptr, error) {
	m, ok := f.Node.Ops.(Mapper)
	if !ok {
		return 0, ErrNotSupported
	}
	return m.Mmap(f, size, offset, flags)
}

// ReadTestReady reports whether node would complete a non-blocking
// read/accept right now, used by poll/select-style callers.
func (fsys *FS) ReadTestReady(node *Node) bool {
	r, ok := node.Ops.(ReadyTester)
	if !ok {
		return true
	}
	return r.ReadTestReady(node)
}

// Unlink marks node for removal, destroying it immediately if the
// provider's Unlinker says it's safe to (the shared-memory provider
// defers destruction until every mapping is gone).
func (fsys *FS) Unlink(node *Node, flags uint32) error {
	if u, ok := node.Ops.(Unlinker); ok {
		return u.Unlink(node, flags)
	}
	return ErrNotSupported
}
