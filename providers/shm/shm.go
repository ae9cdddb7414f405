// Package shm implements the shared-memory-as-file provider of
// spec.md §4.5: named objects surfaced as character-device nodes,
// installed directly onto the pre-existing "/system/shm" directory
// that providers/sysinfo creates, overriding its Finddir/Readdir so the
// object registry — not the tree's sibling list — is the source of
// truth, exactly as §4.5 specifies.
package shm

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Dashbloxx/Asterisk/internal/vmm"
	"github.com/Dashbloxx/Asterisk/kernel"
	"github.com/Dashbloxx/Asterisk/vfs"
)

// mapping records one process's live mmap of an object, the Go form of
// the original's (process, v_address, page_count) tracking triple. The
// original kept these in an intrusive list and found them again by
// linear scan on teardown; we key the registry by a uuid instead (see
// Mmap) so UnmapForProcessAll can remove exactly the right record
// without reintroducing a raw-pointer identity.
type mapping struct {
	process   kernel.ProcessID
	vaddr     uintptr
	pageCount int
}

// object is one named shared-memory object. Its page list is frozen
// after the first successful Ftruncate (invariant (a) of spec.md
// §4.5) and its frames are released exactly once, at destroy, with no
// live mapping referencing them (invariant (b)).
type object struct {
	mu           sync.Mutex
	name         string
	node         *vfs.Node
	pages        []uintptr
	mappings     map[uuid.UUID]mapping
	markedUnlink bool
}

// Info is the stat-equivalent introspection SPEC_FULL.md §3.5 adds,
// grounded on backend/cache's directory-entry metadata pattern: a
// read-only snapshot of an object's page count and live-mapping count.
// The sysinfo provider does not read it.
type Info struct {
	PageCount    int
	MappingCount int
}

// Type is the shared-memory provider. One instance is installed onto a
// single directory node (conventionally "/system/shm"); objects are
// looked up by name in a map, so names are unique within one Type.
type Type struct {
	mu      sync.Mutex
	sub     *kernel.Subsystem
	tree    *vfs.Tree
	dirNode *vfs.Node
	objects map[string]*object
	order   []string
}

var (
	_ vfs.Finder   = (*Type)(nil)
	_ vfs.Direrer  = (*Type)(nil)
	_ vfs.Opener   = (*Type)(nil)
)

// Install attaches a shm Type to the directory node at dirPath,
// overriding its Ops so Finddir/Readdir/Open are served from the
// object registry instead of the tree's sibling-list default. dirPath
// is typically the "shm" placeholder providers/sysinfo creates.
func Install(sub *kernel.Subsystem, dirPath string) (*Type, error) {
	node, err := sub.FS.GetNode(dirPath)
	if err != nil {
		return nil, fmt.Errorf("shm: install at %s: %w", dirPath, err)
	}
	if !node.Type.Has(vfs.Directory) {
		return nil, fmt.Errorf("shm: install target %s is not a directory: %w", dirPath, vfs.ErrInvalid)
	}
	t := &Type{
		sub:     sub,
		tree:    sub.FS.Tree(),
		dirNode: node,
		objects: make(map[string]*object),
	}
	node.Ops = t
	return t, nil
}

// Open always succeeds on the shm directory itself; listing is served
// by Finddir/Readdir below.
func (t *Type) Open(f *vfs.FileHandle, flags int) error { return nil }

// Finddir resolves name against the live object registry rather than
// the tree's child list, per spec.md §4.5.
func (t *Type) Finddir(n *vfs.Node, name string) (*vfs.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	obj, ok := t.objects[name]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return obj.node, nil
}

// Readdir enumerates objects in creation order.
func (t *Type) Readdir(n *vfs.Node, index int) (*vfs.Dirent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.order) {
		return nil, vfs.ErrNotFound
	}
	obj := t.objects[t.order[index]]
	return &vfs.Dirent{Name: obj.name, Type: vfs.CharacterDevice, Inode: obj.node.ID}, nil
}

// CreateObject registers a new named shared-memory object and returns
// its node, or the existing node if name is already registered — the
// open-or-create half of a POSIX shm_open that the process/descriptor
// layer above this package (out of scope per spec.md §1) would call
// before handing a caller an fd.
func (t *Type) CreateObject(name string) (*vfs.Node, error) {
	if name == "" {
		return nil, vfs.ErrInvalid
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if obj, ok := t.objects[name]; ok {
		return obj.node, nil
	}
	node := t.tree.NewNode(name, vfs.CharacterDevice)
	obj := &object{name: name, node: node, mappings: make(map[uuid.UUID]mapping)}
	node.Ops = &objectOps{t: t, obj: obj}
	t.objects[name] = obj
	t.order = append(t.order, name)
	return node, nil
}

// Info returns the page and live-mapping counts of the named object.
func (t *Type) Info(name string) (Info, error) {
	t.mu.Lock()
	obj, ok := t.objects[name]
	t.mu.Unlock()
	if !ok {
		return Info{}, vfs.ErrNotFound
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return Info{PageCount: len(obj.pages), MappingCount: len(obj.mappings)}, nil
}

// UnmapForProcessAll is the process teardown hook of spec.md §4.5: for
// every object, removes every mapping owned by proc (without itself
// releasing pages — pages are released only at object destroy) and
// destroys any object left marked-for-unlink with no mappings.
func (t *Type) UnmapForProcessAll(proc kernel.ProcessID) {
	t.mu.Lock()
	objs := make([]*object, 0, len(t.objects))
	for _, obj := range t.objects {
		objs = append(objs, obj)
	}
	t.mu.Unlock()

	for _, obj := range objs {
		obj.mu.Lock()
		for id, m := range obj.mappings {
			if m.process == proc {
				delete(obj.mappings, id)
			}
		}
		shouldDestroy := obj.markedUnlink && len(obj.mappings) == 0
		obj.mu.Unlock()
		if shouldDestroy {
			t.destroy(obj)
		}
	}
}

// destroy releases an object's page frames exactly once and removes it
// from the registry. Callers must have already established that no
// live mapping references it.
func (t *Type) destroy(obj *object) {
	obj.mu.Lock()
	pages := obj.pages
	obj.pages = nil
	obj.mu.Unlock()
	if len(pages) > 0 {
		t.sub.VMM.ReleasePageFrames4K(pages)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.objects[obj.name]; !ok {
		return
	}
	delete(t.objects, obj.name)
	for i, n := range t.order {
		if n == obj.name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// processFor maps a FileHandle's owning thread to its process, via the
// scheduler's live thread list (kernel.ThreadInfo.Process). Tests and
// callers with no matching thread registered fall back to treating the
// thread id itself as the process identity, which is enough to
// exercise UnmapForProcessAll's per-process bookkeeping in isolation.
func (t *Type) processFor(f *vfs.FileHandle) kernel.ProcessID {
	if t.sub.Scheduler != nil {
		for _, info := range t.sub.Scheduler.Threads() {
			if vfs.ThreadID(info.Tid) == f.Thread {
				return info.Process
			}
		}
	}
	return kernel.ProcessID(f.Thread)
}

// objectOps implements the per-object node operations of spec.md
// §4.5: open always succeeds; ftruncate is valid exactly once; mmap
// maps the whole frozen page list; unlink marks-then-maybe-destroys.
type objectOps struct {
	t   *Type
	obj *object
}

var (
	_ vfs.Opener    = (*objectOps)(nil)
	_ vfs.Truncater = (*objectOps)(nil)
	_ vfs.Mapper    = (*objectOps)(nil)
	_ vfs.Unlinker  = (*objectOps)(nil)
	_ vfs.Stater    = (*objectOps)(nil)
)

func (o *objectOps) Open(f *vfs.FileHandle, flags int) error { return nil }

func (o *objectOps) Stat(n *vfs.Node) error { return nil }

// Ftruncate is valid once, when the object's current length is 0 and
// length is positive. It rounds up to whole 4KiB pages, acquires them
// from vmm, and freezes them onto the object.
func (o *objectOps) Ftruncate(f *vfs.FileHandle, length int64) error {
	o.obj.mu.Lock()
	defer o.obj.mu.Unlock()
	if o.obj.node.Length != 0 || length <= 0 {
		return vfs.ErrInvalid
	}
	pageCount := int((length + vmm.PageSize - 1) / vmm.PageSize)
	frames, err := o.t.sub.VMM.AcquirePageFrames4K(pageCount)
	if err != nil {
		return fmt.Errorf("shm: acquire %d page frames: %w", pageCount, vfs.ErrOutOfMemory)
	}
	o.obj.pages = frames
	o.obj.node.Length = length
	return nil
}

// Mmap copies the object's frozen page list and asks vmm to map it
// into the calling thread's process, recording the resulting mapping.
// An object with zero pages maps to NULL (address 0, no error), per
// spec.md §4.5.
func (o *objectOps) Mmap(f *vfs.FileHandle, size, offset uint64, flags uint32) (uintptr, error) {
	o.obj.mu.Lock()
	pages := make([]uintptr, len(o.obj.pages))
	copy(pages, o.obj.pages)
	o.obj.mu.Unlock()

	if len(pages) == 0 {
		return 0, nil
	}

	proc := o.t.processFor(f)
	vaddr, err := o.t.sub.VMM.MapMemory(proc, pages, true)
	if err != nil {
		return 0, err
	}

	o.obj.mu.Lock()
	o.obj.mappings[uuid.New()] = mapping{process: proc, vaddr: vaddr, pageCount: len(pages)}
	o.obj.mu.Unlock()
	return vaddr, nil
}

// Unlink sets markedUnlink and destroys the object immediately if it
// has no live mappings.
func (o *objectOps) Unlink(n *vfs.Node, flags uint32) error {
	o.obj.mu.Lock()
	o.obj.markedUnlink = true
	empty := len(o.obj.mappings) == 0
	o.obj.mu.Unlock()
	if empty {
		o.t.destroy(o.obj)
	}
	return nil
}
