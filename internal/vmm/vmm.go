// Package vmm stands in for the out-of-scope physical/virtual memory
// manager spec.md §6 lists as an external collaborator. It implements
// kernel.VMM with real anonymous, shared pages from golang.org/x/sys/unix
// (the same package the teacher's lib/mmap leans on for page-aligned
// allocation) instead of a no-op counter, so the shared-memory
// provider's ftruncate/mmap round-trip in spec.md §8 is backed by
// genuine memory rather than bookkeeping alone.
package vmm

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Dashbloxx/Asterisk/kernel"
)

// PageSize is the frame size the shared-memory provider rounds
// ftruncate lengths up to.
const PageSize = 4096

// region tracks one mmap'd slab so ReleasePageFrames4K can munmap it.
type region struct {
	base  uintptr
	bytes []byte
}

// VMM is a real, anonymous-memory-backed implementation of
// kernel.VMM. Frames requested together by one AcquirePageFrames4K
// call live in a single contiguous mmap'd region, which is what lets
// MapMemory below hand back a stable, already-resident address instead
// of performing a page-table walk we have no kernel to back.
type VMM struct {
	mu       sync.Mutex
	regions  map[uintptr]*region // keyed by region base
	total    int
	used     int
}

var _ kernel.VMM = (*VMM)(nil)

// New creates a VMM with a given total page budget (used only to
// report TotalPageCount; acquisition is never refused on this
// ground — the underlying OS mmap call is the real limiter).
func New(totalPages int) *VMM {
	return &VMM{regions: make(map[uintptr]*region), total: totalPages}
}

// AcquirePageFrames4K mmaps one MAP_SHARED|MAP_ANONYMOUS region sized
// n*PageSize and returns the address of each page within it. MAP_SHARED
// is what makes the "two mappers, one memory" handshake in spec.md §8
// scenario 3 genuine: every MapMemory call below returns the same
// resident address, so writes through one handle are visible through
// another without any copy step.
func (v *VMM) AcquirePageFrames4K(n int) ([]uintptr, error) {
	if n <= 0 {
		return nil, fmt.Errorf("vmm: page count must be positive")
	}
	b, err := unix.Mmap(-1, 0, n*PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("vmm: mmap %d pages: %w", n, err)
	}
	base := uintptr(unsafe.Pointer(&b[0]))

	v.mu.Lock()
	v.regions[base] = &region{base: base, bytes: b}
	v.used += n
	v.mu.Unlock()

	frames := make([]uintptr, n)
	for i := range frames {
		frames[i] = base + uintptr(i*PageSize)
	}
	return frames, nil
}

// ReleasePageFrames4K unmaps the region the given frames belong to.
// frames must be exactly the slice returned by a single prior
// AcquirePageFrames4K call.
func (v *VMM) ReleasePageFrames4K(frames []uintptr) {
	if len(frames) == 0 {
		return
	}
	base := frames[0]

	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.regions[base]
	if !ok {
		return
	}
	_ = unix.Munmap(r.bytes)
	delete(v.regions, base)
	v.used -= len(frames)
}

// MapMemory returns the already-resident address of the first frame
// in phys. Because every frame set acquired together lives in one
// MAP_SHARED region, "mapping" it into proc's address space needs no
// further work: the memory is already addressable, and any other
// holder of the same phys[0] observes the same bytes. proc and user
// are accepted for interface parity with a real vmm_map_memory and are
// otherwise unused by this single-address-space simulation.
func (v *VMM) MapMemory(proc kernel.ProcessID, phys []uintptr, user bool) (uintptr, error) {
	if len(phys) == 0 {
		return 0, nil
	}
	return phys[0], nil
}

// TotalPageCount backs sysinfo's meminfo/totalpages.
func (v *VMM) TotalPageCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total
}

// UsedPageCount backs sysinfo's meminfo/usedpages.
func (v *VMM) UsedPageCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.used
}

// ByteView returns a read/write slice over a single page frame's
// backing memory, letting callers (shm tests) poke bytes directly
// instead of going through an unsafe.Pointer cast at each call site.
func (v *VMM) ByteView(frame uintptr) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	for base, r := range v.regions {
		if frame >= base && frame < base+uintptr(len(r.bytes)) {
			off := frame - base
			return r.bytes[off : off+PageSize]
		}
	}
	return nil
}
