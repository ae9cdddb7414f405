// Package kernel provides the Subsystem object threaded into every
// VFS provider at registration time: the VFS core itself, the
// external collaborators spec.md §6 lists as out of scope (vmm,
// scheduler), and a shared logger. Per the DESIGN NOTES' "mutable
// globals" flag, nothing here is a package-level var — every provider
// receives its dependencies through this struct instead of reaching
// for a global, and each provider keeps its own state (volume table,
// socket registry, shared-memory registry) on its own constructor's
// receiver rather than in a file-scope global.
package kernel

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dashbloxx/Asterisk/vfs"
)

// ProcessID identifies the owning process of a thread or a
// shared-memory mapping. The process/descriptor-table machinery
// itself is out of scope (spec.md §1); we only need a comparable
// handle to key mappings and thread ownership by.
type ProcessID uint64

// VMM is the external collaborator contract spec.md §6 lists for the
// physical/virtual memory manager: page-frame acquisition/release and
// process-address-space mapping, plus the two counters sysinfo's
// meminfo/* files read.
type VMM interface {
	// AcquirePageFrames4K reserves n contiguous 4KiB physical page
	// frames and returns their addresses in ascending order.
	AcquirePageFrames4K(n int) ([]uintptr, error)
	// ReleasePageFrames4K releases frames previously returned together
	// by one AcquirePageFrames4K call.
	ReleasePageFrames4K(frames []uintptr)
	// MapMemory maps the given physical pages into proc's user-mmap
	// region and returns the resulting virtual base address.
	MapMemory(proc ProcessID, phys []uintptr, user bool) (uintptr, error)
	TotalPageCount() int
	UsedPageCount() int
}

// ThreadInfo is the read-only snapshot of one live thread the
// scheduler hands to sysinfo for its threads/<tid> nodes, mirroring
// the fields the original's systemfs_read_thread_file formatted.
type ThreadInfo struct {
	Tid             int
	BirthTimeUnix   int64
	UserMode        bool
	State           string
	Syscalls        uint64
	ContextSwitches uint64
	CPUTimeMs       uint64
	CPUUsagePercent int
	Process         ProcessID
	ProcessName     string
}

// Scheduler is the external collaborator contract for thread
// enumeration; spec.md's thread_get_first/next walk becomes a single
// snapshot call since our sysinfo provider rebuilds its tree from
// scratch on every open anyway.
type Scheduler interface {
	Threads() []ThreadInfo
}

// Subsystem bundles the VFS core with its external collaborators. It
// is created once at boot (cmd/vfsd) and passed to every provider's
// constructor instead of the providers reaching for package-level
// globals.
type Subsystem struct {
	FS        *vfs.FS
	VMM       VMM
	Scheduler Scheduler
	Log       *logrus.Logger
	BootTime  time.Time
}

// New creates a Subsystem with a fresh VFS core rooted at "/".
func New(vmm VMM, sched Scheduler, log *logrus.Logger) *Subsystem {
	if log == nil {
		log = logrus.New()
	}
	return &Subsystem{
		FS:        vfs.New(logrus.NewEntry(log)),
		VMM:       vmm,
		Scheduler: sched,
		Log:       log,
		BootTime:  time.Now(),
	}
}

// Uptime returns the duration since Subsystem boot, backing sysinfo's
// supplemental uptime file (SPEC_FULL.md §3.4).
func (s *Subsystem) Uptime() time.Duration {
	return time.Since(s.BootTime)
}
