package vfs

// ThreadID identifies the kernel thread on whose behalf a FileHandle's
// operations run; it is opaque to the VFS core and supplied by
// internal/sched.
type ThreadID uint64

// FileHandle pairs an owning thread with a node, an offset, and
// provider-specific private state (no provider in this module sets
// Private), the Go form of the original File struct. Offset and Private are mutated
// exclusively by VFS operations invoked on the owning thread's behalf.
type FileHandle struct {
	FD      int
	Thread  ThreadID
	Node    *Node
	Offset  int64
	Flags   int
	Private any
}

// Open-flag bits, the subset of POSIX flags this module defines. fatfs
// checks the access mode (a write needs OWronly or ORdwr); OAppend and
// OCreat are defined but no provider interprets them.
const (
	ORdonly = 0x0000
	OWronly = 0x0001
	ORdwr   = 0x0002
	OAppend = 0x0400
	OCreat  = 0x0040
)

// Seek whence values, matching the original's SEEK_SET/SEEK_CUR/SEEK_END.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)
