package vfs

import "errors"

// Sentinel errors, checked with errors.Is, mirroring the teacher's
// fs.ErrorObjectNotFound/fs.ErrorDirNotFound convention
// (backend/local/local.go) rather than the original kernel's bare
// negative-errno returns.
var (
	// ErrNotSupported is returned when a node has no hook for the
	// requested operation.
	ErrNotSupported = errors.New("vfs: operation not supported by this node")
	// ErrNotFound is returned when a path component does not exist.
	ErrNotFound = errors.New("vfs: no such file or directory")
	// ErrInvalid is returned for a malformed argument: empty name, bad
	// whence, a double ftruncate, a non-block-device mount source.
	ErrInvalid = errors.New("vfs: invalid argument")
	// ErrNameTooLong is returned when a FAT path assembly would
	// overflow its fixed buffer.
	ErrNameTooLong = errors.New("vfs: assembled path too long")
	// ErrNotReady is returned by a disk_* callback when the addressed
	// volume slot is unbound.
	ErrNotReady = errors.New("vfs: device not ready")
	// ErrIO covers any FAT-library or block-device failure.
	ErrIO = errors.New("vfs: i/o error")
	// ErrOutOfMemory is returned by allocator-backed operations
	// (page-frame acquisition) on exhaustion.
	ErrOutOfMemory = errors.New("vfs: out of memory")
	// ErrExists is returned when a (parent, name) pair is already
	// occupied, preserving invariant (a) of the node tree.
	ErrExists = errors.New("vfs: name already exists")
	// ErrNotDir is returned when a path component that must be a
	// directory is not one.
	ErrNotDir = errors.New("vfs: not a directory")
	// ErrNotMounted reports a target with no overlay installed. The VFS
	// core has no Unmount operation, and nothing in this module returns
	// it.
	ErrNotMounted = errors.New("vfs: not a mount point")

	// Unix-socket state errors, surfaced to callers as the negative
	// errno-equivalents ALREADY_BOUND/ADDRESS_IN_USE/NOT_CONNECTED/
	// ALREADY_CONNECTED from spec.md §7.
	ErrAlreadyBound     = errors.New("vfs: socket already bound to an address")
	ErrAddressInUse     = errors.New("vfs: address already in use")
	ErrNotConnected     = errors.New("vfs: socket is not connected")
	ErrAlreadyConnected = errors.New("vfs: socket is already connected")
)
