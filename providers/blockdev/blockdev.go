// Package blockdev defines the node-level contract a block-device
// node exposes to the rest of the VFS, standing in for the out-of-scope
// ramdisk/disk drivers named in spec.md §1. The fatfs provider's
// disk_* callbacks dispatch through exactly this contract, and
// RamDevice gives the FAT provider (and its tests) something real to
// read and write sectors from.
package blockdev

import (
	"fmt"
	"sync"

	"github.com/Dashbloxx/Asterisk/vfs"
)

// VFS ioctl codes a mounted volume's disk_ioctl forwards to, per
// spec.md §4.3/§6 (IC_GET_SECTOR_COUNT, IC_GET_SECTOR_SIZE_BYTES).
const (
	IoctlGetSectorCount     uint32 = 1
	IoctlGetSectorSizeBytes uint32 = 2
)

// Device is what a block-device node's private state must support:
// sector-granular reads and writes plus geometry queries, the Go form
// of read_block/write_block plus the two ioctl codes.
type Device interface {
	ReadBlock(sector, count uint32, buf []byte) error
	WriteBlock(sector, count uint32, buf []byte) error
	SectorCount() uint32
	SectorSizeBytes() uint32
}

// Ops adapts a Device into the vfs capability set a BlockDevice-typed
// node needs: opening trivially succeeds (block devices have no
// session state of their own) and Ioctl answers the two geometry
// queries fatfs's disk_ioctl issues through a VFS round-trip rather
// than a direct call, exercising test scenario #6 of spec.md §8.
type Ops struct {
	Dev Device
}

var (
	_ vfs.Opener  = (*Ops)(nil)
	_ vfs.Ioctler = (*Ops)(nil)
)

// Open always succeeds; block devices carry no per-handle session
// state (disk_initialize/disk_status always succeed too, per spec.md
// §9's open question resolution).
func (o *Ops) Open(f *vfs.FileHandle, flags int) error { return nil }

// Ioctl answers GET_SECTOR_COUNT and GET_BLOCK_SIZE by writing into
// the *uint32 the caller passed, matching the original's
// `*(DWORD*)buff = value` out-parameter convention.
func (o *Ops) Ioctl(f *vfs.FileHandle, cmd uint32, arg any) error {
	out, ok := arg.(*uint32)
	if !ok {
		return vfs.ErrInvalid
	}
	switch cmd {
	case IoctlGetSectorCount:
		*out = o.Dev.SectorCount()
		return nil
	case IoctlGetSectorSizeBytes:
		*out = o.Dev.SectorSizeBytes()
		return nil
	default:
		return vfs.ErrNotSupported
	}
}

// RamDevice is an in-memory block device: a reference implementation
// standing in for the out-of-scope ramdisk driver, and a real Device
// for providers/fatfs to mount.
type RamDevice struct {
	mu         sync.Mutex
	sectorSize uint32
	data       []byte
}

// NewRamDevice allocates sectorCount sectors of sectorSize bytes each,
// zero-filled.
func NewRamDevice(sectorCount, sectorSize uint32) *RamDevice {
	return &RamDevice{
		sectorSize: sectorSize,
		data:       make([]byte, uint64(sectorCount)*uint64(sectorSize)),
	}
}

func (d *RamDevice) span(sector, count uint32) (int, int, error) {
	start := uint64(sector) * uint64(d.sectorSize)
	end := start + uint64(count)*uint64(d.sectorSize)
	if end > uint64(len(d.data)) {
		return 0, 0, fmt.Errorf("blockdev: sector range %d..%d out of bounds: %w", sector, sector+count, vfs.ErrIO)
	}
	return int(start), int(end), nil
}

// ReadBlock copies count sectors starting at sector into buf.
func (d *RamDevice) ReadBlock(sector, count uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	start, end, err := d.span(sector, count)
	if err != nil {
		return err
	}
	copy(buf, d.data[start:end])
	return nil
}

// WriteBlock copies count sectors from buf starting at sector.
func (d *RamDevice) WriteBlock(sector, count uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	start, end, err := d.span(sector, count)
	if err != nil {
		return err
	}
	copy(d.data[start:end], buf)
	return nil
}

// SectorCount reports the device's total sector count.
func (d *RamDevice) SectorCount() uint32 {
	return uint32(len(d.data)) / d.sectorSize
}

// SectorSizeBytes reports the device's sector size.
func (d *RamDevice) SectorSizeBytes() uint32 { return d.sectorSize }
