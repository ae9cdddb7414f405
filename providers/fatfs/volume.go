package fatfs

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/Dashbloxx/Asterisk/providers/blockdev"
	"github.com/Dashbloxx/Asterisk/vfs"
)

const (
	attrReadOnly = 0x01
	attrHidden   = 0x02
	attrSystem   = 0x04
	attrVolumeID = 0x08
	attrDir      = 0x10
	attrArchive  = 0x20
	attrLFN      = attrReadOnly | attrHidden | attrSystem | attrVolumeID

	direntSize = 32

	fatFree = 0x0000
	fatEOC  = 0xFFF8
	fatBad  = 0xFFF7
)

// volume is one mounted FAT16 volume: the backing block device, its
// decoded BPB, and an in-memory cache of the whole FAT table — the Go
// analogue of soypat/fat's FS.win sector cache, just sized to the
// whole table instead of one sector at a time since our RAM-scale test
// volumes make that affordable.
type volume struct {
	mu  sync.Mutex
	idx int

	dev     blockdev.Device
	devNode *vfs.Node // used only for the VFS-round-trip disk_ioctl path

	geom  bpb
	fat   []byte // numFATs ignored for reads; we keep and mirror FAT#0 only
	dirty bool
}

func mountVolume(idx int, dev blockdev.Device, devNode *vfs.Node) (*volume, error) {
	ss := dev.SectorSizeBytes()
	boot := make([]byte, ss)
	if err := dev.ReadBlock(0, 1, boot); err != nil {
		return nil, fmt.Errorf("fatfs: read boot sector: %w", err)
	}
	geom, err := parseBPB(boot)
	if err != nil {
		return nil, err
	}
	if geom.bytesPerSector != uint16(ss) {
		return nil, fmt.Errorf("fatfs: BPB sector size %d != device sector size %d: %w", geom.bytesPerSector, ss, vfs.ErrIO)
	}
	cc := geom.clusterCount()
	if cc < 4085 || cc >= 65525 {
		return nil, fmt.Errorf("fatfs: volume is not FAT16 (cluster count %d): %w", cc, vfs.ErrNotSupported)
	}

	fatBytes := make([]byte, geom.fatSizeSectors*uint32(ss))
	if err := dev.ReadBlock(geom.firstFATSector, uint32(geom.fatSizeSectors), fatBytes); err != nil {
		return nil, fmt.Errorf("fatfs: read FAT table: %w", err)
	}

	return &volume{idx: idx, dev: dev, devNode: devNode, geom: geom, fat: fatBytes}, nil
}

func (v *volume) fatEntry(cluster uint32) uint16 {
	return binary.LittleEndian.Uint16(v.fat[cluster*2:])
}

func (v *volume) setFATEntry(cluster uint32, val uint16) {
	binary.LittleEndian.PutUint16(v.fat[cluster*2:], val)
	v.dirty = true
}

// flushFAT writes the in-memory FAT table back to every FAT copy on
// disk, mirroring soypat/fat's sync_window redundant-write-to-2nd-FAT
// behavior.
func (v *volume) flushFAT() error {
	if !v.dirty {
		return nil
	}
	for n := uint8(0); n < v.geom.numFATs; n++ {
		start := v.geom.firstFATSector + uint32(n)*v.geom.fatSizeSectors
		if err := v.dev.WriteBlock(start, v.geom.fatSizeSectors, v.fat); err != nil {
			return fmt.Errorf("fatfs: flush FAT copy %d: %w", n, err)
		}
	}
	v.dirty = false
	return nil
}

func (v *volume) clusterSector(cluster uint32) uint32 {
	return v.geom.firstDataSector + (cluster-2)*uint32(v.geom.sectorsPerCluster)
}

func (v *volume) clusterBytes() uint32 {
	return uint32(v.geom.sectorsPerCluster) * uint32(v.geom.bytesPerSector)
}

func (v *volume) readCluster(cluster uint32) ([]byte, error) {
	buf := make([]byte, v.clusterBytes())
	if err := v.dev.ReadBlock(v.clusterSector(cluster), uint32(v.geom.sectorsPerCluster), buf); err != nil {
		return nil, fmt.Errorf("fatfs: read cluster %d: %w", cluster, err)
	}
	return buf, nil
}

func (v *volume) writeCluster(cluster uint32, data []byte) error {
	if err := v.dev.WriteBlock(v.clusterSector(cluster), uint32(v.geom.sectorsPerCluster), data); err != nil {
		return fmt.Errorf("fatfs: write cluster %d: %w", cluster, err)
	}
	return nil
}

// allocateCluster scans the FAT for a free entry, marks it EOC, and
// returns its index; no free-list cache is kept since these volumes
// are small enough that a linear scan is cheap.
func (v *volume) allocateCluster() (uint32, error) {
	total := v.geom.clusterCount() + 2
	for c := uint32(2); c < total; c++ {
		if v.fatEntry(c) == fatFree {
			v.setFATEntry(c, fatEOC)
			return c, nil
		}
	}
	return 0, fmt.Errorf("fatfs: volume full: %w", vfs.ErrIO)
}

// dirent is a decoded 8.3 directory entry plus the disk location its
// raw bytes came from, so callers can write updated size/cluster
// fields back in place.
type dirent struct {
	name       string
	isDir      bool
	size       uint32
	firstClust uint32

	// location, for write-back: root directory entries are addressed
	// by absolute sector+offset; cluster-resident ones by cluster+offset.
	inRoot    bool
	sector    uint32
	clusterAt uint32
	offset    int
}

// readDir returns every live (non-deleted, non-LFN, non-volume-label)
// entry of a directory, identified either as the root (fixed region)
// or a subdirectory (cluster chain starting at startCluster).
func (v *volume) readDir(isRoot bool, startCluster uint32) ([]dirent, error) {
	var raw []byte
	var locate func(i int) (inRoot bool, sector uint32, clusterAt uint32, offset int)

	if isRoot {
		n := v.geom.rootDirSectors
		buf := make([]byte, n*uint32(v.geom.bytesPerSector))
		if err := v.dev.ReadBlock(v.geom.firstRootSector, n, buf); err != nil {
			return nil, fmt.Errorf("fatfs: read root directory: %w", err)
		}
		raw = buf
		locate = func(i int) (bool, uint32, uint32, int) {
			off := i * direntSize
			sectorsIn := uint32(off) / uint32(v.geom.bytesPerSector)
			return true, v.geom.firstRootSector + sectorsIn, 0, off % int(v.geom.bytesPerSector)
		}
	} else {
		chain, err := v.clusterChain(startCluster)
		if err != nil {
			return nil, err
		}
		cb := v.clusterBytes()
		buf := make([]byte, 0, int(cb)*len(chain))
		for _, c := range chain {
			cdata, err := v.readCluster(c)
			if err != nil {
				return nil, err
			}
			buf = append(buf, cdata...)
		}
		raw = buf
		locate = func(i int) (bool, uint32, uint32, int) {
			off := i * direntSize
			clusterIdx := off / int(cb)
			return false, 0, chain[clusterIdx], off % int(cb)
		}
	}

	var out []dirent
	count := len(raw) / direntSize
	for i := 0; i < count; i++ {
		e := raw[i*direntSize : (i+1)*direntSize]
		if e[0] == 0x00 {
			break // end of directory marker
		}
		if e[0] == 0xE5 {
			continue // deleted
		}
		attr := e[11]
		if attr&attrLFN == attrLFN || attr&attrVolumeID != 0 {
			continue
		}
		inRoot, sector, clusterAt, off := locate(i)
		out = append(out, dirent{
			name:       decodeShortName(e[0:11]),
			isDir:      attr&attrDir != 0,
			size:       binary.LittleEndian.Uint32(e[28:32]),
			firstClust: uint32(binary.LittleEndian.Uint16(e[20:22]))<<16 | uint32(binary.LittleEndian.Uint16(e[26:28])),
			inRoot:     inRoot,
			sector:     sector,
			clusterAt:  clusterAt,
			offset:     off,
		})
	}
	return out, nil
}

// clusterChain walks the FAT starting at start, returning every
// cluster index in order.
func (v *volume) clusterChain(start uint32) ([]uint32, error) {
	var chain []uint32
	c := start
	for c >= 2 && c < fatBad {
		chain = append(chain, c)
		c = uint32(v.fatEntry(c))
		if len(chain) > int(v.geom.clusterCount())+2 {
			return nil, fmt.Errorf("fatfs: FAT chain loop detected: %w", vfs.ErrIO)
		}
	}
	return chain, nil
}

// writeDirentField patches the size/firstClust fields of an on-disk
// directory entry in place, used when a write() grows a file.
func (v *volume) writeDirentField(d dirent, newSize uint32, newFirstClust uint32) error {
	var sectorBuf []byte
	var sector uint32
	if d.inRoot {
		sector = d.sector
		sectorBuf = make([]byte, v.geom.bytesPerSector)
		if err := v.dev.ReadBlock(sector, 1, sectorBuf); err != nil {
			return err
		}
	} else {
		cdata, err := v.readCluster(d.clusterAt)
		if err != nil {
			return err
		}
		sectorBuf = cdata
	}
	binary.LittleEndian.PutUint32(sectorBuf[d.offset+28:], newSize)
	binary.LittleEndian.PutUint16(sectorBuf[d.offset+26:], uint16(newFirstClust))
	binary.LittleEndian.PutUint16(sectorBuf[d.offset+20:], uint16(newFirstClust>>16))

	if d.inRoot {
		return v.dev.WriteBlock(sector, 1, sectorBuf)
	}
	return v.writeCluster(d.clusterAt, sectorBuf)
}

// decodeShortName turns an 11-byte 8.3 field into "name.ext",
// trimming padding spaces and omitting the dot when there's no
// extension.
func decodeShortName(raw []byte) string {
	name := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}
