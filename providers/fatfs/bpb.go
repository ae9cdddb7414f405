package fatfs

import (
	"encoding/binary"
	"fmt"

	"github.com/Dashbloxx/Asterisk/vfs"
)

// bpb holds the fields of a FAT16 BIOS Parameter Block this provider
// actually needs. Grounded on the field layout soypat/fat's FS struct
// decodes (bpbBytsPerSec, bpbSecPerClus, bpbRsvdSecCnt, bpbNumFATs,
// bpbRootEntCnt, bpbFATSz16, bpbTotSec16/32) — reimplemented here
// because that library's mount_volume and directory walk are
// unexported and, in the sampled snapshot, unfinished (follow_path is
// an empty loop). FAT32/exFAT are out of scope: the same limitation
// soypat/fat itself documents for exFAT ("TODO: implement exFAT").
type bpb struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntryCount    uint16
	totalSectors      uint32
	fatSizeSectors    uint32

	firstFATSector  uint32
	firstRootSector uint32
	rootDirSectors  uint32
	firstDataSector uint32
}

func parseBPB(sector []byte) (bpb, error) {
	if len(sector) < 512 {
		return bpb{}, fmt.Errorf("fatfs: boot sector short read: %w", vfs.ErrIO)
	}
	if binary.LittleEndian.Uint16(sector[510:512]) != 0xAA55 {
		return bpb{}, fmt.Errorf("fatfs: missing boot signature: %w", vfs.ErrIO)
	}
	b := bpb{
		bytesPerSector:    binary.LittleEndian.Uint16(sector[11:13]),
		sectorsPerCluster: sector[13],
		reservedSectors:   binary.LittleEndian.Uint16(sector[14:16]),
		numFATs:           sector[16],
		rootEntryCount:    binary.LittleEndian.Uint16(sector[17:19]),
		fatSizeSectors:    uint32(binary.LittleEndian.Uint16(sector[22:24])),
	}
	if b.bytesPerSector == 0 || b.sectorsPerCluster == 0 || b.numFATs == 0 {
		return bpb{}, fmt.Errorf("fatfs: zeroed BPB field: %w", vfs.ErrIO)
	}
	totalSectors16 := binary.LittleEndian.Uint16(sector[19:21])
	if totalSectors16 != 0 {
		b.totalSectors = uint32(totalSectors16)
	} else {
		b.totalSectors = binary.LittleEndian.Uint32(sector[32:36])
	}
	if b.fatSizeSectors == 0 {
		return bpb{}, fmt.Errorf("fatfs: FAT32 BPB not supported: %w", vfs.ErrNotSupported)
	}

	b.firstFATSector = uint32(b.reservedSectors)
	b.firstRootSector = b.firstFATSector + uint32(b.numFATs)*b.fatSizeSectors
	b.rootDirSectors = (uint32(b.rootEntryCount)*32 + uint32(b.bytesPerSector) - 1) / uint32(b.bytesPerSector)
	b.firstDataSector = b.firstRootSector + b.rootDirSectors
	return b, nil
}

// clusterCount reports the data-region cluster count, used to pick
// between FAT12/FAT16 entry widths; this provider only accepts FAT16
// images (clusterCount in [4085, 65524]).
func (b *bpb) clusterCount() uint32 {
	dataSectors := b.totalSectors - b.firstDataSector
	return dataSectors / uint32(b.sectorsPerCluster)
}
