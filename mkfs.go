package pinoq

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// layout holds the region arithmetic for a volume of diskCount disks of
// blocksPerDisk blocks each.
type layout struct {
	diskCount     uint32
	blocksPerDisk uint32
	blockCount    uint32
	inodeCount    uint32

	blockBitmapStart  uint32
	blockBitmapBlocks uint32
	inodeBitmapStart  uint32
	inodeBitmapBlocks uint32
	inodeTableStart   uint32
	inodeTableBlocks  uint32
	dataStart         uint32
}

func computeLayout(diskCount, blocksPerDisk uint32) (*layout, error) {
	if diskCount == 0 || blocksPerDisk == 0 {
		return nil, fmt.Errorf("%w: disk count and blocks per disk must be positive", ErrInvalidArg)
	}
	total := diskCount * blocksPerDisk
	if total/diskCount != blocksPerDisk {
		return nil, fmt.Errorf("%w: volume size overflows", ErrInvalidArg)
	}

	l := &layout{
		diskCount:     diskCount,
		blocksPerDisk: blocksPerDisk,
		blockCount:    total,
		inodeCount:    total / disk.InodeRatio,
	}
	if l.inodeCount == 0 {
		l.inodeCount = 1
	}

	l.blockBitmapStart = 1 // block 0 is the superblock
	l.blockBitmapBlocks = (total + bitsPerBlock - 1) / bitsPerBlock
	l.inodeBitmapStart = l.blockBitmapStart + l.blockBitmapBlocks
	l.inodeBitmapBlocks = (l.inodeCount + bitsPerBlock - 1) / bitsPerBlock
	l.inodeTableStart = l.inodeBitmapStart + l.inodeBitmapBlocks
	l.inodeTableBlocks = (l.inodeCount + disk.InodesPerBlock - 1) / disk.InodesPerBlock
	l.dataStart = l.inodeTableStart + l.inodeTableBlocks

	// The root directory needs at least one data block.
	if l.dataStart+1 > total {
		return nil, fmt.Errorf("%w: %d blocks leave no data region", ErrInvalidArg, total)
	}
	return l, nil
}

// Mkfs creates (or truncates) the volume file at path and formats it:
// zeroed bitmaps with the metadata region pre-marked, an empty root
// directory at inode 0, and the superblock written last so an interrupted
// format never yields a mountable volume.
func Mkfs(diskCount, blocksPerDisk uint32, path string) error {
	l, err := computeLayout(diskCount, blocksPerDisk)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"path":   path,
		"disks":  l.diskCount,
		"blocks": l.blockCount,
		"inodes": l.inodeCount,
		"data":   l.dataStart,
	}).Debug("formatting volume")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, path, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(l.blockCount) * disk.BlockSize); err != nil {
		return fmt.Errorf("%w: size volume: %v", ErrIO, err)
	}

	adapters := make([]*diskAdapter, l.diskCount)
	for i := range adapters {
		base := int64(i) * int64(l.blocksPerDisk) * disk.BlockSize
		adapters[i] = newDiskAdapter(f, f, base, l.blocksPerDisk)
	}
	set := newStripeSet(adapters)

	// The in-memory superblock carries a zero magic until the very end;
	// intermediate flushes triggered by allocation keep the volume
	// unmountable while the format is in flight.
	sb := &disk.SuperBlock{
		Version:           disk.FormatVersion,
		BlockSize:         disk.BlockSize,
		DiskCount:         l.diskCount,
		BlocksPerDisk:     l.blocksPerDisk,
		BlockCount:        l.blockCount,
		InodeCount:        l.inodeCount,
		BlockBitmapStart:  l.blockBitmapStart,
		BlockBitmapBlocks: l.blockBitmapBlocks,
		InodeBitmapStart:  l.inodeBitmapStart,
		InodeBitmapBlocks: l.inodeBitmapBlocks,
		InodeTableStart:   l.inodeTableStart,
		InodeTableBlocks:  l.inodeTableBlocks,
		DataStart:         l.dataStart,
		UID:               uint32(os.Getuid()),
		GID:               uint32(os.Getgid()),
		UUID:              [16]byte(uuid.New()),
	}

	v := &Volume{
		file:    f,
		set:     set,
		sb:      sb,
		handles: newHandleTable(),
	}
	v.blockBM = bitmap{set: set, start: sb.BlockBitmapStart, nbits: sb.BlockCount}
	v.inodeBM = bitmap{set: set, start: sb.InodeBitmapStart, nbits: sb.InodeCount}

	if err := formatMetadata(v, l); err != nil {
		return err
	}
	if err := formatRoot(v); err != nil {
		return err
	}

	sb.MagicNumber = disk.MagicNumber
	if err := flushSuperBlock(set, sb); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// formatMetadata zero-fills both bitmaps and marks the blocks occupied by
// the superblock, bitmaps and inode table as allocated.
func formatMetadata(v *Volume, l *layout) error {
	for blk := l.blockBitmapStart; blk < l.inodeTableStart; blk++ {
		if err := v.set.zeroBlock(blk); err != nil {
			return err
		}
	}

	buf := make([]byte, disk.BlockSize)
	for blk := uint32(0); blk*bitsPerBlock < l.dataStart; blk++ {
		for i := range buf {
			buf[i] = 0
		}
		first := blk * bitsPerBlock
		used := l.dataStart - first
		if used > bitsPerBlock {
			used = bitsPerBlock
		}
		whole := used / 8
		for i := uint32(0); i < whole; i++ {
			buf[i] = 0xff
		}
		if rem := used % 8; rem != 0 {
			buf[whole] = 1<<rem - 1
		}
		if err := v.set.writeBlock(l.blockBitmapStart+blk, buf); err != nil {
			return err
		}
	}

	v.sb.FreeBlocks = l.blockCount - l.dataStart
	v.sb.FreeInodes = l.inodeCount
	return nil
}

// formatRoot writes the root directory: inode 0, linked to itself through
// both "." and "..".
func formatRoot(v *Volume) error {
	n, ino, err := v.allocInode(disk.ModeDir | disk.DefaultDirPerm)
	if err != nil {
		return err
	}
	if n != disk.RootInode {
		return fmt.Errorf("%w: root allocated inode %d", ErrInternalFault, n)
	}
	ino.Nlink = 2
	if err := v.dirInsert(ino, ".", n); err != nil {
		return err
	}
	if err := v.dirInsert(ino, "..", n); err != nil {
		return err
	}
	return v.writeInode(n, ino)
}
