package pinoq

import (
	"fmt"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// loadSuperBlock reads logical block 0 and validates it. A volume without a
// valid magic value (for example one whose format was torn before the final
// superblock write) is rejected with ErrCorruptVolume.
func loadSuperBlock(s *stripeSet) (*disk.SuperBlock, error) {
	buf := make([]byte, disk.BlockSize)
	if err := s.readBlock(0, buf); err != nil {
		return nil, err
	}

	sb := &disk.SuperBlock{}
	if err := disk.DecodeSuperBlock(buf, sb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVolume, err)
	}
	if sb.MagicNumber != disk.MagicNumber {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorruptVolume, sb.MagicNumber)
	}
	if sb.Version != disk.FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptVolume, sb.Version)
	}
	if sb.BlockSize != disk.BlockSize {
		return nil, fmt.Errorf("%w: unsupported block size %d", ErrCorruptVolume, sb.BlockSize)
	}
	if err := checkLayout(sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// checkLayout verifies that every region the superblock names fits inside
// the volume's block count and that the regions appear in format order.
func checkLayout(sb *disk.SuperBlock) error {
	if sb.DiskCount == 0 || sb.BlockCount != sb.DiskCount*sb.BlocksPerDisk {
		return fmt.Errorf("%w: inconsistent disk geometry", ErrCorruptVolume)
	}
	regions := []struct {
		name   string
		start  uint32
		blocks uint32
	}{
		{"block bitmap", sb.BlockBitmapStart, sb.BlockBitmapBlocks},
		{"inode bitmap", sb.InodeBitmapStart, sb.InodeBitmapBlocks},
		{"inode table", sb.InodeTableStart, sb.InodeTableBlocks},
		{"data region", sb.DataStart, 0},
	}
	prevEnd := uint32(1) // block 0 is the superblock
	for _, r := range regions {
		if r.start < prevEnd {
			return fmt.Errorf("%w: %s overlaps previous region", ErrCorruptVolume, r.name)
		}
		end := r.start + r.blocks
		if end > sb.BlockCount || r.start >= sb.BlockCount {
			return fmt.Errorf("%w: %s outside volume", ErrCorruptVolume, r.name)
		}
		prevEnd = end
	}
	if sb.InodeCount > sb.InodeTableBlocks*disk.InodesPerBlock {
		return fmt.Errorf("%w: inode table too small for %d inodes", ErrCorruptVolume, sb.InodeCount)
	}
	return nil
}

// flushSuperBlock rewrites block 0. Called with the allocator lock held,
// whenever a free-count summary changes.
func flushSuperBlock(s *stripeSet, sb *disk.SuperBlock) error {
	enc, err := disk.EncodeSuperBlock(sb)
	if err != nil {
		return err
	}
	buf := make([]byte, disk.BlockSize)
	copy(buf, enc)
	return s.writeBlock(0, buf)
}
