package pinoq

import (
	"fmt"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// File data engine: maps logical byte offsets to physical blocks through an
// inode's direct pointers and its single indirect block. Unallocated
// pointers are holes and read as zeros. All methods assume the allocator
// lock is held.

// blockForIndex resolves block index idx of the file. With alloc set, holes
// are backed by freshly zeroed blocks (and the indirect block itself is
// created lazily on first overflow past the direct pointers); the caller
// must write the inode back if reported changed.
func (v *Volume) blockForIndex(ino *disk.Inode, idx uint32, alloc bool) (blk uint32, changed bool, err error) {
	if idx < disk.DirectBlocks {
		blk = ino.Direct[idx]
		if blk == disk.NilBlock && alloc {
			if blk, err = v.allocDataBlock(); err != nil {
				return 0, false, err
			}
			ino.Direct[idx] = blk
			changed = true
		}
		return blk, changed, nil
	}

	iidx := idx - disk.DirectBlocks
	if iidx >= disk.PointersPerBlock {
		return 0, false, fmt.Errorf("%w: block index %d", ErrFileTooLarge, idx)
	}
	if ino.Indirect == disk.NilBlock {
		if !alloc {
			return disk.NilBlock, false, nil
		}
		ind, err := v.allocDataBlock()
		if err != nil {
			return 0, false, err
		}
		ino.Indirect = ind
		changed = true
	}

	buf := make([]byte, disk.BlockSize)
	if err := v.set.readBlock(ino.Indirect, buf); err != nil {
		return 0, false, err
	}
	blk = disk.Pointer(buf, int(iidx))
	if blk == disk.NilBlock && alloc {
		if blk, err = v.allocDataBlock(); err != nil {
			return 0, false, err
		}
		disk.PutPointer(buf, int(iidx), blk)
		if err := v.set.writeBlock(ino.Indirect, buf); err != nil {
			return 0, false, err
		}
	}
	return blk, changed, nil
}

// allocDataBlock allocates a block and zero-fills it, so partially written
// blocks never leak stale bytes.
func (v *Volume) allocDataBlock() (uint32, error) {
	n, err := v.allocBlock()
	if err != nil {
		return 0, err
	}
	if err := v.set.zeroBlock(n); err != nil {
		return 0, err
	}
	return n, nil
}

// resolveRange returns the physical block (or NilBlock for holes) of every
// block index covering [off, off+length). Used by the read path to drop the
// allocator lock before touching data blocks.
func (v *Volume) resolveRange(ino *disk.Inode, off int64, length int) ([]uint32, error) {
	if length == 0 {
		return nil, nil
	}
	first := uint32(off / disk.BlockSize)
	last := uint32((off + int64(length) - 1) / disk.BlockSize)
	blks := make([]uint32, 0, last-first+1)
	for idx := first; idx <= last; idx++ {
		blk, _, err := v.blockForIndex(ino, idx, false)
		if err != nil {
			return nil, err
		}
		blks = append(blks, blk)
	}
	return blks, nil
}

// writeAt writes p at byte offset off, allocating blocks as needed, and
// grows the inode's size if the write extends past it. The inode record is
// written back by the caller.
func (v *Volume) writeAt(ino *disk.Inode, off int64, p []byte) (int, error) {
	if off < 0 {
		return 0, ErrInvalidArg
	}
	end := off + int64(len(p))
	if end > disk.MaxFileSize {
		return 0, fmt.Errorf("%w: write ends at %d", ErrFileTooLarge, end)
	}

	buf := make([]byte, disk.BlockSize)
	written := 0
	for written < len(p) {
		pos := off + int64(written)
		idx := uint32(pos / disk.BlockSize)
		in := int(pos % disk.BlockSize)
		n := disk.BlockSize - in
		if n > len(p)-written {
			n = len(p) - written
		}

		blk, _, err := v.blockForIndex(ino, idx, true)
		if err != nil {
			return written, err
		}
		if n == disk.BlockSize {
			// Whole-block overwrite, skip the read.
			copy(buf, p[written:written+n])
		} else {
			if err := v.set.readBlock(blk, buf); err != nil {
				return written, err
			}
			copy(buf[in:], p[written:written+n])
		}
		if err := v.set.writeBlock(blk, buf); err != nil {
			return written, err
		}
		written += n
	}

	if end > int64(ino.Size) {
		ino.Size = uint64(end)
	}
	touch(ino)
	return written, nil
}

// readAt fills p from byte offset off, clamped to the file size. Holes and
// the region between allocated bytes and the size read as zeros.
func (v *Volume) readAt(ino *disk.Inode, off int64, p []byte) (int, error) {
	if off < 0 {
		return 0, ErrInvalidArg
	}
	if off >= int64(ino.Size) {
		return 0, nil
	}
	if max := int64(ino.Size) - off; int64(len(p)) > max {
		p = p[:max]
	}

	blks, err := v.resolveRange(ino, off, len(p))
	if err != nil {
		return 0, err
	}
	return v.readResolved(blks, off, p)
}

// readResolved copies block contents into p given pointers previously
// resolved under the allocator lock. Safe to call without the lock.
func (v *Volume) readResolved(blks []uint32, off int64, p []byte) (int, error) {
	buf := make([]byte, disk.BlockSize)
	read := 0
	for read < len(p) {
		pos := off + int64(read)
		in := int(pos % disk.BlockSize)
		n := disk.BlockSize - in
		if n > len(p)-read {
			n = len(p) - read
		}

		blk := blks[(pos/disk.BlockSize)-(off/disk.BlockSize)]
		if blk == disk.NilBlock {
			for i := read; i < read+n; i++ {
				p[i] = 0
			}
		} else {
			if err := v.set.readBlock(blk, buf); err != nil {
				return read, err
			}
			copy(p[read:read+n], buf[in:in+n])
		}
		read += n
	}
	return read, nil
}

// truncate changes the file size. Shrinking frees every block whose index
// falls past the new size (and the indirect block once it holds no
// in-range pointers); growing only moves the size, leaving a hole.
func (v *Volume) truncate(ino *disk.Inode, size uint64) error {
	if size > disk.MaxFileSize {
		return fmt.Errorf("%w: truncate to %d", ErrFileTooLarge, size)
	}
	if size >= ino.Size {
		ino.Size = size
		touch(ino)
		return nil
	}

	keep := uint32((size + disk.BlockSize - 1) / disk.BlockSize)

	for idx := keep; idx < disk.DirectBlocks; idx++ {
		if ino.Direct[idx] != disk.NilBlock {
			if err := v.freeBlock(ino.Direct[idx]); err != nil {
				return err
			}
			ino.Direct[idx] = disk.NilBlock
		}
	}
	if ino.Indirect != disk.NilBlock {
		buf := make([]byte, disk.BlockSize)
		if err := v.set.readBlock(ino.Indirect, buf); err != nil {
			return err
		}
		var keepInd uint32
		if keep > disk.DirectBlocks {
			keepInd = keep - disk.DirectBlocks
		}
		changed := false
		for i := keepInd; i < disk.PointersPerBlock; i++ {
			if blk := disk.Pointer(buf, int(i)); blk != disk.NilBlock {
				if err := v.freeBlock(blk); err != nil {
					return err
				}
				disk.PutPointer(buf, int(i), disk.NilBlock)
				changed = true
			}
		}
		if keepInd == 0 {
			if err := v.freeBlock(ino.Indirect); err != nil {
				return err
			}
			ino.Indirect = disk.NilBlock
		} else if changed {
			if err := v.set.writeBlock(ino.Indirect, buf); err != nil {
				return err
			}
		}
	}

	// Zero the tail of the last kept block so a later size extension
	// reads zeros, not stale bytes.
	if in := size % disk.BlockSize; in != 0 {
		blk, _, err := v.blockForIndex(ino, uint32(size/disk.BlockSize), false)
		if err != nil {
			return err
		}
		if blk != disk.NilBlock {
			buf := make([]byte, disk.BlockSize)
			if err := v.set.readBlock(blk, buf); err != nil {
				return err
			}
			for i := in; i < disk.BlockSize; i++ {
				buf[i] = 0
			}
			if err := v.set.writeBlock(blk, buf); err != nil {
				return err
			}
		}
	}

	ino.Size = size
	touch(ino)
	return nil
}
