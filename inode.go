package pinoq

import (
	"fmt"
	"time"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// Inode table manager: fixed-size records packed into the inode table
// region, indexed by inode number. All methods assume the allocator lock
// is held.

func (v *Volume) inodeLocation(n uint32) (uint32, int, error) {
	if n >= v.sb.InodeCount {
		return 0, 0, fmt.Errorf("%w: inode %d out of range (%d inodes)", ErrInternalFault, n, v.sb.InodeCount)
	}
	blk := v.sb.InodeTableStart + n/disk.InodesPerBlock
	off := int(n%disk.InodesPerBlock) * disk.SizeInode
	return blk, off, nil
}

func (v *Volume) readInode(n uint32) (*disk.Inode, error) {
	blk, off, err := v.inodeLocation(n)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, disk.BlockSize)
	if err := v.set.readBlock(blk, buf); err != nil {
		return nil, err
	}
	ino := &disk.Inode{}
	if err := disk.DecodeInode(buf[off:], ino); err != nil {
		return nil, err
	}
	return ino, nil
}

func (v *Volume) writeInode(n uint32, ino *disk.Inode) error {
	blk, off, err := v.inodeLocation(n)
	if err != nil {
		return err
	}
	buf := make([]byte, disk.BlockSize)
	if err := v.set.readBlock(blk, buf); err != nil {
		return err
	}
	enc, err := disk.EncodeInode(ino)
	if err != nil {
		return err
	}
	copy(buf[off:], enc)
	return v.set.writeBlock(blk, buf)
}

// allocInode takes the lowest free inode number and initializes a zeroed
// record of the given mode. The caller is responsible for setting the link
// count once the inode is reachable.
func (v *Volume) allocInode(mode uint32) (uint32, *disk.Inode, error) {
	n, err := v.inodeBM.allocate()
	if err != nil {
		return 0, nil, err
	}
	v.sb.FreeInodes--
	if err := flushSuperBlock(v.set, v.sb); err != nil {
		return 0, nil, err
	}

	now := time.Now()
	ino := &disk.Inode{
		Mode:    mode,
		UID:     v.sb.UID,
		GID:     v.sb.GID,
		Mtime:   now.Unix(),
		MtimeNs: uint32(now.Nanosecond()),
	}
	if err := v.writeInode(n, ino); err != nil {
		return 0, nil, err
	}
	return n, ino, nil
}

// freeInode releases inode n and everything reachable from it. The link
// count must already be zero.
//
// Ordering is a design contract: data blocks are returned to the block
// bitmap first, then the indirect block, and the inode bitmap bit is
// cleared last. A crash mid-release leaves blocks marked used (a safe
// leak), never double-allocated.
func (v *Volume) freeInode(n uint32) error {
	ino, err := v.readInode(n)
	if err != nil {
		return err
	}
	if ino.Nlink != 0 {
		return fmt.Errorf("%w: freeing inode %d with link count %d", ErrInternalFault, n, ino.Nlink)
	}

	for _, blk := range ino.Direct {
		if blk == disk.NilBlock {
			continue
		}
		if err := v.freeBlock(blk); err != nil {
			return err
		}
	}
	if ino.Indirect != disk.NilBlock {
		buf := make([]byte, disk.BlockSize)
		if err := v.set.readBlock(ino.Indirect, buf); err != nil {
			return err
		}
		for i := 0; i < disk.PointersPerBlock; i++ {
			if blk := disk.Pointer(buf, i); blk != disk.NilBlock {
				if err := v.freeBlock(blk); err != nil {
					return err
				}
			}
		}
		if err := v.freeBlock(ino.Indirect); err != nil {
			return err
		}
	}

	if err := v.writeInode(n, &disk.Inode{}); err != nil {
		return err
	}

	prev, err := v.inodeBM.mark(n, false)
	if err != nil {
		return err
	}
	if !prev {
		v.fault(fmt.Sprintf("double free of inode %d", n))
		return nil
	}
	v.sb.FreeInodes++
	return flushSuperBlock(v.set, v.sb)
}

// touch refreshes the modification timestamp in memory; the caller still
// writes the inode back.
func touch(ino *disk.Inode) {
	now := time.Now()
	ino.Mtime = now.Unix()
	ino.MtimeNs = uint32(now.Nanosecond())
}
