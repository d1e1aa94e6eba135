package pinoq

import (
	"fmt"
	"strings"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// Directory engine: a directory inode's data blocks hold a packed sequence
// of variable-length (name, inode number) records. Records never span a
// block boundary; a zero record length marks the end of the used part of a
// block. Removal tombstones a record in place (zero name length, record
// length kept) instead of compacting. All methods assume the allocator lock
// is held.

type dirent struct {
	name string
	ino  uint32
}

func validName(name string) error {
	if name == "" || len(name) > disk.MaxNameLen {
		return fmt.Errorf("%w: bad name length %d", ErrInvalidArg, len(name))
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: bad character in name", ErrInvalidArg)
	}
	return nil
}

// dirScan walks every record, tombstones included, calling fn with the
// block index, offset of the record inside its block and the decoded
// record. fn returning true stops the walk.
func (v *Volume) dirScan(ino *disk.Inode, fn func(blkIdx uint32, pos int, hdr disk.DirentHeader, name string) bool) error {
	nblocks := uint32(ino.Size / disk.BlockSize)
	buf := make([]byte, disk.BlockSize)
	for idx := uint32(0); idx < nblocks; idx++ {
		blk, _, err := v.blockForIndex(ino, idx, false)
		if err != nil {
			return err
		}
		if blk == disk.NilBlock {
			continue
		}
		if err := v.set.readBlock(blk, buf); err != nil {
			return err
		}
		pos := 0
		for pos+disk.SizeDirentHeader <= disk.BlockSize {
			var hdr disk.DirentHeader
			if err := disk.DecodeDirentHeader(buf[pos:], &hdr); err != nil {
				return err
			}
			if hdr.RecLen == 0 {
				break
			}
			if int(hdr.RecLen) < disk.SizeDirentHeader+int(hdr.NameLen) || pos+int(hdr.RecLen) > disk.BlockSize {
				return fmt.Errorf("%w: bad directory record at block %d offset %d", ErrCorruptVolume, idx, pos)
			}
			name := string(buf[pos+disk.SizeDirentHeader : pos+disk.SizeDirentHeader+int(hdr.NameLen)])
			if fn(idx, pos, hdr, name) {
				return nil
			}
			pos += int(hdr.RecLen)
		}
	}
	return nil
}

// dirLookup returns the inode number bound to name, or ErrNotFound.
func (v *Volume) dirLookup(ino *disk.Inode, name string) (uint32, error) {
	var (
		found  bool
		target uint32
	)
	err := v.dirScan(ino, func(_ uint32, _ int, hdr disk.DirentHeader, n string) bool {
		if hdr.NameLen != 0 && n == name {
			found, target = true, hdr.Ino
			return true
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotFound
	}
	return target, nil
}

// dirInsert appends a (name, target) record, extending the directory by one
// block when the last block has no room. The directory inode is written
// back by the caller.
func (v *Volume) dirInsert(ino *disk.Inode, name string, target uint32) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, err := v.dirLookup(ino, name); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, name)
	} else if err != ErrNotFound {
		return err
	}

	need := disk.SizeDirentHeader + len(name)
	buf := make([]byte, disk.BlockSize)
	nblocks := uint32(ino.Size / disk.BlockSize)

	var (
		blk uint32
		pos int
	)
	if nblocks > 0 {
		last, _, err := v.blockForIndex(ino, nblocks-1, false)
		if err != nil {
			return err
		}
		if err := v.set.readBlock(last, buf); err != nil {
			return err
		}
		end := dirBlockEnd(buf)
		if end+need <= disk.BlockSize {
			blk, pos = last, end
		}
	}
	if blk == disk.NilBlock {
		fresh, _, err := v.blockForIndex(ino, nblocks, true)
		if err != nil {
			return err
		}
		ino.Size += disk.BlockSize
		blk, pos = fresh, 0
		for i := range buf {
			buf[i] = 0
		}
	}

	hdr := disk.DirentHeader{
		RecLen:  uint16(need),
		NameLen: uint16(len(name)),
		Ino:     target,
	}
	if err := disk.EncodeDirentHeader(buf[pos:], &hdr); err != nil {
		return err
	}
	copy(buf[pos+disk.SizeDirentHeader:], name)
	if err := v.set.writeBlock(blk, buf); err != nil {
		return err
	}
	touch(ino)
	return nil
}

// dirBlockEnd returns the offset just past the last record in a directory
// block.
func dirBlockEnd(buf []byte) int {
	pos := 0
	for pos+disk.SizeDirentHeader <= disk.BlockSize {
		recLen := int(buf[pos]) | int(buf[pos+1])<<8
		if recLen == 0 {
			break
		}
		pos += recLen
	}
	return pos
}

// dirRemove tombstones the record for name and returns the inode number it
// referenced. Removal is O(1) in directory size once the record is found;
// tombstones persist until the directory itself goes away.
func (v *Volume) dirRemove(ino *disk.Inode, name string) (uint32, error) {
	var (
		found   bool
		target  uint32
		atBlock uint32
		atPos   int
		recLen  uint16
	)
	err := v.dirScan(ino, func(blkIdx uint32, pos int, hdr disk.DirentHeader, n string) bool {
		if hdr.NameLen != 0 && n == name {
			found, target = true, hdr.Ino
			atBlock, atPos, recLen = blkIdx, pos, hdr.RecLen
			return true
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	blk, _, err := v.blockForIndex(ino, atBlock, false)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, disk.BlockSize)
	if err := v.set.readBlock(blk, buf); err != nil {
		return 0, err
	}
	tomb := disk.DirentHeader{RecLen: recLen}
	if err := disk.EncodeDirentHeader(buf[atPos:], &tomb); err != nil {
		return 0, err
	}
	for i := atPos + disk.SizeDirentHeader; i < atPos+int(recLen); i++ {
		buf[i] = 0
	}
	if err := v.set.writeBlock(blk, buf); err != nil {
		return 0, err
	}
	touch(ino)
	return target, nil
}

// dirEntries lists the directory's live records in on-disk order. "." and
// ".." are stored as the first two records of every directory, so they come
// out first.
func (v *Volume) dirEntries(ino *disk.Inode) ([]dirent, error) {
	var out []dirent
	err := v.dirScan(ino, func(_ uint32, _ int, hdr disk.DirentHeader, name string) bool {
		if hdr.NameLen != 0 {
			out = append(out, dirent{name: name, ino: hdr.Ino})
		}
		return false
	})
	return out, err
}

// dirEmpty reports whether the directory has no live entries besides the
// implicit "." and "..".
func (v *Volume) dirEmpty(ino *disk.Inode) (bool, error) {
	empty := true
	err := v.dirScan(ino, func(_ uint32, _ int, hdr disk.DirentHeader, name string) bool {
		if hdr.NameLen != 0 && name != "." && name != ".." {
			empty = false
			return true
		}
		return false
	})
	return empty, err
}
