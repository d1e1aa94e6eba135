package pinoq

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// Volume is one mounted pinoq filesystem instance. It exclusively owns the
// backing file and all on-disk structures for the duration of the mount.
//
// All structural metadata mutation (bitmaps, inode table, directory
// records) is serialized behind mu, the volume-wide allocator lock. Reads
// of already-resolved data blocks may proceed without it: blocks are never
// freed while still referenced.
type Volume struct {
	mu sync.Mutex

	file *os.File
	set  *stripeSet
	sb   *disk.SuperBlock

	blockBM bitmap
	inodeBM bitmap

	handles  *handleTable
	readOnly bool

	// strict promotes internal faults (double free and the like) to
	// panics instead of logged no-ops. Enabled by tests.
	strict bool
}

// OpenVolume opens and validates the volume at path. It fails with
// ErrCorruptVolume if the superblock is missing or inconsistent; a volume
// whose format was interrupted before the final superblock write is
// rejected here.
func OpenVolume(path string) (*Volume, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}

	v, err := newVolume(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	log.WithFields(log.Fields{
		"path":   path,
		"disks":  v.sb.DiskCount,
		"blocks": v.sb.BlockCount,
		"inodes": v.sb.InodeCount,
	}).Debug("volume opened")
	return v, nil
}

func newVolume(f *os.File) (*Volume, error) {
	// The superblock is logical block 0, which striping pins to byte
	// offset 0 of the first disk, so it can be read before the disk
	// geometry is known.
	head := newDiskAdapter(f, f, 0, 1)
	probe := newStripeSet([]*diskAdapter{head})
	sb, err := loadSuperBlock(probe)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat volume: %v", ErrIO, err)
	}
	if fi.Size() < int64(sb.BlockCount)*disk.BlockSize {
		return nil, fmt.Errorf("%w: volume truncated to %d bytes", ErrCorruptVolume, fi.Size())
	}

	adapters := make([]*diskAdapter, sb.DiskCount)
	for i := range adapters {
		base := int64(i) * int64(sb.BlocksPerDisk) * disk.BlockSize
		adapters[i] = newDiskAdapter(f, f, base, sb.BlocksPerDisk)
	}
	set := newStripeSet(adapters)

	v := &Volume{
		file:    f,
		set:     set,
		sb:      sb,
		handles: newHandleTable(),
	}
	v.blockBM = bitmap{set: set, start: sb.BlockBitmapStart, nbits: sb.BlockCount}
	v.inodeBM = bitmap{set: set, start: sb.InodeBitmapStart, nbits: sb.InodeCount}
	return v, nil
}

// Inspect reads and validates the superblock of the volume at path without
// taking ownership of it.
func Inspect(path string) (*disk.SuperBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	head := newDiskAdapter(f, nil, 0, 1)
	buf := make([]byte, disk.BlockSize)
	if err := head.readBlock(0, buf); err != nil {
		return nil, err
	}
	sb := &disk.SuperBlock{}
	if err := disk.DecodeSuperBlock(buf, sb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVolume, err)
	}
	if sb.MagicNumber != disk.MagicNumber {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorruptVolume, sb.MagicNumber)
	}
	return sb, nil
}

func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	err := flushSuperBlock(v.set, v.sb)
	if cerr := v.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// SuperBlock returns a copy of the volume's superblock.
func (v *Volume) SuperBlock() disk.SuperBlock {
	v.mu.Lock()
	defer v.mu.Unlock()
	return *v.sb
}

// allocBlock grabs the lowest-numbered free block and updates the
// superblock's free-count summary. Allocator lock must be held.
func (v *Volume) allocBlock() (uint32, error) {
	n, err := v.blockBM.allocate()
	if err != nil {
		return 0, err
	}
	v.sb.FreeBlocks--
	if err := flushSuperBlock(v.set, v.sb); err != nil {
		return 0, err
	}
	return n, nil
}

// freeBlock returns block n to the bitmap. Freeing an already-free block is
// a contract violation by the caller: fatal in strict mode, otherwise
// logged and ignored.
func (v *Volume) freeBlock(n uint32) error {
	prev, err := v.blockBM.mark(n, false)
	if err != nil {
		return err
	}
	if !prev {
		v.fault(fmt.Sprintf("double free of block %d", n))
		return nil
	}
	v.sb.FreeBlocks++
	return flushSuperBlock(v.set, v.sb)
}

func (v *Volume) fault(msg string) {
	if v.strict {
		panic("pinoq: " + msg)
	}
	log.WithField("fault", msg).Error("internal fault")
}
