package pinoq

import (
	"fmt"
	"io"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// A diskAdapter wraps one backing disk: a contiguous run of nblocks blocks
// starting at base bytes into the underlying file. It does bounds-checked
// block I/O and nothing else.
type diskAdapter struct {
	dev     io.ReaderAt
	wdev    io.WriterAt
	base    int64
	nblocks uint32
}

func newDiskAdapter(dev io.ReaderAt, wdev io.WriterAt, base int64, nblocks uint32) *diskAdapter {
	return &diskAdapter{dev: dev, wdev: wdev, base: base, nblocks: nblocks}
}

func (d *diskAdapter) readBlock(n uint32, buf []byte) error {
	if n >= d.nblocks {
		return fmt.Errorf("%w: block %d out of range (disk holds %d)", ErrIO, n, d.nblocks)
	}
	if len(buf) != disk.BlockSize {
		return fmt.Errorf("%w: bad buffer size %d", ErrIO, len(buf))
	}
	read, err := d.dev.ReadAt(buf, d.base+int64(n)*disk.BlockSize)
	if err != nil {
		return fmt.Errorf("%w: read block %d: %v", ErrIO, n, err)
	}
	if read != disk.BlockSize {
		return fmt.Errorf("%w: short read of block %d: %d bytes", ErrIO, n, read)
	}
	return nil
}

func (d *diskAdapter) writeBlock(n uint32, buf []byte) error {
	if n >= d.nblocks {
		return fmt.Errorf("%w: block %d out of range (disk holds %d)", ErrIO, n, d.nblocks)
	}
	if len(buf) != disk.BlockSize {
		return fmt.Errorf("%w: bad buffer size %d", ErrIO, len(buf))
	}
	wrote, err := d.wdev.WriteAt(buf, d.base+int64(n)*disk.BlockSize)
	if err != nil {
		return fmt.Errorf("%w: write block %d: %v", ErrIO, n, err)
	}
	if wrote != disk.BlockSize {
		return fmt.Errorf("%w: short write of block %d: %d bytes", ErrIO, n, wrote)
	}
	return nil
}
