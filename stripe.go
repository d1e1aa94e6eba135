package pinoq

import (
	"fmt"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// A stripeSet owns the ordered disks backing one volume and presents them as
// a single flat block address space. Logical block n lives on disk
// n mod len(disks) at in-disk offset n div len(disks), so consecutive
// logical blocks land on consecutive disks.
//
// There is no caching here: every call reaches the backing file.
type stripeSet struct {
	disks  []*diskAdapter
	blocks uint32
}

func newStripeSet(disks []*diskAdapter) *stripeSet {
	var total uint32
	for _, d := range disks {
		total += d.nblocks
	}
	return &stripeSet{disks: disks, blocks: total}
}

func (s *stripeSet) locate(n uint32) (*diskAdapter, uint32, error) {
	if n >= s.blocks {
		return nil, 0, fmt.Errorf("%w: logical block %d out of range (volume holds %d)", ErrIO, n, s.blocks)
	}
	count := uint32(len(s.disks))
	return s.disks[n%count], n / count, nil
}

func (s *stripeSet) readBlock(n uint32, buf []byte) error {
	d, off, err := s.locate(n)
	if err != nil {
		return err
	}
	return d.readBlock(off, buf)
}

func (s *stripeSet) writeBlock(n uint32, buf []byte) error {
	d, off, err := s.locate(n)
	if err != nil {
		return err
	}
	return d.writeBlock(off, buf)
}

// zeroBlock writes an all-zero block.
func (s *stripeSet) zeroBlock(n uint32) error {
	return s.writeBlock(n, make([]byte, disk.BlockSize))
}
