package pinoq

import (
	"fmt"
	"math/bits"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

const bitsPerBlock = disk.BlockSize * 8

// A bitmap tracks free/used state for nbits resources, one bit each, backed
// by a run of blocks starting at block start. Bit set means used. All
// methods must be called with the volume's allocator lock held.
type bitmap struct {
	set   *stripeSet
	start uint32
	nbits uint32
}

// allocate scans for the lowest clear bit, sets it and returns its index.
// The policy is deliberately lowest-free-first: simple and deterministic.
func (bm *bitmap) allocate() (uint32, error) {
	buf := make([]byte, disk.BlockSize)
	nblocks := (bm.nbits + bitsPerBlock - 1) / bitsPerBlock
	for blk := uint32(0); blk < nblocks; blk++ {
		if err := bm.set.readBlock(bm.start+blk, buf); err != nil {
			return 0, err
		}
		limit := bm.nbits - blk*bitsPerBlock
		if limit > bitsPerBlock {
			limit = bitsPerBlock
		}
		for byteIdx := uint32(0); byteIdx*8 < limit; byteIdx++ {
			if buf[byteIdx] == 0xff {
				continue
			}
			bit := uint32(bits.TrailingZeros8(^buf[byteIdx]))
			n := blk*bitsPerBlock + byteIdx*8 + bit
			if n >= bm.nbits {
				break
			}
			buf[byteIdx] |= 1 << bit
			if err := bm.set.writeBlock(bm.start+blk, buf); err != nil {
				return 0, err
			}
			return n, nil
		}
	}
	return 0, ErrNoSpace
}

// mark flips bit n to the given state and reports its previous state.
func (bm *bitmap) mark(n uint32, used bool) (bool, error) {
	if n >= bm.nbits {
		return false, fmt.Errorf("%w: bit %d out of range (%d bits)", ErrInternalFault, n, bm.nbits)
	}
	buf := make([]byte, disk.BlockSize)
	blk := n / bitsPerBlock
	if err := bm.set.readBlock(bm.start+blk, buf); err != nil {
		return false, err
	}
	byteIdx := (n % bitsPerBlock) / 8
	mask := byte(1) << (n % 8)
	prev := buf[byteIdx]&mask != 0
	if used {
		buf[byteIdx] |= mask
	} else {
		buf[byteIdx] &^= mask
	}
	if err := bm.set.writeBlock(bm.start+blk, buf); err != nil {
		return false, err
	}
	return prev, nil
}

func (bm *bitmap) isSet(n uint32) (bool, error) {
	if n >= bm.nbits {
		return false, fmt.Errorf("%w: bit %d out of range (%d bits)", ErrInternalFault, n, bm.nbits)
	}
	buf := make([]byte, disk.BlockSize)
	if err := bm.set.readBlock(bm.start+n/bitsPerBlock, buf); err != nil {
		return false, err
	}
	return buf[(n%bitsPerBlock)/8]&(1<<(n%8)) != 0, nil
}

// countFree returns the number of clear bits, i.e. free resources.
func (bm *bitmap) countFree() (uint32, error) {
	buf := make([]byte, disk.BlockSize)
	var used uint32
	nblocks := (bm.nbits + bitsPerBlock - 1) / bitsPerBlock
	for blk := uint32(0); blk < nblocks; blk++ {
		if err := bm.set.readBlock(bm.start+blk, buf); err != nil {
			return 0, err
		}
		limit := bm.nbits - blk*bitsPerBlock
		if limit > bitsPerBlock {
			limit = bitsPerBlock
		}
		whole := limit / 8
		for _, b := range buf[:whole] {
			used += uint32(bits.OnesCount8(b))
		}
		if rem := limit % 8; rem != 0 {
			used += uint32(bits.OnesCount8(buf[whole] & (1<<rem - 1)))
		}
	}
	return bm.nbits - used, nil
}
