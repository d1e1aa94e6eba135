package disk

import (
	"encoding/binary"
	"fmt"
)

// All on-disk integers are little-endian.

func EncodeSuperBlock(sb *SuperBlock) ([]byte, error) {
	b := make([]byte, SizeSuperBlock)
	n, err := binary.Encode(b, binary.LittleEndian, sb)
	if err != nil {
		return nil, err
	}
	if n != SizeSuperBlock {
		return nil, fmt.Errorf("super block: encoded %d bytes", n)
	}
	return b, nil
}

func DecodeSuperBlock(b []byte, sb *SuperBlock) error {
	n, err := binary.Decode(b[:SizeSuperBlock], binary.LittleEndian, sb)
	if err != nil {
		return err
	}
	if n != SizeSuperBlock {
		return fmt.Errorf("super block: decoded %d bytes", n)
	}
	return nil
}

func EncodeInode(ino *Inode) ([]byte, error) {
	b := make([]byte, SizeInode)
	n, err := binary.Encode(b, binary.LittleEndian, ino)
	if err != nil {
		return nil, err
	}
	if n != SizeInode {
		return nil, fmt.Errorf("inode: encoded %d bytes", n)
	}
	return b, nil
}

func DecodeInode(b []byte, ino *Inode) error {
	n, err := binary.Decode(b[:SizeInode], binary.LittleEndian, ino)
	if err != nil {
		return err
	}
	if n != SizeInode {
		return fmt.Errorf("inode: decoded %d bytes", n)
	}
	return nil
}

func EncodeDirentHeader(b []byte, h *DirentHeader) error {
	n, err := binary.Encode(b[:SizeDirentHeader], binary.LittleEndian, h)
	if err != nil {
		return err
	}
	if n != SizeDirentHeader {
		return fmt.Errorf("dirent: encoded %d bytes", n)
	}
	return nil
}

func DecodeDirentHeader(b []byte, h *DirentHeader) error {
	n, err := binary.Decode(b[:SizeDirentHeader], binary.LittleEndian, h)
	if err != nil {
		return err
	}
	if n != SizeDirentHeader {
		return fmt.Errorf("dirent: decoded %d bytes", n)
	}
	return nil
}

func PutPointer(b []byte, i int, blk uint32) {
	binary.LittleEndian.PutUint32(b[i*4:], blk)
}

func Pointer(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i*4:])
}
