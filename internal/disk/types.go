package disk

const (
	MagicNumber   = 0x504e4f51 // "PNOQ"
	FormatVersion = 1

	BlockSize = 4096

	SizeSuperBlock   = 128
	SizeInode        = 128
	SizeDirentHeader = 8

	InodesPerBlock = BlockSize / SizeInode

	// One inode slot for every InodeRatio data blocks.
	InodeRatio = 4

	DirectBlocks     = 12
	PointersPerBlock = BlockSize / 4

	// Block pointer value meaning "no block". Logical block 0 always
	// holds the superblock, so it can never back file data.
	NilBlock = 0

	RootInode = 0

	MaxNameLen = 255
)

// MaxFileSize is the largest byte size representable by the pointer
// structure: direct pointers plus one single-indirect block.
const MaxFileSize = (DirectBlocks + PointersPerBlock) * BlockSize

// SuperBlock is the layout descriptor stored in logical block 0. Counts and
// region offsets are fixed at format time; only the free-count summaries are
// rewritten afterwards.
type SuperBlock struct {
	MagicNumber   uint32
	Version       uint32
	BlockSize     uint32
	DiskCount     uint32
	BlocksPerDisk uint32
	BlockCount    uint32
	InodeCount    uint32

	BlockBitmapStart  uint32
	BlockBitmapBlocks uint32
	InodeBitmapStart  uint32
	InodeBitmapBlocks uint32
	InodeTableStart   uint32
	InodeTableBlocks  uint32
	DataStart         uint32

	FreeBlocks uint32
	FreeInodes uint32

	UID  uint32
	GID  uint32
	UUID [16]uint8

	Reserved [40]uint8
}

// Inode is the fixed-size record for one file or directory.
type Inode struct {
	Mode     uint32
	Nlink    uint32
	UID      uint32
	GID      uint32
	Size     uint64
	Mtime    int64
	MtimeNs  uint32
	Direct   [DirectBlocks]uint32
	Indirect uint32
	Reserved [40]uint8
}

// DirentHeader prefixes every directory record; NameLen bytes of name follow
// it. A record with NameLen == 0 is a tombstone: RecLen is kept so scans can
// step over it.
type DirentHeader struct {
	RecLen  uint16
	NameLen uint16
	Ino     uint32
}
