package disk

import "io/fs"

// Inode type bits stored in the high bits of Inode.Mode, ext2-style.
const (
	ModeTypeMask = 0xf000
	ModeFile     = 0x8000
	ModeDir      = 0x4000

	ModePermMask = 0x0fff

	DefaultFilePerm = 0o644
	DefaultDirPerm  = 0o755
)

func (ino *Inode) IsDir() bool {
	return ino.Mode&ModeTypeMask == ModeDir
}

func (ino *Inode) Perm() uint32 {
	return ino.Mode & ModePermMask
}

// FileMode converts the inode mode to a Go FileMode.
func (ino *Inode) FileMode() fs.FileMode {
	mode := fs.FileMode(ino.Perm())
	if ino.IsDir() {
		mode |= fs.ModeDir
	}
	return mode
}
