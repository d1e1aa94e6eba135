package pinoq

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// Operation handlers: one method per filesystem operation, each a thin
// composition over the directory engine, file data engine and allocators.
// These are what the bridge layer calls.

// DirEntry is one readdir result.
type DirEntry struct {
	Name  string
	Ino   uint32
	IsDir bool
}

// Lookup resolves name inside the directory parent.
func (v *Volume) Lookup(parent uint32, name string) (uint32, disk.Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, err := v.readDir(parent)
	if err != nil {
		return 0, disk.Inode{}, err
	}
	n, err := v.dirLookup(dir, name)
	if err != nil {
		return 0, disk.Inode{}, err
	}
	ino, err := v.readInode(n)
	if err != nil {
		return 0, disk.Inode{}, err
	}
	return n, *ino, nil
}

// GetAttr returns the inode record for n.
func (v *Volume) GetAttr(n uint32) (disk.Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ino, err := v.liveInode(n)
	if err != nil {
		return disk.Inode{}, err
	}
	return *ino, nil
}

// inodeLive reports whether n names an allocated inode. Numbers outside the
// table are simply not found, not a fault: the bridge hands us whatever the
// kernel remembers.
func (v *Volume) inodeLive(n uint32) (bool, error) {
	if n >= v.sb.InodeCount {
		return false, nil
	}
	return v.inodeBM.isSet(n)
}

// Create makes a new empty file under parent and returns its inode number.
func (v *Volume) Create(parent uint32, name string, perm uint32) (uint32, disk.Inode, error) {
	if v.readOnly {
		return 0, disk.Inode{}, ErrReadOnly
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, err := v.readDir(parent)
	if err != nil {
		return 0, disk.Inode{}, err
	}

	n, ino, err := v.allocInode(disk.ModeFile | (perm & disk.ModePermMask))
	if err != nil {
		return 0, disk.Inode{}, err
	}
	ino.Nlink = 1
	if err := v.writeInode(n, ino); err != nil {
		return 0, disk.Inode{}, err
	}

	if err := v.dirInsert(dir, name, n); err != nil {
		ino.Nlink = 0
		if werr := v.writeInode(n, ino); werr != nil {
			return 0, disk.Inode{}, werr
		}
		if ferr := v.freeInode(n); ferr != nil {
			return 0, disk.Inode{}, ferr
		}
		return 0, disk.Inode{}, err
	}
	if err := v.writeInode(parent, dir); err != nil {
		return 0, disk.Inode{}, err
	}
	return n, *ino, nil
}

// Mkdir makes a new directory under parent, wiring its "." and ".."
// records and bumping the parent's link count.
func (v *Volume) Mkdir(parent uint32, name string, perm uint32) (uint32, disk.Inode, error) {
	if v.readOnly {
		return 0, disk.Inode{}, ErrReadOnly
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, err := v.readDir(parent)
	if err != nil {
		return 0, disk.Inode{}, err
	}

	n, ino, err := v.allocInode(disk.ModeDir | (perm & disk.ModePermMask))
	if err != nil {
		return 0, disk.Inode{}, err
	}
	// "." plus the parent's record of us.
	ino.Nlink = 2
	if err := v.dirInsert(ino, ".", n); err != nil {
		return 0, disk.Inode{}, err
	}
	if err := v.dirInsert(ino, "..", parent); err != nil {
		return 0, disk.Inode{}, err
	}
	if err := v.writeInode(n, ino); err != nil {
		return 0, disk.Inode{}, err
	}

	if err := v.dirInsert(dir, name, n); err != nil {
		ino.Nlink = 0
		if werr := v.writeInode(n, ino); werr != nil {
			return 0, disk.Inode{}, werr
		}
		if ferr := v.freeInode(n); ferr != nil {
			return 0, disk.Inode{}, ferr
		}
		return 0, disk.Inode{}, err
	}
	dir.Nlink++ // the child's ".."
	if err := v.writeInode(parent, dir); err != nil {
		return 0, disk.Inode{}, err
	}
	return n, *ino, nil
}

// Read returns up to size bytes at off. The allocator lock is dropped once
// the covered block pointers are resolved; the data blocks themselves are
// read without it.
func (v *Volume) Read(n uint32, off int64, size int) ([]byte, error) {
	if size < 0 || off < 0 {
		return nil, ErrInvalidArg
	}

	v.mu.Lock()
	ino, err := v.readInode(n)
	if err != nil {
		v.mu.Unlock()
		return nil, err
	}
	if ino.IsDir() {
		v.mu.Unlock()
		return nil, ErrIsDir
	}
	if off >= int64(ino.Size) {
		v.mu.Unlock()
		return nil, nil
	}
	if max := int64(ino.Size) - off; int64(size) > max {
		size = int(max)
	}
	blks, err := v.resolveRange(ino, off, size)
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p := make([]byte, size)
	read, err := v.readResolved(blks, off, p)
	if err != nil {
		return nil, err
	}
	return p[:read], nil
}

// Write stores data at off, growing the file as needed.
func (v *Volume) Write(n uint32, off int64, data []byte) (int, error) {
	if v.readOnly {
		return 0, ErrReadOnly
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	ino, err := v.readInode(n)
	if err != nil {
		return 0, err
	}
	if ino.IsDir() {
		return 0, ErrIsDir
	}
	written, err := v.writeAt(ino, off, data)
	if werr := v.writeInode(n, ino); werr != nil && err == nil {
		err = werr
	}
	return written, err
}

// Truncate sets the file size, freeing blocks past the new end.
func (v *Volume) Truncate(n uint32, size uint64) error {
	if v.readOnly {
		return ErrReadOnly
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	ino, err := v.readInode(n)
	if err != nil {
		return err
	}
	if ino.IsDir() {
		return ErrIsDir
	}
	if err := v.truncate(ino, size); err != nil {
		return err
	}
	return v.writeInode(n, ino)
}

// Chmod replaces the permission bits, leaving the type bits alone.
func (v *Volume) Chmod(n uint32, perm uint32) error {
	if v.readOnly {
		return ErrReadOnly
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	ino, err := v.liveInode(n)
	if err != nil {
		return err
	}
	ino.Mode = ino.Mode&disk.ModeTypeMask | perm&disk.ModePermMask
	return v.writeInode(n, ino)
}

// Chown sets the owner and group ids.
func (v *Volume) Chown(n uint32, uid, gid uint32) error {
	if v.readOnly {
		return ErrReadOnly
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	ino, err := v.liveInode(n)
	if err != nil {
		return err
	}
	ino.UID = uid
	ino.GID = gid
	return v.writeInode(n, ino)
}

// SetMtime sets the modification timestamp.
func (v *Volume) SetMtime(n uint32, t time.Time) error {
	if v.readOnly {
		return ErrReadOnly
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	ino, err := v.liveInode(n)
	if err != nil {
		return err
	}
	ino.Mtime = t.Unix()
	ino.MtimeNs = uint32(t.Nanosecond())
	return v.writeInode(n, ino)
}

// liveInode reads inode n, requiring it to be allocated. Allocator lock
// must be held.
func (v *Volume) liveInode(n uint32) (*disk.Inode, error) {
	live, err := v.inodeLive(n)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrNotFound
	}
	return v.readInode(n)
}

// Unlink removes the file entry name from parent and frees the inode once
// its link count reaches zero.
func (v *Volume) Unlink(parent uint32, name string) error {
	if v.readOnly {
		return ErrReadOnly
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, err := v.readDir(parent)
	if err != nil {
		return err
	}
	n, err := v.dirLookup(dir, name)
	if err != nil {
		return err
	}
	ino, err := v.readInode(n)
	if err != nil {
		return err
	}
	if ino.IsDir() {
		return ErrIsDir
	}

	if _, err := v.dirRemove(dir, name); err != nil {
		return err
	}
	if err := v.writeInode(parent, dir); err != nil {
		return err
	}

	ino.Nlink--
	if err := v.writeInode(n, ino); err != nil {
		return err
	}
	if ino.Nlink == 0 {
		return v.freeInode(n)
	}
	return nil
}

// Rmdir removes an empty directory.
func (v *Volume) Rmdir(parent uint32, name string) error {
	if v.readOnly {
		return ErrReadOnly
	}
	if name == "." || name == ".." {
		return ErrInvalidArg
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, err := v.readDir(parent)
	if err != nil {
		return err
	}
	n, err := v.dirLookup(dir, name)
	if err != nil {
		return err
	}
	ino, err := v.readInode(n)
	if err != nil {
		return err
	}
	if !ino.IsDir() {
		return ErrNotDir
	}
	empty, err := v.dirEmpty(ino)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("%w: %s", ErrNotEmpty, name)
	}

	if _, err := v.dirRemove(dir, name); err != nil {
		return err
	}
	dir.Nlink-- // the child's ".." goes away with it
	if err := v.writeInode(parent, dir); err != nil {
		return err
	}

	ino.Nlink = 0
	if err := v.writeInode(n, ino); err != nil {
		return err
	}
	return v.freeInode(n)
}

// Rename moves oldName in oldParent to newName in newParent. The insert
// into the new location happens first; if it fails nothing is removed.
func (v *Volume) Rename(oldParent uint32, oldName string, newParent uint32, newName string) error {
	if v.readOnly {
		return ErrReadOnly
	}
	if oldName == "." || oldName == ".." || newName == "." || newName == ".." {
		return ErrInvalidArg
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	oldDir, err := v.readDir(oldParent)
	if err != nil {
		return err
	}
	newDir := oldDir
	if newParent != oldParent {
		if newDir, err = v.readDir(newParent); err != nil {
			return err
		}
	}

	target, err := v.dirLookup(oldDir, oldName)
	if err != nil {
		return err
	}
	tino, err := v.readInode(target)
	if err != nil {
		return err
	}
	if tino.IsDir() {
		if err := v.checkNotAncestor(target, newParent); err != nil {
			return err
		}
	}

	if err := v.dirInsert(newDir, newName, target); err != nil {
		return err
	}
	if _, err := v.dirRemove(oldDir, oldName); err != nil {
		return err
	}
	if tino.IsDir() && oldParent != newParent {
		// The moved directory's ".." now counts against the new parent,
		// even though the stored record itself is left as written at
		// mkdir time; single-volume renames do not rewrite it.
		oldDir.Nlink--
		newDir.Nlink++
	}
	if err := v.writeInode(newParent, newDir); err != nil {
		return err
	}
	if newParent == oldParent {
		return nil
	}
	return v.writeInode(oldParent, oldDir)
}

// checkNotAncestor fails when dir is parent itself or an ancestor of it;
// moving a directory below itself would detach a cycle from the tree. The
// walk follows ".." records and is capped so a corrupt chain cannot spin.
func (v *Volume) checkNotAncestor(dir, parent uint32) error {
	n := parent
	for steps := uint32(0); ; steps++ {
		if n == dir {
			return fmt.Errorf("%w: cannot move a directory below itself", ErrInvalidArg)
		}
		if n == disk.RootInode {
			return nil
		}
		if steps > v.sb.InodeCount {
			return fmt.Errorf("%w: directory tree loop above inode %d", ErrCorruptVolume, parent)
		}
		d, err := v.readDir(n)
		if err != nil {
			return err
		}
		up, err := v.dirLookup(d, "..")
		if err != nil {
			return err
		}
		if up == n {
			return nil
		}
		n = up
	}
}

// ReadDir lists parent's entries: "." and ".." first, then live records in
// on-disk order. Repeated calls with no intervening mutation yield the same
// sequence.
func (v *Volume) ReadDir(n uint32) ([]DirEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, err := v.readDir(n)
	if err != nil {
		return nil, err
	}
	ents, err := v.dirEntries(dir)
	if err != nil {
		return nil, err
	}

	out := make([]DirEntry, 0, len(ents))
	for _, e := range ents {
		if e.name == "." || e.name == ".." {
			out = append(out, DirEntry{Name: e.name, Ino: e.ino, IsDir: true})
			continue
		}
		ino, err := v.readInode(e.ino)
		if err != nil {
			return nil, err
		}
		out = append(out, DirEntry{Name: e.name, Ino: e.ino, IsDir: ino.IsDir()})
	}
	return out, nil
}

// Resolve walks an absolute slash-separated path from the root inode.
func (v *Volume) Resolve(path string) (uint32, error) {
	n := uint32(disk.RootInode)
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		next, _, err := v.Lookup(n, part)
		if err != nil {
			return 0, err
		}
		n = next
	}
	return n, nil
}

// readDir reads inode n and requires it to be a directory.
func (v *Volume) readDir(n uint32) (*disk.Inode, error) {
	live, err := v.inodeLive(n)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrNotFound
	}
	ino, err := v.readInode(n)
	if err != nil {
		return nil, err
	}
	if !ino.IsDir() {
		return nil, ErrNotDir
	}
	return ino, nil
}

// File handles: ephemeral, process-local open-file state. Nothing here is
// persisted.

type fileHandle struct {
	ino      uint32
	writable bool
}

type handleTable struct {
	mu   sync.Mutex
	next uint64
	open map[uint64]*fileHandle
}

func newHandleTable() *handleTable {
	return &handleTable{next: 1, open: make(map[uint64]*fileHandle)}
}

// Open registers a handle for inode n.
func (v *Volume) Open(n uint32, writable bool) (uint64, error) {
	if writable && v.readOnly {
		return 0, ErrReadOnly
	}
	if _, err := v.GetAttr(n); err != nil {
		return 0, err
	}

	v.handles.mu.Lock()
	defer v.handles.mu.Unlock()
	id := v.handles.next
	v.handles.next++
	v.handles.open[id] = &fileHandle{ino: n, writable: writable}
	return id, nil
}

// Release destroys a handle.
func (v *Volume) Release(id uint64) error {
	v.handles.mu.Lock()
	defer v.handles.mu.Unlock()
	if _, ok := v.handles.open[id]; !ok {
		return fmt.Errorf("%w: unknown handle %d", ErrInvalidArg, id)
	}
	delete(v.handles.open, id)
	return nil
}

// Flush pushes buffered writes on the backing file to stable storage.
func (v *Volume) Flush(id uint64) error {
	v.handles.mu.Lock()
	_, ok := v.handles.open[id]
	v.handles.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown handle %d", ErrInvalidArg, id)
	}
	if err := v.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}
