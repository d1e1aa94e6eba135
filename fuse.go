package pinoq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	log "github.com/sirupsen/logrus"

	"github.com/amiremohamadi/pinoq/internal/disk"
)

// FUSE bridge: translates kernel requests into Volume operation calls and
// error kinds into errnos. The engine itself never sees a fuse type.

const attrTTL = time.Second

// Mount opens the configured volume and serves it on the mount point until
// the filesystem is unmounted. It fails fast, with no partial mount, when
// the superblock is invalid or the mount point is missing.
func Mount(cfg *Config) error {
	if fi, err := os.Stat(cfg.Mount); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: mount point %s is not a directory", ErrInvalidArg, cfg.Mount)
	}

	v, err := OpenVolume(cfg.Volume)
	if err != nil {
		return err
	}
	v.readOnly = cfg.Options.ReadOnly

	opts := []fuse.MountOption{
		fuse.FSName("pinoq"),
		fuse.Subtype("pinoq"),
	}
	if cfg.Options.AllowOther {
		opts = append(opts, fuse.AllowOther())
	}
	if cfg.Options.ReadOnly {
		opts = append(opts, fuse.ReadOnly())
	}

	conn, err := fuse.Mount(cfg.Mount, opts...)
	if err != nil {
		v.Close()
		return fmt.Errorf("%w: mount %s: %v", ErrIO, cfg.Mount, err)
	}
	defer conn.Close()
	defer v.Close()

	log.WithFields(log.Fields{
		"volume": cfg.Volume,
		"mount":  cfg.Mount,
	}).Info("serving")
	return fusefs.Serve(conn, &bridge{v: v})
}

type bridge struct {
	v *Volume
}

func (b *bridge) Root() (fusefs.Node, error) {
	return &fsNode{v: b.v, ino: 0}, nil
}

// fsNode is one file or directory as seen by the kernel.
type fsNode struct {
	v   *Volume
	ino uint32
}

// The kernel reserves inode 0, so engine inode numbers are shifted by one
// on the way out.
func (n *fsNode) fuseIno() uint64 {
	return uint64(n.ino) + 1
}

func (n *fsNode) Attr(ctx context.Context, a *fuse.Attr) error {
	ino, err := n.v.GetAttr(n.ino)
	if err != nil {
		return errno(err)
	}
	a.Valid = attrTTL
	a.Inode = n.fuseIno()
	a.Size = ino.Size
	a.Blocks = (ino.Size + 511) / 512
	a.Mtime = time.Unix(ino.Mtime, int64(ino.MtimeNs))
	a.Ctime = a.Mtime
	a.Mode = ino.FileMode()
	a.Nlink = ino.Nlink
	a.Uid = ino.UID
	a.Gid = ino.GID
	a.BlockSize = disk.BlockSize
	return nil
}

func (n *fsNode) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	child, _, err := n.v.Lookup(n.ino, name)
	if err != nil {
		return nil, errno(err)
	}
	return &fsNode{v: n.v, ino: child}, nil
}

func (n *fsNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	ents, err := n.v.ReadDir(n.ino)
	if err != nil {
		return nil, errno(err)
	}
	out := make([]fuse.Dirent, 0, len(ents))
	for _, e := range ents {
		typ := fuse.DT_File
		if e.IsDir {
			typ = fuse.DT_Dir
		}
		out = append(out, fuse.Dirent{Inode: uint64(e.Ino) + 1, Type: typ, Name: e.Name})
	}
	return out, nil
}

func (n *fsNode) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	child, _, err := n.v.Create(n.ino, req.Name, uint32(req.Mode.Perm()))
	if err != nil {
		return nil, nil, errno(err)
	}
	id, err := n.v.Open(child, true)
	if err != nil {
		return nil, nil, errno(err)
	}
	node := &fsNode{v: n.v, ino: child}
	return node, &fsHandle{node: node, id: id}, nil
}

func (n *fsNode) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	child, _, err := n.v.Mkdir(n.ino, req.Name, uint32(req.Mode.Perm()))
	if err != nil {
		return nil, errno(err)
	}
	return &fsNode{v: n.v, ino: child}, nil
}

func (n *fsNode) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if req.Dir {
		return errno(n.v.Rmdir(n.ino, req.Name))
	}
	return errno(n.v.Unlink(n.ino, req.Name))
}

func (n *fsNode) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	nd, ok := newDir.(*fsNode)
	if !ok {
		return fuse.Errno(syscall.EXDEV)
	}
	return errno(n.v.Rename(n.ino, req.OldName, nd.ino, req.NewName))
}

func (n *fsNode) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := n.v.Truncate(n.ino, req.Size); err != nil {
			return errno(err)
		}
	}
	if req.Valid.Mode() {
		if err := n.v.Chmod(n.ino, uint32(req.Mode.Perm())); err != nil {
			return errno(err)
		}
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		ino, err := n.v.GetAttr(n.ino)
		if err != nil {
			return errno(err)
		}
		uid, gid := ino.UID, ino.GID
		if req.Valid.Uid() {
			uid = req.Uid
		}
		if req.Valid.Gid() {
			gid = req.Gid
		}
		if err := n.v.Chown(n.ino, uid, gid); err != nil {
			return errno(err)
		}
	}
	if req.Valid.Mtime() {
		if err := n.v.SetMtime(n.ino, req.Mtime); err != nil {
			return errno(err)
		}
	}
	return n.Attr(ctx, &resp.Attr)
}

func (n *fsNode) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	if req.Dir {
		return n, nil
	}
	writable := req.Flags&fuse.OpenAccessModeMask != fuse.OpenReadOnly
	id, err := n.v.Open(n.ino, writable)
	if err != nil {
		return nil, errno(err)
	}
	return &fsHandle{node: n, id: id}, nil
}

// fsHandle is one open file.
type fsHandle struct {
	node *fsNode
	id   uint64
}

func (h *fsHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := h.node.v.Read(h.node.ino, req.Offset, req.Size)
	if err != nil {
		return errno(err)
	}
	resp.Data = data
	return nil
}

func (h *fsHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	wrote, err := h.node.v.Write(h.node.ino, req.Offset, req.Data)
	if err != nil {
		return errno(err)
	}
	resp.Size = wrote
	return nil
}

func (h *fsHandle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	return errno(h.node.v.Flush(h.id))
}

func (h *fsHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	return errno(h.node.v.Release(h.id))
}

// errno maps engine error kinds onto the errno shape the kernel expects.
func errno(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, ErrExists):
		return fuse.EEXIST
	case errors.Is(err, ErrNotEmpty):
		return fuse.Errno(syscall.ENOTEMPTY)
	case errors.Is(err, ErrNotDir):
		return fuse.Errno(syscall.ENOTDIR)
	case errors.Is(err, ErrIsDir):
		return fuse.Errno(syscall.EISDIR)
	case errors.Is(err, ErrNoSpace):
		return fuse.Errno(syscall.ENOSPC)
	case errors.Is(err, ErrFileTooLarge):
		return fuse.Errno(syscall.EFBIG)
	case errors.Is(err, ErrReadOnly):
		return fuse.Errno(syscall.EROFS)
	case errors.Is(err, ErrInvalidArg):
		return fuse.Errno(syscall.EINVAL)
	default:
		log.WithError(err).Error("operation failed")
		return fuse.EIO
	}
}
