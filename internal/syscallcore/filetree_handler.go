package syscallcore

import (
	"github.com/ehrlich-b/microkernel/internal/ring"
)

// lister is the narrow Listen capability engine_fallback.go's NetDialer
// offers beyond the ring.Network interface (spec §4.F names no listen
// op, so it lives here rather than on ring.Network itself).
type lister interface {
	Listen(network, address string) (ring.Handle, error)
}

// vfs is the external filesystem collaborator spec §6 names (metadata
// tree operations beyond the ring's raw handle open/read/write/close/
// fsync/lseek set). Defined locally, matching the root kernel
// package's VFS interface structurally, so this handler never imports
// the root package (which would cycle back through syscallcore).
type vfs interface {
	Create(path string, mode uint32) error
	Delete(path string) error
	Metadata(path string) (StatInfo, error)
	ListDir(path string) ([]string, error)
	CreateDir(path string) error
	RemoveDir(path string) error
	Copy(src, dst string) (int64, error)
	Rename(src, dst string) error
}

// FileTreeHandler claims the filesystem-tree metadata kinds spec §4.F
// lists beyond the ring's own open/read/write/close/fsync/lseek set:
// stat, create, delete, list_dir, mkdir, rmdir, copy, rename, plus
// net_listen. Delegates to the external VFS collaborator (spec §6)
// rather than calling stdlib os directly, so a caller-supplied VFS
// (sandboxed, chrooted, remote) is actually exercised by this handler.
type FileTreeHandler struct {
	fs  vfs
	net lister
}

// NewFileTreeHandler constructs a FileTreeHandler. net may be nil if
// net_listen is never dispatched.
func NewFileTreeHandler(fs vfs, net lister) *FileTreeHandler {
	return &FileTreeHandler{fs: fs, net: net}
}

// PathPayload carries a single path; used by Stat, Delete, ListDir,
// Mkdir, Rmdir.
type PathPayload struct {
	Path string
}

// CreatePayload is KindCreate's payload.
type CreatePayload struct {
	Path string
	Mode uint32
}

// CopyRenamePayload is shared by KindCopy/KindRename.
type CopyRenamePayload struct {
	Src string
	Dst string
}

// NetListenPayload is KindNetListen's payload.
type NetListenPayload struct {
	Network string
	Address string
}

// StatInfo is KindStat's success payload.
type StatInfo struct {
	Size  int64
	Mode  uint32
	IsDir bool
}

func (h *FileTreeHandler) Handle(pid uint32, sc Syscall) (SyscallResult, bool) {
	switch sc.Kind {
	case KindStat:
		p := sc.Payload.(PathPayload)
		info, err := h.fs.Metadata(p.Path)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(info), true

	case KindCreate:
		p := sc.Payload.(CreatePayload)
		if err := h.fs.Create(p.Path, p.Mode); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindDelete:
		p := sc.Payload.(PathPayload)
		if err := h.fs.Delete(p.Path); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindListDir:
		p := sc.Payload.(PathPayload)
		names, err := h.fs.ListDir(p.Path)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(names), true

	case KindMkdir:
		p := sc.Payload.(PathPayload)
		if err := h.fs.CreateDir(p.Path); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindRmdir:
		p := sc.Payload.(PathPayload)
		if err := h.fs.RemoveDir(p.Path); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindCopy:
		p := sc.Payload.(CopyRenamePayload)
		n, err := h.fs.Copy(p.Src, p.Dst)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(n), true

	case KindRename:
		p := sc.Payload.(CopyRenamePayload)
		if err := h.fs.Rename(p.Src, p.Dst); err != nil {
			return Failure(err.Error()), true
		}
		return Success(nil), true

	case KindNetListen:
		if h.net == nil {
			return Failure("no listener configured"), true
		}
		p := sc.Payload.(NetListenPayload)
		handle, err := h.net.Listen(p.Network, p.Address)
		if err != nil {
			return Failure(err.Error()), true
		}
		return Success(handle), true

	default:
		return SyscallResult{}, false
	}
}
