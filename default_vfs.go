package kernel

import (
	"io"
	"os"

	"github.com/ehrlich-b/microkernel/internal/ring"
	"github.com/ehrlich-b/microkernel/internal/syscallcore"
)

// DefaultVFS is the stdlib-backed implementation of VFS used whenever a
// Config omits one. Grounded on the same family as
// internal/ring/engine_fallback.go's OSFileSystem and
// internal/syscallcore/filetree_handler.go's stdlib default — no pack
// example ships a filesystem abstraction broader than raw file
// handles, so os/io is the justified standard-library choice
// (DESIGN.md).
type DefaultVFS struct {
	fs *ring.OSFileSystem
}

// NewDefaultVFS constructs the stdlib-backed VFS.
func NewDefaultVFS() *DefaultVFS {
	return &DefaultVFS{fs: ring.NewOSFileSystem()}
}

func (v *DefaultVFS) Open(path string, flags int, mode uint32) (ring.Handle, error) {
	return v.fs.Open(path, flags, mode)
}

func (v *DefaultVFS) Read(h ring.Handle, n int) ([]byte, error) {
	return v.fs.Read(h, n)
}

func (v *DefaultVFS) Write(h ring.Handle, data []byte) (int, error) {
	return v.fs.Write(h, data)
}

func (v *DefaultVFS) Create(path string, mode uint32) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, os.FileMode(mode))
	if err != nil {
		return err
	}
	return f.Close()
}

func (v *DefaultVFS) Delete(path string) error {
	return os.Remove(path)
}

func (v *DefaultVFS) Metadata(path string) (syscallcore.StatInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return syscallcore.StatInfo{}, err
	}
	return syscallcore.StatInfo{Size: fi.Size(), Mode: uint32(fi.Mode()), IsDir: fi.IsDir()}, nil
}

func (v *DefaultVFS) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (v *DefaultVFS) CreateDir(path string) error {
	return os.Mkdir(path, 0o755)
}

func (v *DefaultVFS) RemoveDir(path string) error {
	return os.Remove(path)
}

func (v *DefaultVFS) Copy(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	return io.Copy(out, in)
}

func (v *DefaultVFS) Rename(src, dst string) error {
	return os.Rename(src, dst)
}

var _ VFS = (*DefaultVFS)(nil)
