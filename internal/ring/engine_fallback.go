package ring

import (
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/microkernel/kernelerr"
)

// OSFileSystem is the default FileSystem: real os.File handles behind a
// mutex-guarded handle table, used whenever the ring is not built with the
// "giouring" tag. Grounded on internal/uring/minimal.go's plain-syscall
// idiom, generalized from raw syscall.Syscall calls to the stdlib os
// package (no lower-level access is needed for a simulated kernel's
// file ops).
type OSFileSystem struct {
	mu      sync.Mutex
	files   map[Handle]*os.File
	nextH   atomic.Uint64
}

// NewOSFileSystem constructs the default FileSystem.
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{files: make(map[Handle]*os.File)}
}

func (fs *OSFileSystem) Open(path string, flags int, mode uint32) (Handle, error) {
	f, err := os.OpenFile(path, flags, os.FileMode(mode))
	if err != nil {
		return 0, kernelerr.New("ring", "open", kernelerr.CodeExecutionError, err.Error())
	}
	h := Handle(fs.nextH.Add(1))
	fs.mu.Lock()
	fs.files[h] = f
	fs.mu.Unlock()
	return h, nil
}

func (fs *OSFileSystem) get(h Handle) (*os.File, error) {
	fs.mu.Lock()
	f, ok := fs.files[h]
	fs.mu.Unlock()
	if !ok {
		return nil, kernelerr.New("ring", "file", kernelerr.CodeNotFound, "unknown file handle")
	}
	return f, nil
}

func (fs *OSFileSystem) Read(h Handle, n int) ([]byte, error) {
	f, err := fs.get(h)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if err != nil && read == 0 {
		return nil, kernelerr.New("ring", "read", kernelerr.CodeExecutionError, err.Error())
	}
	return buf[:read], nil
}

func (fs *OSFileSystem) Write(h Handle, data []byte) (int, error) {
	f, err := fs.get(h)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(data)
	if err != nil {
		return n, kernelerr.New("ring", "write", kernelerr.CodeExecutionError, err.Error())
	}
	return n, nil
}

func (fs *OSFileSystem) Close(h Handle) error {
	f, err := fs.get(h)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	delete(fs.files, h)
	fs.mu.Unlock()
	return f.Close()
}

func (fs *OSFileSystem) Fsync(h Handle) error {
	f, err := fs.get(h)
	if err != nil {
		return err
	}
	return f.Sync()
}

func (fs *OSFileSystem) Lseek(h Handle, offset int64, whence int) (int64, error) {
	f, err := fs.get(h)
	if err != nil {
		return 0, err
	}
	return f.Seek(offset, whence)
}

// NetDialer is the default Network: real TCP/UDP sockets behind a
// mutex-guarded handle table. No pack example ships a socket abstraction
// library, so this is the justified standard-library (net) default.
type NetDialer struct {
	mu    sync.Mutex
	conns map[Handle]net.Conn
	lns   map[Handle]net.Listener
	nextH atomic.Uint64
}

// NewNetDialer constructs the default Network.
func NewNetDialer() *NetDialer {
	return &NetDialer{conns: make(map[Handle]net.Conn), lns: make(map[Handle]net.Listener)}
}

func (d *NetDialer) Connect(network, address string) (Handle, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return 0, kernelerr.New("ring", "connect", kernelerr.CodeExecutionError, err.Error())
	}
	h := Handle(d.nextH.Add(1))
	d.mu.Lock()
	d.conns[h] = conn
	d.mu.Unlock()
	return h, nil
}

// Listen registers a listener under a fresh handle for Accept to use;
// not part of the Network interface itself since spec §4.F's surface
// only names accept/connect/send/recv, not listen (assumed established
// out of band by the caller).
func (d *NetDialer) Listen(network, address string) (Handle, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return 0, kernelerr.New("ring", "listen", kernelerr.CodeExecutionError, err.Error())
	}
	h := Handle(d.nextH.Add(1))
	d.mu.Lock()
	d.lns[h] = ln
	d.mu.Unlock()
	return h, nil
}

func (d *NetDialer) Accept(h Handle) (Handle, error) {
	d.mu.Lock()
	ln, ok := d.lns[h]
	d.mu.Unlock()
	if !ok {
		return 0, kernelerr.New("ring", "accept", kernelerr.CodeNotFound, "unknown listener handle")
	}
	conn, err := ln.Accept()
	if err != nil {
		return 0, kernelerr.New("ring", "accept", kernelerr.CodeExecutionError, err.Error())
	}
	ch := Handle(d.nextH.Add(1))
	d.mu.Lock()
	d.conns[ch] = conn
	d.mu.Unlock()
	return ch, nil
}

func (d *NetDialer) connFor(h Handle) (net.Conn, error) {
	d.mu.Lock()
	conn, ok := d.conns[h]
	d.mu.Unlock()
	if !ok {
		return nil, kernelerr.New("ring", "conn", kernelerr.CodeNotFound, "unknown connection handle")
	}
	return conn, nil
}

func (d *NetDialer) Send(h Handle, data []byte) (int, error) {
	conn, err := d.connFor(h)
	if err != nil {
		return 0, err
	}
	n, err := conn.Write(data)
	if err != nil {
		return n, kernelerr.New("ring", "send", kernelerr.CodeExecutionError, err.Error())
	}
	return n, nil
}

// Close implements NetCloser, releasing either a connection or a
// listener registered under h.
func (d *NetDialer) Close(h Handle) error {
	d.mu.Lock()
	conn, isConn := d.conns[h]
	ln, isLn := d.lns[h]
	delete(d.conns, h)
	delete(d.lns, h)
	d.mu.Unlock()
	if isConn {
		return conn.Close()
	}
	if isLn {
		return ln.Close()
	}
	return kernelerr.New("ring", "close", kernelerr.CodeNotFound, "unknown connection or listener handle")
}

func (d *NetDialer) Recv(h Handle, n int) ([]byte, error) {
	conn, err := d.connFor(h)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := conn.Read(buf)
	if err != nil && read == 0 {
		return nil, kernelerr.New("ring", "recv", kernelerr.CodeExecutionError, err.Error())
	}
	return buf[:read], nil
}
