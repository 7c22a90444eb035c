//go:build !unix

package ipc

// mmapAnon falls back to a plain heap buffer on non-Unix hosts, where
// an anonymous mmap isn't available through golang.org/x/sys/unix.
func mmapAnon(size uint64) ([]byte, error) {
	return make([]byte, size), nil
}

func munmapAnon(buf []byte) error {
	return nil
}
