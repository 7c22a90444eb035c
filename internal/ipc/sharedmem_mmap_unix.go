//go:build unix

package ipc

import "golang.org/x/sys/unix"

// mmapAnon is shared memory's real page backing on Unix hosts,
// reused from internal/process/preempt_unix.go's platform-split idiom
// for golang.org/x/sys/unix. An anonymous shared mapping
// stands in for the kernel's page-table-backed shared region (spec
// §4.B/§4.C): SharedMemory owns the mapping and multiple attached pids
// read/write the same backing array, rather than each attachment
// getting its own Go slice.
func mmapAnon(size uint64) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
}

func munmapAnon(buf []byte) error {
	if buf == nil {
		return nil
	}
	return unix.Munmap(buf)
}
