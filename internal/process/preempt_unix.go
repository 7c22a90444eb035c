//go:build unix

package process

import (
	"github.com/ehrlich-b/microkernel/internal/logging"
	"golang.org/x/sys/unix"
)

// unixSignaler sends real SIGSTOP/SIGCONT, reused from
// internal/queue/runner.go's unix.SchedSetaffinity-adjacent use of
// golang.org/x/sys/unix for low-level process control.
type unixSignaler struct {
	log *logging.Logger
}

func newPlatformSignaler(log *logging.Logger) osSignaler {
	return &unixSignaler{log: log}
}

func (s *unixSignaler) Stop(osPid int) error {
	return unix.Kill(osPid, unix.SIGSTOP)
}

func (s *unixSignaler) Continue(osPid int) error {
	return unix.Kill(osPid, unix.SIGCONT)
}
