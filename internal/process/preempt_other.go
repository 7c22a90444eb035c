//go:build !unix

package process

import "github.com/ehrlich-b/microkernel/internal/logging"

// noopSignaler logs a warning and proceeds without OS signals on
// non-Unix hosts, per spec §4.E.
type noopSignaler struct {
	log *logging.Logger
}

func newPlatformSignaler(log *logging.Logger) osSignaler {
	return &noopSignaler{log: log}
}

func (s *noopSignaler) Stop(osPid int) error {
	s.log.Warnf("preempt: SIGSTOP unsupported on this platform, proceeding logically (os_pid %d)", osPid)
	return nil
}

func (s *noopSignaler) Continue(osPid int) error {
	s.log.Warnf("preempt: SIGCONT unsupported on this platform, proceeding logically (os_pid %d)", osPid)
	return nil
}
