//go:build !unix

package process

import "github.com/ehrlich-b/microkernel/internal/logging"

// NewOSLimitEnforcer returns the no-op LimitEnforcer on non-Unix hosts.
func NewOSLimitEnforcer(log *logging.Logger) LimitEnforcer {
	return NoopLimitEnforcer{}
}
