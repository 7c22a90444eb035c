package primitives

import "sync/atomic"

var spinSink uint64

// spinPause gives the CPU a brief pause hint. Go exposes no portable
// PAUSE/YIELD instruction without assembly, so this spends one atomic
// add on a throwaway counter instead of calling runtime.Gosched,
// which would already count as the second spin phase.
func spinPause() {
	atomic.AddUint64(&spinSink, 1)
}
