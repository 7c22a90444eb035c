package primitives

import "sync/atomic"

func loadSeq(seq *uint64) uint64 {
	return atomic.LoadUint64(seq)
}

func bumpSeq(seq *uint64) {
	atomic.AddUint64(seq, 1)
}
