package job

import (
	"sync/atomic"
)

// SingleFlight is a binary in-flight latch: at most one holder at any instant.
// TryAcquire/Release sit on the hot path of every tick, so the latch is a bare
// compare-and-swap rather than a mutex.
//
// The zero value is a free latch.
type SingleFlight struct {
	held atomic.Bool
}

// TryAcquire transitions free -> held. It never blocks. Exactly one of any
// number of concurrent callers observes true.
func (f *SingleFlight) TryAcquire() bool {
	return f.held.CompareAndSwap(false, true)
}

// Release transitions held -> free. Releasing a latch that is not held is a
// programming error and returns a PreconditionError; the latch itself stays
// consistent for subsequent callers either way.
func (f *SingleFlight) Release() error {
	if !f.held.CompareAndSwap(true, false) {
		return &PreconditionError{Op: "singleflight.release"}
	}
	return nil
}

// Held reports the current state. Diagnostic only; the answer may be stale by
// the time the caller looks at it.
func (f *SingleFlight) Held() bool {
	return f.held.Load()
}
