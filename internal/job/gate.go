package job

import (
	"context"
	"sync"
	"time"
)

// Gate bounds how many runs of one job may be in flight at once.
//
// The default unordered mode is a pre-filled token channel, so the happy path
// is a single channel op with no mutex. The fair mode hands permits to parked
// waiters in FIFO order, for jobs that need starvation freedom at the cost of
// a little latency.
type Gate struct {
	capacity int

	// Unordered mode. nil when fair.
	tokens chan struct{}

	// Fair mode.
	mu      sync.Mutex
	free    int
	waiters []chan struct{}
}

// NewGate creates a gate with the given permit capacity (clamped to >= 1).
func NewGate(capacity int, fair bool) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	g := &Gate{capacity: capacity}
	if fair {
		g.free = capacity
		return g
	}
	g.tokens = make(chan struct{}, capacity)
	for i := 0; i < capacity; i++ {
		g.tokens <- struct{}{}
	}
	return g
}

func (g *Gate) Capacity() int { return g.capacity }

// InUse reports roughly how many permits are currently out. Diagnostic only.
func (g *Gate) InUse() int {
	if g.tokens != nil {
		return g.capacity - len(g.tokens)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity - g.free
}

// TryAcquire takes a permit iff one is immediately available.
func (g *Gate) TryAcquire() bool {
	if g.tokens != nil {
		select {
		case <-g.tokens:
			return true
		default:
			return false
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	// Fair mode: do not jump the queue while waiters are parked.
	if g.free > 0 && len(g.waiters) == 0 {
		g.free--
		return true
	}
	return false
}

// AcquireWithin suspends the calling goroutine until a permit frees up, d
// elapses, or ctx is cancelled. A false return signals backpressure, not an
// error; the caller decides to skip or reschedule.
func (g *Gate) AcquireWithin(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return g.TryAcquire()
	}
	if g.tokens != nil {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-g.tokens:
			return true
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}

	// Fair mode: park in FIFO order.
	g.mu.Lock()
	if g.free > 0 && len(g.waiters) == 0 {
		g.free--
		g.mu.Unlock()
		return true
	}
	w := make(chan struct{}, 1)
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or cancelled. If we are still queued, unlink and give up.
	g.mu.Lock()
	for i, cand := range g.waiters {
		if cand == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.mu.Unlock()
			return false
		}
	}
	g.mu.Unlock()

	// A concurrent Release already unlinked us and the permit is (or is about
	// to be) in the channel. We gave up, so pass it on rather than keeping it.
	<-w
	g.handBack()
	return false
}

// Release returns a permit. Releasing more than was acquired is a programming
// error and yields a PreconditionError; gate state stays usable.
func (g *Gate) Release() error {
	if g.tokens != nil {
		select {
		case g.tokens <- struct{}{}:
			return nil
		default:
			// Channel already full: more releases than acquisitions.
			return &PreconditionError{Op: "gate.release"}
		}
	}
	g.mu.Lock()
	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		w <- struct{}{}
		return nil
	}
	if g.free >= g.capacity {
		g.mu.Unlock()
		return &PreconditionError{Op: "gate.release"}
	}
	g.free++
	g.mu.Unlock()
	return nil
}

// handBack is Release without over-release accounting, for the narrow case
// where a timed-out waiter received a permit it no longer wants.
func (g *Gate) handBack() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		w <- struct{}{}
		return
	}
	if g.free < g.capacity {
		g.free++
	}
	g.mu.Unlock()
}
