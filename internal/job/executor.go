package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jobgate/internal/runtime/supervisor"
	logx "jobgate/pkg/logx"
)

// Executor dispatches WorkUnits onto goroutines and hands back a Handle per
// submission.
//
// The default spawner starts one goroutine per run. Goroutines are cheap:
// thousands of outstanding blocking submissions are fine, and the executor
// deliberately imposes no ceiling of its own — admission control happens
// upstream in the Gate, and an executor that silently serialized work would
// defeat it.
//
// Compute-bound work is different: it occupies a CPU for its whole run, so it
// goes through NewPool, a fixed set of workers over a queue. Mixing CPU-bound
// bodies into the spawner starves everything sharing the carrier threads;
// Definition.CPUBound selects the pool explicitly.
type Executor struct {
	log logx.Logger
	sup *supervisor.Supervisor

	mu     sync.Mutex
	closed bool

	inFlight atomic.Int64

	// Pool mode; nil for the spawner.
	queue chan *Handle
}

// NewSpawner creates the goroutine-per-run executor.
func NewSpawner(ctx context.Context, log logx.Logger) *Executor {
	return &Executor{
		log: log,
		sup: supervisor.New(ctx, supervisor.WithLogger(log.With(logx.String("comp", "executor")))),
	}
}

// NewPool creates a bounded-worker executor for CPU-bound WorkUnits.
func NewPool(ctx context.Context, workers int, log logx.Logger) *Executor {
	if workers <= 0 {
		workers = 2
	}
	e := &Executor{
		log:   log,
		sup:   supervisor.New(ctx, supervisor.WithLogger(log.With(logx.String("comp", "cpupool")))),
		queue: make(chan *Handle, 4*workers),
	}
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		e.sup.GoRestart(name, func(c context.Context) error {
			e.worker(c)
			return c.Err()
		})
	}
	return e
}

func (e *Executor) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case h := <-e.queue:
			h.run(e.log)
			e.inFlight.Add(-1)
		}
	}
}

// Submit dispatches work and returns its Handle. The returned Handle is live
// immediately; Join blocks cooperatively until the unit finishes.
func (e *Executor) Submit(label string, timeout time.Duration, work WorkUnit) (*Handle, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrExecutorClosed
	}

	h := newHandle(e.sup.Context(), label, timeout, work)
	e.inFlight.Add(1)

	if e.queue != nil {
		select {
		case e.queue <- h:
			return h, nil
		case <-e.sup.Context().Done():
			e.inFlight.Add(-1)
			return nil, ErrExecutorClosed
		}
	}

	e.sup.Go0("run."+label, func(context.Context) {
		defer e.inFlight.Add(-1)
		h.run(e.log)
	})
	return h, nil
}

// InFlight reports submissions that have not completed yet.
func (e *Executor) InFlight() int { return int(e.inFlight.Load()) }

// Close stops accepting submissions, cancels outstanding run contexts and
// waits (bounded by ctx) for the goroutines to settle.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.sup.Cancel()
	return e.sup.Wait(ctx)
}

// Handle represents one in-flight run. It owns the run's cancellation and
// completion signal; once the run finishes nothing else holds it.
type Handle struct {
	id      string
	label   string
	work    WorkUnit
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	started atomic.Bool
	done    chan struct{}
	err     error // written once before done is closed
}

func newHandle(parent context.Context, label string, timeout time.Duration, work WorkUnit) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		id:      uuid.NewString(),
		label:   label,
		work:    work,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (h *Handle) ID() string    { return h.id }
func (h *Handle) Label() string { return h.label }

// Done is closed when the run completes (success, error, timeout or cancel).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel is best-effort: a unit that has not started will never start; a
// running unit sees context cancellation and must wind down on its own.
func (h *Handle) Cancel() { h.cancel() }

// Started reports whether the unit body actually began executing.
func (h *Handle) Started() bool { return h.started.Load() }

// Join blocks (cooperatively, on a channel) until the run completes or ctx is
// cancelled, and returns the run's outcome error. Deadline and cancellation
// outcomes surface as context.DeadlineExceeded / context.Canceled.
func (h *Handle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) run(log logx.Logger) {
	defer h.cancel()
	defer close(h.done)

	if h.ctx.Err() != nil {
		// Cancelled before start.
		h.err = h.ctx.Err()
		return
	}
	h.started.Store(true)

	runCtx := h.ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(h.ctx, h.timeout)
		defer cancel()
	}

	// Run the unit on its own goroutine so a deadline fires on time even when
	// the body ignores ctx. An abandoned body keeps running until it next
	// observes cancellation; it is never force-killed.
	res := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("work unit panicked",
					logx.String("run", h.label),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
				res <- fmt.Errorf("panic: %v", r)
			}
		}()
		res <- h.work(runCtx)
	}()

	select {
	case err := <-res:
		h.err = err
	case <-runCtx.Done():
		h.err = runCtx.Err()
	}
}
