package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"jobgate/internal/eventbus"
	logx "jobgate/pkg/logx"
)

const skipWarnEvery = 10 * time.Second

// Config controls the Runner.
type Config struct {
	// CPUWorkers sizes the bounded pool used by CPUBound definitions.
	// The pool is only created if such a definition is registered.
	CPUWorkers int
}

// Runner owns the registered jobs and drives one tick through admission,
// dispatch and completion. It is safe for concurrent use; OnTick may be called
// from any number of tick-source goroutines at once.
type Runner struct {
	log logx.Logger
	bus eventbus.Bus
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	spawn *Executor
	pool  *Executor

	mu       sync.Mutex
	jobs     map[string]*jobState
	draining bool
	closed   bool

	omu       sync.Mutex
	observers []func(Report)

	wg sync.WaitGroup // tick goroutines

	// Throttles warn-level logging for skip storms; every skip still gets a
	// debug line and a Report.
	skipWarn *rate.Limiter
}

type jobState struct {
	def    Definition
	flight *SingleFlight
	gate   *Gate

	// disabled is set when a precondition violation poisons this job.
	disabled atomic.Bool

	running  atomic.Int64
	ticks    atomic.Uint64
	runs     atomic.Uint64
	skips    atomic.Uint64
	failures atomic.Uint64
	timeouts atomic.Uint64
}

// NewRunner creates a Runner. Its lifetime is bounded by parent; call Shutdown
// for a graceful stop.
func NewRunner(parent context.Context, cfg Config, log logx.Logger, bus eventbus.Bus) *Runner {
	if parent == nil {
		parent = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.CPUWorkers <= 0 {
		cfg.CPUWorkers = 2
	}
	ctx, cancel := context.WithCancel(parent)
	return &Runner{
		log:      log,
		bus:      bus,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		spawn:    NewSpawner(ctx, log),
		jobs:     map[string]*jobState{},
		skipWarn: rate.NewLimiter(rate.Every(skipWarnEvery), 1),
	}
}

// Register adds a job definition. Names are unique; registering the same name
// twice returns ErrDuplicateJob.
func (r *Runner) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStopped
	}
	if r.draining {
		return ErrStopping
	}
	if _, ok := r.jobs[def.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateJob, def.Name)
	}

	st := &jobState{def: def}
	switch def.Policy {
	case Exclusive:
		st.flight = &SingleFlight{}
	case BoundedParallel:
		st.gate = NewGate(def.Parallel, def.FairGate)
	}
	if def.CPUBound && r.pool == nil {
		r.pool = NewPool(r.ctx, r.cfg.CPUWorkers, r.log)
	}
	r.jobs[def.Name] = st

	r.log.Debug("job registered",
		logx.String("job", def.Name),
		logx.String("policy", def.Policy.String()),
		logx.Int("parallel", def.Parallel),
		logx.Duration("timeout", def.Timeout))
	return nil
}

// Deregister removes a job. Runs already in flight finish normally against
// the old definition's latch and gate; new ticks for the name fail with
// ErrUnknownJob.
func (r *Runner) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	delete(r.jobs, name)
	r.log.Debug("job deregistered", logx.String("job", name))
	return nil
}

// OnRunCompleted subscribes an observer to completion and skip reports.
// Observers run on the engine's goroutines and must be quick.
func (r *Runner) OnRunCompleted(fn func(Report)) {
	if fn == nil {
		return
	}
	r.omu.Lock()
	r.observers = append(r.observers, fn)
	r.omu.Unlock()
}

// OnTick drives one tick for the named job.
//
// The admission decision for Exclusive jobs and non-waiting gates is made
// synchronously, so a cron-style caller learns immediately whether the tick
// was dropped. A gate with GateWait > 0 parks off the caller's goroutine; its
// wait timeout surfaces as a Skipped Report, not through this return.
func (r *Runner) OnTick(ctx context.Context, name string) (TickStatus, error) {
	_ = ctx // admission is non-blocking here; reserved for future use

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return TickSkipped, ErrStopped
	}
	if r.draining {
		r.mu.Unlock()
		return TickSkipped, ErrStopping
	}
	st := r.jobs[name]
	r.mu.Unlock()

	if st == nil {
		return TickSkipped, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if st.disabled.Load() {
		return TickSkipped, fmt.Errorf("job %q disabled after precondition violation", name)
	}

	st.ticks.Add(1)
	now := time.Now()

	// Exclusive admission is a bare CAS; a tick that loses it is dropped, not
	// queued. Expected outcome, not a fault.
	if st.flight != nil && !st.flight.TryAcquire() {
		r.skip(st, now, SkipInFlight)
		return TickSkipped, nil
	}

	gateHeld := false
	if st.gate != nil && st.def.GateWait <= 0 {
		if !st.gate.TryAcquire() {
			r.skip(st, now, SkipGateFull)
			return TickSkipped, nil
		}
		gateHeld = true
	}

	r.wg.Add(1)
	go r.runTick(st, now, gateHeld)
	return TickDispatched, nil
}

// runTick carries a tick from admission to completion on its own goroutine.
func (r *Runner) runTick(st *jobState, started time.Time, gateHeld bool) {
	defer r.wg.Done()

	flightHeld := st.flight != nil

	// Admission resources go back on every exit path — gate permit first,
	// then the flight latch. Called before the completion report so that an
	// observer reacting to it finds the job admittable again.
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if gateHeld && st.gate != nil {
			if err := st.gate.Release(); err != nil {
				r.poison(st, err)
			}
		}
		if flightHeld {
			if err := st.flight.Release(); err != nil {
				r.poison(st, err)
			}
		}
	}
	// Backstop for panics in this orchestration itself.
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tick orchestration panicked",
				logx.String("job", st.def.Name),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
		release()
	}()

	// Bounded admission wait happens here, off the tick source's goroutine.
	// The goroutine parks on a channel; no OS thread is held.
	if st.gate != nil && !gateHeld {
		if !st.gate.AcquireWithin(r.ctx, st.def.GateWait) {
			r.skip(st, started, SkipGateWait)
			return
		}
		gateHeld = true
	}

	// Only an admitted tick consults the factory; skips never reach it.
	work := st.def.Work()

	exec := r.spawn
	if st.def.CPUBound && r.pool != nil {
		exec = r.pool
	}

	h, err := exec.Submit(st.def.Name, st.def.Timeout, work)
	if err != nil {
		// Executor gone: we are shutting down.
		release()
		r.finish(st, Report{
			Job:     st.def.Name,
			Outcome: OutcomeCancelled,
			Started: started,
			Dur:     time.Since(started),
			Err:     err,
		})
		return
	}

	r.publishDispatch(st, h.ID(), started)

	st.running.Add(1)
	runErr := h.Join(r.ctx)
	st.running.Add(-1)

	release()
	r.finish(st, Report{
		Job:     st.def.Name,
		RunID:   h.ID(),
		Outcome: classify(runErr),
		Started: started,
		Dur:     time.Since(started),
		Err:     runErr,
	})
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

func (r *Runner) skip(st *jobState, started time.Time, reason SkipReason) {
	r.finish(st, Report{
		Job:     st.def.Name,
		Outcome: OutcomeSkipped,
		Skip:    reason,
		Started: started,
	})
}

// finish records the outcome, logs it, and fans it out to the bus and the
// registered observers. Every tick that was not rejected outright ends here
// exactly once.
func (r *Runner) finish(st *jobState, rep Report) {
	switch rep.Outcome {
	case OutcomeSkipped:
		st.skips.Add(1)
		r.log.Debug("tick skipped",
			logx.String("job", rep.Job),
			logx.String("reason", string(rep.Skip)))
		// Gate-pressure skips are worth an occasional warn; overlap skips are
		// business as usual for Exclusive jobs.
		if (rep.Skip == SkipGateFull || rep.Skip == SkipGateWait) && r.skipWarn.Allow() {
			r.log.Warn("admission gate under pressure",
				logx.String("job", rep.Job),
				logx.String("reason", string(rep.Skip)),
				logx.Uint64("skips", st.skips.Load()))
		}
	case OutcomeSuccess:
		st.runs.Add(1)
		if rep.Dur >= 750*time.Millisecond {
			r.log.Info("run completed", logx.String("job", rep.Job), logx.String("run", rep.RunID), logx.Duration("dur", rep.Dur))
		} else {
			r.log.Debug("run completed", logx.String("job", rep.Job), logx.String("run", rep.RunID), logx.Duration("dur", rep.Dur))
		}
	case OutcomeError:
		st.runs.Add(1)
		st.failures.Add(1)
		r.log.Warn("run failed",
			logx.String("job", rep.Job),
			logx.String("run", rep.RunID),
			logx.Duration("dur", rep.Dur),
			logx.Err(rep.Err))
	case OutcomeTimeout:
		st.runs.Add(1)
		st.timeouts.Add(1)
		r.log.Warn("run timed out",
			logx.String("job", rep.Job),
			logx.String("run", rep.RunID),
			logx.Duration("dur", rep.Dur),
			logx.Duration("timeout", st.def.Timeout))
	case OutcomeCancelled:
		st.runs.Add(1)
		r.log.Debug("run cancelled", logx.String("job", rep.Job), logx.String("run", rep.RunID), logx.Duration("dur", rep.Dur))
	}

	if r.bus != nil {
		topic := eventbus.TopicRunCompleted
		if rep.Outcome == OutcomeSkipped {
			topic = eventbus.TopicRunSkipped
		}
		r.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: rep})
	}

	r.omu.Lock()
	obs := append(make([]func(Report), 0, len(r.observers)), r.observers...)
	r.omu.Unlock()
	for _, fn := range obs {
		r.notify(fn, rep)
	}
}

// notify shields the engine from observer panics.
func (r *Runner) notify(fn func(Report), rep Report) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("run observer panicked",
				logx.String("job", rep.Job),
				logx.Any("panic", rec))
		}
	}()
	fn(rep)
}

func (r *Runner) publishDispatch(st *jobState, runID string, started time.Time) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TopicRunDispatched,
		Time: time.Now(),
		Data: Report{Job: st.def.Name, RunID: runID, Started: started},
	})
}

// poison disables a job after a resource-accounting violation. This is a core
// bug, never a transient condition, so it is surfaced loudly instead of being
// folded into a normal outcome.
func (r *Runner) poison(st *jobState, err error) {
	st.disabled.Store(true)
	r.log.Error("job disabled: resource accounting violated",
		logx.String("job", st.def.Name),
		logx.Err(err))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TopicJobDisabled,
			Time: time.Now(),
			Data: Report{Job: st.def.Name, Err: err},
		})
	}
}

// Snapshot is a point-in-time diagnostic view.
type Snapshot struct {
	InFlight int
	Draining bool
	Jobs     []JobStatus
}

type JobStatus struct {
	Name      string
	Policy    string
	Parallel  int
	Running   int64
	GateInUse int
	Ticks     uint64
	Runs      uint64
	Skips     uint64
	Failures  uint64
	Timeouts  uint64
	Disabled  bool
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	states := make([]*jobState, 0, len(r.jobs))
	for _, st := range r.jobs {
		states = append(states, st)
	}
	draining := r.draining
	r.mu.Unlock()

	snap := Snapshot{
		InFlight: r.spawn.InFlight(),
		Draining: draining,
	}
	if r.pool != nil {
		snap.InFlight += r.pool.InFlight()
	}
	for _, st := range states {
		js := JobStatus{
			Name:     st.def.Name,
			Policy:   st.def.Policy.String(),
			Parallel: st.def.Parallel,
			Running:  st.running.Load(),
			Ticks:    st.ticks.Load(),
			Runs:     st.runs.Load(),
			Skips:    st.skips.Load(),
			Failures: st.failures.Load(),
			Timeouts: st.timeouts.Load(),
			Disabled: st.disabled.Load(),
		}
		if st.gate != nil {
			js.GateInUse = st.gate.InUse()
		}
		snap.Jobs = append(snap.Jobs, js)
	}
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].Name < snap.Jobs[j].Name })
	return snap
}

// Shutdown stops accepting ticks, waits up to drainTimeout for in-flight runs
// to finish, then cancels the stragglers and waits (bounded by ctx) for
// everything to settle. All gates and latches end up released.
func (r *Runner) Shutdown(ctx context.Context, drainTimeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.draining = true
	r.mu.Unlock()

	r.log.Info("runner draining", logx.Duration("drain_timeout", drainTimeout))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	if drainTimeout > 0 {
		timer := time.NewTimer(drainTimeout)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			r.log.Warn("drain timed out, cancelling in-flight runs")
		case <-ctx.Done():
			timer.Stop()
		}
	}

	// Cancel whatever is left and wait for the executors to settle.
	r.cancel()
	_ = r.spawn.Close(ctx)
	if r.pool != nil {
		_ = r.pool.Close(ctx)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.log.Info("runner stopped")
	return nil
}
