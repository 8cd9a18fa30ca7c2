package cronfeed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobgate/internal/job"
	logx "jobgate/pkg/logx"
)

// Ticker is the engine-side contract the feed drives. The run engine's Runner
// satisfies it.
type Ticker interface {
	OnTick(ctx context.Context, name string) (job.TickStatus, error)
}

type Config struct {
	Enabled bool

	// Timezone for cron evaluation, e.g. "Europe/Berlin". Empty means local.
	Timezone string

	// StartupSpread caps the jitter added to the first firing of interval
	// schedules. 0 disables spreading.
	StartupSpread time.Duration
}

type entry struct {
	name string
	raw  string
	id   cron.EntryID
}

// Feed owns a cron instance and the schedule registrations on it.
type Feed struct {
	log    logx.Logger
	target Ticker
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	loc     *time.Location
	entries map[string]*entry
	ctx     context.Context
}

func New(cfg Config, target Ticker, log logx.Logger) *Feed {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feed{
		log:    log,
		target: target,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:     cfg,
		entries: map[string]*entry{},
	}
}

// Add registers a schedule for the named job. May be called before or after
// Start; on a running feed the entry becomes live immediately.
func (f *Feed) Add(name, schedule string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("job name required")
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.entries[name]; dup {
		return fmt.Errorf("job %q: schedule already registered", name)
	}
	e := &entry{name: name, raw: schedule}
	f.entries[name] = e
	if f.c != nil {
		return f.scheduleLocked(e)
	}
	return nil
}

// Remove drops the schedule for the named job. Unknown names are a no-op.
func (f *Feed) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[name]
	if !ok {
		return
	}
	delete(f.entries, name)
	if f.c != nil && e.id != 0 {
		f.c.Remove(e.id)
	}
}

// Names lists the registered schedules, sorted.
func (f *Feed) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for name := range f.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start brings the cron instance up. ctx bounds tick delivery: after it ends,
// ticks stop reaching the target.
func (f *Feed) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.c != nil {
		return nil
	}
	if !f.cfg.Enabled {
		f.log.Info("cron feed disabled")
		return nil
	}

	loc, err := f.loadLocation()
	if err != nil {
		return err
	}
	f.loc = loc
	f.ctx = ctx
	f.c = cron.New(cron.WithParser(f.parser), cron.WithLocation(loc))

	for _, e := range f.entries {
		if err := f.scheduleLocked(e); err != nil {
			f.c = nil
			return err
		}
	}
	f.c.Start()
	f.log.Info("cron feed started",
		logx.String("tz", loc.String()),
		logx.Int("schedules", len(f.entries)))
	return nil
}

// Stop halts triggering and waits (bounded by ctx) for entries that are
// mid-delivery.
func (f *Feed) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	f.mu.Lock()
	c := f.c
	f.c = nil
	for _, e := range f.entries {
		e.id = 0
	}
	f.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	f.log.Info("cron feed stopped")
}

// Apply updates the config. A timezone change restarts the cron instance and
// re-registers every entry.
func (f *Feed) Apply(cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldTZ := strings.TrimSpace(f.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	f.cfg = cfg

	if f.c == nil || oldTZ == newTZ {
		return nil
	}
	return f.restartLocked()
}

func (f *Feed) restartLocked() error {
	f.c.Stop()
	loc, err := f.loadLocation()
	if err != nil {
		return err
	}
	f.loc = loc
	f.c = cron.New(cron.WithParser(f.parser), cron.WithLocation(loc))
	for _, e := range f.entries {
		e.id = 0
		if err := f.scheduleLocked(e); err != nil {
			return err
		}
	}
	f.c.Start()
	f.log.Info("cron feed restarted", logx.String("tz", loc.String()))
	return nil
}

func (f *Feed) loadLocation() (*time.Location, error) {
	tz := strings.TrimSpace(f.cfg.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (f *Feed) scheduleLocked(e *entry) error {
	spec, err := ParseSchedule(e.raw)
	if err != nil {
		return fmt.Errorf("job %q: %w", e.name, err)
	}

	var sched cron.Schedule
	switch spec.Kind {
	case SpecCron:
		sched, err = f.parser.Parse(spec.Cron)
		if err != nil {
			return fmt.Errorf("job %q: cron %q: %w", e.name, spec.Cron, err)
		}
	case SpecInterval:
		var jitter time.Duration
		sched, jitter = spreadInterval(spec.Every, f.cfg.StartupSpread, time.Now().In(f.loc), e.name)
		if jitter > 0 {
			f.log.Debug("interval spread applied",
				logx.String("job", e.name),
				logx.Duration("every", spec.Every),
				logx.Duration("jitter", jitter))
		}
	}

	name := e.name
	e.id = f.c.Schedule(sched, cron.FuncJob(func() { f.deliver(name) }))
	return nil
}

// deliver hands one tick to the engine. The engine answers immediately; a
// busy job is a skip, never backpressure on the cron goroutine.
func (f *Feed) deliver(name string) {
	f.mu.Lock()
	ctx := f.ctx
	f.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	status, err := f.target.OnTick(ctx, name)
	switch {
	case err == nil:
		f.log.Trace("tick delivered",
			logx.String("job", name),
			logx.String("status", status.String()))
	case errors.Is(err, job.ErrStopping), errors.Is(err, job.ErrStopped):
		f.log.Debug("tick rejected: engine stopping", logx.String("job", name))
	default:
		f.log.Warn("tick rejected", logx.String("job", name), logx.Err(err))
	}
}
