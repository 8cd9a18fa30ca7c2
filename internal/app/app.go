package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobgate/internal/config"
	"jobgate/internal/cronfeed"
	"jobgate/internal/eventbus"
	"jobgate/internal/job"
	"jobgate/internal/runlog"
	"jobgate/internal/runtime/supervisor"
	logx "jobgate/pkg/logx"
	"jobgate/pkg/sdnotify"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store runlog.Store

	runner *job.Runner
	feed   *cronfeed.Feed

	drain time.Duration
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	drain, err := config.ParseDurationOrDefault("engine.drain_timeout", cfg.Engine.DrainTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}

	// Run history (optional)
	var store runlog.Store
	if cfg.RunLog != nil {
		busyTimeout, err := config.ParseDurationField("run_log.busy_timeout", cfg.RunLog.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := runlog.Open(runlog.Config{
			Driver:      cfg.RunLog.Driver,
			Path:        cfg.RunLog.Path,
			BusyTimeout: busyTimeout,
		}, log.With(logx.String("comp", "runlog")))
		if err != nil {
			return nil, err
		}
		if st != nil {
			store = st
			log.Info("run log enabled", logx.String("driver", cfg.RunLog.Driver))
		}
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		drain:   drain,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Runner exposes the engine for diagnostics (snapshot dumps and tests).
func (a *App) Runner() *job.Runner { return a.runner }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.runner = job.NewRunner(a.sup.Context(), job.Config{
		CPUWorkers: cfg.Engine.CPUWorkers,
	}, a.log.With(logx.String("comp", "engine")), a.bus)

	spread, err := config.ParseDurationField("scheduler.startup_spread", cfg.Scheduler.StartupSpread)
	if err != nil {
		return err
	}
	a.feed = cronfeed.New(cronfeed.Config{
		Enabled:       cfg.Scheduler.Enabled,
		Timezone:      cfg.Scheduler.Timezone,
		StartupSpread: spread,
	}, a.runner, a.log.With(logx.String("comp", "cron")))

	for _, jc := range cfg.Jobs {
		if !jc.IsEnabled() {
			a.log.Debug("job disabled in config", logx.String("job", jc.Name))
			continue
		}
		if err := a.installJob(jc); err != nil {
			return err
		}
	}

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		for _, jc := range cfg.Jobs {
			if _, err := cronfeed.ParseSchedule(jc.Schedule); err != nil {
				return err
			}
			if _, err := definitionFromConfig(jc, logx.Nop()); err != nil {
				return err
			}
		}
		return nil
	})

	if a.store != nil {
		a.sup.Go0("runlog.pump", func(c context.Context) {
			runlog.Pump(c, a.bus, a.store, a.log.With(logx.String("comp", "runlog")))
		})
	}

	// Debug-level event tap; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.feed.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("sd.watchdog", func(c context.Context) {
		sdnotify.WatchdogLoop(c)
	})
	sdnotify.Ready()
	sdnotify.Status("running")

	a.log.Info("app started", logx.Int("jobs", len(a.feed.Names())))
	return nil
}

func (a *App) installJob(jc config.JobConfig) error {
	def, err := definitionFromConfig(jc, a.log.With(logx.String("comp", "work")))
	if err != nil {
		return err
	}
	if err := a.runner.Register(def); err != nil {
		return err
	}
	if err := a.feed.Add(jc.Name, jc.Schedule); err != nil {
		_ = a.runner.Deregister(jc.Name)
		return err
	}
	a.log.Info("job installed",
		logx.String("job", jc.Name),
		logx.String("schedule", jc.Schedule),
		logx.String("policy", def.Policy.String()))
	return nil
}

// applyReload pushes a validated config into the running components.
func (a *App) applyReload(oldCfg, newCfg *config.Config) {
	sections, attrs, changedJobs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	spread, err := config.ParseDurationField("scheduler.startup_spread", newCfg.Scheduler.StartupSpread)
	if err == nil {
		if err := a.feed.Apply(cronfeed.Config{
			Enabled:       newCfg.Scheduler.Enabled,
			Timezone:      newCfg.Scheduler.Timezone,
			StartupSpread: spread,
		}); err != nil {
			a.log.Warn("scheduler config apply failed; keeping previous", logx.Err(err))
		}
	}

	// Swap changed jobs: drop the old registration, install the new one.
	current := map[string]config.JobConfig{}
	for _, jc := range newCfg.Jobs {
		current[jc.Name] = jc
	}
	for _, name := range changedJobs {
		a.feed.Remove(name)
		_ = a.runner.Deregister(name)
		jc, ok := current[name]
		if !ok || !jc.IsEnabled() {
			a.log.Info("job removed", logx.String("job", name))
			continue
		}
		if err := a.installJob(jc); err != nil {
			a.log.Warn("job reinstall failed", logx.String("job", name), logx.Err(err))
		}
	}

	for _, s := range sections {
		if s == "engine" || s == "run_log" {
			a.log.Warn("engine/run_log config changed; restart required for changes to take effect")
			break
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	start := time.Now()
	a.log.Info("stopping", logx.Duration("drain", a.drain))
	sdnotify.Stopping()

	// Triggers first: no new ticks while the engine drains.
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	a.feed.Stop(stopCtx)
	cancel()

	if a.runner != nil {
		if err := a.runner.Shutdown(ctx, a.drain); err != nil {
			a.log.Warn("engine shutdown incomplete", logx.Err(err))
		}
	}

	a.sup.Cancel()
	if err := a.sup.Wait(ctx); err != nil {
		a.log.Warn("background goroutines did not settle", logx.Err(err))
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("run log close failed", logx.Err(err))
		}
	}

	a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	_ = a.logs.Close()
	return nil
}
