package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tickrun/internal/config"
	"tickrun/internal/diag"
	"tickrun/internal/eventbus"
	"tickrun/internal/isr"
	"tickrun/internal/runtime/supervisor"
	"tickrun/internal/sched"
	"tickrun/internal/trace"
	"tickrun/pkg/logx"
	"tickrun/pkg/sdnotify"
	"tickrun/tasks/blink"
	"tickrun/tasks/calendar"
	"tickrun/tasks/heartbeat"
	"tickrun/tasks/serial"
	"tickrun/tasks/watchdog"
)

// App owns the whole runtime: config, logging, the dispatch loop and its
// task slots, the trace recorder, and the diag server. The task SET is
// fixed here at build time; hot reload only re-parameterizes.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	clock *sched.WallClock
	sched *sched.Scheduler
	slots []sched.Task

	store    trace.Store
	recorder *trace.Recorder
	diag     *diag.Server

	// serial feeder wiring (set when the serial task is enabled)
	rx        *isr.Ring
	serialSrc string
	simPeriod time.Duration

	// task handles for hot reload; nil when the task is not built
	watchdog  *watchdog.Task
	serial    *serial.Task
	calendar  *calendar.Task
	blink     *blink.Task
	pin       *blink.SimPin
	heartbeat *heartbeat.Task
}

// ValidateConfig runs every section mapping, so a config that loads
// is one the app can actually start with. The CLI validate command and
// the hot-reload validator both use it.
func ValidateConfig(cfg *config.Config) error {
	if _, err := mapLoopSettings(cfg); err != nil {
		return err
	}
	if _, _, err := mapWatchdogConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSerialConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCalendarConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBlinkConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHeartbeatConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTraceConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDiagConfig(cfg); err != nil {
		return err
	}
	return nil
}

// NewApp builds but does not start the runtime. An empty cfgPath runs on
// defaults with no file watching.
func NewApp(cfgPath string) (*App, error) {
	var (
		cfgm *config.Manager
		cfg  *config.Config
	)
	if strings.TrimSpace(cfgPath) == "" {
		cfg = config.Default()
	} else {
		cfgm = config.NewManager(cfgPath)
		loaded, err := cfgm.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := ValidateConfig(cfg); err != nil {
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

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		clock:   sched.NewWallClock(),
	}

	if err := a.buildTasks(cfg); err != nil {
		return nil, err
	}

	loop, err := mapLoopSettings(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = sched.New(a.clock, a.slots,
		sched.WithLogger(log.With(logx.String("comp", "sched"))),
		sched.WithBus(a.bus),
		sched.WithWarnAfter(loop.WarnAfter),
		sched.WithTraceRate(loop.TraceRate),
	)

	tCfg, tOpts, err := mapTraceConfig(cfg)
	if err != nil {
		return nil, err
	}
	traceLog := log.With(logx.String("comp", "trace"))
	store, err := trace.Open(tCfg, traceLog)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.recorder = trace.NewRecorder(a.bus, store, taskNames(a.slots), tOpts, traceLog)

	dCfg, err := mapDiagConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.diag = diag.New(dCfg, diag.Sources{
		Scheduler: a.sched.Snapshot,
		Bus:       a.bus.Stats,
		Supervisor: func() supervisor.SupervisorSnapshot {
			if a.sup == nil {
				return supervisor.SupervisorSnapshot{}
			}
			return a.sup.Snapshot()
		},
		Trace:  a.recorder.Stats,
		Recent: a.recorder.Recent,
		Config: func() config.Config {
			if a.cfgm != nil {
				if cur := a.cfgm.Get(); cur != nil {
					return *cur
				}
			}
			return *cfg
		},
	}, log.With(logx.String("comp", "diag")))

	return a, nil
}

// buildTasks assembles the slot list. Slot order IS priority: watchdog
// outranks everything, heartbeat yields to everything.
func (a *App) buildTasks(cfg *config.Config) error {
	start := a.clock.Now()

	wdEnabled, wdOverride, err := mapWatchdogConfig(cfg)
	if err != nil {
		return err
	}
	if wdEnabled {
		interval := wdOverride
		if interval == 0 {
			detected, derr := sdnotify.WatchdogInterval()
			if derr != nil {
				a.log.Warn("watchdog detection failed", logx.Err(derr))
			}
			interval = detected
		}
		if interval > 0 {
			a.watchdog = watchdog.New(interval, nil, start, a.log.With(logx.String("task", "watchdog")))
			a.slots = append(a.slots, a.watchdog)
			a.log.Info("watchdog armed", logx.Duration("interval", interval))
		} else {
			a.log.Debug("watchdog not armed, task skipped")
		}
	}

	ss, err := mapSerialConfig(cfg)
	if err != nil {
		return err
	}
	if ss.Enabled {
		a.rx = isr.NewRing(ss.Buffer)
		a.serialSrc = ss.Source
		a.simPeriod = ss.SimPeriod
		a.serial = serial.New(a.rx, ss.Task, a.bus, a.log.With(logx.String("task", "serial")))
		a.slots = append(a.slots, a.serial)
	}

	cc, err := mapCalendarConfig(cfg)
	if err != nil {
		return err
	}
	if cfg.Tasks.Calendar.Enabled {
		a.calendar = calendar.New(cc, start, a.bus, a.log.With(logx.String("task", "calendar")))
		a.slots = append(a.slots, a.calendar)
	}

	bc, err := mapBlinkConfig(cfg)
	if err != nil {
		return err
	}
	if cfg.Tasks.Blink.Enabled {
		a.pin = &blink.SimPin{}
		a.blink = blink.New(a.pin, bc, start, a.log.With(logx.String("task", "blink")))
		a.slots = append(a.slots, a.blink)
	}

	hc, err := mapHeartbeatConfig(cfg)
	if err != nil {
		return err
	}
	if cfg.Tasks.Heartbeat.Enabled {
		a.heartbeat = heartbeat.New(a, a.bus, hc, start, a.log.With(logx.String("task", "heartbeat")))
		a.slots = append(a.slots, a.heartbeat)
	}

	if len(a.slots) == 0 {
		return errors.New("no tasks enabled; nothing to schedule")
	}
	return nil
}

// Snapshot feeds the heartbeat task's view of the dispatch loop.
func (a *App) Snapshot() sched.Snapshot {
	if a.sched == nil {
		return sched.Snapshot{}
	}
	return a.sched.Snapshot()
}

// Done is closed when the app context is canceled (fatal error or Stop).
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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return ValidateConfig(cfg)
		})
	}

	a.sup.Go("sched.loop", a.sched.Run)
	a.sup.Go("trace.recorder", a.recorder.Run)

	if a.serial != nil {
		rx, ovr := a.rx, a.serial.Overruns()
		switch a.serialSrc {
		case "stdin":
			feedLog := a.log.With(logx.String("comp", "serial.feed"))
			a.sup.Go("serial.feed", func(c context.Context) error {
				return serial.Feed(c, os.Stdin, rx, ovr, feedLog)
			})
		default:
			period := a.simPeriod
			simLog := a.log.With(logx.String("comp", "serial.sim"))
			a.sup.Go("serial.sim", func(c context.Context) error {
				return serial.Simulate(c, rx, ovr, period, simLog)
			})
		}
	}

	if err := a.diag.Start(a.sup.Context()); err != nil {
		// Diag is observability; a bad bind must not kill the loop.
		a.log.Error("diag start failed", logx.Err(err))
	}

	// Debug visibility into bus traffic; components subscribe themselves.
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
				if !a.log.Enabled(logx.LevelDebug) {
					continue
				}
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	if ok, err := sdnotify.Notify(sdnotify.Ready); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready")
	}

	a.log.Info("app started",
		logx.Int("tasks", len(a.slots)),
		logx.String("order", strings.Join(taskNames(a.slots), ",")),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
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
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	for _, s := range sections {
		if s == "loop" || s == "trace" {
			a.log.Warn("section change requires a restart to take effect", logx.String("section", s))
		}
	}
	if enabledChanged(oldCfg, newCfg) {
		a.log.Warn("task enable flags changed; the task set is fixed until restart")
	}

	if a.serial != nil {
		if ss, err := mapSerialConfig(newCfg); err != nil {
			a.log.Warn("invalid serial config; keeping previous", logx.Err(err))
		} else {
			a.serial.Update(ss.Task)
			if old, oerr := mapSerialConfig(oldCfg); oerr == nil &&
				(ss.Source != old.Source || ss.SimPeriod != old.SimPeriod || ss.Buffer != old.Buffer) {
				a.log.Warn("serial feeder settings changed; restart required")
			}
		}
	}
	if a.calendar != nil {
		if cc, err := mapCalendarConfig(newCfg); err != nil {
			a.log.Warn("invalid calendar config; keeping previous", logx.Err(err))
		} else {
			a.calendar.Update(cc)
		}
	}
	if a.blink != nil {
		if bc, err := mapBlinkConfig(newCfg); err != nil {
			a.log.Warn("invalid blink config; keeping previous", logx.Err(err))
		} else {
			a.blink.Update(bc)
		}
	}
	if a.heartbeat != nil {
		if hc, err := mapHeartbeatConfig(newCfg); err != nil {
			a.log.Warn("invalid heartbeat config; keeping previous", logx.Err(err))
		} else {
			a.heartbeat.Update(hc)
		}
	}
	if a.watchdog != nil && oldCfg.Tasks.Watchdog.Interval != newCfg.Tasks.Watchdog.Interval {
		a.log.Warn("watchdog interval changed; restart required")
	}

	if dc, err := mapDiagConfig(newCfg); err != nil {
		a.log.Warn("invalid diag config; keeping previous", logx.Err(err))
	} else {
		a.diag.Reconfigure(ctx, dc)
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = sdnotify.Notify(sdnotify.Stopping)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	// The recorder drains its pending batch inside Run when the context
	// ends; Wait covers the dispatch loop, feeder, and watcher too.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("trace.store", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func taskNames(slots []sched.Task) []string {
	names := make([]string, len(slots))
	for i, t := range slots {
		if n, ok := t.(sched.Namer); ok {
			names[i] = n.Name()
		} else {
			names[i] = fmt.Sprintf("slot%02d", i)
		}
	}
	return names
}

func enabledChanged(oldCfg, newCfg *config.Config) bool {
	return oldCfg.Tasks.Watchdog.Enabled != newCfg.Tasks.Watchdog.Enabled ||
		oldCfg.Tasks.Serial.Enabled != newCfg.Tasks.Serial.Enabled ||
		oldCfg.Tasks.Calendar.Enabled != newCfg.Tasks.Calendar.Enabled ||
		oldCfg.Tasks.Blink.Enabled != newCfg.Tasks.Blink.Enabled ||
		oldCfg.Tasks.Heartbeat.Enabled != newCfg.Tasks.Heartbeat.Enabled
}
