package app

import (
	"fmt"
	"strings"
	"time"

	"tickrun/internal/config"
	"tickrun/internal/diag"
	"tickrun/internal/sched"
	"tickrun/internal/trace"
	"tickrun/tasks/blink"
	"tickrun/tasks/calendar"
	"tickrun/tasks/heartbeat"
	"tickrun/tasks/serial"
)

// loopSettings are read once at startup; the dispatch loop has no apply
// path, so changing them requires a restart.
type loopSettings struct {
	WarnAfter time.Duration
	TraceRate int
}

func mapLoopSettings(cfg *config.Config) (loopSettings, error) {
	warnAfter, err := config.ParseDurationOrDefault("loop.warn_after", cfg.Loop.WarnAfter, 20*time.Millisecond)
	if err != nil {
		return loopSettings{}, err
	}
	rate := cfg.Loop.TraceRate
	if rate < 0 {
		return loopSettings{}, fmt.Errorf("loop.trace_rate must be >= 0")
	}
	if rate == 0 {
		rate = 200
	}
	return loopSettings{WarnAfter: warnAfter, TraceRate: rate}, nil
}

func mapWatchdogConfig(cfg *config.Config) (enabled bool, override time.Duration, err error) {
	wc := cfg.Tasks.Watchdog
	override, err = config.ParseDurationField("tasks.watchdog.interval", wc.Interval)
	if err != nil {
		return false, 0, err
	}
	return wc.Enabled, override, nil
}

type serialSettings struct {
	Enabled   bool
	Source    string
	SimPeriod time.Duration
	Buffer    int
	Task      serial.Config
}

func mapSerialConfig(cfg *config.Config) (serialSettings, error) {
	sc := cfg.Tasks.Serial
	out := serialSettings{Enabled: sc.Enabled}

	out.Source = strings.ToLower(strings.TrimSpace(sc.Source))
	if out.Source == "" {
		out.Source = "sim"
	}
	switch out.Source {
	case "sim", "stdin":
	default:
		return serialSettings{}, fmt.Errorf("tasks.serial.source: unknown %q (want sim or stdin)", sc.Source)
	}

	simPeriod, err := config.ParseDurationOrDefault("tasks.serial.sim_period", sc.SimPeriod, 750*time.Millisecond)
	if err != nil {
		return serialSettings{}, err
	}
	out.SimPeriod = simPeriod

	if sc.Buffer < 0 {
		return serialSettings{}, fmt.Errorf("tasks.serial.buffer must be >= 0")
	}
	out.Buffer = sc.Buffer
	if out.Buffer == 0 {
		out.Buffer = 256
	}

	if sc.MaxPerRun < 0 {
		return serialSettings{}, fmt.Errorf("tasks.serial.max_per_run must be >= 0")
	}
	out.Task = serial.Config{MaxPerRun: sc.MaxPerRun}
	return out, nil
}

func mapCalendarConfig(cfg *config.Config) (calendar.Config, error) {
	cc := cfg.Tasks.Calendar
	poll, err := config.ParseDurationOrDefault("tasks.calendar.poll", cc.Poll, 250*time.Millisecond)
	if err != nil {
		return calendar.Config{}, err
	}
	out := calendar.Config{Poll: sched.Ticks(poll)}
	for _, e := range cc.Entries {
		entry, err := calendar.ParseEntry(e.Name, e.Spec, e.Note)
		if err != nil {
			return calendar.Config{}, fmt.Errorf("tasks.calendar.entries: %w", err)
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

func mapBlinkConfig(cfg *config.Config) (blink.Config, error) {
	period, err := config.ParseDurationField("tasks.blink.period", cfg.Tasks.Blink.Period)
	if err != nil {
		return blink.Config{}, err
	}
	return blink.Config{Period: sched.Ticks(period)}, nil
}

func mapHeartbeatConfig(cfg *config.Config) (heartbeat.Config, error) {
	period, err := config.ParseDurationField("tasks.heartbeat.period", cfg.Tasks.Heartbeat.Period)
	if err != nil {
		return heartbeat.Config{}, err
	}
	return heartbeat.Config{Period: sched.Ticks(period)}, nil
}

func mapTraceConfig(cfg *config.Config) (trace.Config, trace.RecorderOptions, error) {
	if cfg.Trace == nil {
		return trace.Config{}, trace.RecorderOptions{}, nil
	}
	tc := cfg.Trace

	driver := strings.ToLower(strings.TrimSpace(tc.Driver))
	switch driver {
	case "", "none", "sqlite", "sqlite3":
	default:
		return trace.Config{}, trace.RecorderOptions{}, fmt.Errorf("trace.driver: unknown %q (want none or sqlite)", tc.Driver)
	}
	if (driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(tc.Path) == "" {
		return trace.Config{}, trace.RecorderOptions{}, fmt.Errorf("trace.path is required for driver %q", driver)
	}

	if tc.Buffer < 0 {
		return trace.Config{}, trace.RecorderOptions{}, fmt.Errorf("trace.buffer must be >= 0")
	}
	flush, err := config.ParseDurationField("trace.flush", tc.Flush)
	if err != nil {
		return trace.Config{}, trace.RecorderOptions{}, err
	}
	busy, err := config.ParseDurationField("trace.busy_timeout", tc.BusyTimeout)
	if err != nil {
		return trace.Config{}, trace.RecorderOptions{}, err
	}

	return trace.Config{
			Driver:      driver,
			Path:        tc.Path,
			BusyTimeout: busy,
		}, trace.RecorderOptions{
			Buffer: tc.Buffer,
			Flush:  flush,
		}, nil
}

func mapDiagConfig(cfg *config.Config) (diag.Config, error) {
	if cfg.Diag == nil {
		return diag.Config{}, nil
	}
	dc := cfg.Diag

	read, err := config.ParseDurationField("diag.read_timeout", dc.ReadTimeout)
	if err != nil {
		return diag.Config{}, err
	}
	write, err := config.ParseDurationField("diag.write_timeout", dc.WriteTimeout)
	if err != nil {
		return diag.Config{}, err
	}
	idle, err := config.ParseDurationField("diag.idle_timeout", dc.IdleTimeout)
	if err != nil {
		return diag.Config{}, err
	}

	return diag.Config{
		Enabled:       dc.Enabled,
		Addr:          dc.Addr,
		Token:         dc.Token,
		AllowInsecure: dc.AllowInsecure,
		Pprof:         dc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
