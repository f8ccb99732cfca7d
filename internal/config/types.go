package config

// Config is the whole on-disk configuration. YAML and JSON are both
// accepted; either way the strict decoder rejects unknown keys so typos
// surface at load time instead of silently doing nothing.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Loop tunes the dispatch loop itself. The loop reads these once at
	// startup; changing them requires a restart.
	Loop LoopConfig `json:"loop"`

	Tasks TasksConfig `json:"tasks"`

	// Trace controls the optional dispatch journal.
	Trace *TraceConfig `json:"trace,omitempty"`

	// Diag controls the optional diagnostics HTTP server.
	Diag *DiagConfig `json:"diag,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoopConfig tunes the dispatch loop.
//
// Defaults (when fields are omitted/zero):
//   - warn_after: "20ms"
//   - trace_rate: 200
type LoopConfig struct {
	// WarnAfter is the per-dispatch latency budget as a Go duration string
	// (e.g. "20ms"). A task run that takes at least this long logs a
	// rate-limited warning.
	WarnAfter string `json:"warn_after,omitempty"`

	// TraceRate caps dispatch events published to the bus per second.
	// Fault events are never sampled.
	TraceRate int `json:"trace_rate,omitempty"`
}

type TasksConfig struct {
	Watchdog  WatchdogConfig  `json:"watchdog"`
	Serial    SerialConfig    `json:"serial"`
	Calendar  CalendarConfig  `json:"calendar"`
	Blink     BlinkConfig     `json:"blink"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

// WatchdogConfig controls the systemd watchdog kicker. When the process
// runs under a unit with WatchdogSec, the kick interval comes from the
// environment; interval is only an override for bench runs without
// systemd.
type WatchdogConfig struct {
	Enabled bool `json:"enabled"`
	// Interval is a Go duration string (e.g. "30s").
	Interval string `json:"interval,omitempty"`
}

// SerialConfig controls the RX line assembler and its feeder goroutine.
//
// source selects who produces bytes: "sim" runs an internal line
// generator, "stdin" consumes the process's standard input.
type SerialConfig struct {
	Enabled bool   `json:"enabled"`
	Source  string `json:"source,omitempty"`

	// SimPeriod is the sim generator's line period (Go duration string).
	SimPeriod string `json:"sim_period,omitempty"`

	// Buffer is the RX ring capacity in bytes (rounded up to a power of
	// two). Bytes arriving on a full ring are dropped and counted.
	Buffer int `json:"buffer,omitempty"`

	// MaxPerRun bounds how many bytes one dispatch drains, so a byte
	// flood cannot starve lower slots.
	MaxPerRun int `json:"max_per_run,omitempty"`
}

// CalendarConfig controls the cron agenda task.
type CalendarConfig struct {
	Enabled bool `json:"enabled"`
	// Poll is the agenda check period (Go duration string).
	Poll    string          `json:"poll,omitempty"`
	Entries []CalendarEntry `json:"entries,omitempty"`
}

// CalendarEntry is one named cron line. Spec accepts five-field cron
// (minute granularity), six-field with seconds, and descriptors like
// "@every 10s" or "@hourly".
type CalendarEntry struct {
	Name string `json:"name"`
	Spec string `json:"spec"`
	Note string `json:"note,omitempty"`
}

type BlinkConfig struct {
	Enabled bool `json:"enabled"`
	// Period is the half-cycle (time between toggles) as a Go duration
	// string.
	Period string `json:"period,omitempty"`
}

type HeartbeatConfig struct {
	Enabled bool   `json:"enabled"`
	Period  string `json:"period,omitempty"`
}

// TraceConfig controls the dispatch journal.
//
// Example:
//
//	"trace": { "driver": "sqlite", "path": "./tickrun_trace.db" }
type TraceConfig struct {
	Driver string `json:"driver"` // "none" or "sqlite"
	Path   string `json:"path,omitempty"`

	// Buffer is the in-memory ring size in records (default 512).
	Buffer int `json:"buffer,omitempty"`

	// Flush is the journal batch interval (Go duration string).
	Flush       string `json:"flush,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DiagConfig controls the diagnostics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8372").
//   - If you bind to a non-loopback address, set a token or explicitly
//     allow_insecure.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8372"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so pprof profile captures that run 30s+ still work.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Default returns the configuration used when no file is given. Every
// task that can run without hardware or external services is on, the
// journal and diag server are off.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Loop:    LoopConfig{WarnAfter: "20ms", TraceRate: 200},
		Tasks: TasksConfig{
			Watchdog: WatchdogConfig{Enabled: true},
			Serial: SerialConfig{
				Enabled:   true,
				Source:    "sim",
				SimPeriod: "750ms",
				Buffer:    256,
				MaxPerRun: 64,
			},
			Calendar: CalendarConfig{
				Enabled: true,
				Poll:    "250ms",
				Entries: []CalendarEntry{
					{Name: "minutely", Spec: "@every 1m", Note: "demo entry"},
				},
			},
			Blink:     BlinkConfig{Enabled: true, Period: "500ms"},
			Heartbeat: HeartbeatConfig{Enabled: true, Period: "10s"},
		},
	}
}
