package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tickrun/internal/config"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickrun.yml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestValidateConfigDefaults(t *testing.T) {
	if err := ValidateConfig(config.Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{"bad warn_after", func(c *config.Config) { c.Loop.WarnAfter = "fast" }, "loop.warn_after"},
		{"negative trace_rate", func(c *config.Config) { c.Loop.TraceRate = -1 }, "loop.trace_rate"},
		{"unknown serial source", func(c *config.Config) { c.Tasks.Serial.Source = "uart" }, "tasks.serial.source"},
		{"negative buffer", func(c *config.Config) { c.Tasks.Serial.Buffer = -1 }, "tasks.serial.buffer"},
		{"bad cron spec", func(c *config.Config) {
			c.Tasks.Calendar.Entries = []config.CalendarEntry{{Name: "x", Spec: "bogus"}}
		}, "calendar entry"},
		{"bad blink period", func(c *config.Config) { c.Tasks.Blink.Period = "soon" }, "tasks.blink.period"},
		{"unknown trace driver", func(c *config.Config) {
			c.Trace = &config.TraceConfig{Driver: "postgres"}
		}, "trace.driver"},
		{"sqlite without path", func(c *config.Config) {
			c.Trace = &config.TraceConfig{Driver: "sqlite"}
		}, "trace.path"},
		{"bad diag timeout", func(c *config.Config) {
			c.Diag = &config.DiagConfig{ReadTimeout: "never"}
		}, "diag.read_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("config accepted")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not name %q", err, tc.wantSub)
			}
		})
	}
}

func TestMapSerialDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Tasks.Serial = config.SerialConfig{Enabled: true}
	ss, err := mapSerialConfig(cfg)
	if err != nil {
		t.Fatalf("mapSerialConfig: %v", err)
	}
	if ss.Source != "sim" || ss.Buffer != 256 || ss.SimPeriod != 750*time.Millisecond {
		t.Fatalf("defaults = %+v", ss)
	}
}

func TestEnabledChanged(t *testing.T) {
	oldCfg, newCfg := config.Default(), config.Default()
	if enabledChanged(oldCfg, newCfg) {
		t.Fatal("identical configs reported as changed")
	}
	newCfg.Tasks.Blink.Enabled = !newCfg.Tasks.Blink.Enabled
	if !enabledChanged(oldCfg, newCfg) {
		t.Fatal("blink flip not detected")
	}
}

func TestBuildTasksSlotOrder(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	path := writeConfig(t, `
logging:
  level: error
  console: false
tasks:
  watchdog:
    enabled: true
    interval: 2s
  serial:
    enabled: true
  calendar:
    enabled: true
  blink:
    enabled: true
  heartbeat:
    enabled: true
`)
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	got := strings.Join(taskNames(a.slots), ",")
	want := "watchdog,serial,calendar,blink,heartbeat"
	if got != want {
		t.Fatalf("slot order = %s, want %s", got, want)
	}
}

func TestWatchdogSkippedWhenNotArmed(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")
	path := writeConfig(t, `
logging:
  level: error
  console: false
tasks:
  watchdog:
    enabled: true
  blink:
    enabled: true
`)
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	for _, name := range taskNames(a.slots) {
		if name == "watchdog" {
			t.Fatal("watchdog built without an armed interval")
		}
	}
}

func TestNoTasksEnabled(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: error
  console: false
tasks:
  watchdog:
    enabled: false
`)
	if _, err := NewApp(path); err == nil {
		t.Fatal("NewApp accepted a config with no tasks")
	}
}

func TestStartStopSmoke(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	path := writeConfig(t, `
logging:
  level: error
  console: false
tasks:
  watchdog:
    enabled: false
  serial:
    enabled: true
    source: sim
    sim_period: 30ms
  calendar:
    enabled: false
  blink:
    enabled: true
    period: 20ms
  heartbeat:
    enabled: true
    period: 1s
`)
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "blink toggles", func() bool { return a.pin.Toggles() >= 3 })
	waitFor(t, "dispatch records", func() bool { return a.recorder.Stats().Recorded > 0 })

	snap := a.Snapshot()
	if !snap.Running || snap.Scans == 0 {
		t.Fatalf("scheduler snapshot = %+v", snap)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("supervisor error after clean stop: %v", err)
	}
}
