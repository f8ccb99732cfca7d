package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const sampleYAML = `
logging:
  level: debug
  console: true
loop:
  warn_after: 15ms
  trace_rate: 50
tasks:
  watchdog:
    enabled: true
  serial:
    enabled: true
    source: sim
    sim_period: 500ms
    buffer: 128
    max_per_run: 32
  calendar:
    enabled: true
    poll: 250ms
    entries:
      - name: demo
        spec: "@every 30s"
  blink:
    enabled: true
    period: 250ms
  heartbeat:
    enabled: false
trace:
  driver: sqlite
  path: ./trace.db
diag:
  enabled: true
  addr: 127.0.0.1:0
  token: hunter2
`

func TestParseYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickrun.yml")
	writeFile(t, path, sampleYAML)

	m := NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Loop.WarnAfter != "15ms" || cfg.Loop.TraceRate != 50 {
		t.Fatalf("loop = %+v", cfg.Loop)
	}
	if !cfg.Tasks.Serial.Enabled || cfg.Tasks.Serial.Buffer != 128 {
		t.Fatalf("serial = %+v", cfg.Tasks.Serial)
	}
	if len(cfg.Tasks.Calendar.Entries) != 1 || cfg.Tasks.Calendar.Entries[0].Spec != "@every 30s" {
		t.Fatalf("calendar = %+v", cfg.Tasks.Calendar)
	}
	if cfg.Trace == nil || cfg.Trace.Driver != "sqlite" {
		t.Fatalf("trace = %+v", cfg.Trace)
	}
	if cfg.Diag == nil || cfg.Diag.Token != "hunter2" {
		t.Fatalf("diag = %+v", cfg.Diag)
	}
}

func TestParseJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickrun.json")
	writeFile(t, path, `{"logging":{"level":"warn","console":false,"file":{"enabled":false,"path":""}},"loop":{},"tasks":{"watchdog":{"enabled":false},"serial":{"enabled":false},"calendar":{"enabled":false},"blink":{"enabled":true,"period":"1s"},"heartbeat":{"enabled":false}}}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "warn" || cfg.Tasks.Blink.Period != "1s" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickrun.yml")
	writeFile(t, path, "logging:\n  levle: info\n")

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("want error for unknown key, got nil")
	}
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"10s", 10 * time.Second, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, c := range cases {
		got, err := ParseDurationField("x.y", c.raw)
		if (err != nil) != c.wantErr {
			t.Fatalf("ParseDurationField(%q) err = %v, wantErr=%v", c.raw, err, c.wantErr)
		}
		if err == nil && got != c.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", c.raw, got, c.want)
		}
		if err != nil && !strings.Contains(err.Error(), "x.y") {
			t.Fatalf("error %q should name the field path", err)
		}
	}

	if d, err := ParseDurationOrDefault("x.y", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("OrDefault empty = (%v, %v), want 7s", d, err)
	}
	if d, err := ParseDurationOrDefault("x.y", "3s", 7*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("OrDefault set = (%v, %v), want 3s", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := Default()
	newCfg := Default()
	newCfg.Tasks.Blink.Period = "100ms"
	newCfg.Diag = &DiagConfig{Enabled: true, Token: "secret"}

	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := map[string]bool{"tasks.blink": true, "diag": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want sections %v", changed, want)
	}
	for _, s := range changed {
		if !want[s] {
			t.Fatalf("unexpected changed section %q in %v", s, changed)
		}
	}

	same, _ := SummarizeChange(oldCfg, oldCfg)
	if len(same) != 0 {
		t.Fatalf("no-op diff reported sections: %v", same)
	}
}

func TestWatchPublishesChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickrun.yml")
	writeFile(t, path, "logging:\n  level: info\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = m.Watch(ctx) }()

	// Give the watcher a beat to come up before mutating the file.
	time.Sleep(300 * time.Millisecond)
	writeFile(t, path, "logging:\n  level: debug\n")

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after file change")
	}
	if got := m.Get().Logging.Level; got != "debug" {
		t.Fatalf("committed level = %q, want debug", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}

func TestWatchKeepsOldConfigWhenRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickrun.yml")
	writeFile(t, path, "logging:\n  level: info\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Logging.Level == "bogus" {
			return errors.New("bad level")
		}
		return nil
	})

	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = m.Watch(ctx) }()

	time.Sleep(300 * time.Millisecond)
	writeFile(t, path, "logging:\n  level: bogus\n")

	select {
	case cfg := <-ch:
		t.Fatalf("rejected config was published: %+v", cfg)
	case <-time.After(1500 * time.Millisecond):
	}
	if got := m.Get().Logging.Level; got != "info" {
		t.Fatalf("committed level = %q, want info (old config kept)", got)
	}

	cancel()
	<-done
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager("unused.yml")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	// publishing after unsubscribe must not panic
	m.publish(&Config{})
}
