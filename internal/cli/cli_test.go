package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tickrun/internal/trace"
	"tickrun/pkg/logx"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(out, "tickrun dev") {
		t.Errorf("expected version line, got: %s", out)
	}
}

func TestValidateDefaults(t *testing.T) {
	t.Setenv("TICKRUN_CONFIG", "")

	out, err := runCLI(t, "validate")
	if err != nil {
		t.Fatalf("validate error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "no config file given") {
		t.Errorf("expected defaults notice, got: %s", out)
	}
	if !strings.Contains(out, "config ok") {
		t.Errorf("expected 'config ok', got: %s", out)
	}
	if !strings.Contains(out, "serial:    on") {
		t.Errorf("expected serial on in defaults, got: %s", out)
	}
}

func TestValidateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickrun.yml")
	cfg := `
logging:
  level: debug
  console: true
loop:
  warn_after: 25ms
tasks:
  watchdog:
    enabled: false
  serial:
    enabled: true
    source: sim
  calendar:
    enabled: true
    entries:
      - name: demo
        spec: "@every 45s"
  blink:
    enabled: false
  heartbeat:
    enabled: true
    period: 5s
`
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "--config", path, "validate")
	if err != nil {
		t.Fatalf("validate error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "config ok") {
		t.Errorf("expected 'config ok', got: %s", out)
	}
	if !strings.Contains(out, "watchdog:  off") {
		t.Errorf("expected watchdog off, got: %s", out)
	}
	if !strings.Contains(out, "demo") || !strings.Contains(out, "@every 45s") {
		t.Errorf("expected calendar entry listing, got: %s", out)
	}
	if !strings.Contains(out, "next ") {
		t.Errorf("expected next activation for calendar entry, got: %s", out)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickrun.yml")
	cfg := `
loop:
  warn_after: fast
tasks:
  blink:
    enabled: true
`
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "--config", path, "validate")
	if err == nil {
		t.Fatalf("expected error for bad warn_after, output: %s", out)
	}
	if !strings.Contains(err.Error(), "warn_after") {
		t.Errorf("error should name the bad field, got: %v", err)
	}
}

func TestTraceRequiresDB(t *testing.T) {
	_, err := runCLI(t, "trace")
	if err == nil {
		t.Fatal("expected error when --db is missing")
	}
	if !strings.Contains(err.Error(), "--db") {
		t.Errorf("error should name the missing flag, got: %v", err)
	}
}

func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.db")
	store, err := trace.Open(trace.Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	started := time.Now().Add(-time.Minute)
	if err := store.BeginSession(ctx, trace.Session{
		ID:        "run-alpha",
		StartedAt: started,
		Tasks:     "watchdog,serial,blink",
	}); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	recs := []trace.Record{
		{At: started.Add(time.Second), Slot: 1, Task: "serial", Tick: 1000, Dur: 180 * time.Microsecond},
		{At: started.Add(2 * time.Second), Slot: 2, Task: "blink", Tick: 2000, Dur: 40 * time.Microsecond, Fault: true, Err: "boom"},
	}
	if err := store.Append(ctx, "run-alpha", recs); err != nil {
		t.Fatalf("append: %v", err)
	}
	return path
}

func TestTraceSessionsListing(t *testing.T) {
	path := seedJournal(t)

	out, err := runCLI(t, "trace", "--db", path, "--sessions")
	if err != nil {
		t.Fatalf("trace --sessions error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "run-alpha") {
		t.Errorf("expected session ID, got: %s", out)
	}
	if !strings.Contains(out, "watchdog,serial,blink") {
		t.Errorf("expected slot names, got: %s", out)
	}
}

func TestTraceRecordsListing(t *testing.T) {
	path := seedJournal(t)

	out, err := runCLI(t, "trace", "--db", path)
	if err != nil {
		t.Fatalf("trace error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "serial") || !strings.Contains(out, "blink") {
		t.Errorf("expected both records, got: %s", out)
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("expected fault error text, got: %s", out)
	}
	// The faulted dispatch row carries the "!" marker.
	var faultLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "blink") {
			faultLine = line
		}
	}
	if !strings.HasPrefix(faultLine, "!") {
		t.Errorf("expected fault marker on blink row, got: %q", faultLine)
	}
}

func TestTraceSessionFilter(t *testing.T) {
	path := seedJournal(t)

	out, err := runCLI(t, "trace", "--db", path, "--session", "no-such-run")
	if err != nil {
		t.Fatalf("trace --session error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "No records found.") {
		t.Errorf("expected empty listing for unknown session, got: %s", out)
	}
}
