package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tickrun/internal/app"
	"tickrun/internal/config"
	"tickrun/tasks/calendar"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse a config file and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var cfg *config.Config
			if strings.TrimSpace(flagConfig) == "" {
				fmt.Fprintln(out, "no config file given; checking built-in defaults")
				cfg = config.Default()
			} else {
				loaded, err := config.NewManager(flagConfig).Parse()
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if err := app.ValidateConfig(cfg); err != nil {
				return err
			}

			printSummary(out, cfg)
			return nil
		},
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "config ok")
	fmt.Fprintf(w, "  logging:   level=%s console=%v file=%s\n",
		cfg.Logging.Level, cfg.Logging.Console, onOff(cfg.Logging.File.Enabled))
	fmt.Fprintf(w, "  loop:      warn_after=%s trace_rate=%d\n",
		orDefaultStr(cfg.Loop.WarnAfter, "20ms"), orDefaultInt(cfg.Loop.TraceRate, 200))

	t := cfg.Tasks
	fmt.Fprintf(w, "  watchdog:  %s", onOff(t.Watchdog.Enabled))
	if t.Watchdog.Enabled {
		if strings.TrimSpace(t.Watchdog.Interval) != "" {
			fmt.Fprintf(w, " interval=%s", t.Watchdog.Interval)
		} else {
			fmt.Fprint(w, " interval=systemd")
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  serial:    %s", onOff(t.Serial.Enabled))
	if t.Serial.Enabled {
		fmt.Fprintf(w, " source=%s sim_period=%s buffer=%d max_per_run=%d",
			orDefaultStr(t.Serial.Source, "sim"),
			orDefaultStr(t.Serial.SimPeriod, "750ms"),
			orDefaultInt(t.Serial.Buffer, 256),
			orDefaultInt(t.Serial.MaxPerRun, 64))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  calendar:  %s", onOff(t.Calendar.Enabled))
	if t.Calendar.Enabled {
		fmt.Fprintf(w, " poll=%s entries=%d",
			orDefaultStr(t.Calendar.Poll, "250ms"), len(t.Calendar.Entries))
	}
	fmt.Fprintln(w)
	if t.Calendar.Enabled {
		now := time.Now()
		for _, e := range t.Calendar.Entries {
			entry, err := calendar.ParseEntry(e.Name, e.Spec, e.Note)
			if err != nil {
				continue // ValidateConfig already vetted these
			}
			if next := entry.Next(now); next.IsZero() {
				fmt.Fprintf(w, "    - %-16s %-16s never activates\n", e.Name, e.Spec)
			} else {
				fmt.Fprintf(w, "    - %-16s %-16s next %s\n", e.Name, e.Spec, next.Format(time.RFC3339))
			}
		}
	}

	fmt.Fprintf(w, "  blink:     %s", onOff(t.Blink.Enabled))
	if t.Blink.Enabled {
		fmt.Fprintf(w, " period=%s", orDefaultStr(t.Blink.Period, "500ms"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  heartbeat: %s", onOff(t.Heartbeat.Enabled))
	if t.Heartbeat.Enabled {
		fmt.Fprintf(w, " period=%s", orDefaultStr(t.Heartbeat.Period, "10s"))
	}
	fmt.Fprintln(w)

	if cfg.Trace != nil && cfg.Trace.Driver != "" && !strings.EqualFold(strings.TrimSpace(cfg.Trace.Driver), "none") {
		fmt.Fprintf(w, "  trace:     %s path=%s\n", cfg.Trace.Driver, cfg.Trace.Path)
	} else {
		fmt.Fprintln(w, "  trace:     off")
	}
	if cfg.Diag != nil && cfg.Diag.Enabled {
		// token printed presence-only, never by value
		fmt.Fprintf(w, "  diag:      on addr=%s token=%s pprof=%v\n",
			orDefaultStr(cfg.Diag.Addr, "127.0.0.1:8372"), onOff(cfg.Diag.Token != ""), cfg.Diag.Pprof)
	} else {
		fmt.Fprintln(w, "  diag:      off")
	}
}

func orDefaultStr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
