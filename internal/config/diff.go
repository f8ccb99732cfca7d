package config

import (
	"reflect"
	"strings"

	"tickrun/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging the reload. Secrets (the diag token) are
// reported presence-only, never by value.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Loop (restart required)
	if oldCfg.Loop != newCfg.Loop {
		changed = append(changed, "loop")
		attrs = append(attrs,
			logx.String("loop.warn_after", strings.TrimSpace(newCfg.Loop.WarnAfter)),
			logx.Int("loop.trace_rate", newCfg.Loop.TraceRate),
		)
	}

	// Tasks, per slot
	if oldCfg.Tasks.Watchdog != newCfg.Tasks.Watchdog {
		changed = append(changed, "tasks.watchdog")
		attrs = append(attrs, logx.Bool("watchdog.enabled", newCfg.Tasks.Watchdog.Enabled))
	}
	if oldCfg.Tasks.Serial != newCfg.Tasks.Serial {
		changed = append(changed, "tasks.serial")
		attrs = append(attrs,
			logx.Bool("serial.enabled", newCfg.Tasks.Serial.Enabled),
			logx.String("serial.source", strings.TrimSpace(newCfg.Tasks.Serial.Source)),
			logx.Int("serial.max_per_run", newCfg.Tasks.Serial.MaxPerRun),
		)
	}
	if !reflect.DeepEqual(oldCfg.Tasks.Calendar, newCfg.Tasks.Calendar) {
		changed = append(changed, "tasks.calendar")
		attrs = append(attrs,
			logx.Bool("calendar.enabled", newCfg.Tasks.Calendar.Enabled),
			logx.Int("calendar.entries", len(newCfg.Tasks.Calendar.Entries)),
		)
	}
	if oldCfg.Tasks.Blink != newCfg.Tasks.Blink {
		changed = append(changed, "tasks.blink")
		attrs = append(attrs,
			logx.Bool("blink.enabled", newCfg.Tasks.Blink.Enabled),
			logx.String("blink.period", strings.TrimSpace(newCfg.Tasks.Blink.Period)),
		)
	}
	if oldCfg.Tasks.Heartbeat != newCfg.Tasks.Heartbeat {
		changed = append(changed, "tasks.heartbeat")
		attrs = append(attrs,
			logx.Bool("heartbeat.enabled", newCfg.Tasks.Heartbeat.Enabled),
			logx.String("heartbeat.period", strings.TrimSpace(newCfg.Tasks.Heartbeat.Period)),
		)
	}

	// Trace (restart required)
	oTr, nTr := derefTrace(oldCfg.Trace), derefTrace(newCfg.Trace)
	if (oldCfg.Trace != nil) != (newCfg.Trace != nil) || oTr != nTr {
		changed = append(changed, "trace")
		attrs = append(attrs,
			logx.String("trace.driver", strings.TrimSpace(nTr.Driver)),
			logx.Bool("trace.path_set", strings.TrimSpace(nTr.Path) != ""),
		)
	}

	// Diag (never log token)
	oDg, nDg := derefDiag(oldCfg.Diag), derefDiag(newCfg.Diag)
	if (oldCfg.Diag != nil) != (newCfg.Diag != nil) || oDg != nDg {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", nDg.Enabled),
			logx.String("diag.addr", strings.TrimSpace(nDg.Addr)),
			logx.Bool("diag.token_set", strings.TrimSpace(nDg.Token) != ""),
			logx.Bool("diag.allow_insecure", nDg.AllowInsecure),
			logx.Bool("diag.pprof", nDg.Pprof),
		)
	}

	return changed, attrs
}

func derefTrace(t *TraceConfig) TraceConfig {
	if t == nil {
		return TraceConfig{}
	}
	return *t
}

func derefDiag(d *DiagConfig) DiagConfig {
	if d == nil {
		return DiagConfig{}
	}
	return *d
}
