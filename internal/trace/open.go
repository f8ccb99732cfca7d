package trace

import (
	"context"
	"fmt"
	"strings"

	"tickrun/pkg/logx"
)

// Store is the journal API used by the recorder and the trace CLI.
type Store interface {
	BeginSession(ctx context.Context, s Session) error
	Append(ctx context.Context, session string, recs []Record) error
	Sessions(ctx context.Context, limit int) ([]Session, error)
	// Records lists journal entries newest-first. An empty session means
	// all sessions.
	Records(ctx context.Context, session string, limit int) ([]Record, error)
	Close() error
}

// Open initializes the configured journal store. Driver "" and "none"
// both mean disabled, reported as (nil, nil); the process runs fine
// without a journal.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown trace driver %q", driver)
	}
}
