package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tickrun/internal/sched"
	"tickrun/pkg/logx"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; the recorder is the only one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}

	log.Debug("trace journal opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) BeginSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, tasks) VALUES (?, ?, ?)`,
		sess.ID, sess.StartedAt.UTC().Format(time.RFC3339Nano), sess.Tasks,
	)
	return err
}

// Append writes one batch in a single transaction, so a crash mid-batch
// never leaves a partial write behind.
func (s *sqliteStore) Append(ctx context.Context, session string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dispatches (session_id, at, slot, task, tick, dur_us, fault, err)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, r := range recs {
		fault := 0
		if r.Fault {
			fault = 1
		}
		if _, err := stmt.ExecContext(ctx,
			session, r.At.UTC().Format(time.RFC3339Nano), r.Slot, r.Task,
			int64(r.Tick), r.Dur.Microseconds(), fault, r.Err,
		); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
	}
	_ = stmt.Close()
	return tx.Commit()
}

func (s *sqliteStore) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, tasks FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var at string
		if err := rows.Scan(&sess.ID, &at, &sess.Tasks); err != nil {
			return nil, err
		}
		sess.StartedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Records(ctx context.Context, session string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT session_id, at, slot, task, tick, dur_us, fault, err FROM dispatches`
	args := make([]any, 0, 2)
	if session != "" {
		q += ` WHERE session_id = ?`
		args = append(args, session)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r     Record
			at    string
			tick  int64
			durUS int64
			fault int
		)
		if err := rows.Scan(&r.Session, &at, &r.Slot, &r.Task, &tick, &durUS, &fault, &r.Err); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Tick = sched.Tick(tick)
		r.Dur = time.Duration(durUS) * time.Microsecond
		r.Fault = fault != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
