package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tickrun/internal/trace"
	"tickrun/pkg/logx"
)

func newTraceCmd() *cobra.Command {
	var (
		dbPath   string
		session  string
		limit    int
		sessions bool
	)

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect a dispatch journal database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(dbPath) == "" {
				return errors.New("--db is required")
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			store, err := trace.Open(trace.Config{Driver: "sqlite", Path: dbPath}, logx.NewConsole("warn"))
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			if sessions {
				list, err := store.Sessions(ctx, limit)
				if err != nil {
					return fmt.Errorf("list sessions: %w", err)
				}
				if len(list) == 0 {
					fmt.Fprintln(out, "No sessions recorded.")
					return nil
				}
				fmt.Fprintf(out, "%-36s  %-20s  %s\n", "ID", "STARTED", "TASKS")
				fmt.Fprintf(out, "%-36s  %-20s  %s\n", "--", "-------", "-----")
				for _, s := range list {
					fmt.Fprintf(out, "%-36s  %-20s  %s\n", s.ID, humanize.Time(s.StartedAt), s.Tasks)
				}
				return nil
			}

			recs, err := store.Records(ctx, session, limit)
			if err != nil {
				return fmt.Errorf("list records: %w", err)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No records found.")
				return nil
			}
			fmt.Fprintf(out, "  %-8s  %-18s  %4s  %-10s  %10s  %10s\n",
				"SESSION", "WHEN", "SLOT", "TASK", "TICK", "DUR")
			for _, r := range recs {
				marker := " " // "!" flags faulted dispatches
				if r.Fault {
					marker = "!"
				}
				fmt.Fprintf(out, "%s %-8s  %-18s  %4d  %-10s  %10d  %10s",
					marker, shortID(r.Session), humanize.Time(r.At), r.Slot, r.Task, r.Tick, r.Dur)
				if r.Err != "" {
					fmt.Fprintf(out, "  %s", r.Err)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the journal SQLite database")
	cmd.Flags().StringVar(&session, "session", "", "Only records from this session ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to print")
	cmd.Flags().BoolVar(&sessions, "sessions", false, "List recorded sessions instead of records")

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
