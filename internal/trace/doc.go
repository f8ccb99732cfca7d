// Package trace captures dispatch events off the bus into a bounded
// in-memory ring and, optionally, a SQLite journal.
//
// The ring serves the diag API (recent activity without touching disk);
// the journal survives restarts and groups records by run session.
package trace
