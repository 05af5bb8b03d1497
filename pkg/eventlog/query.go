// Package eventlog records job and server lifecycle events to SQLite and
// reads them back for the CLI and the dashboard.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const timeLayout = "2006-01-02 15:04:05"

// Event types.
const (
	TypeJobAdded      = "job_added"
	TypeJobStatus     = "job_status"
	TypeJobRemoved    = "job_removed"
	TypeServerOnline  = "server_online"
	TypeServerOffline = "server_offline"
)

// Event is one row of the event log.
type Event struct {
	ID        int64
	Type      string
	JobID     string
	ServerID  string
	Status    string
	Payload   string
	CreatedAt time.Time
}

// QueryOpts filters a query. Zero values match everything.
type QueryOpts struct {
	JobID    string
	ServerID string
	Type     string

	// After and Before bound created_at, inclusive.
	After  *time.Time
	Before *time.Time

	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Reader provides read-only access to the event log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the database at dbPath read-only. It fails if the file
// does not exist.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	// Read-only so a running daemon is never blocked.
	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Reader{db: db}, nil
}

// NewReaderDB wraps an already open database.
func NewReaderDB(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// DB exposes the underlying handle so other readers can share it.
func (r *Reader) DB() *sql.DB { return r.db }

// Close releases the database connection.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Query returns events matching opts, newest first.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.JobID, &e.ServerID, &e.Status, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if createdAt != "" {
			parsed, err := time.Parse(timeLayout, createdAt)
			if err != nil {
				parsed, err = time.Parse(time.RFC3339, createdAt)
				if err != nil {
					return nil, fmt.Errorf("parse created_at: %w", err)
				}
			}
			e.CreatedAt = parsed
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, job_id, server_id, status, payload, created_at FROM events WHERE 1=1"

	for _, f := range []struct{ column, value string }{
		{"job_id", opts.JobID},
		{"server_id", opts.ServerID},
		{"type", opts.Type},
	} {
		if f.value != "" {
			conditions = append(conditions, f.column+" = ?")
			args = append(args, f.value)
		}
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.UTC().Format(timeLayout))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.Before.UTC().Format(timeLayout))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}
