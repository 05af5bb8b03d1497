package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

// Store reads and writes jobs. It does not own the database handle.
type Store struct {
	db *sql.DB
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveJob stores a job and replaces its log lines. Saving the same job
// twice leaves one row.
func (s *Store) SaveJob(ctx context.Context, job protocol.Job) error {
	result, err := json.Marshal(protocol.ToWireSnapshot(job.Snapshot))
	if err != nil {
		return fmt.Errorf("encode snapshot of %s: %w", job.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", job.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs
		 (id, opponent, fen, limit_type, limit_value, multipv, server_id, preferred_server,
		  status, created_at, started_at, finished_at, last_update, result_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Opponent, job.FEN, int(job.Limit.Type), job.Limit.Value, job.MultiPV,
		job.RunningOn, job.PreferredServer, int(job.Status),
		protocol.ToMillis(job.CreatedAt), protocol.ToMillis(job.StartedAt),
		protocol.ToMillis(job.FinishedAt), protocol.ToMillis(job.LastUpdate),
		string(result),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = ?`, job.ID); err != nil {
		return fmt.Errorf("clear logs of %s: %w", job.ID, err)
	}
	ts := protocol.ToMillis(job.LastUpdate)
	for _, line := range job.Log {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_logs (job_id, ts, line) VALUES (?, ?, ?)`, job.ID, ts, line); err != nil {
			return fmt.Errorf("save log of %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `id, opponent, fen, limit_type, limit_value, multipv, server_id, preferred_server,
	status, created_at, started_at, finished_at, last_update, result_json`

// LoadAllJobs returns every stored job, newest first.
func (s *Store) LoadAllJobs(ctx context.Context) ([]protocol.Job, error) {
	return s.LoadJobs(ctx, 0)
}

// LoadJobs returns up to limit stored jobs, newest first. A limit of 0
// returns all of them.
func (s *Store) LoadJobs(ctx context.Context, limit int) ([]protocol.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []protocol.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	rows.Close()

	for i := range jobs {
		if jobs[i].Log, err = s.loadLog(ctx, jobs[i].ID); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// LoadJob returns one stored job or a JobNotFoundError.
func (s *Store) LoadJob(ctx context.Context, id string) (protocol.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Job{}, &protocol.JobNotFoundError{JobID: id}
	}
	if err != nil {
		return protocol.Job{}, err
	}
	if job.Log, err = s.loadLog(ctx, id); err != nil {
		return protocol.Job{}, err
	}
	return job, nil
}

// FindJob resolves an id prefix to a stored job. Exactly one match is
// required.
func (s *Store) FindJob(ctx context.Context, prefix string) (protocol.Job, error) {
	if job, err := s.LoadJob(ctx, prefix); err == nil {
		return job, nil
	}
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM jobs WHERE id LIKE ? ESCAPE '\' LIMIT 2`, pattern)
	if err != nil {
		return protocol.Job{}, fmt.Errorf("find job %s: %w", prefix, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return protocol.Job{}, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	switch len(ids) {
	case 0:
		return protocol.Job{}, &protocol.JobNotFoundError{JobID: prefix}
	case 1:
		return s.LoadJob(ctx, ids[0])
	default:
		return protocol.Job{}, fmt.Errorf("job id prefix %q is ambiguous", prefix)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (protocol.Job, error) {
	var job protocol.Job
	var limitType, status int
	var created, started, finished, lastUpdate int64
	var result string
	err := sc.Scan(&job.ID, &job.Opponent, &job.FEN, &limitType, &job.Limit.Value, &job.MultiPV,
		&job.RunningOn, &job.PreferredServer, &status,
		&created, &started, &finished, &lastUpdate, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Job{}, err
	}
	if err != nil {
		return protocol.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Limit.Type = protocol.LimitType(limitType)
	job.Status = protocol.JobStatus(status)
	job.CreatedAt = protocol.FromMillis(created)
	job.StartedAt = protocol.FromMillis(started)
	job.FinishedAt = protocol.FromMillis(finished)
	job.LastUpdate = protocol.FromMillis(lastUpdate)

	if result != "" {
		var ws protocol.WireSnapshot
		if err := json.Unmarshal([]byte(result), &ws); err != nil {
			return protocol.Job{}, fmt.Errorf("decode snapshot of %s: %w", job.ID, err)
		}
		job.Snapshot = ws.Snapshot()
	}
	return job, nil
}

func (s *Store) loadLog(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM job_logs WHERE job_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query log of %s: %w", id, err)
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan log of %s: %w", id, err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log of %s: %w", id, err)
	}
	return lines, nil
}
