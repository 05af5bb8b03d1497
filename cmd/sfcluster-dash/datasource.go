package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/internal/config"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/control"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/eventlog"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/history"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

// recentLimit bounds how many stored jobs the dashboard shows.
const recentLimit = 50

// Snapshot is everything one refresh shows.
type Snapshot struct {
	DaemonOnline bool                  `json:"daemon_online"`
	Servers      []protocol.ServerInfo `json:"servers"`
	Jobs         []protocol.Job        `json:"jobs"`
	Recent       []protocol.Job        `json:"recent"`
	Err          string                `json:"error,omitempty"`
	FetchedAt    time.Time             `json:"fetched_at"`
}

// daemon is the part of the control client the dashboard uses.
type daemon interface {
	Jobs(ctx context.Context) ([]protocol.Job, error)
	Servers(ctx context.Context) ([]protocol.ServerInfo, error)
	JobOp(ctx context.Context, op control.Op, jobID string) error
}

// Source fetches snapshots from the daemon and the history database.
type Source struct {
	daemon    daemon
	historyDB string
}

func newSource(cfg config.Config) *Source {
	return &Source{daemon: control.NewClient(cfg.SocketPath), historyDB: cfg.HistoryDB}
}

// historyDir is the directory watched for database writes.
func (s *Source) historyDir() string { return filepath.Dir(s.historyDB) }

// Fetch never fails: a stopped daemon or a missing database leaves the
// matching part empty and sets Err.
func (s *Source) Fetch(ctx context.Context) Snapshot {
	snap := Snapshot{FetchedAt: time.Now()}

	servers, err := s.daemon.Servers(ctx)
	if err == nil {
		snap.DaemonOnline = true
		snap.Servers = servers
		snap.Jobs, err = s.daemon.Jobs(ctx)
	}
	if err != nil {
		snap.Err = err.Error()
	}

	recent, err := s.fetchRecent(ctx)
	if err != nil && snap.Err == "" {
		snap.Err = err.Error()
	}
	snap.Recent = excludeActive(recent, snap.Jobs)
	return snap
}

// fetchRecent reads stored jobs through a read-only connection so the
// dashboard never writes to the daemon's database.
func (s *Source) fetchRecent(ctx context.Context) ([]protocol.Job, error) {
	r, err := eventlog.NewReader(s.historyDB)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return history.New(r.DB()).LoadJobs(ctx, recentLimit)
}

func excludeActive(stored, active []protocol.Job) []protocol.Job {
	if len(active) == 0 {
		return stored
	}
	seen := make(map[string]bool, len(active))
	for _, j := range active {
		seen[j.ID] = true
	}
	out := stored[:0:0]
	for _, j := range stored {
		if !seen[j.ID] {
			out = append(out, j)
		}
	}
	return out
}

// JobOp forwards stop or remove to the daemon.
func (s *Source) JobOp(ctx context.Context, op control.Op, id string) error {
	return s.daemon.JobOp(ctx, op, id)
}
