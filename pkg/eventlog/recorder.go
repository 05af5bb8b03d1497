package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"go.uber.org/zap"
)

const writeTimeout = 2 * time.Second

// Recorder appends lifecycle events. It observes the dispatcher (jobs) and
// the cluster controller (server links). Write failures are logged and
// dropped.
type Recorder struct {
	db  *sql.DB
	log *zap.Logger

	mu     sync.Mutex
	status map[string]protocol.JobStatus
}

// NewRecorder writes to db, which must carry the events table.
func NewRecorder(db *sql.DB, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{db: db, log: log, status: make(map[string]protocol.JobStatus)}
}

type jobPayload struct {
	Opponent  string `json:"opponent,omitempty"`
	FEN       string `json:"fen,omitempty"`
	Limit     string `json:"limit,omitempty"`
	Preferred string `json:"preferred_server,omitempty"`
	BestMove  string `json:"bestmove,omitempty"`
	Score     string `json:"score,omitempty"`
	Depth     int    `json:"depth,omitempty"`
}

// JobAdded implements dispatcher.Observer.
func (r *Recorder) JobAdded(job protocol.Job) {
	r.mu.Lock()
	r.status[job.ID] = job.Status
	r.mu.Unlock()

	r.write(TypeJobAdded, job.ID, job.RunningOn, job.Status.String(), jobPayload{
		Opponent:  job.Opponent,
		FEN:       job.FEN,
		Limit:     job.Limit.String(),
		Preferred: job.PreferredServer,
	})
}

// JobUpdated implements dispatcher.Observer. Only status changes are
// recorded; progress updates are not.
func (r *Recorder) JobUpdated(job protocol.Job) {
	r.mu.Lock()
	prev, seen := r.status[job.ID]
	r.status[job.ID] = job.Status
	r.mu.Unlock()
	if seen && prev == job.Status {
		return
	}

	var payload *jobPayload
	if job.Status.IsTerminal() {
		payload = &jobPayload{BestMove: job.Snapshot.BestMove, Depth: job.Snapshot.Depth}
		if job.Snapshot.Score.Kind != protocol.ScoreNone {
			payload.Score = job.Snapshot.Score.String()
		}
	}
	r.write(TypeJobStatus, job.ID, job.RunningOn, job.Status.String(), payload)
}

// JobRemoved implements dispatcher.Observer.
func (r *Recorder) JobRemoved(job protocol.Job) {
	r.mu.Lock()
	delete(r.status, job.ID)
	r.mu.Unlock()
	r.write(TypeJobRemoved, job.ID, job.RunningOn, job.Status.String(), nil)
}

// ServerOnline implements cluster.ServerObserver.
func (r *Recorder) ServerOnline(serverID string) {
	r.write(TypeServerOnline, "", serverID, protocol.ServerOnline.String(), nil)
}

// ServerOffline implements cluster.ServerObserver.
func (r *Recorder) ServerOffline(serverID string, err error) {
	var payload map[string]string
	if err != nil {
		payload = map[string]string{"error": err.Error()}
	}
	r.write(TypeServerOffline, "", serverID, protocol.ServerOffline.String(), payload)
}

func (r *Recorder) write(typ, jobID, serverID, status string, payload any) {
	body := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			r.log.Warn("encode event payload", zap.String("type", typ), zap.Error(err))
		} else if string(b) != "null" {
			body = string(b)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (type, job_id, server_id, status, payload) VALUES (?, ?, ?, ?, ?)`,
		typ, jobID, serverID, status, body)
	if err != nil {
		r.log.Warn("record event", zap.String("type", typ), zap.String("job", jobID), zap.Error(err))
	}
}
