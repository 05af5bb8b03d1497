// Package protocol defines the job and server domain model shared by every
// component, and the newline-delimited JSON wire protocol spoken with the
// analysis servers.
package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// JobStatus is a job's position in its lifecycle. Values are wire-stable.
type JobStatus int

// Job status constants.
const (
	JobPending JobStatus = iota
	JobQueued
	JobRunning
	JobFinished
	JobError
	JobCancelled
	JobStopped
)

var jobStatusNames = [...]string{"Pending", "Queued", "Running", "Finished", "Error", "Cancelled", "Stopped"}

func (s JobStatus) String() string {
	if s < 0 || int(s) >= len(jobStatusNames) {
		return "Unknown(" + strconv.Itoa(int(s)) + ")"
	}
	return jobStatusNames[s]
}

// IsTerminal reports whether no further transitions happen from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobFinished, JobError, JobCancelled, JobStopped:
		return true
	default:
		return false
	}
}

// ServerStatus is the health of a server as last observed.
type ServerStatus int

// Server status constants.
const (
	ServerUnknown ServerStatus = iota
	ServerOnline
	ServerDegraded
	ServerOffline
)

var serverStatusNames = [...]string{"Unknown", "Online", "Degraded", "Offline"}

func (s ServerStatus) String() string {
	if s < 0 || int(s) >= len(serverStatusNames) {
		return "Unknown(" + strconv.Itoa(int(s)) + ")"
	}
	return serverStatusNames[s]
}

// LimitType selects how a search is bounded.
type LimitType int

// Limit type constants.
const (
	LimitDepth LimitType = iota
	LimitTimeMs
	LimitNodes
)

func (l LimitType) String() string {
	switch l {
	case LimitDepth:
		return "depth"
	case LimitTimeMs:
		return "time"
	case LimitNodes:
		return "nodes"
	default:
		return "limit(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseLimitType accepts the names printed by LimitType.String plus a few
// common aliases.
func ParseLimitType(s string) (LimitType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "depth", "d":
		return LimitDepth, nil
	case "time", "movetime", "ms", "t":
		return LimitTimeMs, nil
	case "nodes", "n":
		return LimitNodes, nil
	default:
		return 0, fmt.Errorf("unknown limit type %q", s)
	}
}

// Limit bounds a single search.
type Limit struct {
	Type  LimitType `json:"type"`
	Value int       `json:"value"`
}

func (l Limit) String() string {
	return l.Type.String() + " " + strconv.Itoa(l.Value)
}

// ScoreKind tells how Score.Value is to be read.
type ScoreKind int

// Score kinds.
const (
	ScoreNone ScoreKind = iota
	ScoreCp
	ScoreMate
)

// Score is an engine evaluation: centipawns or moves to mate.
type Score struct {
	Kind  ScoreKind `json:"kind"`
	Value int       `json:"value"`
}

// CpScore returns a centipawn score.
func CpScore(v int) Score { return Score{Kind: ScoreCp, Value: v} }

// MateScore returns a mate-in-N score.
func MateScore(v int) Score { return Score{Kind: ScoreMate, Value: v} }

func (s Score) String() string {
	switch s.Kind {
	case ScoreCp:
		return strconv.Itoa(s.Value) + " cp"
	case ScoreMate:
		return "M" + strconv.Itoa(s.Value)
	default:
		return ""
	}
}

// PvLine is one multi-PV line. MultiPV is 1-based.
type PvLine struct {
	MultiPV  int    `json:"multipv"`
	Depth    int    `json:"depth,omitempty"`
	SelDepth int    `json:"seldepth,omitempty"`
	Score    Score  `json:"score"`
	Nodes    int64  `json:"nodes,omitempty"`
	NPS      int64  `json:"nps,omitempty"`
	PV       string `json:"pv,omitempty"`
}

// JobSnapshot is the best known accumulated result of a job. Zero numeric
// fields mean "not reported yet". Lines are kept sorted by MultiPV.
type JobSnapshot struct {
	Depth    int      `json:"depth,omitempty"`
	SelDepth int      `json:"seldepth,omitempty"`
	Nodes    int64    `json:"nodes,omitempty"`
	NPS      int64    `json:"nps,omitempty"`
	Score    Score    `json:"score"`
	BestMove string   `json:"bestmove,omitempty"`
	PV       string   `json:"pv,omitempty"`
	Lines    []PvLine `json:"lines,omitempty"`
}

// Clone returns a copy that shares no memory with s.
func (s JobSnapshot) Clone() JobSnapshot {
	if s.Lines != nil {
		s.Lines = append([]PvLine(nil), s.Lines...)
	}
	return s
}

// Job is one analysis request.
//
// RunningOn names the server the job was dispatched to; PreferredServer is
// the server a Pending job is pinned to, empty for "any server".
type Job struct {
	ID              string      `json:"id"`
	Opponent        string      `json:"opponent"`
	FEN             string      `json:"fen"`
	Limit           Limit       `json:"limit"`
	MultiPV         int         `json:"multipv"`
	Status          JobStatus   `json:"status"`
	RunningOn       string      `json:"running_on,omitempty"`
	PreferredServer string      `json:"preferred_server,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
	LastUpdate      time.Time   `json:"last_update"`
	Snapshot        JobSnapshot `json:"snapshot"`
	Log             []string    `json:"log,omitempty"`
}

// Clone returns a deep copy of j.
func (j Job) Clone() Job {
	j.Snapshot = j.Snapshot.Clone()
	if j.Log != nil {
		j.Log = append([]string(nil), j.Log...)
	}
	return j
}

// TLSConfig describes mutual TLS for one server. Paths may be relative to the
// application home.
type TLSConfig struct {
	Enabled    bool   `json:"enabled"`
	ServerName string `json:"server_name,omitempty"`
	CAFile     string `json:"ca_file,omitempty"`
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
}

// ServerRuntime is the observed, non-persistent state of a server.
type ServerRuntime struct {
	Status       ServerStatus `json:"status"`
	RunningJobs  int          `json:"running_jobs"`
	MaxJobs      int          `json:"max_jobs"`
	LoadPercent  float64      `json:"load_percent"`
	LastSeen     time.Time    `json:"last_seen"`
	LogicalCores int          `json:"logical_cores,omitempty"`
}

// ServerInfo is one roster entry plus its runtime state.
type ServerInfo struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	Cores         int           `json:"cores"`
	ThreadsPerJob int           `json:"threads_per_job"`
	MaxJobs       int           `json:"max_jobs"`
	Enabled       bool          `json:"enabled"`
	TLS           TLSConfig     `json:"tls"`
	Runtime       ServerRuntime `json:"runtime"`
}

// Addr returns host:port.
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// EffectiveMaxJobs prefers the server-reported capacity over the configured
// one. Zero means unbounded.
func (s ServerInfo) EffectiveMaxJobs() int {
	if s.Runtime.MaxJobs > 0 {
		return s.Runtime.MaxJobs
	}
	if s.MaxJobs > 0 {
		return s.MaxJobs
	}
	return 0
}

// RecomputeLoad derives Runtime.LoadPercent from the running count.
func (s *ServerInfo) RecomputeLoad() {
	limit := s.EffectiveMaxJobs()
	if limit <= 0 {
		s.Runtime.LoadPercent = 0
		return
	}
	s.Runtime.LoadPercent = 100 * float64(s.Runtime.RunningJobs) / float64(limit)
}
