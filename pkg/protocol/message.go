package protocol

// MessageType identifies a wire message.
type MessageType string

// Outbound message types (client → server).
const (
	MsgJobSubmit MessageType = "job_submit_or_update"
	MsgJobCancel MessageType = "job_cancel"
	MsgJobsList  MessageType = "jobs_list"
	MsgPing      MessageType = "ping"
	MsgJobGet    MessageType = "job_get"
)

// Inbound message types (server → client). MsgJobsList is used both ways.
const (
	MsgJobUpdate    MessageType = "job_update"
	MsgServerStatus MessageType = "server_status"
	MsgJobState     MessageType = "job_state"
)

// Message is one line of the wire protocol. It is the union of every message
// the protocol knows; optional numbers are pointers so that presence is
// preserved across decoding.
type Message struct {
	Type MessageType `json:"type,omitempty"`

	Job             *WireJob `json:"job,omitempty"`
	JobID           string   `json:"job_id,omitempty"`
	IncludeFinished *bool    `json:"include_finished,omitempty"`
	Limit           *int     `json:"limit,omitempty"`

	// job_update
	Status    *int   `json:"status,omitempty"`
	Depth     *int   `json:"depth,omitempty"`
	SelDepth  *int   `json:"seldepth,omitempty"`
	ScoreCp   *int   `json:"score_cp,omitempty"`
	ScoreMate *int   `json:"score_mate,omitempty"`
	Nodes     *int64 `json:"nodes,omitempty"`
	NPS       *int64 `json:"nps,omitempty"`
	PV        string `json:"pv,omitempty"`
	MultiPV   *int   `json:"multipv,omitempty"`
	BestMove  string `json:"bestmove,omitempty"`
	LogLine   string `json:"log_line,omitempty"`

	// server_status; running/max are the legacy spellings
	RunningJobs  *int   `json:"running_jobs,omitempty"`
	Running      *int   `json:"running,omitempty"`
	MaxJobs      *int   `json:"max_jobs,omitempty"`
	Max          *int   `json:"max,omitempty"`
	Threads      *int   `json:"threads,omitempty"`
	LogicalCores *int   `json:"logical_cores,omitempty"`
	ServerID     string `json:"server_id,omitempty"`

	// jobs_list response
	Jobs []WireJob `json:"jobs,omitempty"`
}

// WireJob is a job as it travels on the wire: in a submit, in a jobs_list
// response and in job_state.
type WireJob struct {
	ID           string        `json:"id"`
	Opponent     string        `json:"opponent"`
	FEN          string        `json:"fen"`
	LimitType    int           `json:"limit_type"`
	LimitValue   int           `json:"limit_value"`
	MultiPV      int           `json:"multipv"`
	Status       int           `json:"status,omitempty"`
	CreatedAtMs  int64         `json:"created_at_ms,omitempty"`
	StartedAtMs  int64         `json:"started_at_ms,omitempty"`
	FinishedAtMs int64         `json:"finished_at_ms,omitempty"`
	LastUpdateMs int64         `json:"last_update_ms,omitempty"`
	Snapshot     *WireSnapshot `json:"snapshot,omitempty"`
	Lines        []WireLine    `json:"lines,omitempty"`
	LogTail      []string      `json:"log_tail,omitempty"`
}

// WireSnapshot is the flat JSON form of a JobSnapshot. The history database
// stores snapshots in the same form.
type WireSnapshot struct {
	Depth     int        `json:"depth,omitempty"`
	SelDepth  int        `json:"seldepth,omitempty"`
	ScoreCp   *int       `json:"score_cp,omitempty"`
	ScoreMate *int       `json:"score_mate,omitempty"`
	Nodes     int64      `json:"nodes,omitempty"`
	NPS       int64      `json:"nps,omitempty"`
	BestMove  string     `json:"bestmove,omitempty"`
	PV        string     `json:"pv,omitempty"`
	Lines     []WireLine `json:"lines,omitempty"`
}

// WireLine is the flat JSON form of a PvLine.
type WireLine struct {
	MultiPV   int    `json:"multipv,omitempty"`
	Depth     int    `json:"depth,omitempty"`
	SelDepth  int    `json:"seldepth,omitempty"`
	ScoreCp   *int   `json:"score_cp,omitempty"`
	ScoreMate *int   `json:"score_mate,omitempty"`
	Nodes     int64  `json:"nodes,omitempty"`
	NPS       int64  `json:"nps,omitempty"`
	PV        string `json:"pv,omitempty"`
}

// NewSubmit builds a job_submit_or_update for j.
func NewSubmit(j Job) Message {
	return Message{
		Type: MsgJobSubmit,
		Job: &WireJob{
			ID:         j.ID,
			Opponent:   j.Opponent,
			FEN:        j.FEN,
			LimitType:  int(j.Limit.Type),
			LimitValue: j.Limit.Value,
			MultiPV:    max(j.MultiPV, 1),
		},
	}
}

// NewCancel builds a job_cancel for id.
func NewCancel(id string) Message {
	return Message{Type: MsgJobCancel, JobID: id}
}

// NewJobsListRequest asks the server for up to limit jobs, finished included.
func NewJobsListRequest(limit int) Message {
	includeFinished := true
	return Message{Type: MsgJobsList, IncludeFinished: &includeFinished, Limit: &limit}
}

// NewPing builds a keepalive.
func NewPing() Message {
	return Message{Type: MsgPing}
}

// NewJobGet asks the server for the full state of one job.
func NewJobGet(id string) Message {
	return Message{Type: MsgJobGet, JobID: id}
}

// IsEvalUpdate reports whether a job_update carries an evaluation: a score
// or a non-empty principal variation.
func (m *Message) IsEvalUpdate() bool {
	return m.ScoreCp != nil || m.ScoreMate != nil || m.PV != ""
}
