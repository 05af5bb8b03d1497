// Package control is the local command channel of a running daemon: a Unix
// domain socket carrying one JSON request line and one JSON response line
// per connection.
package control

import (
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

// Op names a control operation.
type Op string

// Supported operations.
const (
	OpSubmit  Op = "submit"
	OpStop    Op = "stop"
	OpRemove  Op = "remove"
	OpJobs    Op = "jobs"
	OpServers Op = "servers"
	OpEnable  Op = "enable"
	OpDisable Op = "disable"
	OpFetch   Op = "fetch"
)

// JobRequest describes a job to submit.
type JobRequest struct {
	Opponent   string `json:"opponent,omitempty"`
	FEN        string `json:"fen"`
	LimitType  string `json:"limit_type,omitempty"` // depth, time or nodes; default depth
	LimitValue int    `json:"limit_value,omitempty"`
	MultiPV    int    `json:"multipv,omitempty"`
	Server     string `json:"server,omitempty"`
}

// Request is one control command.
type Request struct {
	ID       string      `json:"id"`
	Op       Op          `json:"op"`
	Job      *JobRequest `json:"job,omitempty"`
	JobID    string      `json:"job_id,omitempty"`
	ServerID string      `json:"server_id,omitempty"`
}

// Response acknowledges a Request. ID echoes the request id.
type Response struct {
	ID      string                `json:"id"`
	OK      bool                  `json:"ok"`
	Detail  string                `json:"detail,omitempty"`
	JobID   string                `json:"job_id,omitempty"`
	Job     *protocol.Job         `json:"job,omitempty"`
	Jobs    []protocol.Job        `json:"jobs,omitempty"`
	Servers []protocol.ServerInfo `json:"servers,omitempty"`
}
