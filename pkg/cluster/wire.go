package cluster

import (
	"github.com/Volodymyr20221/stockfish-cluster/pkg/dispatcher"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
	"github.com/Volodymyr20221/stockfish-cluster/pkg/registry"
)

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func jobStatusFromWire(v int) protocol.JobStatus {
	s := protocol.JobStatus(v)
	if s < protocol.JobPending || s > protocol.JobStopped {
		return protocol.JobRunning
	}
	return s
}

// jobUpdateFromWire translates a job_update. Only evaluation updates touch
// the snapshot; index 1 also fills the flat fields. bestmove and log_line
// pass through regardless.
func jobUpdateFromWire(msg protocol.Message) dispatcher.RemoteUpdate {
	u := dispatcher.RemoteUpdate{Status: protocol.JobRunning, LogLine: msg.LogLine}
	if msg.Status != nil {
		u.Status = jobStatusFromWire(*msg.Status)
	}

	if msg.IsEvalUpdate() {
		line := protocol.PvLine{
			MultiPV:  1,
			Depth:    deref(msg.Depth),
			SelDepth: deref(msg.SelDepth),
			Nodes:    deref(msg.Nodes),
			NPS:      deref(msg.NPS),
			PV:       msg.PV,
		}
		if msg.MultiPV != nil && *msg.MultiPV > 0 {
			line.MultiPV = *msg.MultiPV
		}
		switch {
		case msg.ScoreCp != nil:
			line.Score = protocol.CpScore(*msg.ScoreCp)
		case msg.ScoreMate != nil:
			line.Score = protocol.MateScore(*msg.ScoreMate)
		}
		u.Snapshot.Lines = []protocol.PvLine{line}
		if line.MultiPV == 1 {
			u.Snapshot.Depth = line.Depth
			u.Snapshot.SelDepth = line.SelDepth
			u.Snapshot.Score = line.Score
			u.Snapshot.Nodes = line.Nodes
			u.Snapshot.NPS = line.NPS
			u.Snapshot.PV = line.PV
		}
	}
	u.Snapshot.BestMove = msg.BestMove
	return u
}

// serverReportFromWire reads a server_status, accepting the legacy
// running/max spellings. A missing status means Online.
func serverReportFromWire(msg protocol.Message) registry.Report {
	rep := registry.Report{Status: protocol.ServerOnline}
	if msg.Status != nil {
		rep.Status = protocol.ServerStatus(*msg.Status)
	}
	switch {
	case msg.RunningJobs != nil:
		rep.RunningJobs = *msg.RunningJobs
	case msg.Running != nil:
		rep.RunningJobs = *msg.Running
	}
	switch {
	case msg.MaxJobs != nil:
		rep.MaxJobs = *msg.MaxJobs
	case msg.Max != nil:
		rep.MaxJobs = *msg.Max
	}
	rep.ThreadsPerJob = deref(msg.Threads)
	rep.LogicalCores = deref(msg.LogicalCores)
	return rep
}

// jobFromWire converts a jobs_list or job_state entry. The job is placed on
// the server whose connection reported it.
func jobFromWire(wj protocol.WireJob, serverID string) (protocol.Job, bool) {
	if wj.ID == "" {
		return protocol.Job{}, false
	}
	job := protocol.Job{
		ID:         wj.ID,
		Opponent:   wj.Opponent,
		FEN:        wj.FEN,
		Limit:      protocol.Limit{Type: protocol.LimitType(wj.LimitType), Value: wj.LimitValue},
		MultiPV:    max(wj.MultiPV, 1),
		Status:     jobStatusFromWire(wj.Status),
		RunningOn:  serverID,
		CreatedAt:  protocol.FromMillis(wj.CreatedAtMs),
		StartedAt:  protocol.FromMillis(wj.StartedAtMs),
		FinishedAt: protocol.FromMillis(wj.FinishedAtMs),
		LastUpdate: protocol.FromMillis(wj.LastUpdateMs),
	}
	if wj.Snapshot != nil {
		job.Snapshot = wj.Snapshot.Snapshot()
	}
	if len(job.Snapshot.Lines) == 0 && len(wj.Lines) > 0 {
		job.Snapshot.Lines = protocol.PvLines(wj.Lines)
	}
	for _, line := range wj.LogTail {
		if line != "" {
			job.Log = append(job.Log, line)
		}
	}
	return job, true
}
