// Package merge folds partial analysis results into a job's accumulated
// snapshot. Streamed engine output is not monotonic per message, so the
// merge only ever raises counters and never clears a known field.
package merge

import (
	"slices"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

// Snapshot merges incoming into dst:
//   - depth, selDepth, nodes and nps become the max of both sides
//   - score is replaced only when incoming carries one
//   - best move and pv are replaced only when incoming is non-empty
//   - lines are upserted by multi-PV index (<= 0 counts as 1) and sorted
//     ascending once the whole batch is applied
func Snapshot(dst *protocol.JobSnapshot, incoming protocol.JobSnapshot) {
	dst.Depth = max(dst.Depth, incoming.Depth)
	dst.SelDepth = max(dst.SelDepth, incoming.SelDepth)
	dst.Nodes = max(dst.Nodes, incoming.Nodes)
	dst.NPS = max(dst.NPS, incoming.NPS)

	if incoming.Score.Kind != protocol.ScoreNone {
		dst.Score = incoming.Score
	}
	if incoming.BestMove != "" {
		dst.BestMove = incoming.BestMove
	}
	if incoming.PV != "" {
		dst.PV = incoming.PV
	}

	if len(incoming.Lines) == 0 {
		return
	}
	for _, line := range incoming.Lines {
		upsertLine(dst, line)
	}
	slices.SortStableFunc(dst.Lines, func(a, b protocol.PvLine) int { return a.MultiPV - b.MultiPV })
}

func upsertLine(dst *protocol.JobSnapshot, line protocol.PvLine) {
	if line.MultiPV <= 0 {
		line.MultiPV = 1
	}
	for i := range dst.Lines {
		if dst.Lines[i].MultiPV == line.MultiPV {
			dst.Lines[i] = line
			return
		}
	}
	dst.Lines = append(dst.Lines, line)
}
