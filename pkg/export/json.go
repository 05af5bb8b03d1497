// Package export writes jobs out for use outside the cluster: JSON
// documents and PGN games of the principal variation.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"
)

type lineDoc struct {
	MultiPV   int    `json:"multipv"`
	Depth     int    `json:"depth,omitempty"`
	SelDepth  int    `json:"seldepth,omitempty"`
	Score     string `json:"score,omitempty"`
	ScoreCp   *int   `json:"score_cp,omitempty"`
	ScoreMate *int   `json:"score_mate,omitempty"`
	Nodes     int64  `json:"nodes,omitempty"`
	NPS       int64  `json:"nps,omitempty"`
	PV        string `json:"pv,omitempty"`
}

type jobDoc struct {
	ID              string    `json:"id"`
	Opponent        string    `json:"opponent,omitempty"`
	FEN             string    `json:"fen"`
	Limit           string    `json:"limit"`
	MultiPV         int       `json:"multipv"`
	Status          string    `json:"status"`
	Server          string    `json:"server,omitempty"`
	PreferredServer string    `json:"preferred_server,omitempty"`
	CreatedAt       string    `json:"created_at,omitempty"`
	StartedAt       string    `json:"started_at,omitempty"`
	FinishedAt      string    `json:"finished_at,omitempty"`
	BestMove        string    `json:"bestmove,omitempty"`
	Result          lineDoc   `json:"result"`
	Lines           []lineDoc `json:"lines,omitempty"`
	Log             []string  `json:"log,omitempty"`
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func scoreDoc(d *lineDoc, s protocol.Score) {
	if s.Kind == protocol.ScoreNone {
		return
	}
	v := s.Value
	d.Score = s.String()
	if s.Kind == protocol.ScoreCp {
		d.ScoreCp = &v
	} else {
		d.ScoreMate = &v
	}
}

func document(job protocol.Job) jobDoc {
	snap := job.Snapshot
	doc := jobDoc{
		ID:              job.ID,
		Opponent:        job.Opponent,
		FEN:             job.FEN,
		Limit:           job.Limit.String(),
		MultiPV:         job.MultiPV,
		Status:          job.Status.String(),
		Server:          job.RunningOn,
		PreferredServer: job.PreferredServer,
		CreatedAt:       stamp(job.CreatedAt),
		StartedAt:       stamp(job.StartedAt),
		FinishedAt:      stamp(job.FinishedAt),
		BestMove:        snap.BestMove,
		Result: lineDoc{
			MultiPV:  1,
			Depth:    snap.Depth,
			SelDepth: snap.SelDepth,
			Nodes:    snap.Nodes,
			NPS:      snap.NPS,
			PV:       snap.PV,
		},
		Log: job.Log,
	}
	scoreDoc(&doc.Result, snap.Score)
	for _, l := range snap.Lines {
		ld := lineDoc{MultiPV: l.MultiPV, Depth: l.Depth, SelDepth: l.SelDepth, Nodes: l.Nodes, NPS: l.NPS, PV: l.PV}
		scoreDoc(&ld, l.Score)
		doc.Lines = append(doc.Lines, ld)
	}
	return doc
}

// JSON writes jobs as an indented JSON array.
func JSON(w io.Writer, jobs []protocol.Job) error {
	docs := make([]jobDoc, 0, len(jobs))
	for _, j := range jobs {
		docs = append(docs, document(j))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(docs); err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}
	return nil
}
