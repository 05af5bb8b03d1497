package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Volodymyr20221/stockfish-cluster/pkg/protocol"

	"github.com/notnil/chess"
)

// PlayUCI applies space-separated UCI moves to g and returns how many were
// legal. It stops at the first move that does not decode or play.
func PlayUCI(g *chess.Game, moves string) int {
	n := 0
	for _, s := range strings.Fields(moves) {
		m, err := chess.UCINotation{}.Decode(g.Position(), s)
		if err != nil {
			break
		}
		if err := g.Move(m); err != nil {
			break
		}
		n++
	}
	return n
}

// NewGame starts a game at fen; an empty fen is the standard start.
func NewGame(fen string) (*chess.Game, error) {
	if fen == "" {
		return chess.NewGame(), nil
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid fen %q: %w", fen, err)
	}
	return chess.NewGame(opt), nil
}

// PGN writes the job's principal variation as a game starting at the job's
// position. Moves are applied while they are legal.
func PGN(w io.Writer, job protocol.Job) error {
	g, err := NewGame(job.FEN)
	if err != nil {
		return err
	}
	pv := job.Snapshot.PV
	if pv == "" {
		pv = job.Snapshot.BestMove
	}
	played := PlayUCI(g, pv)

	site := job.RunningOn
	if site == "" {
		site = "?"
	}
	date := "????.??.??"
	if !job.CreatedAt.IsZero() {
		date = job.CreatedAt.UTC().Format("2006.01.02")
	}
	opponent := job.Opponent
	if opponent == "" {
		opponent = "?"
	}

	g.AddTagPair("Event", "Analysis "+job.ID)
	g.AddTagPair("Site", site)
	g.AddTagPair("Date", date)
	g.AddTagPair("White", opponent)
	g.AddTagPair("Black", opponent)
	if job.FEN != "" {
		g.AddTagPair("SetUp", "1")
		g.AddTagPair("FEN", job.FEN)
	}
	g.AddTagPair("Annotator", "sfcluster")
	if s := job.Snapshot.Score; s.Kind != protocol.ScoreNone {
		g.AddTagPair("Eval", s.String())
	}
	if job.Snapshot.Depth > 0 {
		g.AddTagPair("Depth", strconv.Itoa(job.Snapshot.Depth))
	}
	g.AddTagPair("PlyCount", strconv.Itoa(played))

	if _, err := io.WriteString(w, g.String()); err != nil {
		return fmt.Errorf("write pgn: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("write pgn: %w", err)
	}
	return nil
}
