package protocol

import (
	"slices"
	"time"
)

func wireScore(cp, mate *int) Score {
	switch {
	case cp != nil:
		return CpScore(*cp)
	case mate != nil:
		return MateScore(*mate)
	default:
		return Score{}
	}
}

func scoreFields(s Score) (cp, mate *int) {
	v := s.Value
	switch s.Kind {
	case ScoreCp:
		return &v, nil
	case ScoreMate:
		return nil, &v
	default:
		return nil, nil
	}
}

// PvLine converts l, normalizing a non-positive index to 1.
func (l WireLine) PvLine() PvLine {
	return PvLine{
		MultiPV:  max(l.MultiPV, 1),
		Depth:    l.Depth,
		SelDepth: l.SelDepth,
		Score:    wireScore(l.ScoreCp, l.ScoreMate),
		Nodes:    l.Nodes,
		NPS:      l.NPS,
		PV:       l.PV,
	}
}

// PvLines converts a batch of wire lines, sorted by index.
func PvLines(in []WireLine) []PvLine {
	if len(in) == 0 {
		return nil
	}
	out := make([]PvLine, 0, len(in))
	for _, l := range in {
		out = append(out, l.PvLine())
	}
	slices.SortStableFunc(out, func(a, b PvLine) int { return a.MultiPV - b.MultiPV })
	return out
}

// Snapshot converts w into a JobSnapshot.
func (w WireSnapshot) Snapshot() JobSnapshot {
	return JobSnapshot{
		Depth:    w.Depth,
		SelDepth: w.SelDepth,
		Nodes:    w.Nodes,
		NPS:      w.NPS,
		Score:    wireScore(w.ScoreCp, w.ScoreMate),
		BestMove: w.BestMove,
		PV:       w.PV,
		Lines:    PvLines(w.Lines),
	}
}

// ToWireSnapshot is the inverse of WireSnapshot.Snapshot.
func ToWireSnapshot(s JobSnapshot) WireSnapshot {
	w := WireSnapshot{
		Depth:    s.Depth,
		SelDepth: s.SelDepth,
		Nodes:    s.Nodes,
		NPS:      s.NPS,
		BestMove: s.BestMove,
		PV:       s.PV,
	}
	w.ScoreCp, w.ScoreMate = scoreFields(s.Score)
	for _, l := range s.Lines {
		wl := WireLine{
			MultiPV:  l.MultiPV,
			Depth:    l.Depth,
			SelDepth: l.SelDepth,
			Nodes:    l.Nodes,
			NPS:      l.NPS,
			PV:       l.PV,
		}
		wl.ScoreCp, wl.ScoreMate = scoreFields(l.Score)
		w.Lines = append(w.Lines, wl)
	}
	return w
}

// FromMillis converts a unix-millisecond timestamp; values <= 0 give the
// zero time.
func FromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ToMillis converts t to unix milliseconds; the zero time gives 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
