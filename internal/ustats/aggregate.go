package ustats

import (
	"strings"

	"github.com/pkg/errors"
)

// AggregateStatData accumulates min/max/average figures over stat instances.
// The zero value is ready to use and reports zero for every figure.
type AggregateStatData struct {
	NumStats   int
	Min        float64
	Max        float64
	Sum        float64
	TotalCalls int64
}

// Add folds one stat instance into the aggregate.
func (a *AggregateStatData) Add(st *Stat) {
	v := st.Value
	if a.NumStats == 0 {
		a.Min, a.Max = v, v
	} else {
		a.Min = min(a.Min, v)
		a.Max = max(a.Max, v)
	}
	a.NumStats++
	a.Sum += v
	a.TotalCalls += st.Calls()
}

// Average is the running sum divided by the number of instances.
func (a *AggregateStatData) Average() float64 {
	if a.NumStats == 0 {
		return 0
	}
	return a.Sum / float64(a.NumStats)
}

// AveragePerCall is the running sum divided by the running sum of calls.
func (a *AggregateStatData) AveragePerCall() float64 {
	if a.TotalCalls == 0 {
		return 0
	}
	return a.Sum / float64(a.TotalCalls)
}

// AggregateMode selects between whole-session and windowed statistics.
type AggregateMode int

const (
	Overall AggregateMode = iota
	Ranged
)

func (m AggregateMode) String() string {
	if m == Ranged {
		return "ranged"
	}
	return "overall"
}

// ParseAggregateMode accepts "overall" or "ranged".
func ParseAggregateMode(s string) (AggregateMode, error) {
	switch strings.ToLower(s) {
	case "", "overall", "ovrl":
		return Overall, nil
	case "ranged", "rng":
		return Ranged, nil
	}
	return Overall, errors.Errorf("unknown aggregate mode %q", s)
}

// ErrInvalidRange is returned for a frame window outside the loaded frames.
var ErrInvalidRange = errors.New("invalid frame range")

// OverallAggregate returns the session-wide aggregate for a stat.
func (s *StatFile) OverallAggregate(id uint16) AggregateStatData {
	if a, ok := s.overall[id]; ok {
		return *a
	}
	return AggregateStatData{}
}

// OverallAggregates returns a copy of the session-wide aggregate table.
func (s *StatFile) OverallAggregates() map[uint16]AggregateStatData {
	out := make(map[uint16]AggregateStatData, len(s.overall))
	for id, a := range s.overall {
		out[id] = *a
	}
	return out
}

// RangedAggregates recomputes aggregates over frames [start, end). When ids is
// empty every stat seen in the window is included.
func (s *StatFile) RangedAggregates(start, end int, ids ...uint16) (map[uint16]AggregateStatData, error) {
	if start < 0 || end > len(s.Frames) || start > end {
		return nil, errors.Wrapf(ErrInvalidRange, "[%d, %d) with %d frames", start, end, len(s.Frames))
	}
	out := make(map[uint16]*AggregateStatData)
	for _, id := range ids {
		out[id] = &AggregateStatData{}
	}
	for _, f := range s.Frames[start:end] {
		if len(ids) > 0 {
			for _, id := range ids {
				if p, ok := f.perFrame[id]; ok {
					addInstances(out[id], f, p)
				}
			}
			continue
		}
		// Walk the frame in stat order so sums accumulate exactly as the
		// overall table does.
		for i := range f.Stats {
			st := &f.Stats[i]
			a, ok := out[st.StatID]
			if !ok {
				a = &AggregateStatData{}
				out[st.StatID] = a
			}
			a.Add(st)
		}
	}
	res := make(map[uint16]AggregateStatData, len(out))
	for id, a := range out {
		res[id] = *a
	}
	return res, nil
}

func addInstances(a *AggregateStatData, f *Frame, p *PerFrameStatData) {
	for _, idx := range p.Instances {
		a.Add(&f.Stats[idx])
	}
}

// Aggregates returns either the overall table or a ranged table.
func (s *StatFile) Aggregates(mode AggregateMode, start, end int) (map[uint16]AggregateStatData, error) {
	if mode == Ranged {
		return s.RangedAggregates(start, end)
	}
	return s.OverallAggregates(), nil
}
