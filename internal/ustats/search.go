package ustats

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Comparison is the operator used when searching frames by stat value.
type Comparison int

const (
	GreaterThan Comparison = iota
	LessThan
	EqualTo
)

func (c Comparison) String() string {
	switch c {
	case GreaterThan:
		return ">"
	case LessThan:
		return "<"
	case EqualTo:
		return "=="
	}
	return fmt.Sprintf("Comparison(%d)", int(c))
}

// ParseComparison accepts symbols (">", "<", "==") or names ("gt", "less_than", ...).
func ParseComparison(s string) (Comparison, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">", "gt", "greater", "greaterthan", "greater_than":
		return GreaterThan, nil
	case "<", "lt", "less", "lessthan", "less_than":
		return LessThan, nil
	case "=", "==", "eq", "equal", "equalto", "equal_to":
		return EqualTo, nil
	}
	return 0, errors.Errorf("unknown comparison %q", s)
}

func (c Comparison) match(v, ref float64) bool {
	switch c {
	case GreaterThan:
		return v > ref
	case LessThan:
		return v < ref
	case EqualTo:
		return v == ref
	}
	return false
}

// FrameMatches compares the per-frame value of a stat against ref. Frames in
// which the stat was not reported never match.
func FrameMatches(f *Frame, id uint16, c Comparison, ref float64) bool {
	p, ok := f.PerFrameStat(id)
	if !ok {
		return false
	}
	return c.match(p.Value(), ref)
}

// SearchFrames returns the indices of all frames matching the criteria.
func (s *StatFile) SearchFrames(id uint16, c Comparison, ref float64) []int {
	var out []int
	for i, f := range s.Frames {
		if FrameMatches(f, id, c, ref) {
			out = append(out, i)
		}
	}
	return out
}
