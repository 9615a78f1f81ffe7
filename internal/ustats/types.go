package ustats

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// StatType classifies a stat and decides how its value is interpreted.
type StatType uint8

const (
	CycleCounter StatType = iota
	IntegerCounter
	FloatCounter
)

func (t StatType) String() string {
	switch t {
	case CycleCounter:
		return "CycleCounter"
	case IntegerCounter:
		return "IntegerCounter"
	case FloatCounter:
		return "FloatCounter"
	}
	return fmt.Sprintf("StatType(%d)", uint8(t))
}

// Valid reports whether t is one of the known stat types.
func (t StatType) Valid() bool {
	return t <= FloatCounter
}

// ParseStatType is the inverse of StatType.String.
func ParseStatType(s string) (StatType, error) {
	for _, t := range []StatType{CycleCounter, IntegerCounter, FloatCounter} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown stat type %q", s)
}

// Units describes how a scaled value should be presented.
type Units int

const (
	UnitsGeneric Units = iota
	UnitsBytes
)

func (u Units) String() string {
	if u == UnitsBytes {
		return "bytes"
	}
	return "generic"
}

// StatMetadata is optional display information looked up by stat name.
type StatMetadata struct {
	Scale  float64
	Suffix string
	Units  Units
}

// Metadata maps stat names to their display metadata.
type Metadata map[string]StatMetadata

// StatDescription defines a stat once per session.
type StatDescription struct {
	StatID  uint16
	Name    string
	Type    StatType
	GroupID uint16
}

// Group is a named category of stats.
type Group struct {
	GroupID    uint16
	Name       string
	OwnedStats []uint16
}

// Sample is the per-frame payload of a stat. It is implemented only by
// CycleSample, IntegerSample and FloatSample.
type Sample interface {
	Kind() StatType
	sample()
}

// CycleSample is a timed scope. InstanceID and ParentInstanceID place it in
// the call tree of its thread; a ParentInstanceID of zero marks a thread root.
type CycleSample struct {
	InstanceID       int32
	ParentInstanceID int32
	ThreadID         int32
	Cycles           int32
	CallsPerFrame    uint16
}

type IntegerSample struct {
	Value int32
}

type FloatSample struct {
	Value float64
}

func (CycleSample) Kind() StatType   { return CycleCounter }
func (IntegerSample) Kind() StatType { return IntegerCounter }
func (FloatSample) Kind() StatType   { return FloatCounter }

func (CycleSample) sample()   {}
func (IntegerSample) sample() {}
func (FloatSample) sample()   {}

// NoParent is the Parent index of a stat without a parent in its frame.
const NoParent = -1

// Stat is one sample instance within a frame. The fields below Sample are
// filled in by StatFile.FixupRecentItems.
type Stat struct {
	StatID uint16
	Sample Sample

	Name    string
	Type    StatType
	GroupID uint16

	// Value is milliseconds for cycle counters and the metadata scaled raw
	// value for the other counters.
	Value float64
	// ValueInMS is the inclusive time of a cycle counter.
	ValueInMS float64
	// SelfMS is ValueInMS minus the inclusive time of the children, never negative.
	SelfMS float64

	// Parent and Children index into the owning Frame.Stats.
	Parent   int
	Children []int
}

// NewCycleStat builds an unresolved cycle counter sample.
func NewCycleStat(id uint16, s CycleSample) Stat {
	return Stat{StatID: id, Sample: s, Parent: NoParent}
}

// NewIntegerStat builds an unresolved integer counter sample.
func NewIntegerStat(id uint16, v int32) Stat {
	return Stat{StatID: id, Sample: IntegerSample{Value: v}, Parent: NoParent}
}

// NewFloatStat builds an unresolved float counter sample.
func NewFloatStat(id uint16, v float64) Stat {
	return Stat{StatID: id, Sample: FloatSample{Value: v}, Parent: NoParent}
}

// Calls returns how many calls the sample stands for. Non-cycle counters count as one.
func (s *Stat) Calls() int64 {
	if c, ok := s.Sample.(CycleSample); ok {
		return int64(c.CallsPerFrame)
	}
	return 1
}

// ThreadID returns the thread of a cycle counter, zero for other counters.
func (s *Stat) ThreadID() int32 {
	if c, ok := s.Sample.(CycleSample); ok {
		return c.ThreadID
	}
	return 0
}

// IsRoot reports whether the stat has no parent in its frame.
func (s *Stat) IsRoot() bool { return s.Parent == NoParent }

// Viewpoint is the camera position and rotation recorded with a frame.
type Viewpoint struct {
	Location [3]float32
	Rotation [3]int32
}

// PerFrameStatData aggregates every instance of one stat within a frame.
type PerFrameStatData struct {
	StatID     uint16
	Type       StatType
	Total      float64
	TotalTime  float64
	TotalCalls int64
	// Instances index into Frame.Stats.
	Instances []int
}

// Value is the figure compared by frame searches: the total time of cycle
// counters and the total of the others.
func (p *PerFrameStatData) Value() float64 {
	if p.Type == CycleCounter {
		return p.TotalTime
	}
	return p.Total
}

// Frame is one engine tick's complete set of stat samples.
type Frame struct {
	FrameNumber int32
	Viewpoint   *Viewpoint
	Stats       []Stat

	perFrame map[uint16]*PerFrameStatData
	// Stats[:resolved] have been resolved and rolled into the overall aggregates.
	resolved int
	// clamped holds the Stats indices whose self time was already reported as clamped.
	clamped map[int]struct{}
}

// NewFrame creates an empty frame.
func NewFrame(number int32) *Frame {
	return &Frame{FrameNumber: number}
}

// PerFrameStat returns the per-frame data for a stat.
func (f *Frame) PerFrameStat(id uint16) (*PerFrameStatData, bool) {
	p, ok := f.perFrame[id]
	return p, ok
}

// PerFrameStats returns every per-frame entry of the frame keyed by StatID.
func (f *Frame) PerFrameStats() map[uint16]*PerFrameStatData {
	return f.perFrame
}

// FrameTimeStat returns the first instance of the stat with the given name.
func (f *Frame) FrameTimeStat(name string) (*Stat, bool) {
	for i := range f.Stats {
		if f.Stats[i].Name == name {
			return &f.Stats[i], true
		}
	}
	return nil, false
}

// FrameTime returns the per-frame value of the named frame time stat: its
// total time for a cycle counter, its total for the other counter types.
func (f *Frame) FrameTime(name string) (float64, bool) {
	st, ok := f.FrameTimeStat(name)
	if !ok {
		return 0, false
	}
	p, ok := f.perFrame[st.StatID]
	if !ok {
		return st.Value, true
	}
	return p.Value(), true
}

// Roots returns the indices of the cycle counters without a parent, in frame order.
func (f *Frame) Roots() []int {
	var roots []int
	for i := range f.Stats {
		if f.Stats[i].Type == CycleCounter && f.Stats[i].IsRoot() {
			roots = append(roots, i)
		}
	}
	return roots
}

func (f *Frame) buildPerFrame() {
	f.perFrame = make(map[uint16]*PerFrameStatData)
	for i := range f.Stats {
		st := &f.Stats[i]
		p, ok := f.perFrame[st.StatID]
		if !ok {
			p = &PerFrameStatData{StatID: st.StatID, Type: st.Type}
			f.perFrame[st.StatID] = p
		}
		p.Total += st.Value
		if st.Type == CycleCounter {
			p.TotalTime += st.ValueInMS
		}
		p.TotalCalls += st.Calls()
		p.Instances = append(p.Instances, i)
	}
}
