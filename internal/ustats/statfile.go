package ustats

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// DefaultFrameTimeStatName is the engine stat measuring a whole frame.
const DefaultFrameTimeStatName = "FrameTime"

// StatFile is the in-memory database of one profiling session. It is not safe
// for concurrent use: a single ingestion routine appends records and runs
// FixupRecentItems before readers look at the data.
type StatFile struct {
	// Version is the format version the data was decoded from, zero for live sessions.
	Version         int32
	SecondsPerCycle float64
	Frames          []*Frame
	Descriptions    map[uint16]*StatDescription
	Groups          map[uint16]*Group

	FrameTimeStatName     string
	RepairWarningMessages []string

	metadata Metadata
	overall  map[uint16]*AggregateStatData
	// Frames before fixedFrames-1 are fully resolved; the last of them may
	// still receive samples from a live feed.
	fixedFrames int
}

// NewStatFile creates an empty session.
func NewStatFile() *StatFile {
	return &StatFile{
		Descriptions:      make(map[uint16]*StatDescription),
		Groups:            make(map[uint16]*Group),
		FrameTimeStatName: DefaultFrameTimeStatName,
		overall:           make(map[uint16]*AggregateStatData),
	}
}

func (s *StatFile) warnf(format string, args ...any) {
	s.RepairWarningMessages = append(s.RepairWarningMessages, fmt.Sprintf(format, args...))
}

// SetMetadata attaches the display metadata table used when resolving values.
// It only affects samples resolved afterwards.
func (s *StatFile) SetMetadata(m Metadata) { s.metadata = m }

// MetadataFor returns the metadata for a stat name.
func (s *StatFile) MetadataFor(name string) (StatMetadata, bool) {
	m, ok := s.metadata[name]
	return m, ok
}

// SetSecondsPerCycle sets the cycles to time conversion factor.
func (s *StatFile) SetSecondsPerCycle(v float64) { s.SecondsPerCycle = v }

// UpdateConversionFactor reads the seconds per cycle from the payload of a
// conversion factor record (a big-endian double).
func (s *StatFile) UpdateConversionFactor(payload []byte) error {
	v, err := NewReader(payload, BigEndian).Double()
	if err != nil {
		return errors.Wrap(err, "conversion factor")
	}
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Errorf("invalid seconds per cycle %v", v)
	}
	s.SecondsPerCycle = v
	return nil
}

// AppendFrame adds a frame. Subsequent AppendStat calls target it.
func (s *StatFile) AppendFrame(f *Frame) {
	s.Frames = append(s.Frames, f)
}

// AppendStat adds a sample to the most recent frame.
func (s *StatFile) AppendStat(st Stat) {
	if len(s.Frames) == 0 {
		s.warnf("Stat update for StatId %d received before any frame; sample dropped", st.StatID)
		return
	}
	if st.Sample == nil {
		s.warnf("Stat update for StatId %d has no value; sample dropped", st.StatID)
		return
	}
	f := s.Frames[len(s.Frames)-1]
	f.Stats = append(f.Stats, st)
}

// AppendStatDescription adds or replaces a stat description.
func (s *StatFile) AppendStatDescription(d StatDescription) {
	if old, ok := s.Descriptions[d.StatID]; ok && old.GroupID != d.GroupID {
		if g, ok := s.Groups[old.GroupID]; ok {
			g.OwnedStats = slices.DeleteFunc(g.OwnedStats, func(id uint16) bool { return id == d.StatID })
		}
	}
	desc := d
	s.Descriptions[d.StatID] = &desc
	if g, ok := s.Groups[d.GroupID]; ok && !slices.Contains(g.OwnedStats, d.StatID) {
		g.OwnedStats = append(g.OwnedStats, d.StatID)
	}
}

// AppendGroupDescription adds or replaces a group and backfills its stats.
func (s *StatFile) AppendGroupDescription(g Group) {
	grp := &Group{GroupID: g.GroupID, Name: g.Name}
	for _, id := range s.sortedDescriptionIDs() {
		if s.Descriptions[id].GroupID == g.GroupID {
			grp.OwnedStats = append(grp.OwnedStats, id)
		}
	}
	s.Groups[g.GroupID] = grp
}

func sortedKeys[V any](m map[uint16]V) []uint16 {
	ids := lo.Keys(m)
	slices.Sort(ids)
	return ids
}

func (s *StatFile) sortedDescriptionIDs() []uint16 { return sortedKeys(s.Descriptions) }

func (s *StatFile) sortedGroupIDs() []uint16 { return sortedKeys(s.Groups) }

// StatDescriptionByName finds a description by its stat name.
func (s *StatFile) StatDescriptionByName(name string) (*StatDescription, bool) {
	for _, id := range s.sortedDescriptionIDs() {
		if d := s.Descriptions[id]; d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// FrameTime returns the frame time of a frame using the session's frame time stat.
func (s *StatFile) FrameTime(f *Frame) (float64, bool) {
	return f.FrameTime(s.FrameTimeStatName)
}

// PercentOfFrame returns the per-frame time of a stat as a percentage of the frame time.
func (s *StatFile) PercentOfFrame(f *Frame, id uint16) (float64, bool) {
	ft, ok := s.FrameTime(f)
	if !ok || ft <= 0 {
		return 0, false
	}
	p, ok := f.PerFrameStat(id)
	if !ok {
		return 0, true
	}
	return p.Value() / ft * 100, true
}

// FixupRecentItems resolves everything appended since the previous call:
// descriptions, derived values, call-tree links, per-frame data and the
// overall aggregates. Frames that did not change are left alone, so calling
// it repeatedly is safe. Problems are collected in RepairWarningMessages.
func (s *StatFile) FixupRecentItems() {
	start := max(0, s.fixedFrames-1)
	for i := start; i < len(s.Frames); i++ {
		f := s.Frames[i]
		if f.perFrame != nil && f.resolved == len(f.Stats) {
			continue
		}
		s.fixupFrame(f)
	}
	s.fixedFrames = len(s.Frames)
}

func (s *StatFile) fixupFrame(f *Frame) {
	first := f.resolved

	kept := f.Stats[:first]
	for _, st := range f.Stats[first:] {
		if st.Sample == nil {
			s.warnf("Frame %d: StatId %d has no value; sample dropped", f.FrameNumber, st.StatID)
			continue
		}
		desc, ok := s.Descriptions[st.StatID]
		if !ok {
			s.warnf("Frame %d: stat update references unknown StatId %d; sample dropped", f.FrameNumber, st.StatID)
			continue
		}
		if desc.Type != st.Sample.Kind() {
			s.warnf("Frame %d: StatId %d (%s) is described as %s but reported a %s sample; sample dropped",
				f.FrameNumber, st.StatID, desc.Name, desc.Type, st.Sample.Kind())
			continue
		}
		s.resolve(&st, desc)
		kept = append(kept, st)
	}
	f.Stats = kept

	s.linkFrame(f, first)
	f.buildPerFrame()

	for i := first; i < len(f.Stats); i++ {
		st := &f.Stats[i]
		a, ok := s.overall[st.StatID]
		if !ok {
			a = &AggregateStatData{}
			s.overall[st.StatID] = a
		}
		a.Add(st)
	}
	f.resolved = len(f.Stats)
}

func (s *StatFile) resolve(st *Stat, desc *StatDescription) {
	st.Name = desc.Name
	st.Type = desc.Type
	st.GroupID = desc.GroupID

	scale := 1.0
	if m, ok := s.metadata[desc.Name]; ok && m.Scale != 0 {
		scale = m.Scale
	}
	switch v := st.Sample.(type) {
	case CycleSample:
		st.ValueInMS = s.cyclesToMS(int64(v.Cycles))
		st.Value = st.ValueInMS
	case IntegerSample:
		st.Value = float64(v.Value) * scale
	case FloatSample:
		st.Value = v.Value * scale
	}
}

func (s *StatFile) cyclesToMS(cycles int64) float64 {
	return float64(cycles) * s.SecondsPerCycle * 1000
}

type instanceKey struct {
	thread   int32
	instance int32
}

// linkFrame rebuilds parent/child links for the whole frame and computes self
// times. Link warnings are only raised for stats from first on, so samples
// added to a frame in a later batch do not repeat earlier warnings.
func (s *StatFile) linkFrame(f *Frame, first int) {
	byInstance := make(map[instanceKey]int, len(f.Stats))
	for i := range f.Stats {
		st := &f.Stats[i]
		st.Parent = NoParent
		st.Children = nil
		c, ok := st.Sample.(CycleSample)
		if !ok {
			continue
		}
		key := instanceKey{c.ThreadID, c.InstanceID}
		if _, dup := byInstance[key]; dup {
			if i >= first {
				s.warnf("Frame %d: duplicate instance %d on thread %d for %s", f.FrameNumber, c.InstanceID, c.ThreadID, st.Name)
			}
			continue
		}
		byInstance[key] = i
	}

	for i := range f.Stats {
		st := &f.Stats[i]
		c, ok := st.Sample.(CycleSample)
		if !ok || c.ParentInstanceID == 0 {
			continue
		}
		p, ok := byInstance[instanceKey{c.ThreadID, c.ParentInstanceID}]
		if !ok || p == i {
			if i >= first {
				s.warnf("Frame %d: %s references missing parent instance %d on thread %d; treated as a thread root",
					f.FrameNumber, st.Name, c.ParentInstanceID, c.ThreadID)
			}
			continue
		}
		st.Parent = p
		f.Stats[p].Children = append(f.Stats[p].Children, i)
	}

	for i := range f.Stats {
		st := &f.Stats[i]
		c, ok := st.Sample.(CycleSample)
		if !ok {
			continue
		}
		var childCycles int64
		for _, ci := range st.Children {
			childCycles += int64(f.Stats[ci].Sample.(CycleSample).Cycles)
		}
		self := int64(c.Cycles) - childCycles
		if self < 0 {
			if _, seen := f.clamped[i]; !seen {
				s.warnf("Frame %d: %s inclusive time %.4fms is smaller than its children's %.4fms; self time clamped to 0",
					f.FrameNumber, st.Name, st.ValueInMS, s.cyclesToMS(childCycles))
				if f.clamped == nil {
					f.clamped = make(map[int]struct{})
				}
				f.clamped[i] = struct{}{}
			}
			self = 0
		}
		st.SelfMS = s.cyclesToMS(self)
	}
}
