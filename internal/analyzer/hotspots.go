package analyzer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"statsviewer-mcp/internal/ustats"
)

// Hotspot is a cycle counter ranked by the time it consumes
type Hotspot struct {
	StatID    uint16
	Name      string
	Group     string
	Aggregate ustats.AggregateStatData

	// Per-frame averages over the frames of the window, in milliseconds.
	InclusivePerFrame float64
	SelfPerFrame      float64
	// Share of the window's frame time, inclusive or self depending on the ranking.
	PercentOfFrame float64
	FramesPresent  int
}

// HotspotOptions selects the frame window and the ranking.
type HotspotOptions struct {
	Mode       ustats.AggregateMode
	Start, End int // frame window for Ranged mode
	TopN       int // 0 returns everything
	BySelf     bool
}

// FindHotspots ranks the cycle counters of the session by average time per frame
// Returns hotspots sorted descending by the selected measure
func FindHotspots(file *ustats.StatFile, opts HotspotOptions) ([]Hotspot, error) {
	start, end := 0, len(file.Frames)
	if opts.Mode == ustats.Ranged {
		start, end = opts.Start, opts.End
	}
	aggs, err := file.Aggregates(opts.Mode, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate stats")
	}

	hotspotMap := make(map[uint16]*Hotspot)
	var frameTime float64
	frames := end - start
	for _, f := range file.Frames[start:end] {
		if ft, ok := file.FrameTime(f); ok {
			frameTime += ft
		}
		for id, p := range f.PerFrameStats() {
			if p.Type != ustats.CycleCounter {
				continue
			}
			hs, ok := hotspotMap[id]
			if !ok {
				hs = &Hotspot{StatID: id, Aggregate: aggs[id]}
				if d, ok := file.Descriptions[id]; ok {
					hs.Name = d.Name
					if g, ok := file.Groups[d.GroupID]; ok {
						hs.Group = g.Name
					}
				}
				hotspotMap[id] = hs
			}
			hs.FramesPresent++
			hs.InclusivePerFrame += p.TotalTime
			for _, idx := range p.Instances {
				hs.SelfPerFrame += f.Stats[idx].SelfMS
			}
		}
	}

	hotspots := lo.Values(hotspotMap)
	for _, hs := range hotspots {
		measure := hs.InclusivePerFrame
		if opts.BySelf {
			measure = hs.SelfPerFrame
		}
		if frameTime > 0 {
			hs.PercentOfFrame = measure / frameTime * 100
		}
		if frames > 0 {
			hs.InclusivePerFrame /= float64(frames)
			hs.SelfPerFrame /= float64(frames)
		}
	}

	slices.SortFunc(hotspots, func(a, b *Hotspot) int {
		ma, mb := a.InclusivePerFrame, b.InclusivePerFrame
		if opts.BySelf {
			ma, mb = a.SelfPerFrame, b.SelfPerFrame
		}
		switch {
		case ma > mb:
			return -1
		case ma < mb:
			return 1
		}
		return int(a.StatID) - int(b.StatID)
	})

	if opts.TopN > 0 && opts.TopN < len(hotspots) {
		hotspots = hotspots[:opts.TopN]
	}
	return lo.Map(hotspots, func(hs *Hotspot, _ int) Hotspot { return *hs }), nil
}

// CallTreeNode is one stat instance in a frame's call tree
type CallTreeNode struct {
	Index          int // position in Frame.Stats
	StatID         uint16
	Name           string
	ThreadID       int32
	InclusiveMS    float64
	SelfMS         float64
	Calls          int64
	PercentOfFrame float64
	Children       []*CallTreeNode
}

// BuildCallTree returns the call trees of a frame, one root per top level
// cycle counter. A negative thread includes every thread.
func BuildCallTree(file *ustats.StatFile, frameIndex int, thread int32) ([]*CallTreeNode, error) {
	if frameIndex < 0 || frameIndex >= len(file.Frames) {
		return nil, errors.Wrapf(ustats.ErrInvalidRange, "frame %d of %d", frameIndex, len(file.Frames))
	}
	f := file.Frames[frameIndex]
	frameTime, _ := file.FrameTime(f)

	visited := make(map[int]bool)
	var build func(idx int) *CallTreeNode
	build = func(idx int) *CallTreeNode {
		visited[idx] = true
		st := &f.Stats[idx]
		node := &CallTreeNode{
			Index:       idx,
			StatID:      st.StatID,
			Name:        st.Name,
			ThreadID:    st.ThreadID(),
			InclusiveMS: st.ValueInMS,
			SelfMS:      st.SelfMS,
			Calls:       st.Calls(),
		}
		if frameTime > 0 {
			node.PercentOfFrame = st.ValueInMS / frameTime * 100
		}
		for _, c := range st.Children {
			if c < 0 || c >= len(f.Stats) || visited[c] {
				continue
			}
			node.Children = append(node.Children, build(c))
		}
		return node
	}

	var roots []*CallTreeNode
	for _, idx := range f.Roots() {
		if thread >= 0 && f.Stats[idx].ThreadID() != thread {
			continue
		}
		roots = append(roots, build(idx))
	}
	return roots, nil
}

// Threads returns the distinct threads reporting cycle counters in a frame.
func Threads(f *ustats.Frame) []int32 {
	threads := lo.Uniq(lo.FilterMap(f.Stats, func(st ustats.Stat, _ int) (int32, bool) {
		return st.ThreadID(), st.Type == ustats.CycleCounter
	}))
	slices.Sort(threads)
	return threads
}

// FormatCallTree renders call trees as an indented outline. maxDepth of 0 is unlimited.
func FormatCallTree(roots []*CallTreeNode, maxDepth int) string {
	var sb strings.Builder
	var walk func(n *CallTreeNode, depth int)
	walk = func(n *CallTreeNode, depth int) {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(fmt.Sprintf("%s  %.3f ms (self %.3f ms, %.1f%%) x%d\n", n.Name, n.InclusiveMS, n.SelfMS, n.PercentOfFrame, n.Calls))
		if maxDepth > 0 && depth+1 >= maxDepth {
			return
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	thread := int32(-1)
	for _, r := range roots {
		if r.ThreadID != thread {
			thread = r.ThreadID
			sb.WriteString(fmt.Sprintf("[thread %d]\n", thread))
		}
		walk(r, 0)
	}
	return sb.String()
}

// FormatHotspot returns a human-readable string representation of a hotspot
func FormatHotspot(hs Hotspot, rank int) string {
	var sb strings.Builder

	name := hs.Name
	if hs.Group != "" {
		name = hs.Group + "/" + hs.Name
	}
	sb.WriteString(fmt.Sprintf("#%d: %s\n", rank, name))
	sb.WriteString(fmt.Sprintf("    Per frame: %.3f ms inclusive, %.3f ms self (%.2f%%)\n", hs.InclusivePerFrame, hs.SelfPerFrame, hs.PercentOfFrame))
	sb.WriteString(fmt.Sprintf("    Per instance: avg %.3f ms, min %.3f ms, max %.3f ms over %d instances\n",
		hs.Aggregate.Average(), hs.Aggregate.Min, hs.Aggregate.Max, hs.Aggregate.NumStats))
	if hs.Aggregate.TotalCalls > 0 {
		sb.WriteString(fmt.Sprintf("    Per call: %.4f ms (%d calls)\n", hs.Aggregate.AveragePerCall(), hs.Aggregate.TotalCalls))
	}

	return sb.String()
}
