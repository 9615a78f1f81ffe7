package analyzer

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"statsviewer-mcp/internal/ustats"
)

// SessionStatistics contains summary figures about a loaded stats session
type SessionStatistics struct {
	Version         int32
	SecondsPerCycle float64

	Frames       int
	FirstFrame   int32
	LastFrame    int32
	FrameGaps    []FrameGap
	Samples      int
	Threads      []int32
	Warnings     int
	HasFrameTime bool

	Descriptions int
	CycleStats   int
	IntegerStats int
	FloatStats   int
	Groups       int
	EmptyGroups  int

	MinFrameTime     float64
	AverageFrameTime float64
	MaxFrameTime     float64
}

// FrameGap is a jump in frame numbers between two consecutive frames.
type FrameGap struct {
	Index   int // index of the frame after the gap
	After   int32
	Before  int32
	Missing int
}

// ComputeStatistics calculates summary statistics for the session
func ComputeStatistics(file *ustats.StatFile) SessionStatistics {
	stats := SessionStatistics{
		Version:         file.Version,
		SecondsPerCycle: file.SecondsPerCycle,
		Frames:          len(file.Frames),
		Descriptions:    len(file.Descriptions),
		Groups:          len(file.Groups),
		Warnings:        len(file.RepairWarningMessages),
	}

	for _, d := range file.Descriptions {
		switch d.Type {
		case ustats.CycleCounter:
			stats.CycleStats++
		case ustats.IntegerCounter:
			stats.IntegerStats++
		case ustats.FloatCounter:
			stats.FloatStats++
		}
	}
	stats.EmptyGroups = len(lo.Filter(lo.Values(file.Groups), func(g *ustats.Group, _ int) bool {
		return len(g.OwnedStats) == 0
	}))

	if stats.Frames == 0 {
		return stats
	}
	stats.FirstFrame = file.Frames[0].FrameNumber
	stats.LastFrame = file.Frames[len(file.Frames)-1].FrameNumber

	var threads []int32
	var frameTimes []float64
	for i, f := range file.Frames {
		stats.Samples += len(f.Stats)
		for j := range f.Stats {
			if f.Stats[j].Type == ustats.CycleCounter {
				threads = append(threads, f.Stats[j].ThreadID())
			}
		}
		if i > 0 {
			prev := file.Frames[i-1].FrameNumber
			if d := int(f.FrameNumber) - int(prev); d > 1 {
				stats.FrameGaps = append(stats.FrameGaps, FrameGap{Index: i, After: prev, Before: f.FrameNumber, Missing: d - 1})
			}
		}
		if ft, ok := file.FrameTime(f); ok {
			frameTimes = append(frameTimes, ft)
		}
	}
	stats.Threads = lo.Uniq(threads)
	slices.Sort(stats.Threads)

	if len(frameTimes) > 0 {
		stats.HasFrameTime = true
		stats.MinFrameTime = slices.Min(frameTimes)
		stats.MaxFrameTime = slices.Max(frameTimes)
		stats.AverageFrameTime = lo.Sum(frameTimes) / float64(len(frameTimes))
	}
	return stats
}

// MissingFrames returns the total number of frames lost in gaps.
func (s SessionStatistics) MissingFrames() int {
	return lo.SumBy(s.FrameGaps, func(g FrameGap) int { return g.Missing })
}

// FrameSpike is a frame whose time is well above the session median.
type FrameSpike struct {
	Index       int
	FrameNumber int32
	FrameTime   float64
	Ratio       float64 // frame time divided by the median
}

// FrameTimeAnalysis describes the frame time distribution against a target frame rate.
type FrameTimeAnalysis struct {
	StatName  string
	TargetFPS float64
	BudgetMS  float64

	Frames     int
	MinMS      float64
	AverageMS  float64
	MedianMS   float64
	P95MS      float64
	P99MS      float64
	MaxMS      float64
	AverageFPS float64

	OverBudget        int
	OverBudgetPercent float64
	Spikes            []FrameSpike
}

// SpikeFactor is how many times the median a frame must take to count as a spike.
const SpikeFactor = 2.0

// ErrNoFrameTime is returned when no frame reports the frame time stat.
var ErrNoFrameTime = errors.New("no frame time samples")

// AnalyzeFrameTimes measures every frame against the budget of targetFPS.
func AnalyzeFrameTimes(file *ustats.StatFile, targetFPS float64) (FrameTimeAnalysis, error) {
	if targetFPS <= 0 || math.IsInf(targetFPS, 0) || math.IsNaN(targetFPS) {
		return FrameTimeAnalysis{}, errors.Errorf("invalid target fps %v", targetFPS)
	}
	a := FrameTimeAnalysis{
		StatName:  file.FrameTimeStatName,
		TargetFPS: targetFPS,
		BudgetMS:  1000 / targetFPS,
	}

	type sample struct {
		index int
		ms    float64
	}
	var samples []sample
	for i, f := range file.Frames {
		if ft, ok := file.FrameTime(f); ok {
			samples = append(samples, sample{i, ft})
		}
	}
	if len(samples) == 0 {
		return a, errors.Wrapf(ErrNoFrameTime, "stat %q", file.FrameTimeStatName)
	}

	sorted := lo.Map(samples, func(s sample, _ int) float64 { return s.ms })
	slices.Sort(sorted)
	a.Frames = len(sorted)
	a.MinMS = sorted[0]
	a.MaxMS = sorted[len(sorted)-1]
	a.AverageMS = lo.Sum(sorted) / float64(len(sorted))
	a.MedianMS = percentile(sorted, 50)
	a.P95MS = percentile(sorted, 95)
	a.P99MS = percentile(sorted, 99)
	if a.AverageMS > 0 {
		a.AverageFPS = 1000 / a.AverageMS
	}

	for _, s := range samples {
		if s.ms > a.BudgetMS {
			a.OverBudget++
		}
		if a.MedianMS > 0 && s.ms >= SpikeFactor*a.MedianMS {
			a.Spikes = append(a.Spikes, FrameSpike{
				Index:       s.index,
				FrameNumber: file.Frames[s.index].FrameNumber,
				FrameTime:   s.ms,
				Ratio:       s.ms / a.MedianMS,
			})
		}
	}
	a.OverBudgetPercent = float64(a.OverBudget) / float64(a.Frames) * 100
	slices.SortStableFunc(a.Spikes, func(x, y FrameSpike) int {
		switch {
		case x.FrameTime > y.FrameTime:
			return -1
		case x.FrameTime < y.FrameTime:
			return 1
		}
		return 0
	})
	return a, nil
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	rank = max(1, min(rank, len(sorted)))
	return sorted[rank-1]
}

// Severity ranks a detected issue.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// PerformanceIssue is one finding of the heuristic analysis
type PerformanceIssue struct {
	Severity    Severity
	Category    string // e.g. "Frame Budget", "Stutter", "Stat Hotspot"
	Description string
	Stat        string
	Impact      float64 // % of frame time or % of frames affected
}

// DetectPerformanceIssues identifies potential performance problems
func DetectPerformanceIssues(file *ustats.StatFile, targetFPS float64) []PerformanceIssue {
	issues := []PerformanceIssue{}

	if ft, err := AnalyzeFrameTimes(file, targetFPS); err == nil {
		if ft.OverBudget > 0 {
			sev := SeverityMedium
			switch {
			case ft.OverBudgetPercent > 50:
				sev = SeverityCritical
			case ft.OverBudgetPercent > 10:
				sev = SeverityHigh
			}
			issues = append(issues, PerformanceIssue{
				Severity:    sev,
				Category:    "Frame Budget",
				Description: fmt.Sprintf("%d of %d frames (%.2f%%) exceed the %.2f ms budget of %.0f FPS", ft.OverBudget, ft.Frames, ft.OverBudgetPercent, ft.BudgetMS, targetFPS),
				Stat:        ft.StatName,
				Impact:      ft.OverBudgetPercent,
			})
		}
		if n := len(ft.Spikes); n > 0 {
			sev := SeverityMedium
			if float64(n)/float64(ft.Frames) > 0.05 {
				sev = SeverityHigh
			}
			worst := ft.Spikes[0]
			issues = append(issues, PerformanceIssue{
				Severity:    sev,
				Category:    "Stutter",
				Description: fmt.Sprintf("%d frames take at least %.0fx the median of %.2f ms; worst is frame %d at %.2f ms", n, SpikeFactor, ft.MedianMS, worst.FrameNumber, worst.FrameTime),
				Stat:        ft.StatName,
				Impact:      float64(n) / float64(ft.Frames) * 100,
			})
		}
	}

	hotspots, err := FindHotspots(file, HotspotOptions{Mode: ustats.Overall, TopN: 10, BySelf: true})
	if err == nil {
		for _, hs := range hotspots {
			if hs.Name == file.FrameTimeStatName {
				continue
			}
			var sev Severity
			switch {
			case hs.PercentOfFrame > 20:
				sev = SeverityCritical
			case hs.PercentOfFrame > 10:
				sev = SeverityHigh
			default:
				continue
			}
			issues = append(issues, PerformanceIssue{
				Severity:    sev,
				Category:    "Stat Hotspot",
				Description: fmt.Sprintf("Stat spends %.2f%% of frame time in its own scope (%.3f ms self per frame)", hs.PercentOfFrame, hs.SelfPerFrame),
				Stat:        hs.Name,
				Impact:      hs.PercentOfFrame,
			})
		}
	}

	stats := ComputeStatistics(file)
	if missing := stats.MissingFrames(); missing > 0 {
		issues = append(issues, PerformanceIssue{
			Severity:    SeverityLow,
			Category:    "Missing Frames",
			Description: fmt.Sprintf("%d frame numbers are missing across %d gaps", missing, len(stats.FrameGaps)),
		})
	}
	if stats.Warnings > 0 {
		issues = append(issues, PerformanceIssue{
			Severity:    SeverityLow,
			Category:    "Data Integrity",
			Description: fmt.Sprintf("%d repair warnings were recorded while loading", stats.Warnings),
		})
	}

	// Sort by impact (descending)
	slices.SortStableFunc(issues, func(a, b PerformanceIssue) int {
		switch {
		case a.Impact > b.Impact:
			return -1
		case a.Impact < b.Impact:
			return 1
		}
		return 0
	})
	return issues
}
