package analyzer

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"statsviewer-mcp/internal/ustats"
)

// FormatValue renders a stat value with its unit. Cycle counters are in
// milliseconds, byte counters are humanized and other counters use the
// metadata suffix.
func FormatValue(file *ustats.StatFile, d *ustats.StatDescription, v float64) string {
	if d == nil {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	if d.Type == ustats.CycleCounter {
		return fmt.Sprintf("%.3f ms", v)
	}
	md, ok := file.MetadataFor(d.Name)
	if !ok {
		if d.Type == ustats.IntegerCounter {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	if md.Units == ustats.UnitsBytes && !math.IsNaN(v) && v >= 0 {
		return humanize.Bytes(uint64(v))
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if md.Suffix != "" {
		s += " " + md.Suffix
	}
	return s
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// RenderAggregates writes one row per stat, sorted by group then name.
func RenderAggregates(w io.Writer, file *ustats.StatFile, aggs map[uint16]ustats.AggregateStatData) {
	ids := lo.Keys(aggs)
	slices.SortFunc(ids, func(a, b uint16) int {
		ga, na := describe(file, a)
		gb, nb := describe(file, b)
		if c := strings.Compare(ga, gb); c != 0 {
			return c
		}
		if c := strings.Compare(na, nb); c != 0 {
			return c
		}
		return int(a) - int(b)
	})

	table := newTable(w, "Group", "Stat", "Type", "Count", "Average", "Min", "Max", "Per Call", "Calls")
	for _, id := range ids {
		a := aggs[id]
		group, name := describe(file, id)
		d := file.Descriptions[id]
		typ := "?"
		if d != nil {
			typ = d.Type.String()
		}
		table.Append([]string{
			group,
			name,
			typ,
			strconv.Itoa(a.NumStats),
			FormatValue(file, d, a.Average()),
			FormatValue(file, d, a.Min),
			FormatValue(file, d, a.Max),
			FormatValue(file, d, a.AveragePerCall()),
			humanize.Comma(a.TotalCalls),
		})
	}
	table.Render()
}

func describe(file *ustats.StatFile, id uint16) (group, name string) {
	d, ok := file.Descriptions[id]
	if !ok {
		return "", fmt.Sprintf("#%d", id)
	}
	if g, ok := file.Groups[d.GroupID]; ok {
		group = g.Name
	}
	return group, d.Name
}

// RenderHotspots writes the ranked hotspots as a table.
func RenderHotspots(w io.Writer, hotspots []Hotspot) {
	table := newTable(w, "#", "Group", "Stat", "Inclusive/Frame", "Self/Frame", "% Frame", "Avg", "Max", "Calls")
	for i, hs := range hotspots {
		table.Append([]string{
			strconv.Itoa(i + 1),
			hs.Group,
			hs.Name,
			fmt.Sprintf("%.3f ms", hs.InclusivePerFrame),
			fmt.Sprintf("%.3f ms", hs.SelfPerFrame),
			fmt.Sprintf("%.2f%%", hs.PercentOfFrame),
			fmt.Sprintf("%.3f ms", hs.Aggregate.Average()),
			fmt.Sprintf("%.3f ms", hs.Aggregate.Max),
			humanize.Comma(hs.Aggregate.TotalCalls),
		})
	}
	table.Render()
}

// RenderStatistics writes the session summary as a two column table.
func RenderStatistics(w io.Writer, s SessionStatistics) {
	table := newTable(w, "Property", "Value")
	table.Append([]string{"Version", strconv.Itoa(int(s.Version))})
	table.Append([]string{"Seconds per cycle", strconv.FormatFloat(s.SecondsPerCycle, 'g', -1, 64)})
	table.Append([]string{"Frames", humanize.Comma(int64(s.Frames))})
	if s.Frames > 0 {
		table.Append([]string{"Frame numbers", fmt.Sprintf("%d - %d", s.FirstFrame, s.LastFrame)})
	}
	table.Append([]string{"Missing frames", fmt.Sprintf("%d in %d gaps", s.MissingFrames(), len(s.FrameGaps))})
	table.Append([]string{"Samples", humanize.Comma(int64(s.Samples))})
	table.Append([]string{"Threads", strings.Join(lo.Map(s.Threads, func(t int32, _ int) string { return strconv.Itoa(int(t)) }), ", ")})
	table.Append([]string{"Stat descriptions", fmt.Sprintf("%d (%d cycle, %d integer, %d float)", s.Descriptions, s.CycleStats, s.IntegerStats, s.FloatStats)})
	table.Append([]string{"Groups", fmt.Sprintf("%d (%d empty)", s.Groups, s.EmptyGroups)})
	if s.HasFrameTime {
		table.Append([]string{"Frame time", fmt.Sprintf("min %.3f ms, avg %.3f ms, max %.3f ms", s.MinFrameTime, s.AverageFrameTime, s.MaxFrameTime)})
	}
	table.Append([]string{"Repair warnings", strconv.Itoa(s.Warnings)})
	table.Render()
}

// RenderFrameTimes writes the frame time distribution followed by the worst spikes.
func RenderFrameTimes(w io.Writer, a FrameTimeAnalysis, maxSpikes int) {
	table := newTable(w, "Measure", "Value")
	table.Append([]string{"Stat", a.StatName})
	table.Append([]string{"Target", fmt.Sprintf("%.0f FPS (%.2f ms)", a.TargetFPS, a.BudgetMS)})
	table.Append([]string{"Frames", strconv.Itoa(a.Frames)})
	table.Append([]string{"Average", fmt.Sprintf("%.3f ms (%.1f FPS)", a.AverageMS, a.AverageFPS)})
	table.Append([]string{"Min / Median / Max", fmt.Sprintf("%.3f / %.3f / %.3f ms", a.MinMS, a.MedianMS, a.MaxMS)})
	table.Append([]string{"P95 / P99", fmt.Sprintf("%.3f / %.3f ms", a.P95MS, a.P99MS)})
	table.Append([]string{"Over budget", fmt.Sprintf("%d (%.2f%%)", a.OverBudget, a.OverBudgetPercent)})
	table.Append([]string{"Spikes", strconv.Itoa(len(a.Spikes))})
	table.Render()

	spikes := a.Spikes
	if maxSpikes > 0 && len(spikes) > maxSpikes {
		spikes = spikes[:maxSpikes]
	}
	if len(spikes) == 0 {
		return
	}
	fmt.Fprintln(w)
	st := newTable(w, "Frame", "Index", "Time", "x Median")
	for _, s := range spikes {
		st.Append([]string{
			strconv.Itoa(int(s.FrameNumber)),
			strconv.Itoa(s.Index),
			fmt.Sprintf("%.3f ms", s.FrameTime),
			fmt.Sprintf("%.2f", s.Ratio),
		})
	}
	st.Render()
}

// FormatIssues groups issues by severity for display.
func FormatIssues(issues []PerformanceIssue) string {
	var sb strings.Builder
	if len(issues) == 0 {
		sb.WriteString("No significant performance issues detected.\n")
		return sb.String()
	}

	bySeverity := lo.GroupBy(issues, func(i PerformanceIssue) Severity { return i.Severity })
	for _, sev := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		list := bySeverity[sev]
		if len(list) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s ISSUES:\n\n", strings.ToUpper(string(sev))))
		for i, issue := range list {
			sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, issue.Category, issue.Description))
			if issue.Stat != "" {
				sb.WriteString(fmt.Sprintf("   Stat: %s\n", issue.Stat))
			}
			if issue.Impact > 0 {
				sb.WriteString(fmt.Sprintf("   Impact: %.2f%%\n", issue.Impact))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("SUMMARY:\n")
	for _, sev := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		sb.WriteString(fmt.Sprintf("   %s: %d\n", sev, len(bySeverity[sev])))
	}
	return sb.String()
}
