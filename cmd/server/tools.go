package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"statsviewer-mcp/internal/analyzer"
	"statsviewer-mcp/internal/ustats"
)

const header = "═══════════════════════════════════════════════════\n\n"

var filePathArg = mcp.WithString("file_path",
	mcp.Required(),
	mcp.Description("Path of a loaded .ustats/.xml file, or live:<name> for a live capture"),
)

// resolveStat accepts a stat name or a numeric StatId.
func resolveStat(file *ustats.StatFile, ref string) (*ustats.StatDescription, error) {
	if d, ok := file.StatDescriptionByName(ref); ok {
		return d, nil
	}
	if id, err := strconv.ParseUint(ref, 10, 16); err == nil {
		if d, ok := file.Descriptions[uint16(id)]; ok {
			return d, nil
		}
	}
	return nil, errors.Errorf("unknown stat %q", ref)
}

// frameWindow reads the optional [start_frame, end_frame) window; end defaults to the last frame.
func frameWindow(request mcp.CallToolRequest, file *ustats.StatFile) (int, int) {
	start := request.GetInt("start_frame", 0)
	end := request.GetInt("end_frame", len(file.Frames))
	return start, end
}

func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func registerTools(s *server.MCPServer, st *store) {
	// Tool 1: Load Stats
	s.AddTool(mcp.NewTool("load_stats",
		mcp.WithDescription("Load a .ustats binary stats file (versions 1-3) or a stats XML export for analysis"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path to the .ustats or .xml file"),
		),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			return toolError(err)
		}

		file, res, err := st.load(filePath)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to load stats: %v", err)), nil
		}

		var sb strings.Builder
		sb.WriteString("Stats loaded successfully!\n\n")
		sb.WriteString(fmt.Sprintf("File: %s\nVersion: %d (%s)\nFrames: %d\nStats: %d\nGroups: %d\n",
			filePath, res.Version, res.Endianness, len(file.Frames), len(file.Descriptions), len(file.Groups)))
		if res.Truncated {
			sb.WriteString("\nThe file ended early; everything before the incomplete chunk was kept.\n")
		}
		writeWarnings(&sb, res.Warnings, 20)
		sb.WriteString("\nUse other tools to analyze this session.\n")
		return mcp.NewToolResultText(sb.String()), nil
	})

	// Tool 2: Session Summary
	s.AddTool(mcp.NewTool("stats_summary",
		mcp.WithDescription("Summary of a session: frame count and gaps, threads, stat descriptions by type, groups and frame time range"),
		filePathArg,
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			return toolError(err)
		}
		var sb strings.Builder
		err = st.view(filePath, func(f *ustats.StatFile) error {
			stats := analyzer.ComputeStatistics(f)
			sb.WriteString("SESSION STATISTICS\n")
			sb.WriteString(header)
			analyzer.RenderStatistics(&sb, stats)
			for _, g := range stats.FrameGaps {
				sb.WriteString(fmt.Sprintf("Gap before frame %d (index %d): %d frames missing after %d\n", g.Before, g.Index, g.Missing, g.After))
			}
			return nil
		})
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})

	// Tool 3: Stat Aggregates
	s.AddTool(mcp.NewTool("stat_aggregate",
		mcp.WithDescription("Min/max/average per stat instance, overall or over a frame range. Cycle counters are reported in milliseconds."),
		filePathArg,
		mcp.WithString("stat", mcp.Description("Stat name or id; all stats when omitted")),
		mcp.WithString("mode", mcp.Enum("overall", "ranged"), mcp.Description("overall (default) or ranged")),
		mcp.WithNumber("start_frame", mcp.Description("First frame index of the range (ranged mode)")),
		mcp.WithNumber("end_frame", mcp.Description("Frame index one past the end of the range (ranged mode)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			return toolError(err)
		}
		mode, err := ustats.ParseAggregateMode(request.GetString("mode", "overall"))
		if err != nil {
			return toolError(err)
		}
		statRef := request.GetString("stat", "")

		var sb strings.Builder
		err = st.view(filePath, func(f *ustats.StatFile) error {
			start, end := frameWindow(request, f)
			aggs, err := f.Aggregates(mode, start, end)
			if err != nil {
				return err
			}
			if statRef != "" {
				d, err := resolveStat(f, statRef)
				if err != nil {
					return err
				}
				aggs = map[uint16]ustats.AggregateStatData{d.StatID: aggs[d.StatID]}
			}
			sb.WriteString(fmt.Sprintf("STAT AGGREGATES (%s", mode))
			if mode == ustats.Ranged {
				sb.WriteString(fmt.Sprintf(" frames %d-%d", start, end))
			}
			sb.WriteString(")\n")
			sb.WriteString(header)
			analyzer.RenderAggregates(&sb, f, aggs)
			return nil
		})
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})

	// Tool 4: Find Hotspots
	s.AddTool(mcp.NewTool("find_hotspots",
		mcp.WithDescription("Rank cycle counters by average time per frame. This is the most important tool for finding what a frame spends its time on."),
		filePathArg,
		mcp.WithNumber("top_n", mcp.Description("Number of hotspots to return (default: 10)")),
		mcp.WithBoolean("by_self", mcp.Description("Rank by self time instead of inclusive time")),
		mcp.WithString("mode", mcp.Enum("overall", "ranged"), mcp.Description("overall (default) or ranged")),
		mcp.WithNumber("start_frame", mcp.Description("First frame index of the range (ranged mode)")),
		mcp.WithNumber("end_frame", mcp.Description("Frame index one past the end of the range (ranged mode)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			return toolError(err)
		}
		mode, err := ustats.ParseAggregateMode(request.GetString("mode", "overall"))
		if err != nil {
			return toolError(err)
		}
		bySelf := request.GetBool("by_self", false)

		var sb strings.Builder
		err = st.view(filePath, func(f *ustats.StatFile) error {
			start, end := frameWindow(request, f)
			hotspots, err := analyzer.FindHotspots(f, analyzer.HotspotOptions{
				Mode:   mode,
				Start:  start,
				End:    end,
				TopN:   request.GetInt("top_n", 10),
				BySelf: bySelf,
			})
			if err != nil {
				return err
			}
			sb.WriteString("TOP STAT HOTSPOTS")
			if bySelf {
				sb.WriteString(" (by self time)")
			}
			sb.WriteString("\n")
			sb.WriteString(header)
			if len(hotspots) == 0 {
				sb.WriteString("No cycle counters found.\n")
				return nil
			}
			for i, hs := range hotspots {
				sb.WriteString(analyzer.FormatHotspot(hs, i+1))
				sb.WriteString("\n")
			}
			return nil
		})
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})

	// Tool 5: Frame Times
	s.AddTool(mcp.NewTool("analyze_frame_times",
		mcp.WithDescription("Frame time distribution against a target frame rate: percentiles, frames over budget and stutter spikes"),
		filePathArg,
		mcp.WithNumber("target_fps", mcp.Description("Target frame rate (default from configuration)")),
		mcp.WithNumber("max_spikes", mcp.Description("Number of worst spikes to list (default: 10)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			return toolError(err)
		}
		var sb strings.Builder
		err = st.view(filePath, func(f *ustats.StatFile) error {
			a, err := analyzer.AnalyzeFrameTimes(f, request.GetFloat("target_fps", st.cfg.TargetFPS))
			if err != nil {
				return err
			}
			sb.WriteString("FRAME TIME ANALYSIS\n")
			sb.WriteString(header)
			analyzer.RenderFrameTimes(&sb, a, request.GetInt("max_spikes", 10))
			return nil
		})
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})

	// Tool 6: Detect Performance Issues
	s.AddTool(mcp.NewTool("detect_performance_issues",
		mcp.WithDescription("Automatically detect potential performance issues using heuristics. This is a great starting point for performance analysis."),
		filePathArg,
		mcp.WithNumber("target_fps", mcp.Description("Target frame rate (default from configuration)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			return toolError(err)
		}
		var sb strings.Builder
		err = st.view(filePath, func(f *ustats.StatFile) error {
			issues := analyzer.DetectPerformanceIssues(f, request.GetFloat("target_fps", st.cfg.TargetFPS))
			sb.WriteString("AUTOMATED PERFORMANCE ISSUE DETECTION\n")
			sb.WriteString(header)
			sb.WriteString(analyzer.FormatIssues(issues))
			return nil
		})
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})

	// Tool 7: Search Frames
	s.AddTool(mcp.NewTool("find_frames",
		mcp.WithDescription("Find frames where a stat's per-frame total compares to a value. Cycle counters compare in milliseconds."),
		filePathArg,
		mcp.WithString("stat", mcp.Required(), mcp.Description("Stat name or id")),
		mcp.WithString("comparison", mcp.Required(), mcp.Description("One of >, <, == (or gt, lt, eq)")),
		mcp.WithNumber("value", mcp.Required(), mcp.Description("Reference value")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of frames to list (default: 50)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			return toolError(err)
		}
		statRef, err := request.RequireString("stat")
		if err != nil {
			return toolError(err)
		}
		cmpArg, err := request.RequireString("comparison")
		if err != nil {
			return toolError(err)
		}
		cmp, err := ustats.ParseComparison(cmpArg)
		if err != nil {
			return toolError(err)
		}
		ref, err := request.RequireFloat("value")
		if err != nil {
			return toolError(err)
		}
		limit := request.GetInt("limit", 50)

		var sb strings.Builder
		err = st.view(filePath, func(f *ustats.StatFile) error {
			d, err := resolveStat(f, statRef)
			if err != nil {
				return err
			}
			matches := f.SearchFrames(d.StatID, cmp, ref)
			sb.WriteString(fmt.Sprintf("FRAMES WHERE %s %s %v\n", d.Name, cmp, ref))
			sb.WriteString(header)
			sb.WriteString(fmt.Sprintf("%d of %d frames match\n\n", len(matches), len(f.Frames)))
			for i, idx := range matches {
				if limit > 0 && i >= limit {
					sb.WriteString(fmt.Sprintf("... %d more\n", len(matches)-limit))
					break
				}
				fr := f.Frames[idx]
				p, _ := fr.PerFrameStat(d.StatID)
				sb.WriteString(fmt.Sprintf("index %d, frame %d: %s", idx, fr.FrameNumber, analyzer.FormatValue(f, d, p.Value())))
				if pct, ok := f.PercentOfFrame(fr, d.StatID); ok && d.Type == ustats.CycleCounter {
					sb.WriteString(fmt.Sprintf(" (%.1f%% of frame)", pct))
				}
				sb.WriteString("\n")
			}
			return nil
		})
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})

	// Tool 8: Call Tree
	s.AddTool(mcp.NewTool("call_tree",
		mcp.WithDescription("Show the stat call tree of one frame with inclusive and self times"),
		filePathArg,
		mcp.WithNumber("frame_index", mcp.Required(), mcp.Description("Index of the frame (0-based)")),
		mcp.WithNumber("thread", mcp.Description("Only show this thread (default: all threads)")),
		mcp.WithNumber("max_depth", mcp.Description("Maximum tree depth (default: unlimited)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			return toolError(err)
		}
		frameIndex, err := request.RequireInt("frame_index")
		if err != nil {
			return toolError(err)
		}
		thread := request.GetInt("thread", -1)

		var sb strings.Builder
		err = st.view(filePath, func(f *ustats.StatFile) error {
			roots, err := analyzer.BuildCallTree(f, frameIndex, int32(thread))
			if err != nil {
				return err
			}
			fr := f.Frames[frameIndex]
			sb.WriteString(fmt.Sprintf("CALL TREE, FRAME %d (index %d)\n", fr.FrameNumber, frameIndex))
			sb.WriteString(header)
			if ft, ok := f.FrameTime(fr); ok {
				sb.WriteString(fmt.Sprintf("Frame time: %.3f ms\n", ft))
			}
			if vp := fr.Viewpoint; vp != nil {
				sb.WriteString(fmt.Sprintf("Viewpoint: location %v rotation %v\n", vp.Location, vp.Rotation))
			}
			sb.WriteString("\n")
			sb.WriteString(analyzer.FormatCallTree(roots, request.GetInt("max_depth", 0)))

			var counters []string
			for id, p := range fr.PerFrameStats() {
				if p.Type == ustats.CycleCounter {
					continue
				}
				d := f.Descriptions[id]
				counters = append(counters, fmt.Sprintf("  %s: %s", d.Name, analyzer.FormatValue(f, d, p.Total)))
			}
			if len(counters) > 0 {
				slices.Sort(counters)
				sb.WriteString("\nCounters:\n")
				sb.WriteString(strings.Join(counters, "\n"))
				sb.WriteString("\n")
			}
			return nil
		})
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})

	// Tool 9: Save
	s.AddTool(mcp.NewTool("save_stats",
		mcp.WithDescription("Save a loaded session or a stopped live capture as .ustats or XML"),
		filePathArg,
		mcp.WithString("output_path", mcp.Required(), mcp.Description("Destination path")),
		mcp.WithString("format", mcp.Enum("ustats", "xml"), mcp.Description("Output format (default: from the file extension)")),
		mcp.WithNumber("version", mcp.Description("Binary format version 1-3 (default: 3)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := request.RequireString("file_path")
		if err != nil {
			return toolError(err)
		}
		out, err := request.RequireString("output_path")
		if err != nil {
			return toolError(err)
		}
		format := request.GetString("format", "")
		if format == "" {
			format = "ustats"
			if strings.HasSuffix(strings.ToLower(out), ".xml") {
				format = "xml"
			}
		}
		opts := ustats.DefaultEncodeOptions
		opts.Version = int32(request.GetInt("version", int(opts.Version)))

		err = st.view(filePath, func(f *ustats.StatFile) error {
			if format == "xml" {
				return ustats.SaveXMLFile(out, f)
			}
			return ustats.SaveStatsFile(out, f, opts)
		})
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Saved %s as %s to %s\n", filePath, format, out)), nil
	})

	// Tool 10: Live capture
	s.AddTool(mcp.NewTool("start_capture",
		mcp.WithDescription("Start receiving live stats from a running game over UDP. Query it as live:<name> while it runs."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the capture")),
		mcp.WithString("listen_address", mcp.Description("UDP host:port (default from configuration)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return toolError(err)
		}
		c, err := st.startCapture(name, request.GetString("listen_address", ""))
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Live capture %q started on %s. Use file_path %q with the analysis tools.\n",
			name, c.listener.Addr(), livePrefix+name)), nil
	})

	s.AddTool(mcp.NewTool("capture_status",
		mcp.WithDescription("Show the state of a running live capture"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the capture")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return toolError(err)
		}
		st.mu.Lock()
		c, ok := st.captures[name]
		st.mu.Unlock()
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("no live capture named %q", name)), nil
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Capture %q: %s\n", name, c.status()))
		c.session.View(func(f *ustats.StatFile) {
			sb.WriteString(fmt.Sprintf("Frames: %d, stats described: %d\n", len(f.Frames), len(f.Descriptions)))
		})
		return mcp.NewToolResultText(sb.String()), nil
	})

	s.AddTool(mcp.NewTool("stop_capture",
		mcp.WithDescription("Stop a live capture. Its data stays available as live:<name>."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the capture")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil {
			return toolError(err)
		}
		f, err := st.stopCapture(name)
		if err != nil {
			return toolError(err)
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Live capture %q stopped with %d frames.\n", name, len(f.Frames)))
		writeWarnings(&sb, f.RepairWarningMessages, 20)
		return mcp.NewToolResultText(sb.String()), nil
	})
}

func writeWarnings(sb *strings.Builder, warnings []string, limit int) {
	if len(warnings) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("\nWarnings (%d):\n", len(warnings)))
	for i, w := range warnings {
		if i == limit {
			sb.WriteString(fmt.Sprintf("  ... %d more\n", len(warnings)-limit))
			break
		}
		sb.WriteString("  - " + w + "\n")
	}
}
