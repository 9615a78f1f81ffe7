package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"

	"statsviewer-mcp/internal/analyzer"
	"statsviewer-mcp/internal/ustats"
)

type loader struct {
	metadata      ustats.Metadata
	frameTimeStat string
	logger        log.Logger
}

func isXML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}

func (l *loader) load(path string) (*ustats.StatFile, error) {
	opts := []ustats.LoadOption{ustats.WithMetadata(l.metadata), ustats.WithFrameTimeStat(l.frameTimeStat)}
	if isXML(path) {
		return ustats.LoadXMLFile(path, opts...)
	}
	res, err := ustats.LoadStatsFile(path, opts...)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		level.Warn(l.logger).Log("msg", "repaired stats data", "file", path, "warning", w)
	}
	if res.Truncated {
		level.Warn(l.logger).Log("msg", "stats file is truncated, showing the frames read so far", "file", path, "frames", len(res.File.Frames))
	}
	level.Debug(l.logger).Log("msg", "loaded stats", "file", path, "version", res.Version, "endianness", res.Endianness, "frames", len(res.File.Frames))
	return res.File, nil
}

func lookupStat(file *ustats.StatFile, name string) (*ustats.StatDescription, error) {
	if d, ok := file.StatDescriptionByName(name); ok {
		return d, nil
	}
	return nil, errors.Errorf("stat %q not found", name)
}

func summary(w io.Writer, l *loader, path string) error {
	file, err := l.load(path)
	if err != nil {
		return err
	}
	analyzer.RenderStatistics(w, analyzer.ComputeStatistics(file))
	return nil
}

type aggregateParams struct {
	mode   string
	start  int
	end    int
	filter string
}

func addAggregateParams(cmd *kingpin.CmdClause) *aggregateParams {
	p := &aggregateParams{}
	cmd.Flag("mode", "Aggregation mode: overall or ranged.").Default("overall").EnumVar(&p.mode, "overall", "ranged")
	cmd.Flag("start", "First frame index of a ranged aggregation.").Default("0").IntVar(&p.start)
	cmd.Flag("end", "End frame index (exclusive) of a ranged aggregation; -1 for the last frame.").Default("-1").IntVar(&p.end)
	cmd.Flag("stat", "Only print stats whose name contains this text.").StringVar(&p.filter)
	return p
}

func aggregates(w io.Writer, l *loader, path string, p *aggregateParams) error {
	file, err := l.load(path)
	if err != nil {
		return err
	}
	mode, err := ustats.ParseAggregateMode(p.mode)
	if err != nil {
		return err
	}
	end := p.end
	if end < 0 {
		end = len(file.Frames)
	}
	aggs, err := file.Aggregates(mode, p.start, end)
	if err != nil {
		return err
	}
	if p.filter != "" {
		needle := strings.ToLower(p.filter)
		for id := range aggs {
			d, ok := file.Descriptions[id]
			if !ok || !strings.Contains(strings.ToLower(d.Name), needle) {
				delete(aggs, id)
			}
		}
	}
	analyzer.RenderAggregates(w, file, aggs)
	return nil
}

type searchParams struct {
	stat       string
	comparison string
	value      float64
}

func addSearchParams(cmd *kingpin.CmdClause) *searchParams {
	p := &searchParams{}
	cmd.Flag("stat", "Stat name to compare.").Required().StringVar(&p.stat)
	cmd.Flag("comparison", "Comparison: greater, less or equal.").Default("greater").StringVar(&p.comparison)
	cmd.Flag("value", "Reference value (milliseconds for cycle counters).").Required().Float64Var(&p.value)
	return p
}

func search(w io.Writer, l *loader, path string, p *searchParams) error {
	file, err := l.load(path)
	if err != nil {
		return err
	}
	d, err := lookupStat(file, p.stat)
	if err != nil {
		return err
	}
	c, err := ustats.ParseComparison(p.comparison)
	if err != nil {
		return err
	}
	matches := file.SearchFrames(d.StatID, c, p.value)
	fmt.Fprintf(w, "%d of %d frames where %s %s %s\n", len(matches), len(file.Frames), d.Name, c, analyzer.FormatValue(file, d, p.value))
	for _, i := range matches {
		f := file.Frames[i]
		v := 0.0
		if data, ok := f.PerFrameStat(d.StatID); ok {
			v = data.Value()
		}
		fmt.Fprintf(w, "  frame %d (index %d): %s\n", f.FrameNumber, i, analyzer.FormatValue(file, d, v))
	}
	return nil
}

type treeParams struct {
	frame    int
	thread   int
	maxDepth int
}

func addTreeParams(cmd *kingpin.CmdClause) *treeParams {
	p := &treeParams{}
	cmd.Flag("frame", "Frame index.").Default("0").IntVar(&p.frame)
	cmd.Flag("thread", "Thread id; -1 for all threads.").Default("-1").IntVar(&p.thread)
	cmd.Flag("max-depth", "Maximum tree depth to print; 0 for no limit.").Default("0").IntVar(&p.maxDepth)
	return p
}

func tree(w io.Writer, l *loader, path string, p *treeParams) error {
	file, err := l.load(path)
	if err != nil {
		return err
	}
	roots, err := analyzer.BuildCallTree(file, p.frame, int32(p.thread))
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, analyzer.FormatCallTree(roots, p.maxDepth))
	return err
}

type frameTimesParams struct {
	targetFPS float64
	maxSpikes int
}

func addFrameTimesParams(cmd *kingpin.CmdClause) *frameTimesParams {
	p := &frameTimesParams{}
	cmd.Flag("target-fps", "Target frame rate.").Default("60").Float64Var(&p.targetFPS)
	cmd.Flag("max-spikes", "Maximum number of spikes to list.").Default("10").IntVar(&p.maxSpikes)
	return p
}

func frameTimes(w io.Writer, l *loader, path string, p *frameTimesParams) error {
	file, err := l.load(path)
	if err != nil {
		return err
	}
	a, err := analyzer.AnalyzeFrameTimes(file, p.targetFPS)
	if err != nil {
		return err
	}
	analyzer.RenderFrameTimes(w, a, p.maxSpikes)
	return nil
}

func issues(w io.Writer, l *loader, path string, targetFPS float64) error {
	file, err := l.load(path)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, analyzer.FormatIssues(analyzer.DetectPerformanceIssues(file, targetFPS)))
	return err
}

type convertParams struct {
	src       string
	dst       string
	version   int
	bigEndian bool
}

func addConvertParams(cmd *kingpin.CmdClause) *convertParams {
	p := &convertParams{}
	cmd.Arg("from", "Source stats file (.ustats or .xml).").Required().ExistingFileVar(&p.src)
	cmd.Arg("to", "Destination file; the extension selects the format.").Required().StringVar(&p.dst)
	cmd.Flag("version", "Binary format version to write.").Default(fmt.Sprint(ustats.CurrentVersion)).IntVar(&p.version)
	cmd.Flag("big-endian", "Write the binary format in big-endian byte order.").Default("false").BoolVar(&p.bigEndian)
	return p
}

func convert(l *loader, p *convertParams) error {
	file, err := l.load(p.src)
	if err != nil {
		return err
	}
	if isXML(p.dst) {
		err = ustats.SaveXMLFile(p.dst, file)
	} else {
		opts := ustats.EncodeOptions{Version: int32(p.version), Endianness: ustats.LittleEndian}
		if p.bigEndian {
			opts.Endianness = ustats.BigEndian
		}
		err = ustats.SaveStatsFile(p.dst, file, opts)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", p.dst)
	}
	level.Info(l.logger).Log("msg", "converted stats", "from", p.src, "to", p.dst, "frames", len(file.Frames))
	return nil
}
