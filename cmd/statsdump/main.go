package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"

	"statsviewer-mcp/internal/config"
)

var cfg struct {
	verbose       bool
	metadataFile  string
	frameTimeStat string
}

var logger = log.NewLogfmtLogger(os.Stderr)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Inspect and convert engine stats captures.").UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("false").BoolVar(&cfg.verbose)
	app.Flag("metadata.file", "YAML file with per-stat scale, suffix and units.").StringVar(&cfg.metadataFile)
	app.Flag("frame-time-stat", "Name of the stat holding the total frame time.").Default("FrameTime").StringVar(&cfg.frameTimeStat)

	summaryCmd := app.Command("summary", "Print a session summary.")
	summaryFile := summaryCmd.Arg("file", "Stats file (.ustats or .xml).").Required().ExistingFile()

	aggCmd := app.Command("aggregates", "Print per-stat aggregates.").Alias("agg")
	aggFile := aggCmd.Arg("file", "Stats file (.ustats or .xml).").Required().ExistingFile()
	aggParams := addAggregateParams(aggCmd)

	searchCmd := app.Command("search", "List frames whose stat value matches a comparison.")
	searchFile := searchCmd.Arg("file", "Stats file (.ustats or .xml).").Required().ExistingFile()
	searchParams := addSearchParams(searchCmd)

	treeCmd := app.Command("tree", "Print the call tree of one frame.")
	treeFile := treeCmd.Arg("file", "Stats file (.ustats or .xml).").Required().ExistingFile()
	treeParams := addTreeParams(treeCmd)

	frameTimesCmd := app.Command("frametimes", "Analyze frame times against a target frame rate.")
	frameTimesFile := frameTimesCmd.Arg("file", "Stats file (.ustats or .xml).").Required().ExistingFile()
	frameTimesParams := addFrameTimesParams(frameTimesCmd)

	issuesCmd := app.Command("issues", "Report detected performance issues.")
	issuesFile := issuesCmd.Arg("file", "Stats file (.ustats or .xml).").Required().ExistingFile()
	issuesFPS := issuesCmd.Flag("target-fps", "Target frame rate.").Default("60").Float64()

	convertCmd := app.Command("convert", "Convert between .ustats and .xml.")
	convertParams := addConvertParams(convertCmd)

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if cfg.verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	metadata, err := config.LoadMetadata(cfg.metadataFile)
	if err != nil {
		os.Exit(checkError(err))
	}
	l := &loader{metadata: metadata, frameTimeStat: cfg.frameTimeStat, logger: logger}
	out := os.Stdout

	switch parsedCmd {
	case summaryCmd.FullCommand():
		err = summary(out, l, *summaryFile)
	case aggCmd.FullCommand():
		err = aggregates(out, l, *aggFile, aggParams)
	case searchCmd.FullCommand():
		err = search(out, l, *searchFile, searchParams)
	case treeCmd.FullCommand():
		err = tree(out, l, *treeFile, treeParams)
	case frameTimesCmd.FullCommand():
		err = frameTimes(out, l, *frameTimesFile, frameTimesParams)
	case issuesCmd.FullCommand():
		err = issues(out, l, *issuesFile, *issuesFPS)
	case convertCmd.FullCommand():
		err = convert(l, convertParams)
	default:
		level.Error(logger).Log("msg", "unknown command", "cmd", parsedCmd)
	}
	os.Exit(checkError(err))
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
