package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsviewer-mcp/internal/ustats"
)

func writeSession(t *testing.T) string {
	t.Helper()
	f := ustats.NewStatFile()
	f.Version = ustats.CurrentVersion
	f.SetSecondsPerCycle(1e-6)
	f.AppendStatDescription(ustats.StatDescription{StatID: 1, Name: "FrameTime", Type: ustats.CycleCounter, GroupID: 1})
	f.AppendStatDescription(ustats.StatDescription{StatID: 2, Name: "Render", Type: ustats.CycleCounter, GroupID: 1})
	f.AppendStatDescription(ustats.StatDescription{StatID: 3, Name: "DrawCalls", Type: ustats.IntegerCounter, GroupID: 1})
	f.AppendGroupDescription(ustats.Group{GroupID: 1, Name: "Engine"})
	for i := int32(0); i < 4; i++ {
		f.AppendFrame(ustats.NewFrame(i))
		f.AppendStat(ustats.NewCycleStat(1, ustats.CycleSample{InstanceID: 1, ThreadID: 1, Cycles: 10000 * (i + 1), CallsPerFrame: 1}))
		f.AppendStat(ustats.NewCycleStat(2, ustats.CycleSample{InstanceID: 2, ParentInstanceID: 1, ThreadID: 1, Cycles: 5000, CallsPerFrame: 2}))
		f.AppendStat(ustats.NewIntegerStat(3, 100*(i+1)))
	}
	f.FixupRecentItems()

	path := filepath.Join(t.TempDir(), "session.ustats")
	require.NoError(t, ustats.SaveStatsFile(path, f, ustats.DefaultEncodeOptions))
	return path
}

func testLoader() *loader {
	return &loader{frameTimeStat: ustats.DefaultFrameTimeStatName, logger: log.NewNopLogger()}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, summary(&buf, testLoader(), writeSession(t)))
	assert.Contains(t, buf.String(), "Stat descriptions")
	assert.Contains(t, buf.String(), "min 10.000 ms, avg 25.000 ms, max 40.000 ms")
}

func TestAggregates_Filter(t *testing.T) {
	var buf bytes.Buffer
	err := aggregates(&buf, testLoader(), writeSession(t), &aggregateParams{mode: "ranged", start: 0, end: 2, filter: "draw"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "DrawCalls")
	assert.NotContains(t, buf.String(), "Render")

	err = aggregates(&buf, testLoader(), writeSession(t), &aggregateParams{mode: "ranged", start: 3, end: 1})
	assert.ErrorIs(t, err, ustats.ErrInvalidRange)
}

func TestSearch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, search(&buf, testLoader(), writeSession(t), &searchParams{stat: "FrameTime", comparison: "less", value: 25}))
	assert.Contains(t, buf.String(), "2 of 4 frames")
	assert.Contains(t, buf.String(), "frame 1 (index 1): 20.000 ms")

	err := search(&buf, testLoader(), writeSession(t), &searchParams{stat: "Nope", comparison: ">", value: 1})
	assert.Error(t, err)
}

func TestTree(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tree(&buf, testLoader(), writeSession(t), &treeParams{frame: 1, thread: -1}))
	assert.Contains(t, buf.String(), "FrameTime")
	assert.Contains(t, buf.String(), "Render")

	assert.Error(t, tree(&buf, testLoader(), writeSession(t), &treeParams{frame: 9, thread: -1}))
}

func TestFrameTimesAndIssues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frameTimes(&buf, testLoader(), writeSession(t), &frameTimesParams{targetFPS: 60, maxSpikes: 5}))
	assert.Contains(t, buf.String(), "Over budget")

	buf.Reset()
	require.NoError(t, issues(&buf, testLoader(), writeSession(t), 60))
	assert.Contains(t, buf.String(), "Frame Budget")
}

func TestConvert(t *testing.T) {
	src := writeSession(t)
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "session.xml")
	binPath := filepath.Join(dir, "session.v2.ustats")

	require.NoError(t, convert(testLoader(), &convertParams{src: src, dst: xmlPath}))
	require.NoError(t, convert(testLoader(), &convertParams{src: xmlPath, dst: binPath, version: 2, bigEndian: true}))

	res, err := ustats.LoadStatsFile(binPath)
	require.NoError(t, err)
	assert.Equal(t, int32(2), res.Version)
	assert.Equal(t, ustats.BigEndian, res.Endianness)
	require.Len(t, res.File.Frames, 4)

	orig, err := ustats.LoadStatsFile(src)
	require.NoError(t, err)
	assert.Equal(t, orig.File.OverallAggregates(), res.File.OverallAggregates())
}
