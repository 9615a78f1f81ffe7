package ustats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixup_UnknownStatIDIsDropped(t *testing.T) {
	f := newTestFile()
	fr := addFrame(f, 1,
		cycle(statFrameTime, 1, 0, 1, 16, 1),
		cycle(999, 2, 1, 1, 4, 1),
	)
	f.FixupRecentItems()

	require.Len(t, fr.Stats, 1)
	assert.Equal(t, statFrameTime, fr.Stats[0].StatID)
	_, ok := fr.PerFrameStat(999)
	assert.False(t, ok)

	require.Len(t, f.RepairWarningMessages, 1)
	assert.Contains(t, f.RepairWarningMessages[0], "999")
	assert.Equal(t, 0, f.OverallAggregate(999).NumStats)
}

func TestFixup_SelfTime(t *testing.T) {
	f := newTestFile()
	fr := addFrame(f, 1,
		cycle(statTick, 1, 0, 1, 10, 1),
		cycle(statPhysics, 2, 1, 1, 4, 1),
		cycle(statAnim, 3, 1, 1, 3, 1),
	)
	f.FixupRecentItems()
	require.Empty(t, f.RepairWarningMessages)

	parent := fr.Stats[0]
	assert.True(t, parent.IsRoot())
	assert.Equal(t, []int{1, 2}, parent.Children)
	assert.InDelta(t, 10.0, parent.ValueInMS, 1e-9)
	assert.InDelta(t, 3.0, parent.SelfMS, 1e-9)

	for _, idx := range parent.Children {
		assert.Equal(t, 0, fr.Stats[idx].Parent)
		assert.Equal(t, fr.Stats[idx].ValueInMS, fr.Stats[idx].SelfMS)
	}
	assert.Equal(t, []int{0}, fr.Roots())
}

func TestFixup_ChildrenExceedParent(t *testing.T) {
	f := newTestFile()
	fr := addFrame(f, 3,
		cycle(statTick, 1, 0, 1, 5, 1),
		cycle(statPhysics, 2, 1, 1, 4, 1),
		cycle(statAnim, 3, 1, 1, 3, 1),
	)
	f.FixupRecentItems()

	assert.Equal(t, 0.0, fr.Stats[0].SelfMS)
	require.Len(t, f.RepairWarningMessages, 1)
	assert.Contains(t, f.RepairWarningMessages[0], "Tick")
	assert.Contains(t, f.RepairWarningMessages[0], "clamped")
}

func TestFixup_InclusiveInvariant(t *testing.T) {
	f := newSessionFile(10)
	// A corrupt frame where the children outgrow their parent.
	addFrame(f, 500,
		cycle(statTick, 1, 0, 1, 2, 1),
		cycle(statPhysics, 2, 1, 1, 4, 1),
	)
	f.FixupRecentItems()

	violations := 0
	for _, fr := range f.Frames {
		for _, st := range fr.Stats {
			if st.Type != CycleCounter || len(st.Children) == 0 {
				continue
			}
			var sum float64
			for _, c := range st.Children {
				sum += fr.Stats[c].ValueInMS
			}
			if st.ValueInMS < sum-1e-9 {
				violations++
			}
			assert.GreaterOrEqual(t, st.SelfMS, 0.0)
		}
	}
	assert.Equal(t, 1, violations)
	assert.Len(t, f.RepairWarningMessages, violations)
}

func TestFixup_ThreadsAndMissingParents(t *testing.T) {
	f := newTestFile()
	fr := addFrame(f, 1,
		cycle(statTick, 1, 0, 1, 10, 1),
		// Same instance numbers on another thread form a separate tree.
		cycle(statTick, 1, 0, 2, 8, 1),
		cycle(statPhysics, 2, 1, 2, 5, 1),
		cycle(statAnim, 9, 77, 1, 1, 1),
	)
	f.FixupRecentItems()

	assert.Empty(t, fr.Stats[0].Children)
	assert.Equal(t, []int{2}, fr.Stats[1].Children)
	assert.Equal(t, 1, fr.Stats[2].Parent)
	assert.True(t, fr.Stats[3].IsRoot())
	require.Len(t, f.RepairWarningMessages, 1)
	assert.Contains(t, f.RepairWarningMessages[0], "missing parent instance 77")
}

func TestFixup_TypeMismatchIsDropped(t *testing.T) {
	f := newTestFile()
	fr := addFrame(f, 1, NewFloatStat(statDraws, 4))
	f.FixupRecentItems()

	assert.Empty(t, fr.Stats)
	require.Len(t, f.RepairWarningMessages, 1)
	assert.Contains(t, f.RepairWarningMessages[0], "DrawCalls")
}

func TestFixup_Idempotent(t *testing.T) {
	f := newSessionFile(12)
	f.FixupRecentItems()
	first := f.OverallAggregates()
	warnings := len(f.RepairWarningMessages)
	perFrame := f.Frames[3].PerFrameStats()[statPhysics].TotalTime

	f.FixupRecentItems()
	assert.Equal(t, first, f.OverallAggregates())
	assert.Len(t, f.RepairWarningMessages, warnings)
	assert.Equal(t, perFrame, f.Frames[3].PerFrameStats()[statPhysics].TotalTime)
}

func TestFixup_IncrementalBatches(t *testing.T) {
	live := newTestFile()
	addFrame(live, 1, cycle(statFrameTime, 1, 0, 1, 10, 1))
	live.FixupRecentItems()
	// More samples for the same frame arrive in the next batch.
	live.AppendStat(cycle(statTick, 2, 1, 1, 6, 1))
	live.AppendStat(NewIntegerStat(statDraws, 3))
	live.FixupRecentItems()
	addFrame(live, 2, cycle(statFrameTime, 1, 0, 1, 12, 1), cycle(statTick, 2, 1, 1, 5, 2))
	live.FixupRecentItems()

	batch := newTestFile()
	addFrame(batch, 1,
		cycle(statFrameTime, 1, 0, 1, 10, 1),
		cycle(statTick, 2, 1, 1, 6, 1),
		NewIntegerStat(statDraws, 3),
	)
	addFrame(batch, 2, cycle(statFrameTime, 1, 0, 1, 12, 1), cycle(statTick, 2, 1, 1, 5, 2))
	batch.FixupRecentItems()

	assert.Equal(t, batch.OverallAggregates(), live.OverallAggregates())
	assert.Equal(t, []int{1}, live.Frames[0].Stats[0].Children)
	assert.InDelta(t, 4.0, live.Frames[0].Stats[0].SelfMS, 1e-9)
	assert.Empty(t, live.RepairWarningMessages)
}

func TestFixup_IncrementalBatchesWarnOnce(t *testing.T) {
	f := newTestFile()
	addFrame(f, 1, cycle(statFrameTime, 1, 0, 1, 10, 1), cycle(statTick, 2, 99, 1, 4, 1))
	f.FixupRecentItems()
	require.Len(t, f.RepairWarningMessages, 1)
	assert.Contains(t, f.RepairWarningMessages[0], "missing parent instance 99")

	// An unrelated sample for the same frame must not repeat the warning.
	f.AppendStat(NewIntegerStat(statDraws, 3))
	f.FixupRecentItems()
	assert.Len(t, f.RepairWarningMessages, 1)

	f.AppendStat(cycle(statPhysics, 3, 1, 1, 8, 1))
	f.FixupRecentItems()
	assert.Len(t, f.RepairWarningMessages, 1)

	// Children now exceed FrameTime; the clamp is reported once.
	f.AppendStat(cycle(statAnim, 4, 1, 1, 5, 1))
	f.FixupRecentItems()
	require.Len(t, f.RepairWarningMessages, 2)
	assert.Contains(t, f.RepairWarningMessages[1], "self time clamped")

	f.AppendStat(NewFloatStat(statMemory, 1))
	f.FixupRecentItems()
	assert.Len(t, f.RepairWarningMessages, 2)
	assert.Zero(t, f.Frames[0].Stats[0].SelfMS)
	assert.True(t, f.Frames[0].Stats[1].IsRoot())
}

func TestFixup_MetadataScale(t *testing.T) {
	f := newTestFile()
	f.SetMetadata(Metadata{"TextureMemory": {Scale: 1.0 / (1024 * 1024), Suffix: "MB"}})
	fr := addFrame(f, 1, NewFloatStat(statMemory, 8*1024*1024), NewIntegerStat(statDraws, 12))
	f.FixupRecentItems()

	assert.InDelta(t, 8.0, fr.Stats[0].Value, 1e-12)
	assert.Equal(t, 12.0, fr.Stats[1].Value)
	m, ok := f.MetadataFor("TextureMemory")
	require.True(t, ok)
	assert.Equal(t, "MB", m.Suffix)
}

func TestAppendStat_BeforeFirstFrame(t *testing.T) {
	f := newTestFile()
	f.AppendStat(NewIntegerStat(statDraws, 1))
	assert.Empty(t, f.Frames)
	require.Len(t, f.RepairWarningMessages, 1)
}

func TestGroups_OwnedStats(t *testing.T) {
	f := newTestFile()
	assert.Equal(t, []uint16{statFrameTime, statTick, statPhysics, statAnim}, f.Groups[groupEngine].OwnedStats)
	assert.Equal(t, []uint16{statDraws, statMemory}, f.Groups[groupRendering].OwnedStats)

	// Moving a stat to another group updates both groups.
	f.AppendStatDescription(StatDescription{StatID: statAnim, Name: "Anim", Type: CycleCounter, GroupID: groupRendering})
	assert.Equal(t, []uint16{statFrameTime, statTick, statPhysics}, f.Groups[groupEngine].OwnedStats)
	assert.Equal(t, []uint16{statDraws, statMemory, statAnim}, f.Groups[groupRendering].OwnedStats)
}

func TestUpdateConversionFactor(t *testing.T) {
	f := NewStatFile()
	pkt := EncodeConversionFactorPacket(2.5e-7)
	require.NoError(t, f.UpdateConversionFactor(pkt[2:]))
	assert.Equal(t, 2.5e-7, f.SecondsPerCycle)

	assert.Error(t, f.UpdateConversionFactor([]byte{1, 2}))
	assert.Error(t, f.UpdateConversionFactor(EncodeConversionFactorPacket(0)[2:]))
}

func TestFrameTimeAndPercent(t *testing.T) {
	f := newTestFile()
	fr := addTypicalFrame(f, 1, 20)
	f.FixupRecentItems()

	ft, ok := f.FrameTime(fr)
	require.True(t, ok)
	assert.InDelta(t, 20.0, ft, 1e-9)

	pct, ok := f.PercentOfFrame(fr, statTick)
	require.True(t, ok)
	assert.InDelta(t, 80.0, pct, 1e-9)

	f.FrameTimeStatName = "NoSuchStat"
	_, ok = f.PercentOfFrame(fr, statTick)
	assert.False(t, ok)
}

func TestFrameTime_FloatCounter(t *testing.T) {
	f := newTestFile()
	f.AppendStatDescription(StatDescription{StatID: 20, Name: "GPUFrameMS", Type: FloatCounter, GroupID: groupRendering})
	f.FrameTimeStatName = "GPUFrameMS"
	fr := addFrame(f, 1, cycle(statTick, 1, 0, 1, 4, 1), NewFloatStat(20, 16))
	f.FixupRecentItems()

	ft, ok := f.FrameTime(fr)
	require.True(t, ok)
	assert.InDelta(t, 16.0, ft, 1e-9)

	pct, ok := f.PercentOfFrame(fr, statTick)
	require.True(t, ok)
	assert.InDelta(t, 25.0, pct, 1e-9)
}
