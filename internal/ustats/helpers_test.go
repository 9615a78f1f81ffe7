package ustats

import (
	"math"
)

// 1000 cycles per millisecond.
const testSecondsPerCycle = 1e-6

const (
	statFrameTime uint16 = 1
	statTick      uint16 = 2
	statPhysics   uint16 = 3
	statAnim      uint16 = 4
	statDraws     uint16 = 10
	statMemory    uint16 = 11

	groupEngine    uint16 = 1
	groupRendering uint16 = 2
)

func msToCycles(ms float64) int32 {
	return int32(math.Round(ms * 1000))
}

func cycle(id uint16, instance, parent, thread int32, ms float64, calls uint16) Stat {
	return NewCycleStat(id, CycleSample{
		InstanceID:       instance,
		ParentInstanceID: parent,
		ThreadID:         thread,
		Cycles:           msToCycles(ms),
		CallsPerFrame:    calls,
	})
}

func newTestFile() *StatFile {
	f := NewStatFile()
	f.SetSecondsPerCycle(testSecondsPerCycle)
	f.AppendStatDescription(StatDescription{StatID: statFrameTime, Name: "FrameTime", Type: CycleCounter, GroupID: groupEngine})
	f.AppendStatDescription(StatDescription{StatID: statTick, Name: "Tick", Type: CycleCounter, GroupID: groupEngine})
	f.AppendStatDescription(StatDescription{StatID: statPhysics, Name: "Physics", Type: CycleCounter, GroupID: groupEngine})
	f.AppendStatDescription(StatDescription{StatID: statAnim, Name: "Anim", Type: CycleCounter, GroupID: groupEngine})
	f.AppendStatDescription(StatDescription{StatID: statDraws, Name: "DrawCalls", Type: IntegerCounter, GroupID: groupRendering})
	f.AppendStatDescription(StatDescription{StatID: statMemory, Name: "TextureMemory", Type: FloatCounter, GroupID: groupRendering})
	f.AppendGroupDescription(Group{GroupID: groupEngine, Name: "Engine"})
	f.AppendGroupDescription(Group{GroupID: groupRendering, Name: "Rendering"})
	return f
}

func addFrame(f *StatFile, number int32, stats ...Stat) *Frame {
	fr := NewFrame(number)
	f.AppendFrame(fr)
	for _, st := range stats {
		f.AppendStat(st)
	}
	return fr
}

// addTypicalFrame adds a frame whose call tree is FrameTime > Tick > {Physics, Anim}.
// Stats are ordered cycles, integers, floats as the binary format stores them.
func addTypicalFrame(f *StatFile, number int32, frameMS float64) *Frame {
	return addFrame(f, number,
		cycle(statFrameTime, 1, 0, 1, frameMS, 1),
		cycle(statTick, 2, 1, 1, frameMS*0.8, 1),
		cycle(statPhysics, 3, 2, 1, frameMS*0.3, 2),
		cycle(statAnim, 4, 2, 1, frameMS*0.2, 3),
		NewIntegerStat(statDraws, 1000+number),
		NewFloatStat(statMemory, 1.5*float64(number)),
	)
}

func newSessionFile(frames int) *StatFile {
	f := newTestFile()
	for i := 0; i < frames; i++ {
		addTypicalFrame(f, int32(100+i), 10+float64(i%7))
	}
	return f
}

type rawFrame struct {
	FrameNumber int32
	Viewpoint   *Viewpoint
	Stats       []rawStat
}

type rawStat struct {
	StatID uint16
	Sample Sample
}

func rawFrames(f *StatFile) []rawFrame {
	out := make([]rawFrame, 0, len(f.Frames))
	for _, fr := range f.Frames {
		rf := rawFrame{FrameNumber: fr.FrameNumber, Viewpoint: fr.Viewpoint}
		for _, st := range fr.Stats {
			rf.Stats = append(rf.Stats, rawStat{StatID: st.StatID, Sample: st.Sample})
		}
		out = append(out, rf)
	}
	return out
}
