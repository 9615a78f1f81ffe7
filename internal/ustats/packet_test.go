package ustats

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackets_ReplayMatchesFile(t *testing.T) {
	src := newSessionFile(10)
	src.FixupRecentItems()

	packets, err := EncodePackets(src)
	require.NoError(t, err)

	live := NewStatFile()
	for _, p := range packets {
		_, err := live.ApplyPacket(p)
		require.NoError(t, err)
	}
	live.FixupRecentItems()

	assert.Empty(t, live.RepairWarningMessages)
	assert.Equal(t, src.SecondsPerCycle, live.SecondsPerCycle)
	assert.Equal(t, rawFrames(src), rawFrames(live))
	assert.Equal(t, src.OverallAggregates(), live.OverallAggregates())
	assert.Equal(t, src.Groups[groupEngine].OwnedStats, live.Groups[groupEngine].OwnedStats)
}

func TestApplyPacket_Tags(t *testing.T) {
	f := NewStatFile()

	sd, err := EncodeStatDescriptionPacket(StatDescription{StatID: 5, Name: "Particles", Type: IntegerCounter, GroupID: 2})
	require.NoError(t, err)
	tag, err := f.ApplyPacket(sd)
	require.NoError(t, err)
	assert.Equal(t, PacketStatDescription, tag)

	tag, err = f.ApplyPacket(EncodeNewFramePacket(12))
	require.NoError(t, err)
	assert.Equal(t, PacketNewFrame, tag)

	ud, err := EncodeStatPacket(NewIntegerStat(5, 64))
	require.NoError(t, err)
	tag, err = f.ApplyPacket(ud)
	require.NoError(t, err)
	assert.Equal(t, PacketIntegerUpdate, tag)

	f.FixupRecentItems()
	require.Len(t, f.Frames, 1)
	assert.Equal(t, int32(12), f.Frames[0].FrameNumber)
	assert.Equal(t, 64.0, f.Frames[0].Stats[0].Value)
	assert.Equal(t, "Particles", f.Frames[0].Stats[0].Name)
}

func TestApplyPacket_Errors(t *testing.T) {
	f := NewStatFile()

	_, err := f.ApplyPacket([]byte("U"))
	assert.True(t, errors.Is(err, ErrOutOfRange))

	tag, err := f.ApplyPacket([]byte("ZZ\x00\x01"))
	assert.Equal(t, "ZZ", tag)
	assert.True(t, errors.Is(err, ErrUnknownPacket))

	_, err = f.ApplyPacket([]byte("UC\x00\x01\x00"))
	assert.True(t, errors.Is(err, ErrOutOfRange))

	_, err = EncodeStatPacket(Stat{StatID: 3})
	assert.Error(t, err)
}
