package live

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"statsviewer-mcp/internal/ustats"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu      sync.Mutex
	packets [][]byte
	closed  bool
}

func (f *fakeSource) push(p ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packets = append(f.packets, p...)
}

func (f *fakeSource) Next() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.packets) == 0 {
		return nil, false
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, true
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func mustPacket(p []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return p
}

func descriptionPackets() [][]byte {
	return [][]byte{
		ustats.EncodeConversionFactorPacket(1e-6),
		mustPacket(ustats.EncodeStatDescriptionPacket(ustats.StatDescription{StatID: 1, Name: "FrameTime", Type: ustats.CycleCounter, GroupID: 1})),
		mustPacket(ustats.EncodeStatDescriptionPacket(ustats.StatDescription{StatID: 2, Name: "DrawCalls", Type: ustats.IntegerCounter, GroupID: 1})),
		mustPacket(ustats.EncodeGroupDescriptionPacket(ustats.Group{GroupID: 1, Name: "Engine"})),
	}
}

func framePackets(number int32, cycles int32) [][]byte {
	return [][]byte{
		ustats.EncodeNewFramePacket(number),
		mustPacket(ustats.EncodeStatPacket(ustats.NewCycleStat(1, ustats.CycleSample{InstanceID: 1, ThreadID: 1, Cycles: cycles, CallsPerFrame: 1}))),
		mustPacket(ustats.EncodeStatPacket(ustats.NewIntegerStat(2, number))),
	}
}

func TestSession_Drain(t *testing.T) {
	src := &fakeSource{}
	s := NewSession(log.NewNopLogger(), src, nil, "")

	assert.Equal(t, DrainResult{}, s.Drain())

	src.push(descriptionPackets()...)
	res := s.Drain()
	assert.Equal(t, 4, res.Packets)
	assert.True(t, res.DescriptionsChanged)
	assert.False(t, res.FirstFrame)
	assert.Zero(t, res.FramesAdded)

	src.push(framePackets(1, 16000)...)
	res = s.Drain()
	assert.True(t, res.FirstFrame)
	assert.False(t, res.DescriptionsChanged)
	assert.Equal(t, 1, res.FramesAdded)
	assert.Empty(t, res.Warnings)

	src.push(framePackets(2, 20000)...)
	src.push(framePackets(3, 12000)...)
	res = s.Drain()
	assert.False(t, res.FirstFrame)
	assert.Equal(t, 2, res.FramesAdded)

	s.View(func(f *ustats.StatFile) {
		require.Len(t, f.Frames, 3)
		a := f.OverallAggregate(1)
		assert.Equal(t, 3, a.NumStats)
		assert.InDelta(t, 16.0, a.Average(), 1e-9)
		assert.InDelta(t, 20.0, a.Max, 1e-9)
	})
}

func TestSession_WarningsAndBadRecords(t *testing.T) {
	src := &fakeSource{}
	s := NewSession(log.NewNopLogger(), src, nil, "")
	src.push(descriptionPackets()...)
	s.Drain()

	src.push(
		ustats.EncodeNewFramePacket(7),
		mustPacket(ustats.EncodeStatPacket(ustats.NewIntegerStat(42, 1))),
		[]byte("XX"),
		[]byte("UD\x00"),
	)
	res := s.Drain()
	assert.Equal(t, 1, res.UnknownPackets)
	assert.Equal(t, 1, res.BadPackets)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "42")

	// Warnings are reported once per batch.
	src.push(framePackets(8, 1000)...)
	res = s.Drain()
	assert.Empty(t, res.Warnings)
}

func TestSession_WarningsKeptAcrossBatches(t *testing.T) {
	src := &fakeSource{}
	s := NewSession(log.NewNopLogger(), src, nil, "")
	src.push(descriptionPackets()...)
	src.push(
		ustats.EncodeNewFramePacket(1),
		mustPacket(ustats.EncodeStatPacket(ustats.NewCycleStat(1, ustats.CycleSample{InstanceID: 2, ParentInstanceID: 99, ThreadID: 1, Cycles: 1000, CallsPerFrame: 1}))),
	)
	res := s.Drain()
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "missing parent instance 99")

	src.push(framePackets(2, 16000)...)
	res = s.Drain()
	assert.Empty(t, res.Warnings)

	f, err := s.Detach()
	require.NoError(t, err)
	require.Len(t, f.RepairWarningMessages, 1)
	assert.Equal(t, "Frame 1: FrameTime references missing parent instance 99 on thread 1; treated as a thread root", f.RepairWarningMessages[0])
}

func TestSession_DetachAppliesQueuedRecords(t *testing.T) {
	l, err := Listen(log.NewNopLogger(), "127.0.0.1:0", 0, 16)
	require.NoError(t, err)

	conn, err := net.Dial("udp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	packets := append(descriptionPackets(), framePackets(1, 10000)...)
	for _, p := range packets {
		_, err := conn.Write(p)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return l.Received() == uint64(len(packets))
	}, 5*time.Second, 10*time.Millisecond)

	// Nothing has been drained yet.
	s := NewSession(log.NewNopLogger(), l, nil, "")
	f, err := s.Detach()
	require.NoError(t, err)
	require.Len(t, f.Frames, 1)
	assert.Len(t, f.Descriptions, 2)
}

func TestSession_RunAndDetach(t *testing.T) {
	src := &fakeSource{}
	src.push(descriptionPackets()...)
	src.push(framePackets(1, 16000)...)
	s := NewSession(log.NewNopLogger(), src, ustats.Metadata{"DrawCalls": {Scale: 2}}, "FrameTime")

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan DrainResult, 16)
	done := make(chan error)
	go func() { done <- s.Run(ctx, time.Millisecond, func(r DrainResult) { batches <- r }) }()

	select {
	case r := <-batches:
		assert.True(t, r.FirstFrame)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch drained")
	}
	cancel()
	require.NoError(t, <-done)

	f, err := s.Detach()
	require.NoError(t, err)
	assert.True(t, src.closed)
	require.Len(t, f.Frames, 1)
	assert.Equal(t, 2.0, f.Frames[0].Stats[1].Value)
}

func TestListener_UDP(t *testing.T) {
	l, err := Listen(log.NewNopLogger(), "127.0.0.1:0", 0, 16)
	require.NoError(t, err)

	conn, err := net.Dial("udp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var packets [][]byte
	packets = append(packets, descriptionPackets()...)
	packets = append(packets, framePackets(1, 10000)...)
	for _, p := range packets {
		_, err := conn.Write(p)
		require.NoError(t, err)
	}

	s := NewSession(log.NewNopLogger(), l, nil, "")
	var got int
	require.Eventually(t, func() bool {
		got += s.Drain().Packets
		return got == len(packets)
	}, 5*time.Second, 10*time.Millisecond)

	s.View(func(f *ustats.StatFile) {
		require.Len(t, f.Frames, 1)
		assert.Equal(t, "FrameTime", f.Frames[0].Stats[0].Name)
	})
	assert.Equal(t, uint64(len(packets)), l.Received())
	assert.Zero(t, l.Dropped())

	require.NoError(t, s.Close())
	// Closing twice is harmless.
	require.NoError(t, l.Close())
	_, ok := l.Next()
	assert.False(t, ok)
}

func TestListener_DropsWhenFull(t *testing.T) {
	l, err := Listen(log.NewNopLogger(), "127.0.0.1:0", 0, 1)
	require.NoError(t, err)
	defer l.Close()

	conn, err := net.Dial("udp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		_, err := conn.Write(ustats.EncodeNewFramePacket(int32(i)))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return l.Received() == 3 && l.Dropped() == 2
	}, 5*time.Second, 10*time.Millisecond)

	p, ok := l.Next()
	require.True(t, ok)
	assert.Equal(t, ustats.EncodeNewFramePacket(0), p)
}
