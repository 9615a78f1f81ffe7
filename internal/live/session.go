package live

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"statsviewer-mcp/internal/ustats"
)

// DrainResult summarizes one ingestion batch.
type DrainResult struct {
	Packets     int
	FramesAdded int
	// FirstFrame is set on the batch that delivered the session's first frame.
	FirstFrame bool
	// DescriptionsChanged means stat or group descriptions arrived and any
	// stat tree built from them is stale.
	DescriptionsChanged bool
	UnknownPackets      int
	BadPackets          int
	Warnings            []string
}

// Session feeds live records into a StatFile. All access to the file goes
// through the session lock.
type Session struct {
	mu     sync.Mutex
	file   *ustats.StatFile
	source Source
	logger log.Logger
	// reported counts the file's repair warnings already returned by Drain.
	reported int

	closeOnce sync.Once
	closeErr  error
}

// NewSession creates an empty session reading from src.
func NewSession(logger log.Logger, src Source, metadata ustats.Metadata, frameTimeStat string) *Session {
	file := ustats.NewStatFile()
	file.SetMetadata(metadata)
	if frameTimeStat != "" {
		file.FrameTimeStatName = frameTimeStat
	}
	return &Session{
		file:   file,
		source: src,
		logger: log.With(logger, "component", "live-session"),
	}
}

// Drain applies every queued record and runs the fix-up pass once.
func (s *Session) Drain() DrainResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res DrainResult
	framesBefore := len(s.file.Frames)

	for {
		pkt, ok := s.source.Next()
		if !ok {
			break
		}
		res.Packets++
		tag, err := s.file.ApplyPacket(pkt)
		switch {
		case errors.Is(err, ustats.ErrUnknownPacket):
			res.UnknownPackets++
			level.Debug(s.logger).Log("msg", "ignoring unknown live record", "tag", tag, "len", len(pkt))
			continue
		case err != nil:
			res.BadPackets++
			level.Warn(s.logger).Log("msg", "malformed live record", "tag", tag, "err", err)
			continue
		}
		if tag == ustats.PacketStatDescription || tag == ustats.PacketGroupDescription {
			res.DescriptionsChanged = true
		}
	}
	if res.Packets == 0 {
		return res
	}

	s.file.FixupRecentItems()
	res.FramesAdded = len(s.file.Frames) - framesBefore
	res.FirstFrame = framesBefore == 0 && res.FramesAdded > 0
	res.Warnings = append([]string(nil), s.file.RepairWarningMessages[s.reported:]...)
	s.reported = len(s.file.RepairWarningMessages)
	for _, w := range res.Warnings {
		level.Warn(s.logger).Log("msg", "repair warning", "warning", w)
	}
	return res
}

// Run drains the source every interval until ctx is done. onDrain, when set,
// sees every batch that carried records.
func (s *Session) Run(ctx context.Context, interval time.Duration, onDrain func(DrainResult)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res := s.Drain()
			if res.Packets == 0 {
				continue
			}
			level.Debug(s.logger).Log("msg", "drained live records", "packets", res.Packets, "frames", res.FramesAdded, "warnings", len(res.Warnings))
			if onDrain != nil {
				onDrain(res)
			}
		}
	}
}

// View runs fn with the session file under the ingestion lock. fn must not
// keep the file after returning.
func (s *Session) View(fn func(*ustats.StatFile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.file)
}

// Detach closes the source, applies the records still queued and hands the
// file over to the caller.
func (s *Session) Detach() (*ustats.StatFile, error) {
	err := s.Close()
	s.Drain()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file, err
}

// Close closes the source. Records already queued can still be drained.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.source.Close()
	})
	return s.closeErr
}
