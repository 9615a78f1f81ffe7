package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"statsviewer-mcp/internal/config"
	"statsviewer-mcp/internal/live"
	"statsviewer-mcp/internal/ustats"
)

// Live captures are addressed as "live:<name>" wherever a file path is accepted.
const livePrefix = "live:"

type capture struct {
	session  *live.Session
	listener *live.Listener
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.Mutex
	batches int
	last    live.DrainResult
}

// store holds loaded sessions keyed by path and running live captures.
type store struct {
	cfg      *config.Config
	metadata ustats.Metadata
	logger   log.Logger

	mu       sync.Mutex
	files    map[string]*ustats.StatFile
	captures map[string]*capture
}

func newStore(cfg *config.Config, metadata ustats.Metadata, logger log.Logger) *store {
	return &store{
		cfg:      cfg,
		metadata: metadata,
		logger:   logger,
		files:    make(map[string]*ustats.StatFile),
		captures: make(map[string]*capture),
	}
}

// load reads a .ustats or .xml file and caches it.
func (s *store) load(path string) (*ustats.StatFile, *ustats.LoadResult, error) {
	opts := []ustats.LoadOption{ustats.WithMetadata(s.metadata), ustats.WithFrameTimeStat(s.cfg.FrameTimeStat)}

	var res *ustats.LoadResult
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		f, err := ustats.LoadXMLFile(path, opts...)
		if err != nil {
			return nil, nil, err
		}
		res = &ustats.LoadResult{File: f, Version: f.Version, Warnings: f.RepairWarningMessages}
	} else {
		r, err := ustats.LoadStatsFile(path, opts...)
		if err != nil {
			return nil, nil, err
		}
		res = r
	}

	s.mu.Lock()
	s.files[path] = res.File
	s.mu.Unlock()
	level.Info(s.logger).Log("msg", "loaded stats", "path", path, "frames", len(res.File.Frames), "warnings", len(res.Warnings), "truncated", res.Truncated)
	return res.File, res, nil
}

// view runs fn on a loaded file or on a live capture under its ingestion lock.
func (s *store) view(key string, fn func(*ustats.StatFile) error) error {
	s.mu.Lock()
	f, loaded := s.files[key]
	var c *capture
	if name, ok := strings.CutPrefix(key, livePrefix); ok {
		c = s.captures[name]
	}
	s.mu.Unlock()

	switch {
	case c != nil:
		var err error
		c.session.View(func(f *ustats.StatFile) { err = fn(f) })
		return err
	case loaded:
		return fn(f)
	case strings.HasPrefix(key, livePrefix):
		return errors.Errorf("no live capture %q; use start_capture first", key)
	}
	return errors.New("stats file not loaded. Use load_stats tool first")
}

func (s *store) startCapture(name, address string) (*capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.captures[name]; exists {
		return nil, errors.Errorf("live capture %q is already running", name)
	}
	if address == "" {
		address = s.cfg.Live.ListenAddress
	}

	l, err := live.Listen(s.logger, address, s.cfg.Live.BufferSize, s.cfg.Live.QueueSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &capture{
		session:  live.NewSession(log.With(s.logger, "capture", name), l, s.metadata, s.cfg.FrameTimeStat),
		listener: l,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		_ = c.session.Run(ctx, s.cfg.Live.DrainInterval, func(r live.DrainResult) {
			c.mu.Lock()
			c.batches++
			c.last = r
			c.mu.Unlock()
			if r.FirstFrame {
				level.Info(s.logger).Log("msg", "first live frame received", "capture", name)
			}
		})
	}()
	s.captures[name] = c
	return c, nil
}

// stopCapture ends a capture and keeps its data as a loaded file under "live:<name>".
func (s *store) stopCapture(name string) (*ustats.StatFile, error) {
	s.mu.Lock()
	c, ok := s.captures[name]
	delete(s.captures, name)
	s.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("no live capture named %q", name)
	}

	c.cancel()
	<-c.done
	// Detach closes the socket, then applies what is still queued.
	f, err := c.session.Detach()

	s.mu.Lock()
	s.files[livePrefix+name] = f
	s.mu.Unlock()
	return f, err
}

func (s *store) stopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.captures))
	for name := range s.captures {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		if _, err := s.stopCapture(name); err != nil {
			level.Warn(s.logger).Log("msg", "failed to stop capture", "capture", name, "err", err)
		}
	}
}

func (c *capture) status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("address %s, %d datagrams received, %d dropped, %d batches applied (last: %d records, %d warnings, %d unknown)",
		c.listener.Addr(), c.listener.Received(), c.listener.Dropped(), c.batches,
		c.last.Packets, len(c.last.Warnings), c.last.UnknownPackets)
}
