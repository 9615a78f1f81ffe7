package main

import (
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/alecthomas/kingpin.v2"

	"statsviewer-mcp/internal/config"
)

const version = "1.0.0"

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "MCP server for analyzing engine stats captures (.ustats files and live UDP streams).")
	app.Version(version)
	app.HelpFlag.Short('h')

	cfg, _, err := config.Load(app, os.Args[1:])
	if err != nil {
		// stdout carries the MCP protocol.
		fallback := log.NewLogfmtLogger(os.Stderr)
		level.Error(fallback).Log("msg", "invalid configuration", "err", err)
		os.Exit(2)
	}

	logger := cfg.NewLogger(os.Stderr)
	metadata, err := config.LoadMetadata(cfg.MetadataFile)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load stat metadata", "file", cfg.MetadataFile, "err", err)
		os.Exit(1)
	}

	st := newStore(cfg, metadata, logger)
	defer st.stopAll()

	s := server.NewMCPServer(
		"statsviewer",
		version,
		server.WithLogging(),
	)
	registerTools(s, st)

	level.Info(logger).Log("msg", "serving MCP on stdio", "stat_metadata", len(metadata), "frame_time_stat", cfg.FrameTimeStat)
	if err := server.ServeStdio(s); err != nil {
		level.Error(logger).Log("msg", "server error", "err", err)
		st.stopAll()
		os.Exit(1)
	}
}
