// Package config holds the server configuration: command line flags, the
// optional YAML config file and the stat metadata side table.
package config

import (
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/yaml.v3"

	"statsviewer-mcp/internal/live"
	"statsviewer-mcp/internal/ustats"
)

const configFileFlag = "config.file"

// Config is the complete server configuration. Values come from the
// defaults, then the config file, then flags.
type Config struct {
	LogLevel      string     `yaml:"log_level"`
	MetadataFile  string     `yaml:"metadata_file"`
	FrameTimeStat string     `yaml:"frame_time_stat"`
	TargetFPS     float64    `yaml:"target_fps"`
	Live          LiveConfig `yaml:"live"`
}

// LiveConfig configures live capture.
type LiveConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	BufferSize    int           `yaml:"buffer_size"`
	QueueSize     int           `yaml:"queue_size"`
	DrainInterval time.Duration `yaml:"drain_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		FrameTimeStat: ustats.DefaultFrameTimeStatName,
		TargetFPS:     60,
		Live: LiveConfig{
			ListenAddress: "127.0.0.1:13000",
			BufferSize:    live.DefaultBufferSize,
			QueueSize:     live.DefaultQueueSize,
			DrainInterval: 100 * time.Millisecond,
		},
	}
}

// RegisterFlags binds the config fields to app. Flags carry no kingpin
// defaults, so values already in cfg survive when a flag is not given.
func RegisterFlags(app *kingpin.Application, cfg *Config) {
	app.Flag(configFileFlag, "YAML configuration file.").PlaceHolder("FILE").String()
	app.Flag("log.level", "Only log messages with the given severity or above. One of: [debug, info, warn, error]").PlaceHolder(cfg.LogLevel).StringVar(&cfg.LogLevel)
	app.Flag("metadata.file", "YAML file with display metadata (scale, suffix, units) per stat name.").PlaceHolder("FILE").StringVar(&cfg.MetadataFile)
	app.Flag("frame-time-stat", "Name of the stat that measures a whole frame.").PlaceHolder(cfg.FrameTimeStat).StringVar(&cfg.FrameTimeStat)
	app.Flag("target-fps", "Frame rate used to compute the frame budget.").PlaceHolder("60").Float64Var(&cfg.TargetFPS)
	app.Flag("live.listen-address", "UDP address to receive live stats on.").PlaceHolder(cfg.Live.ListenAddress).StringVar(&cfg.Live.ListenAddress)
	app.Flag("live.buffer-size", "Socket read buffer size in bytes.").PlaceHolder("1048576").IntVar(&cfg.Live.BufferSize)
	app.Flag("live.queue-size", "Live records buffered between drains.").PlaceHolder("65536").IntVar(&cfg.Live.QueueSize)
	app.Flag("live.drain-interval", "How often queued live records are applied.").PlaceHolder("100ms").DurationVar(&cfg.Live.DrainInterval)
}

// ConfigFileFromArgs finds --config.file before flags are parsed, so the
// file can be loaded underneath the command line.
func ConfigFileFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "--") || name != configFileFlag {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// Load builds the configuration from the defaults, the config file named on
// the command line and the flags, then validates it. It returns the selected
// command, if app has any.
func Load(app *kingpin.Application, args []string) (*Config, string, error) {
	cfg := Default()
	if path := ConfigFileFromArgs(args); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, "", err
		}
	}
	RegisterFlags(app, cfg)
	cmd, err := app.Parse(args)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, cmd, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if _, lerr := levelOption(c.LogLevel); lerr != nil {
		err = multierror.Append(err, lerr)
	}
	if c.FrameTimeStat == "" {
		err = multierror.Append(err, errors.New("frame time stat name must not be empty"))
	}
	if c.TargetFPS <= 0 {
		err = multierror.Append(err, errors.Errorf("target fps must be positive, got %v", c.TargetFPS))
	}
	if c.Live.ListenAddress != "" {
		if _, _, aerr := net.SplitHostPort(c.Live.ListenAddress); aerr != nil {
			err = multierror.Append(err, errors.Wrap(aerr, "invalid live listen address"))
		}
	}
	if c.Live.BufferSize < 0 {
		err = multierror.Append(err, errors.Errorf("live buffer size must not be negative, got %d", c.Live.BufferSize))
	}
	if c.Live.QueueSize < 0 {
		err = multierror.Append(err, errors.Errorf("live queue size must not be negative, got %d", c.Live.QueueSize))
	}
	if c.Live.DrainInterval <= 0 {
		err = multierror.Append(err, errors.Errorf("live drain interval must be positive, got %s", c.Live.DrainInterval))
	}
	return err
}

func levelOption(name string) (level.Option, error) {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug(), nil
	case "info", "":
		return level.AllowInfo(), nil
	case "warn", "warning":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	}
	return nil, errors.Errorf("unknown log level %q", name)
}

// NewLogger returns a logfmt logger on w filtered by the configured level.
func (c *Config) NewLogger(w io.Writer) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	opt, err := levelOption(c.LogLevel)
	if err != nil {
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}
