package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WALConfig holds write-ahead-log specific configuration.
type WALConfig struct {
	SyncMode         string `yaml:"sync_mode"` // "always", "interval", "disabled"
	FlushIntervalMs  int    `yaml:"flush_interval_ms"`
}

// ChunkConfig holds columnar chunk specific configuration.
type ChunkConfig struct {
	// Capacity overrides the chunk size cap. Production deployments
	// should leave this at the default of 1000; a smaller value is
	// useful in tests that want to exercise sealing without writing
	// thousands of samples.
	Capacity int `yaml:"capacity"`
}

// SSTableConfig holds the outer block-compression codec selection
// applied by the chunk store on top of the per-column codecs.
type SSTableConfig struct {
	Compression string `yaml:"compression"` // "none", "snappy", "lz4", "zstd"
}

// IndexConfig holds adaptive-index specific configuration.
type IndexConfig struct {
	RebuildEvery int `yaml:"rebuild_every"` // the Q constant; 0 selects the default of 1000
}

// EngineConfig groups the data-directory and component configs the
// engine needs to open and run.
type EngineConfig struct {
	DataDir string        `yaml:"data_dir"`
	WAL     WALConfig     `yaml:"wal"`
	Chunk   ChunkConfig   `yaml:"chunk"`
	SSTable SSTableConfig `yaml:"sstable"`
	Index   IndexConfig   `yaml:"index"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stdout", "file", "none"
	File   string `yaml:"file"`   // path to the log file, used if output is "file"
}

// TracingConfig controls whether the engine records spans with a real
// OpenTelemetry SDK tracer provider (sampled in-process, no exporter
// attached) rather than the inert default no-op tracer.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_ratio"` // fraction of spans sampled when enabled, default 1.0
}

// Config is the top-level configuration struct.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// NewLogger builds a *slog.Logger from a LoggingConfig: Level selects
// the minimum severity, Output selects the destination ("stdout",
// "file" — using File as the path, or "none" to discard), and the
// returned io.Closer (nil unless Output is "file") must be closed
// when the logger is no longer needed.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})), closer, nil
}

// ParseDuration parses a duration string. Returns the default duration if the
// string is empty or invalid. Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader. Separated from LoadConfig for testability.
func Load(r io.Reader) (*Config, error) {
	cfg := &Config{
		Engine: EngineConfig{
			DataDir: "./data",
			WAL: WALConfig{
				SyncMode:        "interval",
				FlushIntervalMs: 100,
			},
			Chunk: ChunkConfig{
				Capacity: 1000,
			},
			SSTable: SSTableConfig{
				Compression: "snappy",
			},
			Index: IndexConfig{
				RebuildEvery: 1000,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "waffledb.log",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 1.0,
		},
	}

	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path, falling back to
// defaults if the file does not exist.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
