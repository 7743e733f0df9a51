package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Jobs        JobsConfig      `toml:"jobs"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Metrics     MetricsConfig   `toml:"metrics"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Auth        AuthConfig      `toml:"auth"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for tasks
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - task visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a task can be received before dead-letter
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
	SubmitAttempts    int    `toml:"submit_attempts"`    // Enqueue attempts before falling back to direct execution
	SubmitBackoff     string `toml:"submit_backoff"`     // Base backoff between enqueue attempts, e.g. "50ms"
	FallbackDeferral  string `toml:"fallback_deferral"`  // Delay before direct execution starts after fallback
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	InMemory       bool   `toml:"in_memory"`        // Run Badger without disk persistence (tests)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// JobsConfig controls job store retention and archival
type JobsConfig struct {
	RetentionWindow string `toml:"retention_window"` // Terminal jobs archived after this window (default "24h")
	ArchiveSize     int    `toml:"archive_size"`     // Max archived jobs kept, oldest dropped
	AuditLogSize    int    `toml:"audit_log_size"`   // Global audit entry cap, oldest truncated
	SweepSchedule   string `toml:"sweep_schedule"`   // Cron schedule for the archive sweep
}

// PipelineConfig holds processing defaults; job-type configs override per job
type PipelineConfig struct {
	BatchSize             int     `toml:"batch_size"`              // Records per chunk (default 50)
	QualityThreshold      float64 `toml:"quality_threshold"`       // Confidence >= this => success (default 0.8)
	PartialMatchThreshold float64 `toml:"partial_match_threshold"` // Confidence >= this => partial_match (default 0.5)
	DefaultConfidence     float64 `toml:"default_confidence"`      // Used when no scoring stage ran
	ChunkYield            string  `toml:"chunk_yield"`             // Cooperative delay between chunks, e.g. "10ms"
}

// MetricsConfig controls the metrics store retention and snapshot timer
type MetricsConfig struct {
	RetentionWindow  string `toml:"retention_window"`  // Samples purged after this window (default "168h")
	PurgeSchedule    string `toml:"purge_schedule"`    // Cron schedule for the purge sweep
	SnapshotInterval string `toml:"snapshot_interval"` // Resource snapshot period, e.g. "30s"
	SnapshotWindow   int    `toml:"snapshot_window"`   // Ring size of retained resource snapshots
}

// WebSocketConfig controls the realtime broadcaster
type WebSocketConfig struct {
	AllowedEvents     []string          `toml:"allowed_events"`     // Whitelist of event types to broadcast (empty = allow all)
	ThrottleIntervals map[string]string `toml:"throttle_intervals"` // Per-event-type minimum broadcast interval
	MetricsInterval   string            `toml:"metrics_interval"`   // Fixed interval for system_metrics pushes
}

// AuthConfig holds the static token table for the realtime layer
type AuthConfig struct {
	Tokens     map[string]string `toml:"tokens"`      // token -> principal name
	AllowGuest bool              `toml:"allow_guest"` // Accept unauthenticated clients in demo mode
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// NewDefaultConfig returns the configuration defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "500ms",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "idxr_jobs",
			SubmitAttempts:    3,
			SubmitBackoff:     "50ms",
			FallbackDeferral:  "100ms",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/idxr",
			},
		},
		Jobs: JobsConfig{
			RetentionWindow: "24h",
			ArchiveSize:     500,
			AuditLogSize:    10000,
			SweepSchedule:   "@every 10m",
		},
		Pipeline: PipelineConfig{
			BatchSize:             50,
			QualityThreshold:      0.8,
			PartialMatchThreshold: 0.5,
			DefaultConfidence:     0.5,
			ChunkYield:            "10ms",
		},
		Metrics: MetricsConfig{
			RetentionWindow:  "168h",
			PurgeSchedule:    "@hourly",
			SnapshotInterval: "30s",
			SnapshotWindow:   120,
		},
		WebSocket: WebSocketConfig{
			MetricsInterval: "5s",
			ThrottleIntervals: map[string]string{
				"job_progress": "250ms",
			},
		},
		Auth: AuthConfig{
			AllowGuest: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files.
// Later files override earlier files; env vars override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("IDXR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("IDXR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("IDXR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if pollInterval := os.Getenv("IDXR_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("IDXR_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if queueName := os.Getenv("IDXR_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	if badgerPath := os.Getenv("IDXR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("IDXR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// Duration parses a config duration string, returning fallback when the
// value is empty or invalid
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
