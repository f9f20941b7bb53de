// Package config loads the recorder's runtime settings from the
// environment, accumulating every validation problem before returning
// rather than failing on the first one, so an operator sees every
// misconfigured variable in one pass.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultStoragePath is where kvlog segments are written.
	DefaultStoragePath = "./data"
	// DefaultTransport selects the WebSocket transport by default; "tcp"
	// selects the plain-TCP transport.
	DefaultTransport = "ws"

	// DefaultHeartbeatInterval is FEED_HEARTBEAT_RATE_SEC from the wire spec.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultReconnectBackoff is the delay between Cooldown and Discover.
	DefaultReconnectBackoff = 5 * time.Second
	// DefaultInitBackoff is the delay after a failed Discover or Connect.
	DefaultInitBackoff = 5 * time.Second
	// DefaultStartupStagger is FEED_INIT_INTERVAL_MS, the gap between
	// successive room driver launches.
	DefaultStartupStagger = 100 * time.Millisecond

	// DefaultDiscoveryRPS throttles the recorder's own discovery calls.
	DefaultDiscoveryRPS = 5.0
	// DefaultDiscoveryBurst is the discovery limiter's burst size.
	DefaultDiscoveryBurst = 5

	// DefaultLogLevel controls verbosity for recorder logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "feedrec.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultOpsAddr is the address the ops HTTP surface listens on.
	DefaultOpsAddr = ":9090"

	// DefaultArchiveInterval controls how often the archiver scans for
	// closed segments to compress.
	DefaultArchiveInterval = 10 * time.Minute
	// DefaultArchiveTriggerWindow bounds how frequently an operator may
	// request an out-of-band archive pass.
	DefaultArchiveTriggerWindow = time.Minute
	// DefaultArchiveTriggerBurst sets how many manual triggers are allowed per window.
	DefaultArchiveTriggerBurst = 1
)

// Config captures all runtime tunables for the recorder.
type Config struct {
	Rooms             []int32
	StoragePath       string
	Transport         string
	HeartbeatInterval time.Duration
	ReconnectBackoff  time.Duration
	InitBackoff       time.Duration
	StartupStagger    time.Duration
	DiscoveryRPS      float64
	DiscoveryBurst    int
	Logging           LoggingConfig
	OpsAddr           string

	ArchiveInterval      time.Duration
	ArchiveTriggerWindow time.Duration
	ArchiveTriggerBurst  int

	AdminToken string
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the recorder configuration from environment variables,
// applying sane defaults and returning descriptive errors for invalid
// overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Rooms:             parseInt32List(os.Getenv("FEED_ROOMS")),
		StoragePath:       getString("FEED_STORAGE_PATH", DefaultStoragePath),
		Transport:         strings.ToLower(getString("FEED_TRANSPORT", DefaultTransport)),
		HeartbeatInterval: DefaultHeartbeatInterval,
		ReconnectBackoff:  DefaultReconnectBackoff,
		InitBackoff:       DefaultInitBackoff,
		StartupStagger:    DefaultStartupStagger,
		DiscoveryRPS:      DefaultDiscoveryRPS,
		DiscoveryBurst:    DefaultDiscoveryBurst,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("FEED_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("FEED_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		OpsAddr:              getString("FEED_OPS_ADDR", DefaultOpsAddr),
		ArchiveInterval:      DefaultArchiveInterval,
		ArchiveTriggerWindow: DefaultArchiveTriggerWindow,
		ArchiveTriggerBurst:  DefaultArchiveTriggerBurst,
		AdminToken:           strings.TrimSpace(os.Getenv("FEED_ADMIN_TOKEN")),
	}

	var problems []string

	if len(cfg.Rooms) == 0 {
		problems = append(problems, "FEED_ROOMS must name at least one room id")
	}

	if cfg.Transport != "ws" && cfg.Transport != "tcp" {
		problems = append(problems, fmt.Sprintf("FEED_TRANSPORT must be \"ws\" or \"tcp\", got %q", cfg.Transport))
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_HEARTBEAT_INTERVAL")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("FEED_HEARTBEAT_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.HeartbeatInterval = d
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_RECONNECT_BACKOFF")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("FEED_RECONNECT_BACKOFF must be a positive duration, got %q", raw))
		} else {
			cfg.ReconnectBackoff = d
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_INIT_BACKOFF")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("FEED_INIT_BACKOFF must be a positive duration, got %q", raw))
		} else {
			cfg.InitBackoff = d
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_STARTUP_STAGGER")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			problems = append(problems, fmt.Sprintf("FEED_STARTUP_STAGGER must be a non-negative duration, got %q", raw))
		} else {
			cfg.StartupStagger = d
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_DISCOVERY_RPS")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			problems = append(problems, fmt.Sprintf("FEED_DISCOVERY_RPS must be a positive number, got %q", raw))
		} else {
			cfg.DiscoveryRPS = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_DISCOVERY_BURST")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			problems = append(problems, fmt.Sprintf("FEED_DISCOVERY_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.DiscoveryBurst = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_LOG_MAX_SIZE_MB")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			problems = append(problems, fmt.Sprintf("FEED_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_LOG_MAX_BACKUPS")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			problems = append(problems, fmt.Sprintf("FEED_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_LOG_MAX_AGE_DAYS")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			problems = append(problems, fmt.Sprintf("FEED_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_LOG_COMPRESS")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("FEED_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_ARCHIVE_INTERVAL")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("FEED_ARCHIVE_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.ArchiveInterval = d
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_ARCHIVE_TRIGGER_WINDOW")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Sprintf("FEED_ARCHIVE_TRIGGER_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.ArchiveTriggerWindow = d
		}
	}

	if raw := strings.TrimSpace(os.Getenv("FEED_ARCHIVE_TRIGGER_BURST")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			problems = append(problems, fmt.Sprintf("FEED_ARCHIVE_TRIGGER_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.ArchiveTriggerBurst = v
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// ParseRooms splits a comma-separated list of room ids into their int32
// values, the same parsing Load() applies to FEED_ROOMS. Exported so the
// recorder binary's -r/--roomid-list flag can override cfg.Rooms with
// the identical parsing rules.
func ParseRooms(raw string) []int32 {
	return parseInt32List(raw)
}

func parseInt32List(raw string) []int32 {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]int32, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		v, err := strconv.ParseInt(item, 10, 32)
		if err != nil {
			continue
		}
		values = append(values, int32(v))
	}
	return values
}
