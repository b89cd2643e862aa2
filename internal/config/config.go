package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultListenAddr is the default UDP address a host binds to.
	DefaultListenAddr = ":34127"
	// DefaultObserverAddr is the default WebSocket address the spectator bridge listens on.
	DefaultObserverAddr = ":34128"
	// DefaultPingInterval controls the keepalive cadence for spectator WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes is the default observer payload size setting. observer.Config.MaxPayloadBytes
	// uses such a value as the WebSocket read buffer size; it does not cap inbound frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16
	// DefaultMaxClients bounds concurrent spectator connections. Zero disables the limit.
	DefaultMaxClients = 64

	// DefaultRetryTimeout is the per-attempt deadline for a reliable send.
	DefaultRetryTimeout = 500 * time.Millisecond
	// DefaultMaxAttempts bounds how many attempts in total a reliable send makes before giving up.
	DefaultMaxAttempts = 3

	// DefaultReplayDumpWindow bounds how frequently a replay dump may be requested.
	DefaultReplayDumpWindow = time.Minute
	// DefaultReplayDumpBurst sets how many replay dump requests may be made per window.
	DefaultReplayDumpBurst = 1

	// DefaultReplayRetentionMatches bounds how many match bundles are kept on disk. Zero disables the limit.
	DefaultReplayRetentionMatches = 50
	// DefaultReplayRetentionAgeDays bounds how long a match bundle is kept on disk. Zero disables the limit.
	DefaultReplayRetentionAgeDays = 30
	// DefaultReplayCleanupInterval controls how often retention sweeps run.
	DefaultReplayCleanupInterval = time.Hour

	// DefaultLogLevel controls verbosity for engine logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "duelforge.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for a duelforge host, joiner, or
// spectator bridge process.
type Config struct {
	ListenAddr      string
	ObserverAddr    string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	TLSCertPath     string
	TLSKeyPath      string

	JoinTokenSecret string
	AdminToken      string

	CataloguePath string
	MatchSeed     int64

	RetryTimeout time.Duration
	MaxAttempts  int

	ReplayDirectory        string
	ReplayDumpWindow       time.Duration
	ReplayDumpBurst        int
	ReplayRetentionMatches int
	ReplayRetentionAge     time.Duration
	ReplayCleanupInterval  time.Duration

	Logging LoggingConfig
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

// Load reads the engine configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getString("DUELFORGE_LISTEN_ADDR", DefaultListenAddr),
		ObserverAddr:    getString("DUELFORGE_OBSERVER_ADDR", DefaultObserverAddr),
		AllowedOrigins:  parseList(os.Getenv("DUELFORGE_OBSERVER_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		MaxClients:      DefaultMaxClients,
		TLSCertPath:     strings.TrimSpace(os.Getenv("DUELFORGE_TLS_CERT")),
		TLSKeyPath:      strings.TrimSpace(os.Getenv("DUELFORGE_TLS_KEY")),

		JoinTokenSecret: strings.TrimSpace(os.Getenv("DUELFORGE_JOIN_TOKEN_SECRET")),
		AdminToken:      strings.TrimSpace(os.Getenv("DUELFORGE_ADMIN_TOKEN")),

		CataloguePath: strings.TrimSpace(os.Getenv("DUELFORGE_CATALOGUE_PATH")),

		RetryTimeout: DefaultRetryTimeout,
		MaxAttempts:  DefaultMaxAttempts,

		ReplayDirectory:        strings.TrimSpace(os.Getenv("DUELFORGE_REPLAY_DIR")),
		ReplayDumpWindow:       DefaultReplayDumpWindow,
		ReplayDumpBurst:        DefaultReplayDumpBurst,
		ReplayRetentionMatches: DefaultReplayRetentionMatches,
		ReplayRetentionAge:     time.Duration(DefaultReplayRetentionAgeDays) * 24 * time.Hour,
		ReplayCleanupInterval:  DefaultReplayCleanupInterval,

		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("DUELFORGE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("DUELFORGE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_MATCH_SEED")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("DUELFORGE_MATCH_SEED must be an integer, got %q", raw))
		} else {
			cfg.MatchSeed = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_OBSERVER_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_OBSERVER_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_OBSERVER_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_OBSERVER_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_OBSERVER_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_OBSERVER_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_RETRY_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_RETRY_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.RetryTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_MAX_RETRY_ATTEMPTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_MAX_RETRY_ATTEMPTS must be a positive integer, got %q", raw))
		} else {
			cfg.MaxAttempts = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("DUELFORGE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_REPLAY_DUMP_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_REPLAY_DUMP_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.ReplayDumpWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_REPLAY_DUMP_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_REPLAY_DUMP_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.ReplayDumpBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_REPLAY_RETENTION_MATCHES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_REPLAY_RETENTION_MATCHES must be a non-negative integer, got %q", raw))
		} else {
			cfg.ReplayRetentionMatches = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_REPLAY_RETENTION_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_REPLAY_RETENTION_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.ReplayRetentionAge = time.Duration(value) * 24 * time.Hour
		}
	}

	if raw := strings.TrimSpace(os.Getenv("DUELFORGE_REPLAY_CLEANUP_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("DUELFORGE_REPLAY_CLEANUP_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.ReplayCleanupInterval = duration
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "DUELFORGE_TLS_CERT and DUELFORGE_TLS_KEY must be provided together")
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

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
