package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DUELFORGE_LISTEN_ADDR", "")
	t.Setenv("DUELFORGE_OBSERVER_ADDR", "")
	t.Setenv("DUELFORGE_OBSERVER_ALLOWED_ORIGINS", "")
	t.Setenv("DUELFORGE_OBSERVER_MAX_PAYLOAD_BYTES", "")
	t.Setenv("DUELFORGE_OBSERVER_PING_INTERVAL", "")
	t.Setenv("DUELFORGE_OBSERVER_MAX_CLIENTS", "")
	t.Setenv("DUELFORGE_TLS_CERT", "")
	t.Setenv("DUELFORGE_TLS_KEY", "")
	t.Setenv("DUELFORGE_JOIN_TOKEN_SECRET", "")
	t.Setenv("DUELFORGE_ADMIN_TOKEN", "")
	t.Setenv("DUELFORGE_CATALOGUE_PATH", "")
	t.Setenv("DUELFORGE_MATCH_SEED", "")
	t.Setenv("DUELFORGE_RETRY_TIMEOUT", "")
	t.Setenv("DUELFORGE_MAX_RETRY_ATTEMPTS", "")
	t.Setenv("DUELFORGE_REPLAY_DIR", "")
	t.Setenv("DUELFORGE_REPLAY_DUMP_WINDOW", "")
	t.Setenv("DUELFORGE_REPLAY_DUMP_BURST", "")
	t.Setenv("DUELFORGE_REPLAY_RETENTION_MATCHES", "")
	t.Setenv("DUELFORGE_REPLAY_RETENTION_AGE_DAYS", "")
	t.Setenv("DUELFORGE_REPLAY_CLEANUP_INTERVAL", "")
	t.Setenv("DUELFORGE_LOG_LEVEL", "")
	t.Setenv("DUELFORGE_LOG_PATH", "")
	t.Setenv("DUELFORGE_LOG_MAX_SIZE_MB", "")
	t.Setenv("DUELFORGE_LOG_MAX_BACKUPS", "")
	t.Setenv("DUELFORGE_LOG_MAX_AGE_DAYS", "")
	t.Setenv("DUELFORGE_LOG_COMPRESS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("expected default listen addr %q, got %q", DefaultListenAddr, cfg.ListenAddr)
	}
	if cfg.ObserverAddr != DefaultObserverAddr {
		t.Fatalf("expected default observer addr %q, got %q", DefaultObserverAddr, cfg.ObserverAddr)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("expected no allowed origins, got %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Fatalf("expected default max payload %d, got %d", DefaultMaxPayloadBytes, cfg.MaxPayloadBytes)
	}
	if cfg.PingInterval != DefaultPingInterval {
		t.Fatalf("expected default ping interval %v, got %v", DefaultPingInterval, cfg.PingInterval)
	}
	if cfg.MaxClients != DefaultMaxClients {
		t.Fatalf("expected default max clients %d, got %d", DefaultMaxClients, cfg.MaxClients)
	}
	if cfg.TLSCertPath != "" || cfg.TLSKeyPath != "" {
		t.Fatalf("expected TLS paths to be empty, got cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
	if cfg.JoinTokenSecret != "" {
		t.Fatalf("expected join token secret to be empty by default")
	}
	if cfg.AdminToken != "" {
		t.Fatalf("expected admin token to be empty by default")
	}
	if cfg.CataloguePath != "" {
		t.Fatalf("expected catalogue path to default to embedded (empty string)")
	}
	if cfg.MatchSeed != 0 {
		t.Fatalf("expected match seed to default to 0 (random), got %d", cfg.MatchSeed)
	}
	if cfg.RetryTimeout != DefaultRetryTimeout {
		t.Fatalf("expected default retry timeout %v, got %v", DefaultRetryTimeout, cfg.RetryTimeout)
	}
	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected default max attempts %d, got %d", DefaultMaxAttempts, cfg.MaxAttempts)
	}
	if cfg.ReplayDirectory != "" {
		t.Fatalf("expected replay directory to default to empty string")
	}
	if cfg.ReplayDumpWindow != DefaultReplayDumpWindow {
		t.Fatalf("expected default replay dump window %v, got %v", DefaultReplayDumpWindow, cfg.ReplayDumpWindow)
	}
	if cfg.ReplayDumpBurst != DefaultReplayDumpBurst {
		t.Fatalf("expected default replay dump burst %d, got %d", DefaultReplayDumpBurst, cfg.ReplayDumpBurst)
	}
	if cfg.ReplayRetentionMatches != DefaultReplayRetentionMatches {
		t.Fatalf("expected default replay retention matches %d, got %d", DefaultReplayRetentionMatches, cfg.ReplayRetentionMatches)
	}
	if want := time.Duration(DefaultReplayRetentionAgeDays) * 24 * time.Hour; cfg.ReplayRetentionAge != want {
		t.Fatalf("expected default replay retention age %v, got %v", want, cfg.ReplayRetentionAge)
	}
	if cfg.ReplayCleanupInterval != DefaultReplayCleanupInterval {
		t.Fatalf("expected default replay cleanup interval %v, got %v", DefaultReplayCleanupInterval, cfg.ReplayCleanupInterval)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("expected default log path %q, got %q", DefaultLogPath, cfg.Logging.Path)
	}
	if cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("expected default log max size %d, got %d", DefaultLogMaxSizeMB, cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups != DefaultLogMaxBackups {
		t.Fatalf("expected default log max backups %d, got %d", DefaultLogMaxBackups, cfg.Logging.MaxBackups)
	}
	if cfg.Logging.MaxAgeDays != DefaultLogMaxAgeDays {
		t.Fatalf("expected default log max age %d, got %d", DefaultLogMaxAgeDays, cfg.Logging.MaxAgeDays)
	}
	if cfg.Logging.Compress != DefaultLogCompress {
		t.Fatalf("expected default log compress %t, got %t", DefaultLogCompress, cfg.Logging.Compress)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DUELFORGE_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("DUELFORGE_OBSERVER_ADDR", "127.0.0.1:9001")
	t.Setenv("DUELFORGE_OBSERVER_ALLOWED_ORIGINS", "https://example.com, https://demo.local")
	t.Setenv("DUELFORGE_OBSERVER_MAX_PAYLOAD_BYTES", "2048")
	t.Setenv("DUELFORGE_OBSERVER_PING_INTERVAL", "45s")
	t.Setenv("DUELFORGE_OBSERVER_MAX_CLIENTS", "12")
	t.Setenv("DUELFORGE_TLS_CERT", "/tmp/cert.pem")
	t.Setenv("DUELFORGE_TLS_KEY", "/tmp/key.pem")
	t.Setenv("DUELFORGE_JOIN_TOKEN_SECRET", "join-secret")
	t.Setenv("DUELFORGE_ADMIN_TOKEN", "s3cret")
	t.Setenv("DUELFORGE_CATALOGUE_PATH", "/etc/duelforge/combatants.json")
	t.Setenv("DUELFORGE_MATCH_SEED", "-42")
	t.Setenv("DUELFORGE_RETRY_TIMEOUT", "750ms")
	t.Setenv("DUELFORGE_MAX_RETRY_ATTEMPTS", "5")
	t.Setenv("DUELFORGE_REPLAY_DIR", "/var/run/replays")
	t.Setenv("DUELFORGE_REPLAY_DUMP_WINDOW", "2m")
	t.Setenv("DUELFORGE_REPLAY_DUMP_BURST", "3")
	t.Setenv("DUELFORGE_REPLAY_RETENTION_MATCHES", "10")
	t.Setenv("DUELFORGE_REPLAY_RETENTION_AGE_DAYS", "7")
	t.Setenv("DUELFORGE_REPLAY_CLEANUP_INTERVAL", "15m")
	t.Setenv("DUELFORGE_LOG_LEVEL", "debug")
	t.Setenv("DUELFORGE_LOG_PATH", "/var/log/duelforge.log")
	t.Setenv("DUELFORGE_LOG_MAX_SIZE_MB", "512")
	t.Setenv("DUELFORGE_LOG_MAX_BACKUPS", "4")
	t.Setenv("DUELFORGE_LOG_MAX_AGE_DAYS", "2")
	t.Setenv("DUELFORGE_LOG_COMPRESS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.ObserverAddr != "127.0.0.1:9001" {
		t.Fatalf("unexpected observer addr: %q", cfg.ObserverAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://example.com" || cfg.AllowedOrigins[1] != "https://demo.local" {
		t.Fatalf("unexpected allowed origins: %#v", cfg.AllowedOrigins)
	}
	if cfg.MaxPayloadBytes != 2048 {
		t.Fatalf("expected overridden max payload, got %d", cfg.MaxPayloadBytes)
	}
	if cfg.PingInterval.String() != "45s" {
		t.Fatalf("expected ping interval 45s, got %v", cfg.PingInterval)
	}
	if cfg.MaxClients != 12 {
		t.Fatalf("expected max clients 12, got %d", cfg.MaxClients)
	}
	if cfg.TLSCertPath != "/tmp/cert.pem" || cfg.TLSKeyPath != "/tmp/key.pem" {
		t.Fatalf("unexpected TLS paths cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
	if cfg.JoinTokenSecret != "join-secret" {
		t.Fatalf("expected overridden join token secret, got %q", cfg.JoinTokenSecret)
	}
	if cfg.AdminToken != "s3cret" {
		t.Fatalf("expected overridden admin token, got %q", cfg.AdminToken)
	}
	if cfg.CataloguePath != "/etc/duelforge/combatants.json" {
		t.Fatalf("unexpected catalogue path %q", cfg.CataloguePath)
	}
	if cfg.MatchSeed != -42 {
		t.Fatalf("expected match seed -42, got %d", cfg.MatchSeed)
	}
	if cfg.RetryTimeout != 750*time.Millisecond {
		t.Fatalf("expected retry timeout 750ms, got %v", cfg.RetryTimeout)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", cfg.MaxAttempts)
	}
	if cfg.ReplayDirectory != "/var/run/replays" {
		t.Fatalf("expected replay directory override, got %q", cfg.ReplayDirectory)
	}
	if cfg.ReplayDumpWindow != 2*time.Minute {
		t.Fatalf("expected replay dump window 2m, got %v", cfg.ReplayDumpWindow)
	}
	if cfg.ReplayDumpBurst != 3 {
		t.Fatalf("expected replay dump burst 3, got %d", cfg.ReplayDumpBurst)
	}
	if cfg.ReplayRetentionMatches != 10 {
		t.Fatalf("expected replay retention matches 10, got %d", cfg.ReplayRetentionMatches)
	}
	if cfg.ReplayRetentionAge != 7*24*time.Hour {
		t.Fatalf("expected replay retention age 7 days, got %v", cfg.ReplayRetentionAge)
	}
	if cfg.ReplayCleanupInterval != 15*time.Minute {
		t.Fatalf("expected replay cleanup interval 15m, got %v", cfg.ReplayCleanupInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden log level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Path != "/var/log/duelforge.log" {
		t.Fatalf("unexpected log path %q", cfg.Logging.Path)
	}
	if cfg.Logging.MaxSizeMB != 512 {
		t.Fatalf("expected log max size 512, got %d", cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups != 4 {
		t.Fatalf("expected log max backups 4, got %d", cfg.Logging.MaxBackups)
	}
	if cfg.Logging.MaxAgeDays != 2 {
		t.Fatalf("expected log max age 2, got %d", cfg.Logging.MaxAgeDays)
	}
	if cfg.Logging.Compress {
		t.Fatalf("expected log compression disabled")
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Setenv("DUELFORGE_MATCH_SEED", "not-a-number")
	t.Setenv("DUELFORGE_OBSERVER_MAX_PAYLOAD_BYTES", "-5")
	t.Setenv("DUELFORGE_OBSERVER_PING_INTERVAL", "abc")
	t.Setenv("DUELFORGE_OBSERVER_MAX_CLIENTS", "-1")
	t.Setenv("DUELFORGE_RETRY_TIMEOUT", "-1s")
	t.Setenv("DUELFORGE_MAX_RETRY_ATTEMPTS", "0")
	t.Setenv("DUELFORGE_TLS_CERT", "/tmp/cert.pem")
	t.Setenv("DUELFORGE_TLS_KEY", "")
	t.Setenv("DUELFORGE_LOG_MAX_SIZE_MB", "-1")
	t.Setenv("DUELFORGE_LOG_MAX_BACKUPS", "-2")
	t.Setenv("DUELFORGE_LOG_MAX_AGE_DAYS", "-3")
	t.Setenv("DUELFORGE_LOG_COMPRESS", "notabool")
	t.Setenv("DUELFORGE_REPLAY_DUMP_WINDOW", "-")
	t.Setenv("DUELFORGE_REPLAY_DUMP_BURST", "0")
	t.Setenv("DUELFORGE_REPLAY_RETENTION_MATCHES", "-1")
	t.Setenv("DUELFORGE_REPLAY_RETENTION_AGE_DAYS", "-1")
	t.Setenv("DUELFORGE_REPLAY_CLEANUP_INTERVAL", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}

	for _, want := range []string{
		"DUELFORGE_MATCH_SEED",
		"DUELFORGE_OBSERVER_MAX_PAYLOAD_BYTES",
		"DUELFORGE_OBSERVER_PING_INTERVAL",
		"DUELFORGE_OBSERVER_MAX_CLIENTS",
		"DUELFORGE_RETRY_TIMEOUT",
		"DUELFORGE_MAX_RETRY_ATTEMPTS",
		"DUELFORGE_TLS_CERT",
		"DUELFORGE_LOG_MAX_SIZE_MB",
		"DUELFORGE_LOG_MAX_BACKUPS",
		"DUELFORGE_LOG_MAX_AGE_DAYS",
		"DUELFORGE_LOG_COMPRESS",
		"DUELFORGE_REPLAY_DUMP_WINDOW",
		"DUELFORGE_REPLAY_DUMP_BURST",
		"DUELFORGE_REPLAY_RETENTION_MATCHES",
		"DUELFORGE_REPLAY_RETENTION_AGE_DAYS",
		"DUELFORGE_REPLAY_CLEANUP_INTERVAL",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestLoadIgnoresEmptyAllowedOrigins(t *testing.T) {
	t.Setenv("DUELFORGE_OBSERVER_ALLOWED_ORIGINS", " , ,https://ok.example, ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://ok.example" {
		t.Fatalf("expected single cleaned origin, got %#v", cfg.AllowedOrigins)
	}
}

func TestLoadAllowsUnlimitedObserverClients(t *testing.T) {
	t.Setenv("DUELFORGE_OBSERVER_MAX_CLIENTS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.MaxClients != 0 {
		t.Fatalf("expected zero to disable limit, got %d", cfg.MaxClients)
	}
}

func TestLoadRequiresTLSPairTogether(t *testing.T) {
	t.Setenv("DUELFORGE_TLS_CERT", "/tmp/cert.pem")
	t.Setenv("DUELFORGE_TLS_KEY", "/tmp/key.pem")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.TLSCertPath != "/tmp/cert.pem" || cfg.TLSKeyPath != "/tmp/key.pem" {
		t.Fatalf("unexpected TLS pair cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
}
