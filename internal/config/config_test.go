package config

import (
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FEED_ROOMS", "FEED_STORAGE_PATH", "FEED_TRANSPORT",
		"FEED_HEARTBEAT_INTERVAL", "FEED_RECONNECT_BACKOFF", "FEED_INIT_BACKOFF",
		"FEED_STARTUP_STAGGER", "FEED_DISCOVERY_RPS", "FEED_DISCOVERY_BURST",
		"FEED_LOG_LEVEL", "FEED_LOG_PATH", "FEED_LOG_MAX_SIZE_MB",
		"FEED_LOG_MAX_BACKUPS", "FEED_LOG_MAX_AGE_DAYS", "FEED_LOG_COMPRESS",
		"FEED_OPS_ADDR", "FEED_ARCHIVE_INTERVAL", "FEED_ARCHIVE_TRIGGER_WINDOW",
		"FEED_ARCHIVE_TRIGGER_BURST", "FEED_ADMIN_TOKEN",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEED_ROOMS", "123,456")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if len(cfg.Rooms) != 2 || cfg.Rooms[0] != 123 || cfg.Rooms[1] != 456 {
		t.Fatalf("unexpected rooms: %#v", cfg.Rooms)
	}
	if cfg.StoragePath != DefaultStoragePath {
		t.Fatalf("expected default storage path %q, got %q", DefaultStoragePath, cfg.StoragePath)
	}
	if cfg.Transport != DefaultTransport {
		t.Fatalf("expected default transport %q, got %q", DefaultTransport, cfg.Transport)
	}
	if cfg.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Fatalf("expected default heartbeat interval %v, got %v", DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	}
	if cfg.ReconnectBackoff != DefaultReconnectBackoff {
		t.Fatalf("expected default reconnect backoff %v, got %v", DefaultReconnectBackoff, cfg.ReconnectBackoff)
	}
	if cfg.StartupStagger != DefaultStartupStagger {
		t.Fatalf("expected default startup stagger %v, got %v", DefaultStartupStagger, cfg.StartupStagger)
	}
	if cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("expected default log path %q, got %q", DefaultLogPath, cfg.Logging.Path)
	}
}

func TestLoadRequiresRooms(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when FEED_ROOMS is unset")
	}
	if !strings.Contains(err.Error(), "FEED_ROOMS") {
		t.Fatalf("error %q does not mention FEED_ROOMS", err)
	}
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEED_ROOMS", "1")
	t.Setenv("FEED_TRANSPORT", "carrier-pigeon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for unknown transport")
	}
	if !strings.Contains(err.Error(), "FEED_TRANSPORT") {
		t.Fatalf("error %q does not mention FEED_TRANSPORT", err)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEED_ROOMS", "1")
	t.Setenv("FEED_HEARTBEAT_INTERVAL", "not-a-duration")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "FEED_HEARTBEAT_INTERVAL") {
		t.Fatalf("error %q does not mention FEED_HEARTBEAT_INTERVAL", err)
	}
}

func TestLoadAccumulatesMultipleProblems(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEED_TRANSPORT", "bogus")
	t.Setenv("FEED_DISCOVERY_RPS", "-1")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"FEED_ROOMS", "FEED_TRANSPORT", "FEED_DISCOVERY_RPS"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q does not mention %s", msg, want)
		}
	}
}
