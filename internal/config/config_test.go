package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Fatalf("unexpected port %s", cfg.Port)
	}
	if cfg.HeartbeatInterval != 30*time.Second || cfg.StaleAfter != 60*time.Second {
		t.Fatalf("unexpected liveness settings %v/%v", cfg.HeartbeatInterval, cfg.StaleAfter)
	}
	if cfg.EventsChannel != "prophecy-events" {
		t.Fatalf("unexpected events channel %s", cfg.EventsChannel)
	}
	if cfg.AuthEnabled() {
		t.Fatal("auth should be disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STREAM_SERVICE_PORT", "9100")
	t.Setenv("HEARTBEAT_INTERVAL", "15s")
	t.Setenv("STALE_AFTER", "45s")
	t.Setenv("CONNECT_BURST", "7")
	t.Setenv("DEBUG", "true")
	t.Setenv("PUBLISH_TOKEN", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9100" || cfg.HeartbeatInterval != 15*time.Second || cfg.StaleAfter != 45*time.Second {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.ConnectBurst != 7 || !cfg.Debug || cfg.PublishToken != "secret" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.yaml")
	content := "port: \"9200\"\nheartbeat_interval: 20s\nstale_after: 50s\nevents_channel: from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("EVENTS_CHANNEL", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9200" || cfg.HeartbeatInterval != 20*time.Second || cfg.StaleAfter != 50*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.EventsChannel != "from-env" {
		t.Fatalf("env should win over file, got %s", cfg.EventsChannel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		key, value, wantErr string
	}{
		{key: "HEARTBEAT_INTERVAL", value: "soon", wantErr: "HEARTBEAT_INTERVAL"},
		{key: "CONNECT_BURST", value: "many", wantErr: "CONNECT_BURST"},
		{key: "DEBUG", value: "maybe", wantErr: "DEBUG"},
		{key: "STALE_AFTER", value: "10s", wantErr: "STALE_AFTER"},
		{key: "LOG_FORMAT", value: "xml", wantErr: "LOG_FORMAT"},
		{key: "AUTH0_TEST_MODE", value: "1", wantErr: "TEST_JWT_SECRET"},
		{key: "AUTH0_DOMAIN", value: "example.auth0.com", wantErr: "AUTH0_AUDIENCE"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAuthEnabled(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", "s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Fatal("test mode should enable auth")
	}
}
