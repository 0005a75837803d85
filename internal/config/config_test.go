// ABOUTME: Tests for configuration loading.
// ABOUTME: Covers defaults, env var expansion, duration parsing, and validation.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broker.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "0.0.0.0"
  port: 7777
  pid_file: "/tmp/test-broker.pid"
  poll_timeout: "500ms"
  shutdown_grace: "2s"
  report_interval: "30s"

agents:
  heartbeat_timeout: "10s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
	if cfg.Server.PollTimeout != 500*time.Millisecond {
		t.Errorf("expected poll timeout 500ms, got %v", cfg.Server.PollTimeout)
	}
	if cfg.Server.ShutdownGrace != 2*time.Second {
		t.Errorf("expected shutdown grace 2s, got %v", cfg.Server.ShutdownGrace)
	}
	if cfg.Agents.HeartbeatTimeout != 10*time.Second {
		t.Errorf("expected heartbeat timeout 10s, got %v", cfg.Agents.HeartbeatTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Addr() != "0.0.0.0:7777" {
		t.Errorf("expected addr 0.0.0.0:7777, got %q", cfg.Addr())
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != DefaultHost {
		t.Errorf("expected default host, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Agents.HeartbeatTimeout != DefaultHeartbeatTimeout {
		t.Errorf("expected default heartbeat timeout, got %v", cfg.Agents.HeartbeatTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadAppliesPartialDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8888
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8888 {
		t.Errorf("expected port 8888, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("expected default host for omitted field, got %q", cfg.Server.Host)
	}
	if cfg.Server.PollTimeout != DefaultPollTimeout {
		t.Errorf("expected default poll timeout, got %v", cfg.Server.PollTimeout)
	}
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BROKER_HOST", "10.1.2.3")

	path := writeConfig(t, `
server:
  host: "${TEST_BROKER_HOST}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Host != "10.1.2.3" {
		t.Errorf("expected expanded host, got %q", cfg.Server.Host)
	}
}

func TestUnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "${DEFINITELY_NOT_SET_ANYWHERE}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// Empty after expansion, so the default fills in.
	if cfg.Server.Host != DefaultHost {
		t.Errorf("expected default host, got %q", cfg.Server.Host)
	}
}

func TestBadDurationRejected(t *testing.T) {
	path := writeConfig(t, `
server:
  poll_timeout: "not-a-duration"
`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestValidation(t *testing.T) {
	t.Run("port out of range", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Port = 70000
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error for port 70000")
		}
	})

	t.Run("heartbeat must exceed poll", func(t *testing.T) {
		cfg := Default()
		cfg.Agents.HeartbeatTimeout = 500 * time.Millisecond
		cfg.Server.PollTimeout = time.Second
		if err := cfg.Validate(); err == nil {
			t.Error("expected validation error when heartbeat timeout <= poll timeout")
		}
	})

	t.Run("defaults validate", func(t *testing.T) {
		if err := Default().Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})
}

func TestBadYAMLRejected(t *testing.T) {
	path := writeConfig(t, "server:\n  port: [not\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
