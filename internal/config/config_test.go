package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dchat-io/dchat/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Transport.Kind != "tcp" {
		t.Errorf("Transport.Kind = %q, want %q", cfg.Transport.Kind, "tcp")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Local.Capacity != 0 {
		t.Errorf("Local.Capacity = %d, want 0", cfg.Local.Capacity)
	}

	// Defaults leave local identity unset, so they must NOT pass
	// validation on their own.
	if err := config.Validate(cfg); !errors.Is(err, config.ErrEmptyOnionID) {
		t.Errorf("Validate(DefaultConfig()) = %v, want ErrEmptyOnionID", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
local:
  onion_id: abcdefghij234567
  nickname: alice
  port: 9001
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}

	if cfg.Local.OnionID != "abcdefghij234567" {
		t.Errorf("Local.OnionID = %q, want abcdefghij234567", cfg.Local.OnionID)
	}
	if cfg.Local.Nickname != "alice" {
		t.Errorf("Local.Nickname = %q, want alice", cfg.Local.Nickname)
	}
	if cfg.Local.Port != 9001 {
		t.Errorf("Local.Port = %d, want 9001", cfg.Local.Port)
	}
	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want :9200", cfg.Metrics.Addr)
	}
	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want /custom-metrics", cfg.Metrics.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want text", cfg.Log.Format)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override local identity and log level.
	// Everything else should inherit from DefaultConfig.
	yamlContent := `
local:
  onion_id: abcdefghij234567
  nickname: alice
  port: 9001
log:
  level: "warn"
`
	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}

	// Defaults preserved.
	if cfg.Transport.Kind != "tcp" {
		t.Errorf("Transport.Kind = %q, want default tcp", cfg.Transport.Kind)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default /metrics", cfg.Metrics.Path)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default json", cfg.Log.Format)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel: they modify
	// process-wide state.

	yamlContent := `
local:
  onion_id: abcdefghij234567
  nickname: fromfile
  port: 9001
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("DCHAT_LOCAL_NICKNAME", "fromenv")
	t.Setenv("DCHAT_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}

	if cfg.Local.Nickname != "fromenv" {
		t.Errorf("Local.Nickname = %q, want fromenv (env overrides file)", cfg.Local.Nickname)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (env overrides file)", cfg.Log.Level)
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
local:
  onion_id: abcdefghij234567
  nickname: alice
  port: 9001
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("DCHAT_METRICS_ADDR", ":9200")
	t.Setenv("DCHAT_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want :9200 (from env)", cfg.Metrics.Addr)
	}
	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want /custom (from env)", cfg.Metrics.Path)
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/dchat.yaml")
	if err == nil {
		t.Fatal("Load returned nil error for nonexistent file")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.Local.OnionID = "abcdefghij234567"
		cfg.Local.Nickname = "alice"
		cfg.Local.Port = 9001
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty onion id",
			modify:  func(cfg *config.Config) { cfg.Local.OnionID = "" },
			wantErr: config.ErrEmptyOnionID,
		},
		{
			name:    "wrong-length onion id",
			modify:  func(cfg *config.Config) { cfg.Local.OnionID = "tooshort" },
			wantErr: config.ErrInvalidOnionID,
		},
		{
			name:    "non-printable onion id",
			modify:  func(cfg *config.Config) { cfg.Local.OnionID = "abcdefghij23456\n" },
			wantErr: config.ErrInvalidOnionID,
		},
		{
			name:    "empty nickname",
			modify:  func(cfg *config.Config) { cfg.Local.Nickname = "" },
			wantErr: config.ErrEmptyNickname,
		},
		{
			name:    "oversized nickname",
			modify:  func(cfg *config.Config) { cfg.Local.Nickname = strings.Repeat("a", 65) },
			wantErr: config.ErrInvalidNickname,
		},
		{
			name:    "zero port",
			modify:  func(cfg *config.Config) { cfg.Local.Port = 0 },
			wantErr: config.ErrInvalidPort,
		},
		{
			name:    "negative capacity",
			modify:  func(cfg *config.Config) { cfg.Local.Capacity = -1 },
			wantErr: config.ErrInvalidCapacity,
		},
		{
			name: "remote onion id without port",
			modify: func(cfg *config.Config) {
				cfg.Remote.OnionID = "remoteonionid0000"
				cfg.Remote.Port = 0
			},
			wantErr: config.ErrIncompleteRemote,
		},
		{
			name: "remote port without onion id",
			modify: func(cfg *config.Config) {
				cfg.Remote.OnionID = ""
				cfg.Remote.Port = 9002
			},
			wantErr: config.ErrIncompleteRemote,
		},
		{
			name:    "unknown transport kind",
			modify:  func(cfg *config.Config) { cfg.Transport.Kind = "quic" },
			wantErr: config.ErrUnknownTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate returned nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCompleteRemoteOK(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Local.OnionID = "abcdefghij234567"
	cfg.Local.Nickname = "alice"
	cfg.Local.Port = 9001
	cfg.Remote.OnionID = "remoteonionid0000"
	cfg.Remote.Port = 9002

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate with complete remote: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// writeTemp creates a temporary YAML file and returns its path. The file
// is removed automatically when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "dchat.yaml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
