// Package config manages DChat configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags. The CLI
// surface mirrors the original client's required flags (local onion-id,
// nickname, local port, and an optional remote onion-id/port to
// auto-connect to on startup); everything else is ambient daemon
// configuration layered on top.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dchat-io/dchat/internal/chat"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete dchat configuration.
type Config struct {
	Local     LocalConfig     `koanf:"local"`
	Remote    RemoteConfig    `koanf:"remote"`
	Transport TransportConfig `koanf:"transport"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
}

// LocalConfig describes this node's own identity.
type LocalConfig struct {
	// OnionID is this node's own onion-id, as presented in outgoing PDUs.
	OnionID string `koanf:"onion_id"`

	// Nickname is this node's display name, sent with every PDU.
	Nickname string `koanf:"nickname"`

	// Port is the local listening port.
	Port uint16 `koanf:"port"`

	// Capacity bounds the number of simultaneous contacts. Zero means
	// unbounded.
	Capacity int `koanf:"capacity"`
}

// RemoteConfig optionally names a peer to auto-connect to on startup,
// mirroring the original client's -d/-r flags.
type RemoteConfig struct {
	// OnionID is the remote peer's onion-id. Empty disables auto-connect.
	OnionID string `koanf:"onion_id"`

	// Port is the remote peer's listening port.
	Port uint16 `koanf:"port"`
}

// TransportConfig selects and configures the byte-stream transport.
type TransportConfig struct {
	// Kind selects the transport implementation: "tcp" (loopback
	// reference transport) is the only value built in; a real deployment
	// wires a Tor/SOCKS dialer that speaks the same Dialer/Listener
	// contract in front of this configuration.
	Kind string `koanf:"kind"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
// An empty Addr disables the metrics server entirely.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. Local
// identity has no sane default and must be supplied by the caller (flag,
// file, or environment); DefaultConfig leaves it empty so Validate can
// catch an unconfigured node.
func DefaultConfig() *Config {
	return &Config{
		Local: LocalConfig{
			Capacity: 0,
		},
		Transport: TransportConfig{
			Kind: "tcp",
		},
		Metrics: MetricsConfig{
			Addr: "",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for DChat configuration.
// Variables are named DCHAT_<section>_<key>, e.g., DCHAT_LOCAL_PORT.
const envPrefix = "DCHAT_"

// Load reads configuration from a YAML file at path (if non-empty),
// overlays environment variable overrides (DCHAT_ prefix), and merges on
// top of DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	DCHAT_LOCAL_ONION_ID   -> local.onion_id
//	DCHAT_LOCAL_NICKNAME   -> local.nickname
//	DCHAT_LOCAL_PORT       -> local.port
//	DCHAT_REMOTE_ONION_ID  -> remote.onion_id
//	DCHAT_REMOTE_PORT      -> remote.port
//	DCHAT_METRICS_ADDR     -> metrics.addr
//	DCHAT_LOG_LEVEL        -> log.level
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms DCHAT_LOCAL_PORT -> local.port and
// DCHAT_LOCAL_ONION_ID -> local.onion_id. Strips the DCHAT_ prefix,
// lowercases, and replaces only the first _ (the section separator) with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"local.capacity": defaults.Local.Capacity,
		"transport.kind": defaults.Transport.Kind,
		"metrics.addr":   defaults.Metrics.Addr,
		"metrics.path":   defaults.Metrics.Path,
		"log.level":      defaults.Log.Level,
		"log.format":     defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyOnionID indicates the local onion-id is unset.
	ErrEmptyOnionID = errors.New("local.onion_id must not be empty")

	// ErrInvalidOnionID indicates the local onion-id is set but is not
	// exactly chat.OnionAddrLen printable characters, the same rule the
	// wire codec enforces on an identified contact.
	ErrInvalidOnionID = fmt.Errorf("local.onion_id must be %d printable characters", chat.OnionAddrLen)

	// ErrEmptyNickname indicates the local nickname is unset.
	ErrEmptyNickname = errors.New("local.nickname must not be empty")

	// ErrInvalidNickname indicates the local nickname is set but is not
	// between 1 and chat.MaxNickname printable characters.
	ErrInvalidNickname = fmt.Errorf("local.nickname must be between 1 and %d printable characters", chat.MaxNickname)

	// ErrInvalidPort indicates the local listening port is zero.
	ErrInvalidPort = errors.New("local.port must be > 0")

	// ErrIncompleteRemote indicates only one of remote.onion_id /
	// remote.port was supplied.
	ErrIncompleteRemote = errors.New("remote.onion_id and remote.port must both be set or both be empty")

	// ErrUnknownTransport indicates an unrecognized transport.kind.
	ErrUnknownTransport = errors.New("transport.kind is not recognized")

	// ErrInvalidCapacity indicates a negative contact-list capacity.
	ErrInvalidCapacity = errors.New("local.capacity must be >= 0")
)

// ValidTransportKinds lists the recognized transport.kind strings.
var ValidTransportKinds = map[string]bool{
	"tcp": true,
}

// Validate checks the configuration for logical errors. Returns the first
// validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Local.OnionID == "" {
		return ErrEmptyOnionID
	}
	if !chat.ValidOnionID(cfg.Local.OnionID) {
		return ErrInvalidOnionID
	}
	if cfg.Local.Nickname == "" {
		return ErrEmptyNickname
	}
	if !chat.ValidNickname(cfg.Local.Nickname) {
		return ErrInvalidNickname
	}
	if cfg.Local.Port == 0 {
		return ErrInvalidPort
	}
	if cfg.Local.Capacity < 0 {
		return ErrInvalidCapacity
	}

	if (cfg.Remote.OnionID == "") != (cfg.Remote.Port == 0) {
		return ErrIncompleteRemote
	}

	if !ValidTransportKinds[cfg.Transport.Kind] {
		return fmt.Errorf("transport.kind %q: %w", cfg.Transport.Kind, ErrUnknownTransport)
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
