// ABOUTME: Configuration loading and parsing for coven-broker.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when a field is absent from the config file.
const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 9999
	DefaultPollTimeout      = 1 * time.Second
	DefaultShutdownGrace    = 5 * time.Second
	DefaultReportInterval   = 60 * time.Second
	DefaultHeartbeatTimeout = 30 * time.Second
)

// Config represents the complete coven-broker configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agents  AgentsConfig  `yaml:"agents"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds listener and lifecycle settings.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	PIDFile string `yaml:"pid_file"`

	PollTimeout    time.Duration `yaml:"-"`
	ShutdownGrace  time.Duration `yaml:"-"`
	ReportInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollTimeoutRaw    string `yaml:"poll_timeout"`
	ShutdownGraceRaw  string `yaml:"shutdown_grace"`
	ReportIntervalRaw string `yaml:"report_interval"`
}

// AgentsConfig holds agent liveness and roster settings.
type AgentsConfig struct {
	HeartbeatTimeout time.Duration `yaml:"-"`

	HeartbeatTimeoutRaw string `yaml:"heartbeat_timeout"`

	// RosterPath optionally points at a TOML file overriding the built-in
	// default agent roster.
	RosterPath string `yaml:"roster_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated entirely with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed. A missing file yields the default config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// applyDefaults fills zero-valued fields with defaults.
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.PIDFile == "" {
		c.Server.PIDFile = filepath.Join(os.TempDir(), "coven-broker.pid")
	}
	if c.Server.PollTimeout == 0 {
		c.Server.PollTimeout = DefaultPollTimeout
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Server.ReportInterval == 0 {
		c.Server.ReportInterval = DefaultReportInterval
	}
	if c.Agents.HeartbeatTimeout == 0 {
		c.Agents.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.PollTimeout <= 0 {
		return fmt.Errorf("server.poll_timeout must be positive")
	}
	if c.Agents.HeartbeatTimeout <= c.Server.PollTimeout {
		return fmt.Errorf("agents.heartbeat_timeout must exceed server.poll_timeout")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Server.PollTimeoutRaw, "poll_timeout", &cfg.Server.PollTimeout},
		{cfg.Server.ShutdownGraceRaw, "shutdown_grace", &cfg.Server.ShutdownGrace},
		{cfg.Server.ReportIntervalRaw, "report_interval", &cfg.Server.ReportInterval},
		{cfg.Agents.HeartbeatTimeoutRaw, "heartbeat_timeout", &cfg.Agents.HeartbeatTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
