// Package config provides TOML configuration loading for probe-client.
package config

import (
	"bytes"
	"fmt"
	"math"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultInterval is the heartbeat interval used when server.interval is unset.
const DefaultInterval = 300

// maxInterval is the largest interval, in seconds, a time.Duration can hold.
const maxInterval = int64(math.MaxInt64 / int64(time.Second))

// retryWaitMaxFactor bounds the exponential retry backoff when
// server.retry_wait_max is unset.
const retryWaitMaxFactor = 8

// placeholderToken is the token written by the config templates.
const placeholderToken = "CHANGE_ME"

// Config is the top-level configuration structure.
type Config struct {
	Server         ServerConfig          `toml:"server"`
	Statistics     StatisticsConfig      `toml:"statistics"`
	Identification *IdentificationConfig `toml:"identification,omitempty"`
	Client         ClientConfig          `toml:"client"`
}

// ServerConfig holds the remote probe server settings.
type ServerConfig struct {
	ServerAddress string   `toml:"server_address"`
	Token         string   `toml:"token"`
	BackupServers []string `toml:"backup_servers,omitempty"`
	Interval      *int     `toml:"interval,omitempty"`

	Timeout      string `toml:"timeout,omitempty"`
	Retries      int    `toml:"retries,omitempty"`
	RetryWait    string `toml:"retry_wait,omitempty"`
	RetryWaitMax string `toml:"retry_wait_max,omitempty"`
	Compression  string `toml:"compression,omitempty"`
	SignRequests bool   `toml:"sign_requests,omitempty"`
	CAFile       string `toml:"ca_file,omitempty"`
	Insecure     bool   `toml:"insecure,omitempty"`
}

// StatisticsConfig controls whether local system statistics are attached to heartbeats.
type StatisticsConfig struct {
	Enabled bool `toml:"enabled"`
}

// IdentificationConfig carries the client's persistent identity.
type IdentificationConfig struct {
	Token string `toml:"token"`
}

// ClientConfig holds local process settings.
type ClientConfig struct {
	LogLevel         string `toml:"log_level,omitempty"`
	HistoryPath      string `toml:"history_path,omitempty"`
	HistoryRetention string `toml:"history_retention,omitempty"`
	RPCSocket        string `toml:"rpc_socket,omitempty"`
}

// Endpoints returns the primary server followed by the backup servers, in the order they are tried.
func (s *ServerConfig) Endpoints() []string {
	endpoints := make([]string, 0, 1+len(s.BackupServers))
	endpoints = append(endpoints, s.ServerAddress)
	return append(endpoints, s.BackupServers...)
}

// IntervalDuration returns the heartbeat interval as a time.Duration.
func (s *ServerConfig) IntervalDuration() time.Duration {
	if s.Interval == nil {
		return DefaultInterval * time.Second
	}
	return time.Duration(*s.Interval) * time.Second
}

// ParseTimeout parses the per-request timeout string to a time.Duration.
func (s *ServerConfig) ParseTimeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(s.Timeout)
}

// ParseRetryWait parses the minimum wait between per-endpoint retries.
func (s *ServerConfig) ParseRetryWait() (time.Duration, error) {
	if s.RetryWait == "" {
		return time.Second, nil
	}
	return time.ParseDuration(s.RetryWait)
}

// ParseRetryWaitMax parses the cap on the exponential backoff between
// per-endpoint retries. It defaults to eight times retry_wait.
func (s *ServerConfig) ParseRetryWaitMax() (time.Duration, error) {
	if s.RetryWaitMax == "" {
		wait, err := s.ParseRetryWait()
		if err != nil {
			return 0, err
		}
		return wait * retryWaitMaxFactor, nil
	}
	return time.ParseDuration(s.RetryWaitMax)
}

// ParseHistoryRetention parses how long report history is kept.
func (c *ClientConfig) ParseHistoryRetention() (time.Duration, error) {
	if c.HistoryRetention == "" {
		return 7 * 24 * time.Hour, nil
	}
	return time.ParseDuration(c.HistoryRetention)
}

// Load reads and parses a TOML config file, applying defaults for unset values
// and validating the result. All failures are returned as *ConfigError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Reason: "unreadable file", Err: err}
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Path: path, Reason: "malformed TOML", Err: err}
	}

	applyDefaults(cfg)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants that must hold before the scheduler starts.
func (cfg *Config) Validate() error {
	s := &cfg.Server
	if strings.TrimSpace(s.ServerAddress) == "" {
		return &ConfigError{Field: "server.server_address", Reason: "required"}
	}
	if err := validateURL(s.ServerAddress); err != nil {
		return &ConfigError{Field: "server.server_address", Reason: "invalid URL", Err: err}
	}
	if strings.TrimSpace(s.Token) == "" {
		return &ConfigError{Field: "server.token", Reason: "required"}
	}
	if s.Token == placeholderToken {
		return &ConfigError{Field: "server.token", Reason: "must be set (not '" + placeholderToken + "')"}
	}
	for i, backup := range s.BackupServers {
		if err := validateURL(backup); err != nil {
			return &ConfigError{Field: fmt.Sprintf("server.backup_servers[%d]", i), Reason: "invalid URL", Err: err}
		}
	}
	if s.Interval != nil && *s.Interval <= 0 {
		return &ConfigError{Field: "server.interval", Reason: fmt.Sprintf("must be a positive number of seconds, got %d", *s.Interval)}
	}
	if s.Interval != nil && int64(*s.Interval) > maxInterval {
		return &ConfigError{Field: "server.interval", Reason: fmt.Sprintf("must be at most %d seconds, got %d", maxInterval, *s.Interval)}
	}
	if d, err := s.ParseTimeout(); err != nil || d <= 0 {
		return &ConfigError{Field: "server.timeout", Reason: "must be a positive duration", Err: err}
	}
	if d, err := s.ParseRetryWait(); err != nil || d < 0 {
		return &ConfigError{Field: "server.retry_wait", Reason: "must be a duration", Err: err}
	}
	if d, err := s.ParseRetryWaitMax(); err != nil {
		return &ConfigError{Field: "server.retry_wait_max", Reason: "must be a duration", Err: err}
	} else if wait, _ := s.ParseRetryWait(); d < wait {
		return &ConfigError{Field: "server.retry_wait_max", Reason: fmt.Sprintf("must not be less than retry_wait (%s)", wait)}
	}
	if s.Retries < 0 {
		return &ConfigError{Field: "server.retries", Reason: "must not be negative"}
	}
	switch s.Compression {
	case "", "zstd":
	default:
		return &ConfigError{Field: "server.compression", Reason: fmt.Sprintf("unsupported value %q (want \"\" or \"zstd\")", s.Compression)}
	}
	if _, err := cfg.Client.ParseHistoryRetention(); err != nil {
		return &ConfigError{Field: "client.history_retention", Reason: "must be a duration", Err: err}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// Save writes the configuration back to path as TOML.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) expandPaths() {
	cfg.Server.CAFile = ExpandPath(cfg.Server.CAFile)
	cfg.Client.HistoryPath = ExpandPath(cfg.Client.HistoryPath)
	cfg.Client.RPCSocket = ExpandPath(cfg.Client.RPCSocket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Timeout == "" {
		cfg.Server.Timeout = "10s"
	}
	if cfg.Server.RetryWait == "" {
		cfg.Server.RetryWait = "1s"
	}

	if cfg.Client.LogLevel == "" {
		cfg.Client.LogLevel = "info"
	}
	if cfg.Client.HistoryRetention == "" {
		cfg.Client.HistoryRetention = "168h"
	}
}
