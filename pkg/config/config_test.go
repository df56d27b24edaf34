package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "probe_client.toml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoad_ValidConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
[server]
  server_address = "https://probe.example.com/api"
  token          = "secret-token"
  backup_servers = ["https://b1.example.com/api", "https://b2.example.com/api"]
  interval       = 60
  timeout        = "5s"
  retries        = 2
  compression    = "zstd"

[statistics]
  enabled = true

[identification]
  token = "6f1c1d2e-0000-4000-8000-000000000001"

[client]
  log_level    = "debug"
  history_path = "/tmp/history.db"
  rpc_socket   = "/tmp/probe.sock"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.ServerAddress != "https://probe.example.com/api" {
		t.Errorf("Server.ServerAddress: got %s", cfg.Server.ServerAddress)
	}
	if cfg.Server.Token != "secret-token" {
		t.Errorf("Server.Token: got %s, want secret-token", cfg.Server.Token)
	}
	if got := cfg.Server.IntervalDuration(); got != time.Minute {
		t.Errorf("Interval: got %v, want 1m", got)
	}
	if !cfg.Statistics.Enabled {
		t.Error("Statistics.Enabled: got false, want true")
	}
	if cfg.Identification == nil || cfg.Identification.Token == "" {
		t.Error("Identification: expected token to be loaded")
	}
	if cfg.Client.LogLevel != "debug" {
		t.Errorf("Client.LogLevel: got %s, want debug", cfg.Client.LogLevel)
	}
	if cfg.Server.Retries != 2 {
		t.Errorf("Server.Retries: got %d, want 2", cfg.Server.Retries)
	}

	endpoints := cfg.Server.Endpoints()
	want := []string{
		"https://probe.example.com/api",
		"https://b1.example.com/api",
		"https://b2.example.com/api",
	}
	if len(endpoints) != len(want) {
		t.Fatalf("Endpoints: got %v, want %v", endpoints, want)
	}
	for i := range want {
		if endpoints[i] != want[i] {
			t.Errorf("Endpoints[%d]: got %s, want %s", i, endpoints[i], want[i])
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfgPath := writeConfig(t, `
[server]
  server_address = "https://probe.example.com"
  token          = "t"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got := cfg.Server.IntervalDuration(); got != 300*time.Second {
		t.Errorf("default Interval: got %v, want 5m0s", got)
	}
	if cfg.Statistics.Enabled {
		t.Error("default Statistics.Enabled: got true, want false")
	}
	if len(cfg.Server.BackupServers) != 0 {
		t.Errorf("default BackupServers: got %v, want none", cfg.Server.BackupServers)
	}
	if cfg.Server.Timeout != "10s" {
		t.Errorf("default Timeout: got %s, want 10s", cfg.Server.Timeout)
	}
	if cfg.Client.LogLevel != "info" {
		t.Errorf("default LogLevel: got %s, want info", cfg.Client.LogLevel)
	}
	if cfg.Identification != nil {
		t.Error("Identification: expected nil when section is absent")
	}
	if got, err := cfg.Server.ParseRetryWaitMax(); err != nil || got != 8*time.Second {
		t.Errorf("default RetryWaitMax: got %v (%v), want 8s", got, err)
	}
}

func TestLoad_LargestInterval(t *testing.T) {
	cfgPath := writeConfig(t, fmt.Sprintf(`
[server]
  server_address = "https://probe.example.com"
  token          = "t"
  interval       = %d
`, maxInterval))

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := cfg.Server.IntervalDuration(); got <= 0 {
		t.Errorf("IntervalDuration: got %v, want positive", got)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	cfgPath := writeConfig(t, `
[server]
  server_address = "https://probe.example.com"
`)

	_, err := Load(cfgPath)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if ce.Field != "server.token" {
		t.Errorf("Field: got %s, want server.token", ce.Field)
	}
	if ce.Path != cfgPath {
		t.Errorf("Path: got %s, want %s", ce.Path, cfgPath)
	}
}

func TestLoad_PlaceholderToken(t *testing.T) {
	cfgPath := writeConfig(t, `
[server]
  server_address = "https://probe.example.com"
  token          = "CHANGE_ME"
`)

	if _, err := Load(cfgPath); err == nil {
		t.Error("expected error for placeholder token")
	}
}

func TestLoad_InvalidFields(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing address", `token = "t"`, "server.server_address"},
		{"relative address", `server_address = "probe.example.com"` + "\n" + `token = "t"`, "server.server_address"},
		{"zero interval", `server_address = "https://a"` + "\n" + `token = "t"` + "\n" + `interval = 0`, "server.interval"},
		{"overflowing interval", `server_address = "https://a"` + "\n" + `token = "t"` + "\n" + `interval = 10000000000`, "server.interval"},
		{"retry_wait_max below retry_wait", `server_address = "https://a"` + "\n" + `token = "t"` + "\n" + `retry_wait = "2s"` + "\n" + `retry_wait_max = "1s"`, "server.retry_wait_max"},
		{"bad retry_wait_max", `server_address = "https://a"` + "\n" + `token = "t"` + "\n" + `retry_wait_max = "later"`, "server.retry_wait_max"},
		{"negative interval", `server_address = "https://a"` + "\n" + `token = "t"` + "\n" + `interval = -5`, "server.interval"},
		{"bad backup", `server_address = "https://a"` + "\n" + `token = "t"` + "\n" + `backup_servers = ["ftp://b"]`, "server.backup_servers[0]"},
		{"bad compression", `server_address = "https://a"` + "\n" + `token = "t"` + "\n" + `compression = "gzip"`, "server.compression"},
		{"bad timeout", `server_address = "https://a"` + "\n" + `token = "t"` + "\n" + `timeout = "soon"`, "server.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, "[server]\n"+tt.body+"\n")
			_, err := Load(cfgPath)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field: got %s, want %s", ce.Field, tt.field)
			}
		})
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/probe_client.toml")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError for nonexistent file, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected error to wrap os.ErrNotExist, got %v", err)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	cfgPath := writeConfig(t, "invalid [[[ toml")

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("expected error for invalid TOML")
	}
	if !strings.Contains(err.Error(), "malformed TOML") {
		t.Errorf("unexpected error text: %v", err)
	}
}

func TestEnsureIdentification(t *testing.T) {
	cfgPath := writeConfig(t, `
[server]
  server_address = "https://probe.example.com"
  token          = "t"
  interval       = 30
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	created, err := EnsureIdentification(cfgPath, cfg)
	if err != nil {
		t.Fatalf("ensure identification: %v", err)
	}
	if !created {
		t.Fatal("expected a new identification to be created")
	}

	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Identification == nil || reloaded.Identification.Token != cfg.Identification.Token {
		t.Errorf("Identification not persisted: got %+v, want %s", reloaded.Identification, cfg.Identification.Token)
	}
	if got := reloaded.Server.IntervalDuration(); got != 30*time.Second {
		t.Errorf("Interval after rewrite: got %v, want 30s", got)
	}

	created, err = EnsureIdentification(cfgPath, reloaded)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if created {
		t.Error("expected existing identification to be kept")
	}
}

func TestParseHistoryRetention_Default(t *testing.T) {
	c := &ClientConfig{}
	d, err := c.ParseHistoryRetention()
	if err != nil {
		t.Fatalf("parse retention: %v", err)
	}
	if d != 168*time.Hour {
		t.Errorf("Retention: got %v, want 168h", d)
	}
}
