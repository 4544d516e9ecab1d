package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "linkcheck.yaml")
	configYAML := `
checker:
  workers: 6
  max_depth: 2
  max_urls: 500
  timeout: 12s
  user_agent: test-agent
  check_extern: false
  intern_patterns: ["^https://docs\\.example\\.com/"]
  extern_patterns: ["!^https://docs\\.example\\.com/api/", "strict:^https://ads\\."]
  filter_precedence: intern
  respect_robots: false
  follow_sitemaps: true
  nntp_server: news.example.com
  nntp_backoff: 250ms
  credentials:
    - pattern: "^ftp://files\\.example\\.com/"
      user: carol
      password: hunter2
proxy:
  url: socks5://127.0.0.1:1080
  no_proxy: [localhost, .internal]
output:
  sinks: [log, sqlite]
  sqlite:
    path: /tmp/linkcheck-test/results.db
logging:
  development: true
  level: debug
server:
  listen: 127.0.0.1:9090
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Checker.Workers != 6 || cfg.Checker.MaxDepth != 2 || cfg.Checker.MaxURLs != 500 {
		t.Fatalf("expected checker overrides to apply: %+v", cfg.Checker)
	}
	if cfg.Checker.Timeout != 12*time.Second || cfg.Checker.NNTPBackoff != 250*time.Millisecond {
		t.Fatalf("expected durations to decode, got %v and %v", cfg.Checker.Timeout, cfg.Checker.NNTPBackoff)
	}
	if cfg.Checker.CheckExtern || cfg.Checker.RespectRobots || !cfg.Checker.FollowSitemaps {
		t.Fatalf("expected boolean overrides to apply: %+v", cfg.Checker)
	}
	if len(cfg.Checker.Credentials) != 1 || cfg.Checker.Credentials[0].User != "carol" {
		t.Fatalf("expected credentials to load: %+v", cfg.Checker.Credentials)
	}
	if !cfg.HasSink(SinkSQLite) || cfg.HasSink(SinkPostgres) {
		t.Fatalf("unexpected sinks %v", cfg.Output.Sinks)
	}
	if cfg.Server.Listen != "127.0.0.1:9090" {
		t.Fatalf("expected listen address, got %q", cfg.Server.Listen)
	}
	// Defaults survive for keys the file leaves out.
	if cfg.Checker.MaxRedirects != 5 || cfg.Checker.SMTPPort != 25 || !cfg.Checker.SSLVerify {
		t.Fatalf("expected defaults to fill the gaps: %+v", cfg.Checker)
	}

	ec := cfg.EngineConfig()
	if ec.Workers != 6 || ec.FilterPrecedence != "intern" || len(ec.ExternPatterns) != 2 {
		t.Fatalf("unexpected engine config: %+v", ec)
	}
	if ec.Checker.ProxyURL != "socks5://127.0.0.1:1080" || len(ec.Checker.NoProxy) != 2 {
		t.Fatalf("expected proxy settings to map: %+v", ec.Checker)
	}
	if ec.Checker.NNTPServer != "news.example.com" || !ec.Checker.CheckAnchors {
		t.Fatalf("expected checker options to map: %+v", ec.Checker)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Checker.MaxDepth != -1 || !cfg.Checker.CheckExtern || cfg.Checker.Workers != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg.Checker)
	}
	if !cfg.HasSink(SinkLog) || !cfg.HasSink(SinkMemory) || cfg.HasSink(SinkSQLite) {
		t.Fatalf("expected the log and memory sinks by default, got %v", cfg.Output.Sinks)
	}
	if !strings.HasSuffix(cfg.Output.SQLite.Path, filepath.Join(AppName, "results.db")) {
		t.Fatalf("expected sqlite path under the data dir, got %q", cfg.Output.SQLite.Path)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Checker: CheckerConfig{
			Workers:         1,
			MaxDepth:        -1,
			Timeout:         time.Second,
			MaxConnsPerHost: 1,
			MaxRedirects:    5,
		},
		Output:  OutputConfig{Sinks: []string{SinkLog}},
		Logging: LoggingConfig{Level: "info"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid workers", func(c *Config) { c.Checker.Workers = 0 }, "checker.workers"},
		{"invalid depth", func(c *Config) { c.Checker.MaxDepth = -2 }, "checker.max_depth"},
		{"invalid url cap", func(c *Config) { c.Checker.MaxURLs = -1 }, "checker.max_urls"},
		{"invalid timeout", func(c *Config) { c.Checker.Timeout = 0 }, "checker.timeout"},
		{"zero redirects", func(c *Config) { c.Checker.MaxRedirects = 0 }, "checker.max_redirects"},
		{"invalid pool size", func(c *Config) { c.Checker.MaxConnsPerHost = 0 }, "checker.max_conns_per_host"},
		{"bad pattern", func(c *Config) { c.Checker.ExternPatterns = []string{"("} }, "checker filter"},
		{"bad precedence", func(c *Config) { c.Checker.FilterPrecedence = "sideways" }, "checker filter"},
		{"bad credential", func(c *Config) {
			c.Checker.Credentials = []checker.Credential{{Pattern: "["}}
		}, "checker.credentials"},
		{"no sinks", func(c *Config) { c.Output.Sinks = nil }, "output.sinks"},
		{"unknown sink", func(c *Config) { c.Output.Sinks = []string{"kafka"} }, "unknown sink"},
		{"postgres without dsn", func(c *Config) { c.Output.Sinks = []string{SinkPostgres} }, "output.postgres.dsn"},
		{"sqlite without path", func(c *Config) { c.Output.Sinks = []string{SinkSQLite} }, "output.sqlite.path"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Checker.ExternPatterns = nil
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
