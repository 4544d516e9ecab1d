// Package config loads and validates link checker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/engine"
)

// AppName names config and data directories.
const AppName = "linkcheck"

// EnvPrefix prefixes environment overrides, e.g. CHECKER_CHECKER_WORKERS.
const EnvPrefix = "CHECKER"

// Sink names accepted in output.sinks.
const (
	SinkLog      = "log"
	SinkMemory   = "memory"
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Checker CheckerConfig `mapstructure:"checker"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// CheckerConfig governs the engine and the per-scheme checks.
type CheckerConfig struct {
	Workers          int                  `mapstructure:"workers"`
	MaxDepth         int                  `mapstructure:"max_depth"`
	MaxURLs          int                  `mapstructure:"max_urls"`
	Timeout          time.Duration        `mapstructure:"timeout"`
	UserAgent        string               `mapstructure:"user_agent"`
	CheckExtern      bool                 `mapstructure:"check_extern"`
	InternPatterns   []string             `mapstructure:"intern_patterns"`
	ExternPatterns   []string             `mapstructure:"extern_patterns"`
	FilterPrecedence string               `mapstructure:"filter_precedence"`
	RespectRobots    bool                 `mapstructure:"respect_robots"`
	FollowSitemaps   bool                 `mapstructure:"follow_sitemaps"`
	Anchors          bool                 `mapstructure:"anchors"`
	MaxRedirects     int                  `mapstructure:"max_redirects"`
	MaxContentBytes  int64                `mapstructure:"max_content_bytes"`
	SSLVerify        bool                 `mapstructure:"ssl_verify"`
	MaxConnsPerHost  int                  `mapstructure:"max_conns_per_host"`
	NNTPServer       string               `mapstructure:"nntp_server"`
	NNTPRetries      int                  `mapstructure:"nntp_retries"`
	NNTPBackoff      time.Duration        `mapstructure:"nntp_backoff"`
	SMTPPort         int                  `mapstructure:"smtp_port"`
	Credentials      []checker.Credential `mapstructure:"credentials"`
}

// ProxyConfig routes outbound checks through a proxy.
type ProxyConfig struct {
	URL     string   `mapstructure:"url"`
	NoProxy []string `mapstructure:"no_proxy"`
}

// OutputConfig selects result sinks.
type OutputConfig struct {
	Sinks    []string       `mapstructure:"sinks"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig configures the Postgres sink.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	CreateTable     bool          `mapstructure:"create_table"`
}

// SQLiteConfig configures the SQLite sink.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig enables the status server when Listen is set.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	APIKey string `mapstructure:"api_key"`
}

// ConfigDir is the per-user config directory.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DataDir is the per-user data directory holding the default SQLite file.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// Prepare registers search paths, environment binding, and defaults on v.
func Prepare(v *viper.Viper) {
	v.SetConfigName(AppName)
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/" + AppName + "/")
	v.AddConfigPath(ConfigDir())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Load builds a Config from disk and environment. An empty path searches the
// default locations; a missing file there is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	Prepare(v)
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper unmarshals and validates an already prepared Viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers every key so environment overrides unmarshal too.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("checker.workers", 10)
	v.SetDefault("checker.max_depth", -1)
	v.SetDefault("checker.max_urls", 0)
	v.SetDefault("checker.timeout", "30s")
	v.SetDefault("checker.user_agent", "linkcheck/1.0 (+https://github.com/JakeFAU/linkcheck)")
	v.SetDefault("checker.check_extern", true)
	v.SetDefault("checker.intern_patterns", []string{})
	v.SetDefault("checker.extern_patterns", []string{})
	v.SetDefault("checker.filter_precedence", checker.PrecedenceExtern)
	v.SetDefault("checker.respect_robots", true)
	v.SetDefault("checker.follow_sitemaps", false)
	v.SetDefault("checker.anchors", true)
	v.SetDefault("checker.max_redirects", 5)
	v.SetDefault("checker.max_content_bytes", 8<<20)
	v.SetDefault("checker.ssl_verify", true)
	v.SetDefault("checker.max_conns_per_host", 4)
	v.SetDefault("checker.nntp_server", "")
	v.SetDefault("checker.nntp_retries", 3)
	v.SetDefault("checker.nntp_backoff", "5s")
	v.SetDefault("checker.smtp_port", 25)
	v.SetDefault("checker.credentials", []map[string]string{})
	v.SetDefault("proxy.url", "")
	v.SetDefault("proxy.no_proxy", []string{})
	v.SetDefault("output.sinks", []string{SinkLog, SinkMemory})
	v.SetDefault("output.postgres.dsn", "")
	v.SetDefault("output.postgres.table", "link_results")
	v.SetDefault("output.postgres.max_conns", 4)
	v.SetDefault("output.postgres.max_conn_lifetime", "30m")
	v.SetDefault("output.postgres.create_table", true)
	v.SetDefault("output.sqlite.path", filepath.Join(DataDir(), "results.db"))
	v.SetDefault("output.sqlite.table", "link_results")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.listen", "")
	v.SetDefault("server.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Checker.Workers <= 0 {
		return fmt.Errorf("checker.workers must be > 0")
	}
	if c.Checker.MaxDepth < -1 {
		return fmt.Errorf("checker.max_depth must be >= -1")
	}
	if c.Checker.MaxURLs < 0 {
		return fmt.Errorf("checker.max_urls must be >= 0")
	}
	if c.Checker.Timeout <= 0 {
		return fmt.Errorf("checker.timeout must be > 0")
	}
	if c.Checker.MaxRedirects <= 0 {
		return fmt.Errorf("checker.max_redirects must be > 0")
	}
	if c.Checker.MaxConnsPerHost <= 0 {
		return fmt.Errorf("checker.max_conns_per_host must be > 0")
	}
	if c.Checker.NNTPRetries < 0 {
		return fmt.Errorf("checker.nntp_retries must be >= 0")
	}
	if _, err := checker.NewFilter(c.Checker.InternPatterns, c.Checker.ExternPatterns, c.Checker.FilterPrecedence); err != nil {
		return fmt.Errorf("checker filter: %w", err)
	}
	if _, err := checker.CompileCredentials(c.Checker.Credentials); err != nil {
		return fmt.Errorf("checker.credentials: %w", err)
	}
	if len(c.Output.Sinks) == 0 {
		return fmt.Errorf("output.sinks must name at least one sink")
	}
	for _, name := range c.Output.Sinks {
		switch name {
		case SinkLog, SinkMemory:
		case SinkPostgres:
			if c.Output.Postgres.DSN == "" {
				return fmt.Errorf("output.postgres.dsn must be set when the postgres sink is enabled")
			}
		case SinkSQLite:
			if c.Output.SQLite.Path == "" {
				return fmt.Errorf("output.sqlite.path must be set when the sqlite sink is enabled")
			}
		default:
			return fmt.Errorf("output.sinks: unknown sink %q", name)
		}
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// HasSink reports whether name is enabled.
func (c Config) HasSink(name string) bool {
	for _, s := range c.Output.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// EngineConfig maps the configuration onto one engine run.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		Workers:          c.Checker.Workers,
		MaxURLs:          c.Checker.MaxURLs,
		MaxConnsPerHost:  c.Checker.MaxConnsPerHost,
		InternPatterns:   c.Checker.InternPatterns,
		ExternPatterns:   c.Checker.ExternPatterns,
		FilterPrecedence: c.Checker.FilterPrecedence,
		Checker: checker.Options{
			UserAgent:       c.Checker.UserAgent,
			MaxDepth:        c.Checker.MaxDepth,
			Timeout:         c.Checker.Timeout,
			CheckExtern:     c.Checker.CheckExtern,
			RespectRobots:   c.Checker.RespectRobots,
			FollowSitemaps:  c.Checker.FollowSitemaps,
			CheckAnchors:    c.Checker.Anchors,
			MaxRedirects:    c.Checker.MaxRedirects,
			MaxContentBytes: c.Checker.MaxContentBytes,
			SSLVerify:       c.Checker.SSLVerify,
			NNTPServer:      c.Checker.NNTPServer,
			NNTPRetries:     c.Checker.NNTPRetries,
			NNTPBackoff:     c.Checker.NNTPBackoff,
			SMTPPort:        c.Checker.SMTPPort,
			Credentials:     c.Checker.Credentials,
			ProxyURL:        c.Proxy.URL,
			NoProxy:         c.Proxy.NoProxy,
		},
	}
}
