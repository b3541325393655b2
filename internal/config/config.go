// Package config loads the bot configuration from defaults, an optional YAML
// file and command line flags, in increasing order of precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const PasswordEnv = "CLASSBOT_PASSWORD"

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// RedisConfig configures the optional room cache. An empty Addr disables it.
type RedisConfig struct {
	Addr   string        `yaml:"addr"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

type Config struct {
	Homeserver      string        `yaml:"homeserver"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	DatabaseDSN     string        `yaml:"database_dsn"`
	DiagnosticsAddr string        `yaml:"diagnostics_addr"`
	SigningSecret   string        `yaml:"signing_secret"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	SyncTimeout     time.Duration `yaml:"sync_timeout"`
	Retry           RetryConfig   `yaml:"retry"`
	Redis           RedisConfig   `yaml:"redis"`
	LogLevel        string        `yaml:"log_level"`

	// IssueToken, when set, asks the process to print a diagnostics token
	// for this subject and exit.
	IssueToken string `yaml:"-"`
	SigningKey []byte `yaml:"-"`
}

func Default() *Config {
	return &Config{
		Homeserver:      "http://localhost:8008",
		DatabaseDSN:     "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		DiagnosticsAddr: "localhost:8000",
		SyncTimeout:     30 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
		Redis: RedisConfig{
			Prefix: "classbot:",
			TTL:    5 * time.Minute,
		},
		LogLevel: "info",
	}
}

// Load parses args, merges the YAML file named by --config if any, and
// validates the result. getenv supplies the password fallback.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	flags := Default()

	var configFile string
	fs := pflag.NewFlagSet("classbot", pflag.ContinueOnError)
	fs.StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&flags.Homeserver, "homeserver", flags.Homeserver, "Matrix homeserver URL")
	fs.StringVar(&flags.Username, "username", flags.Username, "bot account user name")
	fs.StringVar(&flags.Password, "password", flags.Password, "bot account password (default $"+PasswordEnv+")")
	fs.StringVar(&flags.DatabaseDSN, "dsn", flags.DatabaseDSN, "database connection string")
	fs.StringVar(&flags.DiagnosticsAddr, "addr", flags.DiagnosticsAddr, "diagnostics server address, empty to disable")
	fs.StringVar(&flags.SigningSecret, "signing-key", flags.SigningSecret, "base64 encoded diagnostics signing key")
	fs.StringSliceVar(&flags.AllowedOrigins, "allowed-origins", flags.AllowedOrigins, "comma-separated list of allowed origins for CORS")
	fs.DurationVar(&flags.SyncTimeout, "sync-timeout", flags.SyncTimeout, "long-poll timeout for /sync")
	fs.IntVar(&flags.Retry.MaxAttempts, "retry-attempts", flags.Retry.MaxAttempts, "store attempts per operation")
	fs.DurationVar(&flags.Retry.BaseDelay, "retry-delay", flags.Retry.BaseDelay, "base delay between store attempts")
	fs.StringVar(&flags.Redis.Addr, "redis-addr", flags.Redis.Addr, "redis address for the room cache, empty to disable")
	fs.StringVar(&flags.Redis.Prefix, "redis-prefix", flags.Redis.Prefix, "redis key prefix")
	fs.DurationVar(&flags.Redis.TTL, "redis-ttl", flags.Redis.TTL, "room cache entry lifetime")
	fs.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug, info, warn or error")
	fs.StringVar(&flags.IssueToken, "issue-token", "", "print a diagnostics token for the given subject and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configFile != "" {
		if err := cfg.loadFile(configFile); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *pflag.Flag) {
		cfg.apply(f.Name, flags)
	})
	cfg.IssueToken = flags.IssueToken

	if cfg.Password == "" && getenv != nil {
		cfg.Password = getenv(PasswordEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	return nil
}

// apply copies the flag called name from src.
func (c *Config) apply(name string, src *Config) {
	switch name {
	case "homeserver":
		c.Homeserver = src.Homeserver
	case "username":
		c.Username = src.Username
	case "password":
		c.Password = src.Password
	case "dsn":
		c.DatabaseDSN = src.DatabaseDSN
	case "addr":
		c.DiagnosticsAddr = src.DiagnosticsAddr
	case "signing-key":
		c.SigningSecret = src.SigningSecret
	case "allowed-origins":
		c.AllowedOrigins = src.AllowedOrigins
	case "sync-timeout":
		c.SyncTimeout = src.SyncTimeout
	case "retry-attempts":
		c.Retry.MaxAttempts = src.Retry.MaxAttempts
	case "retry-delay":
		c.Retry.BaseDelay = src.Retry.BaseDelay
	case "redis-addr":
		c.Redis.Addr = src.Redis.Addr
	case "redis-prefix":
		c.Redis.Prefix = src.Redis.Prefix
	case "redis-ttl":
		c.Redis.TTL = src.Redis.TTL
	case "log-level":
		c.LogLevel = src.LogLevel
	}
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// Validate checks the configuration and decodes the signing secret. Issuing
// a token only needs the secret.
func (c *Config) Validate() error {
	if c.DiagnosticsAddr != "" || c.IssueToken != "" {
		if c.SigningSecret == "" {
			return errors.New("signing secret cannot be empty")
		}

		signingKey, err := decodeSigningSecret(c.SigningSecret)
		if err != nil {
			return fmt.Errorf("decode signing secret: %w", err)
		}
		c.SigningKey = signingKey
	}

	if c.IssueToken != "" {
		return nil
	}

	if c.Homeserver == "" {
		return errors.New("homeserver cannot be empty")
	}
	if u, err := url.Parse(c.Homeserver); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid homeserver URL %q", c.Homeserver)
	}
	if c.Username == "" {
		return errors.New("username cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty, set --password or %s", PasswordEnv)
	}
	if c.DatabaseDSN == "" {
		return errors.New("database DSN cannot be empty")
	}
	if c.SyncTimeout <= 0 {
		return errors.New("sync timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	return nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}
