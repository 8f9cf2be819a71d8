// Package config loads server settings from a YAML file, the environment
// and command-line flags, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Host           string   `yaml:"host"`
	Port           string   `yaml:"port"`
	DataDir        string   `yaml:"dataDir"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	Store          Store    `yaml:"store"`
	Log            Log      `yaml:"log"`
	Import         Import   `yaml:"import"`
}

type Store struct {
	// Backend is one of json, sqlite, postgres or memory.
	Backend      string        `yaml:"backend"`
	DSN          string        `yaml:"dsn"`
	SQLiteDriver string        `yaml:"sqliteDriver"`
	Timeout      time.Duration `yaml:"timeout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Import struct {
	Workers        int   `yaml:"workers"`
	MaxUploadBytes int64 `yaml:"maxUploadBytes"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           "8080",
		DataDir:        "./data",
		AllowedOrigins: []string{"*"},
		Store: Store{
			Backend:      "json",
			SQLiteDriver: "cgo",
			Timeout:      5 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Import: Import{
			Workers:        4,
			MaxUploadBytes: 32 << 20,
		},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(`failed to read config file "%s": %w`, path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf(`failed to unmarshal config file "%s": %w`, path, err)
	}
	return cfg, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv() error {
	c.Host = env("HOST", c.Host)
	c.Port = env("PORT", c.Port)
	c.DataDir = env("DATA_DIR", c.DataDir)
	c.Store.Backend = env("STORE_BACKEND", c.Store.Backend)
	c.Store.DSN = env("DATABASE_URL", c.Store.DSN)
	c.Store.SQLiteDriver = env("SQLITE_DRIVER", c.Store.SQLiteDriver)
	c.Log.Level = env("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env("LOG_FORMAT", c.Log.Format)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	if timeout := os.Getenv("STORE_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("STORE_TIMEOUT: %w", err)
		}
		c.Store.Timeout = d
	}
	return nil
}

// AddFlags registers the command-line overrides on fs.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("host", d.Host, "address to listen on")
	fs.String("port", d.Port, "port to listen on")
	fs.String("data-dir", d.DataDir, "directory for the json and sqlite backends")
	fs.String("store", d.Store.Backend, "store backend: json, sqlite, postgres or memory")
	fs.String("database-url", "", "postgres connection string")
	fs.String("sqlite-driver", d.Store.SQLiteDriver, "sqlite driver: cgo or pure")
	fs.Duration("store-timeout", d.Store.Timeout, "timeout for each store call")
	fs.StringSlice("allowed-origins", d.AllowedOrigins, "CORS origins")
	fs.String("log-level", d.Log.Level, "log level")
	fs.String("log-format", d.Log.Format, "log format: text or json")
	fs.Int("import-workers", d.Import.Workers, "rows validated concurrently during import")
}

// ApplyFlags overrides settings with the flags set explicitly on fs.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var errs []error
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	str("host", &c.Host)
	str("port", &c.Port)
	str("data-dir", &c.DataDir)
	str("store", &c.Store.Backend)
	str("database-url", &c.Store.DSN)
	str("sqlite-driver", &c.Store.SQLiteDriver)
	str("log-level", &c.Log.Level)
	str("log-format", &c.Log.Format)
	if fs.Changed("store-timeout") {
		v, err := fs.GetDuration("store-timeout")
		errs = append(errs, err)
		c.Store.Timeout = v
	}
	if fs.Changed("allowed-origins") {
		v, err := fs.GetStringSlice("allowed-origins")
		errs = append(errs, err)
		c.AllowedOrigins = v
	}
	if fs.Changed("import-workers") {
		v, err := fs.GetInt("import-workers")
		errs = append(errs, err)
		c.Import.Workers = v
	}
	return errors.Join(errs...)
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "json", "sqlite", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("the postgres backend requires a DSN (DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive, got %s", c.Store.Timeout)
	}
	if c.Import.Workers < 1 {
		return fmt.Errorf("import workers must be at least 1, got %d", c.Import.Workers)
	}
	if c.Import.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", c.Import.MaxUploadBytes)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
