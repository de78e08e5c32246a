// Package config loads the ironkey client configuration.
//
// Values are layered as defaults, then an optional TOML file, then
// IRONKEY_-prefixed environment variables. A single underscore in a
// variable name separates sections and a double underscore stands for a
// literal underscore, so IRONKEY_SERVER_URL sets server.url and
// IRONKEY_STORAGE_LOCK__FILE would set storage.lock_file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jmcleod/ironkey/crypto"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "IRONKEY_"

const (
	DriverBolt   = "bbolt"
	DriverSQLite = "sqlite"
)

// Config is the complete client configuration.
type Config struct {
	Server  Server  `koanf:"server"`
	Storage Storage `koanf:"storage"`
	KDF     KDF     `koanf:"kdf"`
	Log     Log     `koanf:"log"`
}

// Server describes the remote vault API.
type Server struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// Storage selects the durable store for the local security state.
type Storage struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// KDF holds the work factor used when registering or changing the master
// password. Existing accounts keep the parameters the server returns.
type KDF struct {
	Iterations int `koanf:"iterations"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			URL:     "http://localhost:8080/api/v1",
			Timeout: 30 * time.Second,
		},
		Storage: Storage{
			Driver: DriverBolt,
			Path:   "ironkey.db",
		},
		KDF: KDF{
			Iterations: crypto.DefaultIterations,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path (if non-empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Server.URL)
	switch {
	case c.Server.URL == "":
		errs = append(errs, errors.New("server.url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("server.url: unsupported scheme %q", u.Scheme))
	case u.Host == "":
		errs = append(errs, errors.New("server.url: missing host"))
	}
	if c.Server.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout))
	}

	switch c.Storage.Driver {
	case DriverBolt, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q", DriverBolt, DriverSQLite, c.Storage.Driver))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}

	if c.KDF.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("kdf.iterations must be positive, got %d", c.KDF.Iterations))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the slog logger described by c, writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
