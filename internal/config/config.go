package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variables, all optional. They override values from the file.
const (
	EnvAPIURL         = "KXFER_API_URL"
	EnvTokenFile      = "KXFER_TOKEN_FILE"
	EnvRequestTimeout = "KXFER_REQUEST_TIMEOUT"
	EnvRateLimit      = "KXFER_RATE_LIMIT"
	EnvRateBurst      = "KXFER_RATE_BURST"
	EnvAddr           = "KXFER_ADDR"
	EnvDatabaseDriver = "KXFER_DB_DRIVER"
	EnvDatabaseDSN    = "KXFER_DB_DSN"
	EnvAuthSecret     = "KXFER_AUTH_SECRET"
	EnvTokenTTL       = "KXFER_TOKEN_TTL"
	EnvServerRate     = "KXFER_SERVER_RATE"
	EnvServerBurst    = "KXFER_SERVER_BURST"
)

var ErrInvalid = errors.New("config: invalid value")

// Duration reads "30s" style strings or plain seconds from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: duration %q", ErrInvalid, v)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("%w: duration %s", ErrInvalid, b)
	}
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds client and server settings.
type Config struct {
	// Client settings
	APIURL         string   `json:"api_url"`
	TokenFile      string   `json:"token_file"`      // Single durable client key; written with mode 0600
	RequestTimeout Duration `json:"request_timeout"` // Per-request deadline
	RateLimit      float64  `json:"rate_limit"`      // Outbound requests per second, 0 disables pacing
	RateBurst      int      `json:"rate_burst"`

	Server ServerConfig `json:"server"`
}

// ServerConfig holds reference backend settings.
type ServerConfig struct {
	Addr           string   `json:"addr"`
	DatabaseDriver string   `json:"database_driver,omitempty"` // "postgres", "sqlite" or empty for in-memory
	DatabaseDSN    string   `json:"database_dsn,omitempty"`
	AuthSecret     string   `json:"auth_secret,omitempty"`
	TokenTTL       Duration `json:"token_ttl"`
	RatePerSecond  float64  `json:"rate_per_second"`
	RateBurst      int      `json:"rate_burst"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIURL:         "http://localhost:8000",
		TokenFile:      defaultTokenFile(),
		RequestTimeout: Duration(30 * time.Second),
		RateLimit:      20,
		RateBurst:      10,
		Server: ServerConfig{
			Addr:          ":8000",
			TokenTTL:      Duration(24 * time.Hour),
			RatePerSecond: 10,
			RateBurst:     20,
		},
	}
}

// Load layers defaults, the optional JSON file at path and the environment.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile merges a JSON file into cfg. A relative token_file is resolved
// against the file's directory.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	tokenFile := cfg.TokenFile
	cfg.TokenFile = ""
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	switch {
	case cfg.TokenFile == "":
		cfg.TokenFile = tokenFile
	case !filepath.IsAbs(cfg.TokenFile):
		cfg.TokenFile = filepath.Join(filepath.Dir(path), cfg.TokenFile)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvAPIURL, &cfg.APIURL)
	str(EnvTokenFile, &cfg.TokenFile)
	str(EnvAddr, &cfg.Server.Addr)
	str(EnvDatabaseDriver, &cfg.Server.DatabaseDriver)
	str(EnvDatabaseDSN, &cfg.Server.DatabaseDSN)
	str(EnvAuthSecret, &cfg.Server.AuthSecret)

	var errs []error
	dur := func(key string, dst *Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
			return
		}
		*dst = Duration(d)
	}
	float := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
			return
		}
		*dst = f
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
			return
		}
		*dst = n
	}
	dur(EnvRequestTimeout, &cfg.RequestTimeout)
	float(EnvRateLimit, &cfg.RateLimit)
	integer(EnvRateBurst, &cfg.RateBurst)
	dur(EnvTokenTTL, &cfg.Server.TokenTTL)
	float(EnvServerRate, &cfg.Server.RatePerSecond)
	integer(EnvServerBurst, &cfg.Server.RateBurst)
	return errors.Join(errs...)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api_url %q must be an http(s) URL", ErrInvalid, c.APIURL)
	}
	if strings.TrimSpace(c.TokenFile) == "" {
		return fmt.Errorf("%w: token_file is required", ErrInvalid)
	}
	if c.RequestTimeout.Std() <= 0 {
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalid)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%w: rate_limit and rate_burst must not be negative", ErrInvalid)
	}
	if c.Server.TokenTTL.Std() <= 0 {
		return fmt.Errorf("%w: server.token_ttl must be positive", ErrInvalid)
	}
	switch strings.ToLower(c.Server.DatabaseDriver) {
	case "", "postgres", "postgresql", "pgx", "pg", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalid, c.Server.DatabaseDriver)
	}
	if c.Server.DatabaseDriver != "" && c.Server.DatabaseDSN == "" {
		return fmt.Errorf("%w: database_dsn is required with database_driver %q", ErrInvalid, c.Server.DatabaseDriver)
	}
	return nil
}

// UsesDatabase reports whether the server should run on SQL storage.
func (s ServerConfig) UsesDatabase() bool { return s.DatabaseDriver != "" }

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".kxfer", "token")
	}
	return filepath.Join(home, ".kxfer", "token")
}
