// Package config resolves the feed client's configuration.
//
// Values are layered, later layers winning:
//
//  1. built-in defaults
//  2. a TOML config file (WithFile)
//  3. a credentials file (WithCredentials or credentials.Load)
//  4. environment variables (SMHI_URL, SMHI_USERNAME, SMHI_PASSWORD,
//     SMHI_HEARTBEAT_TIMEOUT, SMHI_HEARTBEAT_INTERVAL; durations in ms)
//  5. explicit options
//
// The result is a value; nothing in it changes after Load returns.
package config

import (
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/thunderclient/credentials"
	"github.com/vinayprograms/thunderclient/errors"
)

// Defaults.
const (
	DefaultURL               = "ws://data-push.smhi.se/api/category/lightning-strike/version/1/country-code/SE/data.json"
	DefaultHeartbeatTimeout  = 35000 * time.Millisecond
	DefaultHeartbeatInterval = 1000 * time.Millisecond
)

// Environment variable names.
const (
	EnvURL               = "SMHI_URL"
	EnvUsername          = "SMHI_USERNAME"
	EnvPassword          = "SMHI_PASSWORD"
	EnvHeartbeatTimeout  = "SMHI_HEARTBEAT_TIMEOUT"
	EnvHeartbeatInterval = "SMHI_HEARTBEAT_INTERVAL"
)

// Config is the resolved client configuration.
type Config struct {
	URL               string
	Username          string
	Password          string
	HeartbeatTimeout  time.Duration
	HeartbeatInterval time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		URL:               DefaultURL,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
}

// Credentials returns the username/password pair.
func (c Config) Credentials() *credentials.Credentials {
	return &credentials.Credentials{Username: c.Username, Password: c.Password}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parsing feed url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Newf(errors.ErrCodeInvalidInput, "feed url scheme %q must be ws or wss", u.Scheme)
	}
	if c.HeartbeatTimeout <= 0 {
		return errors.InvalidInput("heartbeat timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.InvalidInput("heartbeat interval must be positive")
	}
	return nil
}

// File is the TOML config file layout.
type File struct {
	Feed      FeedSection      `toml:"feed"`
	Log       LogSection       `toml:"log"`
	Relay     RelaySection     `toml:"relay"`
	Telemetry TelemetrySection `toml:"telemetry"`
}

// FeedSection configures the feed connection.
type FeedSection struct {
	URL                 string `toml:"url"`
	HeartbeatTimeoutMS  int64  `toml:"heartbeat_timeout_ms"`
	HeartbeatIntervalMS int64  `toml:"heartbeat_interval_ms"`
}

// LogSection configures console logging.
type LogSection struct {
	Level string `toml:"level"`
}

// RelaySection configures republishing to NATS. Empty URL disables it.
type RelaySection struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// TelemetrySection configures OpenTelemetry export. Empty Endpoint disables it.
type TelemetrySection struct {
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"`
	Insecure bool   `toml:"insecure"`
}

// LoadFile decodes a TOML config file.
func LoadFile(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "decoding config file",
			errors.WithMetadata("path", path))
	}
	return &f, nil
}

type settings struct {
	file     string
	creds    *credentials.Credentials
	getenv   func(string) string
	explicit []func(*Config)
}

// Option customizes Load.
type Option func(*settings)

// WithFile layers a TOML config file over the defaults.
func WithFile(path string) Option {
	return func(s *settings) { s.file = path }
}

// WithCredentials layers a credentials pair (typically from a credentials
// file) under the environment.
func WithCredentials(c *credentials.Credentials) Option {
	return func(s *settings) { s.creds = c }
}

// WithEnv replaces os.Getenv, mainly for tests.
func WithEnv(getenv func(string) string) Option {
	return func(s *settings) { s.getenv = getenv }
}

// WithURL sets the feed URL explicitly.
func WithURL(u string) Option {
	return func(s *settings) {
		s.explicit = append(s.explicit, func(c *Config) { c.URL = u })
	}
}

// WithUsername sets the username explicitly.
func WithUsername(user string) Option {
	return func(s *settings) {
		s.explicit = append(s.explicit, func(c *Config) { c.Username = user })
	}
}

// WithPassword sets the password explicitly.
func WithPassword(pass string) Option {
	return func(s *settings) {
		s.explicit = append(s.explicit, func(c *Config) { c.Password = pass })
	}
}

// WithHeartbeatTimeout sets the liveness timeout explicitly.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.explicit = append(s.explicit, func(c *Config) { c.HeartbeatTimeout = d })
	}
}

// WithHeartbeatInterval sets the liveness poll interval explicitly.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *settings) {
		s.explicit = append(s.explicit, func(c *Config) { c.HeartbeatInterval = d })
	}
}

// Load resolves a Config from all layers and validates it.
func Load(opts ...Option) (Config, error) {
	s := settings{getenv: os.Getenv}
	for _, opt := range opts {
		opt(&s)
	}

	cfg := Default()

	if s.file != "" {
		f, err := LoadFile(s.file)
		if err != nil {
			return Config{}, err
		}
		applyFile(&cfg, f)
	}

	if s.creds != nil {
		cfg.Username = s.creds.Username
		cfg.Password = s.creds.Password
	}

	if err := applyEnv(&cfg, s.getenv); err != nil {
		return Config{}, err
	}

	for _, set := range s.explicit {
		set(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f *File) {
	if f.Feed.URL != "" {
		cfg.URL = f.Feed.URL
	}
	if f.Feed.HeartbeatTimeoutMS > 0 {
		cfg.HeartbeatTimeout = time.Duration(f.Feed.HeartbeatTimeoutMS) * time.Millisecond
	}
	if f.Feed.HeartbeatIntervalMS > 0 {
		cfg.HeartbeatInterval = time.Duration(f.Feed.HeartbeatIntervalMS) * time.Millisecond
	}
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvURL); v != "" {
		cfg.URL = v
	}
	if v := getenv(EnvUsername); v != "" {
		cfg.Username = v
	}
	if v := getenv(EnvPassword); v != "" {
		cfg.Password = v
	}

	var err error
	if cfg.HeartbeatTimeout, err = envMillis(getenv, EnvHeartbeatTimeout, cfg.HeartbeatTimeout); err != nil {
		return err
	}
	if cfg.HeartbeatInterval, err = envMillis(getenv, EnvHeartbeatInterval, cfg.HeartbeatInterval); err != nil {
		return err
	}
	return nil
}

func envMillis(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidInput, "%s=%q is not a positive number of milliseconds", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
