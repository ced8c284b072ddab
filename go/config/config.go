// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads engine configuration from flags, environment
// variables and a YAML file, and watches that file for changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables the loader reads, e.g.
// DBCORE_URL or DBCORE_POOL_SIZE.
const EnvPrefix = "DBCORE"

// Config is the decoded configuration.
type Config struct {
	// URL selects the backend, e.g. postgres://user@host/db.
	URL string `mapstructure:"url"`
	// Dialect overrides the dialect inferred from the URL scheme.
	Dialect        string `mapstructure:"dialect"`
	Echo           bool   `mapstructure:"echo"`
	IsolationLevel string `mapstructure:"isolation_level"`
	// Autocommit forces autocommit on or off; unset means pattern detection.
	Autocommit    *bool `mapstructure:"autocommit"`
	StreamResults bool  `mapstructure:"stream_results"`
	// SchemaTranslateFile is a YAML file holding a schema translate map.
	SchemaTranslateFile string     `mapstructure:"schema_translate_file"`
	LogLevel            string     `mapstructure:"log_level"`
	Pool                PoolConfig `mapstructure:"pool"`
}

// PoolConfig configures the connection pool.
type PoolConfig struct {
	Name           string        `mapstructure:"name"`
	Size           int           `mapstructure:"size"`
	MaxOverflow    int           `mapstructure:"max_overflow"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Recycle        time.Duration `mapstructure:"recycle"`
	PrePing        bool          `mapstructure:"pre_ping"`
	ResetOnReturn  string        `mapstructure:"reset_on_return"`
	LIFO           bool          `mapstructure:"lifo"`
	TrackCheckouts bool          `mapstructure:"track_checkouts"`
}

// Loader reads Config through viper. It is not safe for concurrent use
// except for the watcher it starts.
type Loader struct {
	v        *viper.Viper
	fs       afero.Fs
	logger   *slog.Logger
	notFound ConfigFileNotFoundHandling
}

// NewLoader creates a loader reading files from fs. A nil fs means the
// operating system's filesystem.
func NewLoader(fs afero.Fs, logger *slog.Logger) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v, fs: fs, logger: logger, notFound: WarnOnConfigFileNotFound}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url", "")
	v.SetDefault("dialect", "")
	v.SetDefault("echo", false)
	v.SetDefault("isolation_level", "")
	_ = v.BindEnv("autocommit")
	v.SetDefault("stream_results", false)
	v.SetDefault("schema_translate_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("pool.name", "default")
	v.SetDefault("pool.size", 5)
	v.SetDefault("pool.max_overflow", 10)
	v.SetDefault("pool.timeout", 30*time.Second)
	v.SetDefault("pool.recycle", time.Duration(0))
	v.SetDefault("pool.pre_ping", false)
	v.SetDefault("pool.reset_on_return", "rollback")
	v.SetDefault("pool.lifo", false)
	v.SetDefault("pool.track_checkouts", false)
}

// Viper returns the underlying viper instance.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Fs returns the filesystem the loader reads from.
func (l *Loader) Fs() afero.Fs {
	return l.fs
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"url":                   "url",
	"dialect":               "dialect",
	"echo":                  "echo",
	"isolation-level":       "isolation_level",
	"stream-results":        "stream_results",
	"schema-translate-file": "schema_translate_file",
	"log-level":             "log_level",
	"pool-size":             "pool.size",
	"pool-max-overflow":     "pool.max_overflow",
	"pool-timeout":          "pool.timeout",
	"pool-recycle":          "pool.recycle",
	"pool-pre-ping":         "pool.pre_ping",
	"pool-reset-on-return":  "pool.reset_on_return",
	"pool-lifo":             "pool.lifo",
}

// RegisterFlags installs the configuration flags on fs and binds them.
func (l *Loader) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config-file", "", "Full path of the YAML config file to use.")
	fs.Var(&l.notFound, "config-file-not-found-handling",
		fmt.Sprintf("Behavior when the config file is not found. (Options: %s)", strings.Join(handlingNames, ", ")))

	fs.String("url", "", "Database URL, e.g. postgres://user@localhost/db or sqlite:///path/to.db.")
	fs.String("dialect", "", "Dialect name overriding the one inferred from --url.")
	fs.Bool("echo", false, "Log every statement.")
	fs.String("isolation-level", "", "Isolation level applied to every new connection.")
	fs.Bool("stream-results", false, "Fetch rows in growing chunks instead of all at once.")
	fs.String("schema-translate-file", "", "YAML file holding a schema translate map.")
	fs.String("log-level", "info", "Log level (debug, info, warn, error).")
	fs.Int("pool-size", 5, "Number of connections kept open in the pool.")
	fs.Int("pool-max-overflow", 10, "Connections allowed beyond --pool-size; negative means unlimited.")
	fs.Duration("pool-timeout", 30*time.Second, "How long to wait for a connection before giving up.")
	fs.Duration("pool-recycle", 0, "Reconnect connections older than this; 0 disables recycling.")
	fs.Bool("pool-pre-ping", false, "Test connections for liveness on checkout.")
	fs.String("pool-reset-on-return", "rollback", "How connections are reset on return (rollback, commit, none).")
	fs.Bool("pool-lifo", false, "Hand out the most recently returned connection first.")

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			_ = l.v.BindPFlag(key, f)
		}
	}
	_ = l.v.BindPFlag("config_file", fs.Lookup("config-file"))
}

// Load reads the config file, if one is configured, and decodes the
// merged configuration.
func (l *Loader) Load() (*Config, error) {
	if file := l.v.GetString("config_file"); file != "" {
		l.v.SetConfigFile(file)
		if err := l.v.ReadInConfig(); err != nil {
			if !isConfigFileNotFoundError(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
			}
			switch l.notFound {
			case IgnoreConfigFileNotFound:
			case WarnOnConfigFileNotFound:
				l.logger.Warn("config file not found, using flags and environment only", "file", file)
			default:
				return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
			}
		}
	}
	return l.decode()
}

// ConfigFileUsed returns the config file read by Load, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be checked by decoding alone.
func (c *Config) Validate() error {
	var errs []error
	if c.Pool.Size < 0 {
		errs = append(errs, fmt.Errorf("pool.size must not be negative, got %d", c.Pool.Size))
	}
	if c.Pool.Timeout < 0 {
		errs = append(errs, fmt.Errorf("pool.timeout must not be negative, got %s", c.Pool.Timeout))
	}
	if _, err := parseResetMode(c.Pool.ResetOnReturn); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return lvl, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// isConfigFileNotFoundError checks if the error is caused because the file wasn't found.
func isConfigFileNotFoundError(err error) bool {
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}

// ConfigFileNotFoundHandling controls how Load treats a missing config
// file.
type ConfigFileNotFoundHandling int

const (
	// IgnoreConfigFileNotFound silently proceeds without the file.
	IgnoreConfigFileNotFound ConfigFileNotFoundHandling = iota
	// WarnOnConfigFileNotFound logs a warning and proceeds with flags,
	// environment variables and defaults.
	WarnOnConfigFileNotFound
	// ErrorOnConfigFileNotFound makes Load fail.
	ErrorOnConfigFileNotFound
)

var (
	handlingNames         = []string{"error", "ignore", "warn"}
	handlingNamesToValues = map[string]ConfigFileNotFoundHandling{
		"ignore": IgnoreConfigFileNotFound,
		"warn":   WarnOnConfigFileNotFound,
		"error":  ErrorOnConfigFileNotFound,
	}
)

// Set implements pflag.Value.
func (h *ConfigFileNotFoundHandling) Set(arg string) error {
	if v, ok := handlingNamesToValues[strings.ToLower(arg)]; ok {
		*h = v
		return nil
	}
	return fmt.Errorf("unknown handling name %s", arg)
}

func (h *ConfigFileNotFoundHandling) String() string {
	for name, v := range handlingNamesToValues {
		if v == *h {
			return name
		}
	}
	return "<UNKNOWN>"
}

// Type implements pflag.Value.
func (h *ConfigFileNotFoundHandling) Type() string { return "ConfigFileNotFoundHandling" }
