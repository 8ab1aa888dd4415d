// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

// Package config loads client configuration from defaults, a profile
// preset, an optional YAML file and command-line flags, in that order.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/flowfarm/flowfarm/internal/api"
	"github.com/flowfarm/flowfarm/internal/auth"
	"github.com/flowfarm/flowfarm/internal/logging"
	"github.com/flowfarm/flowfarm/internal/session"
	"github.com/flowfarm/flowfarm/internal/tls"
	"github.com/flowfarm/flowfarm/internal/tokenstore"
	"github.com/flowfarm/flowfarm/internal/transport"
	"github.com/flowfarm/flowfarm/internal/xdg"
)

// Profiles.
const (
	ProfileDevelopment = "development"
	ProfileProduction  = "production"
)

// Defaults.
const (
	DefaultBaseURL       = "http://localhost:8000/api/v1"
	DefaultProfile       = ProfileDevelopment
	DefaultLogFormat     = "text"
	DefaultLogLevel      = "info"
	DefaultMetricsAddr   = "127.0.0.1:9110"
	DefaultCheckInterval = time.Minute
)

// Config is the resolved client configuration.
type Config struct {
	Profile string      `koanf:"profile"`
	API     APIConfig   `koanf:"api"`
	Auth    AuthConfig  `koanf:"auth"`
	Tokens  TokenConfig `koanf:"tokens"`
	Log     LogConfig   `koanf:"log"`
	Agent   AgentConfig `koanf:"agent"`
}

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL   string            `koanf:"base_url"`
	Timeout   time.Duration     `koanf:"timeout"`
	Endpoints api.Endpoints     `koanf:"endpoints"`
	TLS       tls.ClientOptions `koanf:"tls"`
}

// AuthConfig holds login policy.
type AuthConfig struct {
	Lockout    auth.LockoutPolicy  `koanf:"lockout"`
	Password   auth.PasswordPolicy `koanf:"password"`
	DefaultTTL time.Duration       `koanf:"default_ttl"`
}

// TokenConfig controls token persistence and expiry margins.
type TokenConfig struct {
	Skew             time.Duration `koanf:"skew"`
	RefreshThreshold time.Duration `koanf:"refresh_threshold"`
	SessionFile      string        `koanf:"session_file"`
	DurableFile      string        `koanf:"durable_file"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// AgentConfig configures the keep-alive agent.
type AgentConfig struct {
	MetricsAddr   string        `koanf:"metrics_addr"`
	CheckInterval time.Duration `koanf:"check_interval"`
}

// FlagKeys maps command-line flag names to configuration keys. Flags not
// listed here are ignored by Load.
var FlagKeys = map[string]string{
	"profile":      "profile",
	"base-url":     "api.base_url",
	"timeout":      "api.timeout",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"metrics-addr": "agent.metrics_addr",
	"interval":     "agent.check_interval",
}

// Defaults returns the flattened defaults for profile.
func Defaults(profile string) map[string]any {
	ep := api.DefaultEndpoints()
	d := map[string]any{
		"profile":                         profile,
		"api.base_url":                    DefaultBaseURL,
		"api.timeout":                     transport.DefaultTimeout,
		"api.endpoints.login":             ep.Login,
		"api.endpoints.logout":            ep.Logout,
		"api.endpoints.me":                ep.Me,
		"api.endpoints.refresh":           ep.Refresh,
		"api.endpoints.change_password":   ep.ChangePassword,
		"api.tls.ca_file":                 "",
		"api.tls.server_name":             "",
		"auth.lockout.max_attempts":       auth.DefaultMaxLoginAttempts,
		"auth.lockout.duration":           auth.DefaultLockoutDuration,
		"auth.password.min_length":        auth.DefaultPasswordPolicy().MinLength,
		"auth.password.require_uppercase": false,
		"auth.password.require_lowercase": false,
		"auth.password.require_numbers":   false,
		"auth.password.require_special":   false,
		"auth.default_ttl":                session.DefaultTTL,
		"tokens.skew":                     tokenstore.DefaultSkew,
		"tokens.refresh_threshold":        tokenstore.DefaultRefreshThreshold,
		"tokens.session_file":             tokenstore.DefaultSessionPath(),
		"tokens.durable_file":             tokenstore.DefaultDurablePath(),
		"log.format":                      DefaultLogFormat,
		"log.level":                       DefaultLogLevel,
		"agent.metrics_addr":              DefaultMetricsAddr,
		"agent.check_interval":            DefaultCheckInterval,
	}

	if profile == ProfileProduction {
		strict := auth.StrictPasswordPolicy()
		d["auth.lockout.max_attempts"] = 3
		d["auth.lockout.duration"] = 30 * time.Minute
		d["auth.password.min_length"] = strict.MinLength
		d["auth.password.require_uppercase"] = strict.RequireUppercase
		d["auth.password.require_lowercase"] = strict.RequireLowercase
		d["auth.password.require_numbers"] = strict.RequireNumbers
		d["auth.password.require_special"] = strict.RequireSpecial
		d["log.format"] = "json"
	}
	return d
}

// LoadOptions selects the sources for Load.
type LoadOptions struct {
	// Path is the YAML file. Empty means the XDG default, which may be absent.
	Path string

	// Flags are applied last. Only flags the user changed override.
	Flags *pflag.FlagSet
}

// Load resolves the configuration. The profile is read from the file and
// flags first, then the full configuration is rebuilt on top of that
// profile's defaults.
func Load(opts LoadOptions) (*Config, error) {
	path, explicit := opts.Path, opts.Path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}

	probe, err := build(DefaultProfile, path, explicit, opts.Flags)
	if err != nil {
		return nil, err
	}
	profile := strings.ToLower(strings.TrimSpace(probe.String("profile")))

	k, err := build(profile, path, explicit, opts.Flags)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").With("path", path).Wrap(err)
	}
	cfg.Profile = profile
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func build(profile, path string, explicit bool, flags *pflag.FlagSet) (*koanf.Koanf, error) {
	k := koanf.New(".")
	for key, val := range Defaults(profile) {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}
	return k, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(key string, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	switch c.Profile {
	case ProfileDevelopment, ProfileProduction:
	default:
		return invalid("profile", "profile must be %q or %q, got %q", ProfileDevelopment, ProfileProduction, c.Profile)
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return invalid("api.base_url", "base URL must start with http:// or https://, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return invalid("api.timeout", "timeout must be positive, got %s", c.API.Timeout)
	}
	if c.Auth.Lockout.MaxAttempts < 1 {
		return invalid("auth.lockout.max_attempts", "max attempts must be at least 1, got %d", c.Auth.Lockout.MaxAttempts)
	}
	if c.Auth.Lockout.Duration <= 0 {
		return invalid("auth.lockout.duration", "lockout duration must be positive, got %s", c.Auth.Lockout.Duration)
	}
	if c.Auth.Password.MinLength < 1 || c.Auth.Password.MinLength > auth.PasswordMaxLength {
		return invalid("auth.password.min_length", "minimum password length must be between 1 and %d, got %d",
			auth.PasswordMaxLength, c.Auth.Password.MinLength)
	}
	if c.Auth.DefaultTTL <= 0 {
		return invalid("auth.default_ttl", "default TTL must be positive, got %s", c.Auth.DefaultTTL)
	}
	if c.Tokens.Skew < 0 {
		return invalid("tokens.skew", "skew must not be negative, got %s", c.Tokens.Skew)
	}
	if c.Tokens.RefreshThreshold <= c.Tokens.Skew {
		return invalid("tokens.refresh_threshold", "refresh threshold (%s) must exceed skew (%s)",
			c.Tokens.RefreshThreshold, c.Tokens.Skew)
	}
	if c.Tokens.SessionFile == "" || c.Tokens.DurableFile == "" {
		return invalid("tokens", "token file paths must not be empty")
	}
	if c.Tokens.SessionFile == c.Tokens.DurableFile {
		return invalid("tokens", "session and durable token files must differ")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "invalid log level %q", c.Log.Level)
	}
	if c.Agent.CheckInterval <= 0 {
		return invalid("agent.check_interval", "check interval must be positive, got %s", c.Agent.CheckInterval)
	}
	return nil
}
