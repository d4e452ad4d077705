// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local homeservers and test backends.
	Development Environment = "development"
	// Production is for the hosted service.
	Production Environment = "production"
)

// Config is the master configuration for the Conact client.
type Config struct {
	Environment Environment `yaml:"environment"`

	Homeserver HomeserverConfig `yaml:"homeserver"`
	Backend    BackendConfig    `yaml:"backend"`
	Voice      VoiceConfig      `yaml:"voice"`
	History    HistoryConfig    `yaml:"history"`
	Storage    StorageConfig    `yaml:"storage"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Homeserver *HomeserverConfig `yaml:"homeserver,omitempty"`
	Backend    *BackendConfig    `yaml:"backend,omitempty"`
	Voice      *VoiceConfig      `yaml:"voice,omitempty"`
	Storage    *StorageConfig    `yaml:"storage,omitempty"`
}

// HomeserverConfig configures the Matrix connection.
type HomeserverConfig struct {
	// URL is the homeserver base URL (e.g., "https://matrix.conact.chat").
	URL string `yaml:"url"`

	// UserID is the account's full Matrix user ID.
	UserID string `yaml:"user_id"`

	// AccessTokenFile holds the Matrix access token. Tokens are never
	// written into the config file itself.
	AccessTokenFile string `yaml:"access_token_file"`

	// SyncTimeout is the /sync long-poll timeout. Default: 30s.
	SyncTimeout string `yaml:"sync_timeout"`

	// AutoJoinInvites accepts room invites seen in /sync. DM and
	// channel rooms are created by the backend and invite the user.
	// Default: true.
	AutoJoinInvites *bool `yaml:"auto_join_invites,omitempty"`
}

// BackendConfig configures the Conact REST backend.
type BackendConfig struct {
	// URL is the API base URL (e.g., "https://api.conact.chat").
	URL string `yaml:"url"`

	// TokenFile holds the backend session token.
	TokenFile string `yaml:"token_file"`

	// RequestTimeout bounds each REST call. Default: 15s.
	RequestTimeout string `yaml:"request_timeout"`
}

// VoiceConfig configures voice sessions.
type VoiceConfig struct {
	// NoiseSuppression is the initial noise suppression preference for
	// a fresh preference store. Default: true.
	NoiseSuppression *bool `yaml:"noise_suppression,omitempty"`

	// ScreenShareBitrate is the max bitrate in bits per second for the
	// source-picker screen share path. Default: 10000000.
	ScreenShareBitrate uint64 `yaml:"screen_share_bitrate"`
}

// HistoryConfig bounds initial history loading for a conversation.
type HistoryConfig struct {
	// PageTarget is the number of message-like events to load.
	// Default: 50.
	PageTarget int `yaml:"page_target"`

	// MaxAttempts is the number of backward pagination requests made
	// after the first page. Default: 5.
	MaxAttempts int `yaml:"max_attempts"`

	// MinPageSize is the smallest page requested. Default: 30.
	MinPageSize int `yaml:"min_page_size"`
}

// StorageConfig configures local persistent state.
type StorageConfig struct {
	// Root is the data directory.
	Root string `yaml:"root"`

	// PreferencesDB is the SQLite file holding volume, mute and device
	// preferences. Default: ${CONACT_DATA}/preferences.db.
	PreferencesDB string `yaml:"preferences_db"`
}

// Default returns the configuration applied before the file is loaded.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataRoot := filepath.Join(homeDir, ".local", "share", "conact")
	enabled := true
	autoJoin := true

	return &Config{
		Environment: Development,
		Homeserver: HomeserverConfig{
			SyncTimeout:     "30s",
			AutoJoinInvites: &autoJoin,
		},
		Backend: BackendConfig{
			RequestTimeout: "15s",
		},
		Voice: VoiceConfig{
			NoiseSuppression:   &enabled,
			ScreenShareBitrate: 10_000_000,
		},
		History: HistoryConfig{
			PageTarget:  50,
			MaxAttempts: 5,
			MinPageSize: 30,
		},
		Storage: StorageConfig{
			Root:          dataRoot,
			PreferencesDB: "${CONACT_DATA}/preferences.db",
		},
	}
}

// Load loads configuration from the file named by CONACT_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("CONACT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CONACT_CONFIG environment variable not set; " +
			"set it to the path of your conact.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies the
// environment section, expands path variables, and validates.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if o := overrides.Homeserver; o != nil {
		if o.URL != "" {
			c.Homeserver.URL = o.URL
		}
		if o.UserID != "" {
			c.Homeserver.UserID = o.UserID
		}
		if o.AccessTokenFile != "" {
			c.Homeserver.AccessTokenFile = o.AccessTokenFile
		}
		if o.SyncTimeout != "" {
			c.Homeserver.SyncTimeout = o.SyncTimeout
		}
		if o.AutoJoinInvites != nil {
			c.Homeserver.AutoJoinInvites = o.AutoJoinInvites
		}
	}

	if o := overrides.Backend; o != nil {
		if o.URL != "" {
			c.Backend.URL = o.URL
		}
		if o.TokenFile != "" {
			c.Backend.TokenFile = o.TokenFile
		}
		if o.RequestTimeout != "" {
			c.Backend.RequestTimeout = o.RequestTimeout
		}
	}

	if o := overrides.Voice; o != nil {
		if o.NoiseSuppression != nil {
			c.Voice.NoiseSuppression = o.NoiseSuppression
		}
		if o.ScreenShareBitrate != 0 {
			c.Voice.ScreenShareBitrate = o.ScreenShareBitrate
		}
	}

	if o := overrides.Storage; o != nil {
		if o.Root != "" {
			c.Storage.Root = o.Root
		}
		if o.PreferencesDB != "" {
			c.Storage.PreferencesDB = o.PreferencesDB
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Storage.Root = expandVars(c.Storage.Root, vars)
	vars["CONACT_DATA"] = c.Storage.Root

	c.Storage.PreferencesDB = expandVars(c.Storage.PreferencesDB, vars)
	c.Homeserver.AccessTokenFile = expandVars(c.Homeserver.AccessTokenFile, vars)
	c.Backend.TokenFile = expandVars(c.Backend.TokenFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, consulting
// vars before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	errs = append(errs, c.validateURL("homeserver.url", c.Homeserver.URL)...)
	if c.Homeserver.UserID != "" && !strings.HasPrefix(c.Homeserver.UserID, "@") {
		errs = append(errs, fmt.Errorf("homeserver.user_id %q must start with '@'", c.Homeserver.UserID))
	}
	if _, err := time.ParseDuration(c.Homeserver.SyncTimeout); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.sync_timeout: %w", err))
	}

	if c.Backend.URL != "" {
		errs = append(errs, c.validateURL("backend.url", c.Backend.URL)...)
	}
	if _, err := time.ParseDuration(c.Backend.RequestTimeout); err != nil {
		errs = append(errs, fmt.Errorf("backend.request_timeout: %w", err))
	}

	if c.History.PageTarget <= 0 {
		errs = append(errs, fmt.Errorf("history.page_target must be positive, got %d", c.History.PageTarget))
	}
	if c.History.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("history.max_attempts must not be negative, got %d", c.History.MaxAttempts))
	}
	if c.History.MinPageSize <= 0 {
		errs = append(errs, fmt.Errorf("history.min_page_size must be positive, got %d", c.History.MinPageSize))
	}

	if c.Storage.PreferencesDB == "" {
		errs = append(errs, fmt.Errorf("storage.preferences_db is required"))
	}

	return errors.Join(errs...)
}

func (c *Config) validateURL(field, raw string) []error {
	if raw == "" {
		return []error{fmt.Errorf("%s is required", field)}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return []error{fmt.Errorf("%s %q must be an http or https URL", field, raw)}
	}
	if c.Environment == Production && parsed.Scheme != "https" {
		return []error{fmt.Errorf("%s %q must use https in production", field, raw)}
	}
	return nil
}

// SyncTimeoutDuration returns the parsed /sync long-poll timeout.
// Validate guarantees it parses.
func (c *Config) SyncTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Homeserver.SyncTimeout)
	return d
}

// RequestTimeoutDuration returns the parsed backend request timeout.
func (c *Config) RequestTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Backend.RequestTimeout)
	return d
}

// AutoJoinInvites reports whether invites seen in /sync are accepted.
func (c *Config) AutoJoinInvites() bool {
	return c.Homeserver.AutoJoinInvites == nil || *c.Homeserver.AutoJoinInvites
}

// NoiseSuppressionDefault reports the initial noise suppression
// preference.
func (c *Config) NoiseSuppressionDefault() bool {
	return c.Voice.NoiseSuppression == nil || *c.Voice.NoiseSuppression
}

// EnsureStorage creates the data directory and the preference
// database's parent directory.
func (c *Config) EnsureStorage() error {
	for _, dir := range []string{c.Storage.Root, filepath.Dir(c.Storage.PreferencesDB)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	return nil
}
