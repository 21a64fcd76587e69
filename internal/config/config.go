// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/util"
)

// EnvPrefix prefixes every environment override, e.g. AMLSESSION_API_BASE_URL.
const EnvPrefix = "AMLSESSION_"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete amlsession configuration.
type Config struct {
	API     APIConfig     `toml:"api" json:"api" envPrefix:"API_"`
	Session SessionConfig `toml:"session" json:"session" envPrefix:"SESSION_"`
	Server  ServerConfig  `toml:"server" json:"server" envPrefix:"SERVER_"`
	Log     LogConfig     `toml:"log" json:"log" envPrefix:"LOG_"`
	Storage StorageConfig `toml:"storage" json:"storage" envPrefix:"STORAGE_"`
}

// APIConfig points the client at the back-office session API.
type APIConfig struct {
	// BaseURL is the back-office origin, e.g. https://aml.example.
	BaseURL string `toml:"base_url" json:"base_url" env:"BASE_URL"`
	// LoginPath is the login entry point the expiry flow redirects to.
	LoginPath   string `toml:"login_path" json:"login_path" env:"LOGIN_PATH"`
	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs" env:"TIMEOUT_SECS"`
	CookieName  string `toml:"cookie_name" json:"cookie_name" env:"COOKIE_NAME"`
}

// SessionConfig holds the client-side lifecycle timings.
type SessionConfig struct {
	TimeoutSecs          int    `toml:"timeout_secs" json:"timeout_secs" env:"TIMEOUT_SECS"`
	WarningSecs          int    `toml:"warning_secs" json:"warning_secs" env:"WARNING_SECS"`
	TickSecs             int    `toml:"tick_secs" json:"tick_secs" env:"TICK_SECS"`
	SyncSecs             int    `toml:"sync_secs" json:"sync_secs" env:"SYNC_SECS"`
	RefreshAfterIdleSecs int    `toml:"refresh_after_idle_secs" json:"refresh_after_idle_secs" env:"REFRESH_AFTER_IDLE_SECS"`
	KeepAliveAfterSecs   int    `toml:"keepalive_after_secs" json:"keepalive_after_secs" env:"KEEPALIVE_AFTER_SECS"`
	KeepAliveUntilSecs   int    `toml:"keepalive_until_secs" json:"keepalive_until_secs" env:"KEEPALIVE_UNTIL_SECS"`
	NoticeDelayMs        int    `toml:"notice_delay_ms" json:"notice_delay_ms" env:"NOTICE_DELAY_MS"`
	Page                 string `toml:"page" json:"page" env:"PAGE"`
}

// ServerConfig configures the development session server.
type ServerConfig struct {
	Addr               string `toml:"addr" json:"addr" env:"ADDR"`
	SessionTimeoutSecs int    `toml:"session_timeout_secs" json:"session_timeout_secs" env:"SESSION_TIMEOUT_SECS"`
	CookieName         string `toml:"cookie_name" json:"cookie_name" env:"COOKIE_NAME"`
	// CookieSecret signs the session cookie. Generated per run when empty.
	CookieSecret string `toml:"cookie_secret" json:"cookie_secret" env:"COOKIE_SECRET"`
	// RedisURL selects the Redis session registry; empty keeps sessions in memory.
	RedisURL       string       `toml:"redis_url" json:"redis_url" env:"REDIS_URL"`
	RateLimitRPS   float64      `toml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int          `toml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	Users          []UserConfig `toml:"users" json:"users" env:"-"`
}

// UserConfig is one login accepted by the development server.
type UserConfig struct {
	Username string `toml:"username" json:"username"`
	// PasswordHash is a bcrypt hash.
	PasswordHash string `toml:"password_hash" json:"password_hash"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level" json:"level" env:"LEVEL"`
	Format string `toml:"format" json:"format" env:"FORMAT"`
}

// StorageConfig locates the local hint database.
type StorageConfig struct {
	DBPath string `toml:"db_path" json:"db_path" env:"DB_PATH"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with the back-office defaults: 30 minute timeout,
// 5 minute warning, 30s tick and 60s sync.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "http://localhost:8085",
			LoginPath:   "/login.html",
			TimeoutSecs: 10,
			CookieName:  "JSESSIONID",
		},
		Session: SessionConfig{
			TimeoutSecs:          1800,
			WarningSecs:          300,
			TickSecs:             30,
			SyncSecs:             60,
			RefreshAfterIdleSecs: 120,
			KeepAliveAfterSecs:   300,
			KeepAliveUntilSecs:   600,
			NoticeDelayMs:        2000,
		},
		Server: ServerConfig{
			Addr:               ":8085",
			SessionTimeoutSecs: 1800,
			CookieName:         "JSESSIONID",
			RateLimitRPS:       20,
			RateLimitBurst:     40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the amlsession configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".amlsession"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DBPath returns the configured hint database path, defaulting to
// ~/.amlsession/hints.db.
func (c *Config) DBPath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "hints.db"), nil
}

// ensureSecurePermissions tightens a config file to 0600. The file may hold
// the dev server's cookie secret and password hashes.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.amlsession/config.toml, then config.json, then falls back to
// defaults. .env and environment overrides are applied last.
func Load() (*Config, error) {
	var paths []string
	if p, err := ConfigPathTOML(); err == nil {
		paths = append(paths, p)
	}
	if p, err := ConfigPathJSON(); err == nil {
		paths = append(paths, p)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFromPath(path)
	}
	return finish(Default())
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		slog.Warn("CONFIG_PERMISSIONS", "path", path, "error", err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		slog.Warn("CONFIG_PERMISSIONS", "path", path, "error", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads a specific file with env overrides, defaults and
// validation. Files ending in .json are read as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides loads .env from the working directory when present and
// then applies AMLSESSION_* variables, e.g. AMLSESSION_SESSION_TIMEOUT_SECS.
func (c *Config) ApplyEnvOverrides() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	return nil
}

// SetDefaults fills zero-valued fields from Default().
func (c *Config) SetDefaults() {
	d := Default()

	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.LoginPath == "" {
		c.API.LoginPath = d.API.LoginPath
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if c.API.CookieName == "" {
		c.API.CookieName = d.API.CookieName
	}

	s := &c.Session
	if s.TimeoutSecs == 0 {
		s.TimeoutSecs = d.Session.TimeoutSecs
	}
	if s.WarningSecs == 0 {
		s.WarningSecs = d.Session.WarningSecs
	}
	if s.TickSecs == 0 {
		s.TickSecs = d.Session.TickSecs
	}
	if s.SyncSecs == 0 {
		s.SyncSecs = d.Session.SyncSecs
	}
	if s.RefreshAfterIdleSecs == 0 {
		s.RefreshAfterIdleSecs = d.Session.RefreshAfterIdleSecs
	}
	if s.KeepAliveAfterSecs == 0 {
		s.KeepAliveAfterSecs = d.Session.KeepAliveAfterSecs
	}
	if s.KeepAliveUntilSecs == 0 {
		s.KeepAliveUntilSecs = d.Session.KeepAliveUntilSecs
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.SessionTimeoutSecs == 0 {
		c.Server.SessionTimeoutSecs = d.Server.SessionTimeoutSecs
	}
	if c.Server.CookieName == "" {
		c.Server.CookieName = d.Server.CookieName
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = d.Server.RateLimitRPS
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = d.Server.RateLimitBurst
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with a short header, atomically and 0600.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# amlsession configuration file\n")
	b.WriteString("# Environment variables prefixed with AMLSESSION_ override these values.\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON, atomically and 0600.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("api.base_url", "must be an absolute http(s) URL")
	}
	if !strings.HasPrefix(c.API.LoginPath, "/") && !strings.HasPrefix(c.API.LoginPath, "http") {
		add("api.login_path", "must be a path or absolute URL")
	}
	if c.API.TimeoutSecs < 1 {
		add("api.timeout_secs", "must be at least 1")
	}

	s := c.Session
	if s.TimeoutSecs < 60 {
		add("session.timeout_secs", "must be at least 60")
	}
	if s.WarningSecs < 1 {
		add("session.warning_secs", "must be positive")
	}
	if s.WarningSecs >= s.TimeoutSecs {
		add("session.warning_secs", fmt.Sprintf("must be less than session.timeout_secs (%d)", s.TimeoutSecs))
	}
	if s.TickSecs < 1 {
		add("session.tick_secs", "must be positive")
	}
	if s.SyncSecs < 1 {
		add("session.sync_secs", "must be positive")
	}
	if s.RefreshAfterIdleSecs < 0 {
		add("session.refresh_after_idle_secs", "must not be negative")
	}
	if s.KeepAliveAfterSecs < 0 || s.KeepAliveUntilSecs < s.KeepAliveAfterSecs {
		add("session.keepalive_until_secs", "must not be before session.keepalive_after_secs")
	}
	if s.NoticeDelayMs < 0 {
		add("session.notice_delay_ms", "must not be negative")
	}

	if c.Server.SessionTimeoutSecs < 60 {
		add("server.session_timeout_secs", "must be at least 60")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RedisURL != "" && !strings.HasPrefix(c.Server.RedisURL, "redis://") && !strings.HasPrefix(c.Server.RedisURL, "rediss://") {
		add("server.redis_url", "must start with redis:// or rediss://")
	}
	for i, u := range c.Server.Users {
		if u.Username == "" || u.PasswordHash == "" {
			add(fmt.Sprintf("server.users[%d]", i), "username and password_hash are required")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "must be text or json")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// KeeperConfig converts the [session] and [api] sections for session.Open.
func (c *Config) KeeperConfig() session.Config {
	s := c.Session
	return session.Config{
		Timeout:          secs(s.TimeoutSecs),
		Warning:          secs(s.WarningSecs),
		TickInterval:     secs(s.TickSecs),
		SyncInterval:     secs(s.SyncSecs),
		RefreshAfterIdle: secs(s.RefreshAfterIdleSecs),
		KeepAliveAfter:   secs(s.KeepAliveAfterSecs),
		KeepAliveUntil:   secs(s.KeepAliveUntilSecs),
		NoticeDelay:      time.Duration(s.NoticeDelayMs) * time.Millisecond,
		LoginURL:         c.LoginURL(),
		Page:             s.Page,
	}
}

// LoginURL joins the base URL and login path unless the path is absolute.
func (c *Config) LoginURL() string {
	if strings.HasPrefix(c.API.LoginPath, "http://") || strings.HasPrefix(c.API.LoginPath, "https://") {
		return c.API.LoginPath
	}
	return strings.TrimRight(c.API.BaseURL, "/") + c.API.LoginPath
}

// APITimeout returns the per-request timeout for the session API.
func (c *Config) APITimeout() time.Duration { return secs(c.API.TimeoutSecs) }

// ServerSessionTimeout returns the dev server's idle timeout.
func (c *Config) ServerSessionTimeout() time.Duration { return secs(c.Server.SessionTimeoutSecs) }

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its TOML key path, e.g. "session.timeout_secs".
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by its TOML key path. String values are converted to
// the field's kind.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ","); tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setFieldValue(field reflect.Value, value interface{}) error {
	if s, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(s)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %w", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %w", err)
			}
			field.SetFloat(f)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.IsValid() && val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix, _, _ := strings.Cut(section.Tag.Get("toml"), ",")
		for j := 0; j < section.Type.NumField(); j++ {
			f := section.Type.Field(j)
			if f.Type.Kind() == reflect.Slice {
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
			keys = append(keys, prefix+"."+name)
		}
	}
	return keys
}

// =============================================================================
// CLONE / STRING
// =============================================================================

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.Users != nil {
		clone.Server.Users = append([]UserConfig(nil), c.Server.Users...)
	}
	return &clone
}

// String renders the config as JSON with the cookie secret and password
// hashes redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.CookieSecret != "" {
		safe.Server.CookieSecret = "[REDACTED]"
	}
	for i := range safe.Server.Users {
		safe.Server.Users[i].PasswordHash = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
