package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spideyz0r/clipdav/pkg/capture"
)

// Cache for config to avoid repeated file reads.
var (
	cacheMutex    sync.RWMutex
	cachedConfig  *Config
	cachedPath    string
	cachedModTime time.Time
)

// DatabaseName is the database file created inside the data directory.
const DatabaseName = "clipboard.db"

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Auth     AuthConfig    `yaml:"auth"`
	Storage  StorageConfig `yaml:"storage"`
	Timezone string        `yaml:"timezone"` // IANA zone for presenting and filtering timestamps
	Log      LogConfig     `yaml:"log"`
	Backup   BackupConfig  `yaml:"backup"`
	Search   SearchConfig  `yaml:"search"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"` // Front-end assets; empty disables the mount
	DAVPrefix string `yaml:"dav_prefix"` // URL prefix of the WebDAV share
}

// AuthConfig holds the single account and session settings.
type AuthConfig struct {
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	PasswordHash  string        `yaml:"password_hash"` // bcrypt; takes precedence over password
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	CookieSecure  bool          `yaml:"cookie_secure"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`      // WebDAV root, holds file/ and history/
	DatabasePath string `yaml:"database_path"` // Defaults to <data_dir>/clipboard.db
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// BackupConfig holds database backup settings.
type BackupConfig struct {
	Dir        string        `yaml:"dir"`
	Keep       int           `yaml:"keep"`       // Number of backups retained (0 = all)
	Interval   time.Duration `yaml:"interval"`   // Periodic backup while serving (0 = off)
	Passphrase string        `yaml:"passphrase"` // Encrypts backups when set
}

// SearchConfig holds interactive browse settings.
type SearchConfig struct {
	Limit int `yaml:"limit"` // Max records loaded into the picker (0 = unlimited)
}

// Default returns the default configuration.
func Default() *Config {
	base := baseDir()

	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8000,
			DAVPrefix: "/dav",
		},
		Auth: AuthConfig{
			Username:      "admin",
			Password:      "admin",
			SessionTTL:    24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Storage: StorageConfig{
			DataDir: filepath.Join(base, "webdav_data"),
		},
		Timezone: "Asia/Shanghai",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Backup: BackupConfig{
			Dir:  filepath.Join(base, "backups"),
			Keep: 7,
		},
		Search: SearchConfig{
			Limit: 1000,
		},
	}
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is unavailable
		home = "."
	}
	return filepath.Join(home, ".clipdav")
}

// DefaultPath returns the default config file location (~/.clipdav/config.yaml).
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

// Load loads configuration from file, falling back to defaults, then applies
// environment overrides and validates the result.
// The parsed file is cached until its modification time changes.
func Load(path string) (*Config, error) {
	file, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := *file
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadFile(path string) (*Config, error) {
	// Check cache first
	cacheMutex.RLock()
	if cachedConfig != nil && cachedPath == path {
		if stat, err := os.Stat(path); err == nil && stat.ModTime().Equal(cachedModTime) {
			defer cacheMutex.RUnlock()
			return cachedConfig, nil
		}
	}
	cacheMutex.RUnlock()

	cacheMutex.Lock()
	defer cacheMutex.Unlock()

	cfg := Default()

	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		// Not cached: the file may be created at any time
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cachedConfig = cfg
	cachedPath = path
	cachedModTime = stat.ModTime()

	return cfg, nil
}

// ClearCache clears the configuration cache, forcing a reload on next Load()
func ClearCache() {
	cacheMutex.Lock()
	defer cacheMutex.Unlock()
	cachedConfig = nil
	cachedPath = ""
	cachedModTime = time.Time{}
}

// ApplyEnv overrides settings from environment variables. The unprefixed
// names match the variables deployments of the sync server already set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("CLIP_USERNAME", &c.Auth.Username)
	str("CLIP_PASSWORD", &c.Auth.Password)
	str("HOST", &c.Server.Host)
	str("TZ", &c.Timezone)
	str("DATA_DIR", &c.Storage.DataDir)
	str("CLIPDAV_DB_PATH", &c.Storage.DatabasePath)
	str("CLIPDAV_LOG_LEVEL", &c.Log.Level)
	str("CLIPDAV_BACKUP_PASSPHRASE", &c.Backup.Passphrase)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be a number: %q", v)
		}
		c.Server.Port = port
	}

	return nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file holds credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if !strings.HasPrefix(c.Server.DAVPrefix, "/") || len(c.Server.DAVPrefix) < 2 {
		return fmt.Errorf("invalid dav prefix: %q (must start with / and name a path)", c.Server.DAVPrefix)
	}
	if c.Server.DAVPrefix == "/api" || strings.HasPrefix(c.Server.DAVPrefix, "/api/") {
		return fmt.Errorf("dav prefix %q collides with the API", c.Server.DAVPrefix)
	}

	if c.Auth.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
		return fmt.Errorf("password or password_hash must be set")
	}
	if c.Auth.SessionTTL < 0 {
		return fmt.Errorf("session ttl cannot be negative")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	if c.Backup.Keep < 0 {
		return fmt.Errorf("backup keep cannot be negative")
	}

	return nil
}

// Location loads the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel converts the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", l.Level)
	}
	return level, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// DataDir returns the WebDAV root.
func (c *Config) DataDir() string {
	return c.Storage.DataDir
}

// HistoryDir returns the snapshot directory.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.Storage.DataDir, capture.HistoryDirName)
}

// FileDir returns the payload staging directory.
func (c *Config) FileDir() string {
	return filepath.Join(c.Storage.DataDir, capture.PayloadDirName)
}

// ManifestPath returns the manifest location.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Storage.DataDir, capture.ManifestName)
}

// DatabasePath returns the configured database path
func (c *Config) DatabasePath() string {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath
	}
	return filepath.Join(c.Storage.DataDir, DatabaseName)
}

// EnsureDirectories creates the data, history and payload directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.DataDir, c.HistoryDir(), c.FileDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
