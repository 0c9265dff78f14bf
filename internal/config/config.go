// Package config loads and persists studiovault configuration as YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/studiovault/internal/models"
)

// Environment variables that override file values.
const (
	EnvDataDir  = "STUDIOVAULT_DATA_DIR"
	EnvOwner    = "STUDIOVAULT_OWNER"
	EnvLogLevel = "STUDIOVAULT_LOG_LEVEL"
)

// Remote kinds.
const (
	RemoteMemory = "memory"
	RemoteDir    = "dir"
	RemoteS3     = "s3"
	RemoteMinIO  = "minio"
	RemoteR2     = "r2"
	RemoteAWS    = "aws"
)

// DefaultFavoriteMaxSize bounds a favorite collection that sets no max_size.
const DefaultFavoriteMaxSize = 200

var remoteKinds = []string{RemoteMemory, RemoteDir, RemoteS3, RemoteMinIO, RemoteR2, RemoteAWS}

// Config represents the studiovault configuration.
type Config struct {
	DataDir string `yaml:"data_dir"`
	// OwnerID is the signed-in identity. Empty means no identity, which
	// behaves as offline.
	OwnerID string `yaml:"owner_id,omitempty"`
	Offline bool   `yaml:"offline"`

	Logging     LoggingConfig      `yaml:"logging"`
	Remote      RemoteConfig       `yaml:"remote"`
	Queue       QueueConfig        `yaml:"queue"`
	Thumbnails  ThumbnailConfig    `yaml:"thumbnails"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Server      ServerConfig       `yaml:"server"`
	Collections []CollectionConfig `yaml:"collections"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// File, when set, writes rotated logs there instead of stderr.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// RemoteConfig selects and configures the remote store.
type RemoteConfig struct {
	Kind string `yaml:"kind"`
	// Dir is the root of a "dir" remote; relative paths are under DataDir.
	Dir string `yaml:"dir,omitempty"`

	Endpoint       string        `yaml:"endpoint,omitempty"`
	Bucket         string        `yaml:"bucket,omitempty"`
	Region         string        `yaml:"region,omitempty"`
	AccessKey      string        `yaml:"access_key,omitempty"`
	SecretKey      string        `yaml:"secret_key,omitempty"`
	AccountID      string        `yaml:"account_id,omitempty"`
	UseSSL         bool          `yaml:"use_ssl,omitempty"`
	ForcePathStyle bool          `yaml:"force_path_style,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
}

type QueueConfig struct {
	// MaxSize bounds the offline queue; 0 means unbounded.
	MaxSize int `yaml:"max_size"`
}

type ThumbnailConfig struct {
	Generate bool `yaml:"generate"`
	Size     int  `yaml:"size"`
}

type SchedulerConfig struct {
	SyncInterval    time.Duration `yaml:"sync_interval"`
	QueueInterval   time.Duration `yaml:"queue_interval"`
	SyncTimeout     time.Duration `yaml:"sync_timeout"`
	SyncOnReconnect bool          `yaml:"sync_on_reconnect"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// CollectionConfig defines one collection.
type CollectionConfig struct {
	ID         string                `yaml:"id"`
	Type       models.CollectionType `yaml:"type"`
	RemoteKey  string                `yaml:"remote_key,omitempty"`
	MaxSize    int                   `yaml:"max_size,omitempty"`
	FetchLimit int                   `yaml:"fetch_limit,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Logging: LoggingConfig{Level: "info"},
		Remote:  RemoteConfig{Kind: RemoteDir, Dir: "remote"},
		Queue:   QueueConfig{MaxSize: 1000},
		Thumbnails: ThumbnailConfig{
			Generate: true,
			Size:     256,
		},
		Scheduler: SchedulerConfig{
			SyncInterval:    15 * time.Minute,
			QueueInterval:   time.Minute,
			SyncTimeout:     5 * time.Minute,
			SyncOnReconnect: true,
		},
		Server: ServerConfig{Addr: "localhost:8090"},
		Collections: []CollectionConfig{
			{ID: "history", Type: models.CollectionHistory, MaxSize: 500},
			{ID: "favorites", Type: models.CollectionFavorite, MaxSize: DefaultFavoriteMaxSize},
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "studiovault")
	}
	return ".studiovault"
}

// ConfigManager manages configuration persistence.
type ConfigManager struct {
	configPath string
	getenv     func(string) string
}

// NewConfigManager creates a manager for the default config location.
func NewConfigManager() (*ConfigManager, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config directory: %w", err)
	}
	return NewConfigManagerWithPath(filepath.Join(dir, "studiovault", "config.yaml")), nil
}

// NewConfigManagerWithPath creates a config manager with a custom config path.
func NewConfigManagerWithPath(configPath string) *ConfigManager {
	return &ConfigManager{
		configPath: configPath,
		getenv:     os.Getenv,
	}
}

// GetConfigPath returns the path to the config file.
func (cm *ConfigManager) GetConfigPath() string {
	return cm.configPath
}

// Load reads the configuration file, or the defaults when it doesn't
// exist, then applies environment overrides and validates the result.
// Fields missing from the file keep their default values.
func (cm *ConfigManager) Load() (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(cm.configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cm.applyEnv(config)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (cm *ConfigManager) applyEnv(config *Config) {
	if v := cm.getenv(EnvDataDir); v != "" {
		config.DataDir = v
	}
	if v := cm.getenv(EnvOwner); v != "" {
		config.OwnerID = v
	}
	if v := cm.getenv(EnvLogLevel); v != "" {
		config.Logging.Level = v
	}
}

// Save validates and writes the configuration.
func (cm *ConfigManager) Save(config *Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(cm.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	c.Logging.Level = strings.ToLower(c.Logging.Level)
	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}

	if err := c.Remote.validate(); err != nil {
		return err
	}

	if c.Queue.MaxSize < 0 {
		return fmt.Errorf("queue.max_size cannot be negative")
	}
	if c.Thumbnails.Size <= 0 {
		c.Thumbnails.Size = 256
	}
	if c.Thumbnails.Size > 4096 {
		return fmt.Errorf("thumbnails.size cannot exceed 4096 pixels")
	}
	if c.Scheduler.SyncInterval < 0 || c.Scheduler.QueueInterval < 0 || c.Scheduler.SyncTimeout < 0 {
		return fmt.Errorf("scheduler intervals cannot be negative")
	}

	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection is required")
	}
	seen := make(map[string]bool)
	remoteKeys := make(map[string]bool)
	for i, col := range c.Collections {
		if col.ID == "" {
			return fmt.Errorf("collections[%d]: id is required", i)
		}
		if strings.ContainsAny(col.ID, ":/") {
			return fmt.Errorf("collections[%d]: id %q cannot contain ':' or '/'", i, col.ID)
		}
		if seen[col.ID] {
			return fmt.Errorf("collections[%d]: duplicate id %q", i, col.ID)
		}
		seen[col.ID] = true
		if !col.Type.Valid() {
			return fmt.Errorf("collections[%d]: unknown type %q", i, col.Type)
		}
		if col.MaxSize < 0 || col.FetchLimit < 0 {
			return fmt.Errorf("collections[%d]: sizes cannot be negative", i)
		}
		if col.Type == models.CollectionFavorite && col.MaxSize == 0 {
			c.Collections[i].MaxSize = DefaultFavoriteMaxSize
		}
		key := col.RemoteKey
		if key == "" {
			key = col.ID
		}
		if remoteKeys[key] {
			return fmt.Errorf("collections[%d]: remote key %q is already used", i, key)
		}
		remoteKeys[key] = true
	}
	return nil
}

func (r *RemoteConfig) validate() error {
	if r.Kind == "" {
		r.Kind = RemoteDir
	}
	if !slices.Contains(remoteKinds, r.Kind) {
		return fmt.Errorf("unknown remote kind %q (want one of %s)", r.Kind, strings.Join(remoteKinds, ", "))
	}

	switch r.Kind {
	case RemoteDir:
		if r.Dir == "" {
			r.Dir = "remote"
		}
	case RemoteS3, RemoteMinIO:
		if r.Endpoint == "" {
			return fmt.Errorf("remote.endpoint is required for %s", r.Kind)
		}
		fallthrough
	case RemoteAWS, RemoteR2:
		if r.Bucket == "" {
			return fmt.Errorf("remote.bucket is required for %s", r.Kind)
		}
		if r.AccessKey == "" || r.SecretKey == "" {
			return fmt.Errorf("remote credentials are required for %s", r.Kind)
		}
	}
	if r.Kind == RemoteR2 && r.AccountID == "" {
		return fmt.Errorf("remote.account_id is required for r2")
	}
	return nil
}

// RemoteDir resolves the directory of a "dir" remote.
func (c *Config) RemoteDir() string {
	if filepath.IsAbs(c.Remote.Dir) {
		return c.Remote.Dir
	}
	return filepath.Join(c.DataDir, c.Remote.Dir)
}

// Collection returns the collection with id.
func (c *Config) Collection(id string) (CollectionConfig, bool) {
	for _, col := range c.Collections {
		if col.ID == id {
			return col, true
		}
	}
	return CollectionConfig{}, false
}

// Update sets a single dotted key and saves.
func (cm *ConfigManager) Update(key, value string) error {
	config, err := cm.Load()
	if err != nil {
		return err
	}

	switch key {
	case "data-dir":
		config.DataDir = value
	case "owner":
		config.OwnerID = value
	case "offline":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for offline: %s", value)
		}
		config.Offline = b
	case "log-level":
		config.Logging.Level = value
	case "remote.kind":
		config.Remote.Kind = value
	case "remote.dir":
		config.Remote.Dir = value
	case "queue.max-size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for queue.max-size: %s", value)
		}
		config.Queue.MaxSize = n
	case "thumbnails.generate":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for thumbnails.generate: %s", value)
		}
		config.Thumbnails.Generate = b
	case "scheduler.sync-interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for scheduler.sync-interval: %s", value)
		}
		config.Scheduler.SyncInterval = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	return cm.Save(config)
}

// List returns the user-settable keys and their values.
func (cm *ConfigManager) List() (map[string]string, error) {
	config, err := cm.Load()
	if err != nil {
		return nil, err
	}

	owner := config.OwnerID
	if owner == "" {
		owner = "[none]"
	}
	return map[string]string{
		"data-dir":                config.DataDir,
		"owner":                   owner,
		"offline":                 strconv.FormatBool(config.Offline),
		"log-level":               config.Logging.Level,
		"remote.kind":             config.Remote.Kind,
		"remote.dir":              config.Remote.Dir,
		"queue.max-size":          strconv.Itoa(config.Queue.MaxSize),
		"thumbnails.generate":     strconv.FormatBool(config.Thumbnails.Generate),
		"scheduler.sync-interval": config.Scheduler.SyncInterval.String(),
	}, nil
}
