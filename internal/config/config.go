package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Signing  SigningConfig  `json:"signing" mapstructure:"signing"`
	Cache    CacheConfig    `json:"cache" mapstructure:"cache"`
	Download DownloadConfig `json:"download" mapstructure:"download"`
	Network  NetworkConfig  `json:"network" mapstructure:"network"`
	Storage  StorageConfig  `json:"storage" mapstructure:"storage"`
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// SigningConfig describes the endpoint that exchanges storage keys for signed URLs
type SigningConfig struct {
	Endpoint          string  `json:"endpoint" mapstructure:"endpoint"`
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `json:"burst" mapstructure:"burst"`
	MaxRetries        int     `json:"max_retries" mapstructure:"max_retries"`
	Timeout           int     `json:"timeout" mapstructure:"timeout"` // seconds
}

// CacheConfig contains resolved media cache settings
type CacheConfig struct {
	TTLMinutes           int `json:"ttl_minutes" mapstructure:"ttl_minutes"`
	SweepIntervalMinutes int `json:"sweep_interval_minutes" mapstructure:"sweep_interval_minutes"`
	VerifyTimeout        int `json:"verify_timeout" mapstructure:"verify_timeout"` // seconds
}

// DownloadConfig contains download-related settings
type DownloadConfig struct {
	OfflineDir          string `json:"offline_dir" mapstructure:"offline_dir"`
	ConcurrentDownloads int    `json:"concurrent_downloads" mapstructure:"concurrent_downloads"`
	DefaultExtension    string `json:"default_extension" mapstructure:"default_extension"`
	EmbedMetadata       bool   `json:"embed_metadata" mapstructure:"embed_metadata"`
	ArtworkSize         int    `json:"artwork_size" mapstructure:"artwork_size"`
	Timeout             int    `json:"timeout" mapstructure:"timeout"` // seconds per transfer
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	Timeout int `json:"timeout" mapstructure:"timeout"` // seconds
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	DBPath    string `json:"db_path" mapstructure:"db_path"`
	TokenFile string `json:"token_file" mapstructure:"token_file"`
}

// ServerConfig contains the local control API settings
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Load loads configuration from file, creating it with defaults when missing.
// A .env file in the working directory is loaded first so its values can
// override the file through BEATSCORE_* environment variables.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configPath = GetConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("BEATSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Signing.Endpoint == "" {
		return fmt.Errorf("signing endpoint cannot be empty")
	}
	if c.Signing.RequestsPerSecond <= 0 {
		return fmt.Errorf("signing requests per second must be positive")
	}
	if c.Signing.Burst < 1 {
		return fmt.Errorf("signing burst must be at least 1")
	}
	if c.Signing.MaxRetries < 0 {
		return fmt.Errorf("signing max retries cannot be negative")
	}
	if c.Signing.Timeout < 1 {
		return fmt.Errorf("signing timeout must be at least 1 second")
	}

	if c.Cache.TTLMinutes < 1 {
		return fmt.Errorf("cache ttl must be at least 1 minute")
	}
	if c.Cache.SweepIntervalMinutes < 1 {
		return fmt.Errorf("cache sweep interval must be at least 1 minute")
	}
	if c.Cache.VerifyTimeout < 1 {
		return fmt.Errorf("cache verify timeout must be at least 1 second")
	}

	if c.Download.OfflineDir == "" {
		return fmt.Errorf("offline directory cannot be empty")
	}
	if c.Download.ConcurrentDownloads < 1 {
		return fmt.Errorf("concurrent downloads must be at least 1")
	}
	if c.Download.ConcurrentDownloads > 16 {
		return fmt.Errorf("concurrent downloads cannot exceed 16")
	}
	if c.Download.DefaultExtension == "" {
		c.Download.DefaultExtension = "mp3"
	}
	if c.Download.ArtworkSize < 100 || c.Download.ArtworkSize > 3000 {
		return fmt.Errorf("artwork size must be between 100 and 3000 pixels")
	}
	if c.Download.Timeout < 1 {
		return fmt.Errorf("download timeout must be at least 1 second")
	}

	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("signing", c.Signing)
	v.Set("cache", c.Cache)
	v.Set("download", c.Download)
	v.Set("network", c.Network)
	v.Set("storage", c.Storage)
	v.Set("server", c.Server)
	v.Set("logging", c.Logging)

	return v.WriteConfigAs(path)
}

// CacheTTL returns the cache entry lifetime
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// SweepInterval returns the cache sweep interval
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Cache.SweepIntervalMinutes) * time.Minute
}

// ServerAddr returns the listen address of the control API
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	v.SetDefault("signing.endpoint", "https://aws.njahjustus.workers.dev/sign-r2")
	v.SetDefault("signing.requests_per_second", 10.0)
	v.SetDefault("signing.burst", 10)
	v.SetDefault("signing.max_retries", 2)
	v.SetDefault("signing.timeout", 8)

	v.SetDefault("cache.ttl_minutes", 30)
	v.SetDefault("cache.sweep_interval_minutes", 10)
	v.SetDefault("cache.verify_timeout", 5)

	v.SetDefault("download.offline_dir", dataDir)
	v.SetDefault("download.concurrent_downloads", 3)
	v.SetDefault("download.default_extension", "mp3")
	v.SetDefault("download.embed_metadata", true)
	v.SetDefault("download.artwork_size", 600)
	v.SetDefault("download.timeout", 600)

	v.SetDefault("network.timeout", 30)

	v.SetDefault("storage.db_path", filepath.Join(dataDir, "data", "beatscore.db"))
	v.SetDefault("storage.token_file", filepath.Join(dataDir, "session.token"))

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "both")
	v.SetDefault("logging.file_path", filepath.Join(dataDir, "logs", "beatscore.log"))
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", true)
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	if dir := os.Getenv("BEATSCORE_DATA_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "Beatscore")
	}
	return filepath.Join(os.Getenv("HOME"), ".beatscore")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}
