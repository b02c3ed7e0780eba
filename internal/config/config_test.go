package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig(dir string) Config {
	return Config{
		Signing: SigningConfig{
			Endpoint:          "https://sign.example.com/sign-r2",
			RequestsPerSecond: 10,
			Burst:             10,
			MaxRetries:        2,
			Timeout:           8,
		},
		Cache: CacheConfig{
			TTLMinutes:           30,
			SweepIntervalMinutes: 10,
			VerifyTimeout:        5,
		},
		Download: DownloadConfig{
			OfflineDir:          dir,
			ConcurrentDownloads: 3,
			DefaultExtension:    "mp3",
			EmbedMetadata:       true,
			ArtworkSize:         600,
			Timeout:             600,
		},
		Network: NetworkConfig{Timeout: 30},
		Storage: StorageConfig{
			DBPath:    filepath.Join(dir, "beatscore.db"),
			TokenFile: filepath.Join(dir, "session.token"),
		},
		Server: ServerConfig{Host: "127.0.0.1", Port: 8787},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty signing endpoint", func(c *Config) { c.Signing.Endpoint = "" }, true},
		{"zero rate", func(c *Config) { c.Signing.RequestsPerSecond = 0 }, true},
		{"negative retries", func(c *Config) { c.Signing.MaxRetries = -1 }, true},
		{"zero ttl", func(c *Config) { c.Cache.TTLMinutes = 0 }, true},
		{"zero sweep interval", func(c *Config) { c.Cache.SweepIntervalMinutes = 0 }, true},
		{"no offline dir", func(c *Config) { c.Download.OfflineDir = "" }, true},
		{"zero concurrent downloads", func(c *Config) { c.Download.ConcurrentDownloads = 0 }, true},
		{"too many concurrent downloads", func(c *Config) { c.Download.ConcurrentDownloads = 64 }, true},
		{"artwork too small", func(c *Config) { c.Download.ArtworkSize = 10 }, true},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad log output", func(c *Config) { c.Logging.Output = "syslog" }, true},
		{"empty extension defaults", func(c *Config) { c.Download.DefaultExtension = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t.TempDir())
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefaultsExtension(t *testing.T) {
	cfg := validConfig(t.TempDir())
	cfg.Download.DefaultExtension = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Download.DefaultExtension != "mp3" {
		t.Errorf("Expected default extension mp3, got %s", cfg.Download.DefaultExtension)
	}
}

func TestLoadCreatesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("BEATSCORE_DATA_DIR", tmpDir)
	configPath := filepath.Join(tmpDir, "nested", "settings.json")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("Expected default config to be written: %v", err)
	}
	if cfg.Cache.TTLMinutes != 30 {
		t.Errorf("Expected ttl 30, got %d", cfg.Cache.TTLMinutes)
	}
	if cfg.Cache.SweepIntervalMinutes != 10 {
		t.Errorf("Expected sweep interval 10, got %d", cfg.Cache.SweepIntervalMinutes)
	}
	if cfg.CacheTTL() != 30*time.Minute {
		t.Errorf("CacheTTL() = %v", cfg.CacheTTL())
	}
	if cfg.SweepInterval() != 10*time.Minute {
		t.Errorf("SweepInterval() = %v", cfg.SweepInterval())
	}
	if cfg.Download.OfflineDir != tmpDir {
		t.Errorf("Expected offline dir %s, got %s", tmpDir, cfg.Download.OfflineDir)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "settings.json")

	cfg := validConfig(tmpDir)
	cfg.Download.ConcurrentDownloads = 5
	cfg.Server.Port = 9000

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Download.ConcurrentDownloads != 5 {
		t.Errorf("Expected 5 concurrent downloads, got %d", loaded.Download.ConcurrentDownloads)
	}
	if loaded.ServerAddr() != "127.0.0.1:9000" {
		t.Errorf("ServerAddr() = %s", loaded.ServerAddr())
	}
	if loaded.Signing.Endpoint != "https://sign.example.com/sign-r2" {
		t.Errorf("Unexpected endpoint %s", loaded.Signing.Endpoint)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "settings.json")

	cfg := validConfig(tmpDir)
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	t.Setenv("BEATSCORE_SERVER_PORT", "9191")

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Server.Port != 9191 {
		t.Errorf("Expected env override port 9191, got %d", loaded.Server.Port)
	}
}
