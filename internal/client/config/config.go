package config

import (
	"path/filepath"
	"time"
)

// Config holds runtime settings for the shop client.
//
// Units: all intervals are time.Duration values.
type Config struct {
	ServerURL           string
	HealthAddr          string
	DataDir             string
	Username            string
	OnlineCheckInterval time.Duration
	RequestTimeout      time.Duration
	DrainInterval       time.Duration
	MaxRetries          int
	CleanupInterval     time.Duration
	LogFile             string
	LogLevel            string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.HealthAddr = "127.0.0.1:50051"
	c.DataDir = "."
	c.Username = ""
	c.OnlineCheckInterval = 3 * time.Second
	c.RequestTimeout = 10 * time.Second
	c.DrainInterval = 30 * time.Second
	c.MaxRetries = 3
	c.CleanupInterval = 24 * time.Hour
	c.LogFile = ""
	c.LogLevel = "info"
}

// DatabasePath is the local cache file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "shopkeeper.db")
}

// LogPath is LogFile, or client.log inside DataDir when unset.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "client.log")
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// a config file (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}
