package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dmitrijs2005/shopkeeper/internal/flagx"
	"github.com/dmitrijs2005/shopkeeper/internal/timex"
)

// FileConfig is a DTO used exclusively for file decoding. Intervals use
// timex.Duration so they can be written as "3s" (JSON and TOML) or as
// integer nanoseconds (JSON). Zero values leave the Config untouched.
type FileConfig struct {
	ServerURL           string         `json:"server_url" toml:"server_url"`
	HealthAddr          string         `json:"health_addr" toml:"health_addr"`
	DataDir             string         `json:"data_dir" toml:"data_dir"`
	Username            string         `json:"username" toml:"username"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval" toml:"online_check_interval"`
	RequestTimeout      timex.Duration `json:"request_timeout" toml:"request_timeout"`
	DrainInterval       timex.Duration `json:"drain_interval" toml:"drain_interval"`
	MaxRetries          int            `json:"max_retries" toml:"max_retries"`
	CleanupInterval     timex.Duration `json:"cleanup_interval" toml:"cleanup_interval"`
	LogFile             string         `json:"log_file" toml:"log_file"`
	LogLevel            string         `json:"log_level" toml:"log_level"`
}

// parseFile overlays Config with values loaded from the file named by -c or
// -config. Files ending in .toml are decoded as TOML, anything else as JSON.
// Read or decode errors panic.
func parseFile(cfg *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var fc FileConfig
	if strings.HasSuffix(strings.ToLower(path), ".toml") {
		err = toml.Unmarshal(data, &fc)
	} else {
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(cfg)
}

func (fc FileConfig) apply(cfg *Config) {
	setString(&cfg.ServerURL, fc.ServerURL)
	setString(&cfg.HealthAddr, fc.HealthAddr)
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.Username, fc.Username)
	setString(&cfg.LogFile, fc.LogFile)
	setString(&cfg.LogLevel, fc.LogLevel)

	if fc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = fc.OnlineCheckInterval.Duration
	}
	if fc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = fc.RequestTimeout.Duration
	}
	if fc.DrainInterval.Duration > 0 {
		cfg.DrainInterval = fc.DrainInterval.Duration
	}
	if fc.CleanupInterval.Duration > 0 {
		cfg.CleanupInterval = fc.CleanupInterval.Duration
	}
	if fc.MaxRetries > 0 {
		cfg.MaxRetries = fc.MaxRetries
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
