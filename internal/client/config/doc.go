// Package config loads runtime configuration for the shop client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config. Files ending in
//     .toml are read as TOML, anything else as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # File schema
//
// Intervals use timex.Duration, so values can be strings like "3s" or, in
// JSON, integer nanoseconds:
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "health_addr": "127.0.0.1:50051",
//	  "data_dir": "/var/lib/shopkeeper",
//	  "online_check_interval": "3s",
//	  "drain_interval": "30s",
//	  "max_retries": 3,
//	  "cleanup_interval": "24h"
//	}
//
// Environment variables are not read.
package config
