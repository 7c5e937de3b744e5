package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-s string   base URL of the data API
//	-a string   host:port of the gRPC health endpoint
//	-d string   directory of the local cache and log file
//	-u string   username to sign in with
//	-i int      online check interval (seconds)
//	-r int      max delivery attempts per queued change
//	-l string   log level (debug, info, warn, error)
//
// Only the flags above are taken from os.Args (see flagx.FilterArgs).
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-s", "-a", "-d", "-u", "-i", "-r", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "s", cfg.ServerURL, "base URL of the data API")
	fs.StringVar(&cfg.HealthAddr, "a", cfg.HealthAddr, "address and port of the health endpoint")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.Username, "u", cfg.Username, "username")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "max delivery attempts per queued change")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
