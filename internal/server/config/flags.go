package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string       HTTP API bind address (e.g., ":8080")
//	-g string       gRPC health bind address (e.g., ":50051")
//	-d string       PostgreSQL DSN
//	-s string       JWT HMAC secret key
//	-t int          access token validity, minutes
//	-retention int  trash retention, days
//	-archive        archive purged trash to S3
//	-u string       S3 root user
//	-p string       S3 root password
//	-b string       S3 bucket name
//	-region string  S3 region
//	-e string       S3 base endpoint
//	-l string       log level
//	-create-user    "name:password" account to create at startup
//
// os.Args is filtered with flagx.FilterArgs first, so the config file flag
// does not trip the parser.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-g", "-d", "-s", "-t", "-retention", "-archive",
		"-u", "-p", "-b", "-region", "-e", "-l", "-create-user",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port of the HTTP API")
	fs.StringVar(&config.HealthAddr, "g", config.HealthAddr, "address and port of the gRPC health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	trashRetention := fs.Int("retention", int(config.TrashRetention.Hours()/24), "trash retention (in days)")

	fs.BoolVar(&config.ArchiveEnabled, "archive", config.ArchiveEnabled, "archive purged trash to S3")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.CreateUser, "create-user", config.CreateUser, "create account name:password at startup")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.TrashRetention = time.Duration(*trashRetention) * 24 * time.Hour
}
