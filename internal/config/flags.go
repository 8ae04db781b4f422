package config

import (
	"flag"
	"os"
	"time"

	"github.com/personalizedrefrigerator/notesync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-f string   local sqlite profile database path
//	-t string   sync target kind (filesystem, s3, postgres, http, memory)
//	-p string   target directory for the filesystem backend
//	-d string   PostgreSQL DSN for the postgres backend
//	-u string   base URL for the http backend
//	-k string   bearer token for the http backend
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-x string   S3 key prefix
//	-n int      concurrent transfers per sync pass
//	-m int      max attempts per store operation
//	-o int      per-operation timeout, seconds
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-f", "-t", "-p", "-d", "-u", "-k", "-b", "-g", "-e", "-x", "-n", "-m", "-o"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseFile, "f", config.DatabaseFile, "local database file")
	fs.StringVar(&config.Target, "t", config.Target, "sync target kind")
	fs.StringVar(&config.TargetPath, "p", config.TargetPath, "filesystem target directory")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "postgres target DSN")
	fs.StringVar(&config.HTTPBaseURL, "u", config.HTTPBaseURL, "http target base URL")
	fs.StringVar(&config.HTTPToken, "k", config.HTTPToken, "http target bearer token")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3Prefix, "x", config.S3Prefix, "S3 key prefix")
	fs.IntVar(&config.MaxParallel, "n", config.MaxParallel, "concurrent transfers per pass")
	fs.IntVar(&config.MaxAttempts, "m", config.MaxAttempts, "max attempts per store operation")

	opTimeout := fs.Int("o", int(config.OpTimeout.Seconds()), "per-operation timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.OpTimeout = time.Duration(*opTimeout) * time.Second
}
