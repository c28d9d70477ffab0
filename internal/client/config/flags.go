package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the backend REST API
//	-i int      online check interval in seconds
//	-t int      per-attempt upload timeout in seconds
//	-s int      automatic sync interval in seconds (0 disables)
//	-d string   SQLite database path
//	-m string   media backend: fs or s3
//	-u string   acting user id
//	-l string   control API listen address (empty disables)
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-i", "-t", "-s", "-d", "-m", "-u", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerBaseURL, "a", cfg.ServerBaseURL, "base URL of the backend REST API")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	uploadTimeout := fs.Int("t", int(cfg.UploadTimeout.Seconds()), "upload attempt timeout (in seconds)")
	syncInterval := fs.Int("s", int(cfg.SyncInterval.Seconds()), "automatic sync interval (in seconds)")
	fs.StringVar(&cfg.DBPath, "d", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.MediaBackend, "m", cfg.MediaBackend, "media backend (fs|s3)")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "acting user id")
	fs.StringVar(&cfg.ControlAddr, "l", cfg.ControlAddr, "control API listen address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.UploadTimeout = time.Duration(*uploadTimeout) * time.Second
	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}
