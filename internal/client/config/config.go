package config

import (
	"fmt"
	"net/url"
	"time"
)

const (
	KVBackendSQLite = "sqlite"
	KVBackendRedis  = "redis"

	MediaBackendFS = "fs"
	MediaBackendS3 = "s3"
)

// Config holds runtime settings for the field-sync CLI.
//
// Units: all intervals are time.Duration.
type Config struct {
	ServerBaseURL       string
	AccessToken         string
	UserID              string
	OnlineCheckInterval time.Duration
	AssumeOnline        bool
	UploadTimeout       time.Duration

	DBPath    string
	KVBackend string
	RedisAddr string

	MediaBackend string
	MediaDir     string
	S3Region     string
	S3Endpoint   string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Prefix     string

	MaxAttempts     int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	SyncInterval    time.Duration
	SyncConcurrency int

	// TicketCacheTTL is how long an offline ticket copy is kept once no
	// queued upload refers to it.
	TicketCacheTTL time.Duration

	ControlAddr string
	LogLevel    string
	LogFormat   string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.OnlineCheckInterval = 3 * time.Second
	c.AssumeOnline = true
	c.UploadTimeout = 60 * time.Second

	c.DBPath = "fieldsync.db"
	c.KVBackend = KVBackendSQLite
	c.RedisAddr = "127.0.0.1:6379"

	c.MediaBackend = MediaBackendFS
	c.MediaDir = "media"
	c.S3Region = "us-east-1"

	c.MaxAttempts = 10
	c.BackoffInitial = 5 * time.Second
	c.BackoffMax = 30 * time.Minute
	c.SyncInterval = 5 * time.Minute
	c.SyncConcurrency = 4
	c.TicketCacheTTL = 7 * 24 * time.Hour

	c.ControlAddr = "127.0.0.1:8089"
	c.LogLevel = "info"
	c.LogFormat = "text"
}

// Validate reports the first setting the client cannot start with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server url %q must be an absolute http(s) url", c.ServerBaseURL)
	}
	switch c.KVBackend {
	case KVBackendSQLite, KVBackendRedis:
	default:
		return fmt.Errorf("unknown kv backend %q", c.KVBackend)
	}
	switch c.MediaBackend {
	case MediaBackendFS:
	case MediaBackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 media backend needs a bucket")
		}
	default:
		return fmt.Errorf("unknown media backend %q", c.MediaBackend)
	}
	if c.OnlineCheckInterval <= 0 {
		return fmt.Errorf("online check interval must be positive")
	}
	if c.SyncConcurrency <= 0 {
		return fmt.Errorf("sync concurrency must be positive")
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
