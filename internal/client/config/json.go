package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. Absent keys leave the
// corresponding Config field untouched.
type JsonConfig struct {
	ServerBaseURL       string         `json:"server_base_url"`
	AccessToken         string         `json:"access_token"`
	UserID              string         `json:"user_id"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	AssumeOnline        *bool          `json:"assume_online"`
	UploadTimeout       timex.Duration `json:"upload_timeout"`

	DBPath    string `json:"db_path"`
	KVBackend string `json:"kv_backend"`
	RedisAddr string `json:"redis_addr"`

	MediaBackend string `json:"media_backend"`
	MediaDir     string `json:"media_dir"`
	S3Region     string `json:"s3_region"`
	S3Endpoint   string `json:"s3_endpoint"`
	S3Bucket     string `json:"s3_bucket"`
	S3AccessKey  string `json:"s3_access_key"`
	S3SecretKey  string `json:"s3_secret_key"`
	S3Prefix     string `json:"s3_prefix"`

	MaxAttempts     *int           `json:"max_attempts"`
	BackoffInitial  timex.Duration `json:"backoff_initial"`
	BackoffMax      timex.Duration `json:"backoff_max"`
	SyncInterval    timex.Duration `json:"sync_interval"`
	SyncConcurrency int            `json:"sync_concurrency"`
	TicketCacheTTL  timex.Duration `json:"ticket_cache_ttl"`

	ControlAddr *string `json:"control_addr"`
	LogLevel    string  `json:"log_level"`
	LogFormat   string  `json:"log_format"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}

// parseJson overlays Config with values loaded from a JSON file.
//
// The file path comes from -c/-config (see flagx.JsonConfigFlags), falling
// back to the FIELDSYNC_CONFIG environment variable. Without either, nothing
// is loaded. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerBaseURL, jc.ServerBaseURL)
	setString(&cfg.AccessToken, jc.AccessToken)
	setString(&cfg.UserID, jc.UserID)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	if jc.AssumeOnline != nil {
		cfg.AssumeOnline = *jc.AssumeOnline
	}
	setDuration(&cfg.UploadTimeout, jc.UploadTimeout)

	setString(&cfg.DBPath, jc.DBPath)
	setString(&cfg.KVBackend, jc.KVBackend)
	setString(&cfg.RedisAddr, jc.RedisAddr)

	setString(&cfg.MediaBackend, jc.MediaBackend)
	setString(&cfg.MediaDir, jc.MediaDir)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3Prefix, jc.S3Prefix)

	if jc.MaxAttempts != nil {
		cfg.MaxAttempts = *jc.MaxAttempts
	}
	setDuration(&cfg.BackoffInitial, jc.BackoffInitial)
	setDuration(&cfg.BackoffMax, jc.BackoffMax)
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	if jc.SyncConcurrency > 0 {
		cfg.SyncConcurrency = jc.SyncConcurrency
	}
	setDuration(&cfg.TicketCacheTTL, jc.TicketCacheTTL)

	if jc.ControlAddr != nil {
		cfg.ControlAddr = *jc.ControlAddr
	}
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
}
