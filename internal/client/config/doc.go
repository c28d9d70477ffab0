// Package config loads runtime configuration for the field-sync CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags -c or -config,
//     or the FIELDSYNC_CONFIG environment variable.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the backend REST API
//	-i int      online status check interval (seconds)
//	-t int      upload attempt timeout (seconds)
//	-s int      automatic sync interval (seconds)
//	-d string   SQLite database path
//	-m string   media backend (fs|s3)
//	-u string   acting user id
//	-l string   control API listen address
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds. Keys that are absent keep their
// default:
//
//	{
//	  "server_base_url": "https://api.example.com",
//	  "access_token": "eyJ...",
//	  "online_check_interval": "3s",
//	  "upload_timeout": "60s",
//	  "kv_backend": "redis",
//	  "redis_addr": "127.0.0.1:6379",
//	  "media_backend": "s3",
//	  "s3_bucket": "field-photos",
//	  "s3_endpoint": "http://127.0.0.1:9000",
//	  "max_attempts": 10,
//	  "backoff_initial": "5s",
//	  "backoff_max": "30m",
//	  "sync_interval": "5m",
//	  "sync_concurrency": 4,
//	  "control_addr": "127.0.0.1:8089",
//	  "log_level": "debug"
//	}
//
// Primary API
//
//   - type Config                     : runtime settings
//   - func LoadConfig() *Config       : builds Config by applying defaults, JSON, then flags
//   - func (*Config) LoadDefaults()   : sets sensible defaults
//   - func (*Config) Validate() error : rejects settings the client cannot start with
package config
