// Package config loads client configuration from a file and FXN_* environment
// variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/errors"
)

// DefaultDataURLLimit is the largest payload sent inline as a data: URL.
const DefaultDataURLLimit = 4096

// Storage configures where large payloads go.
type Storage struct {
	Dir      string `mapstructure:"dir"`
	BaseURL  string `mapstructure:"base_url"`
	S3Bucket string `mapstructure:"s3_bucket"`
	S3Region string `mapstructure:"s3_region"`
	S3Prefix string `mapstructure:"s3_prefix"`
}

// Config holds client configuration.
type Config struct {
	URL          string        `mapstructure:"url"`
	AccessKey    string        `mapstructure:"access_key"`
	CacheDir     string        `mapstructure:"cache_dir"`
	DataURLLimit int           `mapstructure:"data_url_limit"`
	Acceleration string        `mapstructure:"acceleration"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	StatsdAddr   string        `mapstructure:"statsd_addr"`
	Storage      Storage       `mapstructure:"storage"`
}

var envBindings = map[string]string{
	"url":               "FXN_URL",
	"access_key":        "FXN_ACCESS_KEY",
	"cache_dir":         "FXN_CACHE_DIR",
	"data_url_limit":    "FXN_DATA_URL_LIMIT",
	"acceleration":      "FXN_ACCELERATION",
	"timeout":           "FXN_TIMEOUT",
	"retries":           "FXN_RETRIES",
	"statsd_addr":       "FXN_STATSD_ADDR",
	"storage.dir":       "FXN_STORAGE_DIR",
	"storage.base_url":  "FXN_STORAGE_BASE_URL",
	"storage.s3_bucket": "FXN_STORAGE_S3_BUCKET",
	"storage.s3_region": "FXN_STORAGE_S3_REGION",
	"storage.s3_prefix": "FXN_STORAGE_S3_PREFIX",
}

// Load reads configuration from path, if not empty, then applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("url", api.DefaultURL)
	v.SetDefault("data_url_limit", DefaultDataURLLimit)
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("acceleration", "auto")
	v.SetDefault("cache_dir", DefaultCacheDir())

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "bind "+env)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "read config "+path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	if c.DataURLLimit < 0 {
		return errors.InvalidArgument(errors.PhaseConfig, "data_url_limit must not be negative")
	}
	if c.Timeout < 0 {
		return errors.InvalidArgument(errors.PhaseConfig, "timeout must not be negative")
	}
	if c.Retries < 0 {
		return errors.InvalidArgument(errors.PhaseConfig, "retries must not be negative")
	}
	if _, err := api.ParseAcceleration(c.Acceleration); err != nil {
		return err
	}
	if c.Storage.S3Bucket != "" && c.Storage.S3Region == "" {
		return errors.InvalidArgument(errors.PhaseConfig, "storage.s3_region is required with storage.s3_bucket")
	}
	return nil
}

// AccelerationValue returns the parsed acceleration setting.
func (c *Config) AccelerationValue() api.Acceleration {
	a, _ := api.ParseAcceleration(c.Acceleration)
	return a
}

// APIOptions returns client options for the remote endpoint.
func (c *Config) APIOptions() api.Options {
	return api.Options{
		URL:       c.URL,
		AccessKey: c.AccessKey,
		Timeout:   c.Timeout,
		Retries:   c.Retries,
	}
}

// DefaultCacheDir returns the per-user resource cache directory, falling back
// to the temp directory when the user cache directory is unknown.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "fxn", "resources")
}
