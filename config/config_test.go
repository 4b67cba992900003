package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/fxn/api"
	"github.com/wippyai/fxn/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, api.DefaultURL, cfg.URL)
	assert.Equal(t, DefaultDataURLLimit, cfg.DataURLLimit)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, api.AccelerationAuto, cfg.AccelerationValue())
	assert.NotEmpty(t, cfg.CacheDir)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fxn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
url: https://example.com/v1
access_key: from-file
data_url_limit: 1024
timeout: 5s
retries: 2
acceleration: gpu
storage:
  dir: /tmp/uploads
`), 0o600))

	t.Setenv("FXN_ACCESS_KEY", "from-env")
	t.Setenv("FXN_STORAGE_S3_BUCKET", "bucket")
	t.Setenv("FXN_STORAGE_S3_REGION", "eu-west-1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v1", cfg.URL)
	assert.Equal(t, "from-env", cfg.AccessKey)
	assert.Equal(t, 1024, cfg.DataURLLimit)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, api.AccelerationGPU, cfg.AccelerationValue())
	assert.Equal(t, "/tmp/uploads", cfg.Storage.Dir)
	assert.Equal(t, "bucket", cfg.Storage.S3Bucket)

	opts := cfg.APIOptions()
	assert.Equal(t, 2, opts.Retries)
	assert.Equal(t, "from-env", opts.AccessKey)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("FXN_DATA_URL_LIMIT", "-1")
	_, err := Load("")
	assert.True(t, errors.IsKind(err, errors.KindInvalidArgument))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"ok", Config{Acceleration: "cpu"}, true},
		{"bad acceleration", Config{Acceleration: "tpu"}, false},
		{"negative retries", Config{Retries: -1}, false},
		{"bucket without region", Config{Storage: Storage{S3Bucket: "b"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
