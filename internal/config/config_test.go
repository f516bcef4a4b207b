package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Empty(t, cfg.Roots)
	assert.Equal(t, 100, cfg.MaxConcurrent)
	assert.Equal(t, 3, cfg.RetryLimit)
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 15*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.False(t, cfg.DeleteRemote)
}

func TestLoadYAML(t *testing.T) {
	content := `
data_dir: /var/lib/drift
roots:
  - /srv/docs
  - /srv/media
prefix: /machines/nas/
bucket: backups
region: eu-west-1
access_key: AKIATEST
secret_key: sekrit
endpoint: http://localhost:9000
max_concurrent: 16
retry_limit: 5
debounce: 150ms
scan_interval: 5m
shutdown_grace: 30s
delete_remote: true
exclude:
  - "**/*.iso"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/drift", cfg.DataDir)
	assert.Equal(t, []string{"/srv/docs", "/srv/media"}, cfg.Roots)
	assert.Equal(t, "machines/nas", cfg.Prefix, "prefix slashes are trimmed")
	assert.Equal(t, "backups", cfg.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "http://localhost:9000", cfg.Endpoint)
	assert.Equal(t, 16, cfg.MaxConcurrent)
	assert.Equal(t, 5, cfg.RetryLimit)
	assert.Equal(t, 150*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace)
	assert.True(t, cfg.DeleteRemote)
	assert.Equal(t, []string{"**/*.iso"}, cfg.Exclude)
	assert.Equal(t, path, cfg.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	content := `
bucket: from-file
retry_limit: 3
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("DRIFT_BUCKET", "from-env")
	t.Setenv("DRIFT_MAX_CONCURRENT", "7")
	t.Setenv("DRIFT_DEBOUNCE", "450ms")
	t.Setenv("DRIFT_DELETE_REMOTE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Bucket)
	assert.Equal(t, 7, cfg.MaxConcurrent)
	assert.Equal(t, 450*time.Millisecond, cfg.Debounce)
	assert.True(t, cfg.DeleteRemote)
	assert.Equal(t, 3, cfg.RetryLimit, "file values without env overrides stay")
}

func TestLoadExpandsHome(t *testing.T) {
	content := `
data_dir: ~/.drift
roots:
  - ~/Documents
bucket: b
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".drift"), cfg.DataDir)
	assert.Equal(t, filepath.Join(home, "Documents"), cfg.Roots[0])
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Roots:         []string{"/srv/docs"},
			Bucket:        "b",
			MaxConcurrent: 4,
			RetryLimit:    3,
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Roots = nil
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Bucket = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.RetryLimit = -1
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Roots = []string{"/srv/docs", "/srv/docs"}
	assert.Error(t, cfg.Validate(), "duplicate roots")

	cfg = valid()
	cfg.Roots = []string{"/srv", "/srv/docs"}
	assert.Error(t, cfg.Validate(), "nested roots")

	cfg = valid()
	cfg.Roots = []string{"/srv/docs", "/srv/docs-archive"}
	assert.NoError(t, cfg.Validate(), "a shared name prefix is not nesting")
}

func TestS3View(t *testing.T) {
	cfg := &Config{
		Bucket:        "b",
		Region:        "r",
		AccessKey:     "ak",
		SecretKey:     "sk",
		Endpoint:      "http://e",
		UseAccelerate: true,
	}

	s3 := cfg.S3()
	assert.Equal(t, "b", s3.BucketName)
	assert.Equal(t, "r", s3.Region)
	assert.Equal(t, "ak", s3.AccessKey)
	assert.Equal(t, "sk", s3.SecretKey)
	assert.Equal(t, "http://e", s3.Endpoint)
	assert.True(t, s3.UseAccelerate)
}

func TestSaveTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	require.NoError(t, SaveTemplate(path))
	assert.FileExists(t, path)

	// never clobber an existing config
	assert.Error(t, SaveTemplate(path))

	// the template must parse
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxConcurrent)
	assert.Equal(t, 300*time.Millisecond, cfg.Debounce)
	assert.Len(t, cfg.Roots, 1)
}
