package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/driftsync/drift/internal/blob"
	"github.com/driftsync/drift/internal/mirror"
	"github.com/driftsync/drift/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultDataDir     = filepath.Join(home, ".drift")
	DefaultConfigPath  = filepath.Join(home, ".drift", "config.yaml")
	DefaultLogFilePath = filepath.Join(home, ".drift", "logs", "drift.log")
)

type Config struct {
	DataDir string   `mapstructure:"data_dir"`
	Roots   []string `mapstructure:"roots"`
	Prefix  string   `mapstructure:"prefix"`

	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	SessionToken  string `mapstructure:"session_token"`
	Endpoint      string `mapstructure:"endpoint"`
	UseAccelerate bool   `mapstructure:"use_accelerate"`

	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RetryLimit    int           `mapstructure:"retry_limit"`
	Debounce      time.Duration `mapstructure:"debounce"`
	ScanInterval  time.Duration `mapstructure:"scan_interval"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	DeleteRemote  bool          `mapstructure:"delete_remote"`
	Exclude       []string      `mapstructure:"exclude"`

	Path string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("roots", []string{})
	v.SetDefault("prefix", "")
	v.SetDefault("bucket", "")
	v.SetDefault("region", "us-east-1")
	v.SetDefault("access_key", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("session_token", "")
	v.SetDefault("endpoint", "")
	v.SetDefault("use_accelerate", false)
	v.SetDefault("max_concurrent", mirror.DefaultMaxConcurrent)
	v.SetDefault("retry_limit", mirror.DefaultRetryLimit)
	v.SetDefault("debounce", mirror.DefaultDebounce)
	v.SetDefault("scan_interval", mirror.DefaultScanInterval)
	v.SetDefault("shutdown_grace", mirror.DefaultShutdownGrace)
	v.SetDefault("delete_remote", false)
	v.SetDefault("exclude", []string{})
}

// Load reads the config file at path, layering DRIFT_* environment
// variables over it. A missing file is fine, defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("DRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config parse '%s': %w", path, err)
	}
	cfg.Path = path

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("config data_dir: %w", err)
	}
	c.DataDir = dataDir

	for i, root := range c.Roots {
		resolved, err := utils.ResolvePath(root)
		if err != nil {
			return fmt.Errorf("config root '%s': %w", root, err)
		}
		c.Roots[i] = resolved
	}

	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), "/")
	return nil
}

func (c *Config) Validate() error {
	if len(c.Roots) == 0 {
		return errors.New("config: at least one root folder is required")
	}
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if c.MaxConcurrent <= 0 {
		return errors.New("config: max_concurrent must be positive")
	}
	if c.RetryLimit <= 0 {
		return errors.New("config: retry_limit must be positive")
	}

	// nested roots would mirror the same file under two keys
	for i, outer := range c.Roots {
		for j, inner := range c.Roots {
			if i == j {
				continue
			}
			if outer == inner {
				return fmt.Errorf("config: root '%s' is listed twice", outer)
			}
			if strings.HasPrefix(inner, outer+string(filepath.Separator)) {
				return fmt.Errorf("config: root '%s' contains root '%s'", outer, inner)
			}
		}
	}
	return nil
}

// S3 shapes the store credentials for the blob client.
func (c *Config) S3() *blob.S3Config {
	return &blob.S3Config{
		BucketName:    c.Bucket,
		Region:        c.Region,
		AccessKey:     c.AccessKey,
		SecretKey:     c.SecretKey,
		SessionToken:  c.SessionToken,
		Endpoint:      c.Endpoint,
		UseAccelerate: c.UseAccelerate,
	}
}
