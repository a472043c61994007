// Package config loads and validates the application settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration. The sync core consumes it
// read-only.
type Config struct {
	// DatabasePath is the local SQLite file.
	DatabasePath string `mapstructure:"database_path" validate:"required"`
	// CacheDir is the local blob cache directory.
	CacheDir string `mapstructure:"cache_dir" validate:"required"`
	// SyncIntervalSeconds is the background push interval.
	SyncIntervalSeconds int `mapstructure:"sync_interval_seconds" validate:"min=1"`

	DocumentStore DocumentStoreConfig `mapstructure:"document_store"`
	BlobStore     BlobStoreConfig     `mapstructure:"blob_store"`
	Network       NetworkConfig       `mapstructure:"network"`
	Bootstrap     BootstrapConfig     `mapstructure:"bootstrap"`
}

// DocumentStoreConfig holds remote document store settings.
type DocumentStoreConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"min=1"`
}

// BlobStoreConfig holds remote blob store (FTP) settings.
type BlobStoreConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port" validate:"min=0,max=65535"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	RemoteDir      string `mapstructure:"remote_dir"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"min=1"`
}

// NetworkConfig holds connectivity probe settings.
type NetworkConfig struct {
	ProbeAddr           string `mapstructure:"probe_addr"`
	ProbeTimeoutSeconds int    `mapstructure:"probe_timeout_seconds" validate:"min=1"`
}

// BootstrapConfig names the administrator created on a completely empty
// local store.
type BootstrapConfig struct {
	AdminHandle string `mapstructure:"admin_handle"`
	AdminSecret string `mapstructure:"admin_secret"`
}

// SyncInterval returns the background sync interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// Timeout returns the document store request timeout.
func (d *DocumentStoreConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Timeout returns the blob store transfer timeout.
func (b *BlobStoreConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ProbeTimeout returns the connectivity probe timeout.
func (n *NetworkConfig) ProbeTimeout() time.Duration {
	return time.Duration(n.ProbeTimeoutSeconds) * time.Second
}

// DocumentStoreConfigured reports whether a remote document store endpoint
// is present. Without one the app runs purely offline.
func (c *Config) DocumentStoreConfigured() bool {
	return c.DocumentStore.Endpoint != ""
}

// BlobStoreConfigured reports whether remote blob store credentials are
// present.
func (c *Config) BlobStoreConfigured() bool {
	return c.BlobStore.Host != "" && c.BlobStore.Username != ""
}

// DefaultConfig returns a Config with sensible defaults rooted in the
// user's home directory.
func DefaultConfig() *Config {
	base := dataDir()
	return &Config{
		DatabasePath:        filepath.Join(base, "data", "fides.db"),
		CacheDir:            filepath.Join(base, "image_cache"),
		SyncIntervalSeconds: 30,
		DocumentStore: DocumentStoreConfig{
			TimeoutSeconds: 15,
		},
		BlobStore: BlobStoreConfig{
			Port:           21,
			RemoteDir:      "/fides/articles/images",
			TimeoutSeconds: 30,
		},
		Network: NetworkConfig{
			ProbeAddr:           "8.8.8.8:53",
			ProbeTimeoutSeconds: 3,
		},
	}
}

// Load reads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("database_path", defaults.DatabasePath)
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("sync_interval_seconds", defaults.SyncIntervalSeconds)
	v.SetDefault("document_store.timeout_seconds", defaults.DocumentStore.TimeoutSeconds)
	v.SetDefault("blob_store.port", defaults.BlobStore.Port)
	v.SetDefault("blob_store.remote_dir", defaults.BlobStore.RemoteDir)
	v.SetDefault("blob_store.timeout_seconds", defaults.BlobStore.TimeoutSeconds)
	v.SetDefault("network.probe_addr", defaults.Network.ProbeAddr)
	v.SetDefault("network.probe_timeout_seconds", defaults.Network.ProbeTimeoutSeconds)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(dataDir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("FIDES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults plus environment cover it.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Secrets may reference environment variables.
	cfg.DocumentStore.APIKey = os.ExpandEnv(cfg.DocumentStore.APIKey)
	cfg.BlobStore.Password = os.ExpandEnv(cfg.BlobStore.Password)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// dataDir returns the writable per-user application directory.
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fides"
	}
	return filepath.Join(home, ".fides")
}
