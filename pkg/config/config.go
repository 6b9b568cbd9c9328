// Package config provides a reusable loader for a node-graph service's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"nodegraph/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a node-graph service. It mirrors
// the structure of the YAML files under config/.
type Config struct {
	Storage struct {
		Driver                string `mapstructure:"driver" json:"driver"` // "sqlite" or "postgres"
		DSN                   string `mapstructure:"dsn" json:"dsn"`
		PreserveTransient     bool   `mapstructure:"preserve_transient" json:"preserve_transient"`
		NowToleranceMS        int    `mapstructure:"now_tolerance_ms" json:"now_tolerance_ms"`
		MaxLicenseDistance    int    `mapstructure:"max_license_distance" json:"max_license_distance"`
		BusyRetryAttempts     int    `mapstructure:"busy_retry_attempts" json:"busy_retry_attempts"`
		BusyRetryBackoffMS    int    `mapstructure:"busy_retry_backoff_ms" json:"busy_retry_backoff_ms"`
	} `mapstructure:"storage" json:"storage"`

	Blob struct {
		Path         string `mapstructure:"path" json:"path"`
		FragmentSize int    `mapstructure:"fragment_size" json:"fragment_size"`
	} `mapstructure:"blob" json:"blob"`

	Keystore struct {
		Path string `mapstructure:"path" json:"path"`
	} `mapstructure:"keystore" json:"keystore"`

	Audit struct {
		Path string `mapstructure:"path" json:"path"`
	} `mapstructure:"audit" json:"audit"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	applyDefaults(&AppConfig)
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the NODEGRAPH_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("NODEGRAPH_ENV", ""))
}

func applyDefaults(c *Config) {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.MaxLicenseDistance == 0 {
		c.Storage.MaxLicenseDistance = 2
	}
	if c.Storage.BusyRetryAttempts == 0 {
		c.Storage.BusyRetryAttempts = 5
	}
	if c.Storage.BusyRetryBackoffMS == 0 {
		c.Storage.BusyRetryBackoffMS = 50
	}
	if c.Blob.FragmentSize == 0 {
		c.Blob.FragmentSize = 1 << 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
