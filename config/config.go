// Package config loads the settings of the mailstore tools from a yaml file and MAILSTORE_ environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/ProtonMail/mailstore"
	"github.com/ProtonMail/mailstore/quota"
	"github.com/ProtonMail/mailstore/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const envPrefix = "MAILSTORE"

const (
	BackendBolt   = "bolt"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

const (
	ContentBackend = "backend"
	ContentDisk    = "disk"
	ContentBadger  = "badger"
	ContentMemory  = "memory"
)

type Config struct {
	DataDir string      `mapstructure:"data_dir"`
	Backend string      `mapstructure:"backend"`
	Content string      `mapstructure:"content"`
	Quota   QuotaConfig `mapstructure:"quota"`
	Log     LogConfig   `mapstructure:"log"`

	// ContentCompression compresses the files of the disk content store.
	ContentCompression string `mapstructure:"content_compression"`

	// Passphrase encrypts the disk and badger content stores.
	Passphrase string `mapstructure:"passphrase"`
}

type QuotaConfig struct {
	Component string `mapstructure:"component"`
	Scope     string `mapstructure:"scope"`
	Strategy  string `mapstructure:"strategy"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// SQL logs every sqlite transaction.
	SQL bool `mapstructure:"sql"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "mailstore")
	v.SetDefault("backend", BackendBolt)
	v.SetDefault("content", ContentBackend)
	v.SetDefault("content_compression", store.CompressionNone)
	v.SetDefault("passphrase", "")
	v.SetDefault("quota.component", "mail")
	v.SetDefault("quota.scope", quota.ScopeUser.String())
	v.SetDefault("quota.strategy", quota.StrategyDiff.String())
	v.SetDefault("log.level", logrus.InfoLevel.String())
	v.SetDefault("log.sql", false)
}

// Load reads the configuration file at path, if any, on top of the defaults. Environment variables such as
// MAILSTORE_DATA_DIR or MAILSTORE_QUOTA_STRATEGY override both.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.Backend {
	case BackendBolt, BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	switch cfg.Content {
	case ContentBackend, ContentMemory:
	case ContentDisk, ContentBadger:
		if cfg.Passphrase == "" {
			return fmt.Errorf("content store %q needs a passphrase", cfg.Content)
		}
	default:
		return fmt.Errorf("unknown content store %q", cfg.Content)
	}

	cmp, err := store.NewCompressor(cfg.ContentCompression)
	if err != nil {
		return err
	}

	if cmp != nil && cfg.Content != ContentDisk {
		return fmt.Errorf("content compression needs the %q content store", ContentDisk)
	}

	if _, err := quota.ParseScope(cfg.Quota.Scope); err != nil {
		return err
	}

	if _, err := quota.ParseStrategy(cfg.Quota.Strategy); err != nil {
		return err
	}

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}

	return nil
}

// LogLevel returns the configured log level. Load has already validated it.
func (cfg *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}

	return level
}

// Options turns the configuration into options for mailstore.New.
func (cfg *Config) Options() ([]mailstore.Option, error) {
	opts := []mailstore.Option{mailstore.WithDataDir(cfg.DataDir)}

	switch cfg.Backend {
	case BackendBadger:
		opts = append(opts, mailstore.WithWideColumnBackend())

	case BackendSQLite:
		opts = append(opts, mailstore.WithSQLiteBackend(cfg.Log.SQL))

	default:
		opts = append(opts, mailstore.WithColumnFamilyBackend())
	}

	switch cfg.Content {
	case ContentDisk:
		var diskOpts []store.Option

		cmp, err := store.NewCompressor(cfg.ContentCompression)
		if err != nil {
			return nil, err
		}

		if cmp != nil {
			diskOpts = append(diskOpts, store.WithCompressor(cmp))
		}

		opts = append(opts, mailstore.WithContentStore(store.NewOnDiskStoreBuilder(diskOpts...)))

	case ContentBadger:
		opts = append(opts, mailstore.WithContentStore(&store.BadgerStoreBuilder{}))

	case ContentMemory:
		opts = append(opts, mailstore.WithContentStore(&store.InMemoryStoreBuilder{}))
	}

	if cfg.Passphrase != "" {
		opts = append(opts, mailstore.WithPassphrase([]byte(cfg.Passphrase)))
	}

	scope, err := quota.ParseScope(cfg.Quota.Scope)
	if err != nil {
		return nil, err
	}

	opts = append(opts, mailstore.WithQuotaRootResolver(quota.NewRootResolver(cfg.Quota.Component, scope)))

	strategy, err := quota.ParseStrategy(cfg.Quota.Strategy)
	if err != nil {
		return nil, err
	}

	return append(opts, mailstore.WithQuotaStrategy(strategy)), nil
}
