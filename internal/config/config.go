// Package config loads hfsbtree CLI settings from a YAML file and
// HFSBTREE_* environment variables.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/alexhholmes/hfsbtree"
)

// Config holds CLI configuration.
type Config struct {
	NodeSize          int    `mapstructure:"node_size"`
	BlockSize         int    `mapstructure:"block_size"`
	MaxKeyLen         int    `mapstructure:"max_key_len"`
	BigKeys           bool   `mapstructure:"big_keys"`
	VariableIndexKeys bool   `mapstructure:"variable_index_keys"`
	CacheSize         int    `mapstructure:"cache_size"`
	ClumpNodes        int    `mapstructure:"clump_nodes"`
	InitialNodes      int    `mapstructure:"initial_nodes"`
	Comparator        string `mapstructure:"comparator"`
	MMap              bool   `mapstructure:"mmap"`
	DirectIO          bool   `mapstructure:"direct_io"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig selects where engine logs go. An empty path logs to stderr.
type LogConfig struct {
	Path       string `mapstructure:"path"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration. With an empty path it looks for
// hfsbtree.yaml in the working directory, $HOME/.hfsbtree and
// /etc/hfsbtree; a missing file means defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hfsbtree")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hfsbtree")
		v.AddConfigPath("/etc/hfsbtree")
	}

	v.SetEnvPrefix("HFSBTREE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_size", hfsbtree.DefaultNodeSize)
	v.SetDefault("block_size", hfsbtree.DefaultBlockSize)
	v.SetDefault("max_key_len", hfsbtree.DefaultMaxKeyLen)
	v.SetDefault("big_keys", true)
	v.SetDefault("variable_index_keys", true)
	v.SetDefault("cache_size", hfsbtree.DefaultCacheSize)
	v.SetDefault("clump_nodes", hfsbtree.DefaultClumpNodes)
	v.SetDefault("initial_nodes", hfsbtree.DefaultInitialNodes)
	v.SetDefault("comparator", "binary")
	v.SetDefault("mmap", false)
	v.SetDefault("direct_io", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 64)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Validate checks values the tree would otherwise reject later with a less
// helpful error.
func (c *Config) Validate() error {
	if c.BlockSize <= 0 || c.BlockSize&(c.BlockSize-1) != 0 {
		return errors.Errorf("block_size %d is not a power of two", c.BlockSize)
	}
	if c.NodeSize < c.BlockSize || c.NodeSize%c.BlockSize != 0 {
		return errors.Errorf("node_size %d is not a multiple of block_size %d", c.NodeSize, c.BlockSize)
	}
	if c.MaxKeyLen <= 0 {
		return errors.Errorf("max_key_len %d must be positive", c.MaxKeyLen)
	}
	if c.CacheSize <= 0 || c.ClumpNodes <= 0 || c.InitialNodes <= 0 {
		return errors.New("cache_size, clump_nodes and initial_nodes must be positive")
	}
	if c.MMap && c.DirectIO {
		return errors.New("mmap and direct_io are mutually exclusive")
	}
	if _, err := hfsbtree.ComparatorByName(c.Comparator); err != nil {
		return err
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// TreeOptions converts the configuration to tree options.
func (c *Config) TreeOptions() []hfsbtree.Option {
	opts := []hfsbtree.Option{
		hfsbtree.WithNodeSize(c.NodeSize),
		hfsbtree.WithBlockSize(c.BlockSize),
		hfsbtree.WithMaxKeyLen(c.MaxKeyLen),
		hfsbtree.WithBigKeys(c.BigKeys),
		hfsbtree.WithVariableIndexKeys(c.VariableIndexKeys),
		hfsbtree.WithCacheSize(c.CacheSize),
		hfsbtree.WithClumpNodes(c.ClumpNodes),
		hfsbtree.WithInitialNodes(c.InitialNodes),
	}
	if c.MMap {
		opts = append(opts, hfsbtree.WithMMap())
	}
	if c.DirectIO {
		opts = append(opts, hfsbtree.WithDirectIO())
	}
	return opts
}
