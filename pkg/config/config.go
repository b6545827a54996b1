// Package config loads the dataset build configuration from a YAML file and
// RLDS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gwillem/lerobot-rlds/pkg/builder"
	"github.com/gwillem/lerobot-rlds/pkg/dataset"
	"github.com/gwillem/lerobot-rlds/pkg/embed"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
)

const (
	DefaultFile = "rlds.yaml"
	EnvPrefix   = "RLDS"
)

// Config is the build configuration.
type Config struct {
	// Name and Version replace the variant's dataset name and version when set.
	Name        string `mapstructure:"name" yaml:"name,omitempty"`
	Version     string `mapstructure:"version" yaml:"version,omitempty"`
	Description string `mapstructure:"description" yaml:"description,omitempty"`

	Variant       string            `mapstructure:"variant" yaml:"variant"`
	Instruction   string            `mapstructure:"instruction" yaml:"instruction"`
	Resize        bool              `mapstructure:"resize" yaml:"resize"`
	Workers       int               `mapstructure:"workers" yaml:"workers"`
	ShardEpisodes int               `mapstructure:"shard_episodes" yaml:"shard_episodes"`
	OutDir        string            `mapstructure:"out_dir" yaml:"out_dir"`
	Catalog       string            `mapstructure:"catalog" yaml:"catalog,omitempty"`
	MetricsFile   string            `mapstructure:"metrics_file" yaml:"metrics_file,omitempty"`
	Splits        map[string]string `mapstructure:"splits" yaml:"splits,omitempty"`

	Embedding embed.Config `mapstructure:"embedding" yaml:"embedding"`
	Overrides Overrides    `mapstructure:"overrides" yaml:"overrides,omitempty"`
}

// Overrides replaces constants of the selected variant. Zero values keep the
// variant's own.
type Overrides struct {
	ImageHeight   int    `mapstructure:"image_height" yaml:"image_height,omitempty"`
	ImageWidth    int    `mapstructure:"image_width" yaml:"image_width,omitempty"`
	ImageEncoding string `mapstructure:"image_encoding" yaml:"image_encoding,omitempty"`
	StateDim      int    `mapstructure:"state_dim" yaml:"state_dim,omitempty"`
	ActionDim     int    `mapstructure:"action_dim" yaml:"action_dim,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Variant:       "example",
		Instruction:   builder.DefaultInstruction,
		Workers:       1,
		ShardEpisodes: dataset.DefaultShardEpisodes,
		OutDir:        "tensorflow_datasets",
		Embedding: embed.Config{
			Provider:   embed.ProviderOpenAI,
			Model:      "text-embedding-3-small",
			Dimensions: schema.DefaultEmbeddingDim,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("name", "")
	v.SetDefault("version", "")
	v.SetDefault("description", "")
	v.SetDefault("variant", d.Variant)
	v.SetDefault("instruction", d.Instruction)
	v.SetDefault("resize", false)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("shard_episodes", d.ShardEpisodes)
	v.SetDefault("out_dir", d.OutDir)
	v.SetDefault("catalog", "")
	v.SetDefault("metrics_file", "")
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
}

// Load reads the config file at path and applies environment overrides such
// as RLDS_WORKERS or RLDS_EMBEDDING_API_KEY (or OPENAI_API_KEY). An empty path reads rlds.yaml
// from the working directory if it exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Fall back to the variable the OpenAI tooling uses.
	if err := v.BindEnv("embedding.api_key", EnvPrefix+"_EMBEDDING_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Schema returns the selected variant with the config's overrides applied.
func (c *Config) Schema() (schema.Variant, error) {
	v, err := schema.Lookup(c.Variant)
	if err != nil {
		return schema.Variant{}, err
	}
	if c.Name != "" {
		v.Name = c.Name
	}
	if c.Version != "" {
		v.Version = c.Version
	}
	if c.Description != "" {
		v.Description = c.Description
	}
	if c.Embedding.Dimensions > 0 {
		v.EmbeddingDim = c.Embedding.Dimensions
	}

	o := c.Overrides
	if o.ImageHeight > 0 {
		v.ImageHeight = o.ImageHeight
	}
	if o.ImageWidth > 0 {
		v.ImageWidth = o.ImageWidth
	}
	if o.ImageEncoding != "" {
		v.ImageEncoding = schema.Encoding(o.ImageEncoding)
	}
	if o.StateDim > 0 {
		v.StateDim = o.StateDim
	}
	if o.ActionDim > 0 {
		v.ActionDim = o.ActionDim
	}

	if len(c.Splits) > 0 {
		v.Splits = c.Splits
	}
	if len(v.Splits) == 0 {
		return schema.Variant{}, errors.New("no splits configured")
	}
	return v, v.Validate()
}
