// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Output   OutputConfig   `yaml:"output"`
	Gain     GainConfig     `yaml:"gain"`
	Volume   VolumeConfig   `yaml:"volume"`
	Network  NetworkConfig  `yaml:"network"`
	Log      LogConfig      `yaml:"log"`
	Hooks    HooksConfig    `yaml:"hooks"`
}

// PipelineConfig represents pipeline and streaming configuration.
type PipelineConfig struct {
	FragmentSize     int    `yaml:"fragment_size" default:"131072" validate:"gte=1024,lte=4194304"`
	QueueCapacity    int    `yaml:"queue_capacity" default:"1000" validate:"gte=1,lte=100000"`
	PushMaxBytes     int    `yaml:"push_max_bytes" default:"512000" validate:"gte=1024"`
	ResetTimeoutMs   int    `yaml:"reset_timeout_ms" default:"300" validate:"gte=0,lte=10000"`
	DestroyTimeoutMs int    `yaml:"destroy_timeout_ms" default:"200" validate:"gte=0,lte=10000"`
	ConvertStages    *bool  `yaml:"convert_stages" default:"true"`
	DumpDir          string `yaml:"dump_dir"`
}

// OutputConfig selects the audio output and its backend settings.
type OutputConfig struct {
	Type     string         `yaml:"type" default:"oto" validate:"oneof=oto discard"`
	Settings map[string]any `yaml:"settings"`
}

// GainConfig represents hardware mixer configuration.
type GainConfig struct {
	Sink SinkConfig `yaml:"sink"`
}

// SinkConfig selects the gain-command sink.
type SinkConfig struct {
	Type     string         `yaml:"type" default:"none" validate:"oneof=none param_file"`
	Settings map[string]any `yaml:"settings"`
}

// VolumeConfig represents the initial logical volumes.
type VolumeConfig struct {
	DefaultPrimary int `yaml:"default_primary" default:"100" validate:"gte=0,lte=100"`
	DefaultPlayer  int `yaml:"default_player" default:"100" validate:"gte=0,lte=100"`
	MaxPrimary     int `yaml:"max_primary" default:"100" validate:"gte=0,lte=100"`
}

// NetworkConfig represents WebSocket source configuration.
type NetworkConfig struct {
	Origin        string `yaml:"origin" default:"http://localhost/" validate:"url"`
	DialTimeoutMs int    `yaml:"dial_timeout_ms" default:"5000" validate:"gte=100,lte=60000"`
	HTTPTimeoutMs int    `yaml:"http_timeout_ms" default:"10000" validate:"gte=100,lte=120000"`
}

// LogConfig represents logging configuration. Command-line flags win.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output string `yaml:"output" default:"stdout"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted  []string `yaml:"on_started"`
	OnFinished []string `yaml:"on_finished"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return parse(data)
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return parse(nil)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SAP_OUTPUT_TYPE"); v != "" {
		c.Output.Type = v
	}
	if v := os.Getenv("SAP_GAIN_PARAM_FILE"); v != "" {
		c.Gain.Sink.Type = "param_file"
		if c.Gain.Sink.Settings == nil {
			c.Gain.Sink.Settings = map[string]any{}
		}
		c.Gain.Sink.Settings["path"] = v
	}
	if v := os.Getenv("SAP_DUMP_DIR"); v != "" {
		c.Pipeline.DumpDir = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Volume.DefaultPrimary > c.Volume.MaxPrimary {
		return errors.Newf("volume.default_primary (%d) must not exceed volume.max_primary (%d)",
			c.Volume.DefaultPrimary, c.Volume.MaxPrimary)
	}
	if c.Pipeline.DumpDir != "" {
		st, err := os.Stat(c.Pipeline.DumpDir)
		if err != nil {
			return errors.Wrap(err, "pipeline.dump_dir")
		}
		if !st.IsDir() {
			return errors.Newf("pipeline.dump_dir (%s) is not a directory", c.Pipeline.DumpDir)
		}
	}

	return nil
}

// ConvertEnabled reports whether raw PCM topologies get convert stages.
func (c *Config) ConvertEnabled() bool {
	return c.Pipeline.ConvertStages == nil || *c.Pipeline.ConvertStages
}

// ResetTimeout returns the reset wait as a duration.
func (c *Config) ResetTimeout() time.Duration {
	return time.Duration(c.Pipeline.ResetTimeoutMs) * time.Millisecond
}

// DestroyTimeout returns the destroy wait as a duration.
func (c *Config) DestroyTimeout() time.Duration {
	return time.Duration(c.Pipeline.DestroyTimeoutMs) * time.Millisecond
}

// DialTimeout returns the WebSocket dial timeout as a duration.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Network.DialTimeoutMs) * time.Millisecond
}

// HTTPTimeout returns the http source header timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Network.HTTPTimeoutMs) * time.Millisecond
}
