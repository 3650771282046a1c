// Package config loads the gateway's CLI flags and JSON config file
// (§6 "CLI"). Grounded on the teacher's viper-based Load/Validate shape,
// adapted from YAML+env-var overrides to the spec's plain JSON file and
// two-flag CLI contract, via spf13/pflag for flag parsing.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the top-level gateway configuration, loaded from the file
// named by --config.
type Config struct {
	APIKey string `mapstructure:"apikey"`
	PEM    string `mapstructure:"pem"`
	Local  string `mapstructure:"local"` // bind URL, e.g. "ws://0.0.0.0:8080"
	Margin bool   `mapstructure:"margin"`

	// Level is populated from --level, not the config file.
	Level string `mapstructure:"-"`
}

// Parse reads --config and --level from args and loads the named file.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("xgateway", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to the JSON config file (required)")
	level := fs.String("level", "info", "log level: trace|debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	if *configPath == "" {
		return nil, fmt.Errorf("config: --config is required")
	}

	cfg, err := Load(*configPath)
	if err != nil {
		return nil, err
	}
	cfg.Level = *level
	return cfg, nil
}

// Load reads the JSON config file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks required fields (§7 "Fatal: config load failure").
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: apikey is required")
	}
	if c.PEM == "" {
		return fmt.Errorf("config: pem is required")
	}
	if c.Local == "" {
		return fmt.Errorf("config: local is required")
	}
	return nil
}
