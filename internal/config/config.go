// Package config loads the VM core's YAML configuration, in the shape
// and with the library the rest of this codebase's config always used:
// viper reading into a mapstructure-tagged struct.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// VMConfig is the on-disk shape of a vmdemo configuration file.
type VMConfig struct {
	FramePool struct {
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"frame_pool"`
	Swap struct {
		DevicePath string `mapstructure:"device_path"`
		SizeBytes  int64  `mapstructure:"size_bytes"`
	} `mapstructure:"swap"`
	PageSize int `mapstructure:"page_size"`
}

// Load reads and unmarshals a YAML config file at path.
func Load(path string) (*VMConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg VMConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}
