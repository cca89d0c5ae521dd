package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const DefaultBufferSize = 100

// ClientConfig configures the state stream follower.
type ClientConfig struct {
	StateStreamURL string `yaml:"state_stream_url"`
	BufferSize     uint   `yaml:"buffer_size"`
	// LogEvery logs a summary line every n states. Zero logs each one.
	LogEvery uint64 `yaml:"log_every"`
	// WatchProviders are hex addresses whose positions are logged with each state.
	WatchProviders []string `yaml:"watch_providers"`
}

// LoadConfig reads and validates the YAML file at path.
func LoadConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &ClientConfig{BufferSize: DefaultBufferSize}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.StateStreamURL == "" {
		return errors.New("config: state_stream_url is required")
	}
	if c.BufferSize == 0 {
		return errors.New("config: buffer_size must be greater than 0")
	}
	for _, addr := range c.WatchProviders {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: watch_providers: %q is not a hex address", addr)
		}
	}
	return nil
}
