package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/calculator"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr       = "127.0.0.1:8545"
	DefaultMetricsAddr      = "127.0.0.1:9100"
	DefaultFeeBps           = 30
	DefaultShareSeed        = "amount_a"
	DefaultBusyPolicy       = "queue"
	DefaultJournalDir       = "data/journal"
	DefaultStreamBufferSize = 64
	DefaultPublishTimeout   = 2 * time.Second
	DefaultRateDecimals     = 18
)

// ServerConfig is the poold configuration file.
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	// CORSOrigins is passed to the websocket handler. Empty means same origin only.
	CORSOrigins []string `yaml:"cors_origins"`

	FeeBps     uint16 `yaml:"fee_bps"`
	ShareSeed  string `yaml:"share_seed"`
	BusyPolicy string `yaml:"busy_policy"`
	// Pools are registered at startup unless the journal already knows them.
	Pools []uint64 `yaml:"pools"`

	JournalDir  string `yaml:"journal_dir"`
	JournalSync bool   `yaml:"journal_sync"`

	StreamBufferSize int           `yaml:"stream_buffer_size"`
	PublishTimeout   time.Duration `yaml:"publish_timeout"`

	// RateDecimals scales the exchange rates reported by amm_getPoolState.
	RateDecimals uint8  `yaml:"rate_decimals"`
	LogLevel     string `yaml:"log_level"`
}

// Default returns a configuration that serves a single pool.
func Default() *ServerConfig {
	return &ServerConfig{
		ListenAddr:       DefaultListenAddr,
		MetricsAddr:      DefaultMetricsAddr,
		FeeBps:           DefaultFeeBps,
		ShareSeed:        DefaultShareSeed,
		BusyPolicy:       DefaultBusyPolicy,
		Pools:            []uint64{1},
		JournalDir:       DefaultJournalDir,
		StreamBufferSize: DefaultStreamBufferSize,
		PublishTimeout:   DefaultPublishTimeout,
		RateDecimals:     DefaultRateDecimals,
		LogLevel:         "info",
	}
}

// LoadConfig reads path over the defaults and validates the result.
func LoadConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*ServerConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if c.FeeBps >= calculator.BasisPoints {
		return fmt.Errorf("config: fee_bps must be below %d, got %d", calculator.BasisPoints, c.FeeBps)
	}
	if _, err := calculator.SeedByName(c.ShareSeed); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := pool.ParseBusyPolicy(c.BusyPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.JournalDir == "" {
		return errors.New("config: journal_dir is required")
	}
	if c.StreamBufferSize < 1 {
		return errors.New("config: stream_buffer_size must be greater than 0")
	}
	if c.PublishTimeout <= 0 {
		return errors.New("config: publish_timeout must be positive")
	}
	if c.RateDecimals == 0 || c.RateDecimals > calculator.MaxDecimals {
		return fmt.Errorf("config: rate_decimals must be within 1..%d, got %d", calculator.MaxDecimals, c.RateDecimals)
	}
	seen := make(map[uint64]struct{}, len(c.Pools))
	for _, id := range c.Pools {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: pool %d listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
