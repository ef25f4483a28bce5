package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the payload sent by every benchmark transaction
type Mode string

const (
	ModeTransfer      Mode = "TRANSFER"
	ModeERC20Transfer Mode = "ERC20_TRANSFER"
)

// Config holds all configuration for a benchmark run
type Config struct {
	// Node endpoints; accounts are sharded across them by index
	URLs []string `yaml:"urls"`

	// Funding account
	PrivateKey  string `yaml:"private_key"`
	Mnemonic    string `yaml:"mnemonic"`
	SkipFunding bool   `yaml:"skip_funding"`
	FundBuffer  int    `yaml:"fund_buffer"` // extra percent on top of the batch cost

	// Accounts and load
	Prefix       string `yaml:"prefix"`
	SubAccounts  uint64 `yaml:"sub_accounts"`
	TxPerAccount uint64 `yaml:"tx_per_account"`
	Workers      int    `yaml:"workers"`

	// Payload
	Mode     string `yaml:"mode"`
	Contract string `yaml:"contract"`
	GasLimit uint64 `yaml:"gas_limit"`
	GasPrice string `yaml:"gas_price"`

	// Interior submission
	BatchSize     int     `yaml:"batch_size"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	RateLimit     float64 `yaml:"rate_limit"`

	// Boundary (head/tail) tracking
	BoundaryRetries int           `yaml:"boundary_retries"`
	RetryInitial    time.Duration `yaml:"retry_initial"`
	RetryMax        time.Duration `yaml:"retry_max"`
	BoundaryTimeout time.Duration `yaml:"boundary_timeout"` // per inclusion or finality wait
	PollInterval    time.Duration `yaml:"poll_interval"`

	// Report
	Stat         bool   `yaml:"stat"`
	FinalityStat bool   `yaml:"finality_stat"`
	MaxDepth     int    `yaml:"max_depth"`
	OutputDir    string `yaml:"output_dir"`

	// Advanced
	Timeout time.Duration `yaml:"timeout"`
	Verbose bool          `yaml:"verbose"`

	// Prometheus metrics
	MetricsEnabled bool `yaml:"metrics"`
	MetricsPort    int  `yaml:"metrics_port"`
}

var (
	httpRegex    = regexp.MustCompile(`^https?://`)
	wsRegex      = regexp.MustCompile(`^wss?://`)
	hexKeyRegex  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		Prefix:          "bench",
		FundBuffer:      20,
		SubAccounts:     10,
		TxPerAccount:    100,
		Mode:            string(ModeTransfer),
		GasLimit:        21000,
		BatchSize:       100,
		MaxConcurrent:   10,
		BoundaryRetries: 5,
		RetryInitial:    500 * time.Millisecond,
		RetryMax:        10 * time.Second,
		BoundaryTimeout: 2 * time.Minute,
		PollInterval:    500 * time.Millisecond,
		Stat:            true,
		MaxDepth:        10000,
		Timeout:         10 * time.Minute,
		MetricsPort:     9090,
	}
}

// Load reads a YAML config file on top of the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate validates the configuration and fills unset values
func (c *Config) Validate() error {
	// Validate URLs
	if len(c.URLs) == 0 {
		return errors.New("at least one url is required")
	}
	for _, u := range c.URLs {
		if !httpRegex.MatchString(u) && !wsRegex.MatchString(u) {
			return fmt.Errorf("url %q must be a valid HTTP or WebSocket URL", u)
		}
	}

	// Validate funder credentials (not required when funding is skipped)
	if !c.SkipFunding {
		if c.PrivateKey == "" && c.Mnemonic == "" {
			return errors.New("either private-key or mnemonic is required")
		}
		if c.PrivateKey != "" && !hexKeyRegex.MatchString(c.PrivateKey) {
			return errors.New("private-key must be a valid 64-character hex string with 0x prefix")
		}
	}

	switch c.GetMode() {
	case ModeTransfer:
	case ModeERC20Transfer:
		if !addressRegex.MatchString(c.Contract) {
			return errors.New("contract must be a valid 40-character hex address with 0x prefix for ERC20_TRANSFER mode")
		}
	default:
		return errors.New("invalid mode: must be TRANSFER or ERC20_TRANSFER")
	}

	if c.SubAccounts == 0 {
		return errors.New("sub-accounts must be greater than 0")
	}
	if c.TxPerAccount == 0 {
		return errors.New("tx-per-account must be greater than 0")
	}
	if c.RateLimit < 0 {
		return errors.New("rate-limit must not be negative")
	}
	if c.MaxDepth < 0 {
		return errors.New("max-depth must not be negative")
	}
	if c.FundBuffer < 0 {
		return errors.New("fund-buffer must not be negative")
	}
	if _, err := c.GasPriceWei(); err != nil {
		return err
	}

	if c.Prefix == "" {
		c.Prefix = "bench"
	}
	if c.Workers <= 0 {
		c.Workers = int(c.SubAccounts)
	}
	if c.GasLimit == 0 {
		if c.GetMode() == ModeERC20Transfer {
			c.GasLimit = 65000
		} else {
			c.GasLimit = 21000
		}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.BoundaryRetries <= 0 {
		c.BoundaryRetries = 5
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = 20 * c.RetryInitial
	}
	if c.BoundaryTimeout <= 0 {
		c.BoundaryTimeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 10000
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Minute
	}
	if c.MetricsEnabled && c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}

	return nil
}

// GetMode returns the parsed mode
func (c *Config) GetMode() Mode {
	return Mode(strings.ToUpper(c.Mode))
}

// IsWebSocket returns true if the URL at index is a WebSocket URL
func (c *Config) IsWebSocket(index int) bool {
	if index < 0 || index >= len(c.URLs) {
		return false
	}
	return wsRegex.MatchString(c.URLs[index])
}

// Endpoint returns the URL serving account index, sharded by modulo
func (c *Config) Endpoint(account int) string {
	return c.URLs[account%len(c.URLs)]
}

// SenderPrefix is the key prefix of the accounts that send the benchmark batches
func (c *Config) SenderPrefix() string {
	return c.Prefix + "-sender"
}

// ReceiverPrefix is the key prefix of the accounts the benchmark transfers go to
func (c *Config) ReceiverPrefix() string {
	return c.Prefix + "-receiver"
}

// GasPriceWei parses GasPrice as a decimal wei amount. It returns nil when unset.
func (c *Config) GasPriceWei() (*big.Int, error) {
	if c.GasPrice == "" {
		return nil, nil
	}
	price, ok := new(big.Int).SetString(c.GasPrice, 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("gas-price %q must be a positive integer amount of wei", c.GasPrice)
	}
	return price, nil
}
