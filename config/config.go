// Package config loads and validates backtest run configuration from YAML
// or JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents one complete backtest configuration.
type Config struct {
	Data     DataConfig     `json:"data" yaml:"data"`
	Broker   BrokerConfig   `json:"broker" yaml:"broker"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
}

// DataConfig locates the bar file to replay.
type DataConfig struct {
	File string `json:"file" yaml:"file"`
}

// BrokerConfig contains the account and matching parameters.
type BrokerConfig struct {
	Cash            float64 `json:"cash" yaml:"cash"`
	Commission      float64 `json:"commission" yaml:"commission"`
	Margin          float64 `json:"margin" yaml:"margin"`
	TradeOnClose    bool    `json:"trade_on_close" yaml:"trade_on_close"`
	Hedging         bool    `json:"hedging" yaml:"hedging"`
	ExclusiveOrders bool    `json:"exclusive_orders" yaml:"exclusive_orders"`
}

// StrategyConfig names the registered strategy and its parameters.
type StrategyConfig struct {
	Name   string             `json:"name" yaml:"name"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// JournalConfig selects where run output is persisted.
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "none", "csv" or "sqlite"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration as YAML (.yaml/.yml) or JSON.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks all bounds before any simulation state is built.
func (c *Config) Validate() error {
	if c.Data.File == "" {
		return fmt.Errorf("data.file is required")
	}
	if c.Broker.Cash <= 0 {
		return fmt.Errorf("broker.cash must be positive")
	}
	if c.Broker.Commission < -0.1 || c.Broker.Commission >= 0.1 {
		return fmt.Errorf("broker.commission must be in [-0.1, 0.1)")
	}
	if c.Broker.Margin <= 0 || c.Broker.Margin > 1 {
		return fmt.Errorf("broker.margin must be in (0, 1]")
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv' or 'sqlite'")
	}
	return nil
}

// Default returns a configuration with the standard defaults.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Cash:   10000,
			Margin: 1,
		},
		Strategy: StrategyConfig{
			Name: "sma-cross",
		},
		Journal: JournalConfig{
			Type: "none",
		},
	}
}
