// Package config loads and validates the application configuration from
// YAML, with explicit defaults for everything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/betbot/papertrade/internal/domain"
	"github.com/betbot/papertrade/internal/execution"
	"github.com/betbot/papertrade/internal/risk"
	"github.com/betbot/papertrade/internal/sizing"
	"github.com/betbot/papertrade/internal/strategy"
	"github.com/betbot/papertrade/pkg/logger"
)

// FeedConfig selects the price source.
type FeedConfig struct {
	Mode        string `yaml:"mode"` // "sim" or "live"
	GammaURL    string `yaml:"gammaUrl"`
	WSURL       string `yaml:"wsUrl"`
	MarketLimit int    `yaml:"marketLimit"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PersistenceConfig selects the strategy-state store.
type PersistenceConfig struct {
	Backend string `yaml:"backend"` // "json" or "badger"
	Path    string `yaml:"path"`
}

// MetricsConfig controls the expvar/pprof debug server.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty = disabled
}

// StrategySection is one strategy entry in the config file. Durations use
// the readable form ("5m", 300).
type StrategySection struct {
	ID            string                `yaml:"id"`
	Filter        strategy.MarketFilter `yaml:"filter"`
	OrderType     string                `yaml:"orderType"`
	MinEdge       float64               `yaml:"minEdge"`
	MinConfidence float64               `yaml:"minConfidence"`
	Cooldown      Duration              `yaml:"cooldown"`
	MaxRetries    int                   `yaml:"maxRetries"`
	BarInterval   Duration              `yaml:"barInterval"`
	BarCapacity   int                   `yaml:"barCapacity"`
	Risk          risk.Limits           `yaml:"risk"`
	Sizing        sizing.Config         `yaml:"sizing"`
}

// ToStrategyConfig converts the section into the orchestrator's config.
func (s StrategySection) ToStrategyConfig() strategy.Config {
	return strategy.Config{
		ID:            s.ID,
		Filter:        s.Filter,
		OrderType:     domain.OrderType(s.OrderType),
		MinEdge:       s.MinEdge,
		MinConfidence: s.MinConfidence,
		Cooldown:      s.Cooldown.Duration,
		MaxRetries:    s.MaxRetries,
		BarInterval:   s.BarInterval.Duration,
		BarCapacity:   s.BarCapacity,
		Risk:          s.Risk,
		Sizing:        s.Sizing,
	}
}

// Config is the application configuration.
type Config struct {
	Log          logger.Config     `yaml:"log"`
	Execution    execution.Config  `yaml:"execution"`
	Feed         FeedConfig        `yaml:"feed"`
	EvalInterval Duration          `yaml:"evalInterval"`
	Journal      JournalConfig     `yaml:"journal"`
	Persistence  PersistenceConfig `yaml:"persistence"`
	Metrics      MetricsConfig     `yaml:"metrics"`
	Strategies   []StrategySection `yaml:"strategies"`
}

// Load reads, defaults and validates a config file.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Execution.InitialCash == 0 {
		c.Execution.InitialCash = 10000
	}
	if c.Execution.FeeRate == 0 {
		c.Execution.FeeRate = 0.002
	}
	if c.Execution.Slippage.Model == "" {
		c.Execution.Slippage.Model = execution.SlippageProportional
		c.Execution.Slippage.Amount = 0.001
	}
	if c.Feed.Mode == "" {
		c.Feed.Mode = "sim"
	}
	if c.Feed.MarketLimit == 0 {
		c.Feed.MarketLimit = 100
	}
	if c.EvalInterval.Duration == 0 {
		c.EvalInterval.Duration = 10 * time.Second
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal.db"
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "json"
	}
	if c.Persistence.Path == "" {
		c.Persistence.Path = "data/state"
	}
}

// Validate rejects configs the process cannot start with.
func (c *Config) Validate() error {
	if c.Execution.InitialCash <= 0 {
		return fmt.Errorf("execution.initialCash must be positive")
	}
	if c.Execution.FeeRate < 0 || c.Execution.FeeRate >= 1 {
		return fmt.Errorf("execution.feeRate out of range")
	}
	switch c.Feed.Mode {
	case "sim", "live":
	default:
		return fmt.Errorf("feed.mode must be sim or live, got %q", c.Feed.Mode)
	}
	switch c.Persistence.Backend {
	case "json", "badger":
	default:
		return fmt.Errorf("persistence.backend must be json or badger, got %q", c.Persistence.Backend)
	}
	seen := make(map[string]bool)
	for _, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategy id is required")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
