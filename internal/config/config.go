// Package config loads the system's configuration surface: Aggregator
// timeframes, risk defaults, trailing defaults, journal settings, and the
// API server's listen address.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// AggregatorConfig declares the source timeframe and the target timeframes
// to reconstruct from it.
type AggregatorConfig struct {
	SourceTimeframe  trading.Timeframe   `mapstructure:"source_timeframe"`
	TargetTimeframes []trading.Timeframe `mapstructure:"target_timeframes"`
}

// RiskDefaults are advisory-only defaults consulted by callers opening
// positions; the core never enforces them itself.
type RiskDefaults struct {
	DefaultRiskAmount decimal0 `mapstructure:"default_risk_amount"`
	MaxPositionCount  int      `mapstructure:"max_position_count"`
}

// decimal0 exists only to give RiskDefaults a float-compatible mapstructure
// field without importing decimal into the config surface; callers convert
// with decimal.NewFromFloat at the point of use.
type decimal0 = float64

// TrailingDefaults seed newly-enabled trailing configs when the caller
// doesn't specify every field explicitly.
type TrailingDefaults struct {
	Type                string  `mapstructure:"type"`
	TrailingAmount      float64 `mapstructure:"trailing_amount"`
	ActivationProfitPct float64 `mapstructure:"activation_profit_pct"`
	MinTrailPct         float64 `mapstructure:"min_trail_pct"`
}

// JournalConfig configures the durable trade store.
type JournalConfig struct {
	DBPath         string  `mapstructure:"db_path"`
	StartingEquity float64 `mapstructure:"starting_equity"`
}

// ServerConfig configures the read-only HTTP/WS API surface.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Config is the full configuration surface spec.md §6 enumerates.
type Config struct {
	Aggregator      AggregatorConfig  `mapstructure:"aggregator"`
	Risk            RiskDefaults      `mapstructure:"risk"`
	Trailing        TrailingDefaults  `mapstructure:"trailing"`
	Journal         JournalConfig     `mapstructure:"journal"`
	Server          ServerConfig      `mapstructure:"server"`
	TrailingTickSec int               `mapstructure:"trailing_tick_seconds"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Aggregator: AggregatorConfig{
			SourceTimeframe:  trading.Timeframe5s,
			TargetTimeframes: []trading.Timeframe{trading.Timeframe1m, trading.Timeframe5m, trading.Timeframe1h},
		},
		Risk: RiskDefaults{
			DefaultRiskAmount: 100,
			MaxPositionCount:  20,
		},
		Trailing: TrailingDefaults{
			Type:                "Percentage",
			TrailingAmount:      2.0,
			ActivationProfitPct: 1.0,
			MinTrailPct:         0.5,
		},
		Journal: JournalConfig{
			DBPath:         "./data/journal.db",
			StartingEquity: 100000,
		},
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		TrailingTickSec: 60,
	}
}

// Load reads configuration from configPath (YAML) if present, then overlays
// TRADING_-prefixed environment variables, falling back to Default() values
// for anything unset.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TRADING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("aggregator.source_timeframe", cfg.Aggregator.SourceTimeframe)
	v.SetDefault("aggregator.target_timeframes", cfg.Aggregator.TargetTimeframes)
	v.SetDefault("risk.default_risk_amount", cfg.Risk.DefaultRiskAmount)
	v.SetDefault("risk.max_position_count", cfg.Risk.MaxPositionCount)
	v.SetDefault("trailing.type", cfg.Trailing.Type)
	v.SetDefault("trailing.trailing_amount", cfg.Trailing.TrailingAmount)
	v.SetDefault("trailing.activation_profit_pct", cfg.Trailing.ActivationProfitPct)
	v.SetDefault("trailing.min_trail_pct", cfg.Trailing.MinTrailPct)
	v.SetDefault("journal.db_path", cfg.Journal.DBPath)
	v.SetDefault("journal.starting_equity", cfg.Journal.StartingEquity)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("trailing_tick_seconds", cfg.TrailingTickSec)
}
