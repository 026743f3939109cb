// Package config holds the layered configuration for the breakout bot:
// defaults, then an optional JSON or YAML config file, then environment
// variable overrides, then validation. Invalid parameter combinations abort
// startup rather than degrade silently.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bot.
type Config struct {
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Account  AccountConfig  `json:"account" yaml:"account"`
	Session  SessionConfig  `json:"session" yaml:"session"`
	Feed     FeedConfig     `json:"feed" yaml:"feed"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Service  ServiceConfig  `json:"service" yaml:"service"`
}

// StrategyConfig holds the detection, confirmation and planning parameters.
//
// ConsolidationTolerance and MinBreakoutStrength are deliberately separate
// settings: the first qualifies a box, the second confirms a break. They must
// not be merged back into a single threshold.
type StrategyConfig struct {
	ConsolidationPeriods   int     `json:"consolidation_periods" yaml:"consolidation_periods"`
	ConsolidationTolerance float64 `json:"consolidation_tolerance" yaml:"consolidation_tolerance"`
	MinBoundaryTouches     int     `json:"min_boundary_touches" yaml:"min_boundary_touches"`

	MinBreakoutStrength float64 `json:"min_breakout_strength" yaml:"min_breakout_strength"`
	VolumeMultiplier    float64 `json:"volume_multiplier" yaml:"volume_multiplier"`
	TrendPeriod         int     `json:"trend_period" yaml:"trend_period"`
	RSIPeriod           int     `json:"rsi_period" yaml:"rsi_period"`
	RSIOverbought       float64 `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIOversold         float64 `json:"rsi_oversold" yaml:"rsi_oversold"`

	StopPolicy      string  `json:"stop_policy" yaml:"stop_policy"` // "box" or "atr"
	ATRPeriod       int     `json:"atr_period" yaml:"atr_period"`
	ATRMultiplier   float64 `json:"atr_multiplier" yaml:"atr_multiplier"`
	RiskRewardRatio float64 `json:"risk_reward_ratio" yaml:"risk_reward_ratio"`
	TrailingStopPct float64 `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`
}

// AccountConfig holds the sizing parameters.
type AccountConfig struct {
	Equity       float64 `json:"equity" yaml:"equity"`
	RiskFraction float64 `json:"risk_fraction" yaml:"risk_fraction"`
	MinLotStep   float64 `json:"min_lot_step" yaml:"min_lot_step"`
	PointValue   float64 `json:"point_value" yaml:"point_value"`
}

// SessionConfig holds the session gate parameters.
type SessionConfig struct {
	MaxDailyTrades       int   `json:"max_daily_trades" yaml:"max_daily_trades"`
	MaxConsecutiveLosses int   `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	TradingStartHour     int   `json:"trading_start_hour" yaml:"trading_start_hour"`
	TradingEndHour       int   `json:"trading_end_hour" yaml:"trading_end_hour"`
	TradingDays          []int `json:"trading_days" yaml:"trading_days"` // time.Weekday values
}

// Weekdays converts the configured day numbers to time.Weekday values.
func (s SessionConfig) Weekdays() []time.Weekday {
	out := make([]time.Weekday, 0, len(s.TradingDays))
	for _, d := range s.TradingDays {
		out = append(out, time.Weekday(d))
	}
	return out
}

// FeedConfig holds the bar source parameters.
type FeedConfig struct {
	Symbol      string `json:"symbol" yaml:"symbol"`
	BarInterval string `json:"bar_interval" yaml:"bar_interval"` // Go duration, e.g. "1m"
	WSURL       string `json:"ws_url" yaml:"ws_url"`
	RESTURL     string `json:"rest_url" yaml:"rest_url"`
}

// Interval parses the bar interval duration.
func (f FeedConfig) Interval() time.Duration {
	d, err := time.ParseDuration(f.BarInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Name     string `json:"name" yaml:"name"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

// ConnString builds a PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	DB            int    `json:"db" yaml:"db"`
	Password      string `json:"password" yaml:"password"`
	ChannelPrefix string `json:"channel_prefix" yaml:"channel_prefix"`
}

// Addr returns host:port for Redis.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServiceConfig holds operational parameters.
type ServiceConfig struct {
	LogLevel   string `json:"log_level" yaml:"log_level"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// Load reads config from a JSON or YAML file (by extension), then overrides
// with environment variables, then validates. A missing file is fine — the
// defaults plus env vars apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err != nil && !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		case err == nil:
			if err := unmarshalByExt(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	overrideFromEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func unmarshalByExt(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Strategy: StrategyConfig{
			ConsolidationPeriods:   20,
			ConsolidationTolerance: 0.0015,
			MinBreakoutStrength:    0.15,
			VolumeMultiplier:       1.1,
			TrendPeriod:            50,
			RSIPeriod:              0,
			RSIOverbought:          70,
			RSIOversold:            30,
			StopPolicy:             "box",
			ATRPeriod:              14,
			ATRMultiplier:          2.0,
			RiskRewardRatio:        2.0,
		},
		Account: AccountConfig{
			Equity:       10000,
			RiskFraction: 0.02,
			MinLotStep:   0.01,
			PointValue:   1.0,
		},
		Session: SessionConfig{
			MaxDailyTrades:   5,
			TradingStartHour: 0,
			TradingEndHour:   23,
			TradingDays:      []int{1, 2, 3, 4, 5}, // Monday-Friday
		},
		Feed: FeedConfig{
			Symbol:      "NAS100",
			BarInterval: "1m",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
			Name: "boxbot",
			User: "boxbot",
		},
		Redis: RedisConfig{
			Host:          "localhost",
			Port:          6379,
			ChannelPrefix: "boxbot",
		},
		Service: ServiceConfig{
			LogLevel:   "info",
			ListenAddr: ":8090",
		},
	}
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("FEED_SYMBOL"); v != "" {
		cfg.Feed.Symbol = v
	}
	if v := os.Getenv("FEED_WS_URL"); v != "" {
		cfg.Feed.WSURL = v
	}
	if v := os.Getenv("FEED_REST_URL"); v != "" {
		cfg.Feed.RESTURL = v
	}

	if v := os.Getenv("BOT_LOG_LEVEL"); v != "" {
		cfg.Service.LogLevel = v
	}
	if v := os.Getenv("BOT_LISTEN_ADDR"); v != "" {
		cfg.Service.ListenAddr = v
	}
}

// Validate checks parameter combinations that must prevent startup.
func Validate(cfg *Config) error {
	s := cfg.Strategy
	if s.ConsolidationPeriods < 2 {
		return fmt.Errorf("consolidation_periods must be >= 2, got %d", s.ConsolidationPeriods)
	}
	if s.ConsolidationTolerance <= 0 {
		return fmt.Errorf("consolidation_tolerance must be > 0, got %g", s.ConsolidationTolerance)
	}
	if s.RiskRewardRatio <= 0 {
		return fmt.Errorf("risk_reward_ratio must be > 0, got %g", s.RiskRewardRatio)
	}
	if s.StopPolicy != "box" && s.StopPolicy != "atr" {
		return fmt.Errorf("stop_policy must be box or atr, got %q", s.StopPolicy)
	}
	if s.ATRPeriod < 1 {
		return fmt.Errorf("atr_period must be >= 1, got %d", s.ATRPeriod)
	}
	if s.ATRMultiplier <= 0 {
		return fmt.Errorf("atr_multiplier must be > 0, got %g", s.ATRMultiplier)
	}
	if s.TrailingStopPct < 0 {
		return fmt.Errorf("trailing_stop_pct must be >= 0, got %g", s.TrailingStopPct)
	}

	a := cfg.Account
	if a.RiskFraction <= 0 || a.RiskFraction > 1 {
		return fmt.Errorf("risk_fraction must be in (0, 1], got %g", a.RiskFraction)
	}
	if a.Equity <= 0 {
		return fmt.Errorf("equity must be > 0, got %g", a.Equity)
	}

	sess := cfg.Session
	if sess.TradingStartHour < 0 || sess.TradingStartHour > 23 {
		return fmt.Errorf("trading_start_hour must be in [0, 23], got %d", sess.TradingStartHour)
	}
	if sess.TradingEndHour < 0 || sess.TradingEndHour > 23 {
		return fmt.Errorf("trading_end_hour must be in [0, 23], got %d", sess.TradingEndHour)
	}
	for _, d := range sess.TradingDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("trading_days entries must be in [0, 6], got %d", d)
		}
	}

	if _, err := time.ParseDuration(cfg.Feed.BarInterval); err != nil {
		return fmt.Errorf("bar_interval: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", cfg.Service.LogLevel)
	}
	return nil
}
