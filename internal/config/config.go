package config

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config at path, applies defaults, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults failed: %w", err)
	}
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	// Top-level cycle_interval_sec is an accepted alias for cycle.interval_sec.
	if v.IsSet("cycle_interval_sec") {
		cfg.Cycle.IntervalSec = v.GetInt("cycle_interval_sec")
	}
	cfg.applyDerivedDefaults()
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a fully defaulted config without reading a file. Used by
// tests.
func Default() *Config {
	var cfg Config
	_ = defaults.Set(&cfg)
	cfg.applyDerivedDefaults()
	return &cfg
}

// applyDerivedDefaults fills settings that defaults tags cannot express:
// map-typed blocks and keyword lexicons.
func (c *Config) applyDerivedDefaults() {
	if c.RateLimits == nil {
		c.RateLimits = map[string]RateLimitConfig{}
	}
	if _, ok := c.RateLimits["alpha_vantage"]; !ok {
		c.RateLimits["alpha_vantage"] = RateLimitConfig{RPM: 5, MinMs: 12000}
	}
	if _, ok := c.RateLimits["reddit"]; !ok {
		c.RateLimits["reddit"] = RateLimitConfig{RPM: 60, MinMs: 1000}
	}
	if _, ok := c.RateLimits["quotes"]; !ok {
		c.RateLimits["quotes"] = RateLimitConfig{RPM: 5, MinMs: 12000}
	}
	if len(c.Market.Symbols) == 0 {
		c.Market.Symbols = []string{"QQQ", "VTI", "MSFT", "GOOGL", "NVDA", "IVV"}
	}
	if c.News.UrgencyKeywords == nil {
		c.News.UrgencyKeywords = map[string][]string{
			"breaking": {"crash", "collapse", "emergency", "halt", "plunge", "panic"},
			"high":     {"crisis", "selloff", "sell-off", "warning", "tumble", "recession"},
		}
	}
	if len(c.News.RelevanceLexicon) == 0 {
		c.News.RelevanceLexicon = []string{
			"market", "stocks", "fed", "inflation", "rates", "yield", "vix",
			"recession", "earnings", "economy", "treasury", "correction",
		}
	}
}
