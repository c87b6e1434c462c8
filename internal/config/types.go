package config

import (
	"path/filepath"
	"time"
)

// Config is the top-level HighTrade configuration.
type Config struct {
	App        AppConfig                  `mapstructure:"app"`
	Cycle      CycleConfig                `mapstructure:"cycle"`
	Dedup      DedupConfig                `mapstructure:"dedup"`
	RateLimits map[string]RateLimitConfig `mapstructure:"rate_limits"`
	Defcon     DefconConfig               `mapstructure:"defcon"`
	Exit       ExitConfig                 `mapstructure:"exit"`
	BrokerMode string                     `mapstructure:"broker_mode" default:"disabled" validate:"oneof=disabled semi_auto full_auto"`
	Sources    SourcesConfig              `mapstructure:"sources"`
	Market     MarketConfig               `mapstructure:"market"`
	News       NewsConfig                 `mapstructure:"news"`
	Alerts     AlertsConfig               `mapstructure:"alerts"`
	Paper      PaperConfig                `mapstructure:"paper"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level" default:"info"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr" default:":8420"`
	DataDir  string `mapstructure:"data_dir" default:"hightrade_data"`
}

func (a AppConfig) DatabasePath() string { return filepath.Join(a.DataDir, "hightrade.db") }
func (a AppConfig) CommandsDir() string  { return filepath.Join(a.DataDir, "commands") }
func (a AppConfig) PIDPath() string      { return filepath.Join(a.DataDir, "hightrade.pid") }

type CycleConfig struct {
	IntervalSec int `mapstructure:"interval_sec" default:"900" validate:"min=10"`
	// TickMs is the IPC poll period between cycle phases and during sleep.
	TickMs int `mapstructure:"tick_ms" default:"250" validate:"min=10"`
}

func (c CycleConfig) Interval() time.Duration { return time.Duration(c.IntervalSec) * time.Second }
func (c CycleConfig) Tick() time.Duration     { return time.Duration(c.TickMs) * time.Millisecond }

type DedupConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" default:"0.6" validate:"gt=0,lte=1"`
}

type RateLimitConfig struct {
	RPM   int `mapstructure:"rpm" validate:"min=1"`
	MinMs int `mapstructure:"min_ms" validate:"min=0"`
}

func (r RateLimitConfig) MinInterval() time.Duration { return time.Duration(r.MinMs) * time.Millisecond }

type DefconConfig struct {
	Weights DefconWeights `mapstructure:"weights"`
}

type DefconWeights struct {
	News     float64 `mapstructure:"news" default:"0.40"`
	VIX      float64 `mapstructure:"vix" default:"0.20"`
	Yield    float64 `mapstructure:"yield" default:"0.15"`
	SP500    float64 `mapstructure:"sp500" default:"0.15"`
	Breaking float64 `mapstructure:"breaking" default:"0.10"`
}

type ExitConfig struct {
	ProfitTarget   float64 `mapstructure:"profit_target" default:"0.05" validate:"gt=0"`
	StopLoss       float64 `mapstructure:"stop_loss" default:"-0.03" validate:"lt=0"`
	TrailingStop   float64 `mapstructure:"trailing_stop" default:"0.02" validate:"gt=0"`
	MaxHoldHours   int     `mapstructure:"max_hold_hours" default:"72" validate:"min=1"`
	MinHoldMinutes int     `mapstructure:"min_hold_minutes" default:"60" validate:"min=0"`
}

func (e ExitConfig) MaxHold() time.Duration { return time.Duration(e.MaxHoldHours) * time.Hour }
func (e ExitConfig) MinHold() time.Duration { return time.Duration(e.MinHoldMinutes) * time.Minute }

type SourcesConfig struct {
	AlphaVantage AlphaVantageSource `mapstructure:"alpha_vantage_news"`
	RSSFeeds     RSSSource          `mapstructure:"rss_feeds"`
	Reddit       RedditSource       `mapstructure:"reddit"`
}

type AlphaVantageSource struct {
	Enabled        bool     `mapstructure:"enabled"`
	Endpoint       string   `mapstructure:"endpoint" default:"https://www.alphavantage.co/query"`
	APIKey         string   `mapstructure:"api_key"`
	Topics         []string `mapstructure:"topics"`
	MaxArticles    int      `mapstructure:"max_articles" default:"50"`
	RateLimiterKey string   `mapstructure:"rate_limiter_key" default:"alpha_vantage"`
}

type RSSSource struct {
	Enabled bool     `mapstructure:"enabled"`
	Feeds   []string `mapstructure:"feeds"`
}

type RedditSource struct {
	Enabled        bool     `mapstructure:"enabled"`
	Subreddits     []string `mapstructure:"subreddits"`
	PostLimit      int      `mapstructure:"post_limit" default:"50"`
	RateLimiterKey string   `mapstructure:"rate_limiter_key" default:"reddit"`
}

type MarketConfig struct {
	Symbols        []string `mapstructure:"symbols"`
	QuoteEndpoint  string   `mapstructure:"quote_endpoint" default:"https://query1.finance.yahoo.com/v8/finance/chart"`
	YieldEndpoint  string   `mapstructure:"yield_endpoint" default:"https://api.stlouisfed.org/fred/series/observations"`
	FredAPIKey     string   `mapstructure:"fred_api_key"`
	RateLimiterKey string   `mapstructure:"rate_limiter_key" default:"quotes"`
}

type NewsConfig struct {
	CacheTTLMinutes  int                 `mapstructure:"cache_ttl_minutes" default:"15"`
	LookbackHours    int                 `mapstructure:"lookback_hours" default:"24"`
	UrgencyKeywords  map[string][]string `mapstructure:"urgency_keywords"`
	RelevanceLexicon []string            `mapstructure:"relevance_lexicon"`
}

func (n NewsConfig) CacheTTL() time.Duration { return time.Duration(n.CacheTTLMinutes) * time.Minute }

type AlertsConfig struct {
	Urgent ChannelConfig `mapstructure:"urgent"`
	Silent ChannelConfig `mapstructure:"silent"`
}

type ChannelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	// Events filters which event kinds reach this channel; empty means all.
	Events []string `mapstructure:"events"`
}

type PaperConfig struct {
	TotalCapital     float64 `mapstructure:"total_capital" default:"100000"`
	BasePositionSize float64 `mapstructure:"base_position_size" default:"10000"`
	MinPositionSize  float64 `mapstructure:"min_position_size" default:"2500"`
	MaxPositionSize  float64 `mapstructure:"max_position_size" default:"20000"`
	// DecisionTTLMinutes bounds how long an entry proposal awaits approval.
	DecisionTTLMinutes int `mapstructure:"decision_ttl_minutes" default:"60"`
}
