package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	VenueNone    = "none"
	VenuePaper   = "paper"
	VenueBinance = "binance"
)

type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Market   MarketConfig   `yaml:"market"`
	Advisor  AdvisorConfig  `yaml:"advisor"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Venue    VenueConfig    `yaml:"venue"`
	Trading  TradingConfig  `yaml:"trading"`
	Guard    GuardConfig    `yaml:"guard"`
	Telegram TelegramConfig `yaml:"telegram"`
	Web      WebConfig      `yaml:"web"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AgentConfig struct {
	Interval           string `yaml:"interval"`
	MaxCycles          int    `yaml:"max_cycles"`
	DBPath             string `yaml:"db_path"`
	DashboardPath      string `yaml:"dashboard_path"`
	PriceHistorySize   int    `yaml:"price_history_size"`
	TradeHistorySize   int    `yaml:"trade_history_size"`
	BalanceHistorySize int    `yaml:"balance_history_size"`
}

type MarketConfig struct {
	BaseURL        string  `yaml:"base_url"`
	AssetID        string  `yaml:"asset_id"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxJumpPct     float64 `yaml:"max_jump_pct"`
}

type AdvisorConfig struct {
	Enabled        bool   `yaml:"enabled"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RecentTrades   int    `yaml:"recent_trades"`
	RecentPrices   int    `yaml:"recent_prices"`
}

type LedgerConfig struct {
	InitialAgent    float64 `yaml:"initial_agent"`
	InitialTreasury float64 `yaml:"initial_treasury"`
	ConfirmTimeout  string  `yaml:"confirm_timeout"`
}

type VenueConfig struct {
	Mode             string  `yaml:"mode"`
	APIKey           string  `yaml:"api_key"`
	SecretKey        string  `yaml:"secret_key"`
	Symbol           string  `yaml:"symbol"`
	Asset            string  `yaml:"asset"`
	Testnet          bool    `yaml:"testnet"`
	SpreadBps        float64 `yaml:"spread_bps"`
	QtyPrecision     int     `yaml:"qty_precision"`
	FillTimeout      string  `yaml:"fill_timeout"`
	FailureThreshold int     `yaml:"failure_threshold"`
	RetryAfter       string  `yaml:"retry_after"`
}

// TradingConfig holds the thresholds used by the rule engine and the clamps
// applied by the execution router. Percentages are expressed as 0-100.
type TradingConfig struct {
	MinTrade       float64 `yaml:"min_trade"`
	MinReserve     float64 `yaml:"min_reserve"`
	MaxTransferPct float64 `yaml:"max_transfer_pct"`

	TreasuryMovePct   float64 `yaml:"treasury_move_pct"`
	RebalanceLowPct   float64 `yaml:"rebalance_low_pct"`
	RebalanceHighPct  float64 `yaml:"rebalance_high_pct"`
	BearishChangePct  float64 `yaml:"bearish_change_pct"`
	BullishChangePct  float64 `yaml:"bullish_change_pct"`
	MomentumPct       float64 `yaml:"momentum_pct"`
	OpenChangePct     float64 `yaml:"open_change_pct"`
	TakeProfitPct     float64 `yaml:"take_profit_pct"`
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	OpenSizePct       float64 `yaml:"open_size_pct"`
	MinPerpSize       float64 `yaml:"min_perp_size"`
	MaxPerpNotional   float64 `yaml:"max_perp_notional"`
	DefaultLeverage   int     `yaml:"default_leverage"`
	MaxLeverage       int     `yaml:"max_leverage"`
	DepositPct        float64 `yaml:"deposit_pct"`
	DepositCeiling    float64 `yaml:"deposit_ceiling"`
	DepositMinAgent   float64 `yaml:"deposit_min_agent"`
	DepositMaxPct     float64 `yaml:"deposit_max_pct"`
	TrendWindow       int     `yaml:"trend_window"`
	TrendShortWindow  int     `yaml:"trend_short_window"`
	TrendDeadZonePct  float64 `yaml:"trend_dead_zone_pct"`
	MinAdvisorSamples int     `yaml:"min_advisor_samples"`
}

type GuardConfig struct {
	MinHold            string  `yaml:"min_hold"`
	Cooldown           string  `yaml:"cooldown"`
	SpreadTolerancePct float64 `yaml:"spread_tolerance_pct"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path. An optional .env next to the working
// directory is loaded first and ${VAR} references in the file are expanded.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied and the paper
// venue selected. Used by tests and by `status` when no file is present.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	a := &cfg.Agent
	if a.Interval == "" {
		a.Interval = "5m"
	}
	if a.DBPath == "" {
		a.DBPath = "data/treasury-agent.db"
	}
	if a.DashboardPath == "" {
		a.DashboardPath = "data/dashboard.json"
	}
	if a.PriceHistorySize == 0 {
		a.PriceHistorySize = 200
	}
	if a.TradeHistorySize == 0 {
		a.TradeHistorySize = 500
	}
	if a.BalanceHistorySize == 0 {
		a.BalanceHistorySize = 200
	}

	m := &cfg.Market
	if m.BaseURL == "" {
		m.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if m.AssetID == "" {
		m.AssetID = "solana"
	}
	if m.TimeoutSeconds == 0 {
		m.TimeoutSeconds = 10
	}
	if m.MaxJumpPct == 0 {
		m.MaxJumpPct = 30
	}

	ad := &cfg.Advisor
	if ad.BaseURL == "" {
		ad.BaseURL = "https://api.deepseek.com/v1"
	}
	if ad.Model == "" {
		ad.Model = "deepseek-chat"
	}
	if ad.TimeoutSeconds == 0 {
		ad.TimeoutSeconds = 30
	}
	if ad.RecentTrades == 0 {
		ad.RecentTrades = 10
	}
	if ad.RecentPrices == 0 {
		ad.RecentPrices = 20
	}

	l := &cfg.Ledger
	if l.InitialAgent == 0 && l.InitialTreasury == 0 {
		l.InitialAgent = 10
		l.InitialTreasury = 10
	}
	if l.ConfirmTimeout == "" {
		l.ConfirmTimeout = "30s"
	}

	v := &cfg.Venue
	if v.Mode == "" {
		v.Mode = VenuePaper
	}
	if v.Symbol == "" {
		v.Symbol = "SOLUSDT"
	}
	if v.Asset == "" {
		v.Asset = "USDT"
	}
	if v.SpreadBps == 0 {
		v.SpreadBps = 10
	}
	if v.QtyPrecision == 0 {
		v.QtyPrecision = 2
	}
	if v.FillTimeout == "" {
		v.FillTimeout = "20s"
	}
	if v.FailureThreshold == 0 {
		v.FailureThreshold = 3
	}
	if v.RetryAfter == "" {
		v.RetryAfter = "10m"
	}

	t := &cfg.Trading
	setFloat(&t.MinTrade, 1)
	setFloat(&t.MinReserve, 1)
	setFloat(&t.MaxTransferPct, 50)
	setFloat(&t.TreasuryMovePct, 30)
	setFloat(&t.RebalanceLowPct, 30)
	setFloat(&t.RebalanceHighPct, 70)
	setFloat(&t.BearishChangePct, 3)
	setFloat(&t.BullishChangePct, 3)
	setFloat(&t.MomentumPct, 2)
	setFloat(&t.OpenChangePct, 4)
	setFloat(&t.TakeProfitPct, 8)
	setFloat(&t.StopLossPct, 10)
	setFloat(&t.OpenSizePct, 50)
	setFloat(&t.MinPerpSize, 5)
	setFloat(&t.MaxPerpNotional, 50)
	setFloat(&t.DepositPct, 30)
	setFloat(&t.DepositCeiling, 20)
	setFloat(&t.DepositMinAgent, 10)
	setFloat(&t.DepositMaxPct, 50)
	setFloat(&t.TrendDeadZonePct, 0.1)
	if t.DefaultLeverage == 0 {
		t.DefaultLeverage = 2
	}
	if t.MaxLeverage == 0 {
		t.MaxLeverage = 5
	}
	if t.TrendWindow == 0 {
		t.TrendWindow = 10
	}
	if t.TrendShortWindow == 0 {
		t.TrendShortWindow = 5
	}
	if t.MinAdvisorSamples == 0 {
		t.MinAdvisorSamples = 5
	}

	g := &cfg.Guard
	if g.MinHold == "" {
		g.MinHold = "30m"
	}
	if g.Cooldown == "" {
		g.Cooldown = "15m"
	}
	setFloat(&g.SpreadTolerancePct, 0.5)

	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func (c *Config) Validate() error {
	for name, d := range map[string]string{
		"agent.interval":         c.Agent.Interval,
		"ledger.confirm_timeout": c.Ledger.ConfirmTimeout,
		"venue.fill_timeout":     c.Venue.FillTimeout,
		"venue.retry_after":      c.Venue.RetryAfter,
		"guard.min_hold":         c.Guard.MinHold,
		"guard.cooldown":         c.Guard.Cooldown,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, d, err)
		}
	}
	if c.Agent.MaxCycles < 0 {
		return fmt.Errorf("agent.max_cycles must be >= 0")
	}
	if c.Advisor.Enabled && c.Advisor.APIKey == "" {
		return fmt.Errorf("advisor.api_key is required when advisor is enabled")
	}
	switch c.Venue.Mode {
	case VenueNone, VenuePaper:
	case VenueBinance:
		if c.Venue.APIKey == "" || c.Venue.SecretKey == "" {
			return fmt.Errorf("venue.api_key and venue.secret_key are required for binance mode")
		}
	default:
		return fmt.Errorf("unknown venue.mode %q", c.Venue.Mode)
	}
	if c.Trading.MaxLeverage < 1 || c.Trading.DefaultLeverage < 1 {
		return fmt.Errorf("trading leverage must be >= 1")
	}
	if c.Trading.RebalanceLowPct >= c.Trading.RebalanceHighPct {
		return fmt.Errorf("trading.rebalance_low_pct must be below rebalance_high_pct")
	}
	if c.Trading.TrendShortWindow > c.Trading.TrendWindow {
		return fmt.Errorf("trading.trend_short_window must not exceed trend_window")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) HasVenue() bool {
	return c.Venue.Mode != VenueNone
}

func (c *Config) CycleInterval() time.Duration {
	return mustDuration(c.Agent.Interval)
}

func (c *Config) AdvisorTimeout() time.Duration {
	return time.Duration(c.Advisor.TimeoutSeconds) * time.Second
}

func (c *Config) MarketTimeout() time.Duration {
	return time.Duration(c.Market.TimeoutSeconds) * time.Second
}

func (c *Config) ConfirmTimeout() time.Duration {
	return mustDuration(c.Ledger.ConfirmTimeout)
}

func (c *Config) FillTimeout() time.Duration {
	return mustDuration(c.Venue.FillTimeout)
}

func (c *Config) VenueRetryAfter() time.Duration {
	return mustDuration(c.Venue.RetryAfter)
}

func (c *Config) MinHold() time.Duration {
	return mustDuration(c.Guard.MinHold)
}

func (c *Config) Cooldown() time.Duration {
	return mustDuration(c.Guard.Cooldown)
}

// durations are checked by Validate
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
