package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete fxhook configuration.
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	OANDA       OANDAConfig       `json:"oanda" yaml:"oanda"`
	Trading     TradingConfig     `json:"trading" yaml:"trading"`
	Ledger      LedgerConfig      `json:"ledger" yaml:"ledger"`
	Journal     JournalConfig     `json:"journal" yaml:"journal"`
	Idempotency IdempotencyConfig `json:"idempotency" yaml:"idempotency"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr"`
	WebhookSecret   string   `json:"webhook_secret,omitempty" yaml:"webhook_secret,omitempty"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// OANDAConfig selects the broker. Env "sim" runs against an in-memory
// account seeded from the sim_* fields.
type OANDAConfig struct {
	Env        string   `json:"env" yaml:"env"` // practice, live or sim
	AccountID  string   `json:"account_id" yaml:"account_id"`
	Token      string   `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
	RateLimit  float64  `json:"rate_limit" yaml:"rate_limit"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`

	SimCurrency string  `json:"sim_currency,omitempty" yaml:"sim_currency,omitempty"`
	SimBalance  float64 `json:"sim_balance,omitempty" yaml:"sim_balance,omitempty"`
	SimBid      float64 `json:"sim_bid,omitempty" yaml:"sim_bid,omitempty"`
	SimAsk      float64 `json:"sim_ask,omitempty" yaml:"sim_ask,omitempty"`

	// SimQuotes prices instruments other than the default one.
	SimQuotes map[string]SimQuote `json:"sim_quotes,omitempty" yaml:"sim_quotes,omitempty"`
}

type SimQuote struct {
	Bid float64 `json:"bid" yaml:"bid"`
	Ask float64 `json:"ask" yaml:"ask"`
}

type TradingConfig struct {
	DefaultInstrument string  `json:"default_instrument" yaml:"default_instrument"`
	Leverage          float64 `json:"leverage" yaml:"leverage"`
	ReserveRatio      float64 `json:"reserve_ratio" yaml:"reserve_ratio"`
	MinUnits          int64   `json:"min_units" yaml:"min_units"`

	ReconcilePolicy string `json:"reconcile_policy" yaml:"reconcile_policy"` // direction_aware or always_close
	BalanceSource   string `json:"balance_source" yaml:"balance_source"`     // ledger or broker
	LockScope       string `json:"lock_scope" yaml:"lock_scope"`             // instrument or account

	TimeInForce        string  `json:"time_in_force" yaml:"time_in_force"`
	StopLossDistance   float64 `json:"stop_loss_distance" yaml:"stop_loss_distance"`
	TakeProfitDistance float64 `json:"take_profit_distance" yaml:"take_profit_distance"`
	TrailingStopPct    float64 `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`

	// Realized loss, as a share of the balance, that blocks new positions
	// for the rest of the UTC day or week. Zero disables.
	MaxDailyLossPct  float64 `json:"max_daily_loss_pct,omitempty" yaml:"max_daily_loss_pct,omitempty"`
	MaxWeeklyLossPct float64 `json:"max_weekly_loss_pct,omitempty" yaml:"max_weekly_loss_pct,omitempty"`
}

type LedgerConfig struct {
	Type     string  `json:"type" yaml:"type"` // file, sqlite or postgres
	Path     string  `json:"path,omitempty" yaml:"path,omitempty"`
	DSN      string  `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Baseline float64 `json:"baseline" yaml:"baseline"`
	Scope    string  `json:"scope" yaml:"scope"` // account or instrument
}

type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // file or sqlite
	Path       string `json:"path" yaml:"path"`
	MaxRecords int    `json:"max_records" yaml:"max_records"`
}

type IdempotencyConfig struct {
	Type          string   `json:"type" yaml:"type"` // memory or redis
	TTL           Duration `json:"ttl" yaml:"ttl"`
	RedisAddr     string   `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string   `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int      `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisPrefix   string   `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // json or console
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
}

// Load reads path when it is set, otherwise starts from Default. Environment
// overrides are applied before validation.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	cfg := Default()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration over the defaults, trying YAML first
// and falling back to JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and JSON otherwise.
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

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.OANDA.Token, "OANDA_API_KEY", "OANDA_TOKEN")
	set(&c.OANDA.AccountID, "OANDA_ACCOUNT_ID")
	set(&c.OANDA.Env, "OANDA_ENV")
	set(&c.Server.WebhookSecret, "FXHOOK_WEBHOOK_SECRET")
	set(&c.Idempotency.RedisAddr, "FXHOOK_REDIS_ADDR")

	if v := strings.TrimSpace(getenv("FXHOOK_DATABASE_DSN")); v != "" {
		c.Ledger.DSN = v
	}
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT must be a number, got %q", v)
		}
		c.Server.Addr = ":" + v
	}
	if v := strings.TrimSpace(getenv("OANDA_RESERVE_RATIO")); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("OANDA_RESERVE_RATIO must be a number, got %q", v)
		}
		c.Trading.ReserveRatio = r
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	switch c.OANDA.Env {
	case "practice", "live":
		if c.OANDA.Token == "" {
			return fmt.Errorf("oanda.token is required (or set OANDA_API_KEY)")
		}
		if c.OANDA.AccountID == "" {
			return fmt.Errorf("oanda.account_id is required (or set OANDA_ACCOUNT_ID)")
		}
	case "sim":
		if c.OANDA.SimBalance < 0 {
			return fmt.Errorf("oanda.sim_balance must not be negative")
		}
		if c.OANDA.SimBid <= 0 || c.OANDA.SimAsk < c.OANDA.SimBid {
			return fmt.Errorf("oanda.sim_bid must be positive and oanda.sim_ask must be >= sim_bid")
		}
		for inst, q := range c.OANDA.SimQuotes {
			if q.Bid <= 0 || q.Ask < q.Bid {
				return fmt.Errorf("oanda.sim_quotes.%s: bid must be positive and ask must be >= bid", inst)
			}
		}
	default:
		return fmt.Errorf("oanda.env must be 'practice', 'live' or 'sim'")
	}
	if c.OANDA.RateLimit < 0 {
		return fmt.Errorf("oanda.rate_limit must not be negative")
	}
	if c.OANDA.MaxRetries < 0 {
		return fmt.Errorf("oanda.max_retries must not be negative")
	}

	t := c.Trading
	if t.DefaultInstrument == "" {
		return fmt.Errorf("trading.default_instrument is required")
	}
	if t.Leverage <= 0 {
		return fmt.Errorf("trading.leverage must be positive")
	}
	if t.ReserveRatio < 0 || t.ReserveRatio >= 1 {
		return fmt.Errorf("trading.reserve_ratio must be in [0, 1)")
	}
	if t.MinUnits < 0 {
		return fmt.Errorf("trading.min_units must not be negative")
	}
	if t.ReconcilePolicy != "direction_aware" && t.ReconcilePolicy != "always_close" {
		return fmt.Errorf("trading.reconcile_policy must be 'direction_aware' or 'always_close'")
	}
	if t.BalanceSource != "ledger" && t.BalanceSource != "broker" {
		return fmt.Errorf("trading.balance_source must be 'ledger' or 'broker'")
	}
	if t.LockScope != "instrument" && t.LockScope != "account" {
		return fmt.Errorf("trading.lock_scope must be 'instrument' or 'account'")
	}
	switch t.TimeInForce {
	case "FOK", "IOC":
	default:
		return fmt.Errorf("trading.time_in_force must be 'FOK' or 'IOC'")
	}
	if t.StopLossDistance < 0 || t.TakeProfitDistance < 0 || t.TrailingStopPct < 0 {
		return fmt.Errorf("trading exit distances must not be negative")
	}
	if t.MaxDailyLossPct < 0 || t.MaxDailyLossPct >= 1 {
		return fmt.Errorf("trading.max_daily_loss_pct must be in [0, 1)")
	}
	if t.MaxWeeklyLossPct < 0 || t.MaxWeeklyLossPct >= 1 {
		return fmt.Errorf("trading.max_weekly_loss_pct must be in [0, 1)")
	}

	switch c.Ledger.Type {
	case "file", "sqlite":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for %s type", c.Ledger.Type)
		}
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for postgres type (or set FXHOOK_DATABASE_DSN)")
		}
	default:
		return fmt.Errorf("ledger.type must be 'file', 'sqlite' or 'postgres'")
	}
	if c.Ledger.Baseline <= 0 {
		return fmt.Errorf("ledger.baseline must be positive")
	}
	if c.Ledger.Scope != "account" && c.Ledger.Scope != "instrument" {
		return fmt.Errorf("ledger.scope must be 'account' or 'instrument'")
	}

	if c.Journal.Type != "file" && c.Journal.Type != "sqlite" {
		return fmt.Errorf("journal.type must be 'file' or 'sqlite'")
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	if c.Journal.MaxRecords <= 0 {
		return fmt.Errorf("journal.max_records must be positive")
	}

	switch c.Idempotency.Type {
	case "memory":
	case "redis":
		if c.Idempotency.RedisAddr == "" {
			return fmt.Errorf("idempotency.redis_addr is required for redis type (or set FXHOOK_REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("idempotency.type must be 'memory' or 'redis'")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency.ttl must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ShutdownTimeout: Duration(15 * time.Second),
		},
		OANDA: OANDAConfig{
			Env:         "sim",
			Timeout:     Duration(10 * time.Second),
			RateLimit:   20,
			MaxRetries:  2,
			SimCurrency: "USD",
			SimBalance:  1000,
			SimBid:      1.0849,
			SimAsk:      1.0851,
		},
		Trading: TradingConfig{
			DefaultInstrument: "EUR_USD",
			Leverage:          50,
			ReserveRatio:      0.2,
			ReconcilePolicy:   "direction_aware",
			BalanceSource:     "ledger",
			LockScope:         "instrument",
			TimeInForce:       "FOK",
		},
		Ledger: LedgerConfig{
			Type:     "file",
			Path:     "./data/balance.json",
			Baseline: 1000,
			Scope:    "account",
		},
		Journal: JournalConfig{
			Type:       "file",
			Path:       "./data/trades.json",
			MaxRecords: 100,
		},
		Idempotency: IdempotencyConfig{
			Type:        "memory",
			TTL:         Duration(10 * time.Minute),
			RedisPrefix: "fxhook:idem:",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}
