package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full set of recognized options. Unknown keys in the config
// file are rejected at boot; a typo must not silently fall back to a default.
type Config struct {
	EngineConfig     EngineConfig           `json:"engine"`
	Accounts         []AccountConfig        `json:"accounts"`
	StrategyConfig   StrategyConfig         `json:"strategy"`
	RiskTiers        map[string]RiskTier    `json:"risk_tiers"`
	Symbols          map[string]SymbolRules `json:"symbols"`
	GlobalLimits     GlobalLimits           `json:"global_limits"`
	KillSwitchConfig KillSwitchConfig       `json:"kill_switch"`
	ExitConfig       ExitConfig             `json:"exit"`
	OrderFlowConfig  OrderFlowConfig        `json:"order_flow"`
	LossStreakConfig LossStreakConfig       `json:"loss_streak"`
	GuardrailConfig  GuardrailConfig        `json:"guardrail"`
	ServerConfig     ServerConfig           `json:"server"`
	DatabaseConfig   DatabaseConfig         `json:"database"`
	RedisConfig      RedisConfig            `json:"redis"`
	VaultConfig      VaultConfig            `json:"vault"`
	LoggingConfig    LoggingConfig          `json:"logging"`
}

// EngineConfig holds the decision pipeline cadences
type EngineConfig struct {
	TickIntervalSec         int `json:"tick_interval_sec"`        // decision pipeline per symbol
	MarketFeedIntervalSec   int `json:"market_feed_interval_sec"` // price feed polling
	HistoricalBackfillDays  int `json:"historical_backfill_days"`
	MaxCandlesPerSymbol     int `json:"max_candles_per_symbol"`
	ExposurePollIntervalSec int `json:"exposure_poll_interval_sec"`
	EquitySnapshotSec       int `json:"equity_snapshot_sec"`
}

// AccountConfig binds one brokerage account to its broker bridge instance.
// Immutable after boot.
type AccountConfig struct {
	ID            string      `json:"id"`
	BrokerBaseURL string      `json:"broker_base_url"`
	Login         string      `json:"login"`
	Symbols       []string    `json:"symbols"`
	RiskTier      string      `json:"risk_tier"` // "low" or "high"
	Risk          AccountRisk `json:"risk"`
}

// AccountRisk holds per-account risk caps
type AccountRisk struct {
	RiskPct       float64 `json:"risk_pct"`
	MaxDailyLoss  float64 `json:"max_daily_loss"`
	MaxWeeklyLoss float64 `json:"max_weekly_loss"`
}

// StrategyConfig holds SMC strategy parameters
type StrategyConfig struct {
	HTFTimeframe    string            `json:"htf_timeframe"` // "H4" or "H1"
	PivotHTF        int               `json:"pivot_htf"`
	PivotITF        int               `json:"pivot_itf"`
	PivotLTF        int               `json:"pivot_ltf"`
	MinHTFCandles   int               `json:"min_htf_candles"`
	MinITFCandles   int               `json:"min_itf_candles"`
	MinLTFCandles   int               `json:"min_ltf_candles"`
	TargetRMultiple float64           `json:"target_r_multiple"`
	RequireSMT      bool              `json:"require_smt"`
	SMTPairs        map[string]string `json:"smt_pairs"`     // symbol -> correlated symbol
	BOSLookback     int               `json:"bos_lookback"`
}

// RiskTier holds per-strategy-tier limits ("low" / "high")
type RiskTier struct {
	MaxDailyLossPct float64 `json:"max_daily_loss_pct"`
	MaxTradesPerDay int     `json:"max_trades_per_day"`
	DefaultRiskPct  float64 `json:"default_risk_pct"`
}

// SymbolRules holds per-symbol execution rules
type SymbolRules struct {
	Sessions                  []SessionWindow `json:"sessions"`
	MaxSpreadPips             float64         `json:"max_spread_pips"`
	CooldownMinutes           int             `json:"cooldown_minutes"`
	MaxConcurrentPerSymbol    int             `json:"max_concurrent_per_symbol"`
	MaxConcurrentPerDirection int             `json:"max_concurrent_per_direction"`
	MaxDailyRiskPerSymbol     float64         `json:"max_daily_risk_per_symbol"` // 0 = unset
	SLBufferPips              float64         `json:"sl_buffer_pips"`
	MinRiskDistance           float64         `json:"min_risk_distance"`
	RiskPctOverride           float64         `json:"risk_pct_override"`         // 0 = use tier default
}

// SessionWindow is a trading session in UTC hours, e.g. London 07-16.
type SessionWindow struct {
	Name      string `json:"name"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
}

// GlobalLimits holds account-wide exposure caps
type GlobalLimits struct {
	MaxConcurrentTradesGlobal int     `json:"max_concurrent_trades_global"`
	MaxDailyRiskGlobal        float64 `json:"max_daily_risk_global"`
}

// KillSwitchConfig holds the kill switch condition set
type KillSwitchConfig struct {
	DailyMaxLossCurrency    float64 `json:"daily_max_loss_currency"`
	DailyMaxLossPct         float64 `json:"daily_max_loss_pct"`
	WeeklyMaxLossCurrency   float64 `json:"weekly_max_loss_currency"`
	WeeklyMaxLossPct        float64 `json:"weekly_max_loss_pct"`
	MaxLosingStreak         int     `json:"max_losing_streak"`
	MaxDailyTrades          int     `json:"max_daily_trades"`
	MaxWeeklyTrades         int     `json:"max_weekly_trades"`
	MaxSpreadPoints         float64 `json:"max_spread_points"`
	MaxExposureRiskCurrency float64 `json:"max_exposure_risk_currency"`
	AutoResumeNextDay       bool    `json:"auto_resume_next_day"`
	AutoResumeNextWeek      bool    `json:"auto_resume_next_week"`
	Timezone                string  `json:"timezone"`
}

// ExitConfig holds exit engine defaults
type ExitConfig struct {
	ExitTickIntervalSec   int     `json:"exit_tick_interval_sec"`
	BreakEvenEnabled      bool    `json:"break_even_enabled"`
	BreakEvenTriggerR     float64 `json:"break_even_trigger_r"`
	PartialCloseEnabled   bool    `json:"partial_close_enabled"`
	PartialClosePct       float64 `json:"partial_close_pct"`
	TrailingEnabled       bool    `json:"trailing_enabled"`
	TrailMode             string  `json:"trail_mode"` // "fixed_pips", "structure", "none"
	TrailPips             float64 `json:"trail_pips"`
	TrailThrottleSec      int     `json:"trail_throttle_sec"`
	TimeExitEnabled       bool    `json:"time_exit_enabled"`
	TimeLimitMinutes      int     `json:"time_limit_minutes"`
	CommissionExitEnabled bool    `json:"commission_exit_enabled"`
}

// OrderFlowConfig holds order flow polling and thresholds
type OrderFlowConfig struct {
	Enabled                   bool    `json:"enabled"`
	PollIntervalMs            int     `json:"poll_interval_ms"`
	LargeOrderMultiplier      float64 `json:"large_order_multiplier"`
	MinDeltaTrendConfirmation float64 `json:"min_delta_trend_confirmation"`
	ExhaustionThreshold       float64 `json:"exhaustion_threshold"`
	AbsorptionLookback        int     `json:"absorption_lookback"`
}

// LossStreakConfig holds per-symbol loss streak pauses
type LossStreakConfig struct {
	PauseAfterConsecutiveLosses int `json:"pause_after_consecutive_losses"`
	PauseDurationHours          int `json:"pause_duration_hours"`
	PauseAfterDailyLosses       int `json:"pause_after_daily_losses"`
}

// GuardrailConfig holds the news guardrail source
type GuardrailConfig struct {
	BaseURL    string `json:"base_url"`
	TimeoutSec int    `json:"timeout_sec"`
}

// ServerConfig holds the HTTP server (webhook + status API) configuration
type ServerConfig struct {
	Port               int    `json:"port"`
	Host               string `json:"host"`
	AllowedOrigins     string `json:"allowed_origins"`
	ProductionMode     bool   `json:"production_mode"`
	ShutdownTimeoutSec int    `json:"shutdown_timeout_sec"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis settings for the exit-plan state cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds optional HashiCorp Vault settings for account credentials
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// LoggingConfig mirrors internal/logging.Config
type LoggingConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"`
	JSONFormat bool   `json:"json_format"`
}

// Load reads the config file (default config.json, override via CONFIG_FILE),
// applies defaults, then applies environment variable overrides.
// A missing file is allowed; an unparseable file or unknown key is fatal.
func Load() (*Config, error) {
	path := getEnvOrDefault("CONFIG_FILE", "config.json")

	cfg := defaults()
	if data, err := os.ReadFile(path); err == nil {
		if err := parseStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseStrict decodes JSON rejecting any key the Config does not recognize.
func parseStrict(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parsing: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints that must hold at boot.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, acct := range c.Accounts {
		if acct.ID == "" {
			return fmt.Errorf("account with empty id")
		}
		if seen[acct.ID] {
			return fmt.Errorf("duplicate account id %q", acct.ID)
		}
		seen[acct.ID] = true
		if acct.BrokerBaseURL == "" {
			return fmt.Errorf("account %s: broker_base_url is required", acct.ID)
		}
		if len(acct.Symbols) == 0 {
			return fmt.Errorf("account %s: no symbols", acct.ID)
		}
		if acct.RiskTier != "low" && acct.RiskTier != "high" {
			return fmt.Errorf("account %s: risk_tier must be low or high, got %q", acct.ID, acct.RiskTier)
		}
	}
	if c.StrategyConfig.HTFTimeframe != "H4" && c.StrategyConfig.HTFTimeframe != "H1" {
		return fmt.Errorf("strategy.htf_timeframe must be H4 or H1, got %q", c.StrategyConfig.HTFTimeframe)
	}
	if _, err := time.LoadLocation(c.KillSwitchConfig.Timezone); err != nil {
		return fmt.Errorf("kill_switch.timezone %q: %w", c.KillSwitchConfig.Timezone, err)
	}
	switch c.ExitConfig.TrailMode {
	case "fixed_pips", "structure", "none":
	default:
		return fmt.Errorf("exit.trail_mode must be fixed_pips, structure or none, got %q", c.ExitConfig.TrailMode)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		EngineConfig: EngineConfig{
			TickIntervalSec:         60,
			MarketFeedIntervalSec:   1,
			HistoricalBackfillDays:  90,
			MaxCandlesPerSymbol:     10000,
			ExposurePollIntervalSec: 10,
			EquitySnapshotSec:       60,
		},
		StrategyConfig: StrategyConfig{
			HTFTimeframe:    "H4",
			PivotHTF:        5,
			PivotITF:        3,
			PivotLTF:        2,
			MinHTFCandles:   50,
			MinITFCandles:   40,
			MinLTFCandles:   20,
			TargetRMultiple: 2.0,
			BOSLookback:     30,
		},
		RiskTiers: map[string]RiskTier{
			"low":  {MaxDailyLossPct: 2.0, MaxTradesPerDay: 3, DefaultRiskPct: 0.5},
			"high": {MaxDailyLossPct: 4.0, MaxTradesPerDay: 6, DefaultRiskPct: 1.0},
		},
		GlobalLimits: GlobalLimits{
			MaxConcurrentTradesGlobal: 5,
		},
		KillSwitchConfig: KillSwitchConfig{
			MaxLosingStreak:    4,
			MaxDailyTrades:     10,
			MaxWeeklyTrades:    40,
			AutoResumeNextDay:  true,
			AutoResumeNextWeek: true,
			Timezone:           "America/New_York",
		},
		ExitConfig: ExitConfig{
			ExitTickIntervalSec:   2,
			BreakEvenEnabled:      true,
			BreakEvenTriggerR:     1.0,
			PartialCloseEnabled:   true,
			PartialClosePct:       50,
			TrailingEnabled:       true,
			TrailMode:             "fixed_pips",
			TrailPips:             20,
			TrailThrottleSec:      30,
			TimeExitEnabled:       false,
			TimeLimitMinutes:      480,
			CommissionExitEnabled: false,
		},
		OrderFlowConfig: OrderFlowConfig{
			Enabled:                   true,
			PollIntervalMs:            1000,
			LargeOrderMultiplier:      3.0,
			MinDeltaTrendConfirmation: 50,
			ExhaustionThreshold:       0.7,
			AbsorptionLookback:        5,
		},
		LossStreakConfig: LossStreakConfig{
			PauseAfterConsecutiveLosses: 2,
			PauseDurationHours:          6,
			PauseAfterDailyLosses:       3,
		},
		GuardrailConfig: GuardrailConfig{
			BaseURL:    "http://localhost:8091",
			TimeoutSec: 5,
		},
		ServerConfig: ServerConfig{
			Port:               8080,
			Host:               "0.0.0.0",
			AllowedOrigins:     "*",
			ShutdownTimeoutSec: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "smc_core",
			Password: "smc_core",
			Database: "smc_core",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "smc-core/accounts",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.EngineConfig.TickIntervalSec = getEnvIntOrDefault("TICK_INTERVAL_SEC", cfg.EngineConfig.TickIntervalSec)
	cfg.EngineConfig.MarketFeedIntervalSec = getEnvIntOrDefault("MARKET_FEED_INTERVAL_SEC", cfg.EngineConfig.MarketFeedIntervalSec)
	cfg.EngineConfig.HistoricalBackfillDays = getEnvIntOrDefault("HISTORICAL_BACKFILL_DAYS", cfg.EngineConfig.HistoricalBackfillDays)
	cfg.EngineConfig.MaxCandlesPerSymbol = getEnvIntOrDefault("MAX_CANDLES_PER_SYMBOL", cfg.EngineConfig.MaxCandlesPerSymbol)

	cfg.GuardrailConfig.BaseURL = getEnvOrDefault("GUARDRAIL_BASE_URL", cfg.GuardrailConfig.BaseURL)

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", "false") == "true"

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolStr(cfg.LoggingConfig.JSONFormat)) == "true"
}

// SymbolRulesFor returns the execution rules for a symbol, zero-valued when
// the symbol has no explicit entry.
func (c *Config) SymbolRulesFor(symbol string) SymbolRules {
	if rules, ok := c.Symbols[symbol]; ok {
		return rules
	}
	return SymbolRules{}
}

// TierFor returns the risk tier for a name, falling back to "low".
func (c *Config) TierFor(name string) RiskTier {
	if tier, ok := c.RiskTiers[name]; ok {
		return tier
	}
	return c.RiskTiers["low"]
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
