package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := defaults()
	cfg.Accounts = []AccountConfig{
		{ID: "acct-1", BrokerBaseURL: "http://localhost:8085", Symbols: []string{"XAUUSD"}, RiskTier: "low"},
	}
	return cfg
}

func TestParseStrictRejectsUnknownKeys(t *testing.T) {
	cfg := defaults()
	err := parseStrict([]byte(`{"engine":{"tick_interval_sec":30},"tick_intervall":5}`), cfg)
	if err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}

	err = parseStrict([]byte(`{"engine":{"tick_interval_secs":30}}`), defaults())
	if err == nil {
		t.Fatal("unknown nested key must be rejected")
	}
}

func TestParseStrictAppliesOverDefaults(t *testing.T) {
	cfg := defaults()
	if err := parseStrict([]byte(`{"engine":{"tick_interval_sec":15}}`), cfg); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.EngineConfig.TickIntervalSec != 15 {
		t.Errorf("tick interval = %d", cfg.EngineConfig.TickIntervalSec)
	}
	// Untouched fields keep their defaults.
	if cfg.EngineConfig.HistoricalBackfillDays != 90 {
		t.Errorf("backfill days = %d", cfg.EngineConfig.HistoricalBackfillDays)
	}
}

func TestValidateRequiresAccounts(t *testing.T) {
	cfg := defaults()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "no accounts") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateRejectsDuplicateAccountIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Accounts = append(cfg.Accounts, cfg.Accounts[0])
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate account id") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateRejectsUnknownRiskTier(t *testing.T) {
	cfg := validConfig()
	cfg.Accounts[0].RiskTier = "medium"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "risk_tier") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.KillSwitchConfig.Timezone = "Mars/Olympus_Mons"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid timezone must fail validation")
	}
}

func TestValidateRejectsBadTrailMode(t *testing.T) {
	cfg := validConfig()
	cfg.ExitConfig.TrailMode = "atr"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "trail_mode") {
		t.Errorf("err = %v", err)
	}
}

func TestValidConfigPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestSymbolRulesForFallsBackToZero(t *testing.T) {
	cfg := validConfig()
	cfg.Symbols = map[string]SymbolRules{"XAUUSD": {MaxSpreadPips: 3.5}}

	if got := cfg.SymbolRulesFor("XAUUSD"); got.MaxSpreadPips != 3.5 {
		t.Errorf("rules = %+v", got)
	}
	if got := cfg.SymbolRulesFor("USDJPY"); got.MaxSpreadPips != 0 {
		t.Errorf("unknown symbol must return zero rules, got %+v", got)
	}
}

func TestTierForFallsBackToLow(t *testing.T) {
	cfg := validConfig()
	if got := cfg.TierFor("high"); got.DefaultRiskPct != 1.0 {
		t.Errorf("high tier = %+v", got)
	}
	if got := cfg.TierFor("aggressive"); got.DefaultRiskPct != 0.5 {
		t.Errorf("unknown tier must fall back to low, got %+v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TICK_INTERVAL_SEC", "5")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SERVER_PRODUCTION", "true")

	cfg := defaults()
	applyEnvOverrides(cfg)
	if cfg.EngineConfig.TickIntervalSec != 5 {
		t.Errorf("tick interval = %d", cfg.EngineConfig.TickIntervalSec)
	}
	if cfg.DatabaseConfig.Host != "db.internal" {
		t.Errorf("db host = %s", cfg.DatabaseConfig.Host)
	}
	if !cfg.ServerConfig.ProductionMode {
		t.Error("production mode override lost")
	}
}
