package database

import (
	"context"
	"testing"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/logging"
)

func TestExitPlanCacheMemoryOnly(t *testing.T) {
	cache := NewExitPlanCache(config.RedisConfig{Enabled: false}, logging.Default())
	ctx := context.Background()

	if plan, err := cache.Load(ctx, "acct-1", 42); err != nil || plan != nil {
		t.Fatalf("empty cache must return nil plan, got %+v err=%v", plan, err)
	}

	plan := &ExitPlan{
		Ticket:     42,
		AccountID:  "acct-1",
		Symbol:     "XAUUSD",
		Direction:  "BUY",
		EntryPrice: 2600,
		InitialSL:  2598,
		OpenedAt:   time.Now().UTC(),
	}
	if err := cache.Save(ctx, plan); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := cache.Load(ctx, "acct-1", 42)
	if err != nil || got == nil {
		t.Fatalf("load: plan=%v err=%v", got, err)
	}
	if got.Symbol != "XAUUSD" || got.InitialSL != 2598 {
		t.Errorf("unexpected plan: %+v", got)
	}

	// Plans are account-scoped.
	if other, _ := cache.Load(ctx, "acct-2", 42); other != nil {
		t.Error("plan must not leak across accounts")
	}

	cache.Delete(ctx, "acct-1", 42)
	if got, _ := cache.Load(ctx, "acct-1", 42); got != nil {
		t.Error("deleted plan must be gone")
	}

	if err := cache.Save(ctx, nil); err == nil {
		t.Error("nil plan must be rejected")
	}
}
