package killswitch

import (
	"context"
	"testing"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/logging"
)

type recordingStore struct {
	events []database.KillSwitchEvent
}

func (r *recordingStore) InsertKillSwitchEvent(_ context.Context, e *database.KillSwitchEvent) error {
	r.events = append(r.events, *e)
	return nil
}

func testConfig() config.KillSwitchConfig {
	return config.KillSwitchConfig{
		DailyMaxLossCurrency: 200,
		MaxLosingStreak:      4,
		MaxDailyTrades:       10,
		AutoResumeNextDay:    true,
		AutoResumeNextWeek:   true,
		Timezone:             "America/New_York",
	}
}

func newTestSwitch(store *recordingStore) *KillSwitch {
	return New(testConfig(), "acct-1", store, nil, logging.Default())
}

func TestDailyLossActivation(t *testing.T) {
	store := &recordingStore{}
	k := newTestSwitch(store)

	st := k.Evaluate(context.Background(), Inputs{DailyClosedPnL: -210})
	if !st.Active {
		t.Fatal("expected activation at -210 against a 200 cap")
	}
	if len(st.Reasons) != 1 || st.Reasons[0] != "Daily loss limit breached: -210.00 <= -200" {
		t.Errorf("reason = %q", st.Reasons)
	}
	if len(store.events) != 1 || !store.events[0].Active {
		t.Errorf("transition must be persisted: %+v", store.events)
	}
}

func TestStaysActiveUntilResume(t *testing.T) {
	k := newTestSwitch(&recordingStore{})
	ctx := context.Background()

	k.Evaluate(ctx, Inputs{DailyClosedPnL: -210})
	// Healthy inputs on the same day must not clear the switch.
	st := k.Evaluate(ctx, Inputs{DailyClosedPnL: 0})
	if !st.Active {
		t.Error("switch must stay active until auto-resume or reset")
	}
}

func TestNoActivationUnderLimits(t *testing.T) {
	k := newTestSwitch(&recordingStore{})
	st := k.Evaluate(context.Background(), Inputs{
		DailyClosedPnL:    -199.99,
		ConsecutiveLosses: 3,
		DailyTrades:       9,
	})
	if st.Active {
		t.Errorf("under every limit must stay inactive, reasons=%v", st.Reasons)
	}
}

func TestLosingStreakAndTradeCount(t *testing.T) {
	k := newTestSwitch(&recordingStore{})
	st := k.Evaluate(context.Background(), Inputs{
		ConsecutiveLosses: 4,
		DailyTrades:       10,
	})
	if !st.Active || len(st.Reasons) != 2 {
		t.Fatalf("expected two reasons, got %v", st.Reasons)
	}
	if st.Reasons[0] != "Losing streak: 4 >= 4" {
		t.Errorf("streak reason = %q", st.Reasons[0])
	}
	if st.Reasons[1] != "Daily trade count reached: 10 >= 10" {
		t.Errorf("count reason = %q", st.Reasons[1])
	}
}

func TestAutoResumeOnNewDay(t *testing.T) {
	store := &recordingStore{}
	k := newTestSwitch(store)
	ctx := context.Background()

	loc, _ := time.LoadLocation("America/New_York")
	day1 := time.Date(2026, 8, 24, 15, 0, 0, 0, loc)
	day2 := time.Date(2026, 8, 25, 9, 30, 0, 0, loc)

	// Pin the marker to day1, trip the switch, then cross midnight.
	k.Evaluate(ctx, Inputs{Now: day1})
	st := k.Evaluate(ctx, Inputs{DailyClosedPnL: -210, Now: day1})
	if !st.Active {
		t.Fatal("setup: switch must be active on day1")
	}

	st = k.Evaluate(ctx, Inputs{DailyClosedPnL: 0, Now: day2})
	if st.Active {
		t.Errorf("new local day must auto-resume, reasons=%v", st.Reasons)
	}

	var last database.KillSwitchEvent
	if len(store.events) == 0 {
		t.Fatal("deactivation must be persisted")
	}
	last = store.events[len(store.events)-1]
	if last.Active || last.Reasons[0] != "new trading day" {
		t.Errorf("last transition = %+v", last)
	}
}

func TestAutoResumeRetripsOnFreshBreach(t *testing.T) {
	k := newTestSwitch(&recordingStore{})
	ctx := context.Background()

	loc, _ := time.LoadLocation("America/New_York")
	day1 := time.Date(2026, 8, 24, 15, 0, 0, 0, loc)
	day2 := time.Date(2026, 8, 25, 9, 30, 0, 0, loc)

	k.Evaluate(ctx, Inputs{Now: day1})
	k.Evaluate(ctx, Inputs{DailyClosedPnL: -210, Now: day1})

	// Day 2 opens already beyond the cap: resume then re-trip in one pass.
	st := k.Evaluate(ctx, Inputs{DailyClosedPnL: -250, Now: day2})
	if !st.Active {
		t.Error("a fresh breach on the new day must trip again")
	}
}

func TestManualReset(t *testing.T) {
	k := newTestSwitch(&recordingStore{})
	ctx := context.Background()

	k.Evaluate(ctx, Inputs{DailyClosedPnL: -210})
	k.Reset(ctx)
	if k.Status().Active {
		t.Error("manual reset must clear the switch")
	}
}
