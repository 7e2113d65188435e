package pnl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/logging"
)

type fakeStore struct {
	trades    []database.LiveTrade
	snapshots []database.EquitySnapshot
	streaks   map[string]*database.SymbolLossStreak
	closedPnL float64
	seen      map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{streaks: map[string]*database.SymbolLossStreak{}, seen: map[string]bool{}}
}

func (f *fakeStore) InsertLiveTrade(_ context.Context, t *database.LiveTrade) (bool, error) {
	key := fmt.Sprintf("%d@%d", t.Ticket, t.ExitTime.UnixNano())
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.trades = append(f.trades, *t)
	return true, nil
}

func (f *fakeStore) InsertEquitySnapshot(_ context.Context, s *database.EquitySnapshot) error {
	f.snapshots = append(f.snapshots, *s)
	return nil
}

func (f *fakeStore) ClosedPnLSince(_ context.Context, _ string, _ time.Time) (float64, error) {
	return f.closedPnL, nil
}

func (f *fakeStore) GetSymbolLossStreak(_ context.Context, symbol string) (*database.SymbolLossStreak, error) {
	if s, ok := f.streaks[symbol]; ok {
		cp := *s
		return &cp, nil
	}
	return &database.SymbolLossStreak{Symbol: symbol}, nil
}

func (f *fakeStore) UpsertSymbolLossStreak(_ context.Context, s *database.SymbolLossStreak) error {
	cp := *s
	// The day column is a bare DATE; reads return it as midnight UTC.
	if !cp.Day.IsZero() {
		y, m, d := cp.Day.Date()
		cp.Day = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	f.streaks[s.Symbol] = &cp
	return nil
}

type fakeBroker struct {
	summary *broker.AccountSummary
	err     error
}

func (f *fakeBroker) GetAccountSummary(_ context.Context) (*broker.AccountSummary, error) {
	return f.summary, f.err
}

func testLossCfg() config.LossStreakConfig {
	return config.LossStreakConfig{
		PauseAfterConsecutiveLosses: 2,
		PauseDurationHours:          6,
		PauseAfterDailyLosses:       3,
	}
}

func newTestPnL(store *fakeStore, b *fakeBroker) *LivePnL {
	return New("acct-1", store, b, nil, testLossCfg(), "America/New_York", time.Minute, logging.Default())
}

func closedEvent(ticket int64, profit, commission, swap float64, at time.Time) *database.OrderEvent {
	return &database.OrderEvent{
		Time:       at,
		EventType:  "position_closed",
		Ticket:     ticket,
		Symbol:     "XAUUSD",
		Direction:  "BUY",
		Volume:     0.5,
		EntryPrice: 2600,
		ExitPrice:  2604,
		Commission: commission,
		Swap:       swap,
		Profit:     profit,
		Reason:     "tp_hit",
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestProfitNetSignConvention(t *testing.T) {
	// Brokers report commission and swap with inconsistent signs; both
	// always cost money here.
	if got := ProfitNet(100, -7, -3); !approx(got, 90) {
		t.Errorf("negative-signed costs: got %v", got)
	}
	if got := ProfitNet(100, 7, 3); !approx(got, 90) {
		t.Errorf("positive-signed costs: got %v", got)
	}
	if got := ProfitNet(-50, 7, 0); !approx(got, -57) {
		t.Errorf("losing trade: got %v", got)
	}
}

func TestHandlePositionClosedRecordsNet(t *testing.T) {
	store := newFakeStore()
	p := newTestPnL(store, &fakeBroker{})

	at := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	if err := p.HandlePositionClosed(context.Background(), closedEvent(100, 120, -5, -1, at)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(store.trades))
	}
	tr := store.trades[0]
	if !approx(tr.ProfitNet, 114) || !approx(tr.ProfitGross, 120) {
		t.Errorf("net=%v gross=%v", tr.ProfitNet, tr.ProfitGross)
	}
	if tr.AccountID != "acct-1" || tr.ExitReason != "tp_hit" {
		t.Errorf("trade = %+v", tr)
	}
}

func TestHandlePositionClosedDeduplicates(t *testing.T) {
	store := newFakeStore()
	p := newTestPnL(store, &fakeBroker{})
	ctx := context.Background()

	at := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	e := closedEvent(100, -40, 0, 0, at)
	p.HandlePositionClosed(ctx, e)
	p.HandlePositionClosed(ctx, e)

	if len(store.trades) != 1 {
		t.Fatalf("replay must not duplicate, got %d trades", len(store.trades))
	}
	// The streak counts the loss once.
	if s := store.streaks["XAUUSD"]; s == nil || s.ConsecutiveLosses != 1 {
		t.Errorf("streak = %+v", store.streaks["XAUUSD"])
	}
}

func TestLossStreakPauses(t *testing.T) {
	store := newFakeStore()
	p := newTestPnL(store, &fakeBroker{})
	ctx := context.Background()

	at := time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC)
	p.HandlePositionClosed(ctx, closedEvent(1, -40, 0, 0, at))
	s := store.streaks["XAUUSD"]
	if s.ConsecutiveLosses != 1 || s.PausedUntil != nil {
		t.Fatalf("one loss must not pause: %+v", s)
	}

	p.HandlePositionClosed(ctx, closedEvent(2, -30, 0, 0, at.Add(10*time.Minute)))
	s = store.streaks["XAUUSD"]
	if s.ConsecutiveLosses != 2 || s.PausedUntil == nil {
		t.Fatalf("second consecutive loss must pause: %+v", s)
	}
	wantUntil := at.Add(10 * time.Minute).Add(6 * time.Hour)
	if !s.PausedUntil.Equal(wantUntil) {
		t.Errorf("pause until %v, want %v", s.PausedUntil, wantUntil)
	}

	// A winner clears both the streak and the pause.
	p.HandlePositionClosed(ctx, closedEvent(3, 25, 0, 0, at.Add(20*time.Minute)))
	s = store.streaks["XAUUSD"]
	if s.ConsecutiveLosses != 0 || s.PausedUntil != nil {
		t.Errorf("winner must clear the streak: %+v", s)
	}
}

func TestDailyLossesPauseUntilEndOfDay(t *testing.T) {
	store := newFakeStore()
	p := newTestPnL(store, &fakeBroker{})
	ctx := context.Background()

	loc, _ := time.LoadLocation("America/New_York")
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, loc)
	for i := int64(1); i <= 3; i++ {
		p.HandlePositionClosed(ctx, closedEvent(i, -10, 0, 0, at.Add(time.Duration(i)*time.Minute)))
	}
	s := store.streaks["XAUUSD"]
	if s.DailyLosses != 3 || s.PausedUntil == nil {
		t.Fatalf("third daily loss must pause: %+v", s)
	}
	endOfDay := time.Date(2026, 8, 25, 0, 0, 0, 0, loc)
	if !s.PausedUntil.Equal(endOfDay) {
		t.Errorf("pause until %v, want local midnight %v", s.PausedUntil, endOfDay)
	}
}

func TestDailyLossCounterSurvivesDateRoundTrip(t *testing.T) {
	store := newFakeStore()
	// Seed the streak the way a database read returns it: the date as
	// midnight UTC, five hours away from New York midnight.
	store.streaks["XAUUSD"] = &database.SymbolLossStreak{
		Symbol:      "XAUUSD",
		Day:         time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		DailyLosses: 2,
	}
	p := newTestPnL(store, &fakeBroker{})

	loc, _ := time.LoadLocation("America/New_York")
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, loc)
	p.HandlePositionClosed(context.Background(), closedEvent(9, -10, 0, 0, at))

	s := store.streaks["XAUUSD"]
	if s.DailyLosses != 3 {
		t.Fatalf("same-day loss must increment the counter, got %d", s.DailyLosses)
	}
	if s.PausedUntil == nil {
		t.Fatal("third same-day loss must pause until end of day")
	}
}

func TestDailyLossCounterResetsOnNewDay(t *testing.T) {
	store := newFakeStore()
	p := newTestPnL(store, &fakeBroker{})
	ctx := context.Background()

	loc, _ := time.LoadLocation("America/New_York")
	day1 := time.Date(2026, 8, 24, 15, 0, 0, 0, loc)
	day2 := time.Date(2026, 8, 25, 9, 30, 0, 0, loc)

	p.HandlePositionClosed(ctx, closedEvent(1, -10, 0, 0, day1))
	p.HandlePositionClosed(ctx, closedEvent(2, -10, 0, 0, day2))

	s := store.streaks["XAUUSD"]
	if s.DailyLosses != 1 {
		t.Errorf("daily counter must reset at midnight, got %d", s.DailyLosses)
	}
	// Consecutive losses carry across days.
	if s.ConsecutiveLosses != 2 {
		t.Errorf("consecutive counter must carry over, got %d", s.ConsecutiveLosses)
	}
}

func TestWeekStartIsMonday(t *testing.T) {
	p := newTestPnL(newFakeStore(), &fakeBroker{})
	loc, _ := time.LoadLocation("America/New_York")

	// 2026-08-24 is a Monday.
	mon := time.Date(2026, 8, 24, 0, 0, 0, 0, loc)
	for _, now := range []time.Time{
		time.Date(2026, 8, 24, 0, 30, 0, 0, loc),
		time.Date(2026, 8, 27, 12, 0, 0, 0, loc),
		time.Date(2026, 8, 30, 23, 0, 0, 0, loc), // Sunday
	} {
		if got := p.WeekStart(now); !got.Equal(mon) {
			t.Errorf("WeekStart(%v) = %v, want %v", now, got, mon)
		}
	}
}

func TestSnapshotPersistsAndTracksDrawdown(t *testing.T) {
	store := newFakeStore()
	store.closedPnL = -42.5
	b := &fakeBroker{summary: &broker.AccountSummary{Balance: 10000, Equity: 10000}}
	p := newTestPnL(store, b)
	ctx := context.Background()

	p.Snapshot(ctx)
	b.summary = &broker.AccountSummary{Balance: 10000, Equity: 9800}
	p.Snapshot(ctx)
	b.summary = &broker.AccountSummary{Balance: 10000, Equity: 9900}
	p.Snapshot(ctx)

	if len(store.snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(store.snapshots))
	}
	last := store.snapshots[2]
	// Drawdown is the session maximum: 200 off a 10000 peak even after the
	// partial recovery.
	if !approx(last.DrawdownAbs, 200) || !approx(last.DrawdownPct, 2) {
		t.Errorf("drawdown abs=%v pct=%v", last.DrawdownAbs, last.DrawdownPct)
	}
	if !approx(last.ClosedPnLToday, -42.5) {
		t.Errorf("closed pnl today = %v", last.ClosedPnLToday)
	}
}

func TestSnapshotSkipsWhenBrokerOffline(t *testing.T) {
	store := newFakeStore()
	p := newTestPnL(store, &fakeBroker{err: errors.New("connection refused")})

	p.Snapshot(context.Background())
	if len(store.snapshots) != 0 {
		t.Error("broker outage must skip the snapshot")
	}
}
