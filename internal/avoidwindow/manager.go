package avoidwindow

import (
	"context"
	"math"
	"sync"
	"time"

	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/events"
	"smc-trading-core/internal/guardrail"
	"smc-trading-core/internal/logging"
)

// reentryTolerancePct bounds how far price may drift while an order sat
// canceled before it is considered stale and not resubmitted.
const reentryTolerancePct = 1.0

// Broker is the bridge surface the manager drives.
type Broker interface {
	GetPendingOrders(ctx context.Context) ([]broker.PendingOrder, error)
	GetOpenPositions(ctx context.Context) ([]broker.Position, error)
	GetPrice(ctx context.Context, symbol string) (*broker.PriceQuote, error)
	CancelTrade(ctx context.Context, ticket int64) (*broker.TradeResponse, error)
	CloseTrade(ctx context.Context, ticket int64, reason string) (*broker.TradeResponse, error)
	OpenTrade(ctx context.Context, req *broker.OpenTradeRequest) (*broker.TradeResponse, error)
}

// WindowSource loads today's avoid windows.
type WindowSource interface {
	TodayWindows(ctx context.Context) ([]guardrail.NewsWindow, error)
}

// Manager schedules timers around news avoid windows. On window entry it
// cancels pending orders and closes profitable positions; on exit it
// resubmits canceled orders whose entry is still close to market.
type Manager struct {
	accountID string
	symbols   map[string]bool
	client    Broker
	source    WindowSource
	bus       *events.EventBus
	logger    *logging.Logger

	mu       sync.Mutex
	canceled []broker.PendingOrder
	timers   []*time.Timer
}

// New creates the manager for one account. symbols is the account's traded
// set; orders and positions outside it are never touched.
func New(accountID string, symbols []string, client Broker, source WindowSource, bus *events.EventBus, logger *logging.Logger) *Manager {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return &Manager{
		accountID: accountID,
		symbols:   set,
		client:    client,
		source:    source,
		bus:       bus,
		logger:    logger.WithComponent("avoid_window"),
	}
}

// Start loads today's windows, schedules them, and reloads daily until ctx
// is canceled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		m.Reload(ctx)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.stopTimers()
				return
			case <-ticker.C:
				m.Reload(ctx)
			}
		}
	}()
}

// Reload replaces the scheduled window set with today's.
func (m *Manager) Reload(ctx context.Context) {
	windows, err := m.source.TodayWindows(ctx)
	if err != nil {
		m.logger.Warn("failed to load avoid windows", "error", err)
		return
	}
	m.Schedule(ctx, windows, time.Now())
}

// Schedule sets start/end timers for each window still ahead of now. A
// window already in progress fires its entry action immediately.
func (m *Manager) Schedule(ctx context.Context, windows []guardrail.NewsWindow, now time.Time) {
	m.stopTimers()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range windows {
		window := w
		if window.EndTime.Before(now) {
			continue
		}
		m.logger.Info("avoid window scheduled", "event", window.EventName,
			"start", window.StartTime.Format(time.RFC3339), "end", window.EndTime.Format(time.RFC3339))

		if window.StartTime.After(now) {
			m.timers = append(m.timers, time.AfterFunc(window.StartTime.Sub(now), func() {
				m.EnterWindow(ctx, &window)
			}))
		} else {
			go m.EnterWindow(ctx, &window)
		}
		m.timers = append(m.timers, time.AfterFunc(window.EndTime.Sub(now), func() {
			m.ExitWindow(ctx, &window)
		}))
	}
}

func (m *Manager) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}

// EnterWindow cancels pending orders and closes positions that are in
// profit. Losing positions are held through the window.
func (m *Manager) EnterWindow(ctx context.Context, w *guardrail.NewsWindow) {
	m.logger.Warn("entering avoid window", "event", w.EventName, "currency", w.Currency)
	m.publish(w, "start")

	if pending, err := m.client.GetPendingOrders(ctx); err != nil {
		m.logger.Error("failed to list pending orders", "error", err)
	} else {
		for _, order := range pending {
			if !m.symbols[order.Symbol] {
				continue
			}
			if _, err := m.client.CancelTrade(ctx, order.Ticket); err != nil {
				m.logger.Error("failed to cancel pending order", "ticket", order.Ticket, "error", err)
				continue
			}
			m.logger.Info("pending order canceled for avoid window", "ticket", order.Ticket, "symbol", order.Symbol)
			m.remember(order)
		}
	}

	positions, err := m.client.GetOpenPositions(ctx)
	if err != nil {
		m.logger.Error("failed to list positions", "error", err)
		return
	}
	for _, pos := range positions {
		if !m.symbols[pos.Symbol] {
			continue
		}
		if pos.Profit == nil || *pos.Profit < 0 {
			continue
		}
		if _, err := m.client.CloseTrade(ctx, pos.Ticket, "entering avoid window"); err != nil {
			m.logger.Error("failed to close position for avoid window", "ticket", pos.Ticket, "error", err)
			continue
		}
		m.logger.Info("profitable position closed for avoid window", "ticket", pos.Ticket, "symbol", pos.Symbol)
	}
}

// ExitWindow resubmits orders canceled on entry, as long as price has not
// drifted more than one percent from the planned entry.
func (m *Manager) ExitWindow(ctx context.Context, w *guardrail.NewsWindow) {
	m.logger.Info("avoid window ended", "event", w.EventName)
	m.publish(w, "end")

	m.mu.Lock()
	orders := m.canceled
	m.canceled = nil
	m.mu.Unlock()

	for _, order := range orders {
		quote, err := m.client.GetPrice(ctx, order.Symbol)
		if err != nil {
			m.logger.Error("no quote for resubmission", "symbol", order.Symbol, "error", err)
			continue
		}
		drift := math.Abs(quote.Mid()-order.EntryPrice) / order.EntryPrice * 100
		if drift > reentryTolerancePct {
			m.logger.Info("canceled order not resubmitted, price drifted",
				"ticket", order.Ticket, "symbol", order.Symbol, "drift_pct", drift)
			continue
		}

		req := &broker.OpenTradeRequest{
			Symbol:     order.Symbol,
			Direction:  order.Direction,
			OrderKind:  order.OrderKind,
			EntryPrice: order.EntryPrice,
			LotSize:    order.Volume,
		}
		if order.SL != nil {
			req.StopLoss = *order.SL
		}
		if order.TP != nil {
			req.TakeProfit = *order.TP
		}
		resp, err := m.client.OpenTrade(ctx, req)
		if err != nil {
			m.logger.Error("resubmission failed", "symbol", order.Symbol, "error", err)
			continue
		}
		m.logger.Info("order resubmitted after avoid window",
			"symbol", order.Symbol, "old_ticket", order.Ticket, "new_ticket", resp.Ticket)
	}
}

func (m *Manager) remember(order broker.PendingOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, order)
}

func (m *Manager) publish(w *guardrail.NewsWindow, phase string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type: events.EventAvoidWindow,
		Data: map[string]interface{}{
			"account_id": m.accountID,
			"phase":      phase,
			"event":      w.EventName,
			"currency":   w.Currency,
			"risk_score": w.RiskScore,
		},
	})
}
