package metrics

import (
	"net/http"

	"smc-trading-core/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments for the decision pipeline.
type Metrics struct {
	DecisionsTotal   *prometheus.CounterVec
	SkipReasonsTotal *prometheus.CounterVec
	OrdersSentTotal  *prometheus.CounterVec
	OrderEventsTotal *prometheus.CounterVec
	SignalsTotal     *prometheus.CounterVec
	KillSwitchActive *prometheus.GaugeVec
	Equity           *prometheus.GaugeVec
	Balance          *prometheus.GaugeVec
	DrawdownPct      *prometheus.GaugeVec
	OpenTrades       *prometheus.GaugeVec
}

// New registers all instruments on a fresh registry.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smc_decisions_total",
			Help: "Decision tick outcomes by account, symbol and decision.",
		}, []string{"account", "symbol", "decision"}),
		SkipReasonsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smc_skip_reasons_total",
			Help: "Skip reasons across all accounts.",
		}, []string{"reason"}),
		OrdersSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smc_orders_sent_total",
			Help: "Orders dispatched to broker bridges.",
		}, []string{"account", "symbol"}),
		OrderEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smc_order_events_total",
			Help: "Order lifecycle events received on the webhook.",
		}, []string{"event_type"}),
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "smc_signals_total",
			Help: "Signals generated by the strategy.",
		}, []string{"symbol", "direction"}),
		KillSwitchActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smc_kill_switch_active",
			Help: "1 while the account kill switch is active.",
		}, []string{"account"}),
		Equity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smc_account_equity",
			Help: "Latest account equity.",
		}, []string{"account"}),
		Balance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smc_account_balance",
			Help: "Latest account balance.",
		}, []string{"account"}),
		DrawdownPct: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smc_drawdown_pct",
			Help: "Session maximum drawdown percent.",
		}, []string{"account"}),
		OpenTrades: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smc_open_trades",
			Help: "Open trade count from the exposure tracker.",
		}, []string{"account"}),
	}
	return m, reg
}

// Observe subscribes the instruments to the event bus so every published
// event updates them without explicit wiring in the pipeline.
func (m *Metrics) Observe(bus *events.EventBus) {
	bus.Subscribe(events.EventDecision, func(e events.Event) {
		account, _ := e.Data["account_id"].(string)
		symbol, _ := e.Data["symbol"].(string)
		decision, _ := e.Data["decision"].(string)
		m.DecisionsTotal.WithLabelValues(account, symbol, decision).Inc()
		if reasons, ok := e.Data["reasons"].([]string); ok {
			for _, reason := range reasons {
				m.SkipReasonsTotal.WithLabelValues(reason).Inc()
			}
		}
	})

	bus.Subscribe(events.EventSignalGenerated, func(e events.Event) {
		symbol, _ := e.Data["symbol"].(string)
		direction, _ := e.Data["direction"].(string)
		m.SignalsTotal.WithLabelValues(symbol, direction).Inc()
	})

	bus.Subscribe(events.EventOrderSent, func(e events.Event) {
		account, _ := e.Data["account_id"].(string)
		symbol, _ := e.Data["symbol"].(string)
		m.OrdersSentTotal.WithLabelValues(account, symbol).Inc()
	})

	bus.Subscribe(events.EventKillSwitchChange, func(e events.Event) {
		account, _ := e.Data["account_id"].(string)
		active, _ := e.Data["active"].(bool)
		value := 0.0
		if active {
			value = 1.0
		}
		m.KillSwitchActive.WithLabelValues(account).Set(value)
	})

	bus.Subscribe(events.EventEquityUpdate, func(e events.Event) {
		account, _ := e.Data["account_id"].(string)
		if equity, ok := e.Data["equity"].(float64); ok {
			m.Equity.WithLabelValues(account).Set(equity)
		}
		if balance, ok := e.Data["balance"].(float64); ok {
			m.Balance.WithLabelValues(account).Set(balance)
		}
		if dd, ok := e.Data["drawdown_pct"].(float64); ok {
			m.DrawdownPct.WithLabelValues(account).Set(dd)
		}
	})

	bus.SubscribeAll(func(e events.Event) {
		if events.KnownOrderEventTypes[e.Type] {
			m.OrderEventsTotal.WithLabelValues(string(e.Type)).Inc()
		}
	})
}

// Handler serves the registry in prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
