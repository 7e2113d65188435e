package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

// Order lifecycle events. These mirror the webhook event_type values one to
// one so a bus event can be persisted or re-emitted without translation.
const (
	EventOrderSent              EventType = "order_sent"
	EventOrderRejected          EventType = "order_rejected"
	EventPositionOpened         EventType = "position_opened"
	EventPositionModified       EventType = "position_modified"
	EventPositionClosed         EventType = "position_closed"
	EventSLHit                  EventType = "sl_hit"
	EventTPHit                  EventType = "tp_hit"
	EventPartialClose           EventType = "partial_close"
	EventBreakEvenSet           EventType = "break_even_set"
	EventTrailSLMove            EventType = "trail_sl_move"
	EventTimeExit               EventType = "time_exit"
	EventCommissionExit         EventType = "commission_exit"
	EventKillSwitchForcedExit   EventType = "kill_switch_forced_exit"
	EventAutoExitStructureBreak EventType = "auto_exit_structure_break"
	EventError                  EventType = "error"
)

// System events outside the order lifecycle.
const (
	EventSignalGenerated  EventType = "signal_generated"
	EventDecision         EventType = "decision"
	EventKillSwitchChange EventType = "kill_switch_change"
	EventEquityUpdate     EventType = "equity_update"
	EventAvoidWindow      EventType = "avoid_window"
)

// KnownOrderEventTypes is the closed set the webhook accepts.
var KnownOrderEventTypes = map[EventType]bool{
	EventOrderSent: true, EventOrderRejected: true,
	EventPositionOpened: true, EventPositionModified: true, EventPositionClosed: true,
	EventSLHit: true, EventTPHit: true, EventPartialClose: true,
	EventBreakEvenSet: true, EventTrailSLMove: true,
	EventTimeExit: true, EventCommissionExit: true,
	EventKillSwitchForcedExit: true, EventAutoExitStructureBreak: true,
	EventError: true,
}

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run on their own
// goroutines so a slow consumer cannot stall the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishOrderEvent publishes one order lifecycle event for a ticket.
func (eb *EventBus) PublishOrderEvent(eventType EventType, accountID string, ticket int64, symbol string, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["account_id"] = accountID
	data["ticket"] = ticket
	data["symbol"] = symbol
	eb.Publish(Event{Type: eventType, Data: data})
}

// PublishSignal publishes a generated signal.
func (eb *EventBus) PublishSignal(symbol, direction, orderKind string, entry, sl, tp float64, reason string) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"direction":  direction,
			"order_kind": orderKind,
			"entry":      entry,
			"sl":         sl,
			"tp":         tp,
			"reason":     reason,
		},
	})
}

// PublishDecision publishes the outcome of one decision tick.
func (eb *EventBus) PublishDecision(accountID, symbol, decision string, reasons []string) {
	eb.Publish(Event{
		Type: EventDecision,
		Data: map[string]interface{}{
			"account_id": accountID,
			"symbol":     symbol,
			"decision":   decision,
			"reasons":    reasons,
		},
	})
}

// PublishKillSwitchChange publishes an activation or deactivation.
func (eb *EventBus) PublishKillSwitchChange(accountID string, active bool, reasons []string) {
	eb.Publish(Event{
		Type: EventKillSwitchChange,
		Data: map[string]interface{}{
			"account_id": accountID,
			"active":     active,
			"reasons":    reasons,
		},
	})
}

// PublishEquityUpdate publishes a periodic equity observation.
func (eb *EventBus) PublishEquityUpdate(accountID string, balance, equity, drawdownPct float64) {
	eb.Publish(Event{
		Type: EventEquityUpdate,
		Data: map[string]interface{}{
			"account_id":   accountID,
			"balance":      balance,
			"equity":       equity,
			"drawdown_pct": drawdownPct,
		},
	})
}

// BroadcastFunc is a callback for pushing events to connected clients.
// The api package wires these at startup so lifecycle packages can broadcast
// without importing it.
type BroadcastFunc func(data interface{})

var (
	broadcastOrderEvent BroadcastFunc
	broadcastDecision   BroadcastFunc
	broadcastEquity     BroadcastFunc
	broadcastKillSwitch BroadcastFunc
)

// SetBroadcastOrderEvent sets the callback for order event broadcasts
func SetBroadcastOrderEvent(fn BroadcastFunc) { broadcastOrderEvent = fn }

// SetBroadcastDecision sets the callback for decision broadcasts
func SetBroadcastDecision(fn BroadcastFunc) { broadcastDecision = fn }

// SetBroadcastEquity sets the callback for equity broadcasts
func SetBroadcastEquity(fn BroadcastFunc) { broadcastEquity = fn }

// SetBroadcastKillSwitch sets the callback for kill switch broadcasts
func SetBroadcastKillSwitch(fn BroadcastFunc) { broadcastKillSwitch = fn }

// BroadcastOrderEvent pushes an order event to connected clients
func BroadcastOrderEvent(data interface{}) {
	if broadcastOrderEvent != nil {
		go broadcastOrderEvent(data)
	}
}

// BroadcastDecision pushes a decision to connected clients
func BroadcastDecision(data interface{}) {
	if broadcastDecision != nil {
		go broadcastDecision(data)
	}
}

// BroadcastEquity pushes an equity update to connected clients
func BroadcastEquity(data interface{}) {
	if broadcastEquity != nil {
		go broadcastEquity(data)
	}
}

// BroadcastKillSwitch pushes kill switch state to connected clients
func BroadcastKillSwitch(data interface{}) {
	if broadcastKillSwitch != nil {
		go broadcastKillSwitch(data)
	}
}
