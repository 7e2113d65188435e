package audit

import (
	"io"

	"smc-trading-core/internal/events"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Trail writes an append-only record of order lifecycle events and account
// state transitions. Records are zerolog JSON lines tagged stream=audit so
// downstream collectors can split them from operational logs. Each record
// carries its own id; the trail is the reconciliation source when the
// broker's history and the decision log disagree.
type Trail struct {
	logger zerolog.Logger
}

// New creates a trail writing to w.
func New(w io.Writer) *Trail {
	return &Trail{
		logger: zerolog.New(w).With().Timestamp().Str("stream", "audit").Logger(),
	}
}

// Observe subscribes the trail to the bus. Order lifecycle events, kill
// switch transitions and avoid window phases are recorded; per-tick noise
// (signals, equity updates) is not.
func (t *Trail) Observe(bus *events.EventBus) {
	bus.SubscribeAll(func(e events.Event) {
		if !auditable(e.Type) {
			return
		}
		t.Record(e)
	})
}

func auditable(typ events.EventType) bool {
	if events.KnownOrderEventTypes[typ] {
		return true
	}
	return typ == events.EventKillSwitchChange || typ == events.EventAvoidWindow
}

// Record writes one audit line.
func (t *Trail) Record(e events.Event) {
	entry := t.logger.Info().
		Str("audit_id", uuid.NewString()).
		Str("event", string(e.Type)).
		Time("event_time", e.Timestamp)
	for key, value := range e.Data {
		entry = entry.Interface(key, value)
	}
	entry.Send()
}
