package risk

import (
	"math"

	"smc-trading-core/config"
	"smc-trading-core/internal/broker"
	"smc-trading-core/internal/guardrail"
)

// Rejection reasons surfaced on the decision record.
const (
	ReasonDailyLossLimit   = "daily_loss_limit_reached"
	ReasonMaxTrades        = "max_trades_reached"
	ReasonGuardrailBlocked = "guardrail_blocked"
)

// minLot is the floor every broker accepts; VolumeMin may raise it.
const minLot = 0.01

// Inputs is the per-evaluation account state the manager decides on. The
// caller assembles it fresh each tick; the manager holds no mutable state.
type Inputs struct {
	Symbol         string
	Tier           string
	Equity         float64
	DayStartEquity float64
	ClosedPnLToday float64
	TradesToday    int
	GuardrailMode  guardrail.Mode
}

// Decision is the outcome of a risk check.
type Decision struct {
	Allowed         bool
	Reason          string
	AdjustedRiskPct float64
}

// Manager applies per-tier daily caps and sizes positions from broker
// contract metadata. One instance per account.
type Manager struct {
	tiers map[string]config.RiskTier
	rules func(symbol string) config.SymbolRules
}

// NewManager creates a risk manager over the tier table and symbol rules.
func NewManager(tiers map[string]config.RiskTier, rules func(string) config.SymbolRules) *Manager {
	return &Manager{tiers: tiers, rules: rules}
}

func (m *Manager) tierFor(name string) config.RiskTier {
	if tier, ok := m.tiers[name]; ok {
		return tier
	}
	return m.tiers["low"]
}

// CanTakeNewTrade checks the tier's daily loss cap and trade count and maps
// the guardrail mode into the adjusted risk percent.
func (m *Manager) CanTakeNewTrade(in Inputs) Decision {
	if in.GuardrailMode == guardrail.ModeBlocked {
		return Decision{Reason: ReasonGuardrailBlocked}
	}

	tier := m.tierFor(in.Tier)

	if tier.MaxDailyLossPct > 0 && in.DayStartEquity > 0 {
		limit := in.DayStartEquity * tier.MaxDailyLossPct / 100
		if in.ClosedPnLToday <= -limit {
			return Decision{Reason: ReasonDailyLossLimit}
		}
	}
	if tier.MaxTradesPerDay > 0 && in.TradesToday >= tier.MaxTradesPerDay {
		return Decision{Reason: ReasonMaxTrades}
	}

	pct := tier.DefaultRiskPct
	if rules := m.rules(in.Symbol); rules.RiskPctOverride > 0 {
		pct = rules.RiskPctOverride
	}
	if in.GuardrailMode == guardrail.ModeReduced {
		pct /= 2
	}
	return Decision{Allowed: true, AdjustedRiskPct: pct}
}

// PositionSize converts a risk percent and SL distance (in price units) into
// a lot size using the broker's contract metadata, clamped to the symbol's
// volume bounds and snapped down to the volume step.
func PositionSize(info *broker.SymbolInfo, equity, riskPct, slDistance float64) float64 {
	if info == nil || info.PipSize <= 0 || info.PipValuePerLot <= 0 || slDistance <= 0 || equity <= 0 || riskPct <= 0 {
		return 0
	}

	riskAmount := equity * riskPct / 100
	slPips := slDistance / info.PipSize
	lot := riskAmount / (slPips * info.PipValuePerLot)

	if info.VolumeStep > 0 {
		// Snap down to the step; the epsilon absorbs float division noise.
		lot = math.Floor(lot/info.VolumeStep+1e-6) * info.VolumeStep
	}

	floor := minLot
	if info.VolumeMin > floor {
		floor = info.VolumeMin
	}
	if lot < floor {
		lot = floor
	}
	if info.VolumeMax > 0 && lot > info.VolumeMax {
		lot = info.VolumeMax
	}
	return lot
}
