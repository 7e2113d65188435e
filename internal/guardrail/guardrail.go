package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/logging"
)

// Mode is the guardrail verdict for a decision tick.
type Mode string

const (
	ModeNormal  Mode = "normal"
	ModeReduced Mode = "reduced"
	ModeBlocked Mode = "blocked"
)

// Risk-score cut lines per strategy tier.
const (
	lowTierBlockScore   = 30
	highTierReduceScore = 50
	highTierBlockScore  = 80
)

// NewsWindow is one avoid window from the news source.
type NewsWindow struct {
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Currency   string    `json:"currency"`
	Impact     string    `json:"impact"`
	EventName  string    `json:"event_name"`
	RiskScore  int       `json:"risk_score"`
	IsCritical bool      `json:"is_critical"`
	Reason     string    `json:"reason,omitempty"`
}

// Verdict is the mapped guardrail outcome.
type Verdict struct {
	Mode   Mode
	Reason string
	Window *NewsWindow
}

type canTradeResponse struct {
	CanTrade          bool        `json:"can_trade"`
	InsideAvoidWindow bool        `json:"inside_avoid_window"`
	ActiveWindow      *NewsWindow `json:"active_window,omitempty"`
}

type newsMapResponse struct {
	Date         string       `json:"date"`
	AvoidWindows []NewsWindow `json:"avoid_windows"`
}

// Client talks to the news guardrail service. An unreachable service maps to
// blocked: trading halts until the source recovers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a guardrail client from config.
func NewClient(cfg config.GuardrailConfig, logger *logging.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithComponent("guardrail"),
	}
}

// Check queries the source and maps the response to a mode for the tier.
func (c *Client) Check(ctx context.Context, tier string) Verdict {
	var resp canTradeResponse
	endpoint := c.baseURL + "/can-i-trade-now?strategy=" + url.QueryEscape(tier)
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		c.logger.Warn("guardrail unreachable, trading blocked", "error", err)
		return Verdict{Mode: ModeBlocked, Reason: fmt.Sprintf("guardrail unavailable: %v", err)}
	}
	return MapResponse(tier, resp.CanTrade, resp.ActiveWindow)
}

// MapResponse applies the risk-score policy: tier low blocks at score >= 30;
// tier high reduces at 50-79 and blocks at >= 80. A source-level can_trade
// denial always blocks.
func MapResponse(tier string, canTrade bool, window *NewsWindow) Verdict {
	if !canTrade {
		reason := "news source denied trading"
		if window != nil {
			reason = windowReason(window)
		}
		return Verdict{Mode: ModeBlocked, Reason: reason, Window: window}
	}
	if window == nil {
		return Verdict{Mode: ModeNormal}
	}

	score := window.RiskScore
	switch tier {
	case "high":
		if score >= highTierBlockScore {
			return Verdict{Mode: ModeBlocked, Reason: windowReason(window), Window: window}
		}
		if score >= highTierReduceScore {
			return Verdict{Mode: ModeReduced, Reason: windowReason(window), Window: window}
		}
	default: // "low" and anything unrecognized take the strict path
		if score >= lowTierBlockScore {
			return Verdict{Mode: ModeBlocked, Reason: windowReason(window), Window: window}
		}
	}
	return Verdict{Mode: ModeNormal, Window: window}
}

func windowReason(w *NewsWindow) string {
	return fmt.Sprintf("%s %s (risk score %d)", w.Currency, w.EventName, w.RiskScore)
}

// TodayWindows fetches today's avoid windows for the window manager.
func (c *Client) TodayWindows(ctx context.Context) ([]NewsWindow, error) {
	var resp newsMapResponse
	if err := c.getJSON(ctx, c.baseURL+"/news-map/today", &resp); err != nil {
		return nil, err
	}
	return resp.AvoidWindows, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("guardrail API %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
