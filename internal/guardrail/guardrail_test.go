package guardrail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"smc-trading-core/config"
	"smc-trading-core/internal/logging"
)

func window(score int) *NewsWindow {
	return &NewsWindow{Currency: "USD", EventName: "NFP", RiskScore: score}
}

func TestMapResponseLowTier(t *testing.T) {
	if v := MapResponse("low", true, nil); v.Mode != ModeNormal {
		t.Errorf("no window must be normal, got %s", v.Mode)
	}
	if v := MapResponse("low", true, window(29)); v.Mode != ModeNormal {
		t.Errorf("score 29 must pass for low, got %s", v.Mode)
	}
	// Boundary: exactly 30 blocks the low tier.
	if v := MapResponse("low", true, window(30)); v.Mode != ModeBlocked {
		t.Errorf("score 30 must block low, got %s", v.Mode)
	}
}

func TestMapResponseHighTier(t *testing.T) {
	if v := MapResponse("high", true, window(49)); v.Mode != ModeNormal {
		t.Errorf("score 49 must pass for high, got %s", v.Mode)
	}
	if v := MapResponse("high", true, window(50)); v.Mode != ModeReduced {
		t.Errorf("score 50 must reduce high, got %s", v.Mode)
	}
	if v := MapResponse("high", true, window(79)); v.Mode != ModeReduced {
		t.Errorf("score 79 must reduce high, got %s", v.Mode)
	}
	if v := MapResponse("high", true, window(80)); v.Mode != ModeBlocked {
		t.Errorf("score 80 must block high, got %s", v.Mode)
	}
}

func TestMapResponseSourceDenial(t *testing.T) {
	v := MapResponse("high", false, window(10))
	if v.Mode != ModeBlocked {
		t.Errorf("source denial must block regardless of score, got %s", v.Mode)
	}
	if v.Reason == "" {
		t.Error("a blocked verdict must carry a reason")
	}
}

func TestCheckOutageBlocks(t *testing.T) {
	c := NewClient(config.GuardrailConfig{BaseURL: "http://127.0.0.1:1", TimeoutSec: 1}, logging.Default())
	v := c.Check(context.Background(), "high")
	if v.Mode != ModeBlocked {
		t.Errorf("unreachable guardrail must block, got %s", v.Mode)
	}
}

func TestCheckAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/can-i-trade-now" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("strategy"); got != "low" {
			t.Errorf("strategy param = %q", got)
		}
		json.NewEncoder(w).Encode(canTradeResponse{
			CanTrade:          true,
			InsideAvoidWindow: true,
			ActiveWindow:      window(45),
		})
	}))
	defer srv.Close()

	c := NewClient(config.GuardrailConfig{BaseURL: srv.URL, TimeoutSec: 2}, logging.Default())
	v := c.Check(context.Background(), "low")
	if v.Mode != ModeBlocked {
		t.Errorf("score 45 must block the low tier, got %s", v.Mode)
	}
	if v.Window == nil || v.Window.RiskScore != 45 {
		t.Errorf("verdict must carry the active window: %+v", v.Window)
	}
}

func TestTodayWindows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/news-map/today" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(newsMapResponse{
			Date:         "2026-08-24",
			AvoidWindows: []NewsWindow{*window(60), *window(90)},
		})
	}))
	defer srv.Close()

	c := NewClient(config.GuardrailConfig{BaseURL: srv.URL, TimeoutSec: 2}, logging.Default())
	windows, err := c.TodayWindows(context.Background())
	if err != nil {
		t.Fatalf("today windows: %v", err)
	}
	if len(windows) != 2 || windows[1].RiskScore != 90 {
		t.Errorf("unexpected windows: %+v", windows)
	}
}
