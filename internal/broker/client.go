package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"smc-trading-core/internal/circuit"
)

// ErrOrderFlowUnavailable is returned when the bridge answers 404 for the
// order-flow endpoint. The feature is optional on the terminal side.
var ErrOrderFlowUnavailable = errors.New("order-flow endpoint not available")

// Client talks to one broker bridge instance. One client per account;
// connections are pooled by the underlying http.Client.
type Client struct {
	baseURL    string
	login      string
	httpClient *http.Client
	breaker    *circuit.Breaker

	mu          sync.RWMutex
	symbolInfos map[string]SymbolInfo
}

// NewClient creates a bridge client. Timeout applies per request. A run of
// transport failures opens a circuit so a dead bridge fails fast instead of
// stalling every caller on the timeout.
func NewClient(baseURL, login string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		login:       login,
		httpClient:  &http.Client{Timeout: timeout},
		breaker:     circuit.New(5, 30*time.Second),
		symbolInfos: make(map[string]SymbolInfo),
	}
}

// BaseURL returns the bridge address this client is bound to.
func (c *Client) BaseURL() string { return c.baseURL }

// GetPrice fetches the current bid/ask for a symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (*PriceQuote, error) {
	var quote PriceQuote
	if err := c.getJSON(ctx, "/api/v1/price/"+url.PathEscape(symbol), &quote); err != nil {
		return nil, fmt.Errorf("fetching price for %s: %w", symbol, err)
	}
	return &quote, nil
}

// GetHistory fetches M1 history for the last N days, ascending by time.
// The bridge is not trusted to sort; bars are re-sorted here.
func (c *Client) GetHistory(ctx context.Context, symbol, timeframe string, days int) ([]HistoryBar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("timeframe", timeframe)
	params.Set("days", strconv.Itoa(days))

	var bars []HistoryBar
	if err := c.getJSON(ctx, "/api/v1/history?"+params.Encode(), &bars); err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", symbol, err)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })
	return bars, nil
}

// GetSymbols fetches the symbols the terminal exposes.
func (c *Client) GetSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	if err := c.getJSON(ctx, "/api/v1/symbols", &symbols); err != nil {
		return nil, fmt.Errorf("fetching symbols: %w", err)
	}
	return symbols, nil
}

// GetOpenPositions fetches all open positions.
func (c *Client) GetOpenPositions(ctx context.Context) ([]Position, error) {
	var resp positionsResponse
	if err := c.getJSON(ctx, "/api/v1/open-positions", &resp); err != nil {
		return nil, fmt.Errorf("fetching open positions: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("open positions: bridge error: %s", resp.Error)
	}
	return resp.Positions, nil
}

// GetPendingOrders fetches all pending orders.
func (c *Client) GetPendingOrders(ctx context.Context) ([]PendingOrder, error) {
	var resp pendingOrdersResponse
	if err := c.getJSON(ctx, "/api/v1/pending-orders", &resp); err != nil {
		return nil, fmt.Errorf("fetching pending orders: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("pending orders: bridge error: %s", resp.Error)
	}
	return resp.Orders, nil
}

// GetAccountSummary fetches balance and equity.
func (c *Client) GetAccountSummary(ctx context.Context) (*AccountSummary, error) {
	var summary AccountSummary
	if err := c.getJSON(ctx, "/api/v1/account-summary", &summary); err != nil {
		return nil, fmt.Errorf("fetching account summary: %w", err)
	}
	if !summary.Success {
		return nil, fmt.Errorf("account summary: bridge reported failure")
	}
	return &summary, nil
}

// GetOrderFlow fetches the bid/ask volume snapshot for a symbol.
// Returns ErrOrderFlowUnavailable on 404.
func (c *Client) GetOrderFlow(ctx context.Context, symbol string) (*OrderFlowSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/order-flow/"+url.PathEscape(symbol), nil)
	if err != nil {
		return nil, err
	}
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("fetching order flow for %s: %w", symbol, circuit.ErrOpen)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.Record(false)
		return nil, fmt.Errorf("fetching order flow for %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	c.breaker.Record(resp.StatusCode < http.StatusInternalServerError)

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrOrderFlowUnavailable
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading order flow response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("order flow API error: %s", string(body))
	}
	var snapshot OrderFlowSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("parsing order flow response: %w", err)
	}
	return &snapshot, nil
}

// LoadSymbolInfo fetches and caches per-symbol contract metadata. Called once
// at startup for each traded symbol; sizing refuses to guess these values.
func (c *Client) LoadSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	c.mu.RLock()
	if info, ok := c.symbolInfos[symbol]; ok {
		c.mu.RUnlock()
		return &info, nil
	}
	c.mu.RUnlock()

	var info SymbolInfo
	if err := c.getJSON(ctx, "/api/v1/symbol-info/"+url.PathEscape(symbol), &info); err != nil {
		return nil, fmt.Errorf("fetching symbol info for %s: %w", symbol, err)
	}
	if info.PipSize <= 0 || info.PipValuePerLot <= 0 || info.VolumeStep <= 0 {
		return nil, fmt.Errorf("symbol info for %s is incomplete", symbol)
	}
	c.mu.Lock()
	c.symbolInfos[symbol] = info
	c.mu.Unlock()
	return &info, nil
}

// SymbolInfoFor returns cached metadata, nil when not loaded.
func (c *Client) SymbolInfoFor(symbol string) *SymbolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if info, ok := c.symbolInfos[symbol]; ok {
		return &info
	}
	return nil
}

// OpenTrade submits a new trade to the bridge.
func (c *Client) OpenTrade(ctx context.Context, req *OpenTradeRequest) (*TradeResponse, error) {
	return c.postTrade(ctx, "/api/v1/trades/open", req)
}

// CloseTrade closes a position by ticket.
func (c *Client) CloseTrade(ctx context.Context, ticket int64, reason string) (*TradeResponse, error) {
	return c.postTrade(ctx, "/api/v1/trades/close", map[string]interface{}{
		"ticket": ticket,
		"reason": reason,
	})
}

// CancelTrade cancels a pending order by ticket.
func (c *Client) CancelTrade(ctx context.Context, ticket int64) (*TradeResponse, error) {
	return c.postTrade(ctx, "/api/v1/trades/cancel", map[string]interface{}{"ticket": ticket})
}

// ModifyTrade adjusts stop loss and/or take profit on a position.
func (c *Client) ModifyTrade(ctx context.Context, ticket int64, stopLoss, takeProfit *float64) (*TradeResponse, error) {
	body := map[string]interface{}{"ticket": ticket}
	if stopLoss != nil {
		body["stop_loss"] = *stopLoss
	}
	if takeProfit != nil {
		body["take_profit"] = *takeProfit
	}
	return c.postTrade(ctx, "/api/v1/trades/modify", body)
}

// PartialClose closes a percentage of a position's volume.
func (c *Client) PartialClose(ctx context.Context, ticket int64, volumePercent float64) (*TradeResponse, error) {
	return c.postTrade(ctx, "/api/v1/trades/partial-close", map[string]interface{}{
		"ticket":         ticket,
		"volume_percent": volumePercent,
	})
}

func (c *Client) postTrade(ctx context.Context, path string, body interface{}) (*TradeResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("posting %s: %w", path, circuit.ErrOpen)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.Record(false)
		return nil, fmt.Errorf("posting %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.breaker.Record(resp.StatusCode < http.StatusInternalServerError)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var tradeResp TradeResponse
	if err := json.Unmarshal(data, &tradeResp); err != nil {
		return nil, fmt.Errorf("parsing response from %s: %s", path, string(data))
	}
	if !tradeResp.Success {
		return &tradeResp, &TradeError{Code: tradeResp.Error, Context: tradeResp.Context}
	}
	return &tradeResp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if !c.breaker.Allow() {
		return fmt.Errorf("%s: %w", path, circuit.ErrOpen)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.Record(false)
		return err
	}
	defer resp.Body.Close()
	c.breaker.Record(resp.StatusCode < http.StatusInternalServerError)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
