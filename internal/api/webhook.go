package api

import (
	"net/http"
	"strconv"
	"time"

	"smc-trading-core/internal/database"
	"smc-trading-core/internal/events"

	"github.com/gin-gonic/gin"
)

// orderEventRequest is the webhook body posted by broker bridges.
type orderEventRequest struct {
	Source     string   `json:"source"`
	EventType  string   `json:"event_type"`
	Timestamp  string   `json:"timestamp"`
	Ticket     int64    `json:"ticket"`
	Symbol     string   `json:"symbol"`
	Direction  string   `json:"direction"`
	Volume     float64  `json:"volume"`
	EntryPrice float64  `json:"entry_price"`
	ExitPrice  float64  `json:"exit_price"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	Commission float64  `json:"commission"`
	Swap       float64  `json:"swap"`
	Profit     float64  `json:"profit"`
	Reason     string   `json:"reason"`
	Comment    string   `json:"comment"`
}

// handleOrderEvent validates, persists and fans out one bridge event.
// Validation failures are the caller's problem; persistence failures are ours
// and return 500 so the bridge retries.
func (s *Server) handleOrderEvent(c *gin.Context) {
	var req orderEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "detail": err.Error()})
		return
	}

	if req.Source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "detail": "source is required"})
		return
	}
	if !events.KnownOrderEventTypes[events.EventType(req.EventType)] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "detail": "unknown event_type: " + req.EventType})
		return
	}
	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "detail": "timestamp must be RFC3339"})
		return
	}

	event := &database.OrderEvent{
		Time:       ts.UTC(),
		Source:     req.Source,
		EventType:  req.EventType,
		Ticket:     req.Ticket,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Volume:     req.Volume,
		EntryPrice: req.EntryPrice,
		ExitPrice:  req.ExitPrice,
		SL:         req.StopLoss,
		TP:         req.TakeProfit,
		Commission: req.Commission,
		Swap:       req.Swap,
		Profit:     req.Profit,
		Reason:     req.Reason,
		Comment:    req.Comment,
	}

	if err := s.store.InsertOrderEvent(c.Request.Context(), event); err != nil {
		s.logger.Error("failed to persist order event", "ticket", event.Ticket, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failed"})
		return
	}

	if req.EventType == string(events.EventPositionClosed) {
		if handler, ok := s.closedHandlers[req.Source]; ok {
			if err := handler(c.Request.Context(), event); err != nil {
				s.logger.Error("position closed handler failed", "ticket", event.Ticket, "error", err)
			}
		} else {
			s.logger.Warn("position_closed from unknown source", "source", req.Source)
		}
	}

	if s.bus != nil {
		s.bus.PublishOrderEvent(events.EventType(req.EventType), req.Source, req.Ticket, req.Symbol,
			map[string]interface{}{
				"direction": req.Direction,
				"volume":    req.Volume,
				"profit":    req.Profit,
				"reason":    req.Reason,
			})
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleOrderEventsForTicket(c *gin.Context) {
	ticket, err := strconv.ParseInt(c.Param("ticket"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "detail": "ticket must be numeric"})
		return
	}
	list, err := s.store.OrderEventsForTicket(c.Request.Context(), ticket)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket, "events": list})
}
