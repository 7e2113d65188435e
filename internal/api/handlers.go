package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.core == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "core not attached"})
		return
	}
	c.JSON(http.StatusOK, s.core.Status())
}

func (s *Server) handleKillSwitch(c *gin.Context) {
	if s.core == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "core not attached"})
		return
	}
	c.JSON(http.StatusOK, s.core.KillSwitchStatus())
}

func (s *Server) handleKillSwitchReset(c *gin.Context) {
	if s.core == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "core not attached"})
		return
	}
	var req struct {
		AccountID string `json:"account_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "detail": "account_id is required"})
		return
	}
	if err := s.core.ResetKillSwitch(c.Request.Context(), req.AccountID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleExposure(c *gin.Context) {
	if s.core == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "core not attached"})
		return
	}
	c.JSON(http.StatusOK, s.core.ExposureSnapshot())
}

func (s *Server) handlePerformance(c *gin.Context) {
	if s.core == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "core not attached"})
		return
	}
	accountID := c.Query("account_id")
	period := c.DefaultQuery("period", "daily")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "detail": "account_id is required"})
		return
	}
	report, err := s.core.PerformanceReport(c.Request.Context(), accountID, period)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleDecisions(c *gin.Context) {
	if s.core == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "core not attached"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := s.core.RecentDecisions(c.Request.Context(), c.Query("account_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": rows})
}
