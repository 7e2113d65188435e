package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"smc-trading-core/config"
	"smc-trading-core/internal/database"
	"smc-trading-core/internal/events"
	"smc-trading-core/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// EventStore persists and reads order events.
type EventStore interface {
	InsertOrderEvent(ctx context.Context, e *database.OrderEvent) error
	OrderEventsForTicket(ctx context.Context, ticket int64) ([]database.OrderEvent, error)
}

// PositionClosedHandler consumes a normalized position_closed event.
type PositionClosedHandler func(ctx context.Context, e *database.OrderEvent) error

// CoreAPI is the engine surface the status endpoints read. The engine
// implements it; the server never reaches into engine internals.
type CoreAPI interface {
	Status() map[string]interface{}
	KillSwitchStatus() map[string]interface{}
	ResetKillSwitch(ctx context.Context, accountID string) error
	ExposureSnapshot() map[string]interface{}
	PerformanceReport(ctx context.Context, accountID, period string) (interface{}, error)
	RecentDecisions(ctx context.Context, accountID string, limit int) (interface{}, error)
}

// Server is the HTTP surface: the order-event webhook, status endpoints and
// the websocket stream.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig
	store      EventStore
	bus        *events.EventBus
	core       CoreAPI
	hub        *WSHub
	logger     *logging.Logger

	closedHandlers map[string]PositionClosedHandler
}

// NewServer creates the server and mounts all routes.
func NewServer(cfg config.ServerConfig, store EventStore, bus *events.EventBus, core CoreAPI, logger *logging.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:         gin.New(),
		cfg:            cfg,
		store:          store,
		bus:            bus,
		core:           core,
		hub:            NewWSHub(),
		logger:         logger.WithComponent("api"),
		closedHandlers: make(map[string]PositionClosedHandler),
	}

	s.router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	s.router.Use(cors.New(corsConfig))

	s.routes()
	s.wireBroadcasts()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/order-events", s.handleOrderEvent)
		v1.GET("/order-events/:ticket", s.handleOrderEventsForTicket)
		v1.GET("/status", s.handleStatus)
		v1.GET("/kill-switch", s.handleKillSwitch)
		v1.POST("/kill-switch/reset", s.handleKillSwitchReset)
		v1.GET("/exposure", s.handleExposure)
		v1.GET("/performance", s.handlePerformance)
		v1.GET("/decisions", s.handleDecisions)
	}
}

// wireBroadcasts connects the event bus to the websocket hub. Lifecycle
// packages publish through events; the hub is an api concern.
func (s *Server) wireBroadcasts() {
	events.SetBroadcastOrderEvent(s.hub.BroadcastJSON)
	events.SetBroadcastDecision(s.hub.BroadcastJSON)
	events.SetBroadcastEquity(s.hub.BroadcastJSON)
	events.SetBroadcastKillSwitch(s.hub.BroadcastJSON)
	if s.bus != nil {
		s.bus.SubscribeAll(func(e events.Event) {
			s.hub.BroadcastEvent(e)
		})
	}
}

// RegisterPositionClosedHandler routes position_closed events for one
// account source to its LivePnL instance. Called at boot, before Start.
func (s *Server) RegisterPositionClosedHandler(source string, handler PositionClosedHandler) {
	s.closedHandlers[source] = handler
}

// Start runs the listener and the websocket hub. Non-blocking.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go s.hub.Run()
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	timeout := time.Duration(s.cfg.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// MountMetrics exposes a metrics handler at /metrics.
func (s *Server) MountMetrics(handler http.Handler) {
	s.router.GET("/metrics", gin.WrapH(handler))
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }
