package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quote-aggregator/src/aggregation"
	"quote-aggregator/src/helpers"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/providers"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

// APIServer exposes the search endpoints, status endpoints and the real-time channel.
type APIServer struct {
	Config      *models.MConfig
	Logger      *logger.Logger
	Hub         *Hub
	Coordinator *aggregation.RequestCoordinator
	Registry    *providers.ProviderRegistry

	engine  *gin.Engine
	httpSrv *http.Server
	cancel  context.CancelFunc
	started time.Time
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, hub *Hub, coordinator *aggregation.RequestCoordinator, registry *providers.ProviderRegistry, logger *logger.Logger) *APIServer {
	// Set Gin mode
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &APIServer{
		Config:      cfg,
		Logger:      logger,
		Hub:         hub,
		Coordinator: coordinator,
		Registry:    registry,
		engine:      gin.New(),
		started:     time.Now(),
	}
	s.engine.Use(gin.Recovery())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-User-ID, X-Organization-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.POST("/quotes", s.createQuoteRequest)
	api.GET("/quotes/:id", s.getQuoteRequest)
	api.DELETE("/quotes/:id", s.cancelQuoteRequest)
	api.GET("/providers", s.getProviders)
	api.GET("/metrics", s.getMetrics)
	api.GET("/health", s.getHealth)

	// WebSocket endpoint
	s.engine.GET("/ws", s.Hub.handleWebSocket)
}

// Handler exposes the router (tests mount it on httptest servers).
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start runs the hub loop and serves HTTP until Stop is called.
func (s *APIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.Hub.Run(ctx)

	s.httpSrv = &http.Server{Addr: addr, Handler: s.engine}
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *APIServer) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

type createQuoteBody struct {
	UserID         string               `json:"userId"`
	OrganizationID string               `json:"organizationId"`
	Filters        models.MQuoteFilters `json:"filters"`
}

func (s *APIServer) createQuoteRequest(c *gin.Context) {
	var body createQuoteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	principal, err := s.Hub.Auth.Authenticate(c.Request.Context(), body.UserID, body.OrganizationID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	requestID, err := s.Coordinator.CreateRequest(c.Request.Context(), body.Filters, principal.UserID, principal.OrganizationID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"requestId": requestID})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getQuoteRequest(c *gin.Context) {
	principal, ok := s.principal(c)
	if !ok {
		return
	}

	view, err := s.Coordinator.GetRequest(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !principal.CanView(view.Request) {
		s.writeError(c, helpers.NewAuthorizationError("request belongs to another organization"))
		return
	}
	c.JSON(http.StatusOK, view)
}

// -----------------------------------------------------------------------------

func (s *APIServer) cancelQuoteRequest(c *gin.Context) {
	principal, ok := s.principal(c)
	if !ok {
		return
	}

	agg, err := s.Coordinator.Lookup(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !principal.CanView(agg.Request()) {
		s.writeError(c, helpers.NewAuthorizationError("request belongs to another organization"))
		return
	}

	if err := s.Coordinator.CancelRequest(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------

// principal authenticates the caller named by the X-User-ID and
// X-Organization-ID headers. On failure the response is already written.
func (s *APIServer) principal(c *gin.Context) (models.MPrincipal, bool) {
	p, err := s.Hub.Auth.Authenticate(c.Request.Context(), c.GetHeader("X-User-ID"), c.GetHeader("X-Organization-ID"))
	if err != nil {
		s.writeError(c, err)
		return models.MPrincipal{}, false
	}
	return p, true
}

// -----------------------------------------------------------------------------

func (s *APIServer) getProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.Registry.Statuses()})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"requests":    s.Coordinator.Stats(),
		"connections": s.Hub.Connections(),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	stats := s.Coordinator.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"connections":     s.Hub.Connections(),
		"active_requests": stats.ActiveRequests,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case helpers.IsValidation(err):
		return http.StatusBadRequest
	case helpers.IsAuthentication(err):
		return http.StatusUnauthorized
	case helpers.IsAuthorization(err):
		return http.StatusForbidden
	case helpers.IsNotFound(err):
		return http.StatusNotFound
	case helpers.IsCapacity(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
