package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/config"
	"github.com/gatecrash-project/gatecrash/internal/db"
	"github.com/gatecrash-project/gatecrash/internal/eavesdropper"
	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/filter"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/network"
	"github.com/gatecrash-project/gatecrash/internal/scheduler"
	"github.com/gatecrash-project/gatecrash/internal/trigger"
)

// Version is reported by the public endpoints.
const Version = "0.3.0"

// Deps are the components the API controls. Store and Eavesdropper are
// optional; their routes answer 503 when nil.
type Deps struct {
	Config    *config.Config
	Bus       *events.EventBus
	Relay     *network.Connection
	Headers   *headers.ProtocolMap
	Triggers  *trigger.Engine
	Filters   *filter.Filters
	Scheduler *scheduler.Scheduler

	Store        *db.HeaderStore
	Eavesdropper *eavesdropper.Eavesdropper
}

// Server is the REST control surface.
type Server struct {
	cfg       *config.Config
	eventBus  *events.EventBus
	relay     *network.Connection
	headers   *headers.ProtocolMap
	triggers  *trigger.Engine
	filters   *filter.Filters
	scheduler *scheduler.Scheduler
	store     *db.HeaderStore
	proxy     *eavesdropper.Eavesdropper

	// relayCtx scopes relay sessions started over the API; it outlives
	// the request that started them.
	relayCtx context.Context

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(deps Deps) *Server {
	if deps.Config.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       deps.Config,
		eventBus:  deps.Bus,
		relay:     deps.Relay,
		headers:   deps.Headers,
		triggers:  deps.Triggers,
		filters:   deps.Filters,
		scheduler: deps.Scheduler,
		store:     deps.Store,
		proxy:     deps.Eavesdropper,
		relayCtx:  context.Background(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.relayCtx = ctx

	apiCfg := s.cfg.GetAPI()
	addr := net.JoinHostPort(apiCfg.Host, strconv.Itoa(apiCfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR lets a restart rebind immediately
	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.Use(IPWhitelist(apiCfg.IPWhitelist))
	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(apiCfg.Token))
	{
		// Relay
		protected.GET("/status", s.handleStatus)
		protected.POST("/connect", s.handleConnect)
		protected.POST("/disconnect", s.handleDisconnect)
		protected.POST("/send", s.handleSend)

		// Header map
		protected.GET("/headers", s.handleGetHeaders)
		protected.PUT("/headers/:direction/:name", s.handleSetHeader)
		protected.DELETE("/headers/:direction/:name", s.handleDeleteHeader)
		protected.POST("/headers/save", s.handleSaveHeaders)

		// Filters
		protected.GET("/filters", s.handleGetFilters)
		protected.POST("/filters/:direction/:header/block", s.handleBlock)
		protected.DELETE("/filters/:direction/:header/block", s.handleUnblock)
		protected.POST("/filters/:direction/:header/replace", s.handleReplace)
		protected.DELETE("/filters/:direction/:header/replace", s.handleUnreplace)

		// Detection
		protected.GET("/detection", s.handleGetDetection)
		protected.PUT("/detection", s.handleSetDetection)
		protected.POST("/detection/reset_locks", s.handleResetLocks)
		protected.GET("/detection/locks", s.handleGetLocks)
		protected.GET("/detections", s.handleGetDetections)

		// Scheduler
		protected.GET("/schedules", s.handleListSchedules)
		protected.POST("/schedules", s.handleAddSchedule)
		protected.DELETE("/schedules/:id", s.handleRemoveSchedule)
		protected.POST("/schedules/:id/start", s.handleStartSchedule)
		protected.POST("/schedules/:id/stop", s.handleStopSchedule)
		protected.POST("/schedules/:id/toggle", s.handleToggleSchedule)

		// HTTP interceptor
		protected.GET("/eavesdropper", s.handleEavesdropperStatus)
		protected.POST("/eavesdropper/start", s.handleEavesdropperStart)
		protected.POST("/eavesdropper/stop", s.handleEavesdropperStop)

		// Configuration
		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config/proxy", s.handleSetProxyField)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
