// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mnnr/fraudguard/internal/config"
	"github.com/mnnr/fraudguard/internal/fraud"
	"github.com/mnnr/fraudguard/internal/health"
	"github.com/mnnr/fraudguard/internal/idgen"
	"github.com/mnnr/fraudguard/internal/ingest"
	"github.com/mnnr/fraudguard/internal/logging"
	"github.com/mnnr/fraudguard/internal/metrics"
	"github.com/mnnr/fraudguard/internal/ratelimit"
	"github.com/mnnr/fraudguard/internal/realtime"
	"github.com/mnnr/fraudguard/internal/security"
	"github.com/mnnr/fraudguard/internal/traces"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	engine  *fraud.Engine
	audit   fraud.AuditStore
	history fraud.History
	writer  fraud.HistoryWriter
	hub     *realtime.Hub
	limiter *ratelimit.Limiter
	checks  *health.Registry
	db      *sql.DB // nil if using in-memory
	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHistory overrides the history store (for testing).
func WithHistory(h fraud.History) Option {
	return func(s *Server) { s.history = h }
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Storage: Postgres when DATABASE_URL is set, otherwise in-memory.
	if s.history == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("open database: %w", err)
			}
			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)
			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("connect to database: %w", err)
			}
			s.db = db

			pgHistory := fraud.NewPostgresHistory(db)
			s.history = pgHistory
			s.writer = pgHistory
			s.audit = fraud.NewPostgresAuditStore(db)
			s.logger.Info("using PostgreSQL storage")

			s.checks.Register("database", func(ctx context.Context) health.Status {
				if err := db.PingContext(ctx); err != nil {
					return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
				}
				return health.Status{Name: "database", Healthy: true}
			})
		} else {
			memHistory := fraud.NewMemoryHistory()
			s.history = memHistory
			s.writer = memHistory
			s.audit = fraud.NewMemoryAuditStore()
			s.logger.Warn("using in-memory storage (set DATABASE_URL for persistence)")
		}
	}
	if s.audit == nil {
		s.audit = fraud.NewMemoryAuditStore()
	}

	s.hub = realtime.NewHub(s.logger)

	s.engine = fraud.NewEngine(s.history, s.audit,
		fraud.WithLogger(s.logger),
		fraud.WithProfileTTL(cfg.ProfileTTL),
		fraud.WithFallbackAverage(cfg.FallbackAverage),
		fraud.WithAssessmentHook(s.hub.BroadcastAssessment),
	)

	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRPM,
		BurstSize:         cfg.RateLimitRPM / 4,
		CleanupInterval:   time.Minute,
	})

	s.setupRoutes()
	s.healthy.Store(true)

	return s, nil
}

func (s *Server) setupRoutes() {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestIDMiddleware())
	router.Use(metrics.Middleware())
	router.Use(security.HeadersMiddleware())
	router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	router.GET("/healthz", s.handleHealthz)
	router.GET("/readyz", s.handleReadyz)
	router.GET("/metrics", metrics.Handler())
	router.GET("/ws/alerts", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	stripeHandler := ingest.NewStripeHandler(
		s.engine, s.writer, s.cfg.StripeWebhookSecret, s.cfg.ScoreTimeout, s.logger)
	router.POST("/webhooks/stripe", stripeHandler.Handle)

	api := router.Group("/api/v1")
	api.Use(s.limiter.Middleware())
	{
		api.POST("/score", s.handleScore)
		api.GET("/users/:id/profile", s.handleProfile)
		api.GET("/users/:id/assessments", s.handleAssessments)
	}

	s.router = router
}

// requestIDMiddleware assigns each request an ID for log correlation.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = idgen.WithPrefix("req_")
		}
		c.Header("X-Request-ID", reqID)
		c.Request = c.Request.WithContext(
			logging.WithRequestID(c.Request.Context(), reqID))
		c.Next()
	}
}

// handleScore scores a single transaction.
func (s *Server) handleScore(c *gin.Context) {
	var ev fraud.TransactionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ScoreTimeout)
	defer cancel()
	ctx, span := traces.StartSpan(ctx, "server.handleScore", traces.UserID(ev.UserID))
	defer span.End()

	score, err := s.engine.Score(ctx, &ev)
	if err != nil {
		switch {
		case errors.Is(err, fraud.ErrInvalidTransaction):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_transaction", "message": err.Error()})
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			// Never report a timed-out evaluation as low risk; the caller
			// decides whether to retry or apply a conservative default.
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "scoring_timeout"})
		default:
			logging.L(ctx).Error("scoring failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	c.JSON(http.StatusOK, score)
}

// handleProfile returns the user's current behavior profile.
func (s *Server) handleProfile(c *gin.Context) {
	userID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ScoreTimeout)
	defer cancel()

	profile, err := s.engine.Profile(ctx, userID)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "profile_timeout"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// handleAssessments lists recent scoring decisions for a user.
func (s *Server) handleAssessments(c *gin.Context) {
	userID := c.Param("id")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	assessments, err := s.audit.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("list assessments failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if assessments == nil {
		assessments = []*fraud.Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments})
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)
	code := http.StatusOK
	if !healthy || !s.healthy.Load() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"healthy": healthy, "subsystems": statuses})
}

func (s *Server) handleReadyz(c *gin.Context) {
	if s.ready.Load() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTraces, err := traces.Init(ctx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	go s.hub.Run(ctx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.ready.Store(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	s.ready.Store(false)
	cancel()
	s.limiter.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown error", "error", err)
	}
	if err := shutdownTraces(shutdownCtx); err != nil {
		s.logger.Error("trace shutdown error", "error", err)
	}
	if s.db != nil {
		_ = s.db.Close()
	}

	s.logger.Info("server stopped")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }
