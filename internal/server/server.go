// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tallyhq/tally/internal/accounts"
	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/cache"
	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/health"
	"github.com/tallyhq/tally/internal/logging"
	"github.com/tallyhq/tally/internal/metrics"
	"github.com/tallyhq/tally/internal/ratelimit"
	"github.com/tallyhq/tally/internal/realtime"
	"github.com/tallyhq/tally/internal/security"
	"github.com/tallyhq/tally/internal/session"
	"github.com/tallyhq/tally/internal/traces"
	"github.com/tallyhq/tally/internal/tracker"
	"github.com/tallyhq/tally/internal/validation"
	"github.com/tallyhq/tally/internal/web"
)

const (
	sessionReapInterval = 15 * time.Minute
	healthCheckTimeout  = 2 * time.Second

	cacheBreakerThreshold = 5
	cacheBreakerCooldown  = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string

	db         *sql.DB // nil if using in-memory
	dbStatsOff func()
	cache      cache.Cache

	accounts    *accounts.Service
	tokens      *auth.Manager
	sessions    *session.Manager
	tracker     *tracker.Service
	realtimeHub *realtime.Hub
	csrf        *security.CSRF
	rateLimiter *ratelimit.Limiter
	health      *health.Registry

	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	shutdownTrace func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	drainDelay    time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithCache replaces the summary cache (for testing)
func WithCache(c cache.Cache) Option {
	return func(s *Server) {
		s.cache = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(healthCheckTimeout),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownTrace, err := traces.Init(ctx, traces.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Version:     s.version,
		SampleRatio: cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.shutdownTrace = shutdownTrace

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		actionStore  tracker.Store
		userStore    accounts.Store
		tokenStore   auth.Store
		sessionStore session.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.dbStatsOff = metrics.RegisterDB(db)
		actionStore = tracker.NewPostgresStore(db)
		userStore = accounts.NewPostgresStore(db)
		tokenStore = auth.NewPostgresStore(db)
		sessionStore = session.NewPostgresStore(db)
		s.health.Add("database", db.PingContext)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		actionStore = tracker.NewMemoryStore()
		userStore = accounts.NewMemoryStore()
		tokenStore = auth.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
		s.logger.Warn("DATABASE_URL not set, data will not survive a restart")
	}

	// Summary cache: Redis if REDIS_URL set, otherwise in-process
	if s.cache == nil {
		if cfg.RedisURL != "" {
			rc, err := cache.NewRedisCacheWithURL(cfg.RedisURL, "tally:")
			if err != nil {
				s.closeDB()
				return nil, fmt.Errorf("failed to configure redis: %w", err)
			}
			s.cache = cache.NewGuarded(rc, cacheBreakerThreshold, cacheBreakerCooldown)
			s.logger.Info("using Redis summary cache")
		} else {
			s.cache = cache.NewMemoryCache()
		}
	}
	s.health.Add("cache", s.cache.Ping)

	s.realtimeHub = realtime.NewHub(s.logger)

	s.tracker = tracker.NewService(actionStore).
		WithCache(s.cache).
		WithEvents(s.realtimeHub)
	s.tokens = auth.NewManager(tokenStore).WithTTL(cfg.TokenTTL)
	s.sessions = session.NewManager(sessionStore, cfg.SessionTTL).
		WithSecureCookies(cfg.IsProduction())
	s.accounts = accounts.NewService(userStore).OnDelete(
		s.tracker.DeleteOwner,
		s.tokens.Revoke,
		s.sessions.EndAll,
	)

	csrf, err := security.NewCSRF(cfg.SecretKey, cfg.IsProduction())
	if err != nil {
		s.closeDB()
		return nil, err
	}
	s.csrf = csrf

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) closeDB() {
	if s.dbStatsOff != nil {
		s.dbStatsOff()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(metrics.Middleware())

	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream request ID (load balancer, MCP bridge)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// JSON API, bearer token
	api := s.router.Group("/api")
	api.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	api.Use(auth.Middleware(s.tokens))
	authHandler := auth.NewHandler(s.tokens)
	authHandler.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(auth.RequireAuth())
	tracker.NewHandler(s.tracker).RegisterProtectedRoutes(protected)
	accounts.NewHandler(s.accounts, s.tokens).RegisterProtectedRoutes(protected)
	authHandler.RegisterProtectedRoutes(protected)

	// Live updates accept either a browser session or a bearer token
	s.router.GET("/ws", session.Middleware(s.sessions), auth.Middleware(s.tokens), s.realtimeHub.Handler())

	// HTML UI, session cookie + CSRF
	s.router.SetHTMLTemplate(web.Templates())
	ui := s.router.Group("")
	ui.Use(session.Middleware(s.sessions), s.csrf.Middleware())
	web.NewHandler(s.accounts, s.tracker, s.tokens, s.sessions).RegisterRoutes(ui)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Clients   int             `json:"wsClients"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	clients := s.realtimeHub.Stats().Connected
	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Clients:   clients,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	bg := logging.WithLogger(runCtx, s.logger)
	go s.realtimeHub.Run(bg)
	go session.StartReaper(bg, s.sessions, sessionReapInterval)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stops the hub and session reaper
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if err := s.cache.Close(); err != nil {
		s.logger.Error("cache close error", "error", err)
	}

	if s.dbStatsOff != nil {
		s.dbStatsOff()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
