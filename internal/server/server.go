package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/plumbrhq/plumbr/internal/audit"
	"github.com/plumbrhq/plumbr/internal/cache"
	"github.com/plumbrhq/plumbr/internal/config"
	"github.com/plumbrhq/plumbr/internal/engine"
	"github.com/plumbrhq/plumbr/internal/logger"
	"github.com/plumbrhq/plumbr/internal/web"
	"github.com/plumbrhq/plumbr/internal/websocket"
)

// Server is the redaction HTTP server: the REST endpoints, the dashboard
// event hub, and the streaming redactor, all sharing one swappable engine.
type Server struct {
	config   *config.Config
	version  string
	baseLog  *logger.Logger
	logger   *logger.Logger
	router   *mux.Router
	server   *http.Server
	wsHub    *websocket.Hub
	streamer *websocket.Streamer
	cache    *cache.ResultCache
	audits   *audit.Writer
	auditDB  *audit.Store
	limiter  *RateLimiter
	done     chan struct{}

	// engine is replaced wholesale on pattern reload; the lock spans every
	// engine call so a swap never races an in-flight redaction.
	mu     sync.RWMutex
	engine *engine.Engine

	startedAt time.Time
	metrics   serverMetrics
}

// serverMetrics are the request counters surfaced by /health.
type serverMetrics struct {
	requestsTotal atomic.Int64
	requestsOK    atomic.Int64
	requestsError atomic.Int64
}

// New creates a server instance, building the engine and the optional
// cache/audit sinks from cfg.
func New(cfg *config.Config, version string, log *logger.Logger) (*Server, error) {
	eng, err := engine.New(engineConfig(cfg.Engine), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create redaction engine: %w", err)
	}

	s := &Server{
		config:    cfg,
		version:   version,
		baseLog:   log,
		logger:    log.WithComponent("server"),
		engine:    eng,
		limiter:   NewRateLimiter(&cfg.Server.RateLimit),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}

	if cfg.WebSocket.Enabled {
		s.wsHub = websocket.NewHub(&websocket.HubConfig{
			BroadcastRequests:    cfg.WebSocket.Events.BroadcastRequests,
			BroadcastRedactions:  cfg.WebSocket.Events.BroadcastRedactions,
			BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
			BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
			MaxConnections:       cfg.WebSocket.MaxConnections,
			AllowedOrigins:       cfg.WebSocket.AllowedOrigins,
			Username:             cfg.WebSocket.Username,
			Password:             cfg.WebSocket.Password,
		}, log.WithComponent("websocket").Logger)

		s.streamer = websocket.NewStreamer(&websocket.StreamerConfig{
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		}, s.redactForStream, s.wsHub, log.WithComponent("websocket").Logger)
	}

	if cfg.Cache.Enabled {
		rc, err := cache.NewResultCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect result cache: %w", err)
		}
		s.cache = rc
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(&audit.Config{
			DatabaseURL:     cfg.Audit.DatabaseURL,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
		}, log.WithComponent("audit").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		s.auditDB = store
		s.audits = audit.NewWriter(store, cfg.Audit.BufferSize, cfg.Audit.FlushInterval, log.WithComponent("audit").Logger)
	}

	s.router = mux.NewRouter()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Dashboard endpoint - embedded HTML
	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	// WebSocket endpoints for the dashboard feed and streaming redaction
	if s.wsHub != nil {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
		s.router.HandleFunc("/api/stream", s.streamer.HandleStream).Methods("GET")
	}

	// REST API
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/redact", s.handleRedact).Methods("POST")
	api.HandleFunc("/redact/batch", s.handleRedactBatch).Methods("POST")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/patterns", s.handlePatterns).Methods("GET")

	// Audit queries exist only when the audit sink is configured
	if s.auditDB != nil {
		api.HandleFunc("/audit/recent", s.handleAuditRecent).Methods("GET")
		api.HandleFunc("/audit/summary", s.handleAuditSummary).Methods("GET")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting Plumbr redaction server",
		zap.Int("port", s.config.Server.Port),
		zap.String("version", s.version),
		zap.Bool("websocket", s.wsHub != nil),
		zap.Bool("cache", s.cache != nil),
		zap.Bool("audit", s.audits != nil),
	)

	if s.wsHub != nil {
		go s.wsHub.Run()
		go s.systemStatusLoop()
	}
	if s.config.Server.RateLimit.Enabled {
		s.limiter.StartCleanupRoutine()
	}

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and flushes the sinks.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Plumbr redaction server")

	close(s.done)
	err := s.server.Shutdown(ctx)

	if s.audits != nil {
		if cerr := s.audits.Close(); cerr != nil {
			s.logger.Warn("Audit writer close failed", zap.Error(cerr))
		}
		s.auditDB.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}

	s.mu.Lock()
	s.engine.Close()
	s.mu.Unlock()

	return err
}

// ReloadPatterns builds a fresh engine from cfg and swaps it in. In-flight
// requests finish on the old engine first; a result cache keyed to the old
// rule set is cleared so stale answers cannot serve.
func (s *Server) ReloadPatterns(cfg config.EngineConfig) error {
	eng, err := engine.New(engineConfig(cfg), s.baseLog)
	if err != nil {
		return fmt.Errorf("failed to rebuild redaction engine: %w", err)
	}

	s.mu.Lock()
	old := s.engine
	s.engine = eng
	s.mu.Unlock()

	old.Close()

	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.cache.Clear(ctx); err != nil {
			s.logger.Warn("Failed to clear result cache after pattern reload", zap.Error(err))
		}
	}

	count, _ := eng.PatternCount()
	s.logger.Info("Pattern set reloaded", zap.Int("patterns", count))
	return nil
}

// handleWebSocket hands the connection to the event hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// redactForStream binds the streaming endpoint to whatever engine is live.
func (s *Server) redactForStream(text string) (string, engine.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.RedactWithReport(text)
}

// engineSnapshot reads stats and pattern count under the read lock.
func (s *Server) engineSnapshot() (engine.Stats, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, _ := s.engine.Stats()
	count, _ := s.engine.PatternCount()
	return stats, count
}

// systemStatusLoop periodically broadcasts a status event to the dashboard.
func (s *Server) systemStatusLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data:      s.systemStatus(),
			})
		}
	}
}

// systemStatus assembles the dashboard status snapshot.
func (s *Server) systemStatus() websocket.SystemStatusEvent {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats, patterns := s.engineSnapshot()

	return websocket.SystemStatusEvent{
		Status:           "healthy",
		Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
		TotalRequests:    s.metrics.requestsTotal.Load(),
		LinesProcessed:   stats.LinesProcessed,
		PatternsLoaded:   patterns,
		ConnectedClients: s.wsHub.ClientCount(),
		MemoryUsage:      fmt.Sprintf("%.1f MB", float64(m.Alloc)/(1<<20)),
	}
}

// engineConfig maps the yaml engine section onto the engine's own config.
func engineConfig(cfg config.EngineConfig) engine.Config {
	return engine.Config{
		PatternFile: cfg.PatternFile,
		PatternDir:  cfg.PatternDir,
		Compliance:  cfg.Compliance,
		NumThreads:  cfg.NumThreads,
		Quiet:       cfg.Quiet,
		NoDefaults:  cfg.NoDefaults,
	}
}
