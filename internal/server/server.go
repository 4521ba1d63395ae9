package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/pipeline"
	"github.com/raaihank/case-sentinel/internal/redaction"
	"github.com/raaihank/case-sentinel/internal/safety"
	"github.com/raaihank/case-sentinel/internal/web"
	"github.com/raaihank/case-sentinel/internal/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps are the components the admin server exposes. Sync may be nil when no
// source or destination is configured.
type Deps struct {
	Engine    *redaction.Engine
	Evaluator *safety.Evaluator
	Audit     *audit.Store
	Settings  *config.SettingsStore
	Sync      *pipeline.Orchestrator
	Version   string
}

// Server represents the administrative HTTP server
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	engine    *redaction.Engine
	evaluator *safety.Evaluator
	audit     *audit.Store
	settings  *config.SettingsStore
	sync      *pipeline.Orchestrator
	version   string

	router *mux.Router
	server *http.Server
	wsHub  *websocket.Hub

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	hubCancel context.CancelFunc
}

// New creates a new admin server instance
func New(cfg *config.Config, deps Deps, log *logger.Logger) (*Server, error) {
	if deps.Engine == nil || deps.Evaluator == nil || deps.Audit == nil || deps.Settings == nil {
		return nil, fmt.Errorf("engine, evaluator, audit store and settings are required")
	}

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		engine:    deps.Engine,
		evaluator: deps.Evaluator,
		audit:     deps.Audit,
		settings:  deps.Settings,
		sync:      deps.Sync,
		version:   deps.Version,
		router:    mux.NewRouter(),
		limiters:  make(map[string]*rate.Limiter),
	}

	if cfg.WebSocket.Enabled {
		s.wsHub = websocket.NewHub(cfg.WebSocket, log)
		s.audit.Subscribe(s.wsHub.AuditListener())
		if s.sync != nil {
			s.sync.OnRun(func(r pipeline.RunResult) { s.wsHub.BroadcastSyncRun(r) })
		}
	}

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
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	// Review dashboard, embedded HTML
	s.router.Handle("/", web.Handler()).Methods(http.MethodGet)
	s.router.Handle("/dashboard", web.Handler()).Methods(http.MethodGet)

	if s.wsHub != nil {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.Use(s.authMiddleware)

	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)
	api.HandleFunc("/patterns", s.handlePatterns).Methods(http.MethodGet)
	api.HandleFunc("/filter", s.handleFilter).Methods(http.MethodPost)
	api.HandleFunc("/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	api.HandleFunc("/audit/redactions", s.handleListRedactions).Methods(http.MethodGet)
	api.HandleFunc("/audit/rejections", s.handleListRejections).Methods(http.MethodGet)
	api.HandleFunc("/audit", s.handleClearAudit).Methods(http.MethodDelete)
	api.HandleFunc("/sync/run", s.handleSyncRun).Methods(http.MethodPost)
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and the WebSocket hub. It blocks until the
// server stops.
func (s *Server) Start() error {
	s.logger.Info("Starting case-sentinel admin server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("websocket_enabled", s.wsHub != nil),
		zap.Bool("sync_enabled", s.sync != nil),
		zap.Bool("admin_token_required", s.config.Server.AdminToken != ""),
	)

	s.startHub()
	return s.server.ListenAndServe()
}

func (s *Server) startHub() {
	if s.wsHub == nil || s.hubCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel
	go s.wsHub.Run(ctx)
}

// Stop gracefully stops the HTTP server and the hub
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping case-sentinel admin server")
	if s.hubCancel != nil {
		s.hubCancel()
	}
	return s.server.Shutdown(ctx)
}

// GetWebSocketHub returns the WebSocket hub, nil when the feed is disabled
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}
