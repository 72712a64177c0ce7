package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/indi-panel/internal/audit"
	"github.com/nerrad567/indi-panel/internal/capture"
	"github.com/nerrad567/indi-panel/internal/indi"
	"github.com/nerrad567/indi-panel/internal/infrastructure/config"
	"github.com/nerrad567/indi-panel/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the INDI boundary the API drives. *indi.Client implements it.
type Engine interface {
	Connect(ctx context.Context, host string) error
	Disconnect() error
	IsConnected() bool
	SendRaw(ctx context.Context, command string) error
	StartImagingJob(ctx context.Context, req indi.ImagingRequest) (string, error)
	Snapshot() indi.ClientSnapshot
	Stats() indi.Stats
}

// HealthChecker is implemented by optional infrastructure (database, MQTT,
// InfluxDB) reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Engine   Engine

	// Optional collaborators; nil disables the matching routes' data.
	Audit    audit.Repository
	Captures capture.Repository
	Hub      *Hub
	Metrics  http.Handler
	Health   map[string]HealthChecker

	DefaultHost string
	Version     string
}

// Server is the HTTP API server for INDI Panel.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	engine      Engine
	auditRepo   audit.Repository
	auditCh     chan *audit.Entry
	captures    capture.Repository
	metrics     http.Handler
	health      map[string]HealthChecker
	tickets     *ticketStore
	defaultHost string
	version     string
	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc
	started     time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("indi engine is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		engine:      deps.Engine,
		auditRepo:   deps.Audit,
		captures:    deps.Captures,
		metrics:     deps.Metrics,
		health:      deps.Health,
		tickets:     newTicketStore(),
		defaultHost: deps.DefaultHost,
		version:     deps.Version,
		started:     time.Now(),
	}
	if deps.Audit != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}

	// An injected hub is shared with the event relay.
	if deps.Hub != nil {
		s.hub = deps.Hub
	}

	return s, nil
}

// Start launches the HTTP listener in a background goroutine together with
// the hub (unless injected), ticket cleanup, and the audit writer.
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	go s.cleanTicketsLoop(srvCtx)

	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Hub returns the WebSocket hub (nil before Start unless injected).
func (s *Server) Hub() *Hub {
	return s.hub
}
