package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MIRChain/mir-control-center/internal/audit"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/config"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/database"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/logging"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/mqtt"
	"github.com/MIRChain/mir-control-center/internal/plugin"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// RPCMetrics records the latency of RPC calls made through the API.
// Implemented by *influxdb.Client.
type RPCMetrics interface {
	WriteRPCCall(plugin, method string, elapsed time.Duration, ok bool)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *plugin.Registry
	Audit    audit.Repository // optional
	DB       *database.DB     // optional, reported in /metrics
	MQTT     *mqtt.Client     // optional, reported in /metrics
	Metrics  RPCMetrics       // optional
	Version  string
}

// Server is the HTTP API server for the control center.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *plugin.Registry
	auditRepo audit.Repository
	db        *database.DB
	mqtt      *mqtt.Client
	metrics   RPCMetrics
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	ctx      context.Context
	cancel   context.CancelFunc
	done     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("plugin registry is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		auditRepo: deps.Audit,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Handler returns the routed HTTP handler without starting a listener.
// Plugin events are only relayed to WebSocket clients after Start.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays plugin events to it, and launches the
// HTTP listener in a background goroutine. The listener is bound before
// Start returns so a port conflict is reported to the caller.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	s.ctx = srvCtx

	s.done.Add(1)
	go func() {
		defer s.done.Done()
		s.hub.Run(srvCtx)
	}()
	s.relayPluginEvents(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// backgroundContext is the context for work that outlives a request.
func (s *Server) backgroundContext() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
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
	err := s.server.Shutdown(ctx)
	s.done.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
