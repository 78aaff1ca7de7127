// Package api provides the HTTP REST API and WebSocket server for Warden Core.
//
// It exposes command dispatch, device listings, telemetry snapshots and
// audit history to the surrounding application, and relays gateway events
// to per-tenant WebSocket subscribers (property-manager dashboards,
// resident apps).
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wardenhq/warden-core/internal/audit"
	"github.com/wardenhq/warden-core/internal/command"
	"github.com/wardenhq/warden-core/internal/device"
	"github.com/wardenhq/warden-core/internal/infrastructure/config"
	"github.com/wardenhq/warden-core/internal/infrastructure/logging"
	"github.com/wardenhq/warden-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CommandDispatcher issues device commands. Satisfied by
// *gateway.DeviceGateway; mocked in tests.
type CommandDispatcher interface {
	SendCommand(ctx context.Context, tenantID, deviceID, cmd string, params map[string]any, timeout time.Duration, issuerID string) (string, error)
	BulkCommand(ctx context.Context, tenantID string, deviceIDs []string, cmd string, params map[string]any, issuerID string) []string
}

// DeviceReader provides tenant-scoped device lookups.
// Satisfied by *device.Registry.
type DeviceReader interface {
	GetTenantDevice(ctx context.Context, tenantID, id string) (*device.Device, error)
	ListByTenant(ctx context.Context, tenantID string) ([]device.Device, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Dispatcher CommandDispatcher
	Devices    DeviceReader
	Commands   command.Repository
	Snapshots  telemetry.Repository
	AccessLogs audit.AccessRepository
	AuditLogs  audit.Repository
	Version    string

	// Hub is optional. When the caller has already built a hub (to hand
	// to the gateway as its tenant emitter) it is reused; otherwise a
	// fresh one is created.
	Hub *Hub
}

// Server is the HTTP API server for Warden Core.
//
// It manages the HTTP listener, routes, middleware, and the per-tenant
// WebSocket hub. The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	dispatcher CommandDispatcher
	devices    DeviceReader
	commands   command.Repository
	snapshots  telemetry.Repository
	accessLogs audit.AccessRepository
	auditLogs  audit.Repository
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device reader is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		devices:    deps.Devices,
		commands:   deps.Commands,
		snapshots:  deps.Snapshots,
		accessLogs: deps.AccessLogs,
		auditLogs:  deps.AuditLogs,
		version:    deps.Version,
	}
	s.hub = deps.Hub
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the server's WebSocket hub. The gateway uses it as its
// tenant emitter.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
// It returns immediately; the listener runs on a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.hub.Run(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("api server listening", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}
