package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wardenhq/warden-core/internal/audit"
	"github.com/wardenhq/warden-core/internal/command"
	"github.com/wardenhq/warden-core/internal/device"
	"github.com/wardenhq/warden-core/internal/infrastructure/config"
	"github.com/wardenhq/warden-core/internal/infrastructure/mqtt"
	"github.com/wardenhq/warden-core/internal/telemetry"
)

// Logger defines the logging interface used by the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the broker interface used by the gateway.
// Satisfied by *mqtt.Client; mocked in tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// DeviceRegistry provides device lookup and liveness persistence.
// Satisfied by *device.Registry.
type DeviceRegistry interface {
	GetTenantDevice(ctx context.Context, tenantID, id string) (*device.Device, error)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListActive(ctx context.Context) ([]device.Device, error)
	UpdateStatus(ctx context.Context, id string, status device.Status, lastSeen time.Time) error
	UpdateFirmware(ctx context.Context, id string, version string) error
}

// TenantEmitter delivers real-time events to a single tenant's
// observers. Events are never broadcast across tenants.
type TenantEmitter interface {
	EmitToTenant(tenantID, event string, payload any)
}

// HistoryWriter records telemetry series externally (InfluxDB).
// Writes are non-blocking; the implementation batches internally.
type HistoryWriter interface {
	WriteTelemetry(tenantID, deviceID string, metrics map[string]float64)
	WriteDeviceStatus(tenantID, deviceID, status string)
}

// pendingCommand tracks one in-flight command until settlement.
type pendingCommand struct {
	correlationID string
	tenantID      string
	deviceID      string
	command       string
	issuedAt      time.Time
	timer         *time.Timer
}

// DeviceGateway is the device command and telemetry core. It owns the
// pending-command map, the connected-device set, topic routing and
// threshold evaluation. Construct with NewDeviceGateway, then Start.
//
// Thread safety: all public methods are safe for concurrent use;
// message handlers may run concurrently on broker delivery goroutines.
type DeviceGateway struct {
	cfg    *config.Config
	broker MQTTClient
	topics mqtt.Topics

	registry   DeviceRegistry
	commands   command.Repository
	snapshots  telemetry.Repository
	accessLogs audit.AccessRepository
	auditLogs  audit.Repository
	emitter    TenantEmitter // optional
	history    HistoryWriter // optional

	thresholds []config.ThresholdRule

	// In-flight commands keyed by correlation id.
	pending   map[string]*pendingCommand
	pendingMu sync.Mutex

	// Liveness bookkeeping independent of the persisted device status.
	connected   map[string]time.Time
	connectedMu sync.RWMutex

	settledObservers []func(Settlement)
	observerMu       sync.RWMutex

	// Lifecycle coordination
	running   bool
	runningMu sync.Mutex
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	ctx       context.Context    // gateway-level context, cancelled on Stop()
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// Options holds the collaborators for creating a gateway.
type Options struct {
	Config     *config.Config
	Broker     MQTTClient
	Registry   DeviceRegistry
	Commands   command.Repository
	Snapshots  telemetry.Repository
	AccessLogs audit.AccessRepository
	AuditLogs  audit.Repository
	Emitter    TenantEmitter // optional: real-time observer
	History    HistoryWriter // optional: telemetry history
	Logger     Logger        // optional
}

// NewDeviceGateway creates a new gateway. Call Start to begin operation.
func NewDeviceGateway(opts Options) (*DeviceGateway, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("command repository is required")
	}
	if opts.Snapshots == nil {
		return nil, fmt.Errorf("telemetry repository is required")
	}

	thresholds := opts.Config.Telemetry.Thresholds
	if len(thresholds) == 0 {
		thresholds = config.DefaultThresholds()
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &DeviceGateway{
		cfg:        opts.Config,
		broker:     opts.Broker,
		registry:   opts.Registry,
		commands:   opts.Commands,
		snapshots:  opts.Snapshots,
		accessLogs: opts.AccessLogs,
		auditLogs:  opts.AuditLogs,
		emitter:    opts.Emitter,
		history:    opts.History,
		thresholds: thresholds,
		pending:    make(map[string]*pendingCommand),
		connected:  make(map[string]time.Time),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     logger,
	}, nil
}

// SetLogger sets the logger for the gateway.
func (g *DeviceGateway) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	defer g.loggerMu.Unlock()
	g.logger = logger
}

func (g *DeviceGateway) getLogger() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

// Start reconciles orphaned command records, subscribes to the wildcard
// topic set and marks the gateway running.
func (g *DeviceGateway) Start(ctx context.Context) error {
	g.reconcileStaleCommands(ctx)

	subscriptions := []string{
		g.topics.AllDeviceStatus(),
		g.topics.AllDeviceMetrics(),
		g.topics.AllDeviceResponses(),
		g.topics.AllDeviceEvents(),
		g.topics.AllAccessEvents(),
		g.topics.AllAlerts(),
		g.topics.AllSystemMessages(),
	}
	for _, topic := range subscriptions {
		if err := g.broker.Subscribe(topic, 1, g.Route); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	g.runningMu.Lock()
	g.running = true
	g.runningMu.Unlock()

	g.getLogger().Info("device gateway started",
		"subscriptions", len(subscriptions),
		"thresholds", len(g.thresholds))
	return nil
}

// Stop gracefully shuts down the gateway. All pending command timers
// are cancelled and pending entries discarded without finalizing their
// records; a later startup reconciliation sweeps them to unknown.
func (g *DeviceGateway) Stop() {
	g.stopOnce.Do(func() {
		g.runningMu.Lock()
		g.running = false
		g.runningMu.Unlock()

		close(g.done)
		g.ctxCancel()

		g.pendingMu.Lock()
		dropped := len(g.pending)
		for id, p := range g.pending {
			p.timer.Stop()
			delete(g.pending, id)
		}
		g.pendingMu.Unlock()

		g.wg.Wait()

		g.getLogger().Info("device gateway stopped", "dropped_pending", dropped)
	})
}

// isRunning reports whether the gateway accepts new commands.
func (g *DeviceGateway) isRunning() bool {
	g.runningMu.Lock()
	defer g.runningMu.Unlock()
	return g.running
}

// OnBrokerConnect requests a status refresh from every known
// non-decommissioned device. Wire it to the broker client's connect
// callback: the bus offers no replay, so after any outage the fleet is
// asked to re-announce itself.
func (g *DeviceGateway) OnBrokerConnect() {
	devices, err := g.registry.ListActive(g.ctx)
	if err != nil {
		g.getLogger().Error("status refresh: listing active devices failed", "error", err)
		return
	}

	payload, err := json.Marshal(statusRequestPayload{
		Command:     "report_status",
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		g.getLogger().Error("status refresh: marshalling request failed", "error", err)
		return
	}

	requested := 0
	for _, d := range devices {
		topic := g.topics.DeviceCommands(d.TenantID, d.ID)
		if err := g.broker.Publish(topic, payload, 1, false); err != nil {
			g.getLogger().Warn("status refresh: publish failed",
				"device_id", d.ID, "error", err)
			continue
		}
		requested++
	}
	g.getLogger().Info("status refresh requested", "devices", requested)
}

// reconcileStaleCommands sweeps command records left pending by a
// previous process to "unknown". Their true outcome is unknowable: the
// timers that would have finalized them died with the process.
func (g *DeviceGateway) reconcileStaleCommands(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-g.cfg.GetReconcileStaleAfter())
	n, err := g.commands.ReconcileStale(ctx, cutoff)
	if err != nil {
		g.getLogger().Error("stale command reconciliation failed", "error", err)
		return
	}
	if n > 0 {
		g.getLogger().Warn("reconciled stale command records", "count", n)
	}
}

// ConnectedDeviceCount returns the number of devices currently tracked
// as live by the in-memory connected set.
func (g *DeviceGateway) ConnectedDeviceCount() int {
	g.connectedMu.RLock()
	defer g.connectedMu.RUnlock()
	return len(g.connected)
}

// PendingCommandCount returns the number of in-flight commands.
func (g *DeviceGateway) PendingCommandCount() int {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	return len(g.pending)
}

// markConnected records liveness for a device in the in-memory set.
func (g *DeviceGateway) markConnected(deviceID string, at time.Time) {
	g.connectedMu.Lock()
	g.connected[deviceID] = at
	g.connectedMu.Unlock()
}

// markDisconnected removes a device from the in-memory connected set.
func (g *DeviceGateway) markDisconnected(deviceID string) {
	g.connectedMu.Lock()
	delete(g.connected, deviceID)
	g.connectedMu.Unlock()
}

// persistAsync runs a persistence call off the message path. Failures
// are logged, never propagated: durability is best-effort, liveness of
// the pipeline is not.
func (g *DeviceGateway) persistAsync(what string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(g.ctx); err != nil {
			g.getLogger().Error("persistence failed", "op", what, "error", err)
		}
	}()
}

// recordAudit writes an audit trail entry off the message path.
func (g *DeviceGateway) recordAudit(entry *audit.AuditLog) {
	if g.auditLogs == nil {
		return
	}
	g.persistAsync("audit."+entry.Action, func(ctx context.Context) error {
		return g.auditLogs.Create(ctx, entry)
	})
}
