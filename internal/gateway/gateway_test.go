package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wardenhq/warden-core/internal/audit"
	"github.com/wardenhq/warden-core/internal/command"
	"github.com/wardenhq/warden-core/internal/device"
	"github.com/wardenhq/warden-core/internal/infrastructure/config"
	"github.com/wardenhq/warden-core/internal/infrastructure/mqtt"
	"github.com/wardenhq/warden-core/internal/telemetry"
)

// mockBroker records publishes and subscriptions.
type mockBroker struct {
	mu         sync.Mutex
	published  []publishedMessage
	subscribed map[string]mqtt.MessageHandler
	// failTopics makes Publish fail for matching topics.
	failTopics map[string]error
}

type publishedMessage struct {
	topic   string
	payload []byte
	qos     byte
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		subscribed: make(map[string]mqtt.MessageHandler),
		failTopics: make(map[string]error),
	}
}

func (m *mockBroker) Publish(topic string, payload []byte, qos byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failTopics[topic]; ok {
		return err
	}
	m.published = append(m.published, publishedMessage{topic, payload, qos})
	return nil
}

func (m *mockBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed[topic] = handler
	return nil
}

func (m *mockBroker) IsConnected() bool { return true }

func (m *mockBroker) publishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func (m *mockBroker) lastPublished() (publishedMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.published) == 0 {
		return publishedMessage{}, false
	}
	return m.published[len(m.published)-1], true
}

// mockDeviceRegistry implements DeviceRegistry over a map.
type mockDeviceRegistry struct {
	mu      sync.Mutex
	devices map[string]*device.Device
	// status updates recorded for assertions
	statusUpdates []string
}

func newMockDeviceRegistry(devices ...*device.Device) *mockDeviceRegistry {
	m := &mockDeviceRegistry{devices: make(map[string]*device.Device)}
	for _, d := range devices {
		m.devices[d.ID] = d
	}
	return m
}

func (m *mockDeviceRegistry) GetDevice(_ context.Context, id string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		return d.Clone(), nil
	}
	return nil, device.ErrDeviceNotFound
}

func (m *mockDeviceRegistry) GetTenantDevice(ctx context.Context, tenantID, id string) (*device.Device, error) {
	d, err := m.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.TenantID != tenantID {
		return nil, device.ErrDeviceNotFound
	}
	return d, nil
}

func (m *mockDeviceRegistry) ListActive(_ context.Context) ([]device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var devices []device.Device
	for _, d := range m.devices {
		if d.Status != device.StatusDecommissioned {
			devices = append(devices, *d.Clone())
		}
	}
	return devices, nil
}

func (m *mockDeviceRegistry) UpdateStatus(_ context.Context, id string, status device.Status, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	d.Status = status
	ls := lastSeen
	d.LastSeen = &ls
	m.statusUpdates = append(m.statusUpdates, id+":"+string(status))
	return nil
}

func (m *mockDeviceRegistry) UpdateFirmware(_ context.Context, id string, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	d.FirmwareVersion = version
	return nil
}

// mockCommandRepo implements command.Repository in memory.
type mockCommandRepo struct {
	mu      sync.Mutex
	records map[string]*command.Record
}

func newMockCommandRepo() *mockCommandRepo {
	return &mockCommandRepo{records: make(map[string]*command.Record)}
}

func (m *mockCommandRepo) Create(_ context.Context, record *command.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.CorrelationID]; exists {
		return command.ErrRecordExists
	}
	clone := *record
	m.records[record.CorrelationID] = &clone
	return nil
}

func (m *mockCommandRepo) GetByID(_ context.Context, correlationID string) (*command.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[correlationID]; ok {
		clone := *r
		return &clone, nil
	}
	return nil, command.ErrRecordNotFound
}

func (m *mockCommandRepo) ListByDevice(_ context.Context, deviceID string, _ int) ([]command.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []command.Record
	for _, r := range m.records {
		if r.DeviceID == deviceID {
			records = append(records, *r)
		}
	}
	return records, nil
}

func (m *mockCommandRepo) Finalize(_ context.Context, correlationID string, status command.Status, result, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[correlationID]
	if !ok {
		return command.ErrRecordNotFound
	}
	if r.Status != command.StatusPending {
		return command.ErrAlreadyFinalized
	}
	r.Status = status
	r.Result = result
	r.Error = errMsg
	now := time.Now().UTC()
	r.CompletedAt = &now
	return nil
}

func (m *mockCommandRepo) ReconcileStale(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.Status == command.StatusPending && r.SentAt.Before(olderThan) {
			r.Status = command.StatusUnknown
			n++
		}
	}
	return n, nil
}

func (m *mockCommandRepo) status(correlationID string) command.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[correlationID]; ok {
		return r.Status
	}
	return ""
}

// mockSnapshotRepo implements telemetry.Repository in memory.
type mockSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[string]*telemetry.Snapshot
}

func newMockSnapshotRepo() *mockSnapshotRepo {
	return &mockSnapshotRepo{snapshots: make(map[string]*telemetry.Snapshot)}
}

func (m *mockSnapshotRepo) Upsert(_ context.Context, snapshot *telemetry.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.DeviceID] = snapshot.Clone()
	return nil
}

func (m *mockSnapshotRepo) GetByDevice(_ context.Context, deviceID string) (*telemetry.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.snapshots[deviceID]; ok {
		return s.Clone(), nil
	}
	return nil, telemetry.ErrSnapshotNotFound
}

func (m *mockSnapshotRepo) ListByTenant(_ context.Context, tenantID string) ([]telemetry.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var snapshots []telemetry.Snapshot
	for _, s := range m.snapshots {
		if s.TenantID == tenantID {
			snapshots = append(snapshots, *s.Clone())
		}
	}
	return snapshots, nil
}

// mockAccessRepo implements audit.AccessRepository in memory.
type mockAccessRepo struct {
	mu   sync.Mutex
	logs []audit.AccessLog
}

func (m *mockAccessRepo) Create(_ context.Context, log *audit.AccessLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockAccessRepo) ListByDevice(_ context.Context, deviceID string, _ int) ([]audit.AccessLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var logs []audit.AccessLog
	for _, l := range m.logs {
		if l.DeviceID == deviceID {
			logs = append(logs, l)
		}
	}
	return logs, nil
}

func (m *mockAccessRepo) ListByTenant(_ context.Context, tenantID string, _ int) ([]audit.AccessLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var logs []audit.AccessLog
	for _, l := range m.logs {
		if l.TenantID == tenantID {
			logs = append(logs, l)
		}
	}
	return logs, nil
}

func (m *mockAccessRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

// mockAuditRepo implements audit.Repository in memory.
type mockAuditRepo struct {
	mu   sync.Mutex
	logs []audit.AuditLog
}

func (m *mockAuditRepo) Create(_ context.Context, log *audit.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockAuditRepo) List(_ context.Context, _ audit.Filter) (*audit.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &audit.ListResult{Logs: append([]audit.AuditLog(nil), m.logs...)}, nil
}

// mockEmitter records tenant-scoped events.
type mockEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
}

type emittedEvent struct {
	tenantID string
	event    string
	payload  any
}

func (m *mockEmitter) EmitToTenant(tenantID, event string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, emittedEvent{tenantID, event, payload})
}

func (m *mockEmitter) byEvent(name string) []emittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []emittedEvent
	for _, e := range m.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

// testEnv bundles a gateway with its mocks.
type testEnv struct {
	gw       *DeviceGateway
	broker   *mockBroker
	registry *mockDeviceRegistry
	commands *mockCommandRepo
	snaps    *mockSnapshotRepo
	access   *mockAccessRepo
	audits   *mockAuditRepo
	emitter  *mockEmitter
}

// newTestGateway builds a started gateway over in-memory mocks, seeded
// with door-01 (tenant t1, online) and door-02 (tenant t2, online).
func newTestGateway(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		broker: newMockBroker(),
		registry: newMockDeviceRegistry(
			&device.Device{ID: "door-01", TenantID: "t1", Name: "Lobby", Type: device.TypeDoor, Status: device.StatusOnline},
			&device.Device{ID: "door-02", TenantID: "t2", Name: "Gate", Type: device.TypeBarrier, Status: device.StatusOnline},
		),
		commands: newMockCommandRepo(),
		snaps:    newMockSnapshotRepo(),
		access:   &mockAccessRepo{},
		audits:   &mockAuditRepo{},
		emitter:  &mockEmitter{},
	}

	gw, err := NewDeviceGateway(Options{
		Config:     config.DefaultConfig(),
		Broker:     env.broker,
		Registry:   env.registry,
		Commands:   env.commands,
		Snapshots:  env.snaps,
		AccessLogs: env.access,
		AuditLogs:  env.audits,
		Emitter:    env.emitter,
	})
	if err != nil {
		t.Fatalf("NewDeviceGateway() error = %v", err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(gw.Stop)

	env.gw = gw
	return env
}

// waitFor polls until cond is true or the deadline passes. Used for
// fire-and-forget persistence assertions.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewDeviceGatewayValidation(t *testing.T) {
	base := Options{
		Config:    config.DefaultConfig(),
		Broker:    newMockBroker(),
		Registry:  newMockDeviceRegistry(),
		Commands:  newMockCommandRepo(),
		Snapshots: newMockSnapshotRepo(),
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing config", func(o *Options) { o.Config = nil }},
		{"missing broker", func(o *Options) { o.Broker = nil }},
		{"missing registry", func(o *Options) { o.Registry = nil }},
		{"missing commands", func(o *Options) { o.Commands = nil }},
		{"missing snapshots", func(o *Options) { o.Snapshots = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			if _, err := NewDeviceGateway(opts); err == nil {
				t.Error("NewDeviceGateway() expected error")
			}
		})
	}
}

func TestStartSubscribesWildcards(t *testing.T) {
	env := newTestGateway(t)

	env.broker.mu.Lock()
	defer env.broker.mu.Unlock()
	for _, want := range []string{
		"warden/+/devices/+/status",
		"warden/+/devices/+/metrics",
		"warden/+/devices/+/responses",
		"warden/+/access/+/events",
		"warden/+/alerts/+/+",
	} {
		if _, ok := env.broker.subscribed[want]; !ok {
			t.Errorf("Start() did not subscribe to %s", want)
		}
	}
}

func TestStartReconcilesStalePending(t *testing.T) {
	env := &testEnv{
		broker:   newMockBroker(),
		registry: newMockDeviceRegistry(),
		commands: newMockCommandRepo(),
		snaps:    newMockSnapshotRepo(),
	}
	stale := &command.Record{
		CorrelationID: "cmd-stale",
		DeviceID:      "door-01",
		TenantID:      "t1",
		Command:       "lock",
		Status:        command.StatusPending,
		SentAt:        time.Now().UTC().Add(-24 * time.Hour),
	}
	if err := env.commands.Create(context.Background(), stale); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	gw, err := NewDeviceGateway(Options{
		Config:    config.DefaultConfig(),
		Broker:    env.broker,
		Registry:  env.registry,
		Commands:  env.commands,
		Snapshots: env.snaps,
	})
	if err != nil {
		t.Fatalf("NewDeviceGateway() error = %v", err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(gw.Stop)

	if got := env.commands.status("cmd-stale"); got != command.StatusUnknown {
		t.Errorf("stale record status = %q after start, want unknown", got)
	}
}

func TestOnBrokerConnectRequestsStatusRefresh(t *testing.T) {
	env := newTestGateway(t)

	env.gw.OnBrokerConnect()

	// Two active devices seeded, one request each.
	if got := env.broker.publishCount(); got != 2 {
		t.Errorf("publish count = %d after reconnect, want 2", got)
	}
	msg, _ := env.broker.lastPublished()
	if msg.topic != "warden/t1/devices/door-01/commands" &&
		msg.topic != "warden/t2/devices/door-02/commands" {
		t.Errorf("unexpected refresh topic %s", msg.topic)
	}
}

func TestSendCommandAfterStop(t *testing.T) {
	env := newTestGateway(t)
	env.gw.Stop()

	_, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "lock", nil, 0, "usr-1")
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("SendCommand() after Stop error = %v, want ErrNotRunning", err)
	}
}

func TestStopClearsPendingWithoutFinalizing(t *testing.T) {
	env := newTestGateway(t)

	id, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "lock", nil, time.Minute, "usr-1")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	waitFor(t, func() bool {
		return env.commands.status(id) == command.StatusPending
	}, "record never persisted")

	env.gw.Stop()

	if got := env.gw.PendingCommandCount(); got != 0 {
		t.Errorf("PendingCommandCount() = %d after Stop, want 0", got)
	}
	// Record stays pending; startup reconciliation owns the sweep.
	if got := env.commands.status(id); got != command.StatusPending {
		t.Errorf("record status = %q after Stop, want pending", got)
	}
}
