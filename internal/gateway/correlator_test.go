package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wardenhq/warden-core/internal/command"
	"github.com/wardenhq/warden-core/internal/device"
)

// settlementRecorder collects settlements for assertions.
type settlementRecorder struct {
	mu          sync.Mutex
	settlements []Settlement
}

func (r *settlementRecorder) record(s Settlement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settlements = append(r.settlements, s)
}

func (r *settlementRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.settlements)
}

func (r *settlementRecorder) last() (Settlement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.settlements) == 0 {
		return Settlement{}, false
	}
	return r.settlements[len(r.settlements)-1], true
}

// deliverResponse injects a device response through the router, the way
// the broker would deliver it.
func deliverResponse(t *testing.T, env *testEnv, tenantID, deviceID string, resp responsePayload) {
	t.Helper()
	payload, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshalling response: %v", err)
	}
	topic := fmt.Sprintf("warden/%s/devices/%s/responses", tenantID, deviceID)
	if err := env.gw.Route(topic, payload); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
}

func TestSendCommandPublishes(t *testing.T) {
	env := newTestGateway(t)

	id, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "lock",
		map[string]any{"force": true}, 5*time.Second, "usr-1")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !strings.HasPrefix(id, "cmd-") {
		t.Errorf("correlation id = %q, want cmd- prefix", id)
	}

	msg, ok := env.broker.lastPublished()
	if !ok {
		t.Fatal("nothing published")
	}
	if msg.topic != "warden/t1/devices/door-01/commands" {
		t.Errorf("topic = %q", msg.topic)
	}

	var payload commandPayload
	if err := json.Unmarshal(msg.payload, &payload); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if payload.CorrelationID != id {
		t.Errorf("payload correlation id = %q, want %q", payload.CorrelationID, id)
	}
	if payload.Command != "lock" {
		t.Errorf("payload command = %q", payload.Command)
	}
	if payload.TimeoutMs != 5000 {
		t.Errorf("payload timeoutMs = %d, want 5000", payload.TimeoutMs)
	}
	if env.gw.PendingCommandCount() != 1 {
		t.Errorf("PendingCommandCount() = %d, want 1", env.gw.PendingCommandCount())
	}
}

func TestSendCommandValidation(t *testing.T) {
	env := newTestGateway(t)
	ctx := context.Background()

	t.Run("unknown device", func(t *testing.T) {
		_, err := env.gw.SendCommand(ctx, "t1", "ghost", "lock", nil, 0, "usr-1")
		if !errors.Is(err, device.ErrDeviceNotFound) {
			t.Errorf("error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("cross tenant", func(t *testing.T) {
		// door-02 belongs to t2; t1 must not see it.
		_, err := env.gw.SendCommand(ctx, "t1", "door-02", "lock", nil, 0, "usr-1")
		if !errors.Is(err, device.ErrDeviceNotFound) {
			t.Errorf("error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("empty command", func(t *testing.T) {
		_, err := env.gw.SendCommand(ctx, "t1", "door-01", "", nil, 0, "usr-1")
		if !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("error = %v, want ErrInvalidCommand", err)
		}
	})

	t.Run("no publish on validation failure", func(t *testing.T) {
		if got := env.broker.publishCount(); got != 0 {
			t.Errorf("publish count = %d, want 0", got)
		}
	})
}

func TestSendCommandDecommissioned(t *testing.T) {
	env := newTestGateway(t)
	env.registry.devices["door-01"].Status = device.StatusDecommissioned

	_, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "lock", nil, 0, "usr-1")
	if !errors.Is(err, device.ErrDeviceDecommissioned) {
		t.Errorf("error = %v, want ErrDeviceDecommissioned", err)
	}
}

// TestResponseSettlesOnce covers the happy path: response before
// timeout settles exactly once with the declared outcome.
func TestResponseSettlesOnce(t *testing.T) {
	env := newTestGateway(t)
	rec := &settlementRecorder{}
	env.gw.OnCommandSettled(rec.record)

	id, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "lock", nil, 5*time.Second, "usr-1")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	waitFor(t, func() bool {
		return env.commands.status(id) == command.StatusPending
	}, "record never persisted")

	deliverResponse(t, env, "t1", "door-01", responsePayload{
		CorrelationID: id,
		Outcome:       "completed",
		Result:        json.RawMessage(`{"locked":true}`),
	})

	if rec.count() != 1 {
		t.Fatalf("settlement count = %d, want 1", rec.count())
	}
	s, _ := rec.last()
	if s.Outcome != command.StatusCompleted {
		t.Errorf("outcome = %q, want completed", s.Outcome)
	}
	if string(s.Result) != `{"locked":true}` {
		t.Errorf("result = %s", s.Result)
	}
	if env.gw.PendingCommandCount() != 0 {
		t.Errorf("PendingCommandCount() = %d after settlement, want 0", env.gw.PendingCommandCount())
	}

	waitFor(t, func() bool {
		return env.commands.status(id) == command.StatusCompleted
	}, "record not finalized as completed")
}

func TestFailedResponseOutcome(t *testing.T) {
	env := newTestGateway(t)
	rec := &settlementRecorder{}
	env.gw.OnCommandSettled(rec.record)

	id, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "unlock", nil, 5*time.Second, "usr-1")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	waitFor(t, func() bool {
		return env.commands.status(id) == command.StatusPending
	}, "record never persisted")

	deliverResponse(t, env, "t1", "door-01", responsePayload{
		CorrelationID: id,
		Outcome:       "failed",
		Error:         "latch jammed",
	})

	s, ok := rec.last()
	if !ok {
		t.Fatal("no settlement recorded")
	}
	if s.Outcome != command.StatusFailed || s.Error != "latch jammed" {
		t.Errorf("settlement = %+v, want failed/latch jammed", s)
	}
	waitFor(t, func() bool {
		return env.commands.status(id) == command.StatusFailed
	}, "record not finalized as failed")
}

// TestTimeoutSettlesOnce covers the no-response path: the timer fires
// once and a response arriving after timeout is dropped, not
// double-finalized.
func TestTimeoutSettlesOnce(t *testing.T) {
	env := newTestGateway(t)
	rec := &settlementRecorder{}
	env.gw.OnCommandSettled(rec.record)

	id, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "lock", nil, 30*time.Millisecond, "usr-1")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	waitFor(t, func() bool {
		return env.commands.status(id) == command.StatusPending
	}, "record never persisted")

	waitFor(t, func() bool { return rec.count() == 1 }, "timeout never fired")

	s, _ := rec.last()
	if s.Outcome != command.StatusTimeout {
		t.Errorf("outcome = %q, want timeout", s.Outcome)
	}
	waitFor(t, func() bool {
		return env.commands.status(id) == command.StatusTimeout
	}, "record not finalized as timeout")

	// A late response must find no pending entry and change nothing.
	deliverResponse(t, env, "t1", "door-01", responsePayload{
		CorrelationID: id,
		Outcome:       "completed",
	})

	if rec.count() != 1 {
		t.Errorf("settlement count = %d after late response, want 1", rec.count())
	}
	if got := env.commands.status(id); got != command.StatusTimeout {
		t.Errorf("record status = %q after late response, want timeout", got)
	}
}

func TestNearZeroTimeoutSettles(t *testing.T) {
	env := newTestGateway(t)
	rec := &settlementRecorder{}
	env.gw.OnCommandSettled(rec.record)

	// A timeout short enough to fire before SendCommand returns must
	// still settle the command rather than leak the pending entry.
	id, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "lock", nil, time.Nanosecond, "usr-1")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	waitFor(t, func() bool { return rec.count() == 1 }, "timeout settlement never fired")
	if got := env.gw.PendingCommandCount(); got != 0 {
		t.Errorf("PendingCommandCount() = %d, want 0", got)
	}
	waitFor(t, func() bool {
		return env.commands.status(id) == command.StatusTimeout
	}, "record not finalized as timeout")
}

func TestUnknownCorrelationDropped(t *testing.T) {
	env := newTestGateway(t)
	rec := &settlementRecorder{}
	env.gw.OnCommandSettled(rec.record)

	deliverResponse(t, env, "t1", "door-01", responsePayload{
		CorrelationID: "cmd-never-sent",
		Outcome:       "completed",
	})

	if rec.count() != 0 {
		t.Errorf("settlement count = %d for unknown correlation, want 0", rec.count())
	}
}

// TestBulkCommandBestEffort covers the N−1 property: one invalid
// device id yields N−1 correlation ids and never aborts the batch.
func TestBulkCommandBestEffort(t *testing.T) {
	env := newTestGateway(t)
	env.registry.devices["door-03"] = &device.Device{
		ID: "door-03", TenantID: "t1", Name: "Side", Type: device.TypeDoor, Status: device.StatusOnline,
	}

	ids := env.gw.BulkCommand(context.Background(), "t1",
		[]string{"door-01", "ghost", "door-03"}, "lock", nil, "usr-1")

	if len(ids) != 2 {
		t.Fatalf("BulkCommand() returned %d ids, want 2", len(ids))
	}
	if env.broker.publishCount() != 2 {
		t.Errorf("publish count = %d, want 2", env.broker.publishCount())
	}
}

func TestSendCommandPublishFailure(t *testing.T) {
	env := newTestGateway(t)
	env.broker.mu.Lock()
	env.broker.failTopics["warden/t1/devices/door-01/commands"] = errors.New("broker gone")
	env.broker.mu.Unlock()

	id, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "lock", nil, 0, "usr-1")
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("error = %v, want ErrDispatchFailed", err)
	}
	if id != "" {
		t.Errorf("correlation id = %q on failure, want empty", id)
	}
	if env.gw.PendingCommandCount() != 0 {
		t.Errorf("PendingCommandCount() = %d after failed dispatch, want 0", env.gw.PendingCommandCount())
	}
}

func TestSettlementFansOutToTenant(t *testing.T) {
	env := newTestGateway(t)

	id, err := env.gw.SendCommand(context.Background(), "t1", "door-01", "lock", nil, 5*time.Second, "usr-1")
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	deliverResponse(t, env, "t1", "door-01", responsePayload{
		CorrelationID: id,
		Outcome:       "completed",
	})

	events := env.emitter.byEvent("device.command.settled")
	if len(events) != 1 {
		t.Fatalf("settled events = %d, want 1", len(events))
	}
	if events[0].tenantID != "t1" {
		t.Errorf("settled event tenant = %q, want t1", events[0].tenantID)
	}
}
