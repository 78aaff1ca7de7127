package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden-core/internal/audit"
	"github.com/wardenhq/warden-core/internal/command"
	"github.com/wardenhq/warden-core/internal/device"
)

// correlationIDSuffixLen is the number of random characters appended to
// the time-based correlation id to avoid collision under burst load.
const correlationIDSuffixLen = 8

// newCorrelationID generates a correlation id of the form
// cmd-<unixms>-<random>.
func newCorrelationID() string {
	return fmt.Sprintf("cmd-%d-%s",
		time.Now().UnixMilli(), uuid.NewString()[:correlationIDSuffixLen])
}

// SendCommand dispatches a command to a device and returns immediately
// with the correlation id. The terminal outcome (completed, failed or
// timeout) is delivered asynchronously through OnCommandSettled.
//
// Validation errors (unknown device, wrong tenant, decommissioned)
// surface synchronously with no network effect. A zero timeout selects
// the configured default.
func (g *DeviceGateway) SendCommand(ctx context.Context, tenantID, deviceID, cmd string, params map[string]any, timeout time.Duration, issuerID string) (string, error) {
	if !g.isRunning() {
		return "", ErrNotRunning
	}
	if cmd == "" {
		return "", ErrInvalidCommand
	}

	d, err := g.registry.GetTenantDevice(ctx, tenantID, deviceID)
	if err != nil {
		return "", err
	}
	if !d.Commandable() {
		return "", fmt.Errorf("%w: %s", device.ErrDeviceDecommissioned, deviceID)
	}

	if timeout <= 0 {
		timeout = g.cfg.GetCommandTimeout()
	}

	correlationID := newCorrelationID()
	issuedAt := time.Now().UTC()

	payload, err := json.Marshal(commandPayload{
		CorrelationID: correlationID,
		Command:       cmd,
		Parameters:    params,
		IssuedAt:      issuedAt,
		TimeoutMs:     timeout.Milliseconds(),
		IssuerID:      issuerID,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling command payload: %w", err)
	}

	pending := &pendingCommand{
		correlationID: correlationID,
		tenantID:      tenantID,
		deviceID:      deviceID,
		command:       cmd,
		issuedAt:      issuedAt,
	}
	// Insert before arming the timer, both under the mutex: a timer that
	// fires immediately blocks in settle until the entry is visible, so
	// even a near-zero timeout settles instead of leaking the entry.
	g.pendingMu.Lock()
	g.pending[correlationID] = pending
	pending.timer = time.AfterFunc(timeout, func() {
		g.settle(correlationID, command.StatusTimeout, nil,
			fmt.Sprintf("no response within %s", timeout))
	})
	g.pendingMu.Unlock()

	// Durable mirror; best-effort, off the dispatch path.
	paramsJSON, _ := json.Marshal(params) //nolint:errcheck // params already survived payload marshalling
	g.persistAsync("command.create", func(ctx context.Context) error {
		return g.commands.Create(ctx, &command.Record{
			CorrelationID: correlationID,
			DeviceID:      deviceID,
			TenantID:      tenantID,
			Command:       cmd,
			Parameters:    string(paramsJSON),
			IssuerID:      issuerID,
			Status:        command.StatusPending,
			SentAt:        issuedAt,
		})
	})

	topic := g.topics.DeviceCommands(tenantID, deviceID)
	if err := g.broker.Publish(topic, payload, 1, false); err != nil {
		// The command never left the building: undo the pending entry
		// and finalize the record as failed.
		g.pendingMu.Lock()
		if p, ok := g.pending[correlationID]; ok {
			p.timer.Stop()
			delete(g.pending, correlationID)
		}
		g.pendingMu.Unlock()

		g.persistAsync("command.finalize", func(ctx context.Context) error {
			return g.commands.Finalize(ctx, correlationID,
				command.StatusFailed, "", "publish failed: "+err.Error())
		})
		return "", fmt.Errorf("%w: %s to %s: %v", ErrDispatchFailed, cmd, deviceID, err)
	}

	g.recordAudit(&audit.AuditLog{
		TenantID:   tenantID,
		Action:     "command.sent",
		EntityType: "command",
		EntityID:   correlationID,
		Source:     "gateway",
		Details: map[string]any{
			"deviceId": deviceID,
			"command":  cmd,
			"issuerId": issuerID,
		},
	})

	g.getLogger().Debug("command dispatched",
		"correlation_id", correlationID,
		"device_id", deviceID,
		"command", cmd,
		"timeout", timeout)
	return correlationID, nil
}

// BulkCommand dispatches the same command to a set of devices.
// Fan-out is best-effort: a failure for one device is logged and must
// never abort dispatch to the rest of the fleet. Returns the
// correlation ids of the successful dispatches only.
func (g *DeviceGateway) BulkCommand(ctx context.Context, tenantID string, deviceIDs []string, cmd string, params map[string]any, issuerID string) []string {
	correlationIDs := make([]string, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		id, err := g.SendCommand(ctx, tenantID, deviceID, cmd, params, 0, issuerID)
		if err != nil {
			g.getLogger().Warn("bulk dispatch failed for device",
				"device_id", deviceID, "command", cmd, "error", err)
			continue
		}
		correlationIDs = append(correlationIDs, id)
	}
	return correlationIDs
}

// OnCommandSettled registers an observer invoked once per command
// settlement. Observers must not block; they run on the settling
// goroutine (broker delivery or timer).
func (g *DeviceGateway) OnCommandSettled(fn func(Settlement)) {
	g.observerMu.Lock()
	defer g.observerMu.Unlock()
	g.settledObservers = append(g.settledObservers, fn)
}

// handleDeviceResponse processes an inbound command response.
func (g *DeviceGateway) handleDeviceResponse(tenantID, deviceID string, payload []byte) {
	var resp responsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		g.getLogger().Warn("dropping malformed command response",
			"device_id", deviceID, "error", err)
		return
	}
	if resp.CorrelationID == "" {
		g.getLogger().Warn("dropping command response without correlation id",
			"device_id", deviceID)
		return
	}

	outcome := command.StatusCompleted
	if resp.Outcome != "completed" {
		outcome = command.StatusFailed
	}

	g.settle(resp.CorrelationID, outcome, resp.Result, resp.Error)
}

// settle finalizes a command exactly once. Both the response path and
// the timeout path funnel through here: compare-and-remove on the
// pending map under the mutex guarantees only one of them wins. Late
// arrivals find no entry and are dropped.
func (g *DeviceGateway) settle(correlationID string, outcome command.Status, result json.RawMessage, errMsg string) {
	g.pendingMu.Lock()
	pending, ok := g.pending[correlationID]
	if ok {
		delete(g.pending, correlationID)
	}
	g.pendingMu.Unlock()

	if !ok {
		g.getLogger().Debug("dropping settlement for unknown or already-settled command",
			"correlation_id", correlationID, "outcome", outcome)
		return
	}

	pending.timer.Stop()
	settledAt := time.Now().UTC()

	// The SQL guard (status='pending') backstops the map: even if the
	// record was touched elsewhere, it finalizes at most once.
	g.persistAsync("command.finalize", func(ctx context.Context) error {
		err := g.commands.Finalize(ctx, correlationID, outcome, string(result), errMsg)
		if errors.Is(err, command.ErrAlreadyFinalized) {
			g.getLogger().Debug("command record already finalized",
				"correlation_id", correlationID)
			return nil
		}
		return err
	})

	settlement := Settlement{
		CorrelationID: correlationID,
		TenantID:      pending.tenantID,
		DeviceID:      pending.deviceID,
		Command:       pending.command,
		Outcome:       outcome,
		Result:        result,
		Error:         errMsg,
		IssuedAt:      pending.issuedAt,
		SettledAt:     settledAt,
	}

	g.observerMu.RLock()
	observers := make([]func(Settlement), len(g.settledObservers))
	copy(observers, g.settledObservers)
	g.observerMu.RUnlock()
	for _, fn := range observers {
		fn(settlement)
	}

	g.PublishDeviceUpdate(pending.tenantID, pending.deviceID, "command.settled", settlement)

	g.recordAudit(&audit.AuditLog{
		TenantID:   pending.tenantID,
		Action:     "command.settled",
		EntityType: "command",
		EntityID:   correlationID,
		Source:     "gateway",
		Details: map[string]any{
			"deviceId": pending.deviceID,
			"command":  pending.command,
			"outcome":  string(outcome),
		},
	})

	g.getLogger().Debug("command settled",
		"correlation_id", correlationID,
		"outcome", outcome,
		"elapsed", settledAt.Sub(pending.issuedAt))
}
