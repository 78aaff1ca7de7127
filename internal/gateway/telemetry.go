package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wardenhq/warden-core/internal/device"
	"github.com/wardenhq/warden-core/internal/telemetry"
)

// handleDeviceStatus ingests a liveness report. The persisted device
// status and the in-memory connected set are both updated; a firmware
// version in the payload is recorded as reported.
func (g *DeviceGateway) handleDeviceStatus(tenantID, deviceID string, payload []byte) {
	var report statusPayload
	if err := json.Unmarshal(payload, &report); err != nil {
		g.getLogger().Warn("dropping malformed status report",
			"device_id", deviceID, "error", err)
		return
	}

	status := device.Status(report.Status)
	if !status.IsValid() {
		g.getLogger().Warn("dropping status report with unknown status",
			"device_id", deviceID, "status", report.Status)
		return
	}

	now := time.Now().UTC()
	if status == device.StatusOnline {
		g.markConnected(deviceID, now)
	} else {
		g.markDisconnected(deviceID)
	}

	g.persistAsync("device.status", func(ctx context.Context) error {
		return g.registry.UpdateStatus(ctx, deviceID, status, now)
	})
	if report.FirmwareVersion != "" {
		g.persistAsync("device.firmware", func(ctx context.Context) error {
			return g.registry.UpdateFirmware(ctx, deviceID, report.FirmwareVersion)
		})
	}

	if g.history != nil {
		g.history.WriteDeviceStatus(tenantID, deviceID, string(status))
	}

	g.PublishDeviceUpdate(tenantID, deviceID, "status", map[string]any{
		"deviceId": deviceID,
		"status":   string(status),
		"lastSeen": now,
	})

	g.getLogger().Debug("device status ingested",
		"device_id", deviceID, "status", status)
}

// handleDeviceMetrics ingests a telemetry report: overwrite the
// snapshot (last value wins), refresh liveness, evaluate thresholds.
// Each breached rule produces one alert; no debouncing here — that
// belongs to the downstream alert consumer.
func (g *DeviceGateway) handleDeviceMetrics(tenantID, deviceID string, payload []byte) {
	var report metricsPayload
	if err := json.Unmarshal(payload, &report); err != nil {
		g.getLogger().Warn("dropping malformed metrics report",
			"device_id", deviceID, "error", err)
		return
	}

	now := time.Now().UTC()
	snapshot := &telemetry.Snapshot{
		DeviceID:       deviceID,
		TenantID:       tenantID,
		CPUUsage:       report.CPUUsage,
		MemoryUsage:    report.MemoryUsage,
		DiskUsage:      report.DiskUsage,
		Temperature:    report.Temperature,
		UptimeHours:    report.UptimeHours,
		SignalStrength: report.SignalStrength,
		BatteryLevel:   report.BatteryLevel,
		LastHeartbeat:  now,
	}

	g.markConnected(deviceID, now)

	g.persistAsync("telemetry.upsert", func(ctx context.Context) error {
		return g.snapshots.Upsert(ctx, snapshot)
	})
	g.persistAsync("device.heartbeat", func(ctx context.Context) error {
		return g.registry.UpdateStatus(ctx, deviceID, device.StatusOnline, now)
	})

	metrics := snapshot.Metrics()
	if g.history != nil && len(metrics) > 0 {
		g.history.WriteTelemetry(tenantID, deviceID, metrics)
	}

	for _, alert := range g.evaluateThresholds(tenantID, deviceID, metrics, now) {
		g.PublishAlert(tenantID, alert)
	}

	g.PublishDeviceUpdate(tenantID, deviceID, "metrics", snapshot)

	g.getLogger().Debug("telemetry ingested",
		"device_id", deviceID, "metrics", len(metrics))
}

// evaluateThresholds checks every configured rule against the report.
// Rules are independent: one report can breach several at once and
// yields one alert per breach.
func (g *DeviceGateway) evaluateThresholds(tenantID, deviceID string, metrics map[string]float64, at time.Time) []Alert {
	var alerts []Alert
	for _, rule := range g.thresholds {
		value, ok := metrics[rule.Metric]
		if !ok {
			continue
		}

		breached := false
		switch rule.Op {
		case "gt":
			breached = value > rule.Value
		case "lt":
			breached = value < rule.Value
		default:
			g.getLogger().Warn("skipping threshold rule with unknown op",
				"metric", rule.Metric, "op", rule.Op)
			continue
		}
		if !breached {
			continue
		}

		alerts = append(alerts, Alert{
			TenantID:      tenantID,
			DeviceID:      deviceID,
			AlertType:     rule.AlertType,
			Severity:      rule.Severity,
			MeasuredValue: value,
			Threshold:     rule.Value,
			Timestamp:     at,
		})
	}
	return alerts
}

// handleDeviceEvent forwards a generic device event to the tenant's
// observers unchanged.
func (g *DeviceGateway) handleDeviceEvent(tenantID, deviceID string, payload []byte) {
	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		g.getLogger().Warn("dropping malformed device event",
			"device_id", deviceID, "error", err)
		return
	}

	g.PublishDeviceUpdate(tenantID, deviceID, "event", map[string]any{
		"deviceId": deviceID,
		"event":    event,
	})
}
