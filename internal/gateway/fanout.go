package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wardenhq/warden-core/internal/audit"
)

// Denial reasons with fixed severity. Anything not listed is "low".
// Tampering-class reasons are critical regardless of credential state.
var denialSeverities = map[string]string{
	"tampering":          "critical",
	"forced_entry":       "critical",
	"duress":             "critical",
	"invalid_credential": "high",
	"revoked_credential": "high",
	"antipassback":       "high",
	"expired_credential": "medium",
	"schedule_violation": "medium",
}

// classifyDenialSeverity maps an access denial reason to a severity.
func classifyDenialSeverity(reason string) string {
	if sev, ok := denialSeverities[reason]; ok {
		return sev
	}
	return "low"
}

// PublishDeviceUpdate delivers a device-scoped event to the tenant's
// real-time observers. Events are strictly tenant-scoped — cross-tenant
// broadcast is never performed.
func (g *DeviceGateway) PublishDeviceUpdate(tenantID, deviceID, kind string, payload any) {
	if g.emitter == nil {
		return
	}
	g.emitter.EmitToTenant(tenantID, "device."+kind, payload)
	g.getLogger().Debug("device update fanned out",
		"tenant_id", tenantID, "device_id", deviceID, "kind", kind)
}

// PublishAlert delivers an alert to the tenant's observers and records
// it in the audit trail. Alerts are transient: the audit entry is the
// only durable trace the core keeps.
func (g *DeviceGateway) PublishAlert(tenantID string, alert Alert) {
	if g.emitter != nil {
		g.emitter.EmitToTenant(tenantID, "device.alert", alert)
	}

	g.recordAudit(&audit.AuditLog{
		TenantID:   tenantID,
		Action:     "alert.raised",
		EntityType: "alert",
		EntityID:   alert.DeviceID,
		Source:     "gateway",
		Details: map[string]any{
			"alertType":     alert.AlertType,
			"severity":      alert.Severity,
			"measuredValue": alert.MeasuredValue,
			"threshold":     alert.Threshold,
		},
	})

	g.getLogger().Info("alert raised",
		"tenant_id", tenantID,
		"device_id", alert.DeviceID,
		"alert_type", alert.AlertType,
		"severity", alert.Severity)
}

// PublishAccessEvent records an entry attempt and delivers it to the
// tenant's observers. A denied attempt additionally synthesizes a
// security.alert whose severity derives from the denial reason.
func (g *DeviceGateway) PublishAccessEvent(tenantID, deviceID string, event AccessEvent) {
	if g.accessLogs != nil {
		g.persistAsync("access.create", func(ctx context.Context) error {
			return g.accessLogs.Create(ctx, &audit.AccessLog{
				TenantID:      tenantID,
				DeviceID:      deviceID,
				UserID:        event.UserID,
				AccessMethod:  event.AccessMethod,
				Granted:       event.Granted,
				FailureReason: event.FailureReason,
				Metadata:      event.Metadata,
			})
		})
	}

	if g.emitter != nil {
		g.emitter.EmitToTenant(tenantID, "access.event", map[string]any{
			"deviceId":      deviceID,
			"userId":        event.UserID,
			"accessMethod":  event.AccessMethod,
			"granted":       event.Granted,
			"failureReason": event.FailureReason,
		})
	}

	if event.Granted {
		return
	}

	severity := classifyDenialSeverity(event.FailureReason)
	alert := Alert{
		TenantID:  tenantID,
		DeviceID:  deviceID,
		AlertType: "security.alert",
		Severity:  severity,
		Message:   event.FailureReason,
		Timestamp: time.Now().UTC(),
	}
	if g.emitter != nil {
		g.emitter.EmitToTenant(tenantID, "security.alert", alert)
	}

	g.recordAudit(&audit.AuditLog{
		TenantID:   tenantID,
		Action:     "access.denied",
		EntityType: "device",
		EntityID:   deviceID,
		Source:     "gateway",
		Details: map[string]any{
			"userId":        event.UserID,
			"accessMethod":  event.AccessMethod,
			"failureReason": event.FailureReason,
			"severity":      severity,
		},
	})
}

// handleAccessEvent parses an inbound access-point event and hands it
// to PublishAccessEvent.
func (g *DeviceGateway) handleAccessEvent(tenantID, deviceID string, payload []byte) {
	var event AccessEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		g.getLogger().Warn("dropping malformed access event",
			"device_id", deviceID, "error", err)
		return
	}
	if event.AccessMethod == "" {
		g.getLogger().Warn("dropping access event without access method",
			"device_id", deviceID)
		return
	}
	g.PublishAccessEvent(tenantID, deviceID, event)
}

// handleDeviceAlert forwards an alert raised by the device itself.
func (g *DeviceGateway) handleDeviceAlert(tenantID, deviceID string, payload []byte) {
	var raised deviceAlertPayload
	if err := json.Unmarshal(payload, &raised); err != nil {
		g.getLogger().Warn("dropping malformed device alert",
			"device_id", deviceID, "error", err)
		return
	}
	if raised.AlertType == "" {
		g.getLogger().Warn("dropping device alert without type",
			"device_id", deviceID)
		return
	}

	severity := raised.Severity
	if severity == "" {
		severity = "warning"
	}

	g.PublishAlert(tenantID, Alert{
		TenantID:      tenantID,
		DeviceID:      deviceID,
		AlertType:     raised.AlertType,
		Severity:      severity,
		MeasuredValue: raised.Value,
		Message:       raised.Message,
		Timestamp:     time.Now().UTC(),
	})
}
