package gateway

import (
	"encoding/json"
	"time"

	"github.com/wardenhq/warden-core/internal/command"
)

// commandPayload is the outbound command message published to
// warden/{tenant}/devices/{id}/commands.
type commandPayload struct {
	CorrelationID string         `json:"correlationId"`
	Command       string         `json:"command"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	IssuedAt      time.Time      `json:"issuedAt"`
	TimeoutMs     int64          `json:"timeoutMs"`
	IssuerID      string         `json:"issuerId,omitempty"`
}

// responsePayload is the inbound command response from a device.
type responsePayload struct {
	CorrelationID string          `json:"correlationId"`
	Outcome       string          `json:"outcome"` // "completed" or "failed"
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// statusPayload is the inbound liveness report from a device.
type statusPayload struct {
	Status          string `json:"status"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

// metricsPayload is the inbound telemetry report from a device.
// Fields are pointers: devices report only the metrics they have.
type metricsPayload struct {
	CPUUsage       *float64 `json:"cpuUsage"`
	MemoryUsage    *float64 `json:"memoryUsage"`
	DiskUsage      *float64 `json:"diskUsage"`
	Temperature    *float64 `json:"temperature"`
	UptimeHours    *float64 `json:"uptimeHours"`
	SignalStrength *float64 `json:"signalStrength"`
	BatteryLevel   *float64 `json:"batteryLevel"`
}

// statusRequestPayload asks a device to re-publish its current status.
// Sent to every active device after a broker (re)connect — the bus has
// no replay, so this is how state is rebuilt after an outage.
type statusRequestPayload struct {
	Command     string    `json:"command"`
	RequestedAt time.Time `json:"requestedAt"`
}

// AccessEvent is an inbound access-point event (entry attempt).
type AccessEvent struct {
	UserID        string         `json:"userId,omitempty"`
	AccessMethod  string         `json:"accessMethod"`
	Granted       bool           `json:"granted"`
	FailureReason string         `json:"failureReason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// deviceAlertPayload is an alert raised by the device itself (as opposed
// to a threshold alert computed by the gateway).
type deviceAlertPayload struct {
	AlertType string  `json:"alertType"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

// Alert is a transient threshold or device-raised alert. It is handed
// to the fan-out and audit trail, never persisted by the core.
type Alert struct {
	TenantID      string    `json:"tenantId"`
	DeviceID      string    `json:"deviceId"`
	AlertType     string    `json:"alertType"`
	Severity      string    `json:"severity"`
	MeasuredValue float64   `json:"measuredValue,omitempty"`
	Threshold     float64   `json:"threshold,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Settlement is the terminal outcome of a dispatched command, delivered
// to registered observers exactly once per command.
type Settlement struct {
	CorrelationID string          `json:"correlationId"`
	TenantID      string          `json:"tenantId"`
	DeviceID      string          `json:"deviceId"`
	Command       string          `json:"command"`
	Outcome       command.Status  `json:"outcome"` // completed, failed or timeout
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	IssuedAt      time.Time       `json:"issuedAt"`
	SettledAt     time.Time       `json:"settledAt"`
}
