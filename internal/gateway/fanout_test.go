package gateway

import (
	"context"
	"encoding/json"
	"testing"
)

func TestClassifyDenialSeverity(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"tampering", "critical"},
		{"forced_entry", "critical"},
		{"duress", "critical"},
		{"invalid_credential", "high"},
		{"revoked_credential", "high"},
		{"antipassback", "high"},
		{"expired_credential", "medium"},
		{"schedule_violation", "medium"},
		{"wrong_door", "low"},
		{"", "low"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			if got := classifyDenialSeverity(tt.reason); got != tt.want {
				t.Errorf("classifyDenialSeverity(%q) = %q, want %q", tt.reason, got, tt.want)
			}
		})
	}
}

// TestDeniedAccessRaisesSecurityAlert covers the tampering scenario: a
// denied attempt creates an access log entry AND fans out a
// security.alert with severity critical to the device's tenant.
func TestDeniedAccessRaisesSecurityAlert(t *testing.T) {
	env := newTestGateway(t)

	raw, _ := json.Marshal(AccessEvent{
		AccessMethod:  "card",
		Granted:       false,
		FailureReason: "tampering",
	})
	if err := env.gw.Route("warden/t1/access/door-01/events", raw); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	waitFor(t, func() bool { return env.access.count() == 1 }, "access log never created")

	logs, err := env.access.ListByDevice(context.Background(), "door-01", 10)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if logs[0].Granted {
		t.Error("access log Granted = true, want false")
	}
	if logs[0].FailureReason != "tampering" {
		t.Errorf("FailureReason = %q", logs[0].FailureReason)
	}

	alerts := env.emitter.byEvent("security.alert")
	if len(alerts) != 1 {
		t.Fatalf("security.alert count = %d, want 1", len(alerts))
	}
	if alerts[0].tenantID != "t1" {
		t.Errorf("alert tenant = %q, want t1", alerts[0].tenantID)
	}
	a := alerts[0].payload.(Alert)
	if a.Severity != "critical" {
		t.Errorf("severity = %q, want critical", a.Severity)
	}
	if a.DeviceID != "door-01" {
		t.Errorf("device = %q, want door-01", a.DeviceID)
	}
}

func TestGrantedAccessNoSecurityAlert(t *testing.T) {
	env := newTestGateway(t)

	raw, _ := json.Marshal(AccessEvent{
		UserID:       "usr-7",
		AccessMethod: "mobile",
		Granted:      true,
	})
	if err := env.gw.Route("warden/t1/access/door-01/events", raw); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	waitFor(t, func() bool { return env.access.count() == 1 }, "access log never created")

	if alerts := env.emitter.byEvent("security.alert"); len(alerts) != 0 {
		t.Errorf("security.alert count = %d for granted access, want 0", len(alerts))
	}
	if events := env.emitter.byEvent("access.event"); len(events) != 1 {
		t.Errorf("access.event count = %d, want 1", len(events))
	}
}

// TestFanoutTenantScoped: events from one tenant's device must never
// reach another tenant's observers.
func TestFanoutTenantScoped(t *testing.T) {
	env := newTestGateway(t)

	// door-02 belongs to t2.
	raw, _ := json.Marshal(AccessEvent{
		AccessMethod:  "pin",
		Granted:       false,
		FailureReason: "invalid_credential",
	})
	if err := env.gw.Route("warden/t2/access/door-02/events", raw); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	env.emitter.mu.Lock()
	defer env.emitter.mu.Unlock()
	for _, e := range env.emitter.events {
		if e.tenantID != "t2" {
			t.Errorf("event %q delivered to tenant %q, want only t2", e.event, e.tenantID)
		}
	}
}

func TestDeviceRaisedAlertForwarded(t *testing.T) {
	env := newTestGateway(t)

	raw, _ := json.Marshal(deviceAlertPayload{
		AlertType: "door_held_open",
		Severity:  "warning",
		Message:   "door open for 120s",
	})
	if err := env.gw.Route("warden/t1/alerts/door-01/raised", raw); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	alerts := env.emitter.byEvent("device.alert")
	if len(alerts) != 1 {
		t.Fatalf("alert count = %d, want 1", len(alerts))
	}
	a := alerts[0].payload.(Alert)
	if a.AlertType != "door_held_open" || a.Severity != "warning" {
		t.Errorf("alert = %+v", a)
	}
}

func TestDeviceRaisedAlertDefaultSeverity(t *testing.T) {
	env := newTestGateway(t)

	raw, _ := json.Marshal(deviceAlertPayload{AlertType: "sensor_fault"})
	if err := env.gw.Route("warden/t1/alerts/door-01/raised", raw); err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	alerts := env.emitter.byEvent("device.alert")
	if len(alerts) != 1 {
		t.Fatalf("alert count = %d, want 1", len(alerts))
	}
	if a := alerts[0].payload.(Alert); a.Severity != "warning" {
		t.Errorf("severity = %q, want warning default", a.Severity)
	}
}
