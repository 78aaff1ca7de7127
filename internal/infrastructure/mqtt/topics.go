package mqtt

import "fmt"

// Topic scheme for Warden Core.
//
// Inbound device traffic follows:
//
//	warden/{tenantId}/{category}/{deviceId}/{messageKind}
//
// where category is one of "devices", "access", "alerts" or "system".
// Outbound commands go to the device-specific command topic, and the
// backend's own liveness is a retained message on the system status topic.
const (
	// TopicPrefix is the root of all Warden topics.
	TopicPrefix = "warden"

	// TopicSegments is the number of segments in a fully-qualified
	// tenant-scoped topic (root/tenant/category/device/kind).
	TopicSegments = 5

	// Category names used in the second topic position.
	CategoryDevices = "devices"
	CategoryAccess  = "access"
	CategoryAlerts  = "alerts"
	CategorySystem  = "system"
)

// Topics provides builders for Warden MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommands("t1", "door-lobby-01")
//	// Returns: "warden/t1/devices/door-lobby-01/commands"
type Topics struct{}

// DeviceCommands returns the outbound command topic for a device.
//
// Example: warden/t1/devices/door-lobby-01/commands
func (Topics) DeviceCommands(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s/devices/%s/commands", TopicPrefix, tenantID, deviceID)
}

// DeviceStatus returns the inbound status topic for a device.
//
// Example: warden/t1/devices/door-lobby-01/status
func (Topics) DeviceStatus(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s/devices/%s/status", TopicPrefix, tenantID, deviceID)
}

// DeviceMetrics returns the inbound metrics topic for a device.
//
// Example: warden/t1/devices/door-lobby-01/metrics
func (Topics) DeviceMetrics(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s/devices/%s/metrics", TopicPrefix, tenantID, deviceID)
}

// DeviceResponses returns the inbound command-response topic for a device.
//
// Example: warden/t1/devices/door-lobby-01/responses
func (Topics) DeviceResponses(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s/devices/%s/responses", TopicPrefix, tenantID, deviceID)
}

// AccessEvents returns the inbound access-point event topic for a device.
//
// Example: warden/t1/access/door-lobby-01/events
func (Topics) AccessEvents(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s/access/%s/events", TopicPrefix, tenantID, deviceID)
}

// DeviceAlerts returns the inbound device-raised alert topic.
//
// Example: warden/t1/alerts/door-lobby-01/raised
func (Topics) DeviceAlerts(tenantID, deviceID string) string {
	return fmt.Sprintf("%s/%s/alerts/%s/raised", TopicPrefix, tenantID, deviceID)
}

// SystemStatus returns the backend's retained liveness topic.
//
// Example: warden/system/backend/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/backend/status", TopicPrefix)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceStatus matches status reports from every tenant's devices.
//
// Pattern: warden/+/devices/+/status
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/+/devices/+/status", TopicPrefix)
}

// AllDeviceMetrics matches metric reports from every tenant's devices.
//
// Pattern: warden/+/devices/+/metrics
func (Topics) AllDeviceMetrics() string {
	return fmt.Sprintf("%s/+/devices/+/metrics", TopicPrefix)
}

// AllDeviceEvents matches event reports from every tenant's devices.
//
// Pattern: warden/+/devices/+/events
func (Topics) AllDeviceEvents() string {
	return fmt.Sprintf("%s/+/devices/+/events", TopicPrefix)
}

// AllDeviceResponses matches command responses from every tenant's devices.
//
// Pattern: warden/+/devices/+/responses
func (Topics) AllDeviceResponses() string {
	return fmt.Sprintf("%s/+/devices/+/responses", TopicPrefix)
}

// AllAccessEvents matches access-point events from every tenant.
//
// Pattern: warden/+/access/+/events
func (Topics) AllAccessEvents() string {
	return fmt.Sprintf("%s/+/access/+/events", TopicPrefix)
}

// AllAlerts matches device-raised alerts from every tenant.
//
// Pattern: warden/+/alerts/+/+
func (Topics) AllAlerts() string {
	return fmt.Sprintf("%s/+/alerts/+/+", TopicPrefix)
}

// AllSystemMessages matches tenant-scoped system messages.
//
// Pattern: warden/+/system/+/+
func (Topics) AllSystemMessages() string {
	return fmt.Sprintf("%s/+/system/+/+", TopicPrefix)
}
