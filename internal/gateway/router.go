package gateway

import (
	"strings"

	"github.com/wardenhq/warden-core/internal/infrastructure/mqtt"
)

// Route classifies an inbound message by topic and dispatches it to the
// matching handler. It is registered as the handler for every wildcard
// subscription.
//
// Topics follow warden/{tenantId}/{category}/{deviceId}/{messageKind}.
// Anything that does not fit — wrong prefix, too few segments, unknown
// category — is logged at warning level and dropped. Malformed payloads
// are caught per-message inside the handlers: one bad message must
// never halt processing of the next.
func (g *DeviceGateway) Route(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < mqtt.TopicSegments || parts[0] != mqtt.TopicPrefix {
		g.getLogger().Warn("dropping message with unrecognised topic shape", "topic", topic)
		return nil
	}

	tenantID := parts[1]
	category := parts[2]
	deviceID := parts[3]
	kind := parts[4]

	switch category {
	case mqtt.CategoryDevices:
		g.routeDeviceMessage(tenantID, deviceID, kind, payload)
	case mqtt.CategoryAccess:
		g.handleAccessEvent(tenantID, deviceID, payload)
	case mqtt.CategoryAlerts:
		g.handleDeviceAlert(tenantID, deviceID, payload)
	case mqtt.CategorySystem:
		g.getLogger().Debug("system message",
			"tenant_id", tenantID, "source", deviceID, "kind", kind)
	default:
		g.getLogger().Warn("dropping message with unknown category",
			"topic", topic, "category", category)
	}
	return nil
}

// routeDeviceMessage dispatches the devices category by message kind.
func (g *DeviceGateway) routeDeviceMessage(tenantID, deviceID, kind string, payload []byte) {
	switch kind {
	case "status":
		g.handleDeviceStatus(tenantID, deviceID, payload)
	case "metrics":
		g.handleDeviceMetrics(tenantID, deviceID, payload)
	case "responses":
		g.handleDeviceResponse(tenantID, deviceID, payload)
	case "events":
		g.handleDeviceEvent(tenantID, deviceID, payload)
	default:
		g.getLogger().Warn("dropping device message with unknown kind",
			"device_id", deviceID, "kind", kind)
	}
}
