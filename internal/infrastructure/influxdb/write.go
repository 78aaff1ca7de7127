package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteTelemetry records a full device telemetry report as a time-series point.
//
// The write is non-blocking; data is batched and sent asynchronously. A nil
// batteryLevel means the device did not report battery (mains powered).
//
// Parameters:
//   - tenantID: Community the device belongs to (tag)
//   - deviceID: Device identifier (tag)
//   - metrics: Field name -> value map (cpu, memory, disk, ...)
func (c *Client) WriteTelemetry(tenantID, deviceID string, metrics map[string]float64) {
	if !c.IsConnected() || len(metrics) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(metrics))
	for name, value := range metrics {
		fields[name] = value
	}

	point := write.NewPoint(
		"device_telemetry",
		map[string]string{
			"tenant_id": tenantID,
			"device_id": deviceID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceStatus records a device status transition (online, offline,
// maintenance) as a time-series point, enabling uptime reporting.
func (c *Client) WriteDeviceStatus(tenantID, deviceID, status string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_status",
		map[string]string{
			"tenant_id": tenantID,
			"device_id": deviceID,
		},
		map[string]interface{}{
			"status": status,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
