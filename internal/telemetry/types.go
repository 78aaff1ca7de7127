package telemetry

import "time"

// Snapshot holds the most recent metrics reported by a device. It is
// overwritten on every report — last value wins, no history. Historical
// series live in InfluxDB when the history writer is enabled.
//
// Metric fields are pointers: devices report only the metrics they have
// (a battery-powered sensor has battery_level, a mains-powered door
// controller does not), and absent must be distinguishable from zero.
type Snapshot struct {
	DeviceID       string     `json:"deviceId"`
	TenantID       string     `json:"tenantId"`
	CPUUsage       *float64   `json:"cpuUsage,omitempty"`
	MemoryUsage    *float64   `json:"memoryUsage,omitempty"`
	DiskUsage      *float64   `json:"diskUsage,omitempty"`
	Temperature    *float64   `json:"temperature,omitempty"`
	UptimeHours    *float64   `json:"uptimeHours,omitempty"`
	SignalStrength *float64   `json:"signalStrength,omitempty"`
	BatteryLevel   *float64   `json:"batteryLevel,omitempty"`
	LastHeartbeat  time.Time  `json:"lastHeartbeat"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Metrics returns the present metric values keyed by canonical metric
// name. Absent metrics are omitted. The keys match threshold rule
// metric names and InfluxDB field names.
func (s *Snapshot) Metrics() map[string]float64 {
	m := make(map[string]float64, 7)
	put := func(name string, v *float64) {
		if v != nil {
			m[name] = *v
		}
	}
	put("cpu", s.CPUUsage)
	put("memory", s.MemoryUsage)
	put("disk", s.DiskUsage)
	put("temperature", s.Temperature)
	put("uptime_hours", s.UptimeHours)
	put("signal_strength", s.SignalStrength)
	put("battery", s.BatteryLevel)
	return m
}

// SetMetric assigns a metric value by canonical name. Unknown names are
// ignored and reported as false so callers can log them.
func (s *Snapshot) SetMetric(name string, value float64) bool {
	v := value
	switch name {
	case "cpu":
		s.CPUUsage = &v
	case "memory":
		s.MemoryUsage = &v
	case "disk":
		s.DiskUsage = &v
	case "temperature":
		s.Temperature = &v
	case "uptime_hours":
		s.UptimeHours = &v
	case "signal_strength":
		s.SignalStrength = &v
	case "battery":
		s.BatteryLevel = &v
	default:
		return false
	}
	return true
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	clone := *s
	copyPtr := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		c := *v
		return &c
	}
	clone.CPUUsage = copyPtr(s.CPUUsage)
	clone.MemoryUsage = copyPtr(s.MemoryUsage)
	clone.DiskUsage = copyPtr(s.DiskUsage)
	clone.Temperature = copyPtr(s.Temperature)
	clone.UptimeHours = copyPtr(s.UptimeHours)
	clone.SignalStrength = copyPtr(s.SignalStrength)
	clone.BatteryLevel = copyPtr(s.BatteryLevel)
	return &clone
}
