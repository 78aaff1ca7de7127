package device

import "time"

// Device represents a physical access-control endpoint: a door controller,
// barrier, sensor or camera belonging to one tenant community.
//
// Devices are owned by the surrounding application; the gateway reads
// identity and tenant, and writes Status, LastSeen and FirmwareVersion.
type Device struct {
	// Identity
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`

	// Classification
	Type DeviceType `json:"type"`

	// Liveness, driven by connection lifecycle and telemetry
	Status   Status     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Reported by the device itself
	FirmwareVersion string `json:"firmware_version,omitempty"`
	NetworkAddress  string `json:"network_address,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the Device.
// Pointer fields are duplicated so cache entries cannot be mutated
// through returned values.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	if d.LastSeen != nil {
		ls := *d.LastSeen
		cpy.LastSeen = &ls
	}
	return &cpy
}

// DeviceType classifies the physical hardware.
type DeviceType string

// Supported device types.
const (
	TypeDoor    DeviceType = "door"
	TypeBarrier DeviceType = "barrier"
	TypeSensor  DeviceType = "sensor"
	TypeCamera  DeviceType = "camera"
)

// IsValid reports whether the device type is recognised.
func (t DeviceType) IsValid() bool {
	switch t {
	case TypeDoor, TypeBarrier, TypeSensor, TypeCamera:
		return true
	}
	return false
}

// Status is the persisted liveness state of a device.
type Status string

// Device status values.
const (
	StatusOnline         Status = "online"
	StatusOffline        Status = "offline"
	StatusMaintenance    Status = "maintenance"
	StatusDecommissioned Status = "decommissioned"
)

// IsValid reports whether the status value is recognised.
func (s Status) IsValid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusMaintenance, StatusDecommissioned:
		return true
	}
	return false
}

// Commandable reports whether the device may receive commands.
// Decommissioned devices are rejected before any network call is made.
func (d *Device) Commandable() bool {
	return d.Status != StatusDecommissioned
}
