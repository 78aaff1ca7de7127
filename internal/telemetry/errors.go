package telemetry

import "errors"

var (
	// ErrSnapshotNotFound is returned when no snapshot exists for a device.
	ErrSnapshotNotFound = errors.New("telemetry: snapshot not found")
)
