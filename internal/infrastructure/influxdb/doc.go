// Package influxdb records telemetry history for Warden Core.
//
// The gateway itself retains only the latest snapshot per device; this
// package is the history collaborator, writing every telemetry report and
// device status transition to InfluxDB as time-series points.
//
// Writes are batched and non-blocking so the message-processing path never
// waits on the history store. Async write failures surface through an
// error callback and are logged, never propagated into message handling.
//
// The integration is optional: when influxdb.enabled is false, Connect
// returns ErrDisabled and the gateway runs without history.
package influxdb
