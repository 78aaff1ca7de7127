// Package telemetry stores the latest health snapshot per device.
//
// The snapshot table is not a time series: each report overwrites the
// previous row for that device (Upsert). Threshold evaluation happens in
// the gateway against the incoming report; this package only persists
// what was last seen so the HTTP API can serve current device health.
package telemetry
