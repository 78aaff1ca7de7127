// Package gateway implements the device command and telemetry core.
//
// The DeviceGateway owns the subsystem lifecycle: it subscribes to the
// tenant-scoped wildcard topics, routes inbound messages by category,
// correlates command responses against an in-memory pending map with
// per-command timeout timers, ingests telemetry into snapshots with
// threshold alerting, and fans events out to a tenant-scoped observer
// plus the audit trail.
//
// Handlers run on the MQTT client's delivery goroutines and must not
// block: all persistence on the message path is fire-and-forget with
// logged failures. The pending-command map and the connected-device set
// are the only shared mutable state; both are mutex-guarded.
package gateway
