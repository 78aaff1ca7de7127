// Package mqtt provides the broker connection for Warden Core.
//
// It wraps paho.mqtt.golang with:
//   - Connection lifecycle management (connect, disconnect, reconnect)
//   - Reconnection bounded by a maximum attempt count; exceeding the bound
//     tears the connection down permanently and raises an error callback
//   - Last Will and Testament for crash detection (retained offline status)
//   - Retained online/offline liveness on warden/system/backend/status
//   - Subscription tracking with automatic restore on reconnect
//   - Panic recovery around message handlers
//
// Topic builders in topics.go define the canonical topic scheme:
//
//	warden/{tenantId}/{category}/{deviceId}/{messageKind}
//
// Failure semantics: publish and subscribe on a disconnected client fail
// fast with ErrNotConnected. The only buffering layer in the system is the
// gateway's own command handling, never this package.
package mqtt
