// Package device manages the access-control device catalogue.
//
// A Device is a physical endpoint (door controller, barrier, sensor,
// camera) owned by one tenant community. The catalogue itself belongs to
// the surrounding application; the gateway reads identity/tenant and
// writes liveness fields (status, last seen) and reported firmware.
//
// The package provides:
//   - Device model with status and type enums
//   - Repository interface with a SQLite implementation
//   - Registry: a cached, thread-safe front for command validation
//
// Multi-tenant isolation: GetTenantDevice reports a device belonging to
// another tenant as not found, so callers cannot probe across tenants.
package device
