package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups —
// the gateway validates every command against the registry, so lookups
// must not hit the database on the hot path.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-updating write operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.Clone()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.Clone(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.Clone()
	r.cacheMu.Unlock()

	return device, nil
}

// GetTenantDevice retrieves a device by ID, verifying it belongs to the
// given tenant. A device under a different tenant is reported as not
// found — callers must never learn about other tenants' devices.
func (r *Registry) GetTenantDevice(ctx context.Context, tenantID, id string) (*Device, error) {
	device, err := r.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.TenantID != tenantID {
		return nil, ErrDeviceNotFound
	}
	return device, nil
}

// ListDevices retrieves all devices.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.Clone())
		}
		return devices, nil
	}

	return r.repo.List(ctx)
}

// ListByTenant retrieves all devices belonging to a tenant community.
func (r *Registry) ListByTenant(ctx context.Context, tenantID string) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.TenantID == tenantID {
				devices = append(devices, *d.Clone())
			}
		}
		return devices, nil
	}

	return r.repo.ListByTenant(ctx, tenantID)
}

// ListActive retrieves all devices that are not decommissioned.
// Used on reconnect to request a status refresh from the fleet.
func (r *Registry) ListActive(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Status != StatusDecommissioned {
				devices = append(devices, *d.Clone())
			}
		}
		return devices, nil
	}

	return r.repo.ListActive(ctx)
}

// UpdateStatus persists a device status change and keeps the cache in sync.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status Status, lastSeen time.Time) error {
	if err := r.repo.UpdateStatus(ctx, id, status, lastSeen); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.cache[id]; ok {
		d.Status = status
		ls := lastSeen
		d.LastSeen = &ls
		d.UpdatedAt = time.Now().UTC()
	}
	r.cacheMu.Unlock()

	return nil
}

// UpdateFirmware persists a reported firmware version and updates the cache.
func (r *Registry) UpdateFirmware(ctx context.Context, id string, version string) error {
	if err := r.repo.UpdateFirmware(ctx, id, version); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if d, ok := r.cache[id]; ok {
		d.FirmwareVersion = version
		d.UpdatedAt = time.Now().UTC()
	}
	r.cacheMu.Unlock()

	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
