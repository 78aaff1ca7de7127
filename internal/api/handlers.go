package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wardenhq/warden-core/internal/audit"
	"github.com/wardenhq/warden-core/internal/command"
	"github.com/wardenhq/warden-core/internal/device"
	"github.com/wardenhq/warden-core/internal/gateway"
	"github.com/wardenhq/warden-core/internal/telemetry"
)

// commandRequest is the body for POST .../devices/{deviceID}/commands.
type commandRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	TimeoutMs  int64          `json:"timeoutMs,omitempty"`
	IssuerID   string         `json:"issuerId,omitempty"`
}

// bulkCommandRequest is the body for POST .../commands/bulk.
type bulkCommandRequest struct {
	DeviceIDs  []string       `json:"deviceIds"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	IssuerID   string         `json:"issuerId,omitempty"`
}

// handleListDevices returns all devices for the tenant.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	devices, err := s.devices.ListByTenant(r.Context(), tenantID)
	if err != nil {
		s.logger.Error("listing devices failed", "tenant_id", tenantID, "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device, tenant-scoped.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	d, err := s.devices.GetTenantDevice(r.Context(), tenantID, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("fetching device failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to fetch device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleGetSnapshot returns the latest telemetry snapshot for a device.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	// Tenant scoping first: an unknown device and another tenant's
	// device are indistinguishable to the caller.
	if _, err := s.devices.GetTenantDevice(r.Context(), tenantID, deviceID); err != nil {
		writeNotFound(w, "device not found")
		return
	}

	snapshot, err := s.snapshots.GetByDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, telemetry.ErrSnapshotNotFound) {
			writeNotFound(w, "device has not reported telemetry")
			return
		}
		s.logger.Error("fetching snapshot failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to fetch telemetry")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleSendCommand dispatches a command to a device and returns the
// correlation id. The outcome arrives asynchronously on the tenant's
// event stream.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	correlationID, err := s.dispatcher.SendCommand(r.Context(),
		tenantID, deviceID, req.Command, req.Parameters, timeout, req.IssuerID)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, device.ErrDeviceDecommissioned):
			writeConflict(w, "device is decommissioned")
		case errors.Is(err, gateway.ErrInvalidCommand):
			writeBadRequest(w, "invalid command")
		case errors.Is(err, gateway.ErrNotRunning), errors.Is(err, gateway.ErrDispatchFailed):
			writeUnavailable(w, "device gateway unavailable")
		default:
			s.logger.Error("command dispatch failed",
				"device_id", deviceID, "command", req.Command, "error", err)
			writeInternalError(w, "command dispatch failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"correlationId": correlationID,
		"status":        "pending",
	})
}

// handleBulkCommand dispatches a command to a set of devices.
// Best-effort: the response lists the correlation ids that were
// actually dispatched.
func (s *Server) handleBulkCommand(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req bulkCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}
	if len(req.DeviceIDs) == 0 {
		writeBadRequest(w, "deviceIds is required")
		return
	}

	ids := s.dispatcher.BulkCommand(r.Context(),
		tenantID, req.DeviceIDs, req.Command, req.Parameters, req.IssuerID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"correlationIds": ids,
		"requested":      len(req.DeviceIDs),
		"dispatched":     len(ids),
	})
}

// handleGetCommand returns a command record by correlation id.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	correlationID := chi.URLParam(r, "correlationID")

	record, err := s.commands.GetByID(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, command.ErrRecordNotFound) {
			writeNotFound(w, "command not found")
			return
		}
		s.logger.Error("fetching command record failed",
			"correlation_id", correlationID, "error", err)
		writeInternalError(w, "failed to fetch command")
		return
	}
	// Records are tenant-scoped like devices.
	if record.TenantID != tenantID {
		writeNotFound(w, "command not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleListDeviceCommands returns recent command records for a device.
func (s *Server) handleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	if _, err := s.devices.GetTenantDevice(r.Context(), tenantID, deviceID); err != nil {
		writeNotFound(w, "device not found")
		return
	}

	records, err := s.commands.ListByDevice(r.Context(), deviceID, queryLimit(r))
	if err != nil {
		s.logger.Error("listing command records failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	if records == nil {
		records = []command.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": records,
		"count":    len(records),
	})
}

// handleListAccessLogs returns recent access logs for a device.
func (s *Server) handleListAccessLogs(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	deviceID := chi.URLParam(r, "deviceID")

	if _, err := s.devices.GetTenantDevice(r.Context(), tenantID, deviceID); err != nil {
		writeNotFound(w, "device not found")
		return
	}

	logs, err := s.accessLogs.ListByDevice(r.Context(), deviceID, queryLimit(r))
	if err != nil {
		s.logger.Error("listing access logs failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to list access logs")
		return
	}
	if logs == nil {
		logs = []audit.AccessLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessLogs": logs,
		"count":      len(logs),
	})
}

// handleListAuditLogs returns the tenant's audit trail, paginated.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	filter := audit.Filter{
		TenantID: tenantID,
		Action:   r.URL.Query().Get("action"),
		Limit:    queryLimit(r),
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil {
			filter.Offset = offset
		}
	}

	result, err := s.auditLogs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "tenant_id", tenantID, "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryLimit parses the limit query parameter; zero means "use the
// repository default".
func queryLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
