package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccessLog records a single physical entry attempt reported by a device.
type AccessLog struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	DeviceID      string         `json:"device_id"`
	UserID        string         `json:"user_id,omitempty"`
	AccessMethod  string         `json:"access_method"` // card, pin, fob, mobile, plate
	Granted       bool           `json:"granted"`
	FailureReason string         `json:"failure_reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AccessRepository defines the interface for access log operations.
type AccessRepository interface {
	Create(ctx context.Context, log *AccessLog) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]AccessLog, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]AccessLog, error)
}

// SQLiteAccessRepository stores access logs in SQLite.
type SQLiteAccessRepository struct {
	db *sql.DB
}

// NewSQLiteAccessRepository creates a new access log repository.
func NewSQLiteAccessRepository(db *sql.DB) *SQLiteAccessRepository {
	return &SQLiteAccessRepository{db: db}
}

// Create inserts a new access log entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteAccessRepository) Create(ctx context.Context, log *AccessLog) error {
	if log.ID == "" {
		log.ID = "acc-" + uuid.NewString()[:8]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var metadataJSON *string
	if log.Metadata != nil {
		b, err := json.Marshal(log.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling access metadata: %w", err)
		}
		s := string(b)
		metadataJSON = &s
	}

	granted := 0
	if log.Granted {
		granted = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_logs (id, tenant_id, device_id, user_id, access_method,
			granted, failure_reason, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.TenantID, log.DeviceID, nullableString(log.UserID),
		log.AccessMethod, granted, nullableString(log.FailureReason),
		metadataJSON, log.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting access log: %w", err)
	}

	return nil
}

// ListByDevice returns the most recent access logs for a device, newest first.
func (r *SQLiteAccessRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]AccessLog, error) {
	return r.list(ctx, "device_id = ?", deviceID, limit)
}

// ListByTenant returns the most recent access logs for a tenant, newest first.
func (r *SQLiteAccessRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]AccessLog, error) {
	return r.list(ctx, "tenant_id = ?", tenantID, limit)
}

func (r *SQLiteAccessRepository) list(ctx context.Context, where string, arg string, limit int) ([]AccessLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 { //nolint:mnd // max page size for access log queries
		limit = 200
	}

	query := `SELECT id, tenant_id, device_id, user_id, access_method, granted,
		failure_reason, metadata, created_at
		FROM access_logs WHERE ` + where + ` ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("querying access logs: %w", err)
	}
	defer rows.Close()

	var logs []AccessLog
	for rows.Next() {
		var log AccessLog
		var userID, failureReason, metadataJSON sql.NullString
		var granted int
		var createdAt string

		if err := rows.Scan(&log.ID, &log.TenantID, &log.DeviceID, &userID,
			&log.AccessMethod, &granted, &failureReason, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning access log: %w", err)
		}

		log.Granted = granted != 0
		log.UserID = userID.String
		log.FailureReason = failureReason.String
		if metadataJSON.Valid && metadataJSON.String != "" {
			var metadata map[string]any
			if json.Unmarshal([]byte(metadataJSON.String), &metadata) == nil {
				log.Metadata = metadata
			}
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing access log timestamp %q: %w", createdAt, err)
		}
		log.CreatedAt = t

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access logs: %w", err)
	}

	return logs, nil
}
