package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines persistence for command records.
type Repository interface {
	// Create inserts a new pending record.
	// Returns ErrRecordExists if the correlation ID is already taken.
	Create(ctx context.Context, record *Record) error

	// GetByID retrieves a record by correlation ID.
	// Returns ErrRecordNotFound if it does not exist.
	GetByID(ctx context.Context, correlationID string) (*Record, error)

	// ListByDevice retrieves the most recent records for a device,
	// newest first, up to limit.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Record, error)

	// Finalize moves a pending record to a terminal status. The update
	// is guarded on status='pending' so that whichever of response or
	// timeout lands first wins; the loser gets ErrAlreadyFinalized.
	Finalize(ctx context.Context, correlationID string, status Status, result, errMsg string) error

	// ReconcileStale marks pending records older than the cutoff as
	// unknown. Run once at startup: any record still pending from a
	// previous process can never be finalized by a timer again.
	ReconcileStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const recordColumns = `correlation_id, device_id, tenant_id, command, parameters,
	issuer_id, status, result, error, sent_at, completed_at`

// Create inserts a new pending record.
func (r *SQLiteRepository) Create(ctx context.Context, record *Record) error {
	if record.Status == "" {
		record.Status = StatusPending
	}
	if !record.Status.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, record.Status)
	}
	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO command_records (correlation_id, device_id, tenant_id,
			command, parameters, issuer_id, status, result, error, sent_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CorrelationID, record.DeviceID, record.TenantID,
		record.Command, nullableString(record.Parameters), nullableString(record.IssuerID),
		string(record.Status), nullableString(record.Result), nullableString(record.Error),
		record.SentAt.UTC().Format(time.RFC3339), nullableTime(record.CompletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrRecordExists
		}
		return fmt.Errorf("inserting command record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by correlation ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, correlationID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM command_records WHERE correlation_id = ?`

	row := r.db.QueryRowContext(ctx, query, correlationID)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying command record: %w", err)
	}
	return record, nil
}

// ListByDevice retrieves the most recent records for a device.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + recordColumns + ` FROM command_records
		WHERE device_id = ? ORDER BY sent_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying command records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command records: %w", err)
	}
	return records, nil
}

// Finalize moves a pending record to a terminal status.
func (r *SQLiteRepository) Finalize(ctx context.Context, correlationID string, status Status, result, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidStatus, status)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE command_records
		SET status = ?, result = ?, error = ?, completed_at = ?
		WHERE correlation_id = ? AND status = 'pending'`,
		string(status), nullableString(result), nullableString(errMsg),
		time.Now().UTC().Format(time.RFC3339),
		correlationID,
	)
	if err != nil {
		return fmt.Errorf("finalizing command record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing record from one already settled.
		var existing string
		err := r.db.QueryRowContext(ctx,
			`SELECT status FROM command_records WHERE correlation_id = ?`,
			correlationID).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRecordNotFound
		}
		if err != nil {
			return fmt.Errorf("checking command record status: %w", err)
		}
		return fmt.Errorf("%w: status is %s", ErrAlreadyFinalized, existing)
	}
	return nil
}

// ReconcileStale marks pending records older than the cutoff as unknown.
func (r *SQLiteRepository) ReconcileStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE command_records
		SET status = ?, error = 'orphaned by restart', completed_at = ?
		WHERE status = 'pending' AND sent_at < ?`,
		string(StatusUnknown),
		time.Now().UTC().Format(time.RFC3339),
		olderThan.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("reconciling stale commands: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec                           Record
		status                        string
		params, issuer, result, emsg  sql.NullString
		sentAt                        string
		completedAt                   sql.NullString
	)

	err := row.Scan(&rec.CorrelationID, &rec.DeviceID, &rec.TenantID,
		&rec.Command, &params, &issuer, &status, &result, &emsg,
		&sentAt, &completedAt)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.Parameters = params.String
	rec.IssuerID = issuer.String
	rec.Result = result.String
	rec.Error = emsg.String

	rec.SentAt, _ = time.Parse(time.RFC3339, sentAt) //nolint:errcheck // Format is controlled
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			rec.CompletedAt = &t
		}
	}
	return &rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
