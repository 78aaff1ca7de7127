package command

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the command_records table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE command_records (
		correlation_id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		command TEXT NOT NULL,
		parameters TEXT,
		issuer_id TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		result TEXT,
		error TEXT,
		sent_at TEXT NOT NULL,
		completed_at TEXT
	)`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func testRecord(correlationID string) *Record {
	return &Record{
		CorrelationID: correlationID,
		DeviceID:      "door-01",
		TenantID:      "greenfield",
		Command:       "unlock",
		Parameters:    `{"duration":5}`,
		IssuerID:      "usr-42",
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testRecord("cmd-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "cmd-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Command != "unlock" {
		t.Errorf("Command = %q, want unlock", got.Command)
	}
	if got.Parameters != `{"duration":5}` {
		t.Errorf("Parameters = %q", got.Parameters)
	}
	if got.SentAt.IsZero() {
		t.Error("SentAt not defaulted on create")
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil for pending record", got.CompletedAt)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("GetByID() error = %v, want ErrRecordNotFound", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testRecord("cmd-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, testRecord("cmd-1"))
	if !errors.Is(err, ErrRecordExists) {
		t.Errorf("Create() duplicate error = %v, want ErrRecordExists", err)
	}
}

func TestFinalizeCompleted(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testRecord("cmd-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Finalize(ctx, "cmd-1", StatusCompleted, `{"latchState":"open"}`, ""); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "cmd-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Result != `{"latchState":"open"}` {
		t.Errorf("Result = %q", got.Result)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set on finalize")
	}
}

// TestFinalizeExactlyOnce verifies the status='pending' guard: whichever
// of response or timeout finalizes first wins, the second attempt fails.
func TestFinalizeExactlyOnce(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testRecord("cmd-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Finalize(ctx, "cmd-1", StatusCompleted, "", ""); err != nil {
		t.Fatalf("first Finalize() error = %v", err)
	}

	err := repo.Finalize(ctx, "cmd-1", StatusTimeout, "", "no response")
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("second Finalize() error = %v, want ErrAlreadyFinalized", err)
	}

	// First outcome must survive.
	got, _ := repo.GetByID(ctx, "cmd-1")
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q after losing finalize, want completed", got.Status)
	}
}

func TestFinalizeNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	err := repo.Finalize(context.Background(), "missing", StatusFailed, "", "boom")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Finalize() error = %v, want ErrRecordNotFound", err)
	}
}

func TestFinalizeRejectsNonTerminal(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	err := repo.Finalize(context.Background(), "cmd-1", StatusPending, "", "")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("Finalize(pending) error = %v, want ErrInvalidStatus", err)
	}
}

func TestListByDevice(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"cmd-1", "cmd-2", "cmd-3"} {
		rec := testRecord(id)
		rec.SentAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}
	other := testRecord("cmd-other")
	other.DeviceID = "door-02"
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	records, err := repo.ListByDevice(ctx, "door-01", 2)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListByDevice() returned %d records, want 2", len(records))
	}
	// Newest first.
	if records[0].CorrelationID != "cmd-3" || records[1].CorrelationID != "cmd-2" {
		t.Errorf("ListByDevice() order = [%s %s], want [cmd-3 cmd-2]",
			records[0].CorrelationID, records[1].CorrelationID)
	}
}

func TestReconcileStale(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	old := testRecord("cmd-old")
	old.SentAt = time.Now().UTC().Add(-2 * time.Hour)
	recent := testRecord("cmd-recent")
	recent.SentAt = time.Now().UTC()
	done := testRecord("cmd-done")
	done.SentAt = time.Now().UTC().Add(-2 * time.Hour)

	for _, rec := range []*Record{old, recent, done} {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create(%s) error = %v", rec.CorrelationID, err)
		}
	}
	if err := repo.Finalize(ctx, "cmd-done", StatusCompleted, "", ""); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	n, err := repo.ReconcileStale(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReconcileStale() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ReconcileStale() = %d records, want 1", n)
	}

	got, _ := repo.GetByID(ctx, "cmd-old")
	if got.Status != StatusUnknown {
		t.Errorf("stale record status = %q, want unknown", got.Status)
	}
	got, _ = repo.GetByID(ctx, "cmd-recent")
	if got.Status != StatusPending {
		t.Errorf("recent record status = %q, want pending", got.Status)
	}
	got, _ = repo.GetByID(ctx, "cmd-done")
	if got.Status != StatusCompleted {
		t.Errorf("finalized record status = %q, want completed", got.Status)
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusTimeout, true},
		{StatusUnknown, true},
		{Status("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
