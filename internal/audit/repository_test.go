package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the audit tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE audit_logs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		source TEXT NOT NULL,
		details TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE access_logs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		user_id TEXT,
		access_method TEXT NOT NULL,
		granted INTEGER NOT NULL,
		failure_reason TEXT,
		metadata TEXT,
		created_at TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func TestAuditCreateGeneratesID(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	log := &AuditLog{
		TenantID:   "greenfield",
		Action:     "command.sent",
		EntityType: "command",
		EntityID:   "cmd-1",
		Source:     "gateway",
		Details:    map[string]any{"command": "unlock"},
	}
	if err := repo.Create(context.Background(), log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if log.ID == "" {
		t.Error("Create() did not generate an ID")
	}
	if len(log.ID) < 4 || log.ID[:4] != "aud-" {
		t.Errorf("ID = %q, want aud- prefix", log.ID)
	}
	if log.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}
}

func TestAuditListFilters(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []*AuditLog{
		{TenantID: "greenfield", Action: "command.sent", EntityType: "command", EntityID: "cmd-1", Source: "gateway", CreatedAt: base},
		{TenantID: "greenfield", Action: "alert.raised", EntityType: "alert", EntityID: "door-01", Source: "gateway", CreatedAt: base.Add(time.Minute)},
		{TenantID: "riverside", Action: "command.sent", EntityType: "command", EntityID: "cmd-2", Source: "gateway", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	t.Run("by tenant", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{TenantID: "greenfield"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("Total = %d, want 2", result.Total)
		}
	})

	t.Run("by action", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Action: "command.sent"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("Total = %d, want 2", result.Total)
		}
	})

	t.Run("newest first", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(result.Logs) != 3 {
			t.Fatalf("len(Logs) = %d, want 3", len(result.Logs))
		}
		if result.Logs[0].EntityID != "cmd-2" {
			t.Errorf("first log = %s, want cmd-2 (newest)", result.Logs[0].EntityID)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 3 {
			t.Errorf("Total = %d, want 3", result.Total)
		}
		if len(result.Logs) != 1 {
			t.Errorf("len(Logs) = %d, want 1 on last page", len(result.Logs))
		}
	})
}

func TestAuditListEmptyReturnsSlice(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Logs == nil {
		t.Error("Logs is nil, want empty slice")
	}
}

func TestAuditDetailsRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	log := &AuditLog{
		Action:     "command.settled",
		EntityType: "command",
		Source:     "gateway",
		Details:    map[string]any{"outcome": "timeout", "deviceId": "door-01"},
	}
	if err := repo.Create(ctx, log); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := result.Logs[0]
	if got.Details["outcome"] != "timeout" {
		t.Errorf("Details = %v, want outcome=timeout", got.Details)
	}
}

func TestAccessCreateAndList(t *testing.T) {
	repo := NewSQLiteAccessRepository(setupTestDB(t))
	ctx := context.Background()

	denied := &AccessLog{
		TenantID:      "greenfield",
		DeviceID:      "door-01",
		UserID:        "usr-7",
		AccessMethod:  "card",
		Granted:       false,
		FailureReason: "revoked_credential",
		Metadata:      map[string]any{"cardId": "c-991"},
	}
	if err := repo.Create(ctx, denied); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if denied.ID == "" || denied.ID[:4] != "acc-" {
		t.Errorf("ID = %q, want acc- prefix", denied.ID)
	}

	granted := &AccessLog{
		TenantID:     "greenfield",
		DeviceID:     "door-02",
		AccessMethod: "mobile",
		Granted:      true,
	}
	if err := repo.Create(ctx, granted); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	logs, err := repo.ListByDevice(ctx, "door-01", 10)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("ListByDevice() returned %d logs, want 1", len(logs))
	}
	if logs[0].Granted {
		t.Error("Granted = true, want false")
	}
	if logs[0].FailureReason != "revoked_credential" {
		t.Errorf("FailureReason = %q", logs[0].FailureReason)
	}
	if logs[0].Metadata["cardId"] != "c-991" {
		t.Errorf("Metadata = %v", logs[0].Metadata)
	}

	tenantLogs, err := repo.ListByTenant(ctx, "greenfield", 10)
	if err != nil {
		t.Fatalf("ListByTenant() error = %v", err)
	}
	if len(tenantLogs) != 2 {
		t.Errorf("ListByTenant() returned %d logs, want 2", len(tenantLogs))
	}
}
