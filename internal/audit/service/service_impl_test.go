package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/actorcontext"
	auditdomain "github.com/smallbiznis/collectra/internal/audit/domain"
	"github.com/smallbiznis/collectra/internal/audit/repository"
	"github.com/smallbiznis/collectra/pkg/db"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&auditdomain.AuditLog{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	svc := NewService(Params{
		DB:    dbConn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return svc, dbConn
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.AuditLog(context.Background(), "", nil, "  ", "tickets", nil, nil)
	if err != auditdomain.ErrInvalidAction {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestAuditLogFallsBackToContextActor(t *testing.T) {
	svc, dbConn := newTestService(t)

	ctx := actorcontext.WithActor(context.Background(), actorcontext.ActorTypeUser, "42")
	ctx = actorcontext.WithRequestID(ctx, "req-abc")
	ctx = actorcontext.WithIPAddress(ctx, "10.0.0.9")

	if err := svc.AuditLog(ctx, "", nil, "ticket.status_changed", "tickets", nil, map[string]any{"from": "open"}); err != nil {
		t.Fatalf("failed to write audit log: %v", err)
	}

	var entry auditdomain.AuditLog
	if err := dbConn.First(&entry).Error; err != nil {
		t.Fatalf("failed to read back entry: %v", err)
	}
	if entry.ActorType != actorcontext.ActorTypeUser {
		t.Fatalf("expected actor type user, got %s", entry.ActorType)
	}
	if entry.ActorID == nil || *entry.ActorID != "42" {
		t.Fatalf("expected actor id 42, got %v", entry.ActorID)
	}
	if entry.IPAddress == nil || *entry.IPAddress != "10.0.0.9" {
		t.Fatalf("expected ip address, got %v", entry.IPAddress)
	}
	if entry.Metadata["request_id"] != "req-abc" {
		t.Fatalf("expected request_id in metadata, got %v", entry.Metadata)
	}
	if entry.Metadata["from"] != "open" {
		t.Fatalf("expected metadata to carry payload, got %v", entry.Metadata)
	}
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc, dbConn := newTestService(t)

	if err := svc.AuditLog(context.Background(), "", nil, "erp.sync_completed", "customers", nil, nil); err != nil {
		t.Fatalf("failed to write audit log: %v", err)
	}

	var entry auditdomain.AuditLog
	if err := dbConn.First(&entry).Error; err != nil {
		t.Fatalf("failed to read back entry: %v", err)
	}
	if entry.ActorType != string(auditdomain.ActorTypeSystem) {
		t.Fatalf("expected system actor, got %s", entry.ActorType)
	}
	if entry.ActorID != nil {
		t.Fatalf("expected nil actor id, got %v", *entry.ActorID)
	}
}

func TestAuditLogMasksSensitiveMetadata(t *testing.T) {
	svc, dbConn := newTestService(t)

	if err := svc.AuditLog(context.Background(), "system", nil, "token.issued", "service_tokens", nil, map[string]any{
		"token": "ct_live_8f3aa01b77",
		"name":  "ops-sync",
	}); err != nil {
		t.Fatalf("failed to write audit log: %v", err)
	}

	var entry auditdomain.AuditLog
	if err := dbConn.First(&entry).Error; err != nil {
		t.Fatalf("failed to read back entry: %v", err)
	}
	masked, _ := entry.Metadata["token"].(string)
	if masked != "ct_live_****1b77" {
		t.Fatalf("expected masked token, got %q", masked)
	}
	if entry.Metadata["name"] != "ops-sync" {
		t.Fatalf("expected name to survive unmasked, got %v", entry.Metadata["name"])
	}
}

func TestListPaginatesWithCursor(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := svc.AuditLog(ctx, "system", nil, "reminder.sent", "reminders", nil, nil); err != nil {
			t.Fatalf("failed to seed entry %d: %v", i, err)
		}
	}

	req := auditdomain.ListAuditLogRequest{}
	req.PageSize = 2

	first, err := svc.List(ctx, req)
	if err != nil {
		t.Fatalf("failed to list first page: %v", err)
	}
	if len(first.AuditLogs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(first.AuditLogs))
	}
	if !first.HasMore {
		t.Fatal("expected more pages")
	}
	if first.NextPageToken == "" {
		t.Fatal("expected next page token")
	}

	seen := map[snowflake.ID]bool{}
	for _, entry := range first.AuditLogs {
		seen[entry.ID] = true
	}

	req.PageToken = first.NextPageToken
	second, err := svc.List(ctx, req)
	if err != nil {
		t.Fatalf("failed to list second page: %v", err)
	}
	if len(second.AuditLogs) != 2 {
		t.Fatalf("expected 2 entries on second page, got %d", len(second.AuditLogs))
	}
	for _, entry := range second.AuditLogs {
		if seen[entry.ID] {
			t.Fatalf("entry %s repeated across pages", entry.ID)
		}
	}
}

func TestListRejectsBadToken(t *testing.T) {
	svc, _ := newTestService(t)

	req := auditdomain.ListAuditLogRequest{}
	req.PageToken = "not-base64!!"

	if _, err := svc.List(context.Background(), req); err != auditdomain.ErrInvalidPageToken {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestListRejectsInvertedTimeRange(t *testing.T) {
	svc, _ := newTestService(t)

	start := mustTime(t, "2026-02-01T00:00:00Z")
	end := mustTime(t, "2026-01-01T00:00:00Z")

	req := auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end}
	if _, err := svc.List(context.Background(), req); err != auditdomain.ErrInvalidTimeRange {
		t.Fatalf("expected ErrInvalidTimeRange, got %v", err)
	}
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("failed to parse time: %v", err)
	}
	return parsed
}
