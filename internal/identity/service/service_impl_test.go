package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/collectra/internal/identity/domain"
	"github.com/smallbiznis/collectra/internal/identity/repository"
	"github.com/smallbiznis/collectra/pkg/db"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&domain.Profile{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	return New(Params{
		DB:    dbConn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
}

func register(t *testing.T, svc domain.Service, userID, email string) *domain.Profile {
	t.Helper()
	profile, err := svc.Register(context.Background(), domain.RegisterProfileRequest{
		UserID: userID,
		Email:  email,
	})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	return profile
}

func TestRegisterDefaultsToPendingCustomer(t *testing.T) {
	svc := newTestService(t)

	profile := register(t, svc, "auth0|alice", "alice@example.com")

	if profile.Role != domain.RoleCustomer {
		t.Fatalf("expected customer role, got %s", profile.Role)
	}
	if profile.Status != domain.StatusPending {
		t.Fatalf("expected pending status, got %s", profile.Status)
	}
	if err := profile.Gate(); err != domain.ErrPendingApproval {
		t.Fatalf("expected ErrPendingApproval from gate, got %v", err)
	}
}

func TestRegisterRejectsDuplicateUser(t *testing.T) {
	svc := newTestService(t)

	register(t, svc, "auth0|alice", "alice@example.com")

	_, err := svc.Register(context.Background(), domain.RegisterProfileRequest{
		UserID: "auth0|alice",
		Email:  "alice2@example.com",
	})
	if err != domain.ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestApproveTransitionsOnlyFromPending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	profile := register(t, svc, "auth0|bob", "bob@example.com")
	approver := snowflake.ID(99)

	approved, err := svc.Approve(ctx, domain.ApproveProfileRequest{
		ID:         profile.ID,
		ApprovedBy: approver,
		Role:       domain.RoleCollector,
	})
	if err != nil {
		t.Fatalf("failed to approve: %v", err)
	}
	if approved.Status != domain.StatusApproved {
		t.Fatalf("expected approved status, got %s", approved.Status)
	}
	if approved.Role != domain.RoleCollector {
		t.Fatalf("expected collector role, got %s", approved.Role)
	}
	if approved.ApprovedBy == nil || *approved.ApprovedBy != approver {
		t.Fatalf("expected approver recorded, got %v", approved.ApprovedBy)
	}
	if approved.ApprovedAt == nil {
		t.Fatal("expected approval timestamp")
	}
	if err := approved.Gate(); err != nil {
		t.Fatalf("expected approved profile to pass gate, got %v", err)
	}

	if _, err := svc.Approve(ctx, domain.ApproveProfileRequest{ID: profile.ID, ApprovedBy: approver}); err != domain.ErrNotPending {
		t.Fatalf("expected ErrNotPending on double approve, got %v", err)
	}
}

func TestRejectGatesAccess(t *testing.T) {
	svc := newTestService(t)

	profile := register(t, svc, "auth0|carol", "carol@example.com")

	rejected, err := svc.Reject(context.Background(), domain.RejectProfileRequest{
		ID:         profile.ID,
		RejectedBy: snowflake.ID(99),
		Reason:     "unknown company",
	})
	if err != nil {
		t.Fatalf("failed to reject: %v", err)
	}
	if rejected.Status != domain.StatusRejected {
		t.Fatalf("expected rejected status, got %s", rejected.Status)
	}
	if err := rejected.Gate(); err != domain.ErrRejected {
		t.Fatalf("expected ErrRejected from gate, got %v", err)
	}
}

func TestUpdateRoleDoesNotReapprove(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	profile := register(t, svc, "auth0|dave", "dave@example.com")
	if _, err := svc.Reject(ctx, domain.RejectProfileRequest{ID: profile.ID, RejectedBy: snowflake.ID(99)}); err != nil {
		t.Fatalf("failed to reject: %v", err)
	}

	updated, err := svc.UpdateRole(ctx, domain.UpdateRoleRequest{ID: profile.ID, Role: domain.RoleManager})
	if err != nil {
		t.Fatalf("failed to update role: %v", err)
	}
	if updated.Role != domain.RoleManager {
		t.Fatalf("expected manager role, got %s", updated.Role)
	}
	if updated.Status != domain.StatusRejected {
		t.Fatalf("expected status to stay rejected, got %s", updated.Status)
	}
}

func TestUpdatePermissionsDropsBlanks(t *testing.T) {
	svc := newTestService(t)

	profile := register(t, svc, "auth0|erin", "erin@example.com")

	updated, err := svc.UpdatePermissions(context.Background(), domain.UpdatePermissionsRequest{
		ID:          profile.ID,
		Permissions: []string{" export_reports ", "", "bulk_email"},
	})
	if err != nil {
		t.Fatalf("failed to update permissions: %v", err)
	}
	if len(updated.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %v", updated.Permissions)
	}
	if updated.Permissions[0] != "export_reports" || updated.Permissions[1] != "bulk_email" {
		t.Fatalf("unexpected permissions %v", updated.Permissions)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := register(t, svc, "auth0|frank", "frank@example.com")
	register(t, svc, "auth0|grace", "grace@example.com")

	if _, err := svc.Approve(ctx, domain.ApproveProfileRequest{ID: first.ID, ApprovedBy: snowflake.ID(99)}); err != nil {
		t.Fatalf("failed to approve: %v", err)
	}

	resp, err := svc.List(ctx, domain.ListProfileRequest{Status: domain.StatusPending})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(resp.Profiles) != 1 {
		t.Fatalf("expected 1 pending profile, got %d", len(resp.Profiles))
	}
	if resp.Profiles[0].UserID != "auth0|grace" {
		t.Fatalf("expected grace, got %s", resp.Profiles[0].UserID)
	}
}
