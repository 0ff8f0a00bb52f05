package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/collectra/internal/audit/domain"
	"github.com/smallbiznis/collectra/internal/identity/domain"
	"github.com/smallbiznis/collectra/pkg/db"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("identity.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

// Register creates a pending customer profile. Role and status upgrades are
// manager actions, never part of registration.
func (s *Service) Register(ctx context.Context, req domain.RegisterProfileRequest) (*domain.Profile, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}

	existing, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrAlreadyRegistered
	}

	now := time.Now().UTC()
	profile := domain.Profile{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Email:     email,
		FullName:  strings.TrimSpace(req.FullName),
		Role:      domain.RoleCustomer,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if erpID := strings.TrimSpace(req.CustomerERPID); erpID != "" {
		profile.CustomerERPID = &erpID
	}

	if err := s.repo.Insert(ctx, s.db, &profile); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyRegistered
		}
		return nil, err
	}

	s.audit(ctx, "profile.registered", profile.ID, map[string]any{
		"email": profile.Email,
		"role":  string(profile.Role),
	})

	return &profile, nil
}

func (s *Service) Approve(ctx context.Context, req domain.ApproveProfileRequest) (*domain.Profile, error) {
	profile, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	if profile.Status != domain.StatusPending {
		return nil, domain.ErrNotPending
	}
	if req.Role != "" && !domain.IsValidRole(req.Role) {
		return nil, domain.ErrInvalidRole
	}

	now := time.Now().UTC()
	profile.Status = domain.StatusApproved
	profile.ApprovedBy = &req.ApprovedBy
	profile.ApprovedAt = &now
	profile.UpdatedAt = now
	if req.Role != "" {
		profile.Role = req.Role
	}

	if err := s.repo.Update(ctx, s.db, profile); err != nil {
		return nil, err
	}

	s.audit(ctx, "profile.approved", profile.ID, map[string]any{
		"approved_by": req.ApprovedBy.String(),
		"role":        string(profile.Role),
	})

	return profile, nil
}

func (s *Service) Reject(ctx context.Context, req domain.RejectProfileRequest) (*domain.Profile, error) {
	profile, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	if profile.Status != domain.StatusPending {
		return nil, domain.ErrNotPending
	}

	now := time.Now().UTC()
	profile.Status = domain.StatusRejected
	profile.ApprovedBy = &req.RejectedBy
	profile.ApprovedAt = &now
	profile.UpdatedAt = now

	if err := s.repo.Update(ctx, s.db, profile); err != nil {
		return nil, err
	}

	metadata := map[string]any{"rejected_by": req.RejectedBy.String()}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		metadata["reason"] = reason
	}
	s.audit(ctx, "profile.rejected", profile.ID, metadata)

	return profile, nil
}

// UpdateRole changes the role only. Status is untouched so a rejected profile
// stays rejected even when an admin reassigns its role.
func (s *Service) UpdateRole(ctx context.Context, req domain.UpdateRoleRequest) (*domain.Profile, error) {
	if !domain.IsValidRole(req.Role) {
		return nil, domain.ErrInvalidRole
	}

	profile, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}

	previous := profile.Role
	profile.Role = req.Role
	profile.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, s.db, profile); err != nil {
		return nil, err
	}

	s.audit(ctx, "profile.role_changed", profile.ID, map[string]any{
		"from": string(previous),
		"to":   string(req.Role),
	})

	return profile, nil
}

func (s *Service) UpdatePermissions(ctx context.Context, req domain.UpdatePermissionsRequest) (*domain.Profile, error) {
	profile, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}

	permissions := make([]string, 0, len(req.Permissions))
	for _, permission := range req.Permissions {
		if trimmed := strings.TrimSpace(permission); trimmed != "" {
			permissions = append(permissions, trimmed)
		}
	}

	profile.Permissions = permissions
	profile.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, s.db, profile); err != nil {
		return nil, err
	}

	s.audit(ctx, "profile.permissions_changed", profile.ID, map[string]any{
		"permissions": permissions,
	})

	return profile, nil
}

func (s *Service) Get(ctx context.Context, req domain.GetProfileRequest) (*domain.Profile, error) {
	profile, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	return profile, nil
}

func (s *Service) GetByUserID(ctx context.Context, req domain.GetByUserIDRequest) (*domain.Profile, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}

	profile, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrNotFound
	}
	return profile, nil
}

func (s *Service) List(ctx context.Context, req domain.ListProfileRequest) (domain.ListProfileResponse, error) {
	var resp domain.ListProfileResponse

	filter := domain.ListProfileFilter{
		Status: req.Status,
		Role:   req.Role,
	}

	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return resp, err
	}

	limit := req.Limit()
	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), func(profile *domain.Profile) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        profile.ID.String(),
			CreatedAt: profile.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	items = pagination.TrimPage(items, limit)

	resp.PageInfo = *pageInfo
	resp.Profiles = make([]domain.Profile, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Profiles = append(resp.Profiles, *item)
	}
	return resp, nil
}

func (s *Service) audit(ctx context.Context, action string, profileID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := profileID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "profiles", &targetID, metadata); err != nil {
		s.log.Warn("failed to audit profile change", zap.String("action", action), zap.Error(err))
	}
}
