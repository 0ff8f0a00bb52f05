package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type RegisterProfileRequest struct {
	UserID        string
	Email         string
	FullName      string
	CustomerERPID string
}

type ApproveProfileRequest struct {
	ID         snowflake.ID
	ApprovedBy snowflake.ID
	Role       ProfileRole // optional; when set, assigned together with approval
}

type RejectProfileRequest struct {
	ID         snowflake.ID
	RejectedBy snowflake.ID
	Reason     string
}

type UpdateRoleRequest struct {
	ID   snowflake.ID
	Role ProfileRole
}

type UpdatePermissionsRequest struct {
	ID          snowflake.ID
	Permissions []string
}

type GetProfileRequest struct {
	ID snowflake.ID
}

type GetByUserIDRequest struct {
	UserID string
}

type ListProfileFilter struct {
	Status ProfileStatus
	Role   ProfileRole
}

type ListProfileRequest struct {
	pagination.Pagination
	Status ProfileStatus
	Role   ProfileRole
}

type ListProfileResponse struct {
	pagination.PageInfo
	Profiles []Profile `json:"profiles"`
}

type Service interface {
	Register(ctx context.Context, req RegisterProfileRequest) (*Profile, error)
	Approve(ctx context.Context, req ApproveProfileRequest) (*Profile, error)
	Reject(ctx context.Context, req RejectProfileRequest) (*Profile, error)
	UpdateRole(ctx context.Context, req UpdateRoleRequest) (*Profile, error)
	UpdatePermissions(ctx context.Context, req UpdatePermissionsRequest) (*Profile, error)
	Get(ctx context.Context, req GetProfileRequest) (*Profile, error)
	GetByUserID(ctx context.Context, req GetByUserIDRequest) (*Profile, error)
	List(ctx context.Context, req ListProfileRequest) (ListProfileResponse, error)
}

var (
	ErrNotFound          = errors.New("not_found")
	ErrInvalidUserID     = errors.New("invalid_user_id")
	ErrInvalidEmail      = errors.New("invalid_email")
	ErrInvalidRole       = errors.New("invalid_role")
	ErrAlreadyRegistered = errors.New("already_registered")
	ErrNotPending        = errors.New("not_pending")
	ErrPendingApproval   = errors.New("pending_approval")
	ErrRejected          = errors.New("rejected")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
)
