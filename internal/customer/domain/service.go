package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type GetCustomerRequest struct {
	ERPID string
}

type ListCustomerFilter struct {
	SearchText     string
	Status         string
	Country        string
	Classification string
	ExcludeTest    bool
}

type ListCustomerRequest struct {
	pagination.Pagination
	SearchText     string
	Status         string
	Country        string
	Classification string
	ExcludeTest    bool
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

// UpdateAnnotationsRequest changes locally-owned columns only. Nil pointers
// leave the current value in place; ClearThreshold drops the override.
type UpdateAnnotationsRequest struct {
	ERPID                   string
	CollectionThresholdDays *int
	ClearThreshold          bool
	ExcludeFromAnalytics    *bool
	IsTest                  *bool
}

type TouchContactRequest struct {
	ERPID       string
	ContactedAt time.Time
}

type Service interface {
	Get(ctx context.Context, req GetCustomerRequest) (*Customer, error)
	List(ctx context.Context, req ListCustomerRequest) (ListCustomerResponse, error)
	UpdateAnnotations(ctx context.Context, req UpdateAnnotationsRequest) (*Customer, error)
	TouchLastContacted(ctx context.Context, req TouchContactRequest) error
}

var (
	ErrNotFound         = errors.New("not_found")
	ErrInvalidERPID     = errors.New("invalid_erp_id")
	ErrInvalidThreshold = errors.New("invalid_threshold")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
