package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type GetInvoiceRequest struct {
	ReferenceNumber string
}

type ListInvoiceFilter struct {
	CustomerERPID string
	Status        InvoiceStatus
	ColorStatus   ColorStatus
	Type          InvoiceType
}

type ListInvoiceRequest struct {
	pagination.Pagination
	CustomerERPID string
	Status        InvoiceStatus
	ColorStatus   ColorStatus
	Type          InvoiceType
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// SearchInvoiceRequest drives the two-pass reference search. Numeric terms try
// an exact (and zero-padded) reference lookup before any pattern matching.
type SearchInvoiceRequest struct {
	Term          string
	CustomerERPID string
	Status        InvoiceStatus
	ColorStatus   ColorStatus
	MinBalance    *float64
	MaxBalance    *float64
	DateFrom      *time.Time
	DateTo        *time.Time
	Limit         int
	Offset        int
}

type SearchInvoiceFilter struct {
	CustomerERPID string
	Status        InvoiceStatus
	ColorStatus   ColorStatus
	MinBalance    *float64
	MaxBalance    *float64
	DateFrom      *time.Time
	DateTo        *time.Time
}

type Service interface {
	Get(ctx context.Context, req GetInvoiceRequest) (*Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	Search(ctx context.Context, req SearchInvoiceRequest) ([]Invoice, error)
	SearchCount(ctx context.Context, req SearchInvoiceRequest) (int64, error)
	// RefreshColors recomputes color_status for open documents from days
	// overdue against the hot-reloadable aging buckets. Returns rows changed.
	RefreshColors(ctx context.Context) (int64, error)
}

var (
	ErrNotFound         = errors.New("not_found")
	ErrInvalidReference = errors.New("invalid_reference")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
