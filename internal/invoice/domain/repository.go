package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

// ColorRefreshRow carries what the color sweep needs per open document.
type ColorRefreshRow struct {
	ID            snowflake.ID
	DueDate       *time.Time
	ColorStatus   ColorStatus
	ThresholdDays *int
}

type Repository interface {
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListInvoiceFilter, page pagination.Pagination) ([]*Invoice, error)
	// ListOpenByCustomer returns every Open document for one customer,
	// oldest invoice date first.
	ListOpenByCustomer(ctx context.Context, db *gorm.DB, customerERPID string) ([]*Invoice, error)

	// UpsertFromERP writes ERP-sourced columns only, keyed on reference_number;
	// color_status and last_touched_at on existing rows survive untouched.
	UpsertFromERP(ctx context.Context, db *gorm.DB, invoices []*Invoice) (int, error)

	// SearchExact matches reference_number against the given candidates.
	SearchExact(ctx context.Context, db *gorm.DB, references []string, filter SearchInvoiceFilter, limit, offset int) ([]*Invoice, error)
	CountExact(ctx context.Context, db *gorm.DB, references []string, filter SearchInvoiceFilter) (int64, error)

	// SearchPattern is the ILIKE fallback across reference, customer name/id,
	// order number and description.
	SearchPattern(ctx context.Context, db *gorm.DB, term string, filter SearchInvoiceFilter, limit, offset int) ([]*Invoice, error)
	// CountPatternCapped counts pattern matches inside a LIMIT subquery so the
	// estimate never scans past maxRows matches.
	CountPatternCapped(ctx context.Context, db *gorm.DB, term string, filter SearchInvoiceFilter, maxRows int) (int64, error)

	ListOpenForColorRefresh(ctx context.Context, db *gorm.DB) ([]ColorRefreshRow, error)
	UpdateColors(ctx context.Context, db *gorm.DB, ids []snowflake.ID, color ColorStatus) (int64, error)

	TouchByReferences(ctx context.Context, db *gorm.DB, references []string, at time.Time) error
}
