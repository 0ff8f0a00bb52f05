package domain

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type Repository interface {
	FindByERPID(ctx context.Context, db *gorm.DB, erpID string) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, filter ListCustomerFilter, page pagination.Pagination) ([]*Customer, error)
	Update(ctx context.Context, db *gorm.DB, customer *Customer) error

	// UpsertFromERP writes ERP-sourced columns only; annotation columns on
	// existing rows survive untouched.
	UpsertFromERP(ctx context.Context, db *gorm.DB, customers []*Customer) (int, error)

	// RefreshCachedBalances recomputes cached_balance from open invoice rows.
	RefreshCachedBalances(ctx context.Context, db *gorm.DB) (int64, error)

	TouchLastContacted(ctx context.Context, db *gorm.DB, erpID string, at time.Time) (int64, error)
}
