package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	CustomerBalances(ctx context.Context, db *gorm.DB, req CustomerBalancesRequest, today time.Time) ([]CustomerBalanceRow, error)

	// FilteredSummary aggregates the same per-customer relation the balance
	// list pages over into one row.
	FilteredSummary(ctx context.Context, db *gorm.DB, filter Filter, today time.Time) (Summary, error)

	// UnfilteredSummary is the no-filter fast path over cached balances.
	UnfilteredSummary(ctx context.Context, db *gorm.DB, today time.Time) (Summary, error)

	// PositiveBalanceSummary is the invoice-side fast path used when the only
	// filter is BalanceSign=positive.
	PositiveBalanceSummary(ctx context.Context, db *gorm.DB, includeCredits bool, today time.Time) (Summary, error)

	CollectorProgress(ctx context.Context, db *gorm.DB, from, to time.Time) ([]CollectorProgressRow, error)

	SearchCustomers(ctx context.Context, db *gorm.DB, term string, limit int) ([]SearchResult, error)
	SearchInvoices(ctx context.Context, db *gorm.DB, term string, limit int) ([]SearchResult, error)
	SearchTickets(ctx context.Context, db *gorm.DB, term string, limit int) ([]SearchResult, error)

	UpsertSnapshot(ctx context.Context, db *gorm.DB, snapshot *Snapshot) error
	ListSnapshots(ctx context.Context, db *gorm.DB, from, to *time.Time) ([]Snapshot, error)
}
