package domain

import (
	"context"
	"errors"
	"time"
)

// Balance list sort keys.
const (
	SortByBalance      = "balance"
	SortByInvoiceCount = "invoice_count"
	SortByDaysOverdue  = "days_overdue"
	SortByName         = "name"
)

type CustomerBalancesRequest struct {
	Filter
	SortBy   string `json:"sort_by"`
	SortDesc bool   `json:"sort_desc"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

type CustomerBalancesResponse struct {
	Customers []CustomerBalanceRow `json:"customers"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
}

type SummaryRequest struct {
	Filter
}

type CollectorProgressRequest struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

type Service interface {
	CustomerBalances(ctx context.Context, req CustomerBalancesRequest) (CustomerBalancesResponse, error)
	CustomerSummary(ctx context.Context, req SummaryRequest) (Summary, error)
	CollectorProgress(ctx context.Context, req CollectorProgressRequest) ([]CollectorProgressRow, error)
	GlobalSearch(ctx context.Context, term string, limit int) ([]SearchResult, error)

	// CaptureSnapshot stores today's unfiltered summary; re-running the same
	// day refreshes the stored row.
	CaptureSnapshot(ctx context.Context) (*Snapshot, error)
	ListSnapshots(ctx context.Context, from, to *time.Time) ([]Snapshot, error)
}

var (
	ErrInvalidSortKey      = errors.New("invalid_sort_key")
	ErrInvalidDateContext  = errors.New("invalid_date_context")
	ErrInvalidBalanceSign  = errors.New("invalid_balance_sign")
	ErrInvalidDateRange    = errors.New("invalid_date_range")
	ErrInvalidBalanceRange = errors.New("invalid_balance_range")
	ErrInvalidSearchTerm   = errors.New("invalid_search_term")
)
