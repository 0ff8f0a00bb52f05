package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/analytics/domain"
	"github.com/smallbiznis/collectra/internal/clock"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	defaultSearchLimit = 10
	maxSearchLimit     = 25

	defaultProgressWindow = 30 * 24 * time.Hour
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Repo domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("analytics.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CustomerBalances(ctx context.Context, req domain.CustomerBalancesRequest) (domain.CustomerBalancesResponse, error) {
	var resp domain.CustomerBalancesResponse

	filter, err := normalizeFilter(req.Filter)
	if err != nil {
		return resp, err
	}
	req.Filter = filter

	switch req.SortBy {
	case "", domain.SortByBalance:
		req.SortBy = domain.SortByBalance
	case domain.SortByInvoiceCount, domain.SortByDaysOverdue, domain.SortByName:
	default:
		return resp, domain.ErrInvalidSortKey
	}

	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}
	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	rows, err := s.repo.CustomerBalances(ctx, s.db, req, s.clock.Now())
	if err != nil {
		return resp, err
	}

	resp.Customers = rows
	resp.Limit = req.Limit
	resp.Offset = req.Offset
	return resp, nil
}

func (s *Service) CustomerSummary(ctx context.Context, req domain.SummaryRequest) (domain.Summary, error) {
	filter, err := normalizeFilter(req.Filter)
	if err != nil {
		return domain.Summary{}, err
	}

	now := s.clock.Now()
	if filter.IsEmpty() {
		return s.repo.UnfilteredSummary(ctx, s.db, now)
	}
	if positiveSignOnly(filter) {
		return s.repo.PositiveBalanceSummary(ctx, s.db, filter.IncludeCreditMemos, now)
	}

	summary, err := s.repo.FilteredSummary(ctx, s.db, filter, now)
	if err != nil {
		return domain.Summary{}, err
	}

	// The balance filter already decides who carries debt; override the
	// counted value where the sign makes it a tautology.
	switch filter.BalanceSign {
	case domain.BalanceSignPositive:
		summary.CustomersWithDebt = summary.TotalCustomers
	case domain.BalanceSignNegative, domain.BalanceSignZero:
		summary.CustomersWithDebt = 0
	}
	return summary, nil
}

func (s *Service) CollectorProgress(ctx context.Context, req domain.CollectorProgressRequest) ([]domain.CollectorProgressRow, error) {
	now := s.clock.Now()
	to := now
	if req.To != nil {
		to = *req.To
	}
	from := to.Add(-defaultProgressWindow)
	if req.From != nil {
		from = *req.From
	}
	if from.After(to) {
		return nil, domain.ErrInvalidDateRange
	}
	return s.repo.CollectorProgress(ctx, s.db, from, to)
}

func (s *Service) GlobalSearch(ctx context.Context, term string, limit int) ([]domain.SearchResult, error) {
	term = strings.TrimSpace(term)
	if len(term) < 2 {
		return nil, domain.ErrInvalidSearchTerm
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results := make([]domain.SearchResult, 0, 3*limit)

	customers, err := s.repo.SearchCustomers(ctx, s.db, term, limit)
	if err != nil {
		return nil, err
	}
	results = append(results, customers...)

	invoices, err := s.repo.SearchInvoices(ctx, s.db, term, limit)
	if err != nil {
		return nil, err
	}
	results = append(results, invoices...)

	tickets, err := s.repo.SearchTickets(ctx, s.db, term, limit)
	if err != nil {
		return nil, err
	}
	results = append(results, tickets...)

	return results, nil
}

func (s *Service) CaptureSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	summary, err := s.CustomerSummary(ctx, domain.SummaryRequest{})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	snapshot := &domain.Snapshot{
		ID:           s.genID.Generate(),
		SnapshotDate: dayStart(now),
		Summary:      datatypes.JSON(payload),
		CreatedAt:    now,
	}
	if err := s.repo.UpsertSnapshot(ctx, s.db, snapshot); err != nil {
		return nil, err
	}

	s.log.Info("captured analytics snapshot",
		zap.Time("snapshot_date", snapshot.SnapshotDate),
		zap.Int64("total_customers", summary.TotalCustomers),
	)
	return snapshot, nil
}

func (s *Service) ListSnapshots(ctx context.Context, from, to *time.Time) ([]domain.Snapshot, error) {
	if from != nil && to != nil && from.After(*to) {
		return nil, domain.ErrInvalidDateRange
	}
	return s.repo.ListSnapshots(ctx, s.db, from, to)
}

func normalizeFilter(filter domain.Filter) (domain.Filter, error) {
	filter.SearchText = strings.TrimSpace(filter.SearchText)
	filter.Status = strings.TrimSpace(filter.Status)
	filter.Country = strings.TrimSpace(filter.Country)

	if filter.DateContext == "" {
		filter.DateContext = domain.DateContextInvoiceDate
	}
	if !domain.IsValidDateContext(filter.DateContext) {
		return filter, domain.ErrInvalidDateContext
	}
	if filter.BalanceSign == "" {
		filter.BalanceSign = domain.BalanceSignAny
	}
	if !domain.IsValidBalanceSign(filter.BalanceSign) {
		return filter, domain.ErrInvalidBalanceSign
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateFrom.After(*filter.DateTo) {
		return filter, domain.ErrInvalidDateRange
	}
	if filter.MinBalance != nil && filter.MaxBalance != nil && *filter.MinBalance > *filter.MaxBalance {
		return filter, domain.ErrInvalidBalanceRange
	}
	return filter, nil
}

// positiveSignOnly reports whether BalanceSign=positive is the only narrowing
// filter, which unlocks the invoice-side aggregate.
func positiveSignOnly(filter domain.Filter) bool {
	if filter.BalanceSign != domain.BalanceSignPositive {
		return false
	}
	rest := filter
	rest.BalanceSign = domain.BalanceSignAny
	return rest.IsEmpty()
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
