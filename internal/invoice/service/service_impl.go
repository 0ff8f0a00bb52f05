package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/clock"
	"github.com/smallbiznis/collectra/internal/config"
	"github.com/smallbiznis/collectra/internal/invoice/domain"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
	"github.com/smallbiznis/collectra/pkg/pgguard"
)

// referenceWidth is the ERP's fixed reference number width; numeric search
// terms are zero-padded to it for the exact pass.
const referenceWidth = 7

// fallbackCountCap bounds the EXISTS-probe count on the pattern path.
const fallbackCountCap = 1000

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Cfg           config.Config
	CollectionCfg *config.CollectionConfigHolder
	Clock         clock.Clock
	Repo          domain.Repository
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           config.Config
	collectionCfg *config.CollectionConfigHolder
	clock         clock.Clock
	repo          domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("invoice.service"),
		cfg:           p.Cfg,
		collectionCfg: p.CollectionCfg,
		clock:         p.Clock,
		repo:          p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, req domain.GetInvoiceRequest) (*domain.Invoice, error) {
	reference := strings.TrimSpace(req.ReferenceNumber)
	if reference == "" {
		return nil, domain.ErrInvalidReference
	}

	invoice, err := s.repo.FindByReference(ctx, s.db, reference)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoiceRequest) (domain.ListInvoiceResponse, error) {
	var resp domain.ListInvoiceResponse

	filter := domain.ListInvoiceFilter{
		CustomerERPID: strings.TrimSpace(req.CustomerERPID),
		Status:        req.Status,
		ColorStatus:   req.ColorStatus,
		Type:          req.Type,
	}

	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return resp, err
	}

	limit := req.Limit()
	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), func(invoice *domain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	items = pagination.TrimPage(items, limit)

	resp.PageInfo = *pageInfo
	resp.Invoices = make([]domain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Invoices = append(resp.Invoices, *item)
	}
	return resp, nil
}

// Search runs the two-pass reference search: an indexed exact pass for numeric
// terms (as-is and zero-padded), falling back to pattern matching only when
// the exact pass finds nothing.
func (s *Service) Search(ctx context.Context, req domain.SearchInvoiceRequest) ([]domain.Invoice, error) {
	term := strings.TrimSpace(req.Term)
	filter := searchFilter(req)
	limit, offset := searchWindow(req)

	var rows []*domain.Invoice
	err := s.searchGuarded(ctx, func(tx *gorm.DB) error {
		var err error
		if isNumericTerm(term) {
			rows, err = s.repo.SearchExact(ctx, tx, referenceCandidates(term), filter, limit, offset)
			if err != nil {
				return err
			}
			if len(rows) > 0 || offset > 0 {
				// A non-zero offset stays on the exact branch so page N+1
				// never silently switches result sets.
				return nil
			}
		}
		rows, err = s.repo.SearchPattern(ctx, tx, term, filter, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}

	invoices := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		invoices = append(invoices, *row)
	}
	return invoices, nil
}

// SearchCount mirrors Search's branch structure: exact count on the fast path,
// capped existence-probe estimate on the fallback.
func (s *Service) SearchCount(ctx context.Context, req domain.SearchInvoiceRequest) (int64, error) {
	term := strings.TrimSpace(req.Term)
	filter := searchFilter(req)

	var count int64
	err := s.searchGuarded(ctx, func(tx *gorm.DB) error {
		var err error
		if isNumericTerm(term) {
			count, err = s.repo.CountExact(ctx, tx, referenceCandidates(term), filter)
			if err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
		}
		count, err = s.repo.CountPatternCapped(ctx, tx, term, filter, fallbackCountCap)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// searchGuarded bounds pattern-match cost with both a context deadline and a
// Postgres statement timeout inside the query transaction.
func (s *Service) searchGuarded(ctx context.Context, fn func(tx *gorm.DB) error) error {
	timeout := time.Duration(s.cfg.SearchStatementTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		return pgguard.WithStatementTimeout(ctx, s.db, 0, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()
	return pgguard.WithStatementTimeout(ctx, s.db, timeout, fn)
}

func (s *Service) RefreshColors(ctx context.Context) (int64, error) {
	rows, err := s.repo.ListOpenForColorRefresh(ctx, s.db)
	if err != nil {
		return 0, err
	}

	today := s.clock.Now()
	buckets := s.collectionCfg.Get()

	byColor := map[domain.ColorStatus][]snowflake.ID{}
	for _, row := range rows {
		days := domain.DaysOverdueAt(row.DueDate, today)
		if row.ThresholdDays != nil && days <= *row.ThresholdDays {
			// per-customer threshold delays leaving green
			days = 0
		}
		color := domain.ColorStatus(buckets.BucketFor(days).Color)
		if color == row.ColorStatus {
			continue
		}
		byColor[color] = append(byColor[color], row.ID)
	}

	var changed int64
	for color, ids := range byColor {
		affected, err := s.repo.UpdateColors(ctx, s.db, ids, color)
		if err != nil {
			return changed, err
		}
		changed += affected
	}

	if changed > 0 {
		s.log.Info("refreshed invoice colors", zap.Int64("changed", changed))
	}
	return changed, nil
}

func searchFilter(req domain.SearchInvoiceRequest) domain.SearchInvoiceFilter {
	return domain.SearchInvoiceFilter{
		CustomerERPID: strings.TrimSpace(req.CustomerERPID),
		Status:        req.Status,
		ColorStatus:   req.ColorStatus,
		MinBalance:    req.MinBalance,
		MaxBalance:    req.MaxBalance,
		DateFrom:      req.DateFrom,
		DateTo:        req.DateTo,
	}
}

func searchWindow(req domain.SearchInvoiceRequest) (int, int) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func isNumericTerm(term string) bool {
	if term == "" {
		return false
	}
	for _, r := range term {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// referenceCandidates returns the term as-is plus its zero-padded form.
func referenceCandidates(term string) []string {
	padded := term
	for len(padded) < referenceWidth {
		padded = "0" + padded
	}
	if padded == term {
		return []string{term}
	}
	return []string{term, padded}
}
