package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/collectra/internal/audit/domain"
	"github.com/smallbiznis/collectra/internal/customer/domain"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("customer.service"),
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Get(ctx context.Context, req domain.GetCustomerRequest) (*domain.Customer, error) {
	erpID := strings.TrimSpace(req.ERPID)
	if erpID == "" {
		return nil, domain.ErrInvalidERPID
	}

	customer, err := s.repo.FindByERPID(ctx, s.db, erpID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	return customer, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCustomerRequest) (domain.ListCustomerResponse, error) {
	var resp domain.ListCustomerResponse

	filter := domain.ListCustomerFilter{
		SearchText:     strings.TrimSpace(req.SearchText),
		Status:         strings.TrimSpace(req.Status),
		Country:        strings.TrimSpace(req.Country),
		Classification: strings.TrimSpace(req.Classification),
		ExcludeTest:    req.ExcludeTest,
	}

	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return resp, err
	}

	limit := req.Limit()
	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), func(customer *domain.Customer) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        customer.ID.String(),
			CreatedAt: customer.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	items = pagination.TrimPage(items, limit)

	resp.PageInfo = *pageInfo
	resp.Customers = make([]domain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Customers = append(resp.Customers, *item)
	}
	return resp, nil
}

// UpdateAnnotations touches locally-owned columns only; the next ERP sync will
// not overwrite them.
func (s *Service) UpdateAnnotations(ctx context.Context, req domain.UpdateAnnotationsRequest) (*domain.Customer, error) {
	erpID := strings.TrimSpace(req.ERPID)
	if erpID == "" {
		return nil, domain.ErrInvalidERPID
	}

	customer, err := s.repo.FindByERPID(ctx, s.db, erpID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}

	changes := map[string]any{}

	if req.ClearThreshold {
		customer.CollectionThresholdDays = nil
		changes["collection_threshold_days"] = nil
	} else if req.CollectionThresholdDays != nil {
		if *req.CollectionThresholdDays < 0 {
			return nil, domain.ErrInvalidThreshold
		}
		customer.CollectionThresholdDays = req.CollectionThresholdDays
		changes["collection_threshold_days"] = *req.CollectionThresholdDays
	}
	if req.ExcludeFromAnalytics != nil {
		customer.ExcludeFromAnalytics = *req.ExcludeFromAnalytics
		changes["exclude_from_analytics"] = *req.ExcludeFromAnalytics
	}
	if req.IsTest != nil {
		customer.IsTest = *req.IsTest
		changes["is_test"] = *req.IsTest
	}

	if len(changes) == 0 {
		return customer, nil
	}

	customer.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, s.db, customer); err != nil {
		return nil, err
	}

	s.audit(ctx, "customer.annotations_changed", customer.ERPID, changes)

	return customer, nil
}

func (s *Service) TouchLastContacted(ctx context.Context, req domain.TouchContactRequest) error {
	erpID := strings.TrimSpace(req.ERPID)
	if erpID == "" {
		return domain.ErrInvalidERPID
	}

	at := req.ContactedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	affected, err := s.repo.TouchLastContacted(ctx, s.db, erpID, at)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) audit(ctx context.Context, action string, erpID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := erpID
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "customers", &targetID, metadata); err != nil {
		s.log.Warn("failed to audit customer change", zap.String("action", action), zap.Error(err))
	}
}
