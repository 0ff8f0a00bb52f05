package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/payment/domain"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("payment.service"),
		repo: p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, req domain.GetPaymentRequest) (*domain.PaymentWithApplications, error) {
	reference := strings.TrimSpace(req.ReferenceNumber)
	if reference == "" {
		return nil, domain.ErrInvalidReference
	}

	payment, err := s.repo.FindByReference(ctx, s.db, reference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrNotFound
	}

	applications, err := s.repo.ListApplications(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}

	return &domain.PaymentWithApplications{
		Payment:      *payment,
		Applications: applications,
	}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListPaymentRequest) (domain.ListPaymentResponse, error) {
	var resp domain.ListPaymentResponse

	filter := domain.ListPaymentFilter{
		CustomerERPID: strings.TrimSpace(req.CustomerERPID),
		AppliedFrom:   req.AppliedFrom,
		AppliedTo:     req.AppliedTo,
	}

	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return resp, err
	}

	limit := req.Limit()
	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), func(payment *domain.Payment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        payment.ID.String(),
			CreatedAt: payment.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	items = pagination.TrimPage(items, limit)

	resp.PageInfo = *pageInfo
	resp.Payments = make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Payments = append(resp.Payments, *item)
	}
	return resp, nil
}

func (s *Service) ListForInvoice(ctx context.Context, invoiceReference string) ([]domain.PaymentInvoiceApplication, error) {
	reference := strings.TrimSpace(invoiceReference)
	if reference == "" {
		return nil, domain.ErrInvalidReference
	}
	return s.repo.ListApplicationsForInvoice(ctx, s.db, reference)
}

func (s *Service) LastApplicationAt(ctx context.Context, customerERPID string) (*time.Time, error) {
	erpID := strings.TrimSpace(customerERPID)
	if erpID == "" {
		return nil, domain.ErrInvalidCustomer
	}
	return s.repo.LastApplicationAt(ctx, s.db, erpID)
}
