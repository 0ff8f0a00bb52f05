package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/clock"
	"github.com/smallbiznis/collectra/internal/config"
	customerdomain "github.com/smallbiznis/collectra/internal/customer/domain"
	"github.com/smallbiznis/collectra/internal/erp"
	"github.com/smallbiznis/collectra/internal/erpsync/domain"
	invoicedomain "github.com/smallbiznis/collectra/internal/invoice/domain"
	"github.com/smallbiznis/collectra/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/collectra/internal/payment/domain"
	ticketdomain "github.com/smallbiznis/collectra/internal/ticket/domain"
)

const (
	// leaseTTL outlives any healthy phase; heartbeats between phases keep
	// extending it, so only a dead holder lets it lapse.
	leaseTTL = 10 * time.Minute

	defaultPageSize = 500
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock

	Registry     *erp.Registry
	LeaseRepo    domain.Repository
	CustomerRepo customerdomain.Repository
	InvoiceRepo  invoicedomain.Repository
	PaymentRepo  paymentdomain.Repository
	TicketSvc    ticketdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   config.Config
	genID *snowflake.Node
	clock clock.Clock

	registry     *erp.Registry
	leaseRepo    domain.Repository
	customerRepo customerdomain.Repository
	invoiceRepo  invoicedomain.Repository
	paymentRepo  paymentdomain.Repository
	ticketSvc    ticketdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("erpsync.service"),
		cfg:          p.Cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		registry:     p.Registry,
		leaseRepo:    p.LeaseRepo,
		customerRepo: p.CustomerRepo,
		invoiceRepo:  p.InvoiceRepo,
		paymentRepo:  p.PaymentRepo,
		ticketSvc:    p.TicketSvc,
	}
}

func (s *Service) Run(ctx context.Context) (domain.RunResult, error) {
	var result domain.RunResult

	provider, err := s.registry.New(s.cfg.ERP)
	if err != nil {
		// configuration problem: abort without retry, the next tick would
		// fail identically until config changes
		return result, fmt.Errorf("erp provider: %w", err)
	}

	owner := s.genID.Generate().String()
	now := s.clock.Now()

	leaseStart := time.Now()
	acquired, err := s.leaseRepo.Acquire(ctx, s.db, domain.LeaseName, owner, now, now.Add(leaseTTL))
	metrics.Collection().ObserveDBLockWait(metrics.LockResourceSyncLease, time.Since(leaseStart))
	if err != nil {
		return result, fmt.Errorf("acquire lease: %w", err)
	}
	if !acquired {
		return result, domain.ErrLeaseHeld
	}
	defer func() {
		if err := s.leaseRepo.Release(ctx, s.db, domain.LeaseName, owner, s.clock.Now()); err != nil {
			s.log.Warn("failed to release sync lease", zap.Error(err))
		}
	}()

	s.log.Info("erp sync started", zap.String("provider", provider.Name()), zap.String("lease_owner", owner))

	if result.Customers, err = s.syncCustomers(ctx, provider); err != nil {
		metrics.Collection().IncCollectionStageError(metrics.CollectionStageSyncCustomers, err)
		return result, fmt.Errorf("sync customers: %w", err)
	}
	if err = s.heartbeat(ctx, owner); err != nil {
		return result, err
	}

	if result.Invoices, err = s.syncInvoices(ctx, provider); err != nil {
		metrics.Collection().IncCollectionStageError(metrics.CollectionStageSyncInvoices, err)
		return result, fmt.Errorf("sync invoices: %w", err)
	}
	if err = s.heartbeat(ctx, owner); err != nil {
		return result, err
	}

	if result.Payments, result.Applications, err = s.syncPayments(ctx, provider); err != nil {
		metrics.Collection().IncCollectionStageError(metrics.CollectionStageSyncPayments, err)
		return result, fmt.Errorf("sync payments: %w", err)
	}
	if err = s.heartbeat(ctx, owner); err != nil {
		return result, err
	}

	if _, err = s.customerRepo.RefreshCachedBalances(ctx, s.db); err != nil {
		return result, fmt.Errorf("refresh balances: %w", err)
	}

	// explicit post-sync step: settled invoices leave every ticket
	if result.Unlinked, err = s.ticketSvc.UnlinkSettled(ctx); err != nil {
		metrics.Collection().IncCollectionStageError(metrics.CollectionStageUnlinkSettled, err)
		return result, fmt.Errorf("unlink settled: %w", err)
	}

	s.log.Info("erp sync finished",
		zap.Int("customers", result.Customers),
		zap.Int("invoices", result.Invoices),
		zap.Int("payments", result.Payments),
		zap.Int("applications", result.Applications),
		zap.Int("unlinked", result.Unlinked),
	)
	return result, nil
}

func (s *Service) heartbeat(ctx context.Context, owner string) error {
	now := s.clock.Now()
	alive, err := s.leaseRepo.Heartbeat(ctx, s.db, domain.LeaseName, owner, now, now.Add(leaseTTL))
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if !alive {
		return domain.ErrLeaseLost
	}
	return nil
}

func (s *Service) pageSize() int {
	if s.cfg.ERP.PageSize > 0 {
		return s.cfg.ERP.PageSize
	}
	return defaultPageSize
}

func (s *Service) syncCustomers(ctx context.Context, provider erp.Provider) (int, error) {
	total := 0
	syncedAt := s.clock.Now()
	for page := 1; ; page++ {
		records, more, err := provider.FetchCustomers(ctx, erp.Page{Number: page, Size: s.pageSize()})
		if err != nil {
			return total, err
		}

		customers := make([]*customerdomain.Customer, 0, len(records))
		for _, record := range records {
			if record.ERPID == "" {
				continue
			}
			at := syncedAt
			customers = append(customers, &customerdomain.Customer{
				ID:             s.genID.Generate(),
				ERPID:          record.ERPID,
				Name:           record.Name,
				Status:         record.Status,
				Country:        record.Country,
				Classification: record.Classification,
				ERPSyncedAt:    &at,
				CreatedAt:      syncedAt,
				UpdatedAt:      syncedAt,
			})
		}

		written, err := s.customerRepo.UpsertFromERP(ctx, s.db, customers)
		total += written
		if err != nil {
			return total, err
		}
		if !more {
			return total, nil
		}
	}
}

func (s *Service) syncInvoices(ctx context.Context, provider erp.Provider) (int, error) {
	total := 0
	syncedAt := s.clock.Now()
	for page := 1; ; page++ {
		records, more, err := provider.FetchInvoices(ctx, erp.Page{Number: page, Size: s.pageSize()})
		if err != nil {
			return total, err
		}

		invoices := make([]*invoicedomain.Invoice, 0, len(records))
		for _, record := range records {
			if record.ReferenceNumber == "" {
				continue
			}
			at := syncedAt
			invoices = append(invoices, &invoicedomain.Invoice{
				ID:              s.genID.Generate(),
				ReferenceNumber: record.ReferenceNumber,
				CustomerERPID:   record.CustomerERPID,
				Type:            invoicedomain.InvoiceType(record.Type),
				Status:          invoicedomain.InvoiceStatus(record.Status),
				InvoiceDate:     record.InvoiceDate,
				DueDate:         record.DueDate,
				Amount:          record.Amount,
				Balance:         record.Balance,
				OrderNumber:     record.OrderNumber,
				Description:     record.Description,
				ERPSyncedAt:     &at,
				CreatedAt:       syncedAt,
				UpdatedAt:       syncedAt,
			})
		}

		written, err := s.invoiceRepo.UpsertFromERP(ctx, s.db, invoices)
		total += written
		if err != nil {
			return total, err
		}
		if !more {
			return total, nil
		}
	}
}

func (s *Service) syncPayments(ctx context.Context, provider erp.Provider) (int, int, error) {
	payments := 0
	applications := 0
	syncedAt := s.clock.Now()
	for page := 1; ; page++ {
		records, more, err := provider.FetchPayments(ctx, erp.Page{Number: page, Size: s.pageSize()})
		if err != nil {
			return payments, applications, err
		}

		rows := make([]*paymentdomain.Payment, 0, len(records))
		var links []*paymentdomain.PaymentInvoiceApplication
		for _, record := range records {
			if record.ReferenceNumber == "" {
				continue
			}
			at := syncedAt
			id := s.genID.Generate()
			rows = append(rows, &paymentdomain.Payment{
				ID:              id,
				ReferenceNumber: record.ReferenceNumber,
				CustomerERPID:   record.CustomerERPID,
				Amount:          record.Amount,
				Method:          record.Method,
				AppliedAt:       record.AppliedAt,
				ERPSyncedAt:     &at,
				CreatedAt:       syncedAt,
				UpdatedAt:       syncedAt,
			})
			for _, app := range record.Applications {
				if app.InvoiceReference == "" {
					continue
				}
				links = append(links, &paymentdomain.PaymentInvoiceApplication{
					PaymentID:        id,
					InvoiceReference: app.InvoiceReference,
					AmountApplied:    app.AmountApplied,
					AppliedAt:        app.AppliedAt,
					CreatedAt:        syncedAt,
				})
			}
		}

		written, err := s.paymentRepo.UpsertFromERP(ctx, s.db, rows)
		payments += written
		if err != nil {
			return payments, applications, err
		}

		linked, err := s.upsertApplications(ctx, rows, links)
		applications += linked
		if err != nil {
			return payments, applications, err
		}
		if !more {
			return payments, applications, nil
		}
	}
}

// upsertApplications resolves each link against the payment row that actually
// landed: a re-synced payment keeps its original id, not the one generated
// this pass.
func (s *Service) upsertApplications(ctx context.Context, rows []*paymentdomain.Payment, links []*paymentdomain.PaymentInvoiceApplication) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}

	stored := make(map[snowflake.ID]snowflake.ID, len(rows))
	for _, row := range rows {
		existing, err := s.paymentRepo.FindByReference(ctx, s.db, row.ReferenceNumber)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			stored[row.ID] = existing.ID
		}
	}

	for _, link := range links {
		if id, ok := stored[link.PaymentID]; ok {
			link.PaymentID = id
		}
	}

	return s.paymentRepo.UpsertApplications(ctx, s.db, links)
}
