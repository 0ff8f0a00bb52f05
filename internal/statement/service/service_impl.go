package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/clock"
	customerdomain "github.com/smallbiznis/collectra/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/collectra/internal/invoice/domain"
	"github.com/smallbiznis/collectra/internal/providers/pdf"
	"github.com/smallbiznis/collectra/internal/statement/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock

	CustomerRepo customerdomain.Repository
	InvoiceRepo  invoicedomain.Repository
	PDF          pdf.Provider
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	customerRepo customerdomain.Repository
	invoiceRepo  invoicedomain.Repository
	pdf          pdf.Provider
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("statement.service"),
		clock:        p.Clock,
		customerRepo: p.CustomerRepo,
		invoiceRepo:  p.InvoiceRepo,
		pdf:          p.PDF,
	}
}

func (s *Service) Render(ctx context.Context, customerERPID string) (*domain.Statement, error) {
	customerERPID = strings.TrimSpace(customerERPID)
	if customerERPID == "" {
		return nil, domain.ErrCustomerNotFound
	}

	customer, err := s.customerRepo.FindByERPID(ctx, s.db, customerERPID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrCustomerNotFound
	}

	invoices, err := s.invoiceRepo.ListOpenByCustomer(ctx, s.db, customerERPID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	data, total := buildStatementData(customer, invoices, now)

	reader, err := s.pdf.GenerateStatement(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("render statement: %w", err)
	}
	doc, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	return &domain.Statement{
		CustomerERPID: customer.ERPID,
		CustomerName:  customer.Name,
		Filename:      fmt.Sprintf("statement-%s-%s.pdf", customer.ERPID, now.UTC().Format("20060102")),
		GeneratedAt:   now,
		TotalBalance:  total,
		PDF:           doc,
	}, nil
}

// buildStatementData formats rows and ages balances into the standard AR
// buckets. Credit documents count against the totals.
func buildStatementData(customer *customerdomain.Customer, invoices []*invoicedomain.Invoice, now time.Time) (pdf.StatementData, float64) {
	var total, current, days1to30, days31to60, days61plus float64

	rows := make([]pdf.StatementRow, 0, len(invoices))
	for _, inv := range invoices {
		signed := inv.Balance
		if inv.Type != invoicedomain.TypeInvoice {
			signed = -signed
		}
		total += signed

		overdue := invoicedomain.DaysOverdueAt(inv.DueDate, now)
		switch {
		case overdue <= 0:
			current += signed
		case overdue <= 30:
			days1to30 += signed
		case overdue <= 60:
			days31to60 += signed
		default:
			days61plus += signed
		}

		rows = append(rows, pdf.StatementRow{
			Reference:   inv.ReferenceNumber,
			InvoiceDate: formatDay(inv.InvoiceDate),
			DueDate:     formatDay(inv.DueDate),
			DaysOverdue: overdue,
			Amount:      money(inv.Amount),
			Balance:     money(signed),
		})
	}

	return pdf.StatementData{
		CustomerName:  customer.Name,
		CustomerERPID: customer.ERPID,
		GeneratedAt:   now.UTC().Format("2006-01-02"),
		TotalBalance:  money(total),
		AgingCurrent:  money(current),
		Aging1To30:    money(days1to30),
		Aging31To60:   money(days31to60),
		Aging61Plus:   money(days61plus),
		Rows:          rows,
	}, total
}

func money(v float64) string { return fmt.Sprintf("%.2f", v) }

func formatDay(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}
