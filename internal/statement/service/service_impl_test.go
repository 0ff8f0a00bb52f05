package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/clock"
	customerdomain "github.com/smallbiznis/collectra/internal/customer/domain"
	customerrepo "github.com/smallbiznis/collectra/internal/customer/repository"
	invoicedomain "github.com/smallbiznis/collectra/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/collectra/internal/invoice/repository"
	"github.com/smallbiznis/collectra/internal/providers/pdf"
	"github.com/smallbiznis/collectra/internal/statement/domain"
	"github.com/smallbiznis/collectra/pkg/db"
)

var statementNow = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

// pdfSpy records the data handed to the renderer and returns a fixed blob.
type pdfSpy struct {
	last *pdf.StatementData
	err  error
}

func (p *pdfSpy) GenerateStatement(ctx context.Context, data pdf.StatementData) (io.Reader, error) {
	p.last = &data
	if p.err != nil {
		return nil, p.err
	}
	return strings.NewReader("%PDF-1.4 stub"), nil
}

func newTestService(t *testing.T, renderer pdf.Provider) (domain.Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&customerdomain.Customer{}, &invoicedomain.Invoice{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := New(Params{
		DB:           conn,
		Log:          zap.NewNop(),
		Clock:        clock.NewFakeClock(statementNow),
		CustomerRepo: customerrepo.Provide(),
		InvoiceRepo:  invoicerepo.Provide(),
		PDF:          renderer,
	})
	return svc, conn
}

func seedCustomer(t *testing.T, conn *gorm.DB, id int64, erpID, name string) {
	t.Helper()
	if err := conn.Create(&customerdomain.Customer{
		ID:     snowflake.ID(id),
		ERPID:  erpID,
		Name:   name,
		Status: "Active",
	}).Error; err != nil {
		t.Fatalf("seed customer %s: %v", erpID, err)
	}
}

func seedInvoice(t *testing.T, conn *gorm.DB, id int64, customerERPID, reference string, docType invoicedomain.InvoiceType, status invoicedomain.InvoiceStatus, balance float64, due time.Time) {
	t.Helper()
	invoiceDate := due.AddDate(0, 0, -30)
	if err := conn.Create(&invoicedomain.Invoice{
		ID:              snowflake.ID(id),
		ReferenceNumber: reference,
		CustomerERPID:   customerERPID,
		Type:            docType,
		Status:          status,
		InvoiceDate:     &invoiceDate,
		DueDate:         &due,
		Amount:          balance,
		Balance:         balance,
		ColorStatus:     invoicedomain.ColorGreen,
	}).Error; err != nil {
		t.Fatalf("seed invoice %s: %v", reference, err)
	}
}

func TestRenderAgesOpenDocuments(t *testing.T) {
	renderer := &pdfSpy{}
	svc, conn := newTestService(t, renderer)

	seedCustomer(t, conn, 1, "CUST-0001", "Northwind Traders")
	// 2025-02-01 reference date: not yet due, 10, 45, and 90 days overdue.
	seedInvoice(t, conn, 10, "CUST-0001", "0001001", invoicedomain.TypeInvoice, invoicedomain.StatusOpen, 100, time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC))
	seedInvoice(t, conn, 11, "CUST-0001", "0001002", invoicedomain.TypeInvoice, invoicedomain.StatusOpen, 200, time.Date(2025, 1, 22, 0, 0, 0, 0, time.UTC))
	seedInvoice(t, conn, 12, "CUST-0001", "0001003", invoicedomain.TypeInvoice, invoicedomain.StatusOpen, 300, time.Date(2024, 12, 18, 0, 0, 0, 0, time.UTC))
	seedInvoice(t, conn, 13, "CUST-0001", "0001004", invoicedomain.TypeInvoice, invoicedomain.StatusOpen, 400, time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC))
	// Open credit reduces the oldest bucket and the total.
	seedInvoice(t, conn, 14, "CUST-0001", "CM-0001", invoicedomain.TypeCreditMemo, invoicedomain.StatusOpen, 50, time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC))
	// Closed rows never appear on a statement.
	seedInvoice(t, conn, 15, "CUST-0001", "0001005", invoicedomain.TypeInvoice, invoicedomain.StatusClosed, 999, time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC))

	stmt, err := svc.Render(context.Background(), "CUST-0001")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if stmt.CustomerName != "Northwind Traders" {
		t.Fatalf("customer name = %q", stmt.CustomerName)
	}
	if stmt.TotalBalance != 950 {
		t.Fatalf("total balance = %v, want 950", stmt.TotalBalance)
	}
	if want := "statement-CUST-0001-20250201.pdf"; stmt.Filename != want {
		t.Fatalf("filename = %q, want %q", stmt.Filename, want)
	}
	if len(stmt.PDF) == 0 {
		t.Fatal("expected rendered bytes")
	}

	data := renderer.last
	if data == nil {
		t.Fatal("renderer never invoked")
	}
	if len(data.Rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(data.Rows))
	}
	if data.TotalBalance != "950.00" {
		t.Fatalf("total = %q", data.TotalBalance)
	}
	if data.AgingCurrent != "100.00" {
		t.Fatalf("current bucket = %q", data.AgingCurrent)
	}
	if data.Aging1To30 != "200.00" {
		t.Fatalf("1-30 bucket = %q", data.Aging1To30)
	}
	if data.Aging31To60 != "300.00" {
		t.Fatalf("31-60 bucket = %q", data.Aging31To60)
	}
	if data.Aging61Plus != "350.00" {
		t.Fatalf("61+ bucket = %q", data.Aging61Plus)
	}

	first := data.Rows[0]
	if first.Reference != "0001004" || first.DaysOverdue != 90 {
		t.Fatalf("oldest row = %+v", first)
	}
	credit := data.Rows[1]
	if credit.Reference != "CM-0001" || credit.Balance != "-50.00" {
		t.Fatalf("credit row = %+v", credit)
	}
}

func TestRenderUnknownCustomer(t *testing.T) {
	svc, _ := newTestService(t, &pdfSpy{})

	if _, err := svc.Render(context.Background(), "CUST-MISSING"); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("err = %v, want ErrCustomerNotFound", err)
	}
	if _, err := svc.Render(context.Background(), "   "); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("blank id err = %v, want ErrCustomerNotFound", err)
	}
}

func TestRenderEmptyStatement(t *testing.T) {
	renderer := &pdfSpy{}
	svc, conn := newTestService(t, renderer)

	seedCustomer(t, conn, 2, "CUST-0002", "Fabrikam")

	stmt, err := svc.Render(context.Background(), "CUST-0002")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if stmt.TotalBalance != 0 {
		t.Fatalf("total = %v, want 0", stmt.TotalBalance)
	}
	if len(renderer.last.Rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(renderer.last.Rows))
	}
	if renderer.last.TotalBalance != "0.00" {
		t.Fatalf("formatted total = %q", renderer.last.TotalBalance)
	}
}
