package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/clock"
	"github.com/smallbiznis/collectra/internal/config"
	customerdomain "github.com/smallbiznis/collectra/internal/customer/domain"
	"github.com/smallbiznis/collectra/internal/invoice/domain"
	"github.com/smallbiznis/collectra/internal/invoice/repository"
	"github.com/smallbiznis/collectra/pkg/db"
)

func newTestService(t *testing.T, clk clock.Clock) (domain.Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Invoice{}, &customerdomain.Customer{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if clk == nil {
		clk = clock.New()
	}

	svc := New(Params{
		DB:            conn,
		Log:           zap.NewNop(),
		Cfg:           config.Config{SearchStatementTimeoutMS: 2000},
		CollectionCfg: config.NewStaticCollectionConfigHolder(config.DefaultCollectionConfig()),
		Clock:         clk,
		Repo:          repository.Provide(),
	})
	return svc, conn
}

func seedInvoice(t *testing.T, conn *gorm.DB, inv domain.Invoice) {
	t.Helper()
	if inv.Type == "" {
		inv.Type = domain.TypeInvoice
	}
	if inv.Status == "" {
		inv.Status = domain.StatusOpen
	}
	if inv.ColorStatus == "" {
		inv.ColorStatus = domain.ColorGreen
	}
	if err := conn.Create(&inv).Error; err != nil {
		t.Fatalf("seed invoice %s: %v", inv.ReferenceNumber, err)
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestGetRejectsBlankReference(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if _, err := svc.Get(context.Background(), domain.GetInvoiceRequest{ReferenceNumber: "  "}); err != domain.ErrInvalidReference {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestGetUnknownReference(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if _, err := svc.Get(context.Background(), domain.GetInvoiceRequest{ReferenceNumber: "0009999"}); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchExactWinsForNumericTerm(t *testing.T) {
	svc, conn := newTestService(t, nil)

	seedInvoice(t, conn, domain.Invoice{ID: 1, ReferenceNumber: "0001234", CustomerERPID: "CUST-1", Balance: 100})
	// pattern-only match: the term appears inside the description
	seedInvoice(t, conn, domain.Invoice{ID: 2, ReferenceNumber: "0005555", CustomerERPID: "CUST-1", Description: "re-issue of 1234", Balance: 50})

	got, err := svc.Search(context.Background(), domain.SearchInvoiceRequest{Term: "1234"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exact pass to win with 1 row, got %d", len(got))
	}
	if got[0].ReferenceNumber != "0001234" {
		t.Fatalf("unexpected row %s", got[0].ReferenceNumber)
	}

	count, err := svc.SearchCount(context.Background(), domain.SearchInvoiceRequest{Term: "1234"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exact count 1, got %d", count)
	}
}

func TestSearchFallsBackWhenNoExactMatch(t *testing.T) {
	svc, conn := newTestService(t, nil)

	if err := conn.Create(&customerdomain.Customer{ID: 10, ERPID: "CUST-9", Name: "Acme 777 Supplies", Status: "Active"}).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	seedInvoice(t, conn, domain.Invoice{ID: 3, ReferenceNumber: "0002000", CustomerERPID: "CUST-9", Balance: 10})

	// "777" matches no reference exactly, so the search must fall through to
	// the pattern pass and find the invoice via the customer name join.
	got, err := svc.Search(context.Background(), domain.SearchInvoiceRequest{Term: "777"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ReferenceNumber != "0002000" {
		t.Fatalf("expected fallback row 0002000, got %+v", got)
	}

	count, err := svc.SearchCount(context.Background(), domain.SearchInvoiceRequest{Term: "777"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fallback count 1, got %d", count)
	}
}

func TestSearchZeroPadsNumericTerm(t *testing.T) {
	svc, conn := newTestService(t, nil)

	seedInvoice(t, conn, domain.Invoice{ID: 4, ReferenceNumber: "0000042", CustomerERPID: "CUST-1", Balance: 5})

	got, err := svc.Search(context.Background(), domain.SearchInvoiceRequest{Term: "42"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ReferenceNumber != "0000042" {
		t.Fatalf("expected zero-padded exact hit, got %+v", got)
	}
}

func TestSearchNonNumericTermGoesStraightToPattern(t *testing.T) {
	svc, conn := newTestService(t, nil)

	seedInvoice(t, conn, domain.Invoice{ID: 5, ReferenceNumber: "0003000", CustomerERPID: "CUST-1", OrderNumber: "PO-ALPHA-9"})

	got, err := svc.Search(context.Background(), domain.SearchInvoiceRequest{Term: "alpha"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ReferenceNumber != "0003000" {
		t.Fatalf("expected order-number match, got %+v", got)
	}
}

func TestSearchHonorsBalanceAndStatusFilters(t *testing.T) {
	svc, conn := newTestService(t, nil)

	seedInvoice(t, conn, domain.Invoice{ID: 6, ReferenceNumber: "0004001", CustomerERPID: "CUST-2", Balance: 500})
	seedInvoice(t, conn, domain.Invoice{ID: 7, ReferenceNumber: "0004002", CustomerERPID: "CUST-2", Balance: 20})
	seedInvoice(t, conn, domain.Invoice{ID: 8, ReferenceNumber: "0004003", CustomerERPID: "CUST-2", Balance: 700, Status: domain.StatusClosed})

	minBalance := 100.0
	got, err := svc.Search(context.Background(), domain.SearchInvoiceRequest{
		Term:          "4001",
		CustomerERPID: "CUST-2",
		Status:        domain.StatusOpen,
		MinBalance:    &minBalance,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ReferenceNumber != "0004001" {
		t.Fatalf("expected filtered hit 0004001, got %+v", got)
	}
}

func TestRefreshColorsBucketsByDaysOverdue(t *testing.T) {
	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(base)
	svc, conn := newTestService(t, clk)

	seedInvoice(t, conn, domain.Invoice{ID: 11, ReferenceNumber: "0005001", CustomerERPID: "CUST-3", DueDate: timePtr(base.AddDate(0, 0, 3))})
	seedInvoice(t, conn, domain.Invoice{ID: 12, ReferenceNumber: "0005002", CustomerERPID: "CUST-3", DueDate: timePtr(base.AddDate(0, 0, -5))})
	seedInvoice(t, conn, domain.Invoice{ID: 13, ReferenceNumber: "0005003", CustomerERPID: "CUST-3", DueDate: timePtr(base.AddDate(0, 0, -20))})
	seedInvoice(t, conn, domain.Invoice{ID: 14, ReferenceNumber: "0005004", CustomerERPID: "CUST-3", DueDate: timePtr(base.AddDate(0, 0, -60))})
	// settled rows keep their color
	seedInvoice(t, conn, domain.Invoice{ID: 15, ReferenceNumber: "0005005", CustomerERPID: "CUST-3", DueDate: timePtr(base.AddDate(0, 0, -60)), Status: domain.StatusClosed})

	changed, err := svc.RefreshColors(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if changed != 3 {
		t.Fatalf("expected 3 rows changed, got %d", changed)
	}

	want := map[string]domain.ColorStatus{
		"0005001": domain.ColorGreen,
		"0005002": domain.ColorYellow,
		"0005003": domain.ColorOrange,
		"0005004": domain.ColorRed,
		"0005005": domain.ColorGreen,
	}
	for reference, color := range want {
		var inv domain.Invoice
		if err := conn.Where("reference_number = ?", reference).First(&inv).Error; err != nil {
			t.Fatalf("load %s: %v", reference, err)
		}
		if inv.ColorStatus != color {
			t.Fatalf("%s: expected %s, got %s", reference, color, inv.ColorStatus)
		}
	}
}

func TestRefreshColorsRespectsCustomerThreshold(t *testing.T) {
	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(base)
	svc, conn := newTestService(t, clk)

	threshold := 30
	if err := conn.Create(&customerdomain.Customer{ID: 20, ERPID: "CUST-SLOW", Name: "Slow Payer Inc", Status: "Active", CollectionThresholdDays: &threshold}).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	// 20 days overdue but inside the 30-day grace: stays green.
	seedInvoice(t, conn, domain.Invoice{ID: 21, ReferenceNumber: "0006001", CustomerERPID: "CUST-SLOW", DueDate: timePtr(base.AddDate(0, 0, -20))})
	// 50 days overdue, past the grace: real day count classifies it red.
	seedInvoice(t, conn, domain.Invoice{ID: 22, ReferenceNumber: "0006002", CustomerERPID: "CUST-SLOW", DueDate: timePtr(base.AddDate(0, 0, -50))})

	if _, err := svc.RefreshColors(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var first, second domain.Invoice
	if err := conn.Where("reference_number = ?", "0006001").First(&first).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := conn.Where("reference_number = ?", "0006002").First(&second).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if first.ColorStatus != domain.ColorGreen {
		t.Fatalf("inside grace should stay green, got %s", first.ColorStatus)
	}
	if second.ColorStatus != domain.ColorRed {
		t.Fatalf("past grace should go red, got %s", second.ColorStatus)
	}
}

func TestRefreshColorsIsIdempotent(t *testing.T) {
	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(base)
	svc, conn := newTestService(t, clk)

	seedInvoice(t, conn, domain.Invoice{ID: 31, ReferenceNumber: "0007001", CustomerERPID: "CUST-4", DueDate: timePtr(base.AddDate(0, 0, -10))})

	if _, err := svc.RefreshColors(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	changed, err := svc.RefreshColors(context.Background())
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if changed != 0 {
		t.Fatalf("second pass should be a no-op, changed %d", changed)
	}
}

func TestListPaginatesWithCursor(t *testing.T) {
	svc, conn := newTestService(t, nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	refs := []string{"0008001", "0008002", "0008003", "0008004", "0008005"}
	for i, reference := range refs {
		seedInvoice(t, conn, domain.Invoice{
			ID:              snowflake.ID(100 + i),
			ReferenceNumber: reference,
			CustomerERPID:   "CUST-PAGE",
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:       base.Add(time.Duration(i) * time.Minute),
		})
	}

	seen := map[string]bool{}
	req := domain.ListInvoiceRequest{CustomerERPID: "CUST-PAGE"}
	req.PageSize = 2
	for {
		resp, err := svc.List(context.Background(), req)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, inv := range resp.Invoices {
			if seen[inv.ReferenceNumber] {
				t.Fatalf("reference %s repeated across pages", inv.ReferenceNumber)
			}
			seen[inv.ReferenceNumber] = true
		}
		if resp.NextPageToken == "" {
			break
		}
		req.PageToken = resp.NextPageToken
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 unique rows across pages, got %d", len(seen))
	}
}
