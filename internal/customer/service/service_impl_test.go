package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/customer/domain"
	"github.com/smallbiznis/collectra/internal/customer/repository"
	invoicedomain "github.com/smallbiznis/collectra/internal/invoice/domain"
	"github.com/smallbiznis/collectra/pkg/db"
)

func newTestService(t *testing.T) (domain.Service, domain.Repository, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Customer{}, &invoicedomain.Invoice{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := repository.Provide()
	svc := New(Params{
		DB:   conn,
		Log:  zap.NewNop(),
		Repo: repo,
	})
	return svc, repo, conn
}

func seedCustomer(t *testing.T, conn *gorm.DB, customer domain.Customer) {
	t.Helper()
	if customer.Status == "" {
		customer.Status = "Active"
	}
	if err := conn.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer %s: %v", customer.ERPID, err)
	}
}

func TestGetRejectsBlankERPID(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Get(context.Background(), domain.GetCustomerRequest{ERPID: " "}); err != domain.ErrInvalidERPID {
		t.Fatalf("expected ErrInvalidERPID, got %v", err)
	}
}

func TestGetUnknownCustomer(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Get(context.Background(), domain.GetCustomerRequest{ERPID: "CUST-404"}); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAnnotationsSetsAndClearsThreshold(t *testing.T) {
	svc, _, conn := newTestService(t)
	seedCustomer(t, conn, domain.Customer{ID: 1, ERPID: "CUST-1", Name: "Acme"})

	threshold := 30
	updated, err := svc.UpdateAnnotations(context.Background(), domain.UpdateAnnotationsRequest{
		ERPID:                   "CUST-1",
		CollectionThresholdDays: &threshold,
	})
	if err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	if updated.CollectionThresholdDays == nil || *updated.CollectionThresholdDays != 30 {
		t.Fatalf("threshold not stored: %+v", updated.CollectionThresholdDays)
	}

	updated, err = svc.UpdateAnnotations(context.Background(), domain.UpdateAnnotationsRequest{
		ERPID:          "CUST-1",
		ClearThreshold: true,
	})
	if err != nil {
		t.Fatalf("clear threshold: %v", err)
	}
	if updated.CollectionThresholdDays != nil {
		t.Fatalf("threshold should be cleared, got %v", *updated.CollectionThresholdDays)
	}
}

func TestUpdateAnnotationsRejectsNegativeThreshold(t *testing.T) {
	svc, _, conn := newTestService(t)
	seedCustomer(t, conn, domain.Customer{ID: 2, ERPID: "CUST-2", Name: "Beta"})

	bad := -1
	if _, err := svc.UpdateAnnotations(context.Background(), domain.UpdateAnnotationsRequest{
		ERPID:                   "CUST-2",
		CollectionThresholdDays: &bad,
	}); err != domain.ErrInvalidThreshold {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
}

func TestUpdateAnnotationsNoChangesIsNoOp(t *testing.T) {
	svc, _, conn := newTestService(t)
	seedCustomer(t, conn, domain.Customer{ID: 3, ERPID: "CUST-3", Name: "Gamma"})

	before, err := svc.Get(context.Background(), domain.GetCustomerRequest{ERPID: "CUST-3"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	after, err := svc.UpdateAnnotations(context.Background(), domain.UpdateAnnotationsRequest{ERPID: "CUST-3"})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("no-op update must not touch updated_at")
	}
}

func TestTouchLastContacted(t *testing.T) {
	svc, _, conn := newTestService(t)
	seedCustomer(t, conn, domain.Customer{ID: 4, ERPID: "CUST-4", Name: "Delta"})

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := svc.TouchLastContacted(context.Background(), domain.TouchContactRequest{ERPID: "CUST-4", ContactedAt: at}); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := svc.Get(context.Background(), domain.GetCustomerRequest{ERPID: "CUST-4"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastContactedAt == nil || !got.LastContactedAt.Equal(at) {
		t.Fatalf("last_contacted_at not stored: %v", got.LastContactedAt)
	}

	if err := svc.TouchLastContacted(context.Background(), domain.TouchContactRequest{ERPID: "CUST-404"}); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}
}

func TestUpsertFromERPPreservesAnnotations(t *testing.T) {
	_, repo, conn := newTestService(t)

	threshold := 45
	seedCustomer(t, conn, domain.Customer{
		ID:                      5,
		ERPID:                   "CUST-5",
		Name:                    "Old Name",
		Status:                  "Active",
		CollectionThresholdDays: &threshold,
		ExcludeFromAnalytics:    true,
		IsTest:                  true,
	})

	syncedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	written, err := repo.UpsertFromERP(context.Background(), conn, []*domain.Customer{{
		ID:          999,
		ERPID:       "CUST-5",
		Name:        "New Name",
		Status:      "Inactive",
		Country:     "US",
		ERPSyncedAt: &syncedAt,
		CreatedAt:   syncedAt,
		UpdatedAt:   syncedAt,
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected 1 row written, got %d", written)
	}

	var got domain.Customer
	if err := conn.Where("erp_id = ?", "CUST-5").First(&got).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "New Name" || got.Status != "Inactive" {
		t.Fatalf("erp columns not updated: %+v", got)
	}
	if got.CollectionThresholdDays == nil || *got.CollectionThresholdDays != 45 {
		t.Fatalf("threshold annotation lost on sync")
	}
	if !got.ExcludeFromAnalytics || !got.IsTest {
		t.Fatalf("flag annotations lost on sync")
	}
	if got.ID != 5 {
		t.Fatalf("conflict update must keep the existing row id, got %d", got.ID)
	}
}

func TestRefreshCachedBalancesNetsCreditsAgainstInvoices(t *testing.T) {
	_, repo, conn := newTestService(t)

	seedCustomer(t, conn, domain.Customer{ID: 6, ERPID: "CUST-6", Name: "Net Balance Co"})
	seedCustomer(t, conn, domain.Customer{ID: 7, ERPID: "CUST-7", Name: "No Invoices Co"})

	open := invoicedomain.StatusOpen
	rows := []invoicedomain.Invoice{
		{ID: 61, ReferenceNumber: "0000061", CustomerERPID: "CUST-6", Type: invoicedomain.TypeInvoice, Status: open, Balance: 100},
		{ID: 62, ReferenceNumber: "0000062", CustomerERPID: "CUST-6", Type: invoicedomain.TypeInvoice, Status: open, Balance: 50},
		{ID: 63, ReferenceNumber: "0000063", CustomerERPID: "CUST-6", Type: invoicedomain.TypeCreditMemo, Status: open, Balance: 20},
		// closed rows never count
		{ID: 64, ReferenceNumber: "0000064", CustomerERPID: "CUST-6", Type: invoicedomain.TypeInvoice, Status: invoicedomain.StatusClosed, Balance: 999},
	}
	for i := range rows {
		if rows[i].ColorStatus == "" {
			rows[i].ColorStatus = invoicedomain.ColorGreen
		}
		if err := conn.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed invoice: %v", err)
		}
	}

	if _, err := repo.RefreshCachedBalances(context.Background(), conn); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var withDebt, without domain.Customer
	if err := conn.Where("erp_id = ?", "CUST-6").First(&withDebt).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := conn.Where("erp_id = ?", "CUST-7").First(&without).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if withDebt.CachedBalance != 130 {
		t.Fatalf("expected net balance 130 (100+50-20), got %v", withDebt.CachedBalance)
	}
	if without.CachedBalance != 0 {
		t.Fatalf("customer without invoices should cache 0, got %v", without.CachedBalance)
	}
}

func TestListFiltersOutTestCustomers(t *testing.T) {
	svc, _, conn := newTestService(t)

	seedCustomer(t, conn, domain.Customer{ID: 8, ERPID: "CUST-8", Name: "Real Co"})
	seedCustomer(t, conn, domain.Customer{ID: 9, ERPID: "CUST-9", Name: "Test Co", IsTest: true})

	resp, err := svc.List(context.Background(), domain.ListCustomerRequest{ExcludeTest: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Customers) != 1 || resp.Customers[0].ERPID != "CUST-8" {
		t.Fatalf("expected only the real customer, got %+v", resp.Customers)
	}
}
