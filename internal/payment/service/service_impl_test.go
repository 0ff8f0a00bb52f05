package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/payment/domain"
	"github.com/smallbiznis/collectra/internal/payment/repository"
	"github.com/smallbiznis/collectra/pkg/db"
)

func newTestService(t *testing.T) (domain.Service, domain.Repository, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Payment{}, &domain.PaymentInvoiceApplication{}); err != nil {
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

func timePtr(t time.Time) *time.Time { return &t }

func TestGetReturnsApplications(t *testing.T) {
	svc, _, conn := newTestService(t)

	applied := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	payment := domain.Payment{ID: 1, ReferenceNumber: "P-1001", CustomerERPID: "CUST-1", Amount: 150, AppliedAt: &applied}
	if err := conn.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	apps := []domain.PaymentInvoiceApplication{
		{PaymentID: 1, InvoiceReference: "0001001", AmountApplied: 100, AppliedAt: &applied},
		{PaymentID: 1, InvoiceReference: "0001002", AmountApplied: 50, AppliedAt: &applied},
	}
	for i := range apps {
		if err := conn.Create(&apps[i]).Error; err != nil {
			t.Fatalf("seed application: %v", err)
		}
	}

	got, err := svc.Get(context.Background(), domain.GetPaymentRequest{ReferenceNumber: "P-1001"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount != 150 {
		t.Fatalf("unexpected amount %v", got.Amount)
	}
	if len(got.Applications) != 2 {
		t.Fatalf("expected 2 applications, got %d", len(got.Applications))
	}
	if got.Applications[0].InvoiceReference != "0001001" {
		t.Fatalf("applications should sort by invoice reference, got %s first", got.Applications[0].InvoiceReference)
	}
}

func TestGetUnknownReference(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Get(context.Background(), domain.GetPaymentRequest{ReferenceNumber: "P-404"}); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersByCustomerAndWindow(t *testing.T) {
	svc, _, conn := newTestService(t)

	march := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	april := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	may := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	seed := []domain.Payment{
		{ID: 10, ReferenceNumber: "P-10", CustomerERPID: "CUST-A", Amount: 10, AppliedAt: &march},
		{ID: 11, ReferenceNumber: "P-11", CustomerERPID: "CUST-A", Amount: 20, AppliedAt: &april},
		{ID: 12, ReferenceNumber: "P-12", CustomerERPID: "CUST-B", Amount: 30, AppliedAt: &april},
	}
	for i := range seed {
		if err := conn.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed payment: %v", err)
		}
	}

	resp, err := svc.List(context.Background(), domain.ListPaymentRequest{
		CustomerERPID: "CUST-A",
		AppliedFrom:   &april,
		AppliedTo:     &may,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Payments) != 1 || resp.Payments[0].ReferenceNumber != "P-11" {
		t.Fatalf("expected only P-11 in the window, got %+v", resp.Payments)
	}
}

func TestUpsertFromERPIsIdempotent(t *testing.T) {
	_, repo, conn := newTestService(t)

	applied := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	row := &domain.Payment{
		ID:              20,
		ReferenceNumber: "P-20",
		CustomerERPID:   "CUST-C",
		Amount:          75,
		AppliedAt:       &applied,
		CreatedAt:       applied,
		UpdatedAt:       applied,
	}
	if _, err := repo.UpsertFromERP(context.Background(), conn, []*domain.Payment{row}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	row.Amount = 80
	row.ID = 9999 // conflict path must keep the original row id
	if _, err := repo.UpsertFromERP(context.Background(), conn, []*domain.Payment{row}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var count int64
	if err := conn.Model(&domain.Payment{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single row after re-sync, got %d", count)
	}

	var got domain.Payment
	if err := conn.Where("reference_number = ?", "P-20").First(&got).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Amount != 80 {
		t.Fatalf("amount not updated, got %v", got.Amount)
	}
	if got.ID != 20 {
		t.Fatalf("row id must survive re-sync, got %d", got.ID)
	}
}

func TestLastApplicationAt(t *testing.T) {
	svc, repo, conn := newTestService(t)

	early := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)

	payments := []domain.Payment{
		{ID: 30, ReferenceNumber: "P-30", CustomerERPID: "CUST-D", Amount: 40, AppliedAt: &early},
		{ID: 31, ReferenceNumber: "P-31", CustomerERPID: "CUST-D", Amount: 60, AppliedAt: &late},
	}
	for i := range payments {
		if err := conn.Create(&payments[i]).Error; err != nil {
			t.Fatalf("seed payment: %v", err)
		}
	}
	if _, err := repo.UpsertApplications(context.Background(), conn, []*domain.PaymentInvoiceApplication{
		{PaymentID: 30, InvoiceReference: "0003001", AmountApplied: 40, AppliedAt: &early, CreatedAt: early},
		{PaymentID: 31, InvoiceReference: "0003002", AmountApplied: 60, AppliedAt: &late, CreatedAt: late},
	}); err != nil {
		t.Fatalf("upsert applications: %v", err)
	}

	got, err := svc.LastApplicationAt(context.Background(), "CUST-D")
	if err != nil {
		t.Fatalf("last application: %v", err)
	}
	if got == nil || !got.Equal(late) {
		t.Fatalf("expected %v, got %v", late, got)
	}

	never, err := svc.LastApplicationAt(context.Background(), "CUST-NEVER")
	if err != nil {
		t.Fatalf("last application: %v", err)
	}
	if never != nil {
		t.Fatalf("customer with no payments should return nil, got %v", never)
	}
}
