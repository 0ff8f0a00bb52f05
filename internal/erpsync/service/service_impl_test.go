package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/clock"
	"github.com/smallbiznis/collectra/internal/config"
	customerdomain "github.com/smallbiznis/collectra/internal/customer/domain"
	customerrepository "github.com/smallbiznis/collectra/internal/customer/repository"
	"github.com/smallbiznis/collectra/internal/erp"
	"github.com/smallbiznis/collectra/internal/erp/dynamics"
	"github.com/smallbiznis/collectra/internal/erp/static"
	"github.com/smallbiznis/collectra/internal/erpsync/domain"
	"github.com/smallbiznis/collectra/internal/erpsync/repository"
	invoicedomain "github.com/smallbiznis/collectra/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/collectra/internal/invoice/repository"
	paymentdomain "github.com/smallbiznis/collectra/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/collectra/internal/payment/repository"
	ticketdomain "github.com/smallbiznis/collectra/internal/ticket/domain"
	ticketrepository "github.com/smallbiznis/collectra/internal/ticket/repository"
	ticketservice "github.com/smallbiznis/collectra/internal/ticket/service"
	"github.com/smallbiznis/collectra/pkg/db"
)

var testBase = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, erpCfg config.ERPConfig) (domain.Service, ticketdomain.Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&domain.SyncLease{},
		&customerdomain.Customer{},
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentInvoiceApplication{},
		&ticketdomain.Ticket{},
		&ticketdomain.TicketInvoice{},
		&ticketdomain.TicketNote{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(testBase)

	ticketSvc := ticketservice.New(ticketservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  ticketrepository.Provide(),
	})

	svc := New(Params{
		DB:           conn,
		Log:          zap.NewNop(),
		Cfg:          config.Config{ERP: erpCfg},
		GenID:        node,
		Clock:        clk,
		Registry:     erp.NewRegistry(dynamics.NewFactory(), static.NewFactory()),
		LeaseRepo:    repository.Provide(),
		CustomerRepo: customerrepository.Provide(),
		InvoiceRepo:  invoicerepository.Provide(),
		PaymentRepo:  paymentrepository.Provide(),
		TicketSvc:    ticketSvc,
	})
	return svc, ticketSvc, conn
}

func staticERP() config.ERPConfig {
	return config.ERPConfig{Provider: "static"}
}

func TestRunMirrorsStaticFixtures(t *testing.T) {
	svc, _, conn := newTestService(t, staticERP())

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Customers != 3 || result.Invoices != 6 || result.Payments != 2 || result.Applications != 2 {
		t.Fatalf("unexpected counts %+v", result)
	}
	if result.Unlinked != 0 {
		t.Fatalf("nothing to unlink on a fresh db, got %d", result.Unlinked)
	}

	var customer customerdomain.Customer
	if err := conn.Where("erp_id = ?", "CUST-0001").First(&customer).Error; err != nil {
		t.Fatalf("load customer: %v", err)
	}
	if customer.Name != "Northwind Traders" {
		t.Fatalf("unexpected customer name %s", customer.Name)
	}
	if customer.CachedBalance != 3300.0 {
		t.Fatalf("CUST-0001 balance should net the credit memo, got %v", customer.CachedBalance)
	}
	if customer.ERPSyncedAt == nil {
		t.Fatal("erp_synced_at should be stamped")
	}

	var second customerdomain.Customer
	if err := conn.Where("erp_id = ?", "CUST-0002").First(&second).Error; err != nil {
		t.Fatalf("load customer: %v", err)
	}
	if second.CachedBalance != 430.25 {
		t.Fatalf("CUST-0002 balance should skip the closed invoice, got %v", second.CachedBalance)
	}

	var third customerdomain.Customer
	if err := conn.Where("erp_id = ?", "CUST-0003").First(&third).Error; err != nil {
		t.Fatalf("load customer: %v", err)
	}
	if third.CachedBalance != 0 {
		t.Fatalf("on-hold invoices should not count, got %v", third.CachedBalance)
	}

	var invoice invoicedomain.Invoice
	if err := conn.Where("reference_number = ?", "0001003").First(&invoice).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	if invoice.Balance != 430.25 || invoice.ColorStatus != invoicedomain.ColorGreen {
		t.Fatalf("unexpected invoice state balance=%v color=%s", invoice.Balance, invoice.ColorStatus)
	}

	var applications []paymentdomain.PaymentInvoiceApplication
	if err := conn.Where("invoice_reference = ?", "0001003").Find(&applications).Error; err != nil {
		t.Fatalf("load applications: %v", err)
	}
	if len(applications) != 1 || applications[0].AmountApplied != 430.25 {
		t.Fatalf("unexpected applications %+v", applications)
	}

	var lease domain.SyncLease
	if err := conn.Where("name = ?", domain.LeaseName).First(&lease).Error; err != nil {
		t.Fatalf("load lease: %v", err)
	}
	if lease.ExpiresAt.After(testBase) {
		t.Fatalf("lease should be released, expires %v", lease.ExpiresAt)
	}
}

func TestRunPagesThroughProvider(t *testing.T) {
	cfg := staticERP()
	cfg.PageSize = 2
	svc, _, conn := newTestService(t, cfg)

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Invoices != 6 {
		t.Fatalf("paged pull should cover all invoices, got %d", result.Invoices)
	}

	var count int64
	if err := conn.Model(&invoicedomain.Invoice{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 6 {
		t.Fatalf("expected 6 invoice rows, got %d", count)
	}
}

func TestRunPreservesAnnotationsOnResync(t *testing.T) {
	svc, _, conn := newTestService(t, staticERP())

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	if err := conn.Exec(
		`UPDATE customers SET collection_threshold_days = 45, is_test = ? WHERE erp_id = ?`,
		true, "CUST-0001",
	).Error; err != nil {
		t.Fatalf("annotate customer: %v", err)
	}
	if err := conn.Exec(
		`UPDATE invoices SET color_status = 'red', last_touched_at = ? WHERE reference_number = ?`,
		testBase, "0001001",
	).Error; err != nil {
		t.Fatalf("annotate invoice: %v", err)
	}

	var before customerdomain.Customer
	if err := conn.Where("erp_id = ?", "CUST-0001").First(&before).Error; err != nil {
		t.Fatalf("load customer: %v", err)
	}
	var paymentBefore paymentdomain.Payment
	if err := conn.Where("reference_number = ?", "PAY-5001").First(&paymentBefore).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var after customerdomain.Customer
	if err := conn.Where("erp_id = ?", "CUST-0001").First(&after).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if after.ID != before.ID {
		t.Fatalf("resync must keep the row id, got %d want %d", after.ID, before.ID)
	}
	if after.CollectionThresholdDays == nil || *after.CollectionThresholdDays != 45 {
		t.Fatalf("threshold annotation lost: %+v", after.CollectionThresholdDays)
	}
	if !after.IsTest {
		t.Fatal("is_test annotation lost")
	}

	var invoice invoicedomain.Invoice
	if err := conn.Where("reference_number = ?", "0001001").First(&invoice).Error; err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	if invoice.ColorStatus != invoicedomain.ColorRed {
		t.Fatalf("color annotation lost, got %s", invoice.ColorStatus)
	}
	if invoice.LastTouchedAt == nil {
		t.Fatal("last_touched_at annotation lost")
	}

	var paymentAfter paymentdomain.Payment
	if err := conn.Where("reference_number = ?", "PAY-5001").First(&paymentAfter).Error; err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if paymentAfter.ID != paymentBefore.ID {
		t.Fatalf("resync must keep the payment id, got %d want %d", paymentAfter.ID, paymentBefore.ID)
	}

	// applications re-attach to the surviving payment row instead of piling
	// up under a freshly generated id
	var applications int64
	if err := conn.Model(&paymentdomain.PaymentInvoiceApplication{}).Count(&applications).Error; err != nil {
		t.Fatalf("count applications: %v", err)
	}
	if applications != 2 {
		t.Fatalf("expected 2 application rows after resync, got %d", applications)
	}
}

func TestRunFailsWhenLeaseHeld(t *testing.T) {
	svc, _, conn := newTestService(t, staticERP())

	lease := domain.SyncLease{
		Name:        domain.LeaseName,
		Owner:       "other-process",
		ExpiresAt:   testBase.Add(time.Hour),
		HeartbeatAt: testBase,
		UpdatedAt:   testBase,
	}
	if err := conn.Create(&lease).Error; err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	_, err := svc.Run(context.Background())
	if !errors.Is(err, domain.ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}

	var customers int64
	if err := conn.Model(&customerdomain.Customer{}).Count(&customers).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if customers != 0 {
		t.Fatalf("held lease must block the sync, wrote %d customers", customers)
	}
}

func TestRunClaimsExpiredLease(t *testing.T) {
	svc, _, conn := newTestService(t, staticERP())

	lease := domain.SyncLease{
		Name:        domain.LeaseName,
		Owner:       "crashed-process",
		ExpiresAt:   testBase.Add(-time.Minute),
		HeartbeatAt: testBase.Add(-time.Hour),
		UpdatedAt:   testBase.Add(-time.Hour),
	}
	if err := conn.Create(&lease).Error; err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("expired lease should be claimable: %v", err)
	}
	if result.Customers != 3 {
		t.Fatalf("expected full sync after claim, got %+v", result)
	}

	var reloaded domain.SyncLease
	if err := conn.Where("name = ?", domain.LeaseName).First(&reloaded).Error; err != nil {
		t.Fatalf("load lease: %v", err)
	}
	if reloaded.Owner == "crashed-process" {
		t.Fatal("lease owner should have changed")
	}
}

func TestRunRejectsMisconfiguredProvider(t *testing.T) {
	svc, _, conn := newTestService(t, config.ERPConfig{Provider: "dynamics"})

	_, err := svc.Run(context.Background())
	if !errors.Is(err, erp.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	// config failures abort before the lease is touched
	var leases int64
	if err := conn.Model(&domain.SyncLease{}).Count(&leases).Error; err != nil {
		t.Fatalf("count leases: %v", err)
	}
	if leases != 0 {
		t.Fatalf("expected no lease rows, got %d", leases)
	}
}

func TestRunRejectsUnknownProvider(t *testing.T) {
	svc, _, _ := newTestService(t, config.ERPConfig{Provider: "sap"})

	_, err := svc.Run(context.Background())
	if !errors.Is(err, erp.ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestRunUnlinksSettledInvoices(t *testing.T) {
	svc, ticketSvc, conn := newTestService(t, staticERP())

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	ticket, err := ticketSvc.Create(context.Background(), ticketdomain.CreateTicketRequest{
		CustomerERPID:     "CUST-0002",
		Subject:           "Past due balance",
		InvoiceReferences: []string{"0001003", "0001004"},
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Unlinked != 1 {
		t.Fatalf("the closed invoice link should be removed, got %d", result.Unlinked)
	}

	var links []ticketdomain.TicketInvoice
	if err := conn.Where("ticket_id = ?", ticket.ID).Find(&links).Error; err != nil {
		t.Fatalf("load links: %v", err)
	}
	if len(links) != 1 || links[0].InvoiceReference != "0001003" {
		t.Fatalf("expected only the open invoice to stay linked, got %+v", links)
	}
}
