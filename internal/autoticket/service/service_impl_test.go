package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/autoticket/domain"
	"github.com/smallbiznis/collectra/internal/autoticket/repository"
	"github.com/smallbiznis/collectra/internal/clock"
	"github.com/smallbiznis/collectra/internal/config"
	customerdomain "github.com/smallbiznis/collectra/internal/customer/domain"
	customerrepository "github.com/smallbiznis/collectra/internal/customer/repository"
	invoicedomain "github.com/smallbiznis/collectra/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/collectra/internal/invoice/repository"
	paymentdomain "github.com/smallbiznis/collectra/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/collectra/internal/payment/repository"
	paymentservice "github.com/smallbiznis/collectra/internal/payment/service"
	"github.com/smallbiznis/collectra/internal/providers/webhook"
	ticketdomain "github.com/smallbiznis/collectra/internal/ticket/domain"
	ticketrepository "github.com/smallbiznis/collectra/internal/ticket/repository"
	ticketservice "github.com/smallbiznis/collectra/internal/ticket/service"
	"github.com/smallbiznis/collectra/pkg/db"
)

// matches the fixed example: min=30/max=60 evaluated on 2025-01-01 selects
// invoice dates 2024-11-02 through 2024-12-02 inclusive
var ruleToday = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, notifier webhook.Provider) (domain.Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&domain.AutoTicketRule{},
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
	clk := clock.NewFakeClock(ruleToday)
	if notifier == nil {
		notifier = &webhook.NoOpProvider{}
	}

	paymentSvc := paymentservice.New(paymentservice.Params{
		DB:   conn,
		Log:  zap.NewNop(),
		Repo: paymentrepository.Provide(),
	})
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
		GenID:        node,
		Clock:        clk,
		Repo:         repository.Provide(),
		CustomerRepo: customerrepository.Provide(),
		InvoiceRepo:  invoicerepository.Provide(),
		PaymentSvc:   paymentSvc,
		TicketSvc:    ticketSvc,
		Notifier:     notifier,
	})
	return svc, conn
}

var seedSeq snowflake.ID

func nextSeedID() snowflake.ID {
	seedSeq++
	return seedSeq
}

func seedCustomer(t *testing.T, conn *gorm.DB, erpID, name string) {
	t.Helper()
	customer := customerdomain.Customer{
		ID:        nextSeedID(),
		ERPID:     erpID,
		Name:      name,
		Status:    "Active",
		CreatedAt: ruleToday,
		UpdatedAt: ruleToday,
	}
	if err := conn.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
}

func seedOpenInvoice(t *testing.T, conn *gorm.DB, erpID, reference string, invoiceDate time.Time, dueDate *time.Time) {
	t.Helper()
	invoice := invoicedomain.Invoice{
		ID:              nextSeedID(),
		ReferenceNumber: reference,
		CustomerERPID:   erpID,
		Type:            invoicedomain.TypeInvoice,
		Status:          invoicedomain.StatusOpen,
		InvoiceDate:     &invoiceDate,
		DueDate:         dueDate,
		Amount:          100,
		Balance:         100,
		ColorStatus:     invoicedomain.ColorGreen,
		CreatedAt:       ruleToday,
		UpdatedAt:       ruleToday,
	}
	if err := conn.Create(&invoice).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
}

func seedPaymentApplication(t *testing.T, conn *gorm.DB, erpID, reference string, appliedAt time.Time) {
	t.Helper()
	payment := paymentdomain.Payment{
		ID:              nextSeedID(),
		ReferenceNumber: reference,
		CustomerERPID:   erpID,
		Amount:          50,
		Method:          "check",
		AppliedAt:       &appliedAt,
		CreatedAt:       ruleToday,
		UpdatedAt:       ruleToday,
	}
	if err := conn.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	application := paymentdomain.PaymentInvoiceApplication{
		PaymentID:        payment.ID,
		InvoiceReference: reference + "-INV",
		AmountApplied:    50,
		AppliedAt:        &appliedAt,
		CreatedAt:        ruleToday,
	}
	if err := conn.Create(&application).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}
}

func intPtr(v int) *int { return &v }

func createAgeRule(t *testing.T, svc domain.Service, erpID string, minDays, maxDays int) *domain.AutoTicketRule {
	t.Helper()
	rule, err := svc.CreateRule(context.Background(), domain.CreateRuleRequest{
		CustomerERPID: erpID,
		MinDaysOld:    intPtr(minDays),
		MaxDaysOld:    intPtr(maxDays),
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func ticketLinks(t *testing.T, conn *gorm.DB) map[string][]string {
	t.Helper()
	var tickets []ticketdomain.Ticket
	if err := conn.Find(&tickets).Error; err != nil {
		t.Fatalf("load tickets: %v", err)
	}
	out := make(map[string][]string, len(tickets))
	for _, ticket := range tickets {
		var links []ticketdomain.TicketInvoice
		if err := conn.Where("ticket_id = ?", ticket.ID).Order("invoice_reference asc").Find(&links).Error; err != nil {
			t.Fatalf("load links: %v", err)
		}
		refs := make([]string, 0, len(links))
		for _, link := range links {
			refs = append(refs, link.InvoiceReference)
		}
		out[ticket.Number] = refs
	}
	return out
}

func TestCreateRuleValidates(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{MinDaysOld: intPtr(30)}); !errors.Is(err, domain.ErrInvalidCustomer) {
		t.Fatalf("expected ErrInvalidCustomer, got %v", err)
	}
	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{CustomerERPID: "CUST-1"}); !errors.Is(err, domain.ErrInvalidWindow) {
		t.Fatalf("windowless rule should be rejected, got %v", err)
	}
	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{
		CustomerERPID: "CUST-1",
		MinDaysOld:    intPtr(60),
		MaxDaysOld:    intPtr(30),
	}); !errors.Is(err, domain.ErrInvalidWindow) {
		t.Fatalf("inverted window should be rejected, got %v", err)
	}
	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{
		CustomerERPID: "CUST-1",
		MinDaysOld:    intPtr(-1),
	}); !errors.Is(err, domain.ErrInvalidWindow) {
		t.Fatalf("negative bound should be rejected, got %v", err)
	}
	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{
		CustomerERPID: "CUST-1",
		MinDaysOld:    intPtr(30),
		CombineMode:   "xor",
	}); !errors.Is(err, domain.ErrInvalidCombineMode) {
		t.Fatalf("expected ErrInvalidCombineMode, got %v", err)
	}
}

func TestRunRulesMatchesAgeWindowBoundaries(t *testing.T) {
	svc, conn := newTestService(t, nil)
	seedCustomer(t, conn, "CUST-1", "Northwind Traders")

	seedOpenInvoice(t, conn, "CUST-1", "INV-TOO-OLD", time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), nil)
	seedOpenInvoice(t, conn, "CUST-1", "INV-OLD-EDGE", time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC), nil)
	seedOpenInvoice(t, conn, "CUST-1", "INV-NEW-EDGE", time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC), nil)
	seedOpenInvoice(t, conn, "CUST-1", "INV-TOO-NEW", time.Date(2024, 12, 3, 0, 0, 0, 0, time.UTC), nil)

	createAgeRule(t, svc, "CUST-1", 30, 60)

	result, err := svc.RunRules(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Evaluated != 1 || result.Created != 1 || result.Linked != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	links := ticketLinks(t, conn)
	if len(links) != 1 {
		t.Fatalf("expected one ticket, got %d", len(links))
	}
	for number, refs := range links {
		if !strings.HasPrefix(number, "T-20250101-") {
			t.Fatalf("unexpected ticket number %s", number)
		}
		if len(refs) != 2 || refs[0] != "INV-NEW-EDGE" || refs[1] != "INV-OLD-EDGE" {
			t.Fatalf("expected both boundary invoices linked, got %v", refs)
		}
	}
}

func TestRunRulesIsIdempotent(t *testing.T) {
	svc, conn := newTestService(t, nil)
	seedCustomer(t, conn, "CUST-1", "Northwind Traders")
	seedOpenInvoice(t, conn, "CUST-1", "INV-1", time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC), nil)
	createAgeRule(t, svc, "CUST-1", 30, 60)

	if _, err := svc.RunRules(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.RunRules(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Created != 0 || second.Appended != 0 || second.Linked != 0 {
		t.Fatalf("second run should change nothing, got %+v", second)
	}

	var tickets int64
	if err := conn.Model(&ticketdomain.Ticket{}).Count(&tickets).Error; err != nil {
		t.Fatalf("count tickets: %v", err)
	}
	if tickets != 1 {
		t.Fatalf("expected one ticket, got %d", tickets)
	}
}

func TestRunRulesAppendsToOpenTicket(t *testing.T) {
	svc, conn := newTestService(t, nil)
	seedCustomer(t, conn, "CUST-1", "Northwind Traders")
	seedOpenInvoice(t, conn, "CUST-1", "INV-1", time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC), nil)
	createAgeRule(t, svc, "CUST-1", 30, 60)

	if _, err := svc.RunRules(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	seedOpenInvoice(t, conn, "CUST-1", "INV-2", time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC), nil)

	result, err := svc.RunRules(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Created != 0 || result.Appended != 1 || result.Linked != 1 {
		t.Fatalf("expected an append, got %+v", result)
	}

	links := ticketLinks(t, conn)
	if len(links) != 1 {
		t.Fatalf("expected one ticket, got %d", len(links))
	}
	for _, refs := range links {
		if len(refs) != 2 {
			t.Fatalf("expected 2 links on the existing ticket, got %v", refs)
		}
	}
}

func TestRunRulesAndModeGatesOnPaymentRecency(t *testing.T) {
	svc, conn := newTestService(t, nil)
	seedCustomer(t, conn, "CUST-RECENT", "Recent Payer")
	seedCustomer(t, conn, "CUST-STALE", "Stale Payer")

	invoiceDate := time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC)
	seedOpenInvoice(t, conn, "CUST-RECENT", "INV-R1", invoiceDate, nil)
	seedOpenInvoice(t, conn, "CUST-STALE", "INV-S1", invoiceDate, nil)

	seedPaymentApplication(t, conn, "CUST-RECENT", "PAY-R", ruleToday.AddDate(0, 0, -10))
	seedPaymentApplication(t, conn, "CUST-STALE", "PAY-S", ruleToday.AddDate(0, 0, -40))

	ctx := context.Background()
	for _, erpID := range []string{"CUST-RECENT", "CUST-STALE"} {
		if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{
			CustomerERPID:       erpID,
			MinDaysOld:          intPtr(30),
			MaxDaysOld:          intPtr(60),
			MinDaysSincePayment: intPtr(30),
		}); err != nil {
			t.Fatalf("create rule: %v", err)
		}
	}

	result, err := svc.RunRules(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Evaluated != 2 || result.Created != 1 {
		t.Fatalf("only the stale payer should be ticketed, got %+v", result)
	}

	var tickets []ticketdomain.Ticket
	if err := conn.Find(&tickets).Error; err != nil {
		t.Fatalf("load tickets: %v", err)
	}
	if len(tickets) != 1 || tickets[0].CustomerERPID != "CUST-STALE" {
		t.Fatalf("unexpected tickets %+v", tickets)
	}
}

func TestRunRulesNoPaymentMatchesLowerBoundOnly(t *testing.T) {
	svc, conn := newTestService(t, nil)
	seedCustomer(t, conn, "CUST-NEVER-A", "Never Paid A")
	seedCustomer(t, conn, "CUST-NEVER-B", "Never Paid B")

	invoiceDate := time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC)
	seedOpenInvoice(t, conn, "CUST-NEVER-A", "INV-A1", invoiceDate, nil)
	seedOpenInvoice(t, conn, "CUST-NEVER-B", "INV-B1", invoiceDate, nil)

	ctx := context.Background()
	// lower-bound-only window: a customer with no payments is infinitely
	// many days out, so it matches
	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{
		CustomerERPID:       "CUST-NEVER-A",
		MinDaysOld:          intPtr(30),
		MaxDaysOld:          intPtr(60),
		MinDaysSincePayment: intPtr(90),
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	// upper-bounded window can never match a customer with no payments
	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{
		CustomerERPID:       "CUST-NEVER-B",
		MinDaysOld:          intPtr(30),
		MaxDaysOld:          intPtr(60),
		MaxDaysSincePayment: intPtr(90),
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	result, err := svc.RunRules(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected one ticket, got %+v", result)
	}

	var tickets []ticketdomain.Ticket
	if err := conn.Find(&tickets).Error; err != nil {
		t.Fatalf("load tickets: %v", err)
	}
	if len(tickets) != 1 || tickets[0].CustomerERPID != "CUST-NEVER-A" {
		t.Fatalf("unexpected tickets %+v", tickets)
	}
}

func TestRunRulesOrModeAddsThresholdOverdue(t *testing.T) {
	svc, conn := newTestService(t, nil)
	seedCustomer(t, conn, "CUST-1", "Northwind Traders")
	if err := conn.Exec(
		`UPDATE customers SET collection_threshold_days = 15 WHERE erp_id = ?`, "CUST-1",
	).Error; err != nil {
		t.Fatalf("set threshold: %v", err)
	}

	inWindow := time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)
	overdue20 := time.Date(2024, 12, 12, 0, 0, 0, 0, time.UTC)
	overdue10 := time.Date(2024, 12, 22, 0, 0, 0, 0, time.UTC)

	seedOpenInvoice(t, conn, "CUST-1", "INV-AGED", inWindow, nil)
	seedOpenInvoice(t, conn, "CUST-1", "INV-OVERDUE", recent, &overdue20)
	seedOpenInvoice(t, conn, "CUST-1", "INV-WITHIN-GRACE", recent, &overdue10)

	if _, err := svc.CreateRule(context.Background(), domain.CreateRuleRequest{
		CustomerERPID:       "CUST-1",
		MinDaysOld:          intPtr(30),
		MaxDaysOld:          intPtr(60),
		MinDaysSincePayment: intPtr(30),
		CombineMode:         domain.CombineOr,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	result, err := svc.RunRules(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Created != 1 || result.Linked != 2 {
		t.Fatalf("expected the aged and the past-threshold invoices, got %+v", result)
	}

	links := ticketLinks(t, conn)
	for _, refs := range links {
		if len(refs) != 2 || refs[0] != "INV-AGED" || refs[1] != "INV-OVERDUE" {
			t.Fatalf("unexpected links %v", refs)
		}
	}
}

func TestRunRulesSkipsCreditDocuments(t *testing.T) {
	svc, conn := newTestService(t, nil)
	seedCustomer(t, conn, "CUST-1", "Northwind Traders")

	invoiceDate := time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC)
	credit := invoicedomain.Invoice{
		ID:              nextSeedID(),
		ReferenceNumber: "CM-1",
		CustomerERPID:   "CUST-1",
		Type:            invoicedomain.TypeCreditMemo,
		Status:          invoicedomain.StatusOpen,
		InvoiceDate:     &invoiceDate,
		Amount:          40,
		Balance:         40,
		ColorStatus:     invoicedomain.ColorGreen,
		CreatedAt:       ruleToday,
		UpdatedAt:       ruleToday,
	}
	if err := conn.Create(&credit).Error; err != nil {
		t.Fatalf("seed credit memo: %v", err)
	}

	createAgeRule(t, svc, "CUST-1", 30, 60)

	result, err := svc.RunRules(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Created != 0 {
		t.Fatalf("credit memos must not open tickets, got %+v", result)
	}
}

func TestRunRulesNotifiesWebhookOnCreate(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := webhook.NewHTTP(config.WebhookConfig{URL: srv.URL, Channel: "#collections"})
	svc, conn := newTestService(t, notifier)
	seedCustomer(t, conn, "CUST-1", "Northwind Traders")
	seedOpenInvoice(t, conn, "CUST-1", "INV-1", time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC), nil)
	createAgeRule(t, svc, "CUST-1", 30, 60)

	if _, err := svc.RunRules(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := svc.RunRules(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(bodies))
	}
	if !strings.Contains(bodies[0], "Northwind Traders") || !strings.Contains(bodies[0], "#collections") {
		t.Fatalf("unexpected notification body %s", bodies[0])
	}
}

func TestRuleLifecycle(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	rule := createAgeRule(t, svc, "CUST-1", 30, 60)

	loaded, err := svc.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.CustomerERPID != "CUST-1" || !loaded.Active {
		t.Fatalf("unexpected rule %+v", loaded)
	}

	resp, err := svc.ListRules(ctx, domain.ListRuleRequest{CustomerERPID: "CUST-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Rules) != 1 {
		t.Fatalf("expected one rule, got %d", len(resp.Rules))
	}

	updated, err := svc.UpdateRule(ctx, domain.UpdateRuleRequest{
		ID:         rule.ID,
		MinDaysOld: intPtr(45),
		MaxDaysOld: intPtr(90),
		Active:     false,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Active || *updated.MinDaysOld != 45 {
		t.Fatalf("update not applied: %+v", updated)
	}

	// inactive rules never run
	result, err := svc.RunRules(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Evaluated != 0 {
		t.Fatalf("inactive rule should not evaluate, got %+v", result)
	}

	if err := svc.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteRule(ctx, rule.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := svc.GetRule(ctx, rule.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
