package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/clock"
	invoicedomain "github.com/smallbiznis/collectra/internal/invoice/domain"
	"github.com/smallbiznis/collectra/internal/ticket/domain"
	"github.com/smallbiznis/collectra/internal/ticket/repository"
	"github.com/smallbiznis/collectra/pkg/db"
)

func newTestService(t *testing.T, clk clock.Clock) (domain.Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&domain.Ticket{},
		&domain.TicketInvoice{},
		&domain.TicketNote{},
		&invoicedomain.Invoice{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	if clk == nil {
		clk = clock.New()
	}

	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, conn
}

func createTicket(t *testing.T, svc domain.Service, customerERPID string) *domain.Ticket {
	t.Helper()
	ticket, err := svc.Create(context.Background(), domain.CreateTicketRequest{
		CustomerERPID: customerERPID,
		Subject:       "Past due balance",
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, clock.NewFakeClock(base))

	first := createTicket(t, svc, "CUST-1")
	second := createTicket(t, svc, "CUST-1")

	if first.Number != "T-20240315-0001" {
		t.Fatalf("unexpected first number %s", first.Number)
	}
	if second.Number != "T-20240315-0002" {
		t.Fatalf("unexpected second number %s", second.Number)
	}
	if first.Status != domain.TicketStatusOpen {
		t.Fatalf("new ticket should be open, got %s", first.Status)
	}
}

func TestCreateResumesSequenceFromExistingRows(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(base)
	svc, conn := newTestService(t, clk)

	// a row from an earlier process run
	seed := domain.Ticket{
		ID:            999,
		Number:        "T-20240315-0007",
		CustomerERPID: "CUST-1",
		Status:        domain.TicketStatusOpen,
		Priority:      domain.TicketPriorityNormal,
		Type:          domain.TicketTypeCollection,
		Subject:       "carried over",
	}
	if err := conn.Create(&seed).Error; err != nil {
		t.Fatalf("seed ticket: %v", err)
	}

	ticket := createTicket(t, svc, "CUST-1")
	if ticket.Number != "T-20240315-0008" {
		t.Fatalf("sequence should resume after the max row, got %s", ticket.Number)
	}
}

func TestCreateRollsSequencePerDay(t *testing.T) {
	base := time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(base)
	svc, _ := newTestService(t, clk)

	createTicket(t, svc, "CUST-1")
	clk.Advance(2 * time.Hour) // past midnight

	next := createTicket(t, svc, "CUST-1")
	if next.Number != "T-20240316-0001" {
		t.Fatalf("sequence should reset on a new day, got %s", next.Number)
	}
}

func TestCreateValidates(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, domain.CreateTicketRequest{Subject: "x"}); err != domain.ErrInvalidCustomer {
		t.Fatalf("expected ErrInvalidCustomer, got %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateTicketRequest{CustomerERPID: "CUST-1"}); err != domain.ErrInvalidSubject {
		t.Fatalf("expected ErrInvalidSubject, got %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateTicketRequest{CustomerERPID: "CUST-1", Subject: "x", Priority: "asap"}); err != domain.ErrInvalidPriority {
		t.Fatalf("expected ErrInvalidPriority, got %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateTicketRequest{CustomerERPID: "CUST-1", Subject: "x", Type: "meta"}); err != domain.ErrInvalidType {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateTicketRequest{CustomerERPID: "CUST-1", Subject: "x", InvoiceReferences: []string{" "}}); err != domain.ErrInvalidReference {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestChangeStatusFollowsTransitionTable(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	ticket := createTicket(t, svc, "CUST-1")

	// open -> pending -> promised -> paid -> closed walks the happy path
	for _, next := range []domain.TicketStatus{
		domain.TicketStatusPending,
		domain.TicketStatusPromised,
		domain.TicketStatusPaid,
		domain.TicketStatusClosed,
	} {
		updated, err := svc.ChangeStatus(ctx, domain.ChangeStatusRequest{ID: ticket.ID, Status: next})
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if updated.Status != next {
			t.Fatalf("expected %s, got %s", next, updated.Status)
		}
	}

	// closed tickets may only reopen
	if _, err := svc.ChangeStatus(ctx, domain.ChangeStatusRequest{ID: ticket.ID, Status: domain.TicketStatusPaid}); err != domain.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	reopened, err := svc.ChangeStatus(ctx, domain.ChangeStatusRequest{ID: ticket.ID, Status: domain.TicketStatusOpen})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.ClosedAt != nil {
		t.Fatalf("reopen must clear closed_at")
	}
}

func TestChangeStatusStampsClosedAt(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, clock.NewFakeClock(base))
	ctx := context.Background()

	ticket := createTicket(t, svc, "CUST-1")
	closed, err := svc.ChangeStatus(ctx, domain.ChangeStatusRequest{ID: ticket.ID, Status: domain.TicketStatusClosed})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ClosedAt == nil || !closed.ClosedAt.Equal(base) {
		t.Fatalf("closed_at not stamped, got %v", closed.ClosedAt)
	}
}

func TestChangeStatusWritesNote(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	ticket := createTicket(t, svc, "CUST-1")
	if _, err := svc.ChangeStatus(ctx, domain.ChangeStatusRequest{
		ID:     ticket.ID,
		Status: domain.TicketStatusPending,
		Note:   "left a voicemail",
	}); err != nil {
		t.Fatalf("change status: %v", err)
	}

	detail, err := svc.Get(ctx, domain.GetTicketRequest{ID: ticket.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(detail.Notes) != 1 || detail.Notes[0].Body != "left a voicemail" {
		t.Fatalf("status note missing: %+v", detail.Notes)
	}
}

func TestSetPromiseDatePromotesPending(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, clock.NewFakeClock(base))
	ctx := context.Background()

	ticket := createTicket(t, svc, "CUST-1")
	if _, err := svc.ChangeStatus(ctx, domain.ChangeStatusRequest{ID: ticket.ID, Status: domain.TicketStatusPending}); err != nil {
		t.Fatalf("to pending: %v", err)
	}

	promise := base.AddDate(0, 0, 14)
	updated, err := svc.SetPromiseDate(ctx, domain.SetPromiseDateRequest{ID: ticket.ID, PromiseDate: promise})
	if err != nil {
		t.Fatalf("set promise: %v", err)
	}
	if updated.Status != domain.TicketStatusPromised {
		t.Fatalf("pending ticket should move to promised, got %s", updated.Status)
	}
	if updated.PromiseDate == nil || !updated.PromiseDate.Equal(promise) {
		t.Fatalf("promise date not stored: %v", updated.PromiseDate)
	}
}

func TestSetPromiseDateRejectsPast(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, clock.NewFakeClock(base))
	ctx := context.Background()

	ticket := createTicket(t, svc, "CUST-1")
	if _, err := svc.SetPromiseDate(ctx, domain.SetPromiseDateRequest{
		ID:          ticket.ID,
		PromiseDate: base.AddDate(0, 0, -1),
	}); err != domain.ErrInvalidPromiseDate {
		t.Fatalf("expected ErrInvalidPromiseDate, got %v", err)
	}
}

func TestAddNoteValidatesAttachment(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	ticket := createTicket(t, svc, "CUST-1")

	if _, err := svc.AddNote(ctx, domain.AddNoteRequest{TicketID: ticket.ID, Body: "  "}); err != domain.ErrInvalidNote {
		t.Fatalf("expected ErrInvalidNote, got %v", err)
	}

	// no storage service wired: any attachment path is rejected
	if _, err := svc.AddNote(ctx, domain.AddNoteRequest{
		TicketID:       ticket.ID,
		Body:           "see attached",
		AttachmentPath: "memo-attachments/1_letter.pdf",
	}); err != domain.ErrInvalidAttachment {
		t.Fatalf("expected ErrInvalidAttachment without storage, got %v", err)
	}

	note, err := svc.AddNote(ctx, domain.AddNoteRequest{TicketID: ticket.ID, Body: "called the AP desk"})
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if note.Body != "called the AP desk" {
		t.Fatalf("unexpected note body %q", note.Body)
	}
}

func TestLinkInvoicesDeduplicates(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	ticket := createTicket(t, svc, "CUST-1")

	links, err := svc.LinkInvoices(ctx, domain.LinkInvoicesRequest{
		TicketID:   ticket.ID,
		References: []string{"0001001", "0001002", "0001001"},
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}

	// linking again is a no-op
	links, err = svc.LinkInvoices(ctx, domain.LinkInvoicesRequest{
		TicketID:   ticket.ID,
		References: []string{"0001001"},
	})
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("relink must not duplicate, got %d links", len(links))
	}
}

func TestUnlinkInvoice(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	ticket := createTicket(t, svc, "CUST-1")
	if _, err := svc.LinkInvoices(ctx, domain.LinkInvoicesRequest{TicketID: ticket.ID, References: []string{"0001001"}}); err != nil {
		t.Fatalf("link: %v", err)
	}

	if err := svc.UnlinkInvoice(ctx, domain.UnlinkInvoiceRequest{TicketID: ticket.ID, Reference: "0001001"}); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := svc.UnlinkInvoice(ctx, domain.UnlinkInvoiceRequest{TicketID: ticket.ID, Reference: "0001001"}); err != domain.ErrNotFound {
		t.Fatalf("second unlink should be ErrNotFound, got %v", err)
	}
}

func TestUnlinkSettledRemovesClosedAndZeroBalance(t *testing.T) {
	svc, conn := newTestService(t, nil)
	ctx := context.Background()

	invoices := []invoicedomain.Invoice{
		{ID: 101, ReferenceNumber: "0001101", CustomerERPID: "CUST-1", Type: invoicedomain.TypeInvoice, Status: invoicedomain.StatusOpen, Balance: 100, ColorStatus: invoicedomain.ColorGreen},
		{ID: 102, ReferenceNumber: "0001102", CustomerERPID: "CUST-1", Type: invoicedomain.TypeInvoice, Status: invoicedomain.StatusClosed, Balance: 0, ColorStatus: invoicedomain.ColorGreen},
		{ID: 103, ReferenceNumber: "0001103", CustomerERPID: "CUST-1", Type: invoicedomain.TypeInvoice, Status: invoicedomain.StatusOpen, Balance: 0, ColorStatus: invoicedomain.ColorGreen},
	}
	for i := range invoices {
		if err := conn.Create(&invoices[i]).Error; err != nil {
			t.Fatalf("seed invoice: %v", err)
		}
	}

	ticket := createTicket(t, svc, "CUST-1")
	if _, err := svc.LinkInvoices(ctx, domain.LinkInvoicesRequest{
		TicketID:   ticket.ID,
		References: []string{"0001101", "0001102", "0001103"},
	}); err != nil {
		t.Fatalf("link: %v", err)
	}

	removed, err := svc.UnlinkSettled(ctx)
	if err != nil {
		t.Fatalf("unlink settled: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 settled links removed, got %d", removed)
	}

	detail, err := svc.Get(ctx, domain.GetTicketRequest{ID: ticket.ID})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(detail.Invoices) != 1 || detail.Invoices[0].InvoiceReference != "0001101" {
		t.Fatalf("only the open funded invoice should remain, got %+v", detail.Invoices)
	}

	// second sweep finds nothing
	removed, err = svc.UnlinkSettled(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("second sweep should remove nothing, got %d", removed)
	}
}

func TestListFiltersByStatusAndCollector(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	var collector snowflake.ID = 42
	for i := 0; i < 3; i++ {
		ticket := createTicket(t, svc, fmt.Sprintf("CUST-%d", i))
		if i == 0 {
			if _, err := svc.Assign(ctx, domain.AssignTicketRequest{ID: ticket.ID, CollectorID: collector}); err != nil {
				t.Fatalf("assign: %v", err)
			}
		}
	}

	resp, err := svc.List(ctx, domain.ListTicketRequest{CollectorID: &collector})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Tickets) != 1 {
		t.Fatalf("expected 1 assigned ticket, got %d", len(resp.Tickets))
	}

	resp, err = svc.List(ctx, domain.ListTicketRequest{Status: domain.TicketStatusOpen})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(resp.Tickets) != 3 {
		t.Fatalf("expected 3 open tickets, got %d", len(resp.Tickets))
	}
}
