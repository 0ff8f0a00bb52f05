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
	identitydomain "github.com/smallbiznis/collectra/internal/identity/domain"
	identityrepo "github.com/smallbiznis/collectra/internal/identity/repository"
	invoicedomain "github.com/smallbiznis/collectra/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/collectra/internal/invoice/repository"
	"github.com/smallbiznis/collectra/internal/providers/email"
	"github.com/smallbiznis/collectra/internal/providers/pdf"
	"github.com/smallbiznis/collectra/internal/reminder/domain"
	reminderrepo "github.com/smallbiznis/collectra/internal/reminder/repository"
	statementservice "github.com/smallbiznis/collectra/internal/statement/service"
	"github.com/smallbiznis/collectra/pkg/db"
)

var reminderNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type sentMail struct {
	to         []string
	subject    string
	body       string
	attachment *email.Attachment
}

type emailSpy struct {
	enabled bool
	fail    bool
	sent    []sentMail
}

func (p *emailSpy) Enabled() bool { return p.enabled }

func (p *emailSpy) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if p.fail {
		return errors.New("smtp handshake failed")
	}
	p.sent = append(p.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func (p *emailSpy) SendWithAttachment(ctx context.Context, to []string, subject string, htmlBody string, attachment email.Attachment) error {
	if p.fail {
		return errors.New("smtp handshake failed")
	}
	p.sent = append(p.sent, sentMail{to: to, subject: subject, body: htmlBody, attachment: &attachment})
	return nil
}

type stubPDF struct{}

func (stubPDF) GenerateStatement(ctx context.Context, data pdf.StatementData) (io.Reader, error) {
	return strings.NewReader("%PDF-1.4 stub"), nil
}

func newTestService(t *testing.T, mailer email.Provider) (domain.Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&domain.Reminder{},
		&domain.ScheduledEmailLog{},
		&identitydomain.Profile{},
		&customerdomain.Customer{},
		&invoicedomain.Invoice{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fake := clock.NewFakeClock(reminderNow)

	statementSvc := statementservice.New(statementservice.Params{
		DB:           conn,
		Log:          zap.NewNop(),
		Clock:        fake,
		CustomerRepo: customerrepo.Provide(),
		InvoiceRepo:  invoicerepo.Provide(),
		PDF:          stubPDF{},
	})

	svc := New(Params{
		DB:           conn,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        fake,
		Repo:         reminderrepo.Provide(),
		IdentityRepo: identityrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
		Email:        mailer,
		Statement:    statementSvc,
	})
	return svc, fake, conn
}

func seedCollector(t *testing.T, conn *gorm.DB, id int64, emailAddr string) snowflake.ID {
	t.Helper()
	profile := &identitydomain.Profile{
		ID:       snowflake.ID(id),
		UserID:   "auth0|" + snowflake.ID(id).String(),
		Email:    emailAddr,
		FullName: "Collector",
		Role:     identitydomain.RoleCollector,
		Status:   identitydomain.StatusApproved,
	}
	if err := conn.Create(profile).Error; err != nil {
		t.Fatalf("seed collector: %v", err)
	}
	return profile.ID
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

func seedOpenInvoice(t *testing.T, conn *gorm.DB, id int64, customerERPID, reference string, balance float64, due time.Time) {
	t.Helper()
	invoiceDate := due.AddDate(0, 0, -30)
	if err := conn.Create(&invoicedomain.Invoice{
		ID:              snowflake.ID(id),
		ReferenceNumber: reference,
		CustomerERPID:   customerERPID,
		Type:            invoicedomain.TypeInvoice,
		Status:          invoicedomain.StatusOpen,
		InvoiceDate:     &invoiceDate,
		DueDate:         &due,
		Amount:          balance,
		Balance:         balance,
		ColorStatus:     invoicedomain.ColorGreen,
	}).Error; err != nil {
		t.Fatalf("seed invoice %s: %v", reference, err)
	}
}

func createReminder(t *testing.T, svc domain.Service, owner snowflake.ID, title string, dueAt time.Time) *domain.Reminder {
	t.Helper()
	reminder, err := svc.Create(context.Background(), domain.CreateReminderRequest{
		OwnerID: owner,
		Title:   title,
		DueAt:   dueAt,
	})
	if err != nil {
		t.Fatalf("create reminder %q: %v", title, err)
	}
	return reminder
}

func TestCreateReminderValidates(t *testing.T) {
	svc, _, _ := newTestService(t, &emailSpy{enabled: true})
	ctx := context.Background()

	if _, err := svc.Create(ctx, domain.CreateReminderRequest{Title: "call", DueAt: reminderNow}); !errors.Is(err, domain.ErrInvalidOwner) {
		t.Fatalf("missing owner err = %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateReminderRequest{OwnerID: 7, Title: "   ", DueAt: reminderNow}); !errors.Is(err, domain.ErrInvalidTitle) {
		t.Fatalf("blank title err = %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateReminderRequest{OwnerID: 7, Title: "call"}); !errors.Is(err, domain.ErrInvalidDueAt) {
		t.Fatalf("zero due err = %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateReminderRequest{OwnerID: 7, Title: "call", DueAt: reminderNow, CustomerERPID: "CUST-GHOST"}); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("unknown customer err = %v", err)
	}
}

func TestReminderLifecycle(t *testing.T) {
	svc, _, conn := newTestService(t, &emailSpy{enabled: true})
	ctx := context.Background()

	owner := seedCollector(t, conn, 100, "collector@example.com")
	reminder := createReminder(t, svc, owner, "Call about invoice 0001001", reminderNow.Add(time.Hour))

	got, err := svc.Get(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Call about invoice 0001001" {
		t.Fatalf("title = %q", got.Title)
	}

	listed, err := svc.List(ctx, domain.ListReminderRequest{OwnerID: &owner})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed.Reminders) != 1 {
		t.Fatalf("pending list = %d rows", len(listed.Reminders))
	}

	completed, err := svc.Complete(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.CompletedAt == nil {
		t.Fatal("expected completed_at set")
	}
	// Completing twice keeps the original stamp.
	again, err := svc.Complete(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("complete twice: %v", err)
	}
	if !again.CompletedAt.Equal(*completed.CompletedAt) {
		t.Fatalf("completed_at moved on second call")
	}

	listed, err = svc.List(ctx, domain.ListReminderRequest{OwnerID: &owner})
	if err != nil {
		t.Fatalf("list after complete: %v", err)
	}
	if len(listed.Reminders) != 0 {
		t.Fatalf("pending list after complete = %d rows", len(listed.Reminders))
	}
	listed, err = svc.List(ctx, domain.ListReminderRequest{OwnerID: &owner, IncludeCompleted: true})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(listed.Reminders) != 1 {
		t.Fatalf("full list = %d rows", len(listed.Reminders))
	}

	if err := svc.Delete(ctx, reminder.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, reminder.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
	if _, err := svc.Get(ctx, reminder.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
}

func TestProcessDueSendsAndLogs(t *testing.T) {
	spy := &emailSpy{enabled: true}
	svc, fake, conn := newTestService(t, spy)
	ctx := context.Background()

	owner := seedCollector(t, conn, 101, "collector@example.com")
	createReminder(t, svc, owner, "Chase CUST-0001", reminderNow.Add(-2*time.Hour))
	createReminder(t, svc, owner, "Chase CUST-0002", reminderNow.Add(-time.Hour))
	createReminder(t, svc, owner, "Not due yet", reminderNow.Add(time.Hour))

	result, err := svc.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if result.Claimed != 2 || result.Sent != 2 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(spy.sent) != 2 {
		t.Fatalf("sent %d mails", len(spy.sent))
	}
	if spy.sent[0].to[0] != "collector@example.com" {
		t.Fatalf("recipient = %v", spy.sent[0].to)
	}
	// Oldest due first.
	if !strings.Contains(spy.sent[0].subject, "Chase CUST-0001") {
		t.Fatalf("first subject = %q", spy.sent[0].subject)
	}

	var logs []domain.ScheduledEmailLog
	if err := conn.Order("created_at asc, id asc").Find(&logs).Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("log rows = %d", len(logs))
	}
	for _, row := range logs {
		if row.Status != domain.EmailStatusSent || row.Kind != domain.EmailKindReminder {
			t.Fatalf("log row = %+v", row)
		}
		if row.Recipient != "collector@example.com" {
			t.Fatalf("log recipient = %q", row.Recipient)
		}
	}

	// A second pass claims nothing: sent rows stay claimed.
	fake.Advance(time.Minute)
	result, err = svc.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if result.Claimed != 0 {
		t.Fatalf("second pass claimed %d", result.Claimed)
	}
	if len(spy.sent) != 2 {
		t.Fatalf("second pass re-sent mail, total %d", len(spy.sent))
	}
}

func TestProcessDueAbortsWithoutSMTP(t *testing.T) {
	svc, _, conn := newTestService(t, &email.DisabledProvider{})
	ctx := context.Background()

	owner := seedCollector(t, conn, 104, "collector@example.com")
	reminder := createReminder(t, svc, owner, "Due with no smtp", reminderNow.Add(-time.Minute))

	if _, err := svc.ProcessDue(ctx); !errors.Is(err, domain.ErrEmailNotConfigured) {
		t.Fatalf("err = %v, want ErrEmailNotConfigured", err)
	}

	var logCount int64
	if err := conn.Model(&domain.ScheduledEmailLog{}).Count(&logCount).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if logCount != 0 {
		t.Fatalf("log rows = %d, want 0", logCount)
	}

	var row domain.Reminder
	if err := conn.Where("id = ?", reminder.ID).First(&row).Error; err != nil {
		t.Fatalf("reload reminder: %v", err)
	}
	if row.NotifiedAt != nil {
		t.Fatal("nothing should be claimed when smtp is missing")
	}
}

func TestProcessDueRetriesFailedSend(t *testing.T) {
	spy := &emailSpy{enabled: true, fail: true}
	svc, fake, conn := newTestService(t, spy)
	ctx := context.Background()

	owner := seedCollector(t, conn, 102, "collector@example.com")
	reminder := createReminder(t, svc, owner, "Flaky delivery", reminderNow.Add(-time.Minute))

	result, err := svc.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if result.Claimed != 1 || result.Failed != 1 || result.Sent != 0 {
		t.Fatalf("result = %+v", result)
	}

	var failedLog domain.ScheduledEmailLog
	if err := conn.Where("status = ?", domain.EmailStatusFailed).First(&failedLog).Error; err != nil {
		t.Fatalf("load failed log: %v", err)
	}
	if failedLog.Error == "" || failedLog.Kind != domain.EmailKindReminder {
		t.Fatalf("failed log = %+v", failedLog)
	}

	var row domain.Reminder
	if err := conn.Where("id = ?", reminder.ID).First(&row).Error; err != nil {
		t.Fatalf("reload reminder: %v", err)
	}
	if row.NotifiedAt != nil {
		t.Fatal("claim should be released after a failed send")
	}

	// The next pass picks the row up again once delivery works.
	spy.fail = false
	fake.Advance(time.Minute)
	result, err = svc.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("retry pass: %v", err)
	}
	if result.Claimed != 1 || result.Sent != 1 {
		t.Fatalf("retry result = %+v", result)
	}
}

func TestProcessDueSkipsOwnerWithoutEmail(t *testing.T) {
	spy := &emailSpy{enabled: true}
	svc, fake, conn := newTestService(t, spy)
	ctx := context.Background()

	owner := seedCollector(t, conn, 103, "")
	createReminder(t, svc, owner, "No mailbox", reminderNow.Add(-time.Minute))

	result, err := svc.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if result.Claimed != 1 || result.Skipped != 1 || result.Sent != 0 {
		t.Fatalf("result = %+v", result)
	}

	var skipped domain.ScheduledEmailLog
	if err := conn.Where("status = ?", domain.EmailStatusSkipped).First(&skipped).Error; err != nil {
		t.Fatalf("load skipped log: %v", err)
	}
	if skipped.Error != "owner_missing_email" {
		t.Fatalf("skipped log error = %q", skipped.Error)
	}

	// The claim sticks: a missing mailbox is not transient.
	fake.Advance(time.Minute)
	result, err = svc.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if result.Claimed != 0 {
		t.Fatalf("second pass claimed %d", result.Claimed)
	}
}

func TestSendOverdueNoticeAttachesStatement(t *testing.T) {
	spy := &emailSpy{enabled: true}
	svc, _, conn := newTestService(t, spy)
	ctx := context.Background()

	seedCustomer(t, conn, 200, "CUST-0001", "Northwind Traders")
	seedOpenInvoice(t, conn, 201, "CUST-0001", "0001001", 1250.50, reminderNow.AddDate(0, 0, -45))

	logRow, err := svc.SendOverdueNotice(ctx, domain.SendOverdueNoticeRequest{
		CustomerERPID: "CUST-0001",
		Recipient:     "ap@northwind.example",
		Message:       "Please arrange payment this week.",
	})
	if err != nil {
		t.Fatalf("send overdue notice: %v", err)
	}
	if logRow.Status != domain.EmailStatusSent || logRow.Kind != domain.EmailKindOverdueNotice {
		t.Fatalf("log row = %+v", logRow)
	}

	if len(spy.sent) != 1 {
		t.Fatalf("sent %d mails", len(spy.sent))
	}
	mail := spy.sent[0]
	if mail.to[0] != "ap@northwind.example" {
		t.Fatalf("recipient = %v", mail.to)
	}
	if !strings.Contains(mail.subject, "Northwind Traders") {
		t.Fatalf("subject = %q", mail.subject)
	}
	if !strings.Contains(mail.body, "1250.50") {
		t.Fatalf("body lacks balance: %q", mail.body)
	}
	if !strings.Contains(mail.body, "Please arrange payment this week.") {
		t.Fatalf("body lacks manager message: %q", mail.body)
	}
	if mail.attachment == nil || mail.attachment.MIME != "application/pdf" {
		t.Fatalf("attachment = %+v", mail.attachment)
	}
	if mail.attachment.Filename != "statement-CUST-0001-20250310.pdf" {
		t.Fatalf("attachment filename = %q", mail.attachment.Filename)
	}

	var customer customerdomain.Customer
	if err := conn.Where("erp_id = ?", "CUST-0001").First(&customer).Error; err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if customer.LastContactedAt == nil {
		t.Fatal("expected last_contacted_at stamped")
	}
}

func TestSendOverdueNoticeValidates(t *testing.T) {
	spy := &emailSpy{enabled: true}
	svc, _, conn := newTestService(t, spy)
	ctx := context.Background()

	seedCustomer(t, conn, 300, "CUST-0002", "Fabrikam")

	if _, err := svc.SendOverdueNotice(ctx, domain.SendOverdueNoticeRequest{CustomerERPID: "CUST-0002", Recipient: "not-an-address"}); !errors.Is(err, domain.ErrInvalidRecipient) {
		t.Fatalf("bad recipient err = %v", err)
	}
	if _, err := svc.SendOverdueNotice(ctx, domain.SendOverdueNoticeRequest{CustomerERPID: "CUST-GHOST", Recipient: "ap@example.com"}); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("unknown customer err = %v", err)
	}

	disabled, _, _ := newTestService(t, &emailSpy{enabled: false})
	if _, err := disabled.SendOverdueNotice(ctx, domain.SendOverdueNoticeRequest{CustomerERPID: "CUST-0002", Recipient: "ap@example.com"}); !errors.Is(err, domain.ErrEmailNotConfigured) {
		t.Fatalf("disabled provider err = %v", err)
	}
}
