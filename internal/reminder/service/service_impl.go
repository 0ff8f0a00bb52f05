package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/collectra/internal/audit/domain"
	"github.com/smallbiznis/collectra/internal/clock"
	customerdomain "github.com/smallbiznis/collectra/internal/customer/domain"
	identitydomain "github.com/smallbiznis/collectra/internal/identity/domain"
	"github.com/smallbiznis/collectra/internal/observability/metrics"
	"github.com/smallbiznis/collectra/internal/providers/email"
	"github.com/smallbiznis/collectra/internal/reminder/domain"
	statementdomain "github.com/smallbiznis/collectra/internal/statement/domain"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

// claimBatchSize bounds one delivery pass; the job runs every minute, so a
// backlog drains quickly without a single pass holding claims for long.
const claimBatchSize = 50

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Repo         domain.Repository
	IdentityRepo identitydomain.Repository
	CustomerRepo customerdomain.Repository
	Email        email.Provider
	Statement    statementdomain.Service
	AuditSvc     auditdomain.Service `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	identityRepo identitydomain.Repository
	customerRepo customerdomain.Repository
	email        email.Provider
	statement    statementdomain.Service
	auditSvc     auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reminder.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		identityRepo: p.IdentityRepo,
		customerRepo: p.CustomerRepo,
		email:        p.Email,
		statement:    p.Statement,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateReminderRequest) (*domain.Reminder, error) {
	if req.OwnerID == 0 {
		return nil, domain.ErrInvalidOwner
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}
	if req.DueAt.IsZero() {
		return nil, domain.ErrInvalidDueAt
	}

	customerERPID := strings.TrimSpace(req.CustomerERPID)
	if customerERPID != "" {
		customer, err := s.customerRepo.FindByERPID(ctx, s.db, customerERPID)
		if err != nil {
			return nil, err
		}
		if customer == nil {
			return nil, domain.ErrCustomerNotFound
		}
	}

	now := s.clock.Now()
	reminder := &domain.Reminder{
		ID:            s.genID.Generate(),
		OwnerID:       req.OwnerID,
		CustomerERPID: customerERPID,
		TicketID:      req.TicketID,
		Title:         title,
		Body:          strings.TrimSpace(req.Body),
		DueAt:         req.DueAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, reminder); err != nil {
		return nil, err
	}

	s.audit(ctx, "reminder.created", reminder.ID, map[string]any{
		"owner_id":        reminder.OwnerID.String(),
		"customer_erp_id": reminder.CustomerERPID,
		"due_at":          reminder.DueAt.Format(time.RFC3339),
	})
	return reminder, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Reminder, error) {
	reminder, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if reminder == nil {
		return nil, domain.ErrNotFound
	}
	return reminder, nil
}

func (s *Service) List(ctx context.Context, req domain.ListReminderRequest) (domain.ListReminderResponse, error) {
	var resp domain.ListReminderResponse

	filter := domain.ListReminderFilter{
		OwnerID:          req.OwnerID,
		CustomerERPID:    strings.TrimSpace(req.CustomerERPID),
		IncludeCompleted: req.IncludeCompleted,
		DueBefore:        req.DueBefore,
	}

	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return resp, err
	}

	limit := req.Limit()
	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), func(reminder *domain.Reminder) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        reminder.ID.String(),
			CreatedAt: reminder.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	items = pagination.TrimPage(items, limit)

	resp.PageInfo = *pageInfo
	resp.Reminders = make([]domain.Reminder, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Reminders = append(resp.Reminders, *item)
	}
	return resp, nil
}

func (s *Service) Complete(ctx context.Context, id snowflake.ID) (*domain.Reminder, error) {
	reminder, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if reminder == nil {
		return nil, domain.ErrNotFound
	}
	if reminder.CompletedAt != nil {
		return reminder, nil
	}

	now := s.clock.Now()
	reminder.CompletedAt = &now
	reminder.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, reminder); err != nil {
		return nil, err
	}

	s.audit(ctx, "reminder.completed", reminder.ID, nil)
	return reminder, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	removed, err := s.repo.Delete(ctx, s.db, id)
	if err != nil {
		return err
	}
	if removed == 0 {
		return domain.ErrNotFound
	}

	s.audit(ctx, "reminder.deleted", id, nil)
	return nil
}

func (s *Service) ProcessDue(ctx context.Context) (*domain.ProcessDueResult, error) {
	if !s.email.Enabled() {
		// Configuration problem: nothing gets claimed, so no reminder is
		// marked sent without a mail actually going out.
		s.log.Error("smtp is not configured, reminder delivery disabled")
		metrics.Collection().IncCollectionStageError(metrics.CollectionStageReminderSend, domain.ErrEmailNotConfigured)
		return nil, domain.ErrEmailNotConfigured
	}

	now := s.clock.Now()
	claimStart := time.Now()
	claimed, err := s.repo.ClaimDue(ctx, s.db, now, claimBatchSize)
	metrics.Collection().ObserveDBLockWait(metrics.LockResourceRemindersForWork, time.Since(claimStart))
	if err != nil {
		metrics.Collection().IncCollectionStageError(metrics.CollectionStageReminderClaim, err)
		return nil, fmt.Errorf("claim due reminders: %w", err)
	}

	result := &domain.ProcessDueResult{Claimed: len(claimed)}
	for _, reminder := range claimed {
		s.deliverReminder(ctx, reminder, result)
	}

	if result.Claimed > 0 {
		s.log.Info("processed due reminders",
			zap.Int("claimed", result.Claimed),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

func (s *Service) deliverReminder(ctx context.Context, reminder *domain.Reminder, result *domain.ProcessDueResult) {
	logRow := &domain.ScheduledEmailLog{
		ID:            s.genID.Generate(),
		Kind:          domain.EmailKindReminder,
		Subject:       fmt.Sprintf("Reminder: %s", reminder.Title),
		TicketID:      reminder.TicketID,
		CustomerERPID: reminder.CustomerERPID,
		CreatedAt:     s.clock.Now(),
	}

	owner, err := s.identityRepo.FindByID(ctx, s.db, reminder.OwnerID)
	if err != nil {
		s.failDelivery(ctx, reminder, logRow, result, err)
		return
	}
	if owner == nil || strings.TrimSpace(owner.Email) == "" {
		// Not retryable: the claim stays so the row does not spin every
		// minute; the log row records why nothing went out.
		logRow.Status = domain.EmailStatusSkipped
		logRow.Error = "owner_missing_email"
		result.Skipped++
		s.insertEmailLog(ctx, logRow)
		s.log.Warn("reminder owner has no email",
			zap.String("reminder_id", reminder.ID.String()),
			zap.String("owner_id", reminder.OwnerID.String()),
		)
		return
	}

	logRow.Recipient = owner.Email

	start := time.Now()
	sendErr := s.email.Send(ctx, []string{owner.Email}, logRow.Subject, reminderBody(reminder))
	logRow.DurationMS = time.Since(start).Milliseconds()

	if sendErr != nil {
		s.failDelivery(ctx, reminder, logRow, result, sendErr)
		return
	}

	logRow.Status = domain.EmailStatusSent
	result.Sent++
	s.insertEmailLog(ctx, logRow)
}

// failDelivery releases the claim so the next pass retries, and records the
// attempt.
func (s *Service) failDelivery(ctx context.Context, reminder *domain.Reminder, logRow *domain.ScheduledEmailLog, result *domain.ProcessDueResult, cause error) {
	metrics.Collection().IncCollectionStageError(metrics.CollectionStageReminderSend, cause)

	logRow.Status = domain.EmailStatusFailed
	logRow.Error = cause.Error()
	result.Failed++
	s.insertEmailLog(ctx, logRow)

	if err := s.repo.ClearNotified(ctx, s.db, reminder.ID, s.clock.Now()); err != nil {
		s.log.Error("failed to release reminder claim",
			zap.String("reminder_id", reminder.ID.String()),
			zap.Error(err),
		)
	}
	s.log.Warn("reminder delivery failed",
		zap.String("reminder_id", reminder.ID.String()),
		zap.Error(cause),
	)
}

func (s *Service) SendOverdueNotice(ctx context.Context, req domain.SendOverdueNoticeRequest) (*domain.ScheduledEmailLog, error) {
	if !s.email.Enabled() {
		return nil, domain.ErrEmailNotConfigured
	}
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" || !strings.Contains(recipient, "@") {
		return nil, domain.ErrInvalidRecipient
	}

	stmt, err := s.statement.Render(ctx, req.CustomerERPID)
	if err != nil {
		if errors.Is(err, statementdomain.ErrCustomerNotFound) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, err
	}

	logRow := &domain.ScheduledEmailLog{
		ID:            s.genID.Generate(),
		Kind:          domain.EmailKindOverdueNotice,
		Recipient:     recipient,
		Subject:       fmt.Sprintf("Overdue notice for %s", stmt.CustomerName),
		CustomerERPID: stmt.CustomerERPID,
		CreatedAt:     s.clock.Now(),
	}

	attachment := email.Attachment{
		Filename: stmt.Filename,
		MIME:     "application/pdf",
		Data:     stmt.PDF,
	}

	start := time.Now()
	sendErr := s.email.SendWithAttachment(ctx, []string{recipient}, logRow.Subject, overdueNoticeBody(stmt, req.Message), attachment)
	logRow.DurationMS = time.Since(start).Milliseconds()

	if sendErr != nil {
		metrics.Collection().IncCollectionStageError(metrics.CollectionStageReminderSend, sendErr)
		logRow.Status = domain.EmailStatusFailed
		logRow.Error = sendErr.Error()
		s.insertEmailLog(ctx, logRow)
		return nil, fmt.Errorf("send overdue notice: %w", sendErr)
	}

	logRow.Status = domain.EmailStatusSent
	s.insertEmailLog(ctx, logRow)

	now := s.clock.Now()
	if _, err := s.customerRepo.TouchLastContacted(ctx, s.db, stmt.CustomerERPID, now); err != nil {
		s.log.Warn("failed to stamp last contact",
			zap.String("customer_erp_id", stmt.CustomerERPID),
			zap.Error(err),
		)
	}

	s.audit(ctx, "customer.overdue_notice_sent", logRow.ID, map[string]any{
		"customer_erp_id": stmt.CustomerERPID,
		"email":           recipient,
	})
	return logRow, nil
}

func (s *Service) ListEmailLogs(ctx context.Context, req domain.ListEmailLogRequest) (domain.ListEmailLogResponse, error) {
	var resp domain.ListEmailLogResponse

	filter := domain.EmailLogFilter{
		Kind:          req.Kind,
		Status:        req.Status,
		CustomerERPID: strings.TrimSpace(req.CustomerERPID),
	}

	items, err := s.repo.ListEmailLogs(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return resp, err
	}

	limit := req.Limit()
	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), func(row *domain.ScheduledEmailLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        row.ID.String(),
			CreatedAt: row.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	items = pagination.TrimPage(items, limit)

	resp.PageInfo = *pageInfo
	resp.Logs = make([]domain.ScheduledEmailLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Logs = append(resp.Logs, *item)
	}
	return resp, nil
}

func (s *Service) insertEmailLog(ctx context.Context, logRow *domain.ScheduledEmailLog) {
	if err := s.repo.InsertEmailLog(ctx, s.db, logRow); err != nil {
		s.log.Error("failed to record email attempt",
			zap.String("kind", string(logRow.Kind)),
			zap.Error(err),
		)
	}
}

func (s *Service) audit(ctx context.Context, action string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := targetID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "reminders", &target, metadata); err != nil {
		s.log.Warn("failed to audit reminder change", zap.String("action", action), zap.Error(err))
	}
}

func reminderBody(reminder *domain.Reminder) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString(fmt.Sprintf("<h3>%s</h3>", html.EscapeString(reminder.Title)))
	if reminder.Body != "" {
		b.WriteString(fmt.Sprintf("<p>%s</p>", html.EscapeString(reminder.Body)))
	}
	if reminder.CustomerERPID != "" {
		b.WriteString(fmt.Sprintf("<p>Customer: %s</p>", html.EscapeString(reminder.CustomerERPID)))
	}
	b.WriteString(fmt.Sprintf("<p>Due: %s</p>", reminder.DueAt.UTC().Format("2006-01-02 15:04")))
	b.WriteString("</body></html>")
	return b.String()
}

func overdueNoticeBody(stmt *statementdomain.Statement, message string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString(fmt.Sprintf("<p>Dear %s,</p>", html.EscapeString(stmt.CustomerName)))
	if msg := strings.TrimSpace(message); msg != "" {
		b.WriteString(fmt.Sprintf("<p>%s</p>", html.EscapeString(msg)))
	}
	b.WriteString(fmt.Sprintf("<p>Your account has an outstanding balance of %.2f. The attached statement lists every open item.</p>", stmt.TotalBalance))
	b.WriteString("<p>Please disregard this notice if payment is already on its way.</p>")
	b.WriteString("</body></html>")
	return b.String()
}
