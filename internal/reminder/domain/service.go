package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type CreateReminderRequest struct {
	OwnerID       snowflake.ID  `json:"owner_id"`
	CustomerERPID string        `json:"customer_erp_id"`
	TicketID      *snowflake.ID `json:"ticket_id"`
	Title         string        `json:"title"`
	Body          string        `json:"body"`
	DueAt         time.Time     `json:"due_at"`
}

type ListReminderRequest struct {
	pagination.Pagination
	OwnerID          *snowflake.ID
	CustomerERPID    string
	IncludeCompleted bool
	DueBefore        *time.Time
}

type ListReminderResponse struct {
	pagination.PageInfo
	Reminders []Reminder `json:"reminders"`
}

// ProcessDueResult summarizes one delivery pass over due reminders.
type ProcessDueResult struct {
	Claimed int
	Sent    int
	Failed  int
	Skipped int
}

// SendOverdueNoticeRequest is a manager-triggered statement email to a
// customer contact.
type SendOverdueNoticeRequest struct {
	CustomerERPID string `json:"customer_erp_id"`
	Recipient     string `json:"recipient"`
	Message       string `json:"message"`
}

type ListEmailLogRequest struct {
	pagination.Pagination
	Kind          EmailKind
	Status        EmailStatus
	CustomerERPID string
}

type ListEmailLogResponse struct {
	pagination.PageInfo
	Logs []ScheduledEmailLog `json:"logs"`
}

type Service interface {
	Create(ctx context.Context, req CreateReminderRequest) (*Reminder, error)
	Get(ctx context.Context, id snowflake.ID) (*Reminder, error)
	List(ctx context.Context, req ListReminderRequest) (ListReminderResponse, error)
	Complete(ctx context.Context, id snowflake.ID) (*Reminder, error)
	Delete(ctx context.Context, id snowflake.ID) error

	// ProcessDue claims reminders past due and emails each owner. Returns
	// ErrEmailNotConfigured without claiming anything when SMTP is absent.
	ProcessDue(ctx context.Context) (*ProcessDueResult, error)

	SendOverdueNotice(ctx context.Context, req SendOverdueNoticeRequest) (*ScheduledEmailLog, error)
	ListEmailLogs(ctx context.Context, req ListEmailLogRequest) (ListEmailLogResponse, error)
}

var (
	ErrNotFound           = errors.New("reminder_not_found")
	ErrInvalidOwner       = errors.New("invalid_owner")
	ErrInvalidTitle       = errors.New("invalid_title")
	ErrInvalidDueAt       = errors.New("invalid_due_at")
	ErrInvalidRecipient   = errors.New("invalid_recipient")
	ErrCustomerNotFound   = errors.New("customer_not_found")
	ErrEmailNotConfigured = errors.New("email_not_configured")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)
