package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type CreateTicketRequest struct {
	CustomerERPID     string
	Type              TicketType
	Priority          TicketPriority
	Subject           string
	Description       string
	CollectorID       *snowflake.ID
	InvoiceReferences []string
	CreatedBy         *snowflake.ID
}

type GetTicketRequest struct {
	ID snowflake.ID
}

// TicketDetail is a ticket with its invoice links and notes.
type TicketDetail struct {
	Ticket
	Invoices []TicketInvoice `json:"invoices"`
	Notes    []TicketNote    `json:"notes"`
}

type ListTicketRequest struct {
	pagination.Pagination
	CustomerERPID string
	CollectorID   *snowflake.ID
	Status        TicketStatus
	Priority      TicketPriority
	Type          TicketType
}

type ListTicketFilter struct {
	CustomerERPID string
	CollectorID   *snowflake.ID
	Status        TicketStatus
	Priority      TicketPriority
	Type          TicketType
}

type ListTicketResponse struct {
	pagination.PageInfo
	Tickets []Ticket `json:"tickets"`
}

type ChangeStatusRequest struct {
	ID     snowflake.ID
	Status TicketStatus
	Note   string
}

type AssignTicketRequest struct {
	ID          snowflake.ID
	CollectorID snowflake.ID
}

type SetPromiseDateRequest struct {
	ID          snowflake.ID
	PromiseDate time.Time
}

type AddNoteRequest struct {
	TicketID       snowflake.ID
	AuthorID       *snowflake.ID
	Body           string
	AttachmentPath string
}

type LinkInvoicesRequest struct {
	TicketID   snowflake.ID
	References []string
	LinkedBy   *snowflake.ID
}

type UnlinkInvoiceRequest struct {
	TicketID  snowflake.ID
	Reference string
}

type Service interface {
	Create(ctx context.Context, req CreateTicketRequest) (*Ticket, error)
	Get(ctx context.Context, req GetTicketRequest) (*TicketDetail, error)
	List(ctx context.Context, req ListTicketRequest) (ListTicketResponse, error)
	ChangeStatus(ctx context.Context, req ChangeStatusRequest) (*Ticket, error)
	Assign(ctx context.Context, req AssignTicketRequest) (*Ticket, error)
	SetPromiseDate(ctx context.Context, req SetPromiseDateRequest) (*Ticket, error)
	AddNote(ctx context.Context, req AddNoteRequest) (*TicketNote, error)
	LinkInvoices(ctx context.Context, req LinkInvoicesRequest) ([]TicketInvoice, error)
	UnlinkInvoice(ctx context.Context, req UnlinkInvoiceRequest) error
	// UnlinkSettled removes every link whose invoice is Closed or has balance
	// <= 0, and returns the number of removed links.
	UnlinkSettled(ctx context.Context) (int, error)
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidSubject     = errors.New("invalid_subject")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrInvalidPriority    = errors.New("invalid_priority")
	ErrInvalidType        = errors.New("invalid_type")
	ErrInvalidPromiseDate = errors.New("invalid_promise_date")
	ErrInvalidReference   = errors.New("invalid_reference")
	ErrInvalidNote        = errors.New("invalid_note")
	ErrInvalidAttachment  = errors.New("invalid_attachment")
	ErrInvalidCollector   = errors.New("invalid_collector")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)
