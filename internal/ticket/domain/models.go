// Package domain contains persistence models for collection tickets.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TicketStatus represents collection ticket lifecycle states.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusPending  TicketStatus = "pending"
	TicketStatusPromised TicketStatus = "promised"
	TicketStatusPaid     TicketStatus = "paid"
	TicketStatusDisputed TicketStatus = "disputed"
	TicketStatusClosed   TicketStatus = "closed"
)

// TicketStatuses lists every lifecycle state in workflow order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusPending,
	TicketStatusPromised,
	TicketStatusPaid,
	TicketStatusDisputed,
	TicketStatusClosed,
}

// ticketTransitions is the explicit state machine. paid and disputed only
// close; closed may reopen.
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:     {TicketStatusPending, TicketStatusPromised, TicketStatusClosed},
	TicketStatusPending:  {TicketStatusPromised, TicketStatusPaid, TicketStatusDisputed, TicketStatusOpen, TicketStatusClosed},
	TicketStatusPromised: {TicketStatusPaid, TicketStatusDisputed, TicketStatusPending, TicketStatusClosed},
	TicketStatusPaid:     {TicketStatusClosed},
	TicketStatusDisputed: {TicketStatusPending, TicketStatusClosed},
	TicketStatusClosed:   {TicketStatusOpen},
}

// CanTransition reports whether a status change is allowed by the workflow.
func CanTransition(from, to TicketStatus) bool {
	for _, allowed := range ticketTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the outgoing edges for a status.
func AllowedTransitions(from TicketStatus) []TicketStatus {
	edges := ticketTransitions[from]
	out := make([]TicketStatus, len(edges))
	copy(out, edges)
	return out
}

// IsValidStatus reports whether value is a known lifecycle state.
func IsValidStatus(value TicketStatus) bool {
	_, ok := ticketTransitions[value]
	return ok
}

// TicketPriority orders the collector work queue.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityNormal TicketPriority = "normal"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

// IsValidPriority reports whether value is a known priority.
func IsValidPriority(value TicketPriority) bool {
	switch value {
	case TicketPriorityLow, TicketPriorityNormal, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// TicketType classifies why the ticket exists.
type TicketType string

const (
	TicketTypeCollection TicketType = "collection"
	TicketTypeDispute    TicketType = "dispute"
	TicketTypePromise    TicketType = "promise"
	TicketTypeOther      TicketType = "other"
)

// IsValidType reports whether value is a known ticket type.
func IsValidType(value TicketType) bool {
	switch value {
	case TicketTypeCollection, TicketTypeDispute, TicketTypePromise, TicketTypeOther:
		return true
	}
	return false
}

// Ticket represents one collection case against a customer.
type Ticket struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	Number        string         `gorm:"type:text;not null;uniqueIndex"`
	CustomerERPID string         `gorm:"type:text;not null;index"`
	CollectorID   *snowflake.ID  `gorm:"index"`
	Status        TicketStatus   `gorm:"type:text;not null;default:'open';index"`
	Priority      TicketPriority `gorm:"type:text;not null;default:'normal'"`
	Type          TicketType     `gorm:"type:text;not null;default:'collection'"`
	Subject       string         `gorm:"type:text;not null"`
	Description   string         `gorm:"type:text"`
	PromiseDate   *time.Time     `gorm:""`
	CreatedBy     *snowflake.ID  `gorm:"index"`
	ClosedAt      *time.Time     `gorm:""`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Ticket) TableName() string { return "tickets" }

// TicketInvoice links a ticket to an ERP invoice by reference number.
type TicketInvoice struct {
	TicketID         snowflake.ID  `gorm:"primaryKey;autoIncrement:false"`
	InvoiceReference string        `gorm:"primaryKey;type:text"`
	LinkedBy         *snowflake.ID `gorm:""`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TicketInvoice) TableName() string { return "ticket_invoices" }

// TicketNote is a free-form collector note, optionally with an attachment.
type TicketNote struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	TicketID       snowflake.ID  `gorm:"not null;index"`
	AuthorID       *snowflake.ID `gorm:""`
	Body           string        `gorm:"type:text;not null"`
	AttachmentPath *string       `gorm:"type:text"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TicketNote) TableName() string { return "ticket_notes" }
