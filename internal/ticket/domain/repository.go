package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

// SettledLink identifies one ticket-invoice link whose invoice settled.
type SettledLink struct {
	TicketID         snowflake.ID
	TicketNumber     string
	InvoiceReference string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, ticket *Ticket) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Ticket, error)
	List(ctx context.Context, db *gorm.DB, filter ListTicketFilter, page pagination.Pagination) ([]*Ticket, error)
	Update(ctx context.Context, db *gorm.DB, ticket *Ticket) error

	// MaxNumberForPrefix returns the highest assigned ticket number matching
	// prefix, or empty when none exists yet.
	MaxNumberForPrefix(ctx context.Context, db *gorm.DB, prefix string) (string, error)

	InsertLinks(ctx context.Context, db *gorm.DB, links []TicketInvoice) error
	DeleteLink(ctx context.Context, db *gorm.DB, ticketID snowflake.ID, reference string) (int64, error)
	ListLinks(ctx context.Context, db *gorm.DB, ticketID snowflake.ID) ([]TicketInvoice, error)

	InsertNote(ctx context.Context, db *gorm.DB, note *TicketNote) error
	ListNotes(ctx context.Context, db *gorm.DB, ticketID snowflake.ID) ([]TicketNote, error)

	// SettledLinks returns every link whose invoice is Closed or carries a
	// balance <= 0.
	SettledLinks(ctx context.Context, db *gorm.DB) ([]SettledLink, error)
	DeleteLinks(ctx context.Context, db *gorm.DB, links []SettledLink) (int64, error)
}
