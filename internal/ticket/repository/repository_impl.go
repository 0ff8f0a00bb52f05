package repository

import (
	"context"
	"database/sql"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/ticket/domain"
	"github.com/smallbiznis/collectra/pkg/db/option"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, ticket *domain.Ticket) error {
	return db.WithContext(ctx).Create(ticket).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&ticket).Error
	if err != nil {
		return nil, err
	}
	if ticket.ID == 0 {
		return nil, nil
	}
	return &ticket, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListTicketFilter, page pagination.Pagination) ([]*domain.Ticket, error) {
	var tickets []*domain.Ticket
	stmt := db.WithContext(ctx).Model(&domain.Ticket{})
	if filter.CustomerERPID != "" {
		stmt = stmt.Where("customer_erp_id = ?", filter.CustomerERPID)
	}
	if filter.CollectorID != nil {
		stmt = stmt.Where("collector_id = ?", *filter.CollectorID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		stmt = stmt.Where("priority = ?", filter.Priority)
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&tickets).Error
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, ticket *domain.Ticket) error {
	return db.WithContext(ctx).Save(ticket).Error
}

func (r *repo) MaxNumberForPrefix(ctx context.Context, db *gorm.DB, prefix string) (string, error) {
	row := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Select("MAX(number)").
		Where("number LIKE ?", prefix+"%").
		Row()

	var maxNumber sql.NullString
	if err := row.Scan(&maxNumber); err != nil {
		return "", err
	}
	if !maxNumber.Valid {
		return "", nil
	}
	return maxNumber.String, nil
}

func (r *repo) InsertLinks(ctx context.Context, db *gorm.DB, links []domain.TicketInvoice) error {
	for i := range links {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO ticket_invoices (ticket_id, invoice_reference, linked_by, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (ticket_id, invoice_reference) DO NOTHING`,
			links[i].TicketID,
			links[i].InvoiceReference,
			links[i].LinkedBy,
			links[i].CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) DeleteLink(ctx context.Context, db *gorm.DB, ticketID snowflake.ID, reference string) (int64, error) {
	res := db.WithContext(ctx).
		Where("ticket_id = ? AND invoice_reference = ?", ticketID, reference).
		Delete(&domain.TicketInvoice{})
	return res.RowsAffected, res.Error
}

func (r *repo) ListLinks(ctx context.Context, db *gorm.DB, ticketID snowflake.ID) ([]domain.TicketInvoice, error) {
	var links []domain.TicketInvoice
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("invoice_reference asc").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (r *repo) InsertNote(ctx context.Context, db *gorm.DB, note *domain.TicketNote) error {
	return db.WithContext(ctx).Create(note).Error
}

func (r *repo) ListNotes(ctx context.Context, db *gorm.DB, ticketID snowflake.ID) ([]domain.TicketNote, error) {
	var notes []domain.TicketNote
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at asc, id asc").
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (r *repo) SettledLinks(ctx context.Context, db *gorm.DB) ([]domain.SettledLink, error) {
	var links []domain.SettledLink
	err := db.WithContext(ctx).Raw(
		`SELECT ti.ticket_id, t.number AS ticket_number, ti.invoice_reference
		 FROM ticket_invoices ti
		 JOIN tickets t ON t.id = ti.ticket_id
		 JOIN invoices i ON i.reference_number = ti.invoice_reference
		 WHERE i.status = 'Closed' OR i.balance <= 0`,
	).Scan(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (r *repo) DeleteLinks(ctx context.Context, db *gorm.DB, links []domain.SettledLink) (int64, error) {
	var removed int64
	for _, link := range links {
		res := db.WithContext(ctx).
			Where("ticket_id = ? AND invoice_reference = ?", link.TicketID, link.InvoiceReference).
			Delete(&domain.TicketInvoice{})
		if res.Error != nil {
			return removed, res.Error
		}
		removed += res.RowsAffected
	}
	return removed, nil
}
