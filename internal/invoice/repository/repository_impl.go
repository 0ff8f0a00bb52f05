package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/invoice/domain"
	"github.com/smallbiznis/collectra/pkg/db"
	"github.com/smallbiznis/collectra/pkg/db/option"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Where("reference_number = ?", reference).
		Limit(1).
		Find(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListInvoiceFilter, page pagination.Pagination) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.CustomerERPID != "" {
		stmt = stmt.Where("customer_erp_id = ?", filter.CustomerERPID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.ColorStatus != "" {
		stmt = stmt.Where("color_status = ?", filter.ColorStatus)
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListOpenByCustomer(ctx context.Context, db *gorm.DB, customerERPID string) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	err := db.WithContext(ctx).
		Where("customer_erp_id = ? AND status = ?", customerERPID, domain.StatusOpen).
		Order("invoice_date asc, reference_number asc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) UpsertFromERP(ctx context.Context, db *gorm.DB, invoices []*domain.Invoice) (int, error) {
	written := 0
	for _, invoice := range invoices {
		if invoice == nil {
			continue
		}
		err := db.WithContext(ctx).Exec(
			`INSERT INTO invoices (id, reference_number, customer_erp_id, type, status, invoice_date, due_date,
			   amount, balance, order_number, description, color_status, erp_synced_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (reference_number) DO UPDATE SET
			   customer_erp_id = excluded.customer_erp_id,
			   type = excluded.type,
			   status = excluded.status,
			   invoice_date = excluded.invoice_date,
			   due_date = excluded.due_date,
			   amount = excluded.amount,
			   balance = excluded.balance,
			   order_number = excluded.order_number,
			   description = excluded.description,
			   erp_synced_at = excluded.erp_synced_at,
			   updated_at = excluded.updated_at`,
			invoice.ID,
			invoice.ReferenceNumber,
			invoice.CustomerERPID,
			invoice.Type,
			invoice.Status,
			invoice.InvoiceDate,
			invoice.DueDate,
			invoice.Amount,
			invoice.Balance,
			invoice.OrderNumber,
			invoice.Description,
			domain.ColorGreen,
			invoice.ERPSyncedAt,
			invoice.CreatedAt,
			invoice.UpdatedAt,
		).Error
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func applySearchFilter(stmt *gorm.DB, filter domain.SearchInvoiceFilter) *gorm.DB {
	if filter.CustomerERPID != "" {
		stmt = stmt.Where("invoices.customer_erp_id = ?", filter.CustomerERPID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("invoices.status = ?", filter.Status)
	}
	if filter.ColorStatus != "" {
		stmt = stmt.Where("invoices.color_status = ?", filter.ColorStatus)
	}
	if filter.MinBalance != nil {
		stmt = stmt.Where("invoices.balance >= ?", *filter.MinBalance)
	}
	if filter.MaxBalance != nil {
		stmt = stmt.Where("invoices.balance <= ?", *filter.MaxBalance)
	}
	if filter.DateFrom != nil {
		stmt = stmt.Where("invoices.invoice_date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		stmt = stmt.Where("invoices.invoice_date <= ?", *filter.DateTo)
	}
	return stmt
}

func (r *repo) SearchExact(ctx context.Context, db *gorm.DB, references []string, filter domain.SearchInvoiceFilter, limit, offset int) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("invoices.reference_number IN ?", references)
	stmt = applySearchFilter(stmt, filter)
	err := stmt.
		Order("invoices.invoice_date desc, invoices.reference_number desc").
		Limit(limit).
		Offset(offset).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) CountExact(ctx context.Context, db *gorm.DB, references []string, filter domain.SearchInvoiceFilter) (int64, error) {
	var count int64
	stmt := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("invoices.reference_number IN ?", references)
	stmt = applySearchFilter(stmt, filter)
	if err := stmt.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func patternStmt(ctx context.Context, conn *gorm.DB, term string, filter domain.SearchInvoiceFilter) *gorm.DB {
	like := db.LikeOperator(conn)
	pattern := "%" + term + "%"
	stmt := conn.WithContext(ctx).
		Model(&domain.Invoice{}).
		Joins("LEFT JOIN customers ON customers.erp_id = invoices.customer_erp_id").
		Where(
			"(invoices.reference_number "+like+" ? OR customers.name "+like+" ? OR invoices.customer_erp_id "+like+" ? OR invoices.order_number "+like+" ? OR invoices.description "+like+" ?)",
			pattern, pattern, pattern, pattern, pattern,
		)
	return applySearchFilter(stmt, filter)
}

func (r *repo) SearchPattern(ctx context.Context, db *gorm.DB, term string, filter domain.SearchInvoiceFilter, limit, offset int) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	err := patternStmt(ctx, db, term, filter).
		Select("invoices.*").
		Order("invoices.invoice_date desc, invoices.reference_number desc").
		Limit(limit).
		Offset(offset).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) CountPatternCapped(ctx context.Context, db *gorm.DB, term string, filter domain.SearchInvoiceFilter, maxRows int) (int64, error) {
	// Existence probe inside a LIMIT subquery keeps the estimate from
	// scanning past maxRows pattern matches.
	sub := patternStmt(ctx, db, term, filter).
		Select("1").
		Limit(maxRows)

	var count int64
	err := db.WithContext(ctx).
		Table("(?) AS capped", sub).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) ListOpenForColorRefresh(ctx context.Context, db *gorm.DB) ([]domain.ColorRefreshRow, error) {
	var rows []domain.ColorRefreshRow
	err := db.WithContext(ctx).Raw(
		`SELECT i.id, i.due_date, i.color_status, c.collection_threshold_days AS threshold_days
		 FROM invoices i
		 LEFT JOIN customers c ON c.erp_id = i.customer_erp_id
		 WHERE i.status = 'Open'`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) UpdateColors(ctx context.Context, db *gorm.DB, ids []snowflake.ID, color domain.ColorStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id IN ?", ids).
		Update("color_status", color)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) TouchByReferences(ctx context.Context, db *gorm.DB, references []string, at time.Time) error {
	if len(references) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("reference_number IN ?", references).
		Update("last_touched_at", at).Error
}
