package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/payment/domain"
	"github.com/smallbiznis/collectra/pkg/db/option"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).
		Where("reference_number = ?", reference).
		Limit(1).
		Find(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListPaymentFilter, page pagination.Pagination) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
	if filter.CustomerERPID != "" {
		stmt = stmt.Where("customer_erp_id = ?", filter.CustomerERPID)
	}
	if filter.AppliedFrom != nil {
		stmt = stmt.Where("applied_at >= ?", *filter.AppliedFrom)
	}
	if filter.AppliedTo != nil {
		stmt = stmt.Where("applied_at < ?", *filter.AppliedTo)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) UpsertFromERP(ctx context.Context, db *gorm.DB, payments []*domain.Payment) (int, error) {
	written := 0
	for _, payment := range payments {
		if payment == nil {
			continue
		}
		err := db.WithContext(ctx).Exec(
			`INSERT INTO payments (id, reference_number, customer_erp_id, amount, method, applied_at,
			   erp_synced_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (reference_number) DO UPDATE SET
			   customer_erp_id = excluded.customer_erp_id,
			   amount = excluded.amount,
			   method = excluded.method,
			   applied_at = excluded.applied_at,
			   erp_synced_at = excluded.erp_synced_at,
			   updated_at = excluded.updated_at`,
			payment.ID,
			payment.ReferenceNumber,
			payment.CustomerERPID,
			payment.Amount,
			payment.Method,
			payment.AppliedAt,
			payment.ERPSyncedAt,
			payment.CreatedAt,
			payment.UpdatedAt,
		).Error
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (r *repo) UpsertApplications(ctx context.Context, db *gorm.DB, applications []*domain.PaymentInvoiceApplication) (int, error) {
	written := 0
	for _, application := range applications {
		if application == nil {
			continue
		}
		err := db.WithContext(ctx).Exec(
			`INSERT INTO payment_invoice_applications (payment_id, invoice_reference, amount_applied, applied_at, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (payment_id, invoice_reference) DO UPDATE SET
			   amount_applied = excluded.amount_applied,
			   applied_at = excluded.applied_at`,
			application.PaymentID,
			application.InvoiceReference,
			application.AmountApplied,
			application.AppliedAt,
			application.CreatedAt,
		).Error
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (r *repo) ListApplications(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.PaymentInvoiceApplication, error) {
	var applications []domain.PaymentInvoiceApplication
	err := db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("invoice_reference asc").
		Find(&applications).Error
	if err != nil {
		return nil, err
	}
	return applications, nil
}

func (r *repo) ListApplicationsForInvoice(ctx context.Context, db *gorm.DB, invoiceReference string) ([]domain.PaymentInvoiceApplication, error) {
	var applications []domain.PaymentInvoiceApplication
	err := db.WithContext(ctx).
		Where("invoice_reference = ?", invoiceReference).
		Order("applied_at desc, payment_id desc").
		Find(&applications).Error
	if err != nil {
		return nil, err
	}
	return applications, nil
}

func (r *repo) LastApplicationAt(ctx context.Context, db *gorm.DB, customerERPID string) (*time.Time, error) {
	row := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Select("MAX(COALESCE(payment_invoice_applications.applied_at, payments.applied_at))").
		Joins("LEFT JOIN payment_invoice_applications ON payment_invoice_applications.payment_id = payments.id").
		Where("payments.customer_erp_id = ?", customerERPID).
		Row()

	var last sql.NullTime
	if err := row.Scan(&last); err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	at := last.Time.UTC()
	return &at, nil
}
