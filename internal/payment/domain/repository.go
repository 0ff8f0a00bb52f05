package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type Repository interface {
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListPaymentFilter, page pagination.Pagination) ([]*Payment, error)

	// UpsertFromERP writes payments keyed on reference_number.
	UpsertFromERP(ctx context.Context, db *gorm.DB, payments []*Payment) (int, error)
	// UpsertApplications writes application rows keyed on (payment, invoice).
	UpsertApplications(ctx context.Context, db *gorm.DB, applications []*PaymentInvoiceApplication) (int, error)

	ListApplications(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]PaymentInvoiceApplication, error)
	ListApplicationsForInvoice(ctx context.Context, db *gorm.DB, invoiceReference string) ([]PaymentInvoiceApplication, error)

	// LastApplicationAt is the max applied_at over the customer's payments.
	LastApplicationAt(ctx context.Context, db *gorm.DB, customerERPID string) (*time.Time, error)
}
