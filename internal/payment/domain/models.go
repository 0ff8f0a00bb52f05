// Package domain contains the ERP payment mirror.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Payment mirrors one ERP payment receipt. All columns are ERP truth.
type Payment struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	ReferenceNumber string       `gorm:"type:text;not null;uniqueIndex"`
	CustomerERPID   string       `gorm:"column:customer_erp_id;type:text;not null;index"`
	Amount          float64      `gorm:"type:numeric;not null;default:0"`
	Method          string       `gorm:"type:text"`
	AppliedAt       *time.Time   `gorm:"index"`
	ERPSyncedAt     *time.Time   `gorm:"column:erp_synced_at"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// PaymentInvoiceApplication links a payment to one invoice it paid down. A
// payment can split across several invoices; an invoice can collect several
// payments.
type PaymentInvoiceApplication struct {
	PaymentID        snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	InvoiceReference string       `gorm:"primaryKey;type:text"`
	AmountApplied    float64      `gorm:"type:numeric;not null;default:0"`
	AppliedAt        *time.Time   `gorm:""`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentInvoiceApplication) TableName() string { return "payment_invoice_applications" }
