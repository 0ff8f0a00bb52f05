// Package domain contains the ERP invoice mirror.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceType distinguishes receivables from credits.
type InvoiceType string

const (
	TypeInvoice    InvoiceType = "Invoice"
	TypeCreditMemo InvoiceType = "Credit Memo"
	TypeCreditWO   InvoiceType = "Credit WO"
)

// InvoiceStatus mirrors the ERP document status verbatim.
type InvoiceStatus string

const (
	StatusOpen     InvoiceStatus = "Open"
	StatusClosed   InvoiceStatus = "Closed"
	StatusBalanced InvoiceStatus = "Balanced"
	StatusOnHold   InvoiceStatus = "On Hold"
)

// ColorStatus is the locally-owned workflow indicator, recomputed daily from
// days overdue. Never sourced from the ERP.
type ColorStatus string

const (
	ColorGreen  ColorStatus = "green"
	ColorYellow ColorStatus = "yellow"
	ColorOrange ColorStatus = "orange"
	ColorRed    ColorStatus = "red"
)

// Invoice mirrors one ERP document. Balance is ERP truth; color_status and
// last_touched_at are local annotations that sync never overwrites.
type Invoice struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	ReferenceNumber string        `gorm:"type:text;not null;uniqueIndex"`
	CustomerERPID   string        `gorm:"column:customer_erp_id;type:text;not null;index"`
	Type            InvoiceType   `gorm:"type:text;not null;default:'Invoice'"`
	Status          InvoiceStatus `gorm:"type:text;not null;index"`
	InvoiceDate     *time.Time    `gorm:"index"`
	DueDate         *time.Time    `gorm:"index"`
	Amount          float64       `gorm:"type:numeric;not null;default:0"`
	Balance         float64       `gorm:"type:numeric;not null;default:0"`
	OrderNumber     string        `gorm:"type:text"`
	Description     string        `gorm:"type:text"`
	ColorStatus     ColorStatus   `gorm:"type:text;not null;default:'green';index"`
	LastTouchedAt   *time.Time    `gorm:""`
	ERPSyncedAt     *time.Time    `gorm:"column:erp_synced_at"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// DaysOverdueAt derives the overdue clock from the due date, clipped at zero.
func DaysOverdueAt(due *time.Time, today time.Time) int {
	if due == nil {
		return 0
	}
	dueDay := due.UTC().Truncate(24 * time.Hour)
	nowDay := today.UTC().Truncate(24 * time.Hour)
	days := int(nowDay.Sub(dueDay).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// DaysOverdue derives the overdue clock from the due date, clipped at zero.
func (i *Invoice) DaysOverdue(today time.Time) int {
	return DaysOverdueAt(i.DueDate, today)
}

// IsSettled reports whether the document no longer carries collectible balance.
func (i *Invoice) IsSettled() bool {
	return i.Status == StatusClosed || i.Balance <= 0
}
