// Package domain contains the auto-ticket rule types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CombineMode says how the invoice-age window and the payment-recency window
// combine: and intersects, or unions.
type CombineMode string

const (
	CombineAnd CombineMode = "and"
	CombineOr  CombineMode = "or"
)

func IsValidCombineMode(mode CombineMode) bool {
	return mode == CombineAnd || mode == CombineOr
}

// AutoTicketRule selects a customer's open invoices by document age and by
// how long the customer has gone without applying a payment. Nil bounds leave
// that side of a window open.
type AutoTicketRule struct {
	ID                  snowflake.ID  `gorm:"primaryKey"`
	CustomerERPID       string        `gorm:"column:customer_erp_id;type:text;not null;index"`
	CollectorID         *snowflake.ID `gorm:"index"`
	MinDaysOld          *int          `gorm:""`
	MaxDaysOld          *int          `gorm:""`
	MinDaysSincePayment *int          `gorm:""`
	MaxDaysSincePayment *int          `gorm:""`
	CombineMode         CombineMode   `gorm:"type:text;not null;default:'and'"`
	Active              bool          `gorm:"not null;default:true;index"`
	CreatedAt           time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt           time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AutoTicketRule) TableName() string { return "auto_ticket_rules" }

// HasAgeWindow reports whether the rule constrains invoice age at all.
func (r *AutoTicketRule) HasAgeWindow() bool {
	return r.MinDaysOld != nil || r.MaxDaysOld != nil
}

// HasRecencyWindow reports whether the rule constrains payment recency at all.
func (r *AutoTicketRule) HasRecencyWindow() bool {
	return r.MinDaysSincePayment != nil || r.MaxDaysSincePayment != nil
}
