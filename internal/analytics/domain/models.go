// Package domain contains the read-side balance and analytics contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DateContext selects which timestamp a date-range filter applies to.
type DateContext string

const (
	DateContextInvoiceDate   DateContext = "invoice_date"
	DateContextCustomerAdded DateContext = "customer_added"
	DateContextBalanceDate   DateContext = "balance_date"
)

// IsValidDateContext reports whether value is a known date context.
func IsValidDateContext(value DateContext) bool {
	switch value {
	case DateContextInvoiceDate, DateContextCustomerAdded, DateContextBalanceDate:
		return true
	}
	return false
}

// BalanceSign filters customers by the sign of their aggregated balance.
type BalanceSign string

const (
	BalanceSignAny      BalanceSign = "any"
	BalanceSignPositive BalanceSign = "positive"
	BalanceSignNegative BalanceSign = "negative"
	BalanceSignZero     BalanceSign = "zero"
)

// IsValidBalanceSign reports whether value is a known balance sign.
func IsValidBalanceSign(value BalanceSign) bool {
	switch value {
	case BalanceSignAny, BalanceSignPositive, BalanceSignNegative, BalanceSignZero:
		return true
	}
	return false
}

// Filter is the surface shared by the balance list and the summary.
type Filter struct {
	SearchText  string      `json:"search_text"`
	Status      string      `json:"status"`
	Country     string      `json:"country"`
	DateFrom    *time.Time  `json:"date_from"`
	DateTo      *time.Time  `json:"date_to"`
	DateContext DateContext `json:"date_context"`

	BalanceSign BalanceSign `json:"balance_sign"`
	MinBalance  *float64    `json:"min_balance"`
	MaxBalance  *float64    `json:"max_balance"`

	MinOpenInvoices *int `json:"min_open_invoices"`
	MaxOpenInvoices *int `json:"max_open_invoices"`

	IncludeCreditMemos   bool `json:"include_credit_memos"`
	ExcludeTestCustomers bool `json:"exclude_test_customers"`
}

// IsEmpty reports whether no filter narrows the customer set, which unlocks
// the cached-balance fast path.
func (f Filter) IsEmpty() bool {
	return f.SearchText == "" &&
		f.Status == "" &&
		f.Country == "" &&
		f.DateFrom == nil &&
		f.DateTo == nil &&
		(f.BalanceSign == "" || f.BalanceSign == BalanceSignAny) &&
		f.MinBalance == nil &&
		f.MaxBalance == nil &&
		f.MinOpenInvoices == nil &&
		f.MaxOpenInvoices == nil &&
		!f.ExcludeTestCustomers
}

// CustomerBalanceRow is one customer with its aggregated open position.
type CustomerBalanceRow struct {
	CustomerID        snowflake.ID `gorm:"column:customer_id" json:"customer_id"`
	ERPID             string       `gorm:"column:erp_id" json:"erp_id"`
	Name              string       `gorm:"column:name" json:"name"`
	Status            string       `gorm:"column:status" json:"status"`
	Country           string       `gorm:"column:country" json:"country"`
	Classification    string       `gorm:"column:classification" json:"classification"`
	CalculatedBalance float64      `gorm:"column:calculated_balance" json:"calculated_balance"`
	GrossBalance      float64      `gorm:"column:gross_balance" json:"gross_balance"`
	OpenInvoiceCount  int          `gorm:"column:open_invoice_count" json:"open_invoice_count"`
	RedCount          int          `gorm:"column:red_count" json:"red_count"`
	YellowCount       int          `gorm:"column:yellow_count" json:"yellow_count"`
	OrangeCount       int          `gorm:"column:orange_count" json:"orange_count"`
	GreenCount        int          `gorm:"column:green_count" json:"green_count"`
	MaxDaysOverdue    int          `gorm:"column:max_days_overdue" json:"max_days_overdue"`
}

// Summary is the single-row customer analytics aggregate.
type Summary struct {
	TotalCustomers       int64   `gorm:"column:total_customers" json:"total_customers"`
	ActiveCustomers      int64   `gorm:"column:active_customers" json:"active_customers"`
	TotalBalance         float64 `gorm:"column:total_balance" json:"total_balance"`
	AverageBalance       float64 `gorm:"column:average_balance" json:"average_balance"`
	CustomersWithDebt    int64   `gorm:"column:customers_with_debt" json:"customers_with_debt"`
	TotalOpenInvoices    int64   `gorm:"column:total_open_invoices" json:"total_open_invoices"`
	CustomersWithOverdue int64   `gorm:"column:customers_with_overdue" json:"customers_with_overdue"`
}

// CollectorProgressRow is one collector's workload and period outcome.
type CollectorProgressRow struct {
	CollectorID        snowflake.ID `gorm:"column:collector_id" json:"collector_id"`
	CollectorName      string       `gorm:"column:collector_name" json:"collector_name"`
	OpenTickets        int64        `gorm:"column:open_tickets" json:"open_tickets"`
	ClosedInPeriod     int64        `gorm:"column:closed_in_period" json:"closed_in_period"`
	PromisedBalance    float64      `gorm:"column:promised_balance" json:"promised_balance"`
	OutstandingBalance float64      `gorm:"column:outstanding_balance" json:"outstanding_balance"`
	LastActivityAt     *time.Time   `gorm:"column:last_activity_at" json:"last_activity_at"`
}

// SearchKind tags one global search hit with its entity.
type SearchKind string

const (
	SearchKindCustomer SearchKind = "customer"
	SearchKindInvoice  SearchKind = "invoice"
	SearchKindTicket   SearchKind = "ticket"
)

// SearchResult is one entity hit in the global search union.
type SearchResult struct {
	Kind     SearchKind `json:"kind"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Subtitle string     `json:"subtitle"`
}

// Snapshot captures one day's unfiltered summary for trend charts.
type Snapshot struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	SnapshotDate time.Time      `gorm:"type:date;not null;uniqueIndex"`
	Summary      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Snapshot) TableName() string { return "analytics_snapshots" }
