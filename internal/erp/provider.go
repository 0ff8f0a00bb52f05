// Package erp defines the upstream accounting-system contract. Providers
// return wire records; the sync layer maps them onto the local mirrors.
package erp

import (
	"context"
	"errors"
	"time"
)

// Page is a 1-based fetch window.
type Page struct {
	Number int
	Size   int
}

type CustomerRecord struct {
	ERPID          string `json:"erp_id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	Country        string `json:"country"`
	Classification string `json:"classification"`
}

type InvoiceRecord struct {
	ReferenceNumber string     `json:"reference_number"`
	CustomerERPID   string     `json:"customer_erp_id"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	InvoiceDate     *time.Time `json:"invoice_date"`
	DueDate         *time.Time `json:"due_date"`
	Amount          float64    `json:"amount"`
	Balance         float64    `json:"balance"`
	OrderNumber     string     `json:"order_number"`
	Description     string     `json:"description"`
}

type PaymentRecord struct {
	ReferenceNumber string              `json:"reference_number"`
	CustomerERPID   string              `json:"customer_erp_id"`
	Amount          float64             `json:"amount"`
	Method          string              `json:"method"`
	AppliedAt       *time.Time          `json:"applied_at"`
	Applications    []ApplicationRecord `json:"applications"`
}

type ApplicationRecord struct {
	InvoiceReference string     `json:"invoice_reference"`
	AmountApplied    float64    `json:"amount_applied"`
	AppliedAt        *time.Time `json:"applied_at"`
}

// Provider pulls mirror data from the upstream system. The bool result
// reports whether another page follows.
type Provider interface {
	Name() string
	FetchCustomers(ctx context.Context, page Page) ([]CustomerRecord, bool, error)
	FetchInvoices(ctx context.Context, page Page) ([]InvoiceRecord, bool, error)
	FetchPayments(ctx context.Context, page Page) ([]PaymentRecord, bool, error)
}

var (
	// ErrInvalidConfig marks a misconfigured provider. Sync aborts without
	// retry: the next tick would fail the same way until config changes.
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrProviderNotFound = errors.New("provider_not_found")
)
