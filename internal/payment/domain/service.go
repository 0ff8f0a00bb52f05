package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type GetPaymentRequest struct {
	ReferenceNumber string
}

type ListPaymentFilter struct {
	CustomerERPID string
	AppliedFrom   *time.Time
	AppliedTo     *time.Time
}

type ListPaymentRequest struct {
	pagination.Pagination
	CustomerERPID string
	AppliedFrom   *time.Time
	AppliedTo     *time.Time
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

// PaymentWithApplications bundles a payment with the invoices it paid down.
type PaymentWithApplications struct {
	Payment
	Applications []PaymentInvoiceApplication `json:"applications"`
}

type Service interface {
	Get(ctx context.Context, req GetPaymentRequest) (*PaymentWithApplications, error)
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
	// ListForInvoice returns applications against one invoice reference,
	// newest first.
	ListForInvoice(ctx context.Context, invoiceReference string) ([]PaymentInvoiceApplication, error)
	// LastApplicationAt returns the customer's latest payment application
	// time, or nil when the customer has never paid.
	LastApplicationAt(ctx context.Context, customerERPID string) (*time.Time, error)
}

var (
	ErrNotFound         = errors.New("not_found")
	ErrInvalidReference = errors.New("invalid_reference")
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
