package domain

import (
	"context"
	"errors"
	"time"
)

var ErrCustomerNotFound = errors.New("customer_not_found")

// Statement is a rendered account statement, ready to download or attach.
type Statement struct {
	CustomerERPID string
	CustomerName  string
	Filename      string
	GeneratedAt   time.Time
	TotalBalance  float64
	PDF           []byte
}

type Service interface {
	// Render builds the PDF statement of every open document for one customer.
	Render(ctx context.Context, customerERPID string) (*Statement, error)
}
