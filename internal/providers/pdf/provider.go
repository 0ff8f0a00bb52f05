package pdf

import (
	"context"
	"io"
)

// Provider renders customer-facing documents.
type Provider interface {
	GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error)
}
