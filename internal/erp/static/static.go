// Package static serves embedded fixture data for dev and demo environments.
package static

import (
	"context"
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/smallbiznis/collectra/internal/config"
	"github.com/smallbiznis/collectra/internal/erp"
)

//go:embed fixtures/*.json
var fixtures embed.FS

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "static"
}

func (f *Factory) New(cfg config.ERPConfig) (erp.Provider, error) {
	return &Provider{dir: strings.TrimSpace(cfg.StaticDir)}, nil
}

// Provider reads fixture files from dir when present, falling back to the
// embedded copies. Paging slices the loaded arrays so the sync loop exercises
// the same paged path as the real provider.
type Provider struct {
	dir string
}

func (p *Provider) Name() string { return "static" }

func (p *Provider) FetchCustomers(ctx context.Context, page erp.Page) ([]erp.CustomerRecord, bool, error) {
	var records []erp.CustomerRecord
	if err := p.load("customers.json", &records); err != nil {
		return nil, false, err
	}
	out, more := slicePage(records, page)
	return out, more, nil
}

func (p *Provider) FetchInvoices(ctx context.Context, page erp.Page) ([]erp.InvoiceRecord, bool, error) {
	var records []erp.InvoiceRecord
	if err := p.load("invoices.json", &records); err != nil {
		return nil, false, err
	}
	out, more := slicePage(records, page)
	return out, more, nil
}

func (p *Provider) FetchPayments(ctx context.Context, page erp.Page) ([]erp.PaymentRecord, bool, error) {
	var records []erp.PaymentRecord
	if err := p.load("payments.json", &records); err != nil {
		return nil, false, err
	}
	out, more := slicePage(records, page)
	return out, more, nil
}

func (p *Provider) load(name string, out any) error {
	if p.dir != "" {
		data, err := os.ReadFile(filepath.Join(p.dir, name))
		if err == nil {
			return json.Unmarshal(data, out)
		}
		if !os.IsNotExist(err) {
			return err
		}
	}

	data, err := fixtures.ReadFile("fixtures/" + name)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func slicePage[T any](records []T, page erp.Page) ([]T, bool) {
	size := page.Size
	if size <= 0 {
		size = len(records)
	}
	number := page.Number
	if number < 1 {
		number = 1
	}

	start := (number - 1) * size
	if start >= len(records) {
		return nil, false
	}
	end := start + size
	if end > len(records) {
		end = len(records)
	}
	return records[start:end], end < len(records)
}
