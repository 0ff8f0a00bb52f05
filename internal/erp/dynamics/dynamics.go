// Package dynamics pulls mirror data from a Dynamics-style JSON API.
package dynamics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/collectra/internal/config"
	"github.com/smallbiznis/collectra/internal/erp"
	obstracing "github.com/smallbiznis/collectra/internal/observability/tracing"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "dynamics"
}

func (f *Factory) New(cfg config.ERPConfig) (erp.Provider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	apiKey := strings.TrimSpace(cfg.APIKey)
	if baseURL == "" || apiKey == "" {
		return nil, erp.ErrInvalidConfig
	}

	return &Provider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: obstracing.WrapHTTPClient(&http.Client{
			Timeout: 30 * time.Second,
		}),
	}, nil
}

type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (p *Provider) Name() string { return "dynamics" }

func (p *Provider) FetchCustomers(ctx context.Context, page erp.Page) ([]erp.CustomerRecord, bool, error) {
	var payload struct {
		Data    []erp.CustomerRecord `json:"data"`
		HasMore bool                 `json:"has_more"`
	}
	if err := p.get(ctx, "/api/customers", page, &payload); err != nil {
		return nil, false, err
	}
	return payload.Data, payload.HasMore, nil
}

func (p *Provider) FetchInvoices(ctx context.Context, page erp.Page) ([]erp.InvoiceRecord, bool, error) {
	var payload struct {
		Data    []erp.InvoiceRecord `json:"data"`
		HasMore bool                `json:"has_more"`
	}
	if err := p.get(ctx, "/api/invoices", page, &payload); err != nil {
		return nil, false, err
	}
	return payload.Data, payload.HasMore, nil
}

func (p *Provider) FetchPayments(ctx context.Context, page erp.Page) ([]erp.PaymentRecord, bool, error) {
	var payload struct {
		Data    []erp.PaymentRecord `json:"data"`
		HasMore bool                `json:"has_more"`
	}
	if err := p.get(ctx, "/api/payments", page, &payload); err != nil {
		return nil, false, err
	}
	return payload.Data, payload.HasMore, nil
}

func (p *Provider) get(ctx context.Context, path string, page erp.Page, out any) error {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page.Number))
	query.Set("page_size", strconv.Itoa(page.Size))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("erp %s: status %d", path, resp.StatusCode)
	}

	return json.Unmarshal(body, out)
}
