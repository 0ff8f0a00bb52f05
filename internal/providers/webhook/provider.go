// Package webhook posts short collection notifications to an external chat
// webhook. Unconfigured deployments get a no-op.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/smallbiznis/collectra/internal/config"
	obstracing "github.com/smallbiznis/collectra/internal/observability/tracing"
)

type Provider interface {
	PostMessage(ctx context.Context, message string) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) PostMessage(ctx context.Context, message string) error {
	return nil
}

type HTTPProvider struct {
	url     string
	channel string
	client  *http.Client
}

func NewHTTP(cfg config.WebhookConfig) *HTTPProvider {
	return &HTTPProvider{
		url:     cfg.URL,
		channel: cfg.Channel,
		client:  obstracing.WrapHTTPClient(&http.Client{Timeout: 10 * time.Second}),
	}
}

func (p *HTTPProvider) PostMessage(ctx context.Context, message string) error {
	payload := map[string]any{
		"text":      message,
		"timestamp": time.Now().Unix(),
	}
	if p.channel != "" {
		payload["channel"] = p.channel
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// New picks the configured notifier; a blank URL means notifications are off.
func New(cfg config.WebhookConfig) Provider {
	if cfg.URL == "" {
		return &NoOpProvider{}
	}
	return NewHTTP(cfg)
}
