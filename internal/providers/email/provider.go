// Package email delivers collection mail through the configured SMTP relay.
package email

import (
	"context"
	"errors"
)

// Attachment rides along a message as a base64-encoded MIME part.
type Attachment struct {
	Filename string
	MIME     string
	Data     []byte
}

type Provider interface {
	// Enabled reports whether the deployment carries SMTP settings at all.
	Enabled() bool
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendWithAttachment(ctx context.Context, to []string, subject string, htmlBody string, attachment Attachment) error
}

// ErrNotConfigured marks sends attempted without SMTP settings.
var ErrNotConfigured = errors.New("email_not_configured")

// DisabledProvider rejects every send. Deployments without SMTP config get it
// so callers abort batches instead of silently dropping mail.
type DisabledProvider struct{}

func (p *DisabledProvider) Enabled() bool { return false }

func (p *DisabledProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return ErrNotConfigured
}

func (p *DisabledProvider) SendWithAttachment(ctx context.Context, to []string, subject string, htmlBody string, attachment Attachment) error {
	return ErrNotConfigured
}
