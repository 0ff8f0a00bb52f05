package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"github.com/smallbiznis/collectra/internal/config"
)

type SMTPProvider struct {
	cfg config.SMTPConfig
}

func NewSMTP(cfg config.SMTPConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Enabled() bool { return true }

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	var msg bytes.Buffer
	p.writeHeaders(&msg, to, subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	return smtp.SendMail(p.addr(), p.auth(), p.cfg.From, to, msg.Bytes())
}

func (p *SMTPProvider) SendWithAttachment(ctx context.Context, to []string, subject string, htmlBody string, attachment Attachment) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", "text/html; charset=\"UTF-8\"")
	part, err := writer.CreatePart(htmlHeader)
	if err != nil {
		return err
	}
	if _, err := part.Write([]byte(htmlBody)); err != nil {
		return err
	}

	attHeader := textproto.MIMEHeader{}
	attHeader.Set("Content-Type", attachment.MIME)
	attHeader.Set("Content-Transfer-Encoding", "base64")
	attHeader.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.Filename))
	part, err = writer.CreatePart(attHeader)
	if err != nil {
		return err
	}
	if _, err := part.Write(wrapBase64(attachment.Data)); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	var msg bytes.Buffer
	p.writeHeaders(&msg, to, subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: multipart/mixed; boundary=" + writer.Boundary() + "\r\n")
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	return smtp.SendMail(p.addr(), p.auth(), p.cfg.From, to, msg.Bytes())
}

func (p *SMTPProvider) writeHeaders(msg *bytes.Buffer, to []string, subject string) {
	fmt.Fprintf(msg, "From: %s\r\n", p.cfg.From)
	fmt.Fprintf(msg, "To: %s\r\n", strings.Join(to, ", "))
	if p.cfg.ReplyTo != "" {
		fmt.Fprintf(msg, "Reply-To: %s\r\n", p.cfg.ReplyTo)
	}
	fmt.Fprintf(msg, "Subject: %s\r\n", subject)
}

func (p *SMTPProvider) addr() string {
	return fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
}

func (p *SMTPProvider) auth() smtp.Auth {
	if p.cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
}

// wrapBase64 encodes data and folds lines at the RFC 2045 limit.
func wrapBase64(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	var out bytes.Buffer
	for len(encoded) > 76 {
		out.WriteString(encoded[:76])
		out.WriteString("\r\n")
		encoded = encoded[76:]
	}
	out.WriteString(encoded)
	return out.Bytes()
}

// New picks the SMTP provider when config carries a relay, otherwise the
// disabled one.
func New(cfg config.SMTPConfig) Provider {
	if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.From) == "" {
		return &DisabledProvider{}
	}
	return NewSMTP(cfg)
}
