package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/textproto"

	"installment_notifier/internal/domain/delivery"

	"gopkg.in/gomail.v2"
)

const defaultSubject = "Installment reminder"

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Provider sends reminders as plain-text email. The template is the message body with {key}
// placeholders; params["subject"] overrides the default subject.
type Provider struct {
	sender Sender
	from   string
}

// NewProvider dials host:port with the given SMTP credentials for every message.
func NewProvider(host string, port int, username, password, from string) *Provider {
	return NewProviderWithSender(gomail.NewDialer(host, port, username, password), from)
}

func NewProviderWithSender(s Sender, from string) *Provider {
	return &Provider{sender: s, from: from}
}

func (p *Provider) Name() string { return "email" }

func (p *Provider) Send(ctx context.Context, recipient, template string, params map[string]string) error {
	if _, err := mail.ParseAddress(recipient); err != nil {
		return delivery.Permanent(fmt.Errorf("invalid email address %q: %w", recipient, err))
	}

	subject := params["subject"]
	if subject == "" {
		subject = defaultSubject
	}

	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", delivery.Render(subject, params))
	m.SetBody("text/plain", delivery.Render(template, params))

	// gomail has no context support; the send keeps going in the background after a timeout.
	done := make(chan error, 1)
	go func() {
		done <- p.sender.DialAndSend(m)
	}()

	select {
	case err := <-done:
		return classify(err)
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", recipient, ctx.Err())
	}
}

// classify marks 5xx SMTP replies (bad credentials, unknown mailbox) as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return delivery.Permanent(fmt.Errorf("smtp rejected message: %w", err))
	}
	return fmt.Errorf("smtp send failed: %w", err)
}
