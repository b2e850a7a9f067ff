package delivery

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// Provider sends one message to one recipient through a single channel (an SMS gateway, a
// Telegram bot, an SMTP relay...). templateOrText is a gateway pattern code or a message text,
// depending on the implementation. A nil error means the provider accepted the message.
type Provider interface {
	Name() string
	Send(ctx context.Context, recipient, templateOrText string, params map[string]string) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying (rejected request, invalid credentials).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Outcome is the result of one dispatch attempt chain. It is only logged, never stored.
type Outcome struct {
	ContractID       int64
	InstallmentIndex int
	Recipient        string
	Tier             string
	Provider         string
	Attempts         int
	Duration         time.Duration
	Err              error
}

// OK reports whether the provider accepted the message.
func (o Outcome) OK() bool { return o.Err == nil }

// Render substitutes {key} placeholders in text with values from params.
// Unknown placeholders are left untouched.
func Render(text string, params map[string]string) string {
	if len(params) == 0 {
		return text
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(params)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", params[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
