// Package sms sends pattern messages through an HTTP SMS gateway. The gateway substitutes the
// values into a pattern registered on its side; the text never leaves this process.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"installment_notifier/internal/domain/delivery"
)

const (
	patternPath    = "/v1/messages/pattern"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

type patternRequest struct {
	Recipient   string            `json:"recipient"`
	PatternCode string            `json:"pattern_code"`
	Values      map[string]string `json:"values"`
}

type patternResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// PatternProvider implements delivery.Provider against the gateway's pattern endpoint.
type PatternProvider struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
}

// NewPatternProvider returns a provider. A nil client gets a default one with a timeout.
func NewPatternProvider(baseURL, apiKey, apiSecret string, client *http.Client) *PatternProvider {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &PatternProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    client,
	}
}

func (p *PatternProvider) Name() string { return "sms" }

// Send posts one pattern message. Rejections by the gateway (bad request, bad credentials) are
// marked permanent; network errors and 5xx answers are left retryable.
func (p *PatternProvider) Send(ctx context.Context, recipient, patternCode string, params map[string]string) error {
	body, err := json.Marshal(patternRequest{Recipient: recipient, PatternCode: patternCode, Values: params})
	if err != nil {
		return delivery.Permanent(fmt.Errorf("failed to encode sms request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+patternPath, bytes.NewReader(body))
	if err != nil {
		return delivery.Permanent(fmt.Errorf("failed to build sms request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", p.apiKey)
	req.Header.Set("X-Api-Secret", p.apiSecret)

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read sms gateway response: %w", err)
	}

	switch {
	case res.StatusCode >= 500:
		return fmt.Errorf("sms gateway unavailable: %d %s", res.StatusCode, snippet(raw))
	case res.StatusCode < 200 || res.StatusCode > 299:
		// 400, 401, 403, 422 and the like will not get better by retrying
		return delivery.Permanent(fmt.Errorf("sms gateway rejected message: %d %s", res.StatusCode, snippet(raw)))
	}

	var out patternResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unexpected sms gateway response: %w", err)
	}
	if !strings.EqualFold(out.Status, "ok") {
		msg := out.Error
		if msg == "" {
			msg = "status " + out.Status
		}
		return delivery.Permanent(errors.New("sms gateway refused message: " + msg))
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
