package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"installment_notifier/internal/domain/delivery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternProvider_Send(t *testing.T) {
	var got patternRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages/pattern", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Secret"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","message_id":"m-1"}`))
	}))
	defer server.Close()

	p := NewPatternProvider(server.URL+"/", "key", "secret", server.Client())

	err := p.Send(context.Background(), "09120000000", "tpl-3", map[string]string{"amount": "1,500,000"})

	require.NoError(t, err)
	assert.Equal(t, "09120000000", got.Recipient)
	assert.Equal(t, "tpl-3", got.PatternCode)
	assert.Equal(t, "1,500,000", got.Values["amount"])
	assert.Equal(t, "sms", p.Name())
}

func TestPatternProvider_Send_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{name: "invalid credentials", status: http.StatusUnauthorized, body: `{"error":"bad key"}`, permanent: true},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: `{"error":"unknown pattern"}`, permanent: true},
		{name: "gateway down", status: http.StatusBadGateway, body: `upstream error`, permanent: false},
		{name: "refused in body", status: http.StatusOK, body: `{"status":"failed","error":"blacklisted"}`, permanent: true},
		{name: "garbage body", status: http.StatusOK, body: `<html>`, permanent: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := NewPatternProvider(server.URL, "key", "secret", server.Client()).
				Send(context.Background(), "0912", "tpl", nil)

			require.Error(t, err)
			assert.Equal(t, tt.permanent, delivery.IsPermanent(err))
		})
	}
}

func TestPatternProvider_Send_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewPatternProvider(url, "key", "secret", nil).Send(context.Background(), "0912", "tpl", nil)

	require.Error(t, err)
	assert.False(t, delivery.IsPermanent(err))
}
