// Package sms delivers verification codes through an HTTP SMS gateway.
package sms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"dhoka/internal/observability"
)

// GatewaySender sends messages with a GET request carrying api_key, msg and to
// query parameters. Any 2xx response counts as delivered.
type GatewaySender struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewGatewaySender creates a sender for the gateway at endpoint.
func NewGatewaySender(endpoint, apiKey string) *GatewaySender {
	return &GatewaySender{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers message to phone. It returns false with a nil error when the
// gateway answers but refuses the message.
func (s *GatewaySender) Send(ctx context.Context, phone, message string) (bool, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return false, fmt.Errorf("sms gateway url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", s.apiKey)
	q.Set("msg", message)
	q.Set("to", phone)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.GlobalLogger.WarnContext(ctx, "sms gateway refused message",
			slog.Int("status", resp.StatusCode))
		return false, nil
	}
	return true, nil
}

// LogSender stands in for a gateway in development. It records that a
// message was sent without logging its contents.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, phone, _ string) (bool, error) {
	observability.GlobalLogger.InfoContext(ctx, "sms gateway not configured, message dropped",
		slog.String("to", mask(phone)))
	return true, nil
}

func mask(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "******" + phone[len(phone)-4:]
}
