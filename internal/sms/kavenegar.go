package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dhoka/internal/observability"

	"github.com/kavenegar/kavenegar-go"
)

// KavenegarSender delivers messages through the Kavenegar REST API.
type KavenegarSender struct {
	sender string
	send   func(receptor, message string) error
}

// NewKavenegarSender creates a sender using apiKey. sender is the line number
// messages are sent from; empty uses the account default.
func NewKavenegarSender(apiKey, sender string) *KavenegarSender {
	api := kavenegar.New(apiKey)
	return &KavenegarSender{
		sender: sender,
		send: func(receptor, message string) error {
			_, err := api.Message.Send(sender, []string{receptor}, message, nil)
			return err
		},
	}
}

// Send reports false with a nil error when Kavenegar rejects the message, and
// an error when the API could not be reached.
func (s *KavenegarSender) Send(ctx context.Context, phone, message string) (bool, error) {
	err := s.send(phone, message)
	if err == nil {
		return true, nil
	}

	var apiErr *kavenegar.APIError
	if errors.As(err, &apiErr) {
		observability.GlobalLogger.WarnContext(ctx, "kavenegar refused message",
			slog.String("to", mask(phone)), slog.String("error", err.Error()))
		return false, nil
	}
	var httpErr *kavenegar.HTTPError
	if errors.As(err, &httpErr) {
		return false, fmt.Errorf("kavenegar http: %w", err)
	}
	return false, fmt.Errorf("kavenegar: %w", err)
}
