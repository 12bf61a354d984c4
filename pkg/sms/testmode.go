package sms

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
)

// TestSender logs sends without calling the provider. Used in local and CI
// environments where no gateway credentials exist.
type TestSender struct {
	logger ectologger.Logger
}

// NewTestSender creates a Sender that accepts every message
func NewTestSender(logger ectologger.Logger) *TestSender {
	return &TestSender{logger: logger}
}

func (s *TestSender) Send(ctx context.Context, msg Message) (*SendResult, error) {
	id := "test-" + uuid.NewString()

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"recipient":           maskRecipient(msg.To),
		"provider_message_id": id,
		"text":                msg.Text,
	}).Info("SMS test mode, message not sent")

	return &SendResult{ProviderMessageID: id}, nil
}
