// Package sms sends messages through the SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	// DefaultTimeout is the default provider request timeout
	DefaultTimeout = 15 * time.Second

	// MaxResponseSize is the maximum provider response body size (64KB)
	MaxResponseSize = 64 * 1024
)

// Message is an outbound SMS.
type Message struct {
	To   string
	Text string
}

// SendResult is the provider acknowledgement for an accepted message.
type SendResult struct {
	ProviderMessageID string
}

// Sender delivers SMS messages.
type Sender interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// Config holds SMS gateway configuration
type Config struct {
	BaseURL  string
	APIKey   string
	From     string // originator shown on the handset
	Timeout  time.Duration
	TestMode bool
}

// New builds the Sender for the configured gateway. In test mode no provider
// call is ever made and every send succeeds with a synthetic message id.
func New(cfg Config, logger ectologger.Logger) (Sender, error) {
	if cfg.TestMode {
		return NewTestSender(logger), nil
	}
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, errors.New("sms base url and api key are required outside test mode")
	}
	return NewClient(cfg, logger), nil
}

// Client sends messages through the provider's HTTP API
type Client struct {
	client  *http.Client
	logger  ectologger.Logger
	baseURL string
	apiKey  string
	from    string
}

// NewClient creates a new SMS gateway client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger:  logger,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		from:    cfg.From,
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	From string `json:"from,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send submits a message to the provider. A non-2xx response or a transport
// failure returns a *SendError carrying the failure classification.
func (c *Client) Send(ctx context.Context, msg Message) (*SendResult, error) {
	ctx, span := tracing.StartSpan(ctx, "sms.Client.Send")
	defer span.End()

	payload, err := json.Marshal(sendRequest{
		To:   msg.To,
		Text: msg.Text,
		From: c.from,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode sms request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sms request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start)

	if err != nil {
		// Timeouts and connection failures never confirm delivery either
		// way, so they classify as transient.
		sendErr := &SendError{Transient: true, Err: err}
		c.recordFailure(ctx, msg, sendErr, duration)
		return nil, sendErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		sendErr := &SendError{Transient: true, Err: errors.Wrap(err, "failed to read provider response")}
		c.recordFailure(ctx, msg, sendErr, duration)
		return nil, sendErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sendErr := &SendError{
			HTTPStatus: resp.StatusCode,
			Body:       string(body),
			RetryAfter: resp.Header.Get("Retry-After"),
			Transient:  transientStatus(resp.StatusCode),
		}
		c.recordFailure(ctx, msg, sendErr, duration)
		return nil, sendErr
	}

	metrics.RecordSMSSend("ok", duration.Seconds())

	var ack sendResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Provider accepted message but returned an unreadable body")
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"recipient":           maskRecipient(msg.To),
		"provider_message_id": ack.MessageID,
		"duration":            duration.String(),
	}).Debug("Provider accepted message")

	return &SendResult{ProviderMessageID: ack.MessageID}, nil
}

func (c *Client) recordFailure(ctx context.Context, msg Message, sendErr *SendError, duration time.Duration) {
	metrics.RecordSMSSend("error", duration.Seconds())
	metrics.SMSSendFailures.WithLabelValues(sendErr.Classification()).Inc()

	c.logger.WithContext(ctx).WithError(sendErr).WithFields(map[string]any{
		"recipient":      maskRecipient(msg.To),
		"status":         sendErr.HTTPStatus,
		"classification": sendErr.Classification(),
	}).Error("Provider rejected message")
}

// maskRecipient hides all but the last two digits of a phone number in logs.
func maskRecipient(to string) string {
	if len(to) <= 2 {
		return "**"
	}
	return fmt.Sprintf("%s%s", strings.Repeat("*", len(to)-2), to[len(to)-2:])
}
