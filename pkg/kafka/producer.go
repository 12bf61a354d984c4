package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NotificationEvent represents a lifecycle change of a notification record
type NotificationEvent struct {
	EventType         string    `json:"event_type"`
	NotificationID    string    `json:"notification_id,omitempty"`
	Intent            string    `json:"intent,omitempty"`
	AppointmentID     string    `json:"appointment_id,omitempty"`
	HouseholdID       string    `json:"household_id,omitempty"`
	Status            string    `json:"status,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	SMSCancelled      *bool     `json:"sms_cancelled,omitempty"`
	SMSSent           *bool     `json:"sms_sent,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// PublishNotificationEvent publishes a notification lifecycle event. The
// message key is the appointment id when the event has one, so every event
// about an appointment lands on the same partition in order.
func (p *Producer) PublishNotificationEvent(ctx context.Context, event *NotificationEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishNotificationEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	key := event.AppointmentID
	if key == "" {
		key = event.HouseholdID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "intent", Value: []byte(event.Intent)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error")
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish notification event")
		return err
	}

	metrics.RecordKafkaPublish(p.topic, "ok")

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":      event.EventType,
		"notification_id": event.NotificationID,
		"intent":          event.Intent,
	}).Debug("Published notification event")

	return nil
}
