package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Event types published to the notification events topic.
const (
	EventNotificationQueued    = "notification.queued"
	EventNotificationSent      = "notification.sent"
	EventNotificationFailed    = "notification.failed"
	EventNotificationCancelled = "notification.cancelled"
	EventCompensated           = "appointment.cancellation_compensated"
)

// Emitter publishes notification lifecycle events. A nil Emitter (or one
// constructed without a producer when Kafka is disabled) is safe to call and
// emits nothing.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter. The producer may be nil.
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

func (e *Emitter) enabled() bool {
	return e != nil && e.producer != nil
}

func (e *Emitter) notificationEvent(eventType string, notification *models.Notification) *kafka.NotificationEvent {
	event := &kafka.NotificationEvent{
		EventType:      eventType,
		NotificationID: notification.ID.String(),
		Intent:         string(notification.Intent),
		HouseholdID:    notification.HouseholdID.String(),
		Status:         string(notification.Status),
	}
	if notification.AppointmentID != nil {
		event.AppointmentID = notification.AppointmentID.String()
	}
	if notification.CancelReason != nil {
		event.Reason = string(*notification.CancelReason)
	}
	if notification.ProviderMessageID != nil {
		event.ProviderMessageID = *notification.ProviderMessageID
	}
	return event
}

func (e *Emitter) emit(ctx context.Context, spanName string, event *kafka.NotificationEvent) {
	if !e.enabled() {
		return
	}

	ctx, span := tracing.StartSpan(ctx, spanName)
	defer span.End()

	if err := e.producer.PublishNotificationEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type":      event.EventType,
			"notification_id": event.NotificationID,
		}).Warn("Failed to emit notification event")
	}
}

// EmitQueued publishes a notification.queued event.
func (e *Emitter) EmitQueued(ctx context.Context, notification *models.Notification) {
	e.emit(ctx, "events.Emitter.EmitQueued", e.notificationEvent(EventNotificationQueued, notification))
}

// EmitSent publishes a notification.sent event.
func (e *Emitter) EmitSent(ctx context.Context, notification *models.Notification) {
	e.emit(ctx, "events.Emitter.EmitSent", e.notificationEvent(EventNotificationSent, notification))
}

// EmitFailed publishes a notification.failed event.
func (e *Emitter) EmitFailed(ctx context.Context, notification *models.Notification) {
	e.emit(ctx, "events.Emitter.EmitFailed", e.notificationEvent(EventNotificationFailed, notification))
}

// EmitCancelled publishes a notification.cancelled event.
func (e *Emitter) EmitCancelled(ctx context.Context, notification *models.Notification) {
	e.emit(ctx, "events.Emitter.EmitCancelled", e.notificationEvent(EventNotificationCancelled, notification))
}

// EmitCompensated publishes a single appointment.cancellation_compensated
// event describing the outcome of cancelling an appointment's notifications.
func (e *Emitter) EmitCompensated(ctx context.Context, appointmentID string, householdID string, result models.CancellationResult) {
	event := &kafka.NotificationEvent{
		EventType:     EventCompensated,
		AppointmentID: appointmentID,
		HouseholdID:   householdID,
		SMSCancelled:  &result.SMSCancelled,
		SMSSent:       &result.SMSSent,
	}
	e.emit(ctx, "events.Emitter.EmitCompensated", event)
}
