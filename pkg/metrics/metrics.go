// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsEnqueued tracks notification records created by intent
	NotificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "notify",
			Name:      "enqueued_total",
			Help:      "Total number of notification records enqueued by intent",
		},
		[]string{"intent"},
	)

	// NotificationsDeduplicated tracks enqueue calls that collided with an
	// existing idempotency key
	NotificationsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "notify",
			Name:      "deduplicated_total",
			Help:      "Total number of enqueue calls answered by an existing record",
		},
		[]string{"intent"},
	)

	// NotificationsDispatched tracks dispatch outcomes by intent and final status
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dispatch",
			Name:      "notifications_total",
			Help:      "Total number of dispatched notifications by intent and outcome",
		},
		[]string{"intent", "status"},
	)

	// NotificationsCancelledIneligible tracks dispatch-time cancellations by reason
	NotificationsCancelledIneligible = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dispatch",
			Name:      "ineligible_total",
			Help:      "Total number of claimed notifications cancelled by eligibility checks",
		},
		[]string{"reason"},
	)

	// NotificationsInFlight tracks claimed records currently being processed
	NotificationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Number of claimed notifications currently being processed",
		},
	)

	// SMSSendDuration tracks outbound provider call duration
	SMSSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "sms",
			Name:      "send_duration_seconds",
			Help:      "Duration of outbound SMS provider calls in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)

	// SMSSendFailures tracks provider failures by classification
	SMSSendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "sms",
			Name:      "send_failures_total",
			Help:      "Total number of failed SMS provider calls by classification",
		},
		[]string{"classification"},
	)

	// CompensationsTotal tracks cancellation compensations by outcome
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "notify",
			Name:      "compensations_total",
			Help:      "Total number of appointment cancellation compensations by outcome",
		},
		[]string{"sms_cancelled", "sms_sent"},
	)

	// RateLimitWaitTime tracks time spent waiting for the send rate limit
	RateLimitWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the SMS send rate limit in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordEnqueue records an enqueue call outcome
func RecordEnqueue(intent string, created bool) {
	if created {
		NotificationsEnqueued.WithLabelValues(intent).Inc()
		return
	}
	NotificationsDeduplicated.WithLabelValues(intent).Inc()
}

// RecordDispatch records a dispatch outcome
func RecordDispatch(intent, status string) {
	NotificationsDispatched.WithLabelValues(intent, status).Inc()
}

// RecordIneligible records a dispatch-time eligibility cancellation
func RecordIneligible(reason string) {
	NotificationsCancelledIneligible.WithLabelValues(reason).Inc()
}

// RecordSMSSend records an outbound provider call
func RecordSMSSend(status string, durationSeconds float64) {
	SMSSendDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordCompensation records a cancellation compensation outcome
func RecordCompensation(smsCancelled, smsSent bool) {
	CompensationsTotal.WithLabelValues(boolLabel(smsCancelled), boolLabel(smsSent)).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
