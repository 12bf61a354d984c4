package models

import (
	"time"

	"github.com/google/uuid"
)

// Intent identifies the logical event a notification is about
type Intent string

const (
	IntentPickupReminder   Intent = "pickup_reminder"
	IntentPickupUpdated    Intent = "pickup_updated"
	IntentPickupCancelled  Intent = "pickup_cancelled"
	IntentEnrolment        Intent = "enrolment"
	IntentConsentEnrolment Intent = "consent_enrolment"
)

// Valid reports whether the intent is one of the known values
func (i Intent) Valid() bool {
	switch i {
	case IntentPickupReminder, IntentPickupUpdated, IntentPickupCancelled, IntentEnrolment, IntentConsentEnrolment:
		return true
	}
	return false
}

// AppointmentBound reports whether the intent requires an appointment id.
// Enrolment intents are keyed on the household instead.
func (i Intent) AppointmentBound() bool {
	switch i {
	case IntentPickupReminder, IntentPickupUpdated, IntentPickupCancelled:
		return true
	}
	return false
}

// GatedByEligibility reports whether dispatch re-checks the owning
// appointment before sending. Cancellation notices and enrolment messages
// are always eligible once created.
func (i Intent) GatedByEligibility() bool {
	switch i {
	case IntentPickupReminder, IntentPickupUpdated:
		return true
	}
	return false
}

// NotificationStatus represents the lifecycle state of a notification
type NotificationStatus string

const (
	NotificationStatusQueued    NotificationStatus = "queued"
	NotificationStatusSending   NotificationStatus = "sending"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusCancelled NotificationStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal records never
// transition again; the only way past one is a new record under a fresh key.
func (s NotificationStatus) Terminal() bool {
	switch s {
	case NotificationStatusSent, NotificationStatusFailed, NotificationStatusCancelled:
		return true
	}
	return false
}

// CancelReason explains why a notification was cancelled without sending
type CancelReason string

const (
	CancelReasonParcelNotFound       CancelReason = "parcel_not_found"
	CancelReasonParcelDeleted        CancelReason = "parcel_deleted"
	CancelReasonParcelPickedUp       CancelReason = "parcel_picked_up"
	CancelReasonHouseholdAnonymized  CancelReason = "household_anonymized"
	CancelReasonPickupTimePassed     CancelReason = "pickup_time_passed"
	CancelReasonAppointmentCancelled CancelReason = "appointment_cancelled"
)

// Notification is one scheduled SMS with its dedupe key and dispatch state
type Notification struct {
	ID                uuid.UUID          `db:"id" json:"id"`
	Intent            Intent             `db:"intent" json:"intent"`
	AppointmentID     *uuid.UUID         `db:"appointment_id" json:"appointment_id,omitempty"`
	HouseholdID       uuid.UUID          `db:"household_id" json:"household_id"`
	Recipient         string             `db:"recipient" json:"recipient"`
	RenderedText      string             `db:"rendered_text" json:"rendered_text"`
	Locale            string             `db:"locale" json:"locale"`
	Status            NotificationStatus `db:"status" json:"status"`
	IdempotencyKey    string             `db:"idempotency_key" json:"idempotency_key"`
	CancelReason      *CancelReason      `db:"cancel_reason" json:"cancel_reason,omitempty"`
	ProviderMessageID *string            `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ErrorMessage      *string            `db:"error_message" json:"error_message,omitempty"`
	DueAt             time.Time          `db:"due_at" json:"due_at"`
	SentAt            *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Notification) TableName() string {
	return "notifications"
}

// AppointmentIdempotencyKey derives the dedupe key for appointment-bound
// intents. The key depends only on the intent and the appointment, never on
// message text or timestamps, so re-creation attempts collide instead of
// duplicating.
func AppointmentIdempotencyKey(intent Intent, appointmentID uuid.UUID) string {
	return string(intent) + ":" + appointmentID.String()
}

// EnrolmentIdempotencyKey derives the dedupe key for household enrolment
// intents.
func EnrolmentIdempotencyKey(intent Intent, householdID uuid.UUID, recipient string) string {
	return string(intent) + ":" + householdID.String() + ":" + recipient
}

// ResendIdempotencyKey appends an operator nonce to the natural key. A prior
// terminal record blocks the natural key, so every manual resend mints a
// fresh one.
func ResendIdempotencyKey(intent Intent, appointmentID uuid.UUID, nonce string) string {
	return AppointmentIdempotencyKey(intent, appointmentID) + ":" + nonce
}

// CancellationResult reports what cancelling an appointment did to its
// notifications
type CancellationResult struct {
	SMSCancelled bool `json:"sms_cancelled"`
	SMSSent      bool `json:"sms_sent"`
}
