package models

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is a scheduled parcel pickup window for a household
type Appointment struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	HouseholdID       uuid.UUID  `db:"household_id" json:"household_id"`
	LocationID        uuid.UUID  `db:"location_id" json:"location_id"`
	PickupWindowStart time.Time  `db:"pickup_window_start" json:"pickup_window_start"`
	PickupWindowEnd   time.Time  `db:"pickup_window_end" json:"pickup_window_end"`
	IsFulfilled       bool       `db:"is_fulfilled" json:"is_fulfilled"`
	CancelledAt       *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Appointment) TableName() string {
	return "appointments"
}

// Cancelled reports whether the appointment has been soft-deleted
func (a *Appointment) Cancelled() bool {
	return a.CancelledAt != nil
}

// AppointmentDetails is the joined read model dispatch works from: the
// appointment plus the current household contact state and the pickup
// location name
type AppointmentDetails struct {
	Appointment
	LocationName        string `db:"location_name" json:"location_name"`
	PhoneNumber         string `db:"phone_number" json:"phone_number"`
	HouseholdLocale     string `db:"household_locale" json:"household_locale"`
	HouseholdAnonymized bool   `db:"household_anonymized" json:"household_anonymized"`
}
