package models

import (
	"time"

	"github.com/google/uuid"
)

// Household is the SMS recipient read model. Anonymization clears the
// contact details and permanently stops pickup messaging for the household.
type Household struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PhoneNumber  string     `db:"phone_number" json:"phone_number"`
	Locale       string     `db:"locale" json:"locale"`
	AnonymizedAt *time.Time `db:"anonymized_at" json:"anonymized_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Household) TableName() string {
	return "households"
}

// Anonymized reports whether the household's personal data has been erased
func (h *Household) Anonymized() bool {
	return h.AnonymizedAt != nil
}

// Location is a pickup site appointments are booked at
type Location struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Location) TableName() string {
	return "locations"
}
