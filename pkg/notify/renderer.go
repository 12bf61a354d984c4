package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/clover/pkg/clock"
	"github.com/Ramsey-B/clover/pkg/models"
)

// DefaultLocale is used when a household's locale has no templates.
const DefaultLocale = "da"

var supportedLocales = []string{"da", "en"}

// NormalizeLocale maps a stored locale onto one the renderer has templates
// for. Region subtags are stripped, so "en-GB" renders as "en".
func NormalizeLocale(locale string) string {
	base := strings.ToLower(locale)
	if i := strings.IndexByte(base, '-'); i >= 0 {
		base = base[:i]
	}
	if ectolinq.Contains(supportedLocales, base) {
		return base
	}
	return DefaultLocale
}

var weekdayNamesDA = map[time.Weekday]string{
	time.Monday:    "mandag",
	time.Tuesday:   "tirsdag",
	time.Wednesday: "onsdag",
	time.Thursday:  "torsdag",
	time.Friday:    "fredag",
	time.Saturday:  "lørdag",
	time.Sunday:    "søndag",
}

// Renderer produces the SMS text for each intent. Dates and times are
// always the civil projection of the pickup window, never server-local
// values.
type Renderer struct {
	clock *clock.WallClock
}

// NewRenderer creates a new message renderer
func NewRenderer(wallClock *clock.WallClock) *Renderer {
	return &Renderer{clock: wallClock}
}

func (r *Renderer) weekdayName(locale string, day time.Weekday) string {
	if locale == "en" {
		return day.String()
	}
	return weekdayNamesDA[day]
}

// RenderAppointment returns the message text for an appointment-bound intent
// in the given locale.
func (r *Renderer) RenderAppointment(intent models.Intent, locale string, details *models.AppointmentDetails) string {
	locale = NormalizeLocale(locale)

	start := r.clock.At(details.PickupWindowStart)
	end := r.clock.At(details.PickupWindowEnd)
	weekday := r.weekdayName(locale, start.Weekday())
	date := start.Format("02.01.2006")

	switch intent {
	case models.IntentPickupReminder:
		if locale == "en" {
			return fmt.Sprintf("Your parcel is ready for pickup %s %s between %s and %s at %s.",
				weekday, date, start.TimeOfDay(), end.TimeOfDay(), details.LocationName)
		}
		return fmt.Sprintf("Din pakke er klar til afhentning %s den %s mellem kl. %s og %s ved %s.",
			weekday, date, start.TimeOfDay(), end.TimeOfDay(), details.LocationName)

	case models.IntentPickupUpdated:
		if locale == "en" {
			return fmt.Sprintf("Your pickup time has changed. New time: %s %s between %s and %s at %s.",
				weekday, date, start.TimeOfDay(), end.TimeOfDay(), details.LocationName)
		}
		return fmt.Sprintf("Dit afhentningstidspunkt er ændret. Nyt tidspunkt: %s den %s mellem kl. %s og %s ved %s.",
			weekday, date, start.TimeOfDay(), end.TimeOfDay(), details.LocationName)

	case models.IntentPickupCancelled:
		if locale == "en" {
			return fmt.Sprintf("Your pickup %s %s at %s has been cancelled. Contact us to book a new time.",
				weekday, date, details.LocationName)
		}
		return fmt.Sprintf("Din afhentning %s den %s ved %s er aflyst. Kontakt os for at aftale en ny tid.",
			weekday, date, details.LocationName)
	}

	return ""
}

// RenderEnrolment returns the message text for household enrolment intents.
func (r *Renderer) RenderEnrolment(intent models.Intent, locale string) string {
	locale = NormalizeLocale(locale)

	switch intent {
	case models.IntentEnrolment:
		if locale == "en" {
			return "Welcome! You are signed up for parcel pickups and will get an SMS before each pickup."
		}
		return "Velkommen! Du er tilmeldt pakkeafhentning og får en SMS før hver afhentning."

	case models.IntentConsentEnrolment:
		if locale == "en" {
			return "You are now signed up for SMS reminders about your parcel pickups. Contact us to unsubscribe."
		}
		return "Du er nu tilmeldt SMS-påmindelser om dine pakkeafhentninger. Kontakt os for at afmelde."
	}

	return ""
}
