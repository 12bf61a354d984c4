package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestAppointmentAPI_CreateQueuesReminder(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	server := newTestServer(t, db)

	household := server.createHousehold(t)
	location := server.createLocation(t)

	start := time.Now().Add(72 * time.Hour)
	appointment := server.createAppointment(t, household.ID.String(), location.ID.String(), start, start.Add(2*time.Hour))
	assert.Equal(t, household.ID, appointment.HouseholdID)

	rec := server.request("GET", "/appointments/"+appointment.ID.String()+"/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	history := decode[[]models.Notification](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, models.IntentPickupReminder, history[0].Intent)
	assert.Equal(t, models.NotificationStatusQueued, history[0].Status)
	assert.Equal(t, household.PhoneNumber, history[0].Recipient)
}

func TestAppointmentAPI_CreateValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	server := newTestServer(t, db)

	household := server.createHousehold(t)
	location := server.createLocation(t)
	start := time.Now().Add(72 * time.Hour)

	t.Run("window end before start", func(t *testing.T) {
		rec := server.request("POST", "/appointments", map[string]any{
			"household_id":        household.ID.String(),
			"location_id":         location.ID.String(),
			"pickup_window_start": start,
			"pickup_window_end":   start.Add(-time.Hour),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing household", func(t *testing.T) {
		rec := server.request("POST", "/appointments", map[string]any{
			"location_id":         location.ID.String(),
			"pickup_window_start": start,
			"pickup_window_end":   start.Add(2 * time.Hour),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown household", func(t *testing.T) {
		rec := server.request("POST", "/appointments", map[string]any{
			"household_id":        uuid.NewString(),
			"location_id":         location.ID.String(),
			"pickup_window_start": start,
			"pickup_window_end":   start.Add(2 * time.Hour),
		})
		assert.NotEqual(t, http.StatusCreated, rec.Code)
	})
}

func TestAppointmentAPI_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	server := newTestServer(t, db)

	rec := server.request("GET", "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = server.request("GET", "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppointmentAPI_RescheduleQueuesUpdateNotice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	server := newTestServer(t, db)

	household := server.createHousehold(t)
	location := server.createLocation(t)
	start := time.Now().Add(72 * time.Hour)
	appointment := server.createAppointment(t, household.ID.String(), location.ID.String(), start, start.Add(2*time.Hour))

	newStart := start.Add(24 * time.Hour)
	rec := server.request("PUT", "/appointments/"+appointment.ID.String(), map[string]any{
		"pickup_window_start": newStart,
		"pickup_window_end":   newStart.Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[models.Appointment](t, rec)
	assert.WithinDuration(t, newStart, updated.PickupWindowStart, time.Second)

	rec = server.request("GET", "/appointments/"+appointment.ID.String()+"/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]models.Notification](t, rec)
	require.Len(t, history, 2)
}

func TestAppointmentAPI_CancelReportsCompensation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	server := newTestServer(t, db)

	household := server.createHousehold(t)
	location := server.createLocation(t)
	start := time.Now().Add(72 * time.Hour)
	appointment := server.createAppointment(t, household.ID.String(), location.ID.String(), start, start.Add(2*time.Hour))

	rec := server.request("DELETE", "/appointments/"+appointment.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[models.CancellationResult](t, rec)
	assert.True(t, result.SMSCancelled)
	assert.False(t, result.SMSSent)

	// The appointment is soft deleted, not gone
	rec = server.request("GET", "/appointments/"+appointment.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decode[models.Appointment](t, rec)
	assert.NotNil(t, cancelled.CancelledAt)
}

func TestAppointmentAPI_SetFulfilled(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	server := newTestServer(t, db)

	household := server.createHousehold(t)
	location := server.createLocation(t)
	start := time.Now().Add(72 * time.Hour)
	appointment := server.createAppointment(t, household.ID.String(), location.ID.String(), start, start.Add(2*time.Hour))

	rec := server.request("PUT", "/appointments/"+appointment.ID.String()+"/fulfilled", map[string]any{"fulfilled": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = server.request("GET", "/appointments/"+appointment.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decode[models.Appointment](t, rec)
	assert.True(t, fetched.IsFulfilled)

	// Missing flag is a validation error, not a default to false
	rec = server.request("PUT", "/appointments/"+appointment.ID.String()+"/fulfilled", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppointmentAPI_ManualEnqueueEndpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	server := newTestServer(t, db)

	household := server.createHousehold(t)
	location := server.createLocation(t)
	start := time.Now().Add(72 * time.Hour)
	appointment := server.createAppointment(t, household.ID.String(), location.ID.String(), start, start.Add(2*time.Hour))
	base := "/appointments/" + appointment.ID.String() + "/notifications"

	// The reminder already exists from creation, so the manual enqueue is
	// answered by it with a 200
	rec := server.request("POST", base+"/reminder", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reminder := decode[models.Notification](t, rec)
	assert.Equal(t, models.IntentPickupReminder, reminder.Intent)

	rec = server.request("POST", base+"/update", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	notice := decode[models.Notification](t, rec)
	assert.Equal(t, models.IntentPickupUpdated, notice.Intent)

	rec = server.request("POST", base+"/update", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = server.request("POST", base+"/resend", map[string]string{"nonce": "op-7"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resend := decode[models.Notification](t, rec)
	assert.Contains(t, resend.IdempotencyKey, "op-7")

	rec = server.request("POST", base+"/resend", map[string]string{"nonce": "op-7"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// A blank nonce mints a fresh key every time
	rec = server.request("POST", base+"/resend", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
