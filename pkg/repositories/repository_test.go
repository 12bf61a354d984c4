package repositories_test

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "postgres"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "postgres"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "clover"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

// assertNotFound asserts that err is an HTTP 404 error
func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err), "expected 404, got: %d", httperror.GetStatusCode(err))
}

func createTestHousehold(t *testing.T, db database.DB) *models.Household {
	t.Helper()
	repo := repositories.NewHouseholdRepository(db, getTestLogger())
	household := &models.Household{
		PhoneNumber: "+4512345678",
		Locale:      "da",
	}
	require.NoError(t, repo.Create(context.Background(), household))
	return household
}

func createTestLocation(t *testing.T, db database.DB) *models.Location {
	t.Helper()
	repo := repositories.NewLocationRepository(db, getTestLogger())
	location := &models.Location{
		Name: "Fælledparken Depot",
	}
	require.NoError(t, repo.Create(context.Background(), location))
	return location
}

func createTestAppointment(t *testing.T, db database.DB, householdID, locationID uuid.UUID, start, end time.Time) *models.Appointment {
	t.Helper()
	repo := repositories.NewAppointmentRepository(db, getTestLogger())
	appointment := &models.Appointment{
		HouseholdID:       householdID,
		LocationID:        locationID,
		PickupWindowStart: start,
		PickupWindowEnd:   end,
	}
	require.NoError(t, repo.Create(context.Background(), appointment))
	return appointment
}

func queuedNotification(appointment *models.Appointment, intent models.Intent, dueAt time.Time) *models.Notification {
	return &models.Notification{
		Intent:         intent,
		AppointmentID:  &appointment.ID,
		HouseholdID:    appointment.HouseholdID,
		Recipient:      "+4512345678",
		RenderedText:   "Your parcel is ready for pickup",
		Locale:         "da",
		IdempotencyKey: models.AppointmentIdempotencyKey(intent, appointment.ID),
		DueAt:          dueAt,
	}
}

func containsNotification(list []models.Notification, id uuid.UUID) bool {
	return indexOfNotification(list, id) >= 0
}

func indexOfNotification(list []models.Notification, id uuid.UUID) int {
	for i, n := range list {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func TestSharedTransactionRollback(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	appointments := repositories.NewAppointmentRepository(db, logger)
	notifications := repositories.NewNotificationRepository(db, logger)
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	appointment := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))

	reminder := queuedNotification(appointment, models.IntentPickupReminder, time.Now().Add(24*time.Hour))
	_, err := notifications.Enqueue(ctx, reminder)
	require.NoError(t, err)

	// Run the soft delete and the compensation inside one transaction, then
	// roll it back; none of it may stick.
	txCtx, tx, err := db.GetTx(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, appointments.SoftDelete(txCtx, appointment.ID))
	count, err := notifications.CancelAllNonTerminal(txCtx, appointment.ID, models.CancelReasonAppointmentCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	notice := queuedNotification(appointment, models.IntentPickupCancelled, time.Now())
	created, err := notifications.Enqueue(txCtx, notice)
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, tx.Rollback(ctx))

	intact, err := appointments.GetByID(ctx, appointment.ID)
	require.NoError(t, err)
	assert.False(t, intact.Cancelled())

	stillQueued, err := notifications.GetByID(ctx, reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusQueued, stillQueued.Status)

	_, err = notifications.GetByID(ctx, notice.ID)
	assertNotFound(t, err)
}

func TestSharedTransactionCommit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	appointments := repositories.NewAppointmentRepository(db, logger)
	notifications := repositories.NewNotificationRepository(db, logger)
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	appointment := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))

	reminder := queuedNotification(appointment, models.IntentPickupReminder, time.Now().Add(24*time.Hour))
	_, err := notifications.Enqueue(ctx, reminder)
	require.NoError(t, err)

	txCtx, tx, err := db.GetTx(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, appointments.SoftDelete(txCtx, appointment.ID))
	_, err = notifications.CancelAllNonTerminal(txCtx, appointment.ID, models.CancelReasonAppointmentCancelled)
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))

	gone, err := appointments.GetByID(ctx, appointment.ID)
	require.NoError(t, err)
	assert.True(t, gone.Cancelled())

	cancelled, err := notifications.GetByID(ctx, reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusCancelled, cancelled.Status)
}
