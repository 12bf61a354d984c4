package repositories_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

func TestNotificationRepository_EnqueueDedupe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewNotificationRepository(db, getTestLogger())
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	appointment := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))

	first := queuedNotification(appointment, models.IntentPickupReminder, time.Now().Add(24*time.Hour))
	created, err := repo.Enqueue(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.Equal(t, models.NotificationStatusQueued, first.Status)
	assert.False(t, first.CreatedAt.IsZero())

	// Same key again: the original record answers, the new content is dropped
	second := queuedNotification(appointment, models.IntentPickupReminder, time.Now().Add(48*time.Hour))
	second.RenderedText = "Different text that should not win"
	created, err = repo.Enqueue(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Your parcel is ready for pickup", second.RenderedText)

	// A different intent under the same appointment is a different key
	update := queuedNotification(appointment, models.IntentPickupUpdated, time.Now())
	created, err = repo.Enqueue(ctx, update)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, update.ID)

	// Missing key is rejected
	invalid := queuedNotification(appointment, models.IntentPickupReminder, time.Now())
	invalid.IdempotencyKey = ""
	_, err = repo.Enqueue(ctx, invalid)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestNotificationRepository_FailedRecordBlocksKey(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewNotificationRepository(db, getTestLogger())
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	appointment := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))

	notification := queuedNotification(appointment, models.IntentPickupReminder, time.Now().Add(-time.Minute))
	created, err := repo.Enqueue(ctx, notification)
	require.NoError(t, err)
	require.True(t, created)

	claimed, err := repo.ClaimDue(ctx, 500, time.Now())
	require.NoError(t, err)
	require.True(t, containsNotification(claimed, notification.ID))

	require.NoError(t, repo.MarkFailed(ctx, notification.ID, "provider returned status 400"))

	// The failed record still owns the key; enqueue does not resurrect it
	retry := queuedNotification(appointment, models.IntentPickupReminder, time.Now())
	created, err = repo.Enqueue(ctx, retry)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, notification.ID, retry.ID)
	assert.Equal(t, models.NotificationStatusFailed, retry.Status)

	// A nonce-suffixed resend key creates a fresh record
	resend := queuedNotification(appointment, models.IntentPickupReminder, time.Now())
	resend.IdempotencyKey = models.ResendIdempotencyKey(models.IntentPickupReminder, appointment.ID, uuid.NewString())
	created, err = repo.Enqueue(ctx, resend)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, notification.ID, resend.ID)
}

func TestNotificationRepository_ClaimAndFinalize(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewNotificationRepository(db, getTestLogger())
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	appointment := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))

	due := queuedNotification(appointment, models.IntentPickupReminder, time.Now().Add(-2*time.Hour))
	_, err := repo.Enqueue(ctx, due)
	require.NoError(t, err)

	future := queuedNotification(appointment, models.IntentPickupUpdated, time.Now().Add(24*time.Hour))
	_, err = repo.Enqueue(ctx, future)
	require.NoError(t, err)

	// Finalizing an unclaimed record is a lost race, not a transition
	err = repo.MarkSent(ctx, due.ID, "msg-1", time.Now())
	assert.ErrorIs(t, err, repositories.ErrNotClaimed)

	claimed, err := repo.ClaimDue(ctx, 500, time.Now())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(claimed), 500)
	assert.True(t, containsNotification(claimed, due.ID))
	assert.False(t, containsNotification(claimed, future.ID))
	for _, n := range claimed {
		assert.Equal(t, models.NotificationStatusSending, n.Status)
	}

	// A second claim pass cannot hand the same record out again
	reclaimed, err := repo.ClaimDue(ctx, 500, time.Now())
	require.NoError(t, err)
	assert.False(t, containsNotification(reclaimed, due.ID))

	sentAt := time.Now().UTC()
	require.NoError(t, repo.MarkSent(ctx, due.ID, "msg-42", sentAt))

	final, err := repo.GetByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusSent, final.Status)
	require.NotNil(t, final.ProviderMessageID)
	assert.Equal(t, "msg-42", *final.ProviderMessageID)
	require.NotNil(t, final.SentAt)
	assert.WithinDuration(t, sentAt, *final.SentAt, time.Second)

	// Sent is terminal; no further transition is possible
	err = repo.MarkFailed(ctx, due.ID, "too late")
	assert.ErrorIs(t, err, repositories.ErrNotClaimed)
}

func TestNotificationRepository_ClaimOrdersByDueTime(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewNotificationRepository(db, getTestLogger())
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	older := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))
	newer := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(96*time.Hour), time.Now().Add(98*time.Hour))

	late := queuedNotification(newer, models.IntentPickupReminder, time.Now().Add(-1*time.Hour))
	_, err := repo.Enqueue(ctx, late)
	require.NoError(t, err)

	early := queuedNotification(older, models.IntentPickupReminder, time.Now().Add(-3*time.Hour))
	_, err = repo.Enqueue(ctx, early)
	require.NoError(t, err)

	claimed, err := repo.ClaimDue(ctx, 500, time.Now())
	require.NoError(t, err)

	earlyIdx := indexOfNotification(claimed, early.ID)
	lateIdx := indexOfNotification(claimed, late.ID)
	require.GreaterOrEqual(t, earlyIdx, 0)
	require.GreaterOrEqual(t, lateIdx, 0)
	assert.Less(t, earlyIdx, lateIdx, "earlier due record should be claimed first")
}

func TestNotificationRepository_ClaimedContentAndCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewNotificationRepository(db, getTestLogger())
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	appointment := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))

	notification := queuedNotification(appointment, models.IntentPickupReminder, time.Now().Add(-time.Minute))
	_, err := repo.Enqueue(ctx, notification)
	require.NoError(t, err)

	// Content updates are reserved for claimed records
	err = repo.UpdateContent(ctx, notification.ID, "+4599999999", "rewritten")
	assert.ErrorIs(t, err, repositories.ErrNotClaimed)

	claimed, err := repo.ClaimDue(ctx, 500, time.Now())
	require.NoError(t, err)
	require.True(t, containsNotification(claimed, notification.ID))

	require.NoError(t, repo.UpdateContent(ctx, notification.ID, "+4599999999", "Your parcel moved to Sydhavn Depot"))

	refreshed, err := repo.GetByID(ctx, notification.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusSending, refreshed.Status)
	assert.Equal(t, "+4599999999", refreshed.Recipient)
	assert.Equal(t, "Your parcel moved to Sydhavn Depot", refreshed.RenderedText)

	require.NoError(t, repo.CancelClaimed(ctx, notification.ID, models.CancelReasonParcelPickedUp))

	cancelled, err := repo.GetByID(ctx, notification.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, models.CancelReasonParcelPickedUp, *cancelled.CancelReason)

	// Cancelled is terminal for content updates too
	err = repo.UpdateContent(ctx, notification.ID, "+4588888888", "stale")
	assert.ErrorIs(t, err, repositories.ErrNotClaimed)
}

func TestNotificationRepository_CancelAllNonTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewNotificationRepository(db, getTestLogger())
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	appointment := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))

	queued := queuedNotification(appointment, models.IntentPickupReminder, time.Now().Add(24*time.Hour))
	_, err := repo.Enqueue(ctx, queued)
	require.NoError(t, err)

	sent := queuedNotification(appointment, models.IntentPickupUpdated, time.Now().Add(-time.Hour))
	_, err = repo.Enqueue(ctx, sent)
	require.NoError(t, err)
	claimed, err := repo.ClaimDue(ctx, 500, time.Now())
	require.NoError(t, err)
	require.True(t, containsNotification(claimed, sent.ID))
	require.NoError(t, repo.MarkSent(ctx, sent.ID, "msg-7", time.Now()))

	hasSent, err := repo.HasSent(ctx, appointment.ID)
	require.NoError(t, err)
	assert.True(t, hasSent)

	count, err := repo.CancelAllNonTerminal(ctx, appointment.ID, models.CancelReasonAppointmentCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	cancelled, err := repo.GetByID(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, models.CancelReasonAppointmentCancelled, *cancelled.CancelReason)

	// The sent record is untouched
	untouched, err := repo.GetByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusSent, untouched.Status)

	// Cancelling again finds nothing left to cancel
	count, err = repo.CancelAllNonTerminal(ctx, appointment.ID, models.CancelReasonAppointmentCancelled)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotificationRepository_CancellationBeatsClaim(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewNotificationRepository(db, getTestLogger())
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	appointment := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))

	notification := queuedNotification(appointment, models.IntentPickupReminder, time.Now().Add(-time.Minute))
	_, err := repo.Enqueue(ctx, notification)
	require.NoError(t, err)

	claimed, err := repo.ClaimDue(ctx, 500, time.Now())
	require.NoError(t, err)
	require.True(t, containsNotification(claimed, notification.ID))

	// Cancellation lands while the worker is mid-send
	count, err := repo.CancelAllNonTerminal(ctx, appointment.ID, models.CancelReasonAppointmentCancelled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The worker's finalize loses the race and reports it
	err = repo.MarkSent(ctx, notification.ID, "msg-9", time.Now())
	assert.ErrorIs(t, err, repositories.ErrNotClaimed)

	final, err := repo.GetByID(ctx, notification.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusCancelled, final.Status)
}

func TestNotificationRepository_History(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewNotificationRepository(db, getTestLogger())
	ctx := context.Background()

	household := createTestHousehold(t, db)
	location := createTestLocation(t, db)
	first := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(72*time.Hour), time.Now().Add(74*time.Hour))
	second := createTestAppointment(t, db, household.ID, location.ID,
		time.Now().Add(96*time.Hour), time.Now().Add(98*time.Hour))

	reminder := queuedNotification(first, models.IntentPickupReminder, time.Now().Add(24*time.Hour))
	_, err := repo.Enqueue(ctx, reminder)
	require.NoError(t, err)

	update := queuedNotification(first, models.IntentPickupUpdated, time.Now())
	_, err = repo.Enqueue(ctx, update)
	require.NoError(t, err)

	other := queuedNotification(second, models.IntentPickupReminder, time.Now().Add(48*time.Hour))
	_, err = repo.Enqueue(ctx, other)
	require.NoError(t, err)

	byAppointment, err := repo.ListByAppointment(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, byAppointment, 2)
	assert.True(t, containsNotification(byAppointment, reminder.ID))
	assert.True(t, containsNotification(byAppointment, update.ID))
	assert.False(t, containsNotification(byAppointment, other.ID))

	byHousehold, err := repo.ListByHousehold(ctx, household.ID, 10)
	require.NoError(t, err)
	assert.Len(t, byHousehold, 3)

	capped, err := repo.ListByHousehold(ctx, household.ID, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}
