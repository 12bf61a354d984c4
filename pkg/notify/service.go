package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/clock"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const defaultHistoryLimit = 50

// Service wires appointment changes to the notifications they produce. Every
// appointment mutation and the records it queues commit in one transaction,
// so a rolled back appointment never leaves a message behind.
type Service struct {
	db            database.DB
	notifications *repositories.NotificationRepository
	appointments  *repositories.AppointmentRepository
	households    *repositories.HouseholdRepository
	renderer      *Renderer
	compensator   *Compensator
	emitter       *events.Emitter
	clock         *clock.WallClock
	logger        ectologger.Logger
}

// NewService creates a new notification service
func NewService(
	db database.DB,
	notifications *repositories.NotificationRepository,
	appointments *repositories.AppointmentRepository,
	households *repositories.HouseholdRepository,
	renderer *Renderer,
	emitter *events.Emitter,
	wallClock *clock.WallClock,
	logger ectologger.Logger,
) *Service {
	return &Service{
		db:            db,
		notifications: notifications,
		appointments:  appointments,
		households:    households,
		renderer:      renderer,
		compensator:   NewCompensator(notifications, renderer, wallClock, logger),
		emitter:       emitter,
		clock:         wallClock,
		logger:        logger,
	}
}

// appointmentNotice builds the notification record for an appointment-bound
// intent from the current appointment state.
func appointmentNotice(renderer *Renderer, intent models.Intent, details *models.AppointmentDetails, idempotencyKey string, dueAt time.Time) *models.Notification {
	locale := NormalizeLocale(details.HouseholdLocale)
	return &models.Notification{
		Intent:         intent,
		AppointmentID:  &details.ID,
		HouseholdID:    details.HouseholdID,
		Recipient:      details.PhoneNumber,
		RenderedText:   renderer.RenderAppointment(intent, locale, details),
		Locale:         locale,
		IdempotencyKey: idempotencyKey,
		DueAt:          dueAt,
	}
}

func (s *Service) recordEnqueue(ctx context.Context, notification *models.Notification, created bool) {
	metrics.RecordEnqueue(string(notification.Intent), created)
	if created {
		s.emitter.EmitQueued(ctx, notification)
	}
}

// CreateAppointment stores a new appointment and queues its pickup reminder
// in the same transaction. The reminder is due the lead time before the
// window, or shortly after now for windows already close.
func (s *Service) CreateAppointment(ctx context.Context, appointment *models.Appointment) error {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.CreateAppointment")
	defer span.End()

	txCtx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if err := s.appointments.Create(txCtx, appointment); err != nil {
		return err
	}

	details, err := s.appointments.GetDetails(txCtx, appointment.ID)
	if err != nil {
		return err
	}
	if details.PhoneNumber == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "household has no phone number")
	}

	now := s.clock.Now().Time()
	reminder := appointmentNotice(
		s.renderer,
		models.IntentPickupReminder,
		details,
		models.AppointmentIdempotencyKey(models.IntentPickupReminder, appointment.ID),
		ReminderDueAt(details.PickupWindowStart, now),
	)

	created, err := s.notifications.Enqueue(txCtx, reminder)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	s.recordEnqueue(ctx, reminder, created)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"appointment_id":  appointment.ID,
		"reminder_due_at": reminder.DueAt,
	}).Info("Created appointment with pickup reminder")
	return nil
}

// RescheduleAppointment moves an appointment's pickup window and queues a
// pickup updated notice in the same transaction. Any still queued reminder is
// left alone; dispatch re-renders it against the new window when its time
// comes.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, start, end time.Time) (*models.Appointment, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.RescheduleAppointment")
	defer span.End()

	txCtx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if err := s.appointments.UpdateWindow(txCtx, id, start, end); err != nil {
		return nil, err
	}

	details, err := s.appointments.GetDetails(txCtx, id)
	if err != nil {
		return nil, err
	}

	var notice *models.Notification
	var created bool
	if details.PhoneNumber != "" {
		notice = appointmentNotice(
			s.renderer,
			models.IntentPickupUpdated,
			details,
			models.AppointmentIdempotencyKey(models.IntentPickupUpdated, id),
			ImmediateDueAt(s.clock.Now().Time()),
		)
		created, err = s.notifications.Enqueue(txCtx, notice)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	if notice != nil {
		s.recordEnqueue(ctx, notice, created)
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"appointment_id": id,
		"window_start":   start,
		"window_end":     end,
		"notice_queued":  created,
	}).Info("Rescheduled appointment")
	return &details.Appointment, nil
}

// CancelAppointment soft deletes an appointment and compensates its
// notifications inside the same transaction. Records that never went out are
// cancelled silently; when a message already reached the household, exactly
// one cancellation notice is queued, keyed on the appointment so repeated
// cancellations cannot double-send. The returned flags tell the caller which
// of the two happened.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*models.CancellationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.CancelAppointment")
	defer span.End()

	txCtx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if err := s.appointments.SoftDelete(txCtx, id); err != nil {
		return nil, err
	}

	details, err := s.appointments.GetDetails(txCtx, id)
	if err != nil {
		return nil, err
	}

	result, notice, err := s.compensator.OnAppointmentCancelled(txCtx, details)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	metrics.RecordCompensation(result.SMSCancelled, result.SMSSent)
	if notice != nil {
		s.recordEnqueue(ctx, notice, result.SMSSent)
	}
	s.emitter.EmitCompensated(ctx, id.String(), details.HouseholdID.String(), *result)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"appointment_id": id,
		"sms_cancelled":  result.SMSCancelled,
		"sms_sent":       result.SMSSent,
		"operator":       appctx.GetUserID(ctx),
	}).Info("Cancelled appointment")
	return result, nil
}

// EnqueueReminder manually queues the pickup reminder for an appointment.
// The natural idempotency key means this is a no-op when the reminder
// already exists in any state; use EnqueueResend to get past a terminal
// record.
func (s *Service) EnqueueReminder(ctx context.Context, appointmentID uuid.UUID) (*models.Notification, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.EnqueueReminder")
	defer span.End()

	details, err := s.appointments.GetDetails(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	if details.Cancelled() {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, "appointment is cancelled")
	}
	if details.PhoneNumber == "" {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, "household has no phone number")
	}

	now := s.clock.Now().Time()
	reminder := appointmentNotice(
		s.renderer,
		models.IntentPickupReminder,
		details,
		models.AppointmentIdempotencyKey(models.IntentPickupReminder, appointmentID),
		ReminderDueAt(details.PickupWindowStart, now),
	)

	created, err := s.notifications.Enqueue(ctx, reminder)
	if err != nil {
		return nil, false, err
	}

	s.recordEnqueue(ctx, reminder, created)
	return reminder, created, nil
}

// EnqueueUpdate manually queues the pickup updated notice for an
// appointment, re-announcing its current window. It shares the natural key
// with the notice a reschedule queues, so calling it right after a
// reschedule is a no-op.
func (s *Service) EnqueueUpdate(ctx context.Context, appointmentID uuid.UUID) (*models.Notification, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.EnqueueUpdate")
	defer span.End()

	details, err := s.appointments.GetDetails(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	if details.Cancelled() {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, "appointment is cancelled")
	}
	if details.PhoneNumber == "" {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, "household has no phone number")
	}

	notice := appointmentNotice(
		s.renderer,
		models.IntentPickupUpdated,
		details,
		models.AppointmentIdempotencyKey(models.IntentPickupUpdated, appointmentID),
		ImmediateDueAt(s.clock.Now().Time()),
	)

	created, err := s.notifications.Enqueue(ctx, notice)
	if err != nil {
		return nil, false, err
	}

	s.recordEnqueue(ctx, notice, created)
	return notice, created, nil
}

// EnqueueResend queues a fresh pickup reminder under a nonce-suffixed key,
// getting past the terminal record that blocks the natural key. This is the
// only sanctioned retry path after a failed send. A blank nonce gets a
// generated one; reusing a nonce dedupes like any other key.
func (s *Service) EnqueueResend(ctx context.Context, appointmentID uuid.UUID, nonce string) (*models.Notification, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.EnqueueResend")
	defer span.End()

	details, err := s.appointments.GetDetails(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	if details.Cancelled() {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, "appointment is cancelled")
	}
	if details.PhoneNumber == "" {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, "household has no phone number")
	}

	if nonce == "" {
		nonce = uuid.NewString()
	}

	resend := appointmentNotice(
		s.renderer,
		models.IntentPickupReminder,
		details,
		models.ResendIdempotencyKey(models.IntentPickupReminder, appointmentID, nonce),
		s.clock.Now().Time(),
	)

	created, err := s.notifications.Enqueue(ctx, resend)
	if err != nil {
		return nil, false, err
	}

	s.recordEnqueue(ctx, resend, created)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"appointment_id":  appointmentID,
		"notification_id": resend.ID,
		"created":         created,
		"operator":        appctx.GetUserID(ctx),
	}).Info("Queued manual resend")
	return resend, created, nil
}

// enqueueEnrolment queues a household enrolment message of the given intent.
func (s *Service) enqueueEnrolment(ctx context.Context, intent models.Intent, householdID uuid.UUID) (*models.Notification, bool, error) {
	household, err := s.households.GetByID(ctx, householdID)
	if err != nil {
		return nil, false, err
	}
	if household.Anonymized() {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, "household is anonymized")
	}
	if household.PhoneNumber == "" {
		return nil, false, httperror.NewHTTPError(http.StatusBadRequest, "household has no phone number")
	}

	locale := NormalizeLocale(household.Locale)
	notification := &models.Notification{
		Intent:         intent,
		HouseholdID:    householdID,
		Recipient:      household.PhoneNumber,
		RenderedText:   s.renderer.RenderEnrolment(intent, locale),
		Locale:         locale,
		IdempotencyKey: models.EnrolmentIdempotencyKey(intent, householdID, household.PhoneNumber),
		DueAt:          s.clock.Now().Time(),
	}

	created, err := s.notifications.Enqueue(ctx, notification)
	if err != nil {
		return nil, false, err
	}

	s.recordEnqueue(ctx, notification, created)
	return notification, created, nil
}

// EnqueueEnrolment queues the welcome message for a newly enrolled
// household. The key includes the phone number, so a household that changes
// number can be welcomed once more on the new one.
func (s *Service) EnqueueEnrolment(ctx context.Context, householdID uuid.UUID) (*models.Notification, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.EnqueueEnrolment")
	defer span.End()

	return s.enqueueEnrolment(ctx, models.IntentEnrolment, householdID)
}

// EnqueueConsentEnrolment queues the consent confirmation message for a
// household.
func (s *Service) EnqueueConsentEnrolment(ctx context.Context, householdID uuid.UUID) (*models.Notification, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.EnqueueConsentEnrolment")
	defer span.End()

	return s.enqueueEnrolment(ctx, models.IntentConsentEnrolment, householdID)
}

// History returns the notification records for an appointment, newest first.
func (s *Service) History(ctx context.Context, appointmentID uuid.UUID) ([]models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.History")
	defer span.End()

	return s.notifications.ListByAppointment(ctx, appointmentID)
}

// HouseholdHistory returns the notification records for a household, newest
// first.
func (s *Service) HouseholdHistory(ctx context.Context, householdID uuid.UUID, limit int) ([]models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Service.HouseholdHistory")
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.notifications.ListByHousehold(ctx, householdID, limit)
}
