package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const notificationsTable = "notifications"

var notificationStruct = database.NewStruct(new(models.Notification))

// ErrNotClaimed is returned when a state transition expected the record to be
// claimed (status sending) but another worker or a cancellation got there
// first. Callers treat it as a lost race, not a failure.
var ErrNotClaimed = errors.New("notification is not claimed")

// NotificationRepository handles database operations for notification records
type NotificationRepository struct {
	*Repository
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db database.DB, logger ectologger.Logger) *NotificationRepository {
	return &NotificationRepository{
		Repository: NewRepository(db, logger),
	}
}

// Enqueue inserts a notification record unless one already exists under the
// same idempotency key. The insert and the duplicate check are a single
// statement, so concurrent calls with the same key can never both create.
// On a collision the existing record is loaded into n and created is false.
// Joins the caller's transaction when the context carries one.
func (r *NotificationRepository) Enqueue(ctx context.Context, n *models.Notification) (created bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.Enqueue")
	defer span.End()

	if n.IdempotencyKey == "" {
		return false, BadRequest("idempotency key is required")
	}

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = models.NotificationStatusQueued
	}

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	ib := database.NewInsertBuilder()
	ib.InsertInto(notificationsTable).
		Cols("id", "intent", "appointment_id", "household_id", "recipient",
			"rendered_text", "locale", "status", "idempotency_key", "due_at",
			"created_at", "updated_at").
		Values(n.ID, n.Intent, n.AppointmentID, n.HouseholdID, n.Recipient,
			n.RenderedText, n.Locale, n.Status, n.IdempotencyKey, n.DueAt,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	ib.OnConflictDoNothing("idempotency_key")
	ib.Returning("*")

	query, args := ib.Build()
	var inserted models.Notification
	err = tx.GetContext(txCtx, &inserted, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		// Some record already holds this key. Whatever state it is in, it
		// answers the call; a failed or cancelled record under the key is a
		// deliberate block, not an invitation to recreate.
		sb := notificationStruct.SelectFrom(notificationsTable)
		sb.Where(sb.Equal("idempotency_key", n.IdempotencyKey))
		existingQuery, existingArgs := sb.Build()

		var existing models.Notification
		if err := tx.GetContext(txCtx, &existing, existingQuery, existingArgs...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"idempotency_key": n.IdempotencyKey,
			}).Error("failed to load existing notification after key collision")
			return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue notification")
		}

		*n = existing
		if err := tx.Commit(ctx); err != nil {
			return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
		}

		r.logger.WithContext(ctx).WithFields(map[string]any{
			"notification_id": n.ID,
			"intent":          n.Intent,
			"idempotency_key": n.IdempotencyKey,
		}).Debug("Enqueue answered by existing notification")
		return false, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"intent":          n.Intent,
			"idempotency_key": n.IdempotencyKey,
		}).Error("failed to enqueue notification")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue notification")
	}

	*n = inserted
	if err := tx.Commit(ctx); err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": n.ID,
		"intent":          n.Intent,
		"due_at":          n.DueAt,
	}).Infof("Enqueued %s", notificationsTable)
	return true, nil
}

// GetByID retrieves a notification by ID
func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.GetByID")
	defer span.End()

	sb := notificationStruct.SelectFrom(notificationsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var notification models.Notification
	err := r.DB().GetContext(ctx, &notification, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "notification %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": id,
		}).Error("failed to get notification")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get notification")
	}

	return &notification, nil
}

// ClaimDue atomically moves up to batchSize due queued notifications to
// sending and returns them. Claimed rows belong to this caller until it
// finalizes them. Concurrent claimers skip each other's locked rows, so a
// record is only ever handed out once.
func (r *NotificationRepository) ClaimDue(ctx context.Context, batchSize int, now time.Time) ([]models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.ClaimDue")
	defer span.End()

	// Raw SQL since sqlbuilder cannot express the locking subquery
	query := `
		UPDATE notifications
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = $2 AND due_at <= $3
			ORDER BY due_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`

	start := time.Now()
	var claimed []models.Notification
	err := r.DB().SelectContext(ctx, &claimed, query,
		models.NotificationStatusSending, models.NotificationStatusQueued, now, batchSize)
	metrics.DatabaseQueryDuration.WithLabelValues("claim_due").Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to claim due notifications")
		return nil, err
	}

	if len(claimed) > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"count": len(claimed),
		}).Debugf("Claimed due %s", notificationsTable)
	}
	return claimed, nil
}

// MarkSent finalizes a claimed notification as sent. Returns ErrNotClaimed
// when the record is no longer in sending, which means a cancellation won
// the race after the claim.
func (r *NotificationRepository) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, sentAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.MarkSent")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(notificationsTable).
		Set(
			ub.Assign("status", models.NotificationStatusSent),
			ub.Assign("provider_message_id", providerMessageID),
			ub.Assign("sent_at", sentAt),
			ub.Assign("error_message", nil),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.NotificationStatusSending))

	return r.finalize(ctx, ub, id, "mark sent")
}

// MarkFailed finalizes a claimed notification as failed. Failed is terminal;
// recovery is a manual resend under a fresh key.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.MarkFailed")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(notificationsTable).
		Set(
			ub.Assign("status", models.NotificationStatusFailed),
			ub.Assign("error_message", errorMessage),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.NotificationStatusSending))

	return r.finalize(ctx, ub, id, "mark failed")
}

// CancelClaimed finalizes a claimed notification as cancelled with the
// given reason. Used when the dispatch-time eligibility check rejects a
// record that was already claimed.
func (r *NotificationRepository) CancelClaimed(ctx context.Context, id uuid.UUID, reason models.CancelReason) error {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.CancelClaimed")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(notificationsTable).
		Set(
			ub.Assign("status", models.NotificationStatusCancelled),
			ub.Assign("cancel_reason", reason),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.NotificationStatusSending))

	return r.finalize(ctx, ub, id, "cancel claimed")
}

// UpdateContent persists a dispatch-time re-render of a claimed record's
// recipient and text in one update.
func (r *NotificationRepository) UpdateContent(ctx context.Context, id uuid.UUID, recipient, text string) error {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.UpdateContent")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(notificationsTable).
		Set(
			ub.Assign("recipient", recipient),
			ub.Assign("rendered_text", text),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.NotificationStatusSending))

	return r.finalize(ctx, ub, id, "update content")
}

// finalize runs a sending-guarded update and maps a zero row count to
// ErrNotClaimed.
func (r *NotificationRepository) finalize(ctx context.Context, ub *database.UpdateBuilder, id uuid.UUID, action string) error {
	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": id,
		}).Errorf("failed to %s", action)
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to %s", action)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"notification_id": id,
		}).Errorf("failed to %s", action)
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to %s", action)
	}
	if rows == 0 {
		return ErrNotClaimed
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": id,
	}).Debugf("Finalized %s: %s", notificationsTable, action)
	return nil
}

// CancelAllNonTerminal cancels every queued or sending notification for an
// appointment and returns how many rows it touched. Cancellation notices are
// exempt: a repeated appointment cancellation must not retract the notice the
// first one queued. Joins the caller's transaction when the context carries
// one, so the cancellation commits or rolls back together with the
// appointment soft delete.
func (r *NotificationRepository) CancelAllNonTerminal(ctx context.Context, appointmentID uuid.UUID, reason models.CancelReason) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.CancelAllNonTerminal")
	defer span.End()

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	ub := database.NewUpdateBuilder()
	ub.Update(notificationsTable).
		Set(
			ub.Assign("status", models.NotificationStatusCancelled),
			ub.Assign("cancel_reason", reason),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(
			ub.Equal("appointment_id", appointmentID),
			ub.In("status", models.NotificationStatusQueued, models.NotificationStatusSending),
			ub.NotEqual("intent", models.IntentPickupCancelled),
		)

	query, args := ub.Build()
	result, err := tx.ExecContext(txCtx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": appointmentID,
		}).Error("failed to cancel notifications")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to cancel notifications")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": appointmentID,
		}).Error("failed to cancel notifications")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to cancel notifications")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"appointment_id": appointmentID,
		"count":          rows,
		"reason":         reason,
	}).Infof("Cancelled non-terminal %s", notificationsTable)
	return rows, nil
}

// HasSent reports whether any notification for the appointment has already
// gone out. Joins the caller's transaction when the context carries one.
func (r *NotificationRepository) HasSent(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.HasSent")
	defer span.End()

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(notificationsTable)
	sb.Where(sb.Equal("appointment_id", appointmentID), sb.Equal("status", models.NotificationStatusSent))

	query, args := sb.Build()
	var count int
	if err := tx.GetContext(txCtx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": appointmentID,
		}).Error("failed to check for sent notifications")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check for sent notifications")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	return count > 0, nil
}

// ListByAppointment retrieves all notifications for an appointment, newest
// first.
func (r *NotificationRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.ListByAppointment")
	defer span.End()

	sb := notificationStruct.SelectFrom(notificationsTable)
	sb.Where(sb.Equal("appointment_id", appointmentID))
	sb.OrderBy("created_at").Desc()

	query, args := sb.Build()
	var notifications []models.Notification
	err := r.DB().SelectContext(ctx, &notifications, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": appointmentID,
		}).Error("failed to list notifications by appointment")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list notifications")
	}

	return notifications, nil
}

// ListByHousehold retrieves notifications for a household, newest first.
func (r *NotificationRepository) ListByHousehold(ctx context.Context, householdID uuid.UUID, limit int) ([]models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.ListByHousehold")
	defer span.End()

	sb := notificationStruct.SelectFrom(notificationsTable)
	sb.Where(sb.Equal("household_id", householdID))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var notifications []models.Notification
	err := r.DB().SelectContext(ctx, &notifications, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"household_id": householdID,
		}).Error("failed to list notifications by household")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list notifications")
	}

	return notifications, nil
}
