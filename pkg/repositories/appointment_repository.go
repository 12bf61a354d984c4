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
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const appointmentsTable = "appointments"

var appointmentStruct = database.NewStruct(new(models.Appointment))

// AppointmentRepository handles database operations for pickup appointments
type AppointmentRepository struct {
	*Repository
}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository(db database.DB, logger ectologger.Logger) *AppointmentRepository {
	return &AppointmentRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new appointment. Joins the caller's transaction when the
// context carries one, so creation and its reminder commit together.
func (r *AppointmentRepository) Create(ctx context.Context, appointment *models.Appointment) error {
	ctx, span := tracing.StartSpan(ctx, "AppointmentRepository.Create")
	defer span.End()

	if !appointment.PickupWindowStart.Before(appointment.PickupWindowEnd) {
		return BadRequest("pickup window start must be before its end")
	}

	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	ib := database.NewInsertBuilder()
	ib.InsertInto(appointmentsTable).
		Cols("id", "household_id", "location_id", "pickup_window_start",
			"pickup_window_end", "is_fulfilled", "cancelled_at", "created_at", "updated_at").
		Values(appointment.ID, appointment.HouseholdID, appointment.LocationID, appointment.PickupWindowStart,
			appointment.PickupWindowEnd, appointment.IsFulfilled, appointment.CancelledAt,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	var timestamps struct {
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	query, args := ib.Build()
	err = tx.GetContext(txCtx, &timestamps, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": appointment.ID,
		}).Error("failed to create appointment")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create appointment")
	}
	appointment.CreatedAt = timestamps.CreatedAt
	appointment.UpdatedAt = timestamps.UpdatedAt

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"appointment_id": appointment.ID,
		"household_id":   appointment.HouseholdID,
	}).Debugf("Created %s", appointmentsTable)
	return nil
}

// GetByID retrieves an appointment by ID
func (r *AppointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	ctx, span := tracing.StartSpan(ctx, "AppointmentRepository.GetByID")
	defer span.End()

	sb := appointmentStruct.SelectFrom(appointmentsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var appointment models.Appointment
	err := r.DB().GetContext(ctx, &appointment, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "appointment %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": id,
		}).Error("failed to get appointment")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get appointment")
	}

	return &appointment, nil
}

// GetDetails retrieves an appointment joined with its household contact state
// and pickup location name. This is the read model dispatch and rendering
// work from. Joins the caller's transaction when the context carries one.
func (r *AppointmentRepository) GetDetails(ctx context.Context, id uuid.UUID) (*models.AppointmentDetails, error) {
	ctx, span := tracing.StartSpan(ctx, "AppointmentRepository.GetDetails")
	defer span.End()

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := database.NewSelectBuilder()
	sb.Select("a.id", "a.household_id", "a.location_id", "a.pickup_window_start",
		"a.pickup_window_end", "a.is_fulfilled", "a.cancelled_at", "a.created_at", "a.updated_at",
		"l.name AS location_name", "h.phone_number", "h.locale AS household_locale",
		"(h.anonymized_at IS NOT NULL) AS household_anonymized")
	sb.From("appointments a")
	sb.Join("households h", "h.id = a.household_id")
	sb.Join("locations l", "l.id = a.location_id")
	sb.Where(sb.Equal("a.id", id))

	query, args := sb.Build()
	var details models.AppointmentDetails
	err = tx.GetContext(txCtx, &details, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "appointment %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": id,
		}).Error("failed to get appointment details")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get appointment details")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	return &details, nil
}

// UpdateWindow moves the pickup window of an appointment that has not been
// cancelled. Joins the caller's transaction when the context carries one.
func (r *AppointmentRepository) UpdateWindow(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "AppointmentRepository.UpdateWindow")
	defer span.End()

	if !start.Before(end) {
		return BadRequest("pickup window start must be before its end")
	}

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	ub := database.NewUpdateBuilder()
	ub.Update(appointmentsTable).
		Set(
			ub.Assign("pickup_window_start", start),
			ub.Assign("pickup_window_end", end),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.IsNull("cancelled_at"))

	query, args := ub.Build()
	result, err := tx.ExecContext(txCtx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": id,
		}).Error("failed to update pickup window")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update pickup window")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": id,
		}).Error("failed to update pickup window")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update pickup window")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "appointment %s does not exist or is cancelled", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"appointment_id": id,
		"window_start":   start,
		"window_end":     end,
	}).Infof("Updated pickup window of %s", appointmentsTable)
	return nil
}

// SetFulfilled marks an appointment's parcel as picked up (or not)
func (r *AppointmentRepository) SetFulfilled(ctx context.Context, id uuid.UUID, fulfilled bool) error {
	ctx, span := tracing.StartSpan(ctx, "AppointmentRepository.SetFulfilled")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(appointmentsTable).
		Set(
			ub.Assign("is_fulfilled", fulfilled),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": id,
		}).Error("failed to set fulfilled")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set fulfilled")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": id,
		}).Error("failed to set fulfilled")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set fulfilled")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "appointment %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"appointment_id": id,
		"is_fulfilled":   fulfilled,
	}).Debugf("Updated fulfilled flag of %s", appointmentsTable)
	return nil
}

// SoftDelete marks an appointment as cancelled. Already cancelled
// appointments are left untouched and return no error, so repeated deletes
// are safe. Joins the caller's transaction when the context carries one.
func (r *AppointmentRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "AppointmentRepository.SoftDelete")
	defer span.End()

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	ub := database.NewUpdateBuilder()
	ub.Update(appointmentsTable).
		Set(
			ub.Assign("cancelled_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.IsNull("cancelled_at"))

	query, args := ub.Build()
	result, err := tx.ExecContext(txCtx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": id,
		}).Error("failed to soft delete appointment")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete appointment")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"appointment_id": id,
		}).Error("failed to soft delete appointment")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete appointment")
	}
	if rows == 0 {
		// Either the appointment never existed or it is already cancelled.
		sb := appointmentStruct.SelectFrom(appointmentsTable)
		sb.Where(sb.Equal("id", id))
		existsQuery, existsArgs := sb.Build()

		var existing models.Appointment
		err := tx.GetContext(txCtx, &existing, existsQuery, existsArgs...)
		if errors.Is(err, sql.ErrNoRows) {
			return httperror.NewHTTPErrorf(http.StatusNotFound, "appointment %s does not exist", id)
		}
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"appointment_id": id,
			}).Error("failed to soft delete appointment")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete appointment")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"appointment_id": id,
	}).Infof("Soft deleted %s", appointmentsTable)
	return nil
}
