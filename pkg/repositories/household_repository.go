package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const householdsTable = "households"

var householdStruct = database.NewStruct(new(models.Household))

// HouseholdRepository handles database operations for households
type HouseholdRepository struct {
	*Repository
}

// NewHouseholdRepository creates a new household repository
func NewHouseholdRepository(db database.DB, logger ectologger.Logger) *HouseholdRepository {
	return &HouseholdRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new household
func (r *HouseholdRepository) Create(ctx context.Context, household *models.Household) error {
	ctx, span := tracing.StartSpan(ctx, "HouseholdRepository.Create")
	defer span.End()

	if household.PhoneNumber == "" {
		return BadRequest("phone number is required")
	}

	if household.ID == uuid.Nil {
		household.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(householdsTable).
		Cols("id", "phone_number", "locale", "anonymized_at", "created_at", "updated_at").
		Values(household.ID, household.PhoneNumber, household.Locale, household.AnonymizedAt,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowxContext(ctx, query, args...).Scan(&household.CreatedAt, &household.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"household_id": household.ID,
		}).Error("failed to create household")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create household")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"household_id": household.ID,
	}).Debugf("Created %s", householdsTable)
	return nil
}

// GetByID retrieves a household by ID
func (r *HouseholdRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Household, error) {
	ctx, span := tracing.StartSpan(ctx, "HouseholdRepository.GetByID")
	defer span.End()

	sb := householdStruct.SelectFrom(householdsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var household models.Household
	err := r.DB().GetContext(ctx, &household, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "household %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"household_id": id,
		}).Error("failed to get household")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get household")
	}

	return &household, nil
}

// UpdateContact updates a household's phone number and locale. Anonymized
// households cannot be updated.
func (r *HouseholdRepository) UpdateContact(ctx context.Context, id uuid.UUID, phoneNumber, locale string) error {
	ctx, span := tracing.StartSpan(ctx, "HouseholdRepository.UpdateContact")
	defer span.End()

	if phoneNumber == "" {
		return BadRequest("phone number is required")
	}

	ub := database.NewUpdateBuilder()
	ub.Update(householdsTable).
		Set(
			ub.Assign("phone_number", phoneNumber),
			ub.Assign("locale", locale),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.IsNull("anonymized_at"))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"household_id": id,
		}).Error("failed to update household contact")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update household")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"household_id": id,
		}).Error("failed to update household contact")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update household")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "household %s does not exist or is anonymized", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"household_id": id,
	}).Debugf("Updated contact of %s", householdsTable)
	return nil
}

// Anonymize scrubs a household's contact details and marks it anonymized.
// Already anonymized households are left untouched and return no error.
// Pending notifications for the household are not cancelled here; dispatch
// checks the anonymized flag before every send.
func (r *HouseholdRepository) Anonymize(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "HouseholdRepository.Anonymize")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(householdsTable).
		Set(
			ub.Assign("phone_number", ""),
			ub.Assign("anonymized_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.IsNull("anonymized_at"))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"household_id": id,
		}).Error("failed to anonymize household")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to anonymize household")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"household_id": id,
		}).Error("failed to anonymize household")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to anonymize household")
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return nil
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"household_id": id,
	}).Infof("Anonymized %s", householdsTable)
	return nil
}
