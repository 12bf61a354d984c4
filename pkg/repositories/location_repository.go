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

const locationsTable = "locations"

var locationStruct = database.NewStruct(new(models.Location))

// LocationRepository handles database operations for pickup locations
type LocationRepository struct {
	*Repository
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db database.DB, logger ectologger.Logger) *LocationRepository {
	return &LocationRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new pickup location
func (r *LocationRepository) Create(ctx context.Context, location *models.Location) error {
	ctx, span := tracing.StartSpan(ctx, "LocationRepository.Create")
	defer span.End()

	if location.Name == "" {
		return BadRequest("location name is required")
	}

	if location.ID == uuid.Nil {
		location.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(locationsTable).
		Cols("id", "name", "created_at", "updated_at").
		Values(location.ID, location.Name, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowxContext(ctx, query, args...).Scan(&location.CreatedAt, &location.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"location_id": location.ID,
		}).Error("failed to create location")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create location")
	}

	return nil
}

// Upsert creates the location or refreshes its name when the id is already
// registered. Locker registry feeds carry stable location ids, so syncs
// replay through here.
func (r *LocationRepository) Upsert(ctx context.Context, location *models.Location) error {
	ctx, span := tracing.StartSpan(ctx, "LocationRepository.Upsert")
	defer span.End()

	if location.ID == uuid.Nil {
		return BadRequest("location id is required")
	}
	if location.Name == "" {
		return BadRequest("location name is required")
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(locationsTable).
		Cols("id", "name", "created_at", "updated_at").
		Values(location.ID, location.Name, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
	ub := ib.OnConflict("id")
	ub.Set(
		ub.Assign("name", database.Excluded("name")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)

	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"location_id": location.ID,
		}).Error("failed to upsert location")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert location")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"location_id": location.ID,
	}).Debugf("Upserted %s", locationsTable)
	return nil
}

// GetByID retrieves a location by ID
func (r *LocationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	ctx, span := tracing.StartSpan(ctx, "LocationRepository.GetByID")
	defer span.End()

	sb := locationStruct.SelectFrom(locationsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var location models.Location
	err := r.DB().GetContext(ctx, &location, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "location %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"location_id": id,
		}).Error("failed to get location")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get location")
	}

	return &location, nil
}

// List retrieves all pickup locations ordered by name
func (r *LocationRepository) List(ctx context.Context) ([]models.Location, error) {
	ctx, span := tracing.StartSpan(ctx, "LocationRepository.List")
	defer span.End()

	sb := locationStruct.SelectFrom(locationsTable)
	sb.OrderBy("name")

	query, args := sb.Build()
	var locations []models.Location
	err := r.DB().SelectContext(ctx, &locations, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list locations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list locations")
	}

	return locations, nil
}
