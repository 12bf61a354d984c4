package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// LocationHandler handles pickup location API requests
type LocationHandler struct {
	locations *repositories.LocationRepository
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(locations *repositories.LocationRepository) *LocationHandler {
	return &LocationHandler{locations: locations}
}

// CreateLocationRequest is the request body for creating a pickup location
type CreateLocationRequest struct {
	Name string `json:"name" validate:"required"`
}

// UpsertLocationRequest is the request body for registering a pickup location
// under a known id
type UpsertLocationRequest struct {
	Name string `json:"name" validate:"required"`
}

// RegisterRoutes registers the location routes
func (h *LocationHandler) RegisterRoutes(g *echo.Group) {
	locations := g.Group("/locations")
	locations.POST("", h.Create)
	locations.GET("", h.List)
	locations.GET("/:id", h.Get)
	locations.PUT("/:id", h.Upsert)
}

// Create handles POST /locations
func (h *LocationHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[CreateLocationRequest](c)
	if err != nil {
		return err
	}

	location := &models.Location{Name: req.Name}
	if err := h.locations.Create(ctx, location); err != nil {
		return err
	}

	return CreatedResponse(c, location)
}

// Upsert handles PUT /locations/:id
func (h *LocationHandler) Upsert(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[UpsertLocationRequest](c)
	if err != nil {
		return err
	}

	if err := h.locations.Upsert(ctx, &models.Location{ID: id, Name: req.Name}); err != nil {
		return err
	}

	location, err := h.locations.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, location)
}

// List handles GET /locations
func (h *LocationHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	locations, err := h.locations.List(ctx)
	if err != nil {
		return err
	}

	return SuccessResponse(c, locations)
}

// Get handles GET /locations/:id
func (h *LocationHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	location, err := h.locations.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, location)
}
