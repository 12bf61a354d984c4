package handlers

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/notify"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// HouseholdHandler handles household and enrolment API requests
type HouseholdHandler struct {
	service    *notify.Service
	households *repositories.HouseholdRepository
}

// NewHouseholdHandler creates a new household handler
func NewHouseholdHandler(service *notify.Service, households *repositories.HouseholdRepository) *HouseholdHandler {
	return &HouseholdHandler{service: service, households: households}
}

// CreateHouseholdRequest is the request body for registering a household
type CreateHouseholdRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
	Locale      string `json:"locale"`
}

// UpdateHouseholdRequest is the request body for changing contact details
type UpdateHouseholdRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
	Locale      string `json:"locale"`
}

// RegisterRoutes registers the household routes
func (h *HouseholdHandler) RegisterRoutes(g *echo.Group) {
	households := g.Group("/households")
	households.POST("", h.Create)
	households.GET("/:id", h.Get)
	households.PUT("/:id", h.Update)
	households.POST("/:id/anonymize", h.Anonymize)
	households.GET("/:id/notifications", h.History)
	households.POST("/:id/notifications/enrolment", h.EnqueueEnrolment)
	households.POST("/:id/notifications/consent", h.EnqueueConsent)
}

// Create handles POST /households
func (h *HouseholdHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[CreateHouseholdRequest](c)
	if err != nil {
		return err
	}

	household := &models.Household{
		PhoneNumber: req.PhoneNumber,
		Locale:      notify.NormalizeLocale(req.Locale),
	}

	if err := h.households.Create(ctx, household); err != nil {
		return err
	}

	return CreatedResponse(c, household)
}

// Get handles GET /households/:id
func (h *HouseholdHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	household, err := h.households.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, household)
}

// Update handles PUT /households/:id
func (h *HouseholdHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[UpdateHouseholdRequest](c)
	if err != nil {
		return err
	}

	if err := h.households.UpdateContact(ctx, id, req.PhoneNumber, notify.NormalizeLocale(req.Locale)); err != nil {
		return err
	}

	household, err := h.households.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, household)
}

// Anonymize handles POST /households/:id/anonymize. Erasure is permanent;
// queued messages for the household are cancelled at dispatch time rather
// than here.
func (h *HouseholdHandler) Anonymize(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.households.Anonymize(ctx, id); err != nil {
		return err
	}

	return NoContentResponse(c)
}

// History handles GET /households/:id/notifications
func (h *HouseholdHandler) History(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return BadRequest("invalid limit")
		}
	}

	history, err := h.service.HouseholdHistory(ctx, id, limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, history)
}

// EnqueueEnrolment handles POST /households/:id/notifications/enrolment
func (h *HouseholdHandler) EnqueueEnrolment(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	notification, created, err := h.service.EnqueueEnrolment(ctx, id)
	if err != nil {
		return err
	}

	return EnqueueResponse(c, notification, created)
}

// EnqueueConsent handles POST /households/:id/notifications/consent
func (h *HouseholdHandler) EnqueueConsent(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	notification, created, err := h.service.EnqueueConsentEnrolment(ctx, id)
	if err != nil {
		return err
	}

	return EnqueueResponse(c, notification, created)
}
