package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/notify"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/utils"
)

// AppointmentHandler handles appointment and appointment-notification API
// requests
type AppointmentHandler struct {
	service      *notify.Service
	appointments *repositories.AppointmentRepository
}

// NewAppointmentHandler creates a new appointment handler
func NewAppointmentHandler(service *notify.Service, appointments *repositories.AppointmentRepository) *AppointmentHandler {
	return &AppointmentHandler{service: service, appointments: appointments}
}

// CreateAppointmentRequest is the request body for booking an appointment
type CreateAppointmentRequest struct {
	HouseholdID       uuid.UUID `json:"household_id" validate:"required"`
	LocationID        uuid.UUID `json:"location_id" validate:"required"`
	PickupWindowStart time.Time `json:"pickup_window_start" validate:"required"`
	PickupWindowEnd   time.Time `json:"pickup_window_end" validate:"required,gtfield=PickupWindowStart"`
}

// RescheduleAppointmentRequest is the request body for moving a pickup window
type RescheduleAppointmentRequest struct {
	PickupWindowStart time.Time `json:"pickup_window_start" validate:"required"`
	PickupWindowEnd   time.Time `json:"pickup_window_end" validate:"required,gtfield=PickupWindowStart"`
}

// SetFulfilledRequest is the request body for the pickup flag
type SetFulfilledRequest struct {
	Fulfilled *bool `json:"fulfilled" validate:"required"`
}

// ResendRequest is the request body for a manual resend. The nonce keys the
// resend; reusing one dedupes, a blank one gets generated.
type ResendRequest struct {
	Nonce string `json:"nonce"`
}

// RegisterRoutes registers the appointment routes
func (h *AppointmentHandler) RegisterRoutes(g *echo.Group) {
	appointments := g.Group("/appointments")
	appointments.POST("", h.Create)
	appointments.GET("/:id", h.Get)
	appointments.PUT("/:id", h.Reschedule)
	appointments.DELETE("/:id", h.Cancel)
	appointments.PUT("/:id/fulfilled", h.SetFulfilled)
	appointments.GET("/:id/notifications", h.History)
	appointments.POST("/:id/notifications/reminder", h.EnqueueReminder)
	appointments.POST("/:id/notifications/update", h.EnqueueUpdate)
	appointments.POST("/:id/notifications/resend", h.EnqueueResend)
}

// Create handles POST /appointments
func (h *AppointmentHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[CreateAppointmentRequest](c)
	if err != nil {
		return err
	}

	appointment := &models.Appointment{
		HouseholdID:       req.HouseholdID,
		LocationID:        req.LocationID,
		PickupWindowStart: req.PickupWindowStart,
		PickupWindowEnd:   req.PickupWindowEnd,
	}

	if err := h.service.CreateAppointment(ctx, appointment); err != nil {
		return err
	}

	return CreatedResponse(c, appointment)
}

// Get handles GET /appointments/:id
func (h *AppointmentHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	appointment, err := h.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, appointment)
}

// Reschedule handles PUT /appointments/:id
func (h *AppointmentHandler) Reschedule(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[RescheduleAppointmentRequest](c)
	if err != nil {
		return err
	}

	appointment, err := h.service.RescheduleAppointment(ctx, id, req.PickupWindowStart, req.PickupWindowEnd)
	if err != nil {
		return err
	}

	return SuccessResponse(c, appointment)
}

// Cancel handles DELETE /appointments/:id. The response reports what the
// compensation did: whether queued messages were retracted and whether a
// cancellation notice went out.
func (h *AppointmentHandler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	result, err := h.service.CancelAppointment(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, result)
}

// SetFulfilled handles PUT /appointments/:id/fulfilled
func (h *AppointmentHandler) SetFulfilled(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[SetFulfilledRequest](c)
	if err != nil {
		return err
	}

	if err := h.appointments.SetFulfilled(ctx, id, *req.Fulfilled); err != nil {
		return err
	}

	return SuccessResponse(c, map[string]bool{"fulfilled": *req.Fulfilled})
}

// History handles GET /appointments/:id/notifications
func (h *AppointmentHandler) History(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	history, err := h.service.History(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, history)
}

// EnqueueReminder handles POST /appointments/:id/notifications/reminder
func (h *AppointmentHandler) EnqueueReminder(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	notification, created, err := h.service.EnqueueReminder(ctx, id)
	if err != nil {
		return err
	}

	return EnqueueResponse(c, notification, created)
}

// EnqueueUpdate handles POST /appointments/:id/notifications/update
func (h *AppointmentHandler) EnqueueUpdate(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	notification, created, err := h.service.EnqueueUpdate(ctx, id)
	if err != nil {
		return err
	}

	return EnqueueResponse(c, notification, created)
}

// EnqueueResend handles POST /appointments/:id/notifications/resend
func (h *AppointmentHandler) EnqueueResend(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[ResendRequest](c)
	if err != nil {
		return err
	}

	notification, created, err := h.service.EnqueueResend(ctx, id, req.Nonce)
	if err != nil {
		return err
	}

	return EnqueueResponse(c, notification, created)
}
