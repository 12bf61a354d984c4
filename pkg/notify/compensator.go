package notify

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/clock"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Compensator retracts an appointment's notifications when the appointment
// is cancelled. It runs inside the caller's soft delete transaction; the
// context it receives carries the open tx, so a rollback takes the
// compensation with it.
type Compensator struct {
	notifications *repositories.NotificationRepository
	renderer      *Renderer
	clock         *clock.WallClock
	logger        ectologger.Logger
}

// NewCompensator creates a new cancellation compensator
func NewCompensator(
	notifications *repositories.NotificationRepository,
	renderer *Renderer,
	wallClock *clock.WallClock,
	logger ectologger.Logger,
) *Compensator {
	return &Compensator{
		notifications: notifications,
		renderer:      renderer,
		clock:         wallClock,
		logger:        logger,
	}
}

// OnAppointmentCancelled cancels every record for the appointment that has
// not gone out, then queues one cancellation notice when a message already
// reached the household. The notice is keyed on the appointment id, so
// repeated cancellations cannot double-send; records that reached sent are
// never touched. SMSSent reports whether this call created the notice, and
// the notice itself is returned (nil when none applies) for the caller's
// post-commit bookkeeping.
func (c *Compensator) OnAppointmentCancelled(ctx context.Context, details *models.AppointmentDetails) (*models.CancellationResult, *models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Compensator.OnAppointmentCancelled")
	defer span.End()

	cancelled, err := c.notifications.CancelAllNonTerminal(ctx, details.ID, models.CancelReasonAppointmentCancelled)
	if err != nil {
		return nil, nil, err
	}

	hasSent, err := c.notifications.HasSent(ctx, details.ID)
	if err != nil {
		return nil, nil, err
	}

	result := &models.CancellationResult{SMSCancelled: cancelled > 0}
	if !hasSent {
		// Nothing was delivered, so there is nothing to retract.
		return result, nil, nil
	}
	if details.PhoneNumber == "" {
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"appointment_id": details.ID,
		}).Warn("Household has no phone number, skipping cancellation notice")
		return result, nil, nil
	}

	notice := appointmentNotice(
		c.renderer,
		models.IntentPickupCancelled,
		details,
		models.AppointmentIdempotencyKey(models.IntentPickupCancelled, details.ID),
		ImmediateDueAt(c.clock.Now().Time()),
	)
	created, err := c.notifications.Enqueue(ctx, notice)
	if err != nil {
		return nil, nil, err
	}

	result.SMSSent = created
	return result, notice, nil
}
