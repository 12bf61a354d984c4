package notify

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/clock"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Eligibility is the dispatch-time verdict for a claimed notification.
type Eligibility struct {
	Eligible bool
	Reason   models.CancelReason // set when ineligible
}

func eligible() Eligibility {
	return Eligibility{Eligible: true}
}

func ineligible(reason models.CancelReason) Eligibility {
	return Eligibility{Reason: reason}
}

// Evaluator re-checks the owning appointment immediately before a send.
// Appointment state is read lazily here instead of being watched for
// changes, so a reminder queued days ago is judged against the world as it
// is now.
type Evaluator struct {
	appointments *repositories.AppointmentRepository
	clock        *clock.WallClock
	logger       ectologger.Logger
}

// NewEvaluator creates a new eligibility evaluator
func NewEvaluator(appointments *repositories.AppointmentRepository, wallClock *clock.WallClock, logger ectologger.Logger) *Evaluator {
	return &Evaluator{
		appointments: appointments,
		clock:        wallClock,
		logger:       logger,
	}
}

// Evaluate decides whether a claimed notification should still go out. The
// checks run in strict priority order and the first failing one names the
// reason: a parcel that was picked up and later anonymized reports picked
// up, because that is the more useful answer when tracing a message that
// never arrived. The appointment details are returned for the re-render
// step so eligible records do not fetch twice.
func (e *Evaluator) Evaluate(ctx context.Context, notification *models.Notification) (Eligibility, *models.AppointmentDetails, error) {
	ctx, span := tracing.StartSpan(ctx, "notify.Evaluator.Evaluate")
	defer span.End()

	if !notification.Intent.GatedByEligibility() {
		return eligible(), nil, nil
	}

	if notification.AppointmentID == nil {
		return ineligible(models.CancelReasonParcelNotFound), nil, nil
	}

	details, err := e.appointments.GetDetails(ctx, *notification.AppointmentID)
	if err != nil {
		if httperror.GetStatusCode(err) == http.StatusNotFound {
			return ineligible(models.CancelReasonParcelNotFound), nil, nil
		}
		return Eligibility{}, nil, err
	}

	if details.Cancelled() {
		return ineligible(models.CancelReasonParcelDeleted), details, nil
	}
	if details.IsFulfilled {
		return ineligible(models.CancelReasonParcelPickedUp), details, nil
	}
	if details.HouseholdAnonymized {
		return ineligible(models.CancelReasonHouseholdAnonymized), details, nil
	}
	if e.clock.Now().Time().After(details.PickupWindowEnd) {
		return ineligible(models.CancelReasonPickupTimePassed), details, nil
	}

	return eligible(), details, nil
}
