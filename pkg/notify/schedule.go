// Package notify owns the notification pipeline: scheduling, rendering,
// eligibility and the appointment operations that queue messages.
package notify

import "time"

const (
	// ReminderLeadTime is how far before the pickup window start a reminder
	// should reach the household.
	ReminderLeadTime = 48 * time.Hour

	// EnqueueGrace delays dispatch of records queued inside a business
	// transaction, so the transaction has committed and its appointment
	// state is visible before a worker can claim them.
	EnqueueGrace = 5 * time.Minute
)

// ReminderDueAt computes when a pickup reminder becomes due. Windows starting
// strictly more than the lead time from now get their reminder the lead time
// before the window; anything closer, exactly at the boundary, or already in
// the past is queued with the short grace instead.
func ReminderDueAt(pickupWindowStart, now time.Time) time.Time {
	if pickupWindowStart.Sub(now) > ReminderLeadTime {
		return pickupWindowStart.Add(-ReminderLeadTime)
	}
	return now.Add(EnqueueGrace)
}

// ImmediateDueAt computes the due time for notices queued by a business
// transaction, such as reschedule and cancellation messages.
func ImmediateDueAt(now time.Time) time.Time {
	return now.Add(EnqueueGrace)
}
