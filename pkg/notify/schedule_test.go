package notify_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/notify"
)

func TestReminderDueAt(t *testing.T) {
	now := time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		start    time.Time
		expected time.Time
	}{
		{
			name:     "window more than the lead time away gets the full lead",
			start:    time.Date(2025, 10, 12, 10, 6, 0, 0, time.UTC),
			expected: time.Date(2025, 10, 10, 10, 6, 0, 0, time.UTC),
		},
		{
			name:     "window inside the lead time gets the enqueue grace",
			start:    time.Date(2025, 10, 12, 9, 54, 0, 0, time.UTC),
			expected: time.Date(2025, 10, 10, 10, 5, 0, 0, time.UTC),
		},
		{
			name:     "window exactly at the boundary gets the grace",
			start:    now.Add(notify.ReminderLeadTime),
			expected: now.Add(notify.EnqueueGrace),
		},
		{
			name:     "window already started gets the grace",
			start:    now.Add(-time.Hour),
			expected: now.Add(notify.EnqueueGrace),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, notify.ReminderDueAt(tt.start, now))
		})
	}
}

func TestImmediateDueAt(t *testing.T) {
	now := time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(notify.EnqueueGrace), notify.ImmediateDueAt(now))
}
