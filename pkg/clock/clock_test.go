package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimezone = "Europe/Copenhagen"

func newTestClock(t *testing.T, now time.Time) *WallClock {
	t.Helper()
	c, err := NewWithSource(testTimezone, FixedSource(now))
	require.NoError(t, err)
	return c
}

func TestNew_UnknownTimezone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTimezone)
}

func TestWallClock_Now_UsesInjectedSource(t *testing.T) {
	fixed := time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC)
	c := newTestClock(t, fixed)

	now := c.Now()
	assert.True(t, now.Time().Equal(fixed))
	assert.Equal(t, "12:00", now.TimeOfDay()) // CEST is UTC+2 in October before the transition
}

func TestWallClock_Parse(t *testing.T) {
	c := newTestClock(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{
			name:  "rfc3339 with offset",
			input: "2025-10-12T10:06:00Z",
			want:  time.Date(2025, 10, 12, 10, 6, 0, 0, time.UTC),
		},
		{
			name:  "datetime without zone is read as local wall time",
			input: "2025-10-12T10:06:00",
			want:  time.Date(2025, 10, 12, 8, 6, 0, 0, time.UTC), // CEST
		},
		{
			name:  "date only is local midnight",
			input: "2025-12-24",
			want:  time.Date(2025, 12, 23, 23, 0, 0, 0, time.UTC), // CET
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, got.Time().Equal(tt.want), "got %s want %s", got.Time(), tt.want)
		})
	}
}

func TestWallClock_Parse_Invalid(t *testing.T) {
	c := newTestClock(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := c.Parse("wednesday-ish")
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "wednesday-ish", parseErr.Input)
}

func TestInstant_DayBoundaries_FallBack(t *testing.T) {
	// 2025-10-26 is the autumn transition in Copenhagen: 03:00 CEST falls
	// back to 02:00 CET and the civil day is 25 hours long.
	c := newTestClock(t, time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC))

	day := c.Now()
	start := day.StartOfDay()
	end := day.EndOfDay()

	assert.True(t, start.Time().Equal(time.Date(2025, 10, 25, 22, 0, 0, 0, time.UTC)))
	assert.True(t, end.Time().Equal(time.Date(2025, 10, 26, 22, 59, 59, int(time.Second-time.Nanosecond), time.UTC)))
	assert.Equal(t, 25*time.Hour-time.Nanosecond, end.Sub(start))
}

func TestInstant_DayBoundaries_SpringForward(t *testing.T) {
	// 2026-03-29: 02:00 CET jumps to 03:00 CEST, a 23 hour civil day.
	c := newTestClock(t, time.Date(2026, 3, 29, 12, 0, 0, 0, time.UTC))

	day := c.Now()
	assert.Equal(t, 23*time.Hour-time.Nanosecond, day.EndOfDay().Sub(day.StartOfDay()))
}

func TestInstant_ISOWeek_AcrossAutumnTransition(t *testing.T) {
	c := newTestClock(t, time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))

	saturday := c.At(time.Date(2025, 10, 25, 11, 0, 0, 0, time.UTC))
	sunday := c.At(time.Date(2025, 10, 26, 11, 0, 0, 0, time.UTC))
	monday := c.At(time.Date(2025, 10, 27, 11, 0, 0, 0, time.UTC))

	_, week := saturday.ISOWeek()
	assert.Equal(t, 43, week)
	assert.Equal(t, time.Saturday, saturday.Weekday())

	_, week = sunday.ISOWeek()
	assert.Equal(t, 43, week, "the transition Sunday still belongs to week 43")
	assert.Equal(t, time.Sunday, sunday.Weekday())

	_, week = monday.ISOWeek()
	assert.Equal(t, 44, week)
	assert.Equal(t, time.Monday, monday.Weekday())
}

func TestInstant_WeekBoundaries_ContainTransition(t *testing.T) {
	c := newTestClock(t, time.Date(2025, 10, 22, 9, 30, 0, 0, time.UTC))

	now := c.Now()
	start := now.StartOfWeek()
	end := now.EndOfWeek()

	// Monday 2025-10-20 00:00 CEST through Sunday 2025-10-26 23:59:59 CET,
	// one hour longer than a plain week.
	assert.True(t, start.Time().Equal(time.Date(2025, 10, 19, 22, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, time.Sunday, end.Weekday())
	assert.Equal(t, 169*time.Hour-time.Nanosecond, end.Sub(start))
	assert.True(t, now.Between(start, end))
}

func TestInstant_DuplicatedHourStaysOrdered(t *testing.T) {
	c := newTestClock(t, time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC))

	// 02:30 happens twice on the transition night, once in CEST and once in
	// CET. The wall readings match but the absolute instants stay distinct.
	first := c.At(time.Date(2025, 10, 26, 0, 30, 0, 0, time.UTC))
	second := c.At(time.Date(2025, 10, 26, 1, 30, 0, 0, time.UTC))

	assert.Equal(t, "02:30", first.TimeOfDay())
	assert.Equal(t, "02:30", second.TimeOfDay())
	assert.False(t, first.Equal(second))
	assert.True(t, first.Before(second))
	assert.True(t, second.After(first))
	assert.Equal(t, time.Hour, second.Sub(first))
}

func TestInstant_Comparisons(t *testing.T) {
	c := newTestClock(t, time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC))

	a := c.At(time.Date(2025, 10, 10, 10, 0, 0, 0, time.UTC))
	b := a.Add(5 * time.Minute)

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, a.Between(a, b), "Between is inclusive on both ends")
	assert.True(t, b.Between(a, b))
	assert.Equal(t, 5*time.Minute, b.Sub(a))
}
