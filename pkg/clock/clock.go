package clock

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownTimezone is returned by New when the timezone name cannot be
// resolved against the system tz database.
var ErrUnknownTimezone = errors.New("unknown timezone")

// Source supplies the current time. Inject FixedSource in tests and
// backfills; there is no package-level mutable clock.
type Source func() time.Time

// SystemSource reads the system clock.
func SystemSource() Source {
	return time.Now
}

// FixedSource always returns t.
func FixedSource(t time.Time) Source {
	return func() time.Time { return t }
}

// WallClock projects absolute instants onto the single civil timezone the
// business operates in. Storage and comparison stay absolute (UTC); only
// day/week boundaries and display formatting go through the projection.
type WallClock struct {
	loc    *time.Location
	source Source
}

// New creates a WallClock for the named timezone using the system clock.
func New(timezone string) (*WallClock, error) {
	return NewWithSource(timezone, SystemSource())
}

// NewWithSource creates a WallClock with an injected time source.
func NewWithSource(timezone string, source Source) (*WallClock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, timezone)
	}

	if source == nil {
		source = SystemSource()
	}

	return &WallClock{loc: loc, source: source}, nil
}

// Location returns the business timezone.
func (c *WallClock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant.
func (c *WallClock) Now() Instant {
	return c.At(c.source())
}

// At wraps an absolute time as an Instant in the business timezone.
func (c *WallClock) At(t time.Time) Instant {
	return Instant{t: t.In(c.loc), loc: c.loc}
}

// Parse reads an instant from a string. RFC3339 is tried first; values
// without a zone offset are interpreted in the business timezone, with or
// without a time component.
func (c *WallClock) Parse(value string) (Instant, error) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		parsed, err = time.ParseInLocation("2006-01-02T15:04:05", value, c.loc)
		if err != nil {
			parsed, err = time.ParseInLocation("2006-01-02", value, c.loc)
			if err != nil {
				return Instant{}, &ParseError{Input: value, Err: err}
			}
		}
	}

	return c.At(parsed), nil
}

// ParseError reports an input that matched none of the accepted layouts.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable time %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
