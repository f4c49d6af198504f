package pricing

import (
	"fmt"
	"time"
)

// Window is the trailing period checked for the lowest price before discount.
type Window struct {
	Days int
	// Location decides where calendar days start; nil means UTC.
	Location *time.Location
}

// NewWindow builds a window of days in loc.
func NewWindow(days int, loc *time.Location) (Window, error) {
	w := Window{Days: days, Location: loc}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate rejects non positive windows.
func (w Window) Validate() error {
	if w.Days <= 0 {
		return fmt.Errorf("%w: %d days", ErrInvalidWindow, w.Days)
	}
	return nil
}

// StartDate returns latest minus Days calendar days. The wall clock time is kept across
// daylight saving changes, so the result is not always Days*24h earlier.
func (w Window) StartDate(latest time.Time) time.Time {
	return latest.In(w.location()).AddDate(0, 0, -w.Days)
}

// LocationName is the IANA name used by set oriented queries.
func (w Window) LocationName() string {
	return w.location().String()
}

func (w Window) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}
