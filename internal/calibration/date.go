package calibration

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDate is returned when an observation date cannot be parsed.
var ErrInvalidDate = errors.New("invalid observation date")

// dateLayouts are tried in order. Parsing accepts fractional seconds after
// the seconds field even though the layout does not name them.
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// NormalizeDate parses an observation timestamp and truncates it to its UTC
// calendar date. Accepted forms are YYYY-MM-DDTHH:MM:SS, optionally with
// fractional seconds, and YYYY-MM-DD.
func NormalizeDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}
