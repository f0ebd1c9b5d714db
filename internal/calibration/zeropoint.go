package calibration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// DefaultSystem is the magnitude system used when none is requested.
const DefaultSystem = "VEGAmag"

// mjdOffset converts a Julian Date to a Modified Julian Date.
const mjdOffset = 2400000.5

// ErrCalibrationLookup matches every *LookupError.
var ErrCalibrationLookup = errors.New("calibration lookup failed")

// Query identifies the zero point for one observation.
type Query struct {
	Instrument Instrument `json:"instrument"`
	Filter     string     `json:"filter"`
	Date       time.Time  `json:"date"`
	System     string     `json:"system"`
}

// String formats the query as instrument/filter/date/system.
func (q Query) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", q.Instrument, q.Filter, q.Date.Format(time.DateOnly), q.System)
}

// ZeroPoint is a calibration record.
type ZeroPoint struct {
	Instrument Instrument `json:"instrument"`
	Filter     string     `json:"filter"`
	Date       time.Time  `json:"date"`
	System     string     `json:"system"`

	// ZeroPoint is the magnitude of a source giving one count per second.
	ZeroPoint float64 `json:"zeropoint"`

	// PhotFlam is the inverse sensitivity (erg cm⁻² s⁻¹ Å⁻¹ per count/s)
	// and PhotPlam the pivot wavelength in Å, when the service reports them.
	PhotFlam float64 `json:"photflam,omitempty"`
	PhotPlam float64 `json:"photplam,omitempty"`

	// MJD is the Modified Julian Date of Date, filled in by Resolve.
	MJD float64 `json:"mjd"`
}

// ModifiedJulianDate converts t to a Modified Julian Date.
func ModifiedJulianDate(t time.Time) float64 {
	return julian.TimeToJD(t) - mjdOffset
}

// Service answers zero-point queries. Implementations must be safe for
// concurrent use.
type Service interface {
	Lookup(ctx context.Context, q Query) (ZeroPoint, error)
}

// LookupError reports a failed zero-point lookup.
type LookupError struct {
	Query Query
	Err   error
}

func (e *LookupError) Error() string {
	if e.Query.Instrument == "" {
		return fmt.Sprintf("calibration lookup: %v", e.Err)
	}
	return fmt.Sprintf("calibration lookup for %s: %v", e.Query, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Is makes every LookupError match ErrCalibrationLookup.
func (e *LookupError) Is(target error) bool { return target == ErrCalibrationLookup }

// NewQuery normalizes raw header values into a Query. An empty system selects
// DefaultSystem.
func NewQuery(rawInstrument, filter, rawDate, system string) (Query, error) {
	inst, err := NormalizeInstrument(rawInstrument)
	if err != nil {
		return Query{}, err
	}
	date, err := NormalizeDate(rawDate)
	if err != nil {
		return Query{}, err
	}
	filter = strings.ToUpper(strings.TrimSpace(filter))
	if filter == "" {
		return Query{}, errors.New("filter is required")
	}
	system = strings.TrimSpace(system)
	if system == "" {
		system = DefaultSystem
	}
	return Query{Instrument: inst, Filter: filter, Date: date, System: system}, nil
}

// Resolve normalizes the raw observation values and looks up the zero point.
// Every failure, including normalization, is returned as a *LookupError.
func Resolve(ctx context.Context, svc Service, rawInstrument, filter, rawDate, system string) (ZeroPoint, error) {
	q, err := NewQuery(rawInstrument, filter, rawDate, system)
	if err != nil {
		return ZeroPoint{}, &LookupError{
			Query: Query{Filter: filter, System: system},
			Err:   err,
		}
	}

	zp, err := svc.Lookup(ctx, q)
	if err != nil {
		var le *LookupError
		if errors.As(err, &le) {
			return ZeroPoint{}, err
		}
		return ZeroPoint{}, &LookupError{Query: q, Err: err}
	}
	if !zp.Date.IsZero() {
		zp.MJD = ModifiedJulianDate(zp.Date)
	}
	return zp, nil
}
