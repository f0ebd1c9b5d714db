package calibration

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Instrument is a normalized detector name.
type Instrument string

// Known detectors.
const (
	WFC Instrument = "WFC"
	HRC Instrument = "HRC"
	SBC Instrument = "SBC"
)

// Instruments lists every detector NormalizeInstrument can return.
var Instruments = []Instrument{WFC, HRC, SBC}

// ErrUnknownInstrument is returned when a name matches no known detector.
var ErrUnknownInstrument = errors.New("unknown instrument")

// InstrumentNameAmbiguousError is returned when a name matches more than one
// known detector.
type InstrumentNameAmbiguousError struct {
	Raw     string
	Matches []Instrument
}

func (e *InstrumentNameAmbiguousError) Error() string {
	names := make([]string, len(e.Matches))
	for i, m := range e.Matches {
		names[i] = string(m)
	}
	return fmt.Sprintf("instrument name %q is ambiguous: matches %s", e.Raw, strings.Join(names, ", "))
}

// NormalizeInstrument maps a raw header value to a known detector.
//
// The name is split on every non-alphanumeric character and each token is
// compared case-insensitively with the known detectors, so "ACS/WFC", "wfc"
// and "ACS_WFC" all give WFC. A token must match whole: "WFC3-UVIS" belongs
// to a different instrument and is rejected with ErrUnknownInstrument. Names
// with tokens for two different detectors return an
// *InstrumentNameAmbiguousError.
//
// Whole tokens replace plain substring search, which made the result depend
// on the order of the detector list and accepted "WFC3-UVIS" as WFC. The
// cost is that run-together names without a separator are not recognized:
// "ACSWFC" is rejected with ErrUnknownInstrument rather than read as WFC.
func NormalizeInstrument(raw string) (Instrument, error) {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var matches []Instrument
	for _, inst := range Instruments {
		for _, tok := range tokens {
			if strings.EqualFold(tok, string(inst)) {
				matches = append(matches, inst)
				break
			}
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %q", ErrUnknownInstrument, raw)
	case 1:
		return matches[0], nil
	default:
		return "", &InstrumentNameAmbiguousError{Raw: raw, Matches: matches}
	}
}
