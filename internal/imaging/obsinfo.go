package imaging

import (
	"strconv"
	"strings"
)

// Observation is the subset of header metadata used for calibration.
type Observation struct {
	// Instrument is the raw instrument name: DETECTOR when present (ACS
	// writes INSTRUME=ACS, DETECTOR=WFC), INSTRUME otherwise.
	Instrument string `json:"instrument"`

	// Filter is FILTER, or the first of FILTER1/FILTER2 that is not a CLEAR
	// position.
	Filter string `json:"filter"`

	// DateObs is DATE-OBS, joined with TIME-OBS when DATE-OBS carries only
	// a date.
	DateObs string `json:"date_obs"`

	// ExposureTime is EXPTIME in seconds, 0 when absent or unparsable.
	ExposureTime float64 `json:"exposure_time"`
}

// ObservationInfo reduces an image header to an Observation.
func ObservationInfo(img *Image) Observation {
	var obs Observation

	if det, ok := img.Header("DETECTOR"); ok && det != "" {
		obs.Instrument = det
	} else if inst, ok := img.Header("INSTRUME"); ok {
		obs.Instrument = inst
	}

	if f, ok := img.Header("FILTER"); ok && f != "" {
		obs.Filter = f
	} else {
		for _, key := range []string{"FILTER1", "FILTER2"} {
			f, ok := img.Header(key)
			if ok && f != "" && !strings.HasPrefix(strings.ToUpper(f), "CLEAR") {
				obs.Filter = f
				break
			}
		}
	}

	if d, ok := img.Header("DATE-OBS"); ok {
		obs.DateObs = d
		if !strings.Contains(d, "T") {
			if t, ok := img.Header("TIME-OBS"); ok && t != "" {
				obs.DateObs = d + "T" + t
			}
		}
	}

	if e, ok := img.Header("EXPTIME"); ok {
		if v, err := strconv.ParseFloat(e, 64); err == nil {
			obs.ExposureTime = v
		}
	}

	return obs
}
