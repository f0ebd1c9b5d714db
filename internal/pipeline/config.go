package pipeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ironsheep/astrophot/internal/calibration"
	"github.com/ironsheep/astrophot/internal/detection"
	"github.com/ironsheep/astrophot/internal/imaging"
	"github.com/ironsheep/astrophot/internal/stats"
)

// Default configuration values.
const (
	DefaultFWHM               = 3.0
	DefaultDetectionThreshold = 5.0
	DefaultApertureRadius     = 4.0
	DefaultAnnulusInner       = 6.0
	DefaultAnnulusOuter       = 10.0
	DefaultWorkers            = 4
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// RegionBounds selects the analysed sub-region. A zero axis range spans the
// whole axis, so a zero value selects the whole image and a value with only
// Rows set selects full-width rows.
type RegionBounds struct {
	Rows imaging.Range `json:"rows" yaml:"rows" mapstructure:"rows"`
	Cols imaging.Range `json:"cols" yaml:"cols" mapstructure:"cols"`
}

// IsZero reports whether no bounds were configured.
func (b RegionBounds) IsZero() bool {
	return b == RegionBounds{}
}

// Resolve fills unset axes with the full extent of a width x height image.
func (b RegionBounds) Resolve(width, height int) RegionBounds {
	if b.Rows == (imaging.Range{}) {
		b.Rows = imaging.Range{Start: 0, End: height}
	}
	if b.Cols == (imaging.Range{}) {
		b.Cols = imaging.Range{Start: 0, End: width}
	}
	return b
}

// CalibrationConfig selects the zero-point source. Static entries take
// precedence over URL; with neither, runs produce counts but no magnitudes.
type CalibrationConfig struct {
	URL      string              `json:"url" yaml:"url" mapstructure:"url"`
	Timeout  time.Duration       `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	CacheTTL time.Duration       `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`
	Static   []calibration.Entry `json:"static" yaml:"static" mapstructure:"static"`

	// Instrument, Filter and Date override the image header values.
	Instrument string `json:"instrument" yaml:"instrument" mapstructure:"instrument"`
	Filter     string `json:"filter" yaml:"filter" mapstructure:"filter"`
	Date       string `json:"date" yaml:"date" mapstructure:"date"`
}

// Enabled reports whether a zero-point source is configured.
func (c CalibrationConfig) Enabled() bool {
	return len(c.Static) > 0 || c.URL != ""
}

// Config holds every run parameter.
type Config struct {
	ImagePath    string       `json:"image_path" yaml:"image_path" mapstructure:"image_path"`
	RegionBounds RegionBounds `json:"region_bounds" yaml:"region_bounds" mapstructure:"region_bounds"`

	// FWHM is the expected stellar FWHM in pixels.
	FWHM float64 `json:"fwhm" yaml:"fwhm" mapstructure:"fwhm"`

	// DetectionThreshold is in units of the clipped background standard
	// deviation.
	DetectionThreshold float64 `json:"detection_threshold" yaml:"detection_threshold" mapstructure:"detection_threshold"`

	ApertureRadius float64 `json:"aperture_radius" yaml:"aperture_radius" mapstructure:"aperture_radius"`
	AnnulusInner   float64 `json:"annulus_inner" yaml:"annulus_inner" mapstructure:"annulus_inner"`
	AnnulusOuter   float64 `json:"annulus_outer" yaml:"annulus_outer" mapstructure:"annulus_outer"`

	SigmaClip float64 `json:"sigma_clip" yaml:"sigma_clip" mapstructure:"sigma_clip"`
	MaxIters  int     `json:"max_iters" yaml:"max_iters" mapstructure:"max_iters"`

	SharpLo       float64 `json:"sharp_lo" yaml:"sharp_lo" mapstructure:"sharp_lo"`
	SharpHi       float64 `json:"sharp_hi" yaml:"sharp_hi" mapstructure:"sharp_hi"`
	RoundLo       float64 `json:"round_lo" yaml:"round_lo" mapstructure:"round_lo"`
	RoundHi       float64 `json:"round_hi" yaml:"round_hi" mapstructure:"round_hi"`
	ExcludeBorder bool    `json:"exclude_border" yaml:"exclude_border" mapstructure:"exclude_border"`

	// Masks are rectangles in region coordinates excluded from detection
	// and photometry.
	Masks []detection.Rect `json:"masks" yaml:"masks" mapstructure:"masks"`

	// ExposureTime overrides the EXPTIME header when positive.
	ExposureTime float64 `json:"exposure_time" yaml:"exposure_time" mapstructure:"exposure_time"`

	MagSystem   string            `json:"mag_system" yaml:"mag_system" mapstructure:"mag_system"`
	Calibration CalibrationConfig `json:"calibration" yaml:"calibration" mapstructure:"calibration"`

	// Workers bounds concurrent images in RunBatch.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	return Config{
		FWHM:               DefaultFWHM,
		DetectionThreshold: DefaultDetectionThreshold,
		ApertureRadius:     DefaultApertureRadius,
		AnnulusInner:       DefaultAnnulusInner,
		AnnulusOuter:       DefaultAnnulusOuter,
		SigmaClip:          stats.DefaultSigma,
		MaxIters:           stats.DefaultMaxIters,
		SharpLo:            detection.DefaultSharpLo,
		SharpHi:            detection.DefaultSharpHi,
		RoundLo:            detection.DefaultRoundLo,
		RoundHi:            detection.DefaultRoundHi,
		MagSystem:          calibration.DefaultSystem,
		Calibration: CalibrationConfig{
			Timeout:  calibration.DefaultTimeout,
			CacheTTL: calibration.DefaultCacheTTL,
		},
		Workers: DefaultWorkers,
	}
}

// Validate checks the configuration for values no run could use.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}

	positive("fwhm", c.FWHM)
	positive("detection_threshold", c.DetectionThreshold)
	positive("aperture_radius", c.ApertureRadius)
	positive("annulus_inner", c.AnnulusInner)
	positive("annulus_outer", c.AnnulusOuter)
	positive("sigma_clip", c.SigmaClip)

	if c.AnnulusInner >= c.AnnulusOuter {
		errs = append(errs, fmt.Errorf("annulus_inner %v must be below annulus_outer %v", c.AnnulusInner, c.AnnulusOuter))
	}
	if c.MaxIters <= 0 {
		errs = append(errs, fmt.Errorf("max_iters must be positive, got %d", c.MaxIters))
	}
	if c.SharpLo > c.SharpHi {
		errs = append(errs, fmt.Errorf("sharp_lo %v exceeds sharp_hi %v", c.SharpLo, c.SharpHi))
	}
	if c.RoundLo > c.RoundHi {
		errs = append(errs, fmt.Errorf("round_lo %v exceeds round_hi %v", c.RoundLo, c.RoundHi))
	}
	if c.ExposureTime < 0 {
		errs = append(errs, fmt.Errorf("exposure_time must not be negative, got %v", c.ExposureTime))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	for _, axis := range []struct {
		name string
		r    imaging.Range
	}{{"rows", c.RegionBounds.Rows}, {"cols", c.RegionBounds.Cols}} {
		if axis.r == (imaging.Range{}) {
			continue
		}
		if axis.r.Start < 0 || axis.r.Len() <= 0 {
			errs = append(errs, fmt.Errorf("region_bounds %s [%d,%d) is empty or negative",
				axis.name, axis.r.Start, axis.r.End))
		}
	}
	if c.Calibration.Timeout < 0 || c.Calibration.CacheTTL < 0 {
		errs = append(errs, errors.New("calibration timeout and cache_ttl must not be negative"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
