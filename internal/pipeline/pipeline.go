package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/astrophot/internal/calibration"
	"github.com/ironsheep/astrophot/internal/detection"
	"github.com/ironsheep/astrophot/internal/imaging"
	"github.com/ironsheep/astrophot/internal/metrics"
	"github.com/ironsheep/astrophot/internal/photometry"
	"github.com/ironsheep/astrophot/internal/stats"
)

// ErrMissingExposure is returned when magnitudes are requested but neither
// the configuration nor the header gives an exposure time.
var ErrMissingExposure = errors.New("no exposure time in configuration or EXPTIME header")

// Result is the outcome of one pipeline run.
type Result struct {
	RunID     string `json:"run_id"`
	ImagePath string `json:"image_path,omitempty"`

	Region RegionBounds `json:"region"`

	Observation imaging.Observation `json:"observation"`
	Background  stats.Stats         `json:"background"`

	// Threshold is the detection threshold in counts above the background
	// median.
	Threshold float64 `json:"threshold"`

	// UnmaskedSources counts detections before masks were applied.
	UnmaskedSources int                    `json:"unmasked_sources"`
	Sources         []detection.Source     `json:"sources"`
	Photometry      []photometry.Result    `json:"photometry"`
	ZeroPoint       *calibration.ZeroPoint `json:"zeropoint,omitempty"`
	ExposureTime    float64                `json:"exposure_time"`

	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes the pipeline with a fixed configuration. It is safe for
// concurrent use.
type Runner struct {
	cfg     Config
	cache   *imaging.ImageCache
	svc     calibration.Service
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithCalibration sets the zero-point service. Without one, results carry
// net counts but no magnitudes.
func WithCalibration(svc calibration.Service) Option {
	return func(r *Runner) { r.svc = svc }
}

// WithCache shares an image cache between runners.
func WithCache(c *imaging.ImageCache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner validates cfg and returns a Runner.
func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = imaging.NewImageCache()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("service", "pipeline")
	return r, nil
}

// Config returns the runner configuration.
func (r *Runner) Config() Config { return r.cfg }

// RunFile loads path through the cache and runs the pipeline on it.
func (r *Runner) RunFile(ctx context.Context, path string) (*Result, error) {
	img, err := r.cache.Load(path)
	if err != nil {
		return nil, err
	}
	res, err := r.Run(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	res.ImagePath = path
	return res, nil
}

// Detection is the output of the background and detection stages.
type Detection struct {
	Background stats.Stats `json:"background"`

	// Threshold is the detection threshold in counts above the background
	// median.
	Threshold float64 `json:"threshold"`

	// UnmaskedSources counts detections before masks were applied.
	UnmaskedSources int                `json:"unmasked_sources"`
	Sources         []detection.Source `json:"sources"`
	Mask            *detection.Mask    `json:"-"`
	Warnings        []string           `json:"warnings,omitempty"`
}

// Detect estimates the background of region and finds sources in it.
//
// With masks configured, detection runs twice: once on the full region to
// report UnmaskedSources, and once with the mask applied. A background
// estimate that does not converge is reported as a warning.
func (r *Runner) Detect(ctx context.Context, region *imaging.Region) (*Detection, error) {
	det := &Detection{}
	var err error

	if len(r.cfg.Masks) > 0 {
		det.Mask, err = detection.NewMaskFromRects(region.Rows(), region.Cols(), r.cfg.Masks)
		if err != nil {
			return nil, err
		}
	}

	// Background
	t := time.Now()
	var maskBits []bool
	if det.Mask != nil {
		maskBits = det.Mask.Bits()
	}
	det.Background, err = stats.EstimateMasked(region, maskBits, stats.Options{
		Sigma:    r.cfg.SigmaClip,
		MaxIters: r.cfg.MaxIters,
	})
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	if err := det.Background.Err(); err != nil {
		r.metrics.RecordClipNotConverged()
		det.Warnings = append(det.Warnings, fmt.Sprintf("background: %v", err))
		r.logger.Warn("background estimate did not converge",
			"iterations", det.Background.Iterations,
			"stddev", det.Background.StdDev)
	}
	r.metrics.RecordStage("background", time.Since(t))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Detection
	t = time.Now()
	det.Threshold = r.cfg.DetectionThreshold * det.Background.StdDev
	opts := detection.Options{
		FWHM:          r.cfg.FWHM,
		Threshold:     det.Threshold,
		Sky:           det.Background.Median,
		SharpLo:       r.cfg.SharpLo,
		SharpHi:       r.cfg.SharpHi,
		RoundLo:       r.cfg.RoundLo,
		RoundHi:       r.cfg.RoundHi,
		ExcludeBorder: r.cfg.ExcludeBorder,
	}
	det.Sources, err = detection.Detect(region, opts)
	if err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}
	det.UnmaskedSources = len(det.Sources)
	if det.Mask != nil {
		opts.Mask = det.Mask
		det.Sources, err = detection.Detect(region, opts)
		if err != nil {
			return nil, fmt.Errorf("masked detection: %w", err)
		}
	}
	r.metrics.RecordStage("detection", time.Since(t))

	r.logger.Debug("detection complete",
		"threshold", det.Threshold,
		"sky", det.Background.Median,
		"unmasked", det.UnmaskedSources,
		"sources", len(det.Sources))

	return det, nil
}

// Run executes every stage on img.
//
// Stages run in order: region extraction, background estimation, detection,
// zero-point lookup and photometry. A failed zero-point lookup aborts the
// run.
func (r *Runner) Run(ctx context.Context, img *imaging.Image) (res *Result, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordRun(time.Since(start), err) }()

	res = &Result{RunID: uuid.NewString()}
	log := r.logger.With("run_id", res.RunID)

	region, err := r.extract(img)
	if err != nil {
		return nil, err
	}
	res.Region.Rows, res.Region.Cols = region.Bounds()
	res.Observation = imaging.ObservationInfo(img)

	det, err := r.Detect(ctx, region)
	if err != nil {
		return nil, err
	}
	res.Background = det.Background
	res.Threshold = det.Threshold
	res.UnmaskedSources = det.UnmaskedSources
	res.Sources = det.Sources
	res.Warnings = append(res.Warnings, det.Warnings...)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Calibration
	res.ExposureTime = r.cfg.ExposureTime
	if res.ExposureTime == 0 {
		res.ExposureTime = res.Observation.ExposureTime
	}
	if r.svc != nil {
		zp, err := r.lookupZeroPoint(ctx, res.Observation)
		r.metrics.RecordCalibration(err)
		if err != nil {
			return nil, err
		}
		if !(res.ExposureTime > 0) {
			return nil, ErrMissingExposure
		}
		res.ZeroPoint = &zp
	}

	// Photometry
	t := time.Now()
	params := photometry.Params{
		ApertureRadius: r.cfg.ApertureRadius,
		AnnulusInner:   r.cfg.AnnulusInner,
		AnnulusOuter:   r.cfg.AnnulusOuter,
		SigmaClip:      r.cfg.SigmaClip,
		MaxIters:       r.cfg.MaxIters,
		ExposureTime:   res.ExposureTime,
		Mask:           det.Mask,
	}
	if res.ZeroPoint != nil {
		zp := res.ZeroPoint.ZeroPoint
		params.ZeroPoint = &zp
	}
	res.Photometry, err = photometry.Measure(region, res.Sources, params)
	if err != nil {
		return nil, fmt.Errorf("photometry: %w", err)
	}
	r.metrics.RecordStage("photometry", time.Since(t))

	negative := 0
	for _, p := range res.Photometry {
		if p.Flags.Has(photometry.FlagNegativeFlux) {
			negative++
		}
	}
	r.metrics.RecordSources(len(res.Sources), negative)
	if negative > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d sources with non-positive net flux have no magnitude", negative))
	}

	res.Duration = time.Since(start)
	log.Info("run complete",
		"sources", len(res.Sources),
		"negative_flux", negative,
		"calibrated", res.ZeroPoint != nil,
		"duration", res.Duration)

	return res, nil
}

func (r *Runner) extract(img *imaging.Image) (*imaging.Region, error) {
	if r.cfg.RegionBounds.IsZero() {
		return img.Full(), nil
	}
	b := r.cfg.RegionBounds.Resolve(img.Width(), img.Height())
	return imaging.Extract(img, b.Rows, b.Cols)
}

func (r *Runner) lookupZeroPoint(ctx context.Context, obs imaging.Observation) (calibration.ZeroPoint, error) {
	c := r.cfg.Calibration
	inst, filter, date := obs.Instrument, obs.Filter, obs.DateObs
	if c.Instrument != "" {
		inst = c.Instrument
	}
	if c.Filter != "" {
		filter = c.Filter
	}
	if c.Date != "" {
		date = c.Date
	}
	return calibration.Resolve(ctx, r.svc, inst, filter, date, r.cfg.MagSystem)
}

// NewCalibrationService builds the zero-point service described by cfg.
// It returns nil when no source is configured.
func NewCalibrationService(cfg CalibrationConfig, logger *slog.Logger) (calibration.Service, error) {
	switch {
	case len(cfg.Static) > 0:
		table, err := calibration.NewStaticTable(cfg.Static)
		if err != nil {
			return nil, err
		}
		return table, nil
	case cfg.URL != "":
		svc, err := calibration.NewHTTPService(calibration.HTTPConfig{
			BaseURL:  cfg.URL,
			Timeout:  cfg.Timeout,
			CacheTTL: cfg.CacheTTL,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, nil
	}
}
