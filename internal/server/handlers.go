package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ironsheep/astrophot/internal/calibration"
	"github.com/ironsheep/astrophot/internal/detection"
	"github.com/ironsheep/astrophot/internal/imaging"
	"github.com/ironsheep/astrophot/internal/photometry"
	"github.com/ironsheep/astrophot/internal/pipeline"
	"github.com/ironsheep/astrophot/internal/render"
	"github.com/ironsheep/astrophot/internal/stats"
)

// errNoCalibration is returned by zeropoint_lookup when the server was started
// without a calibration source.
var errNoCalibration = errors.New("no calibration service configured")

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "fits_load", "detect_sources").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// render_region additionally returns the PNG as an image content block.
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Info("tool failed", "tool", params.Name, "error", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	content := []map[string]interface{}{
		{
			"type": "text",
			"text": mustMarshalJSON(result),
		},
	}
	if r, ok := result.(*render.Rendered); ok {
		content = append(content, map[string]interface{}{
			"type":     "image",
			"data":     r.ImageBase64,
			"mimeType": r.MimeType,
		})
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]interface{}{"content": content},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "fits_load":
		return s.handleFITSLoad(args)
	case "fits_unload":
		return s.handleFITSUnload(args)
	case "fits_header":
		return s.handleFITSHeader(args)
	case "region_stats":
		return s.handleRegionStats(args)
	case "detect_sources":
		return s.handleDetectSources(ctx, args)
	case "aperture_photometry":
		return s.handleAperturePhotometry(args)
	case "run_pipeline":
		return s.handleRunPipeline(ctx, args)
	case "render_region":
		return s.handleRenderRegion(ctx, args)
	case "zeropoint_lookup":
		return s.handleZeroPointLookup(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return errors.New("missing arguments")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// === Region selection ===

type regionArgs struct {
	Path   string         `json:"path"`
	Rows   *imaging.Range `json:"rows,omitempty"`
	Cols   *imaging.Range `json:"cols,omitempty"`
	Region string         `json:"region,omitempty"`
}

// bounds resolves the requested region against img. A missing rows or cols
// range spans the whole axis.
func (a regionArgs) bounds(img *imaging.Image) (pipeline.RegionBounds, error) {
	if a.Rows == nil && a.Cols == nil {
		if a.Region == "" {
			return pipeline.RegionBounds{
				Rows: imaging.Range{Start: 0, End: img.Height()},
				Cols: imaging.Range{Start: 0, End: img.Width()},
			}, nil
		}
		region, err := imaging.ExtractNamed(img, a.Region)
		if err != nil {
			return pipeline.RegionBounds{}, err
		}
		rows, cols := region.Bounds()
		return pipeline.RegionBounds{Rows: rows, Cols: cols}, nil
	}

	b := pipeline.RegionBounds{
		Rows: imaging.Range{Start: 0, End: img.Height()},
		Cols: imaging.Range{Start: 0, End: img.Width()},
	}
	if a.Rows != nil {
		b.Rows = *a.Rows
	}
	if a.Cols != nil {
		b.Cols = *a.Cols
	}
	return b, nil
}

func (s *Server) loadRegion(a regionArgs) (*imaging.Image, *imaging.Region, error) {
	if a.Path == "" {
		return nil, nil, errors.New("path is required")
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, nil, err
	}
	b, err := a.bounds(img)
	if err != nil {
		return nil, nil, err
	}
	region, err := imaging.Extract(img, b.Rows, b.Cols)
	if err != nil {
		return nil, nil, err
	}
	return img, region, nil
}

// === Parameter overrides ===

type detectionArgs struct {
	FWHM          *float64         `json:"fwhm,omitempty"`
	Threshold     *float64         `json:"threshold,omitempty"`
	SharpLo       *float64         `json:"sharp_lo,omitempty"`
	SharpHi       *float64         `json:"sharp_hi,omitempty"`
	RoundLo       *float64         `json:"round_lo,omitempty"`
	RoundHi       *float64         `json:"round_hi,omitempty"`
	ExcludeBorder *bool            `json:"exclude_border,omitempty"`
	Masks         []detection.Rect `json:"masks,omitempty"`
}

func (d detectionArgs) apply(cfg *pipeline.Config) {
	setFloat(&cfg.FWHM, d.FWHM)
	setFloat(&cfg.DetectionThreshold, d.Threshold)
	setFloat(&cfg.SharpLo, d.SharpLo)
	setFloat(&cfg.SharpHi, d.SharpHi)
	setFloat(&cfg.RoundLo, d.RoundLo)
	setFloat(&cfg.RoundHi, d.RoundHi)
	if d.ExcludeBorder != nil {
		cfg.ExcludeBorder = *d.ExcludeBorder
	}
	if d.Masks != nil {
		cfg.Masks = d.Masks
	}
}

type photometryArgs struct {
	ApertureRadius *float64 `json:"aperture_radius,omitempty"`
	AnnulusInner   *float64 `json:"annulus_inner,omitempty"`
	AnnulusOuter   *float64 `json:"annulus_outer,omitempty"`
	ExposureTime   *float64 `json:"exposure_time,omitempty"`
}

func (p photometryArgs) apply(cfg *pipeline.Config) {
	setFloat(&cfg.ApertureRadius, p.ApertureRadius)
	setFloat(&cfg.AnnulusInner, p.AnnulusInner)
	setFloat(&cfg.AnnulusOuter, p.AnnulusOuter)
	setFloat(&cfg.ExposureTime, p.ExposureTime)
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// runner builds a pipeline runner over the server's cache and services.
func (s *Server) runner(cfg pipeline.Config) (*pipeline.Runner, error) {
	return pipeline.NewRunner(cfg,
		pipeline.WithCache(s.cache),
		pipeline.WithCalibration(s.calib),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithLogger(s.logger),
	)
}

// === FITS handlers ===

type fitsLoadArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleFITSLoad(args json.RawMessage) (interface{}, error) {
	var a fitsLoadArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

type fitsUnloadArgs struct {
	Path string `json:"path,omitempty"`
	All  bool   `json:"all,omitempty"`
}

func (s *Server) handleFITSUnload(args json.RawMessage) (interface{}, error) {
	var a fitsUnloadArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	switch {
	case a.All:
		s.cache.Clear()
		flushed := false
		if f, ok := s.calib.(interface{ Flush() }); ok {
			f.Flush()
			flushed = true
		}
		return map[string]interface{}{"cleared": true, "calibration_flushed": flushed}, nil
	case a.Path != "":
		s.cache.Evict(a.Path)
		return map[string]interface{}{"evicted": a.Path}, nil
	default:
		return nil, errors.New("path or all is required")
	}
}

type fitsHeaderArgs struct {
	Path string   `json:"path"`
	Keys []string `json:"keys,omitempty"`
}

// HeaderCard is one header key and value.
type HeaderCard struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HeaderResult lists header cards in file order.
type HeaderResult struct {
	Cards   []HeaderCard `json:"cards"`
	Missing []string     `json:"missing,omitempty"`
}

func (s *Server) handleFITSHeader(args json.RawMessage) (interface{}, error) {
	var a fitsHeaderArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	res := &HeaderResult{Cards: []HeaderCard{}}
	if len(a.Keys) == 0 {
		for _, k := range img.HeaderKeys() {
			v, _ := img.Header(k)
			res.Cards = append(res.Cards, HeaderCard{Key: k, Value: v})
		}
		return res, nil
	}
	for _, k := range a.Keys {
		if v, ok := img.Header(k); ok {
			res.Cards = append(res.Cards, HeaderCard{Key: strings.ToUpper(k), Value: v})
		} else {
			res.Missing = append(res.Missing, k)
		}
	}
	return res, nil
}

// === Analysis handlers ===

type regionStatsArgs struct {
	regionArgs
	Sigma    float64 `json:"sigma,omitempty"`
	MaxIters int     `json:"max_iters,omitempty"`
}

// RegionStatsResult is the region_stats output.
type RegionStatsResult struct {
	Region pipeline.RegionBounds `json:"region"`
	stats.Stats
	Warning string `json:"warning,omitempty"`
}

func (s *Server) handleRegionStats(args json.RawMessage) (interface{}, error) {
	var a regionStatsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Sigma == 0 {
		a.Sigma = s.cfg.SigmaClip
	}
	if a.MaxIters == 0 {
		a.MaxIters = s.cfg.MaxIters
	}
	_, region, err := s.loadRegion(a.regionArgs)
	if err != nil {
		return nil, err
	}

	st, err := stats.SigmaClip(region.Values(), stats.Options{Sigma: a.Sigma, MaxIters: a.MaxIters})
	if err != nil {
		return nil, err
	}
	res := &RegionStatsResult{Stats: st}
	res.Region.Rows, res.Region.Cols = region.Bounds()
	if err := st.Err(); err != nil {
		res.Warning = err.Error()
	}
	return res, nil
}

type detectSourcesArgs struct {
	regionArgs
	detectionArgs
}

// DetectSourcesResult is the detect_sources output.
type DetectSourcesResult struct {
	Region pipeline.RegionBounds `json:"region"`
	*pipeline.Detection
}

func (s *Server) handleDetectSources(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a detectSourcesArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	cfg := s.cfg
	a.detectionArgs.apply(&cfg)
	r, err := s.runner(cfg)
	if err != nil {
		return nil, err
	}

	_, region, err := s.loadRegion(a.regionArgs)
	if err != nil {
		return nil, err
	}
	det, err := r.Detect(ctx, region)
	if err != nil {
		return nil, err
	}
	res := &DetectSourcesResult{Detection: det}
	res.Region.Rows, res.Region.Cols = region.Bounds()
	return res, nil
}

type position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type aperturePhotometryArgs struct {
	regionArgs
	photometryArgs
	Positions []position `json:"positions"`
	ZeroPoint *float64   `json:"zeropoint,omitempty"`
}

func (s *Server) handleAperturePhotometry(args json.RawMessage) (interface{}, error) {
	var a aperturePhotometryArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if len(a.Positions) == 0 {
		return nil, errors.New("positions are required")
	}
	cfg := s.cfg
	a.photometryArgs.apply(&cfg)

	img, region, err := s.loadRegion(a.regionArgs)
	if err != nil {
		return nil, err
	}

	exptime := cfg.ExposureTime
	if exptime == 0 {
		exptime = imaging.ObservationInfo(img).ExposureTime
	}
	if a.ZeroPoint != nil && !(exptime > 0) {
		return nil, pipeline.ErrMissingExposure
	}

	sources := make([]detection.Source, len(a.Positions))
	for i, p := range a.Positions {
		sources[i] = detection.Source{ID: i + 1, X: p.X, Y: p.Y}
	}
	return photometry.Measure(region, sources, photometry.Params{
		ApertureRadius: cfg.ApertureRadius,
		AnnulusInner:   cfg.AnnulusInner,
		AnnulusOuter:   cfg.AnnulusOuter,
		SigmaClip:      cfg.SigmaClip,
		MaxIters:       cfg.MaxIters,
		ExposureTime:   exptime,
		ZeroPoint:      a.ZeroPoint,
	})
}

type runPipelineArgs struct {
	regionArgs
	detectionArgs
	photometryArgs
}

func (s *Server) handleRunPipeline(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a runPipelineArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, errors.New("path is required")
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	cfg := s.cfg
	cfg.ImagePath = a.Path
	a.detectionArgs.apply(&cfg)
	a.photometryArgs.apply(&cfg)
	if a.Rows != nil || a.Cols != nil || a.Region != "" {
		if cfg.RegionBounds, err = a.bounds(img); err != nil {
			return nil, err
		}
	}

	r, err := s.runner(cfg)
	if err != nil {
		return nil, err
	}
	return r.RunFile(ctx, a.Path)
}

type renderRegionArgs struct {
	regionArgs
	Stretch        string  `json:"stretch,omitempty"`
	Colormap       string  `json:"colormap,omitempty"`
	Scale          int     `json:"scale,omitempty"`
	LowPercentile  float64 `json:"low_percentile,omitempty"`
	HighPercentile float64 `json:"high_percentile,omitempty"`
	ShowSources    bool    `json:"show_sources,omitempty"`
	Labels         bool    `json:"labels,omitempty"`
}

func (s *Server) handleRenderRegion(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a renderRegionArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	_, region, err := s.loadRegion(a.regionArgs)
	if err != nil {
		return nil, err
	}

	opts := render.Options{
		Stretch:        render.Stretch(a.Stretch),
		Colormap:       a.Colormap,
		Scale:          a.Scale,
		LowPercentile:  a.LowPercentile,
		HighPercentile: a.HighPercentile,
		Labels:         a.Labels,
	}
	if a.ShowSources {
		r, err := s.runner(s.cfg)
		if err != nil {
			return nil, err
		}
		det, err := r.Detect(ctx, region)
		if err != nil {
			return nil, err
		}
		opts.Sources = det.Sources
		opts.ApertureRadius = s.cfg.ApertureRadius
		opts.AnnulusInner = s.cfg.AnnulusInner
		opts.AnnulusOuter = s.cfg.AnnulusOuter
	}
	return render.EncodePNG(region, opts)
}

type zeroPointLookupArgs struct {
	Instrument string `json:"instrument"`
	Filter     string `json:"filter"`
	Date       string `json:"date"`
	System     string `json:"system,omitempty"`
}

func (s *Server) handleZeroPointLookup(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if s.calib == nil {
		return nil, errNoCalibration
	}
	var a zeroPointLookupArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.System == "" {
		a.System = s.cfg.MagSystem
	}
	zp, err := calibration.Resolve(ctx, s.calib, a.Instrument, a.Filter, a.Date, a.System)
	if err != nil {
		return nil, err
	}
	return &zp, nil
}
