package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

var rangeSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"start": prop("integer", "First index (0-based, inclusive)"),
		"end":   prop("integer", "Last index (exclusive)"),
	},
	"required": []string{"start", "end"},
}

// regionProperties are shared by every tool that works on a region of a FITS
// file. Rows count up from the bottom of the frame.
func regionProperties(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"path": prop("string", "Absolute path to the FITS file"),
		"rows": rangeSchema,
		"cols": rangeSchema,
		"region": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"top-left", "top-right", "bottom-left", "bottom-right", "top-half", "bottom-half", "left-half", "right-half", "center"},
			"description": "Named region; used when rows and cols are omitted. Default is the whole frame",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

var detectionProperties = map[string]interface{}{
	"fwhm":           prop("number", "Expected stellar FWHM in pixels. Default 3"),
	"threshold":      prop("number", "Detection threshold in background standard deviations. Default 5"),
	"sharp_lo":       prop("number", "Lower sharpness bound. Default 0.2"),
	"sharp_hi":       prop("number", "Upper sharpness bound. Default 1.0"),
	"round_lo":       prop("number", "Lower roundness bound. Default -1"),
	"round_hi":       prop("number", "Upper roundness bound. Default 1"),
	"exclude_border": prop("boolean", "Skip sources whose kernel footprint leaves the region"),
	"masks": map[string]interface{}{
		"type": "array",
		"items": objectSchema(map[string]interface{}{
			"rows": rangeSchema,
			"cols": rangeSchema,
		}, "rows", "cols"),
		"description": "Rectangles in region coordinates excluded from detection",
	},
}

var photometryProperties = map[string]interface{}{
	"aperture_radius": prop("number", "Aperture radius in pixels. Default 4"),
	"annulus_inner":   prop("number", "Inner sky annulus radius. Default 6"),
	"annulus_outer":   prop("number", "Outer sky annulus radius. Default 10"),
	"exposure_time":   prop("number", "Exposure time in seconds; EXPTIME is used when omitted"),
	"zeropoint":       prop("number", "Zero point in magnitudes; magnitudes are omitted without one"),
}

func merge(maps ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// GetToolDefinitions returns all available tools. zeropoint_lookup is listed
// only when a calibration service is configured.
func GetToolDefinitions(calibrated bool) []Tool {
	tools := []Tool{
		{
			Name:        "fits_load",
			Description: "Load a FITS file and return its dimensions, sample type and the observation metadata used for calibration.",
			InputSchema: objectSchema(map[string]interface{}{
				"path": prop("string", "Absolute path to the FITS file"),
			}, "path"),
		},
		{
			Name:        "fits_unload",
			Description: "Drop a FITS file from the server's image cache. With all, clear every cached file and any cached zero points.",
			InputSchema: objectSchema(map[string]interface{}{
				"path": prop("string", "Path previously passed to another tool"),
				"all":  prop("boolean", "Clear the whole cache"),
			}),
		},
		{
			Name:        "fits_header",
			Description: "Return the header cards of a FITS file in file order, optionally filtered by key.",
			InputSchema: objectSchema(map[string]interface{}{
				"path": prop("string", "Absolute path to the FITS file"),
				"keys": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Only return these keys",
				},
			}, "path"),
		},
		{
			Name:        "region_stats",
			Description: "Sigma-clipped mean, median and standard deviation of a region. Use this to estimate the sky background.",
			InputSchema: objectSchema(regionProperties(map[string]interface{}{
				"sigma":     prop("number", "Clipping threshold in standard deviations. Default 3"),
				"max_iters": prop("integer", "Maximum clipping passes. Default 5"),
			}), "path"),
		},
		{
			Name:        "detect_sources",
			Description: "Find point sources in a region with a DAOFIND-style matched filter. Positions are sub-pixel, in region coordinates with pixel centers at integers.",
			InputSchema: objectSchema(regionProperties(detectionProperties), "path"),
		},
		{
			Name:        "aperture_photometry",
			Description: "Measure circular-aperture fluxes with a sigma-clipped annulus background at the given positions (region coordinates).",
			InputSchema: objectSchema(regionProperties(merge(photometryProperties, map[string]interface{}{
				"positions": map[string]interface{}{
					"type": "array",
					"items": objectSchema(map[string]interface{}{
						"x": prop("number", "Column position"),
						"y": prop("number", "Row position"),
					}, "x", "y"),
					"description": "Source positions to measure",
				},
			})), "path", "positions"),
		},
		{
			Name:        "run_pipeline",
			Description: "Run region extraction, background estimation, detection, zero-point lookup and photometry on a FITS file and return the full result.",
			InputSchema: objectSchema(regionProperties(merge(detectionProperties, photometryProperties)), "path"),
		},
		{
			Name:        "render_region",
			Description: "Render a region as a PNG with row 0 at the bottom, optionally overlaying detected sources and their apertures.",
			InputSchema: objectSchema(regionProperties(map[string]interface{}{
				"stretch": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"linear", "log", "asinh"},
					"description": "Intensity stretch. Default linear",
				},
				"colormap": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"gray", "heat"},
					"description": "Colormap. Default gray",
				},
				"scale":           prop("integer", "Integer magnification, 1-16. Default 1"),
				"low_percentile":  prop("number", "Black point percentile. Default 0.5"),
				"high_percentile": prop("number", "White point percentile. Default 99.5"),
				"show_sources":    prop("boolean", "Detect sources and draw their apertures"),
				"labels":          prop("boolean", "Label drawn sources with their IDs"),
			}), "path"),
		},
	}

	if calibrated {
		tools = append(tools, Tool{
			Name:        "zeropoint_lookup",
			Description: "Look up the photometric zero point for an instrument, filter and observation date.",
			InputSchema: objectSchema(map[string]interface{}{
				"instrument": prop("string", "Instrument or detector name, e.g. ACS/WFC"),
				"filter":     prop("string", "Filter name, e.g. F775W"),
				"date":       prop("string", "Observation date, YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS"),
				"system":     prop("string", "Magnitude system. Default VEGAmag"),
			}, "instrument", "filter", "date"),
		})
	}
	return tools
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(s.calib != nil),
		},
	}
}
