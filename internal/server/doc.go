// Package server implements an MCP (Model Context Protocol) server exposing
// the photometry pipeline as tools.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
//   - fits_load: Dimensions, sample type and observation metadata
//   - fits_unload: Evict one file, or everything, from the image cache
//   - fits_header: Header cards in file order
//   - region_stats: Sigma-clipped background statistics
//   - detect_sources: Matched-filter point source detection
//   - aperture_photometry: Aperture fluxes at given positions
//   - run_pipeline: Every stage, with optional parameter overrides
//   - render_region: PNG preview with optional source overlay
//   - zeropoint_lookup: Calibration lookup (only with a calibration source)
//
// Regions are selected with rows/cols ranges or a named region and default
// to the whole frame. Positions are in region coordinates.
//
// # Image Caching
//
// The server maintains an in-memory cache of loaded images. Images are cached
// by path and reused across multiple tool calls, avoiding redundant disk I/O.
// The cache persists for the lifetime of the server process.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
package server
