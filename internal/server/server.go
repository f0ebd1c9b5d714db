package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ironsheep/astrophot/internal/calibration"
	"github.com/ironsheep/astrophot/internal/imaging"
	"github.com/ironsheep/astrophot/internal/logging"
	"github.com/ironsheep/astrophot/internal/metrics"
	"github.com/ironsheep/astrophot/internal/pipeline"
)

// Version is reported in the initialize handshake.
var Version = "0.1.0"

// Server handles MCP protocol communication
type Server struct {
	cfg     pipeline.Config
	cache   *imaging.ImageCache
	calib   calibration.Service
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithConfig sets the defaults used by every tool call.
func WithConfig(cfg pipeline.Config) Option {
	return func(s *Server) { s.cfg = cfg }
}

// WithCalibration enables magnitudes and the zeropoint_lookup tool.
func WithCalibration(svc calibration.Service) Option {
	return func(s *Server) { s.calib = svc }
}

// WithMetrics records pipeline runs started through run_pipeline.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Logs must not go to stdout, which carries the
// protocol.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// New creates a new MCP server instance
func New(opts ...Option) *Server {
	s := &Server{
		cfg:   pipeline.DefaultConfig(),
		cache: imaging.NewImageCache(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("service", "mcp")
	return s
}

// Run serves requests from stdin until it closes or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads one JSON-RPC request per line from r and writes responses to w.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for large requests
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("failed to parse request", "error", err)
			if err := encoder.Encode(s.errorResponse(nil, -32700, "Parse error", err.Error())); err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
			continue
		}

		resp := s.handleRequest(ctx, &req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(ctx context.Context, req *MCPRequest) *MCPResponse {
	s.logger.Debug("request", "method", req.Method, "id", req.ID)

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "logging/setLevel":
		return s.handleSetLevel(req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return s.errorResponse(req.ID, -32601, fmt.Sprintf("Method not found: %s", req.Method), "")
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools":   map[string]interface{}{},
				"logging": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "astrophot",
				"version": Version,
			},
		},
	}
}

// handleSetLevel changes the server's log level. Levels use the syslog
// names MCP clients send; they are folded onto slog's four levels.
func (s *Server) handleSetLevel(req *MCPRequest) *MCPResponse {
	var params struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Level == "" {
		return s.errorResponse(req.ID, -32602, "Invalid params", "level is required")
	}
	lvl, err := logging.ParseLevel(params.Level)
	if err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	logging.SetLevel(lvl)
	s.logger.Info("log level changed", "level", lvl)
	return &MCPResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	e := &MCPError{Code: code, Message: message}
	if data != "" {
		e.Data = data
	}
	return &MCPResponse{JSONRPC: "2.0", ID: id, Error: e}
}
