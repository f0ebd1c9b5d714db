package calibration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// HTTP service defaults.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultCacheTTL = 24 * time.Hour

	// maxResponseBytes bounds the body read from the service.
	maxResponseBytes = 1 << 20
)

// HTTPConfig configures an HTTPService.
type HTTPConfig struct {
	// BaseURL is the service root; queries go to {BaseURL}/zeropoint.
	BaseURL string

	// Timeout bounds each request. Zero selects DefaultTimeout.
	Timeout time.Duration

	// CacheTTL is how long answers are reused. Zero selects DefaultCacheTTL.
	CacheTTL time.Duration

	// Client overrides the HTTP client. Optional.
	Client *http.Client

	// Logger receives request logs. Optional.
	Logger *slog.Logger
}

// HTTPService looks up zero points from a remote JSON endpoint.
//
// The endpoint is queried as
//
//	GET {base}/zeropoint?detector=WFC&filter=F775W&date=2020-01-01&system=VEGAmag
//
// and must answer 200 with a JSON object carrying at least "zeropoint".
// Successful answers are cached per query for CacheTTL.
//
// HTTPService is safe for concurrent use.
type HTTPService struct {
	base    string
	timeout time.Duration
	client  *http.Client
	cache   *cache.Cache
	logger  *slog.Logger

	requests atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Requests int64 `json:"requests"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// zeroPointResponse is the wire format of the service answer.
type zeroPointResponse struct {
	Detector  string   `json:"detector"`
	Filter    string   `json:"filter"`
	Date      string   `json:"date"`
	ZeroPoint *float64 `json:"zeropoint"`
	PhotFlam  float64  `json:"photflam"`
	PhotPlam  float64  `json:"photplam"`
	System    string   `json:"system"`
}

// NewHTTPService creates a client for the zero-point service at cfg.BaseURL.
func NewHTTPService(cfg HTTPConfig) (*HTTPService, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("calibration service URL is required")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid calibration service URL %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &HTTPService{
		base:    base,
		timeout: cfg.Timeout,
		client:  client,
		cache:   cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		logger:  logger.With("service", "calibration"),
	}

	s.logger.Debug("calibration client initialized",
		"base_url", base,
		"timeout", cfg.Timeout,
		"cache_ttl", cfg.CacheTTL)

	return s, nil
}

// Lookup fetches the zero point for q, answering from the cache when
// possible. Failures are returned as *LookupError and are not cached.
func (s *HTTPService) Lookup(ctx context.Context, q Query) (ZeroPoint, error) {
	s.requests.Add(1)
	key := q.String()

	if cached, found := s.cache.Get(key); found {
		if zp, ok := cached.(ZeroPoint); ok {
			s.hits.Add(1)
			s.logger.Debug("zero point cache hit", "query", key)
			return zp, nil
		}
	}
	s.misses.Add(1)

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	zp, err := s.fetch(reqCtx, q)
	if err != nil {
		s.logger.Warn("zero point lookup failed", "query", key, "error", err)
		return ZeroPoint{}, &LookupError{Query: q, Err: err}
	}

	s.cache.Set(key, zp, cache.DefaultExpiration)
	s.logger.Debug("zero point cached", "query", key, "zeropoint", zp.ZeroPoint)
	return zp, nil
}

func (s *HTTPService) fetch(ctx context.Context, q Query) (ZeroPoint, error) {
	params := url.Values{}
	params.Set("detector", string(q.Instrument))
	params.Set("filter", q.Filter)
	params.Set("date", q.Date.Format(time.DateOnly))
	params.Set("system", q.System)
	endpoint := s.base + "/zeropoint?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ZeroPoint{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return ZeroPoint{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ZeroPoint{}, fmt.Errorf("failed to read response: %w", err)
	}

	s.logger.Debug("zero point response",
		"status_code", resp.StatusCode,
		"duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ZeroPoint{}, ErrNoZeroPoint
	case resp.StatusCode != http.StatusOK:
		return ZeroPoint{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wire zeroPointResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return ZeroPoint{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if wire.ZeroPoint == nil {
		return ZeroPoint{}, fmt.Errorf("response has no zeropoint")
	}
	if math.IsNaN(*wire.ZeroPoint) || math.IsInf(*wire.ZeroPoint, 0) {
		return ZeroPoint{}, fmt.Errorf("response zeropoint %v is not finite", *wire.ZeroPoint)
	}

	zp := ZeroPoint{
		Instrument: q.Instrument,
		Filter:     q.Filter,
		Date:       q.Date,
		System:     q.System,
		ZeroPoint:  *wire.ZeroPoint,
		PhotFlam:   wire.PhotFlam,
		PhotPlam:   wire.PhotPlam,
	}
	if wire.System != "" {
		zp.System = wire.System
	}
	return zp, nil
}

// Stats returns request and cache counters.
func (s *HTTPService) Stats() CacheStats {
	return CacheStats{
		Requests: s.requests.Load(),
		Hits:     s.hits.Load(),
		Misses:   s.misses.Load(),
	}
}

// Flush drops every cached answer.
func (s *HTTPService) Flush() {
	s.cache.Flush()
}
