package calibration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "https://calib.example.org/api"

func setupHTTPMock(t *testing.T) {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)
}

func newTestService(t *testing.T, timeout time.Duration) *HTTPService {
	t.Helper()
	svc, err := NewHTTPService(HTTPConfig{BaseURL: testBaseURL + "/", Timeout: timeout, CacheTTL: time.Minute})
	require.NoError(t, err)
	return svc
}

func testQuery(t *testing.T) Query {
	t.Helper()
	q, err := NewQuery("ACS/WFC", "F775W", "2020-01-01T10:00:00", "")
	require.NoError(t, err)
	return q
}

const zeroPointJSON = `{
  "detector": "WFC",
  "filter": "F775W",
  "date": "2020-01-01",
  "zeropoint": 24.5,
  "photflam": 9.9e-20,
  "photplam": 7693.5,
  "system": "VEGAmag"
}`

func TestHTTPServiceLookupSuccess(t *testing.T) {
	setupHTTPMock(t)

	httpmock.RegisterResponder("GET", testBaseURL+"/zeropoint",
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "WFC", q.Get("detector"))
			assert.Equal(t, "F775W", q.Get("filter"))
			assert.Equal(t, "2020-01-01", q.Get("date"))
			assert.Equal(t, "VEGAmag", q.Get("system"))
			return httpmock.NewStringResponse(http.StatusOK, zeroPointJSON), nil
		})

	svc := newTestService(t, time.Second)
	zp, err := svc.Lookup(context.Background(), testQuery(t))
	require.NoError(t, err)

	assert.Equal(t, 24.5, zp.ZeroPoint)
	assert.Equal(t, WFC, zp.Instrument)
	assert.Equal(t, "F775W", zp.Filter)
	assert.InDelta(t, 7693.5, zp.PhotPlam, 1e-9)
	assert.InDelta(t, 9.9e-20, zp.PhotFlam, 1e-30)
	assert.Equal(t, "VEGAmag", zp.System)
}

func TestHTTPServiceCachesAnswers(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder("GET", testBaseURL+"/zeropoint",
		httpmock.NewStringResponder(http.StatusOK, zeroPointJSON))

	svc := newTestService(t, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		zp, err := svc.Lookup(ctx, testQuery(t))
		require.NoError(t, err)
		assert.Equal(t, 24.5, zp.ZeroPoint)
	}

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	stats := svc.Stats()
	assert.Equal(t, int64(3), stats.Requests)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	svc.Flush()
	_, err := svc.Lookup(ctx, testQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestHTTPServiceErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		wantErr   error
	}{
		{"server error", httpmock.NewStringResponder(http.StatusInternalServerError, "boom"), nil},
		{"not found", httpmock.NewStringResponder(http.StatusNotFound, "{}"), ErrNoZeroPoint},
		{"malformed json", httpmock.NewStringResponder(http.StatusOK, "{not json"), nil},
		{"missing zeropoint", httpmock.NewStringResponder(http.StatusOK, `{"detector":"WFC"}`), nil},
		{"transport error", httpmock.NewErrorResponder(assert.AnError), assert.AnError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupHTTPMock(t)
			httpmock.RegisterResponder("GET", testBaseURL+"/zeropoint", tt.responder)

			svc := newTestService(t, time.Second)
			_, err := svc.Lookup(context.Background(), testQuery(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCalibrationLookup)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestHTTPServiceFailuresAreNotCached(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder("GET", testBaseURL+"/zeropoint",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	svc := newTestService(t, time.Second)
	_, err := svc.Lookup(context.Background(), testQuery(t))
	require.Error(t, err)

	httpmock.RegisterResponder("GET", testBaseURL+"/zeropoint",
		httpmock.NewStringResponder(http.StatusOK, zeroPointJSON))
	zp, err := svc.Lookup(context.Background(), testQuery(t))
	require.NoError(t, err)
	assert.Equal(t, 24.5, zp.ZeroPoint)
}

func TestHTTPServiceTimeout(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder("GET", testBaseURL+"/zeropoint",
		func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})

	svc := newTestService(t, 50*time.Millisecond)
	start := time.Now()
	_, err := svc.Lookup(context.Background(), testQuery(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCalibrationLookup)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPServiceWithResolve(t *testing.T) {
	setupHTTPMock(t)
	httpmock.RegisterResponder("GET", testBaseURL+"/zeropoint",
		httpmock.NewStringResponder(http.StatusOK, zeroPointJSON))

	svc := newTestService(t, time.Second)
	zp, err := Resolve(context.Background(), svc, "WFC", "F775W", "2020-01-01", "VEGAmag")
	require.NoError(t, err)
	assert.Equal(t, 24.5, zp.ZeroPoint)
}

func TestNewHTTPServiceInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "ftp://example.org", "http://"} {
		_, err := NewHTTPService(HTTPConfig{BaseURL: raw})
		assert.Error(t, err, raw)
	}
}
