package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/ironsheep/astrophot/internal/logging"
)

func TestNew(t *testing.T) {
	s := New()
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.cache == nil {
		t.Fatal("New() did not initialize cache")
	}
	if s.cfg.FWHM == 0 {
		t.Error("New() should start from the default pipeline configuration")
	}
}

func TestMCPRequest_Unmarshal(t *testing.T) {
	tests := []struct {
		name       string
		json       string
		wantID     interface{}
		wantMethod string
	}{
		{"string id", `{"jsonrpc":"2.0","id":"test-1","method":"tools/list"}`, "test-1", "tools/list"},
		{"number id", `{"jsonrpc":"2.0","id":42,"method":"ping"}`, float64(42), "ping"},
		{"null id", `{"jsonrpc":"2.0","id":null,"method":"initialize"}`, nil, "initialize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req MCPRequest
			if err := json.Unmarshal([]byte(tt.json), &req); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}
			if req.ID != tt.wantID {
				t.Errorf("ID: got %v (%T), want %v (%T)", req.ID, req.ID, tt.wantID, tt.wantID)
			}
			if req.Method != tt.wantMethod {
				t.Errorf("Method: got %s, want %s", req.Method, tt.wantMethod)
			}
		})
	}
}

func TestMCPResponse_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(&MCPResponse{JSONRPC: "2.0", ID: 1, Result: map[string]interface{}{}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"error"`) {
		t.Errorf("success response should omit error: %s", data)
	}

	data, _ = json.Marshal(New().errorResponse(2, -32601, "Method not found: x", ""))
	if strings.Contains(string(data), `"data"`) {
		t.Errorf("empty error data should be omitted: %s", data)
	}
}

func TestHandleRequest_Initialize(t *testing.T) {
	s := New()
	resp := s.handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 1, Method: "initialize"})
	if resp == nil || resp.Error != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	result := resp.Result.(map[string]interface{})
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion = %v", result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]interface{})
	if info["name"] != "astrophot" || info["version"] != Version {
		t.Errorf("serverInfo = %v", info)
	}
}

func TestHandleRequest_Ping(t *testing.T) {
	resp := New().handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: "p", Method: "ping"})
	if resp == nil || resp.Error != nil || resp.ID != "p" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleRequest_NotificationsInitialized(t *testing.T) {
	resp := New().handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", Method: "notifications/initialized"})
	if resp != nil {
		t.Errorf("notifications must not be answered, got %+v", resp)
	}
}

func TestHandleRequest_SetLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		logging.SetLevel(slog.LevelInfo)
	})

	var buf bytes.Buffer
	logger, err := logging.Setup(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	s := New(WithLogger(logger))

	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0", ID: 3, Method: "logging/setLevel",
		Params: json.RawMessage(`{"level":"debug"}`),
	})
	if resp == nil || resp.Error != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	logger.Debug("after set level")
	if !strings.Contains(buf.String(), "after set level") {
		t.Errorf("debug output missing after logging/setLevel: %q", buf.String())
	}

	for _, params := range []string{`{}`, `{"level":"loud"}`, `not json`} {
		resp := s.handleRequest(context.Background(), &MCPRequest{
			JSONRPC: "2.0", ID: 4, Method: "logging/setLevel", Params: json.RawMessage(params),
		})
		if resp == nil || resp.Error == nil || resp.Error.Code != -32602 {
			t.Errorf("params %s: expected -32602, got %+v", params, resp)
		}
	}
}

func TestHandleRequest_MethodNotFound(t *testing.T) {
	resp := New().handleRequest(context.Background(), &MCPRequest{JSONRPC: "2.0", ID: 9, Method: "resources/list"})
	if resp == nil || resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("code = %d, want -32601", resp.Error.Code)
	}
}

func TestServe(t *testing.T) {
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{not json`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n")

	var out bytes.Buffer
	if err := newTestServer(t).Serve(context.Background(), strings.NewReader(in), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var responses []MCPResponse
	sc := bufio.NewScanner(&out)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var resp MCPResponse
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			t.Fatalf("bad response line %q: %v", sc.Text(), err)
		}
		responses = append(responses, resp)
	}

	if len(responses) != 3 {
		t.Fatalf("got %d responses, want 3 (initialize, parse error, tools/list)", len(responses))
	}
	if responses[1].Error == nil || responses[1].Error.Code != -32700 {
		t.Errorf("second response should be a parse error, got %+v", responses[1])
	}
	if responses[2].ID != float64(2) {
		t.Errorf("tools/list id = %v", responses[2].ID)
	}
}

func TestServeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := newTestServer(t).Serve(ctx, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out)
	if err != context.Canceled {
		t.Errorf("Serve error = %v, want context.Canceled", err)
	}
	if out.Len() != 0 {
		t.Errorf("no response expected after cancellation, got %s", out.String())
	}
}
