package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
)

const upstreamTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

func TestTracing(t *testing.T) {
	tests := []struct {
		name        string
		cfg         domain.TracingConfig
		requestID   string
		traceparent string
		wantTrace   string
	}{
		{
			name:      "disabled uses request id",
			cfg:       domain.TracingConfig{Enabled: false},
			requestID: "req-1",
			wantTrace: "req-1",
		},
		{
			name:        "disabled ignores traceparent",
			cfg:         domain.TracingConfig{Enabled: false},
			requestID:   "req-2",
			traceparent: "00-" + upstreamTraceID + "-00f067aa0ba902b7-01",
			wantTrace:   "req-2",
		},
		{
			name:        "enabled joins traceparent",
			cfg:         domain.TracingConfig{Enabled: true, ServiceName: "heron-test"},
			requestID:   "req-3",
			traceparent: "00-" + upstreamTraceID + "-00f067aa0ba902b7-01",
			wantTrace:   upstreamTraceID,
		},
		{
			name:      "enabled without exporter falls back to request id",
			cfg:       domain.TracingConfig{Enabled: true},
			requestID: "req-4",
			wantTrace: "req-4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := Tracing(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetTraceID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
			req.Header.Set(RequestIDHeader, tt.requestID)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if got := rr.Header().Get(RequestIDHeader); got != tt.requestID {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.requestID)
			}
			if got := rr.Header().Get(TraceIDHeader); got != tt.wantTrace {
				t.Errorf("X-Trace-ID = %q, want %q", got, tt.wantTrace)
			}
			if seen != tt.wantTrace {
				t.Errorf("GetTraceID = %q, want %q", seen, tt.wantTrace)
			}
		})
	}
}

func TestTracingGeneratesRequestID(t *testing.T) {
	h := Tracing(domain.TracingConfig{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	id := rr.Header().Get(RequestIDHeader)
	if id == "" || rr.Header().Get(TraceIDHeader) != id {
		t.Errorf("request id %q, trace id %q", id, rr.Header().Get(TraceIDHeader))
	}
}

func TestRequireTenantSharesRequestMeta(t *testing.T) {
	var tenant, trace string
	h := Tracing(domain.TracingConfig{})(RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant = GetTenantID(r.Context())
		trace = GetTraceID(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
	req.Header.Set(TenantIDHeader, "tenant-7")
	req.Header.Set(RequestIDHeader, "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if tenant != "tenant-7" || trace != "req-7" {
		t.Errorf("tenant=%q trace=%q", tenant, trace)
	}
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/score", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}
}
