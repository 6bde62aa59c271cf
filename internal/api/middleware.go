package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

// Request and response headers.
const (
	TenantIDHeader  = "X-Tenant-ID"
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

type metaKey struct{}

// requestMeta is shared by the middleware chain for one request. Inner
// layers fill it in and AccessLog reads it after the handler returns.
type requestMeta struct {
	requestID string
	traceID   string
	tenantID  string
}

func metaFrom(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(metaKey{}).(*requestMeta)
	return m
}

// Tracing returns middleware that assigns every request an ID, reusing a
// caller-supplied X-Request-ID. With tracing enabled it also joins an
// incoming W3C trace context and opens a server span. The trace ID echoed
// in X-Trace-ID is the span's when valid, the request ID otherwise.
func Tracing(cfg domain.TracingConfig) func(http.Handler) http.Handler {
	var tracer trace.Tracer
	if cfg.Enabled {
		name := cfg.ServiceName
		if name == "" {
			name = "heron"
		}
		tracer = otel.Tracer(name + "/api")
	}
	propagator := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := &requestMeta{requestID: r.Header.Get(RequestIDHeader)}
			if meta.requestID == "" {
				meta.requestID = uuid.NewString()
			}
			meta.traceID = meta.requestID

			ctx := r.Context()
			var span trace.Span
			if tracer != nil {
				ctx = propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
				ctx, span = tracer.Start(ctx, r.Method+" "+r.URL.Path,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						attribute.String("http.request.method", r.Method),
						attribute.String("url.path", r.URL.Path),
						attribute.String("heron.request_id", meta.requestID),
					),
				)
				defer span.End()
				if sc := span.SpanContext(); sc.HasTraceID() {
					meta.traceID = sc.TraceID().String()
				}
			}

			w.Header().Set(RequestIDHeader, meta.requestID)
			w.Header().Set(TraceIDHeader, meta.traceID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(context.WithValue(ctx, metaKey{}, meta)))

			if span != nil {
				span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
				if rec.status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(rec.status))
				}
				if meta.tenantID != "" {
					span.SetAttributes(attribute.String("heron.tenant_id", meta.tenantID))
				}
			}
		})
	}
}

// RequireTenant rejects requests without an X-Tenant-ID header, and those
// naming the reserved global table scope.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantIDHeader)
		switch tenantID {
		case "":
			writeError(w, http.StatusBadRequest, "X-Tenant-ID header is required")
			return
		case rules.GlobalTenantID:
			writeError(w, http.StatusBadRequest, "X-Tenant-ID is reserved")
			return
		}

		ctx := r.Context()
		meta := metaFrom(ctx)
		if meta == nil {
			meta = &requestMeta{}
			ctx = context.WithValue(ctx, metaKey{}, meta)
		}
		meta.tenantID = tenantID
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLog writes one structured line per request. Health checks log at debug
// and server errors at error level.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if m := metaFrom(r.Context()); m != nil {
			attrs = append(attrs, "tenant_id", m.tenantID, "request_id", m.requestID, "trace_id", m.traceID)
		}
		slog.Log(r.Context(), accessLevel(r.URL.Path, rec.status), "http request", attrs...)
	})
}

func accessLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case path == "/health" || path == "/ready":
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// CORS allows dashboards on other origins to call the API and read the
// correlation headers.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, traceparent, "+TenantIDHeader+", "+RequestIDHeader)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader+", "+TraceIDHeader)
		h.Set("Access-Control-Max-Age", "86400")
		if origin != "*" {
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Recover turns a handler panic into a 500 response.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("handler panic", "panic", v, "method", r.Method, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// GetTenantID returns the tenant of the request, or "".
func GetTenantID(ctx context.Context) string {
	if m := metaFrom(ctx); m != nil {
		return m.tenantID
	}
	return ""
}

// GetTraceID returns the trace ID of the request, or "".
func GetTraceID(ctx context.Context) string {
	if m := metaFrom(ctx); m != nil {
		return m.traceID
	}
	return ""
}
