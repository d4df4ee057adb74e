package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	apperrors "ccsml/internal/errors"
	"ccsml/internal/infrastructure"
	"ccsml/internal/shared/testutil"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{name: "generated", incoming: ""},
		{name: "reused", incoming: "req-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen, traceID string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = middleware.GetReqID(r.Context())
				traceID = infrastructure.GetTraceID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			if tt.incoming != "" {
				assert.Equal(t, tt.incoming, seen)
			}
			assert.Equal(t, seen, traceID)
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
		})
	}
}

func TestStructuredLogger(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	h := RequestID(StructuredLogger(logger)(http.HandlerFunc(okHandler)))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	testutil.AssertLogContains(t, handler, slog.LevelInfo, "request completed")
	assert.True(t, handler.ContainsAttr("status", int64(200)))
	assert.True(t, handler.ContainsAttr("request_id", "req-1"))
}

func TestRateLimiter(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	rl := NewRateLimiter(0.001, 2, apperrors.NewErrorHandler(logger, false), logger)
	h := rl.Handler(http.HandlerFunc(okHandler))

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/train", nil))
		codes[i] = rec.Code
		if i == 2 {
			assert.Contains(t, rec.Body.String(), "Too Many Requests")
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.True(t, handler.ContainsMessage("rate limit exceeded"))
}

func TestTracingPassesThrough(t *testing.T) {
	h := Tracing(noop.NewTracerProvider().Tracer("test"))(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

type trainBody struct {
	Mode string `json:"mode" validate:"required,oneof=training prediction"`
}

func TestRequestValidatorDecode(t *testing.T) {
	v := NewRequestValidator(1 << 10)

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantCode  string
		wantField string
	}{
		{name: "valid", body: `{"mode":"training"}`},
		{name: "bad value", body: `{"mode":"scoring"}`, wantErr: true, wantCode: "VALIDATION_FAILED", wantField: "mode"},
		{name: "empty body", body: "", wantErr: true, wantCode: "VALIDATION_FAILED", wantField: "mode"},
		{name: "malformed json", body: `{"mode":`, wantErr: true, wantCode: "INVALID_REQUEST"},
		{name: "too large", body: `{"mode":"` + strings.Repeat("x", 2<<10) + `"}`, wantErr: true, wantCode: "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst trainBody
			err := v.Decode(httptest.NewRecorder(), req, &dst)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "training", dst.Mode)
				return
			}
			var apiErr *apperrors.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
			if tt.wantField != "" {
				fields := apiErr.Details.([]apperrors.FieldError)
				require.Len(t, fields, 1)
				assert.Equal(t, tt.wantField, fields[0].Field)
			}
		})
	}
}
