package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "req-123", captured)
}

func TestAccessLog_WritesStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	handler := RequestID(AccessLog(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/ask", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/ask", entry["path"])
	assert.Equal(t, float64(503), entry["status"])
	assert.Equal(t, float64(4), entry["bytes"])
	assert.Equal(t, "10.0.0.1", entry["remote_addr"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestMaxBodyBytes(t *testing.T) {
	handler := MaxBodyBytes(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSentry_WithoutClient(t *testing.T) {
	handler := Sentry("complaints")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSentry_TagsTransaction(t *testing.T) {
	var tx *sentry.Span

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Sentry("complaints"))
	r.Post("/ask", func(w http.ResponseWriter, r *http.Request) {
		tx = sentry.TransactionFromContext(r.Context())
		SetTransactionTag(r.Context(), "product", "Mortgage")
		SetTransactionTag(r.Context(), "ignored", "")
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := httptest.NewRequest(http.MethodPost, "/ask", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.NotNil(t, tx)
	assert.Equal(t, "POST /ask", tx.Name)
	assert.Equal(t, "complaints", tx.Tags["collection"])
	assert.Equal(t, "Mortgage", tx.Tags["product"])
	assert.Equal(t, "req-42", tx.Tags["request_id"])
	assert.NotContains(t, tx.Tags, "ignored")
	assert.Equal(t, sentry.SpanStatusUnavailable, tx.Status)
}

func TestSpanStatus(t *testing.T) {
	tests := []struct {
		status int
		want   sentry.SpanStatus
	}{
		{http.StatusOK, sentry.SpanStatusOK},
		{http.StatusBadRequest, sentry.SpanStatusInvalidArgument},
		{http.StatusUnprocessableEntity, sentry.SpanStatusInvalidArgument},
		{http.StatusNotFound, sentry.SpanStatusNotFound},
		{http.StatusRequestEntityTooLarge, sentry.SpanStatusResourceExhausted},
		{http.StatusInternalServerError, sentry.SpanStatusInternalError},
		{http.StatusBadGateway, sentry.SpanStatusUnavailable},
		{http.StatusServiceUnavailable, sentry.SpanStatusUnavailable},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, spanStatus(tt.status), "status %d", tt.status)
	}
}
