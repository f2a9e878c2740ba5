package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
)

// Sentry starts one transaction per request, tagged with the vector
// collection the server answers from. Once routing is done the transaction
// is renamed to the route pattern so "/ask" requests group together.
// Without an initialized Sentry client the transaction is a no-op.
func Sentry(collection string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hub := sentry.GetHubFromContext(r.Context())
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
			}

			options := []sentry.SpanOption{
				sentry.WithOpName("http.server"),
				sentry.WithTransactionSource(sentry.SourceURL),
			}
			if trace := r.Header.Get(sentry.SentryTraceHeader); trace != "" {
				options = append(options, sentry.ContinueFromHeaders(trace, r.Header.Get(sentry.SentryBaggageHeader)))
			}

			tx := sentry.StartTransaction(r.Context(), r.Method+" "+r.URL.Path, options...)
			defer tx.Finish()

			r = r.WithContext(sentry.SetHubOnContext(tx.Context(), hub))

			scope := hub.Scope()
			scope.SetContext("request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
			})
			if collection != "" {
				scope.SetTag("collection", collection)
				tx.SetTag("collection", collection)
			}
			if id := GetRequestID(r.Context()); id != "" {
				scope.SetTag("request_id", id)
				tx.SetTag("request_id", id)
			}

			defer func() {
				if err := recover(); err != nil {
					tx.Status = sentry.SpanStatusInternalError
					hub.RecoverWithContext(r.Context(), err)
					panic(err)
				}
			}()

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					tx.Name = r.Method + " " + pattern
					tx.Source = sentry.SourceRoute
				}
			}

			status := rec.statusOrOK()
			tx.Status = spanStatus(status)
			tx.SetData("http.response.status_code", status)

			// Model and store failures are captured where they happen; this
			// only records that a request ended badly.
			if status >= http.StatusInternalServerError {
				hub.CaptureMessage(fmt.Sprintf("%s: HTTP %d", tx.Name, status))
			}
		})
	}
}

// SetTransactionTag tags the request's transaction and Sentry scope, e.g.
// with the product filter a question was asked under.
func SetTransactionTag(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if tx := sentry.TransactionFromContext(ctx); tx != nil {
		tx.SetTag(key, value)
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.Scope().SetTag(key, value)
	}
}

func spanStatus(status int) sentry.SpanStatus {
	switch status {
	case http.StatusRequestEntityTooLarge, http.StatusTooManyRequests:
		return sentry.SpanStatusResourceExhausted
	case http.StatusNotFound:
		return sentry.SpanStatusNotFound
	case http.StatusMethodNotAllowed:
		return sentry.SpanStatusUnimplemented
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return sentry.SpanStatusUnavailable
	case http.StatusGatewayTimeout:
		return sentry.SpanStatusDeadlineExceeded
	}

	switch {
	case status < 400:
		return sentry.SpanStatusOK
	case status < 500:
		return sentry.SpanStatusInvalidArgument
	default:
		return sentry.SpanStatusInternalError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
