package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID pins the X-Request-Id used for calls made with ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func RequestID(next http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("X-Request-Id") != "" {
			return next.RoundTrip(r)
		}
		id, ok := GetRequestID(r.Context())
		if !ok {
			id = uuid.NewString()
		}
		r = r.Clone(WithRequestID(r.Context(), id))
		r.Header.Set("X-Request-Id", id)
		return next.RoundTrip(r)
	})
}

func RequestLogger(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	if logger == nil {
		logger = slog.Default()
	}

	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if rid := r.Header.Get("X-Request-Id"); rid != "" {
			fields = append(fields, "request_id", rid)
		}
		if err != nil {
			logger.Warn("http request failed", append(fields, "err", err)...)
			return nil, err
		}
		fields = append(fields, "status", resp.StatusCode)
		if resp.StatusCode >= 500 {
			logger.Error("http request", fields...)
		} else {
			logger.Debug("http request", fields...)
		}
		return resp, nil
	})
}
