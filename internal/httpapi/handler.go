package httpapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestIDHeader is echoed on every response; a client-supplied value is kept.
const RequestIDHeader = "X-Request-ID"

// NewHandler returns the production handler: the mux wrapped in request id,
// panic recovery, rate limiting and observability middleware.
//
// Tests can still use NewMux directly to skip the middleware.
func NewHandler(opt Options) http.Handler {
	a := newAPI(opt)
	return a.withMiddleware(a.mux())
}

func (a *api) withMiddleware(next http.Handler) http.Handler {
	h := next
	if a.opt.RateLimit > 0 {
		h = withRateLimit(rate.NewLimiter(rate.Limit(a.opt.RateLimit), a.opt.RateBurst), a.metrics, a.opt.Logger, h)
	}
	h = withRecovery(a.opt.Logger, h)
	h = a.withObservability(h)
	return withRequestID(h)
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) WriteHeader(statusCode int) {
	if w.status == 0 {
		w.status = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func withRecovery(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error("panic recovered",
				zap.String("request_id", requestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			WriteError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies one global token bucket to /api. Health and metrics
// probes are never limited.
func withRateLimit(l *rate.Limiter, m *metrics, log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api" || l.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		m.rateLimited.Inc()
		log.Warn("rate limit exceeded",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
		)
		w.Header().Set("Retry-After", "1")
		WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

func (a *api) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}

		pattern := r.Pattern
		if pattern == "" {
			// Unmatched requests: keep the label set bounded.
			pattern = "(unmatched)"
		}

		dur := time.Since(start)
		a.metrics.observeRequest(pattern, status, dur.Seconds())

		// Never log the query string: it carries the subscription URL.
		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			a.opt.Logger.Info("http",
				zap.String("request_id", requestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("pattern", pattern),
				zap.Int("status", status),
				zap.Duration("dur", dur),
				zap.Int("bytes", sw.bytes),
			)
		}
	})
}
