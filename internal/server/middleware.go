package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Harshith2412/zta-finance/internal/kv"
	"github.com/Harshith2412/zta-finance/internal/observability"
)

var (
	requestsTotal    metric.Int64Counter
	rateLimitedTotal metric.Int64Counter
	panicsTotal      metric.Int64Counter
)

func init() {
	m := otel.Meter("server")

	requestsTotal, _ = m.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests served"))
	rateLimitedTotal, _ = m.Int64Counter("http_rate_limited_total",
		metric.WithDescription("Total requests rejected by the rate limiter"))
	panicsTotal, _ = m.Int64Counter("http_panics_recovered_total",
		metric.WithDescription("Total handler panics recovered"))
}

// Chain wraps h with the given middleware, first middleware outermost.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// RateLimitConfig holds the dependencies and limits for the per-client
// request throttle.
type RateLimitConfig struct {
	Store     kv.Store
	PerMinute int
	PerHour   int
	Logger    *slog.Logger
}

// RateLimit throttles requests per client address over a sliding minute and
// hour window. The health endpoint is exempt. A store failure fails open:
// an unreachable counter must not take authentication down with it, it only
// costs throttling until the store returns.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == HealthPath {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := ClientIP(r)

			minuteCount, err := cfg.Store.IncrWithWindow(ctx, "rate_limit/minute/"+ip, time.Minute)
			if err != nil {
				cfg.Logger.ErrorContext(ctx, "rate limiter store error", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if int(minuteCount) > cfg.PerMinute {
				cfg.Logger.WarnContext(ctx, "rate limit exceeded",
					slog.String("client_ip", ip),
					slog.Int64("request_count", minuteCount),
					slog.Int("limit", cfg.PerMinute),
				)
				rateLimitedTotal.Add(ctx, 1, metric.WithAttributes(
					attribute.String("limit_type", "minute"),
				))
				tooManyRequests(w, cfg.PerMinute, 60)
				return
			}

			hourCount, err := cfg.Store.IncrWithWindow(ctx, "rate_limit/hour/"+ip, time.Hour)
			if err != nil {
				cfg.Logger.ErrorContext(ctx, "rate limiter store error", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if int(hourCount) > cfg.PerHour {
				cfg.Logger.WarnContext(ctx, "rate limit exceeded",
					slog.String("client_ip", ip),
					slog.Int64("request_count", hourCount),
					slog.Int("limit", cfg.PerHour),
				)
				rateLimitedTotal.Add(ctx, 1, metric.WithAttributes(
					attribute.String("limit_type", "hour"),
				))
				tooManyRequests(w, cfg.PerHour, 3600)
				return
			}

			remaining := cfg.PerMinute - int(minuteCount)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-Rate-Limit-Limit", strconv.Itoa(cfg.PerMinute))
			w.Header().Set("X-Rate-Limit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}

func tooManyRequests(w http.ResponseWriter, limit, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-Rate-Limit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-Rate-Limit-Remaining", "0")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error":"Rate Limit Exceeded","message":"Too many requests. Please try again later.","retry_after":%d}`, retryAfter)
}

// Recover turns a handler panic into a 500 response instead of a dropped
// connection. http.ErrAbortHandler passes through per the net/http contract.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				panicsTotal.Add(r.Context(), 1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"Internal Server Error","message":"An unexpected error occurred. Please try again later."}`)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLog emits one structured log line per request with the response
// status and duration.
func RequestLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			ctx := r.Context()
			requestsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.Int("status", rec.status),
			))
			observability.WithTraceID(ctx, logger).InfoContext(ctx, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
				slog.String("client_ip", ClientIP(r)),
			)
		})
	}
}

// statusRecorder captures the response status for logging. Handlers that
// never call WriteHeader implicitly return 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ClientIP returns the requesting client's address: the first entry of
// X-Forwarded-For when a proxy set one, otherwise the connection peer.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For may carry a comma-separated hop list; the
		// client is the first entry.
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
