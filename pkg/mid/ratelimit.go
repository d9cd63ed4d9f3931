package mid

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/askgeorge/askgeorge/pkg/metrics"
	"github.com/askgeorge/askgeorge/pkg/resilience"
)

// KeyFunc picks the rate limit bucket for a request.
type KeyFunc func(*http.Request) string

// ClientIP keys by the remote address without its port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit answers 429 once a key's bucket is empty. A nil key func uses
// ClientIP.
func RateLimit(l *resilience.KeyedLimiter, key KeyFunc) Middleware {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := l.Call(r.Context(), key(r), func(context.Context) error {
				next.ServeHTTP(w, r)
				return nil
			})
			if errors.Is(err, resilience.ErrRateLimited) {
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "too many requests, slow down")
			}
		})
	}
}

// Metrics counts requests by method and status and observes their latency.
func Metrics(reg *metrics.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)
			next.ServeHTTP(rec, r)
			reg.Counter(metrics.WithLabels("askgeorge_http_requests_total", "method", r.Method, "status", strconv.Itoa(rec.Status())), "HTTP requests").Inc()
			reg.Histogram("askgeorge_http_request_duration_seconds", "HTTP request latency", nil).Since(start)
		})
	}
}
