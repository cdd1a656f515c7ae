package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/badgeflow/internal/ratelimit"
)

type RateLimiter interface {
	AllowN(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := s.clientSubject(r) + ":" + routeLabel(r.URL.Path)
		decision, err := s.rateLimiter.AllowN(r.Context(), subject, s.requestCost(r))
		if err != nil {
			s.logger.WithError(err).WithField("subject", subject).Warn("rate limiter check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// requestCost charges an export its resolution multiplier and a badge
// preview its scale.
func (s *Server) requestCost(r *http.Request) int {
	switch {
	case strings.HasSuffix(r.URL.Path, "/export"):
		res, err := s.resolutions.Lookup(r.URL.Query().Get("resolution"))
		if err != nil {
			return 1
		}
		return res.Multiplier
	case strings.HasSuffix(r.URL.Path, "/badge.png"):
		scale, err := previewScale(r)
		if err != nil {
			return 1
		}
		return scale
	default:
		return 1
	}
}

func (s *Server) clientSubject(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(s.clientIDHeader)); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "anonymous"
	}
	return host
}

// Only session creation, uploads, badge renders and exports are limited.
func shouldRateLimit(r *http.Request) bool {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet:
		return strings.HasSuffix(path, "/badge.png")
	case http.MethodPost:
		return path == "/v1/sessions" ||
			strings.HasSuffix(path, "/photo") ||
			strings.HasSuffix(path, "/export")
	default:
		return false
	}
}
