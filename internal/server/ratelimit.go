package server

import (
	"fmt"
	"net/http"
	"strconv"

	"unitygate/internal/httputil"
	"unitygate/internal/ledger"
	"unitygate/internal/metrics"
)

// withRateLimit applies the per-client limits before any route runs.
// Rejected hits are written to the ledger as "limited".
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := httputil.ClientIP(r)
		res := s.limiter.Allow(addr)
		if res.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		metrics.RateLimitHits.WithLabelValues(res.Window).Inc()
		reason := fmt.Sprintf("rate limit exceeded (%d per %s)", res.Limit, res.Window)
		s.ledger.Append(ledger.NewEntry(s.nowFunc(), addr, r.URL.Path, ledger.OutcomeLimited, reason))
		httputil.GetLogger(r.Context()).Debug().
			Str("client", addr).
			Str("window", res.Window).
			Int("count", res.Count).
			Msg("rate limited")

		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		httputil.WriteJSON(w, http.StatusTooManyRequests, errorBody(r, reason))
	})
}
