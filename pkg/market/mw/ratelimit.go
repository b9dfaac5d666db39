package mw

import (
	"net/http"
	"time"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/market/apierror"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/metrics"
	"github.com/vango-go/agrimarket/pkg/market/ratelimit"
)

// PrincipalKey identifies the caller for rate limiting: the logged-in user,
// else the client IP.
func PrincipalKey(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return ratelimit.PrincipalKeyFromUserID(p.UserID)
	}
	if ip := ClientIP(r); ip != "" {
		return ratelimit.PrincipalKeyFromIP(ip)
	}
	return "anonymous"
}

func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probes and scrapes must remain cheap and reliable. The WebSocket
		// endpoint has its own connection cap.
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics", "/ws":
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AcquireRequest(PrincipalKey(r), time.Now())
		if !dec.Allowed {
			m.RecordRateLimitHit("request")
			reqID, _ := RequestIDFrom(r.Context())
			e := core.NewRateLimitError("rate limit exceeded", dec.RetryAfter)
			e.RequestID = reqID
			apierror.Write(w, http.StatusTooManyRequests, e)
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
