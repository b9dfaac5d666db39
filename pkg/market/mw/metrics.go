package mw

import (
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/agrimarket/pkg/market/metrics"
)

func Metrics(m *metrics.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		m.RecordRequest(r.Method, RouteLabel(r.URL.Path), sw.status, time.Since(start))
	})
}

// RouteLabel collapses numeric path segments and static files so the
// metrics label set stays bounded.
func RouteLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/uploads/"):
		return "/uploads/*"
	case !strings.HasPrefix(path, "/api/") && path != "/healthz" && path != "/readyz" && path != "/metrics" && path != "/ws":
		return "static"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p != "" && strings.Trim(p, "0123456789") == "" {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
