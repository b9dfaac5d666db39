package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/vango-go/agrimarket/pkg/market/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler fails while draining or when the store is unreachable.
type ReadyHandler struct {
	Store     Pinger
	Lifecycle *lifecycle.Lifecycle
	Simulated bool
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK        bool     `json:"ok"`
		Draining  bool     `json:"draining"`
		Simulated bool     `json:"assistant_simulated"`
		Issues    []string `json:"issues,omitempty"`
	}

	var issues []string
	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "server is draining")
	}
	if h.Store == nil {
		issues = append(issues, "store not configured")
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Store.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, "store unreachable")
		}
	}

	status := http.StatusOK
	if len(issues) > 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResp{
		OK:        len(issues) == 0,
		Draining:  draining,
		Simulated: h.Simulated,
		Issues:    issues,
	})
}
