package mw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/metrics"
	"github.com/vango-go/agrimarket/pkg/market/ratelimit"
)

func TestRecover_PanicReturnsCanonicalJSON(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	h = RequestID(h)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != core.ErrAPI {
		t.Fatalf("type=%q", env.Error.Type)
	}
	if env.Error.RequestID == "" || env.Error.RequestID != rr.Header().Get("X-Request-ID") {
		t.Fatalf("request_id=%q header=%q", env.Error.RequestID, rr.Header().Get("X-Request-ID"))
	}
}

func TestRequestID_PropagatesClientValue(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_client")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "req_client" || rr.Header().Get("X-Request-ID") != "req_client" {
		t.Fatalf("seen=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}
}

func TestSession_ResolvesPrincipal(t *testing.T) {
	sessions := auth.NewMemorySessions(0)
	token, _ := sessions.Create(context.Background(), 11)

	var got *auth.Principal
	h := Session(sessions, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got == nil || got.UserID != 11 || got.Token != token {
		t.Fatalf("principal=%+v", got)
	}

	got = nil
	req = httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.Header.Set("Authorization", "Bearer unknown")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != nil {
		t.Fatalf("unknown token should stay anonymous, got %+v", got)
	}
}

func TestAccessLog_LogsStatusAndUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := AccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/products", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{UserID: 9}))
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log: %v (%s)", err, buf.String())
	}
	if line["status"] != float64(201) || line["user_id"] != float64(9) || line["path"] != "/api/products" {
		t.Fatalf("log line=%v", line)
	}
}

func TestStatusWriter_Unwraps(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr}
	if sw.Unwrap() != rr {
		t.Fatalf("Unwrap did not return the wrapped writer")
	}
}

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (w *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

func TestAccessLog_PreservesHijacker(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&out, nil))
	writer := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}

	h := AccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatalf("expected http.Hijacker to be preserved")
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Fatalf("hijack failed: %v", err)
		}
	}))
	h.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if !writer.hijacked {
		t.Fatalf("expected underlying hijacker to be invoked")
	}
	if !strings.Contains(out.String(), `"status":101`) {
		t.Fatalf("log line=%s", out.String())
	}
}

func TestMetrics_PreservesHijacker(t *testing.T) {
	writer := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	h := Metrics(metrics.New("mwtest"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Hijacker); !ok {
			t.Fatalf("expected http.Hijacker to be preserved")
		}
	}))
	h.ServeHTTP(writer, httptest.NewRequest(http.MethodGet, "/ws", nil))
}

func TestStatusWriter_HijackUnsupported(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: 200}
	if _, _, err := sw.Hijack(); err == nil {
		t.Fatalf("expected error when the wrapped writer cannot hijack")
	}
}

func TestMaxBody_RejectsLargeJSON(t *testing.T) {
	var readErr error
	h := MaxBody(8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader(`{"title":"too long"}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Fatalf("expected read error for oversized body")
	}

	readErr = nil
	req = httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr != nil {
		t.Fatalf("multipart body should not be capped here: %v", readErr)
	}
}

func TestRateLimit_ExemptsProbesAndLimitsAPI(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})
	m := metrics.New("test")
	h := RequestID(RateLimit(limiter, m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := do("/api/products"); rr.Code != http.StatusOK {
		t.Fatalf("first status=%d", rr.Code)
	}
	rr := do("/api/products")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After")
	}
	for _, p := range []string{"/healthz", "/readyz", "/metrics"} {
		if rr := do(p); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", p, rr.Code)
		}
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/api/products/12/bid": "/api/products/{id}/bid",
		"/api/posts":           "/api/posts",
		"/uploads/abc.mp4":     "/uploads/*",
		"/assets/index.js":     "static",
		"/healthz":             "/healthz",
	}
	for in, want := range cases {
		if got := RouteLabel(in); got != want {
			t.Fatalf("RouteLabel(%q)=%q want %q", in, got, want)
		}
	}
}
