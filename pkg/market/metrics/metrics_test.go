package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHelpers(t *testing.T) {
	m := New("test")
	m.RecordRequest(http.MethodGet, "/api/products", 200, 10*time.Millisecond)
	m.RecordWSConnect()
	m.RecordWSConnect()
	m.RecordWSDisconnect()
	m.RecordBid()
	m.RecordVoiceTurn("advice", "ok", time.Second)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/products", "200")); got != 1 {
		t.Fatalf("requests=%v", got)
	}
	if got := testutil.ToFloat64(m.WSConnectionsActive); got != 1 {
		t.Fatalf("active=%v", got)
	}
	if got := testutil.ToFloat64(m.WSConnectionsTotal); got != 2 {
		t.Fatalf("total=%v", got)
	}
	if got := testutil.ToFloat64(m.BidsTotal); got != 1 {
		t.Fatalf("bids=%v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("GET", "/", 200, time.Millisecond)
	m.RecordWSError(4029)
	m.RecordBiddingClosed("sold")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("test")
	m.RecordBid()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "test_bids_placed_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}
}
