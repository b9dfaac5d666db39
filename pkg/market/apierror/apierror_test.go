package apierror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAPI {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "cancelled" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_CanonicalKeepsTypeAndSetsRequestID(t *testing.T) {
	in := core.NewPermissionError("you cannot bid on your own product")
	ce, status := FromError(fmt.Errorf("wrapped: %w", in), "req_1")
	if status != http.StatusForbidden {
		t.Fatalf("status=%d", status)
	}
	if ce.Message != in.Message || ce.RequestID != "req_1" {
		t.Fatalf("unexpected error: %+v", ce)
	}
	if in.RequestID != "" {
		t.Fatalf("input error mutated")
	}
}

func TestFromError_Sentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    core.ErrorType
	}{
		{fmt.Errorf("product 9: %w", store.ErrNotFound), http.StatusNotFound, core.ErrNotFound},
		{store.ErrConflict, http.StatusConflict, core.ErrConflict},
		{store.ErrBidTooLow, http.StatusBadRequest, core.ErrInvalidRequest},
		{store.ErrBiddingClosed, http.StatusBadRequest, core.ErrInvalidRequest},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, core.ErrAuthentication},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, core.ErrInvalidRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError, core.ErrAPI},
	}
	for _, tc := range cases {
		ce, status := FromError(tc.err, "req")
		if status != tc.status || ce.Type != tc.typ {
			t.Fatalf("%v: status=%d type=%q", tc.err, status, ce.Type)
		}
	}
}

func TestFromError_UnknownDoesNotLeakDetails(t *testing.T) {
	ce, _ := FromError(fmt.Errorf("pq: password authentication failed"), "req")
	if ce.Message != "internal error" {
		t.Fatalf("message=%q", ce.Message)
	}
}

func TestWrite_EnvelopeAndRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	Write(rr, http.StatusTooManyRequests, core.NewRateLimitError("slow down", 3))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("Retry-After=%q", got)
	}
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != core.ErrRateLimit || env.Error.Message != "slow down" {
		t.Fatalf("unexpected envelope: %+v", env.Error)
	}
}
