package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	if coreErr, ok := core.AsError(err); ok {
		out := *coreErr
		out.RequestID = requestID
		return &out, StatusFromType(coreErr.Type)
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "request body too large",
			Code:      "body_too_large",
			RequestID: requestID,
		}, http.StatusRequestEntityTooLarge
	}

	// Store sentinels that escaped the service layer.
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &core.Error{Type: core.ErrNotFound, Message: "not found", RequestID: requestID}, http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return &core.Error{Type: core.ErrConflict, Message: "already exists", RequestID: requestID}, http.StatusConflict
	case errors.Is(err, store.ErrBidTooLow):
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "bid amount must be higher than current bid",
			Param:     "amount",
			RequestID: requestID,
		}, http.StatusBadRequest
	case errors.Is(err, store.ErrBiddingClosed):
		return &core.Error{Type: core.ErrInvalidRequest, Message: "bidding has ended", RequestID: requestID}, http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return &core.Error{Type: core.ErrAuthentication, Message: "invalid username or password", RequestID: requestID}, http.StatusUnauthorized
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return http.StatusServiceUnavailable
	case core.ErrProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write encodes err as the canonical JSON envelope.
func Write(w http.ResponseWriter, status int, err *core.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err != nil && err.RetryAfter != nil && *err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(*err.RetryAfter))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: err})
}
