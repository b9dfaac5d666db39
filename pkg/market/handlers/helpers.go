// Package handlers implements the marketplace HTTP API and the /ws voice
// endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/market/apierror"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the canonical envelope and status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	apierror.Write(w, status, coreErr)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return core.NewInvalidRequestError("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return core.NewInvalidRequestError("request body is required")
		}
		return core.NewInvalidRequestError("invalid JSON body")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.NewInvalidRequestErrorWithParam("invalid "+name, name)
	}
	return id, nil
}

// requireUser writes a 401 and returns false for anonymous requests.
func requireUser(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, core.NewAuthenticationError("Please log in to access this resource"))
		return nil, false
	}
	return p, true
}
