package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/types"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

type UsersHandler struct {
	Store store.Store
}

type updateUserRequest struct {
	Name     *string `json:"name"`
	UserType *string `json:"userType"`
	Location *string `json:"location"`
}

func (h UsersHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.writeUser(w, r, p.UserID)
}

func (h UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeUser(w, r, id)
}

// Update edits the caller's own profile. Absent fields are left alone.
func (h UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if id != p.UserID {
		writeError(w, r, core.NewPermissionError("you can only update your own profile"))
		return
	}
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, userErr(err))
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("name cannot be empty", "name"))
			return
		}
		user.Name = name
	}
	if req.UserType != nil {
		ut, ok := types.NormalizeUserType(*req.UserType)
		if !ok {
			writeError(w, r, core.NewInvalidRequestErrorWithParam("userType must be farmer or consumer", "userType"))
			return
		}
		user.UserType = ut
	}
	if req.Location != nil {
		user.Location = strings.TrimSpace(*req.Location)
	}
	user.UpdatedAt = time.Now().UTC()

	updated, err := h.Store.UpdateUser(r.Context(), user)
	if err != nil {
		writeError(w, r, userErr(err))
		return
	}
	writeJSON(w, http.StatusOK, updated.Public())
}

func (h UsersHandler) writeUser(w http.ResponseWriter, r *http.Request, id int64) {
	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, userErr(err))
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func userErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return core.NewNotFoundError("user not found")
	}
	return err
}
