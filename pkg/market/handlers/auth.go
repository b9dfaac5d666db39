package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/types"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

// AuthHandler serves registration, login and logout. Successful calls set
// the session cookie and also return the token for bearer clients.
type AuthHandler struct {
	Store        store.Store
	Sessions     auth.SessionStore
	SessionTTL   time.Duration
	CookieSecure bool
	Logger       *slog.Logger
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	UserType string `json:"userType"`
	Location string `json:"location"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Success bool              `json:"success"`
	User    *types.PublicUser `json:"user,omitempty"`
	Token   string            `json:"token,omitempty"`
}

func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Name = strings.TrimSpace(req.Name)
	if req.Username == "" || req.Password == "" || req.Name == "" || strings.TrimSpace(req.UserType) == "" {
		writeError(w, r, core.NewInvalidRequestError("Please provide all required fields"))
		return
	}
	if !types.ValidUsername(req.Username) {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("username must be 3-32 letters, digits or underscores", "username"))
		return
	}
	userType, ok := types.NormalizeUserType(req.UserType)
	if !ok {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("userType must be farmer or consumer", "userType"))
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, core.NewInvalidRequestErrorWithParam(err.Error(), "password"))
		return
	}

	now := time.Now().UTC()
	user, err := h.Store.CreateUser(r.Context(), &types.User{
		Username:     req.Username,
		PasswordHash: hash,
		Name:         req.Name,
		UserType:     userType,
		Location:     strings.TrimSpace(req.Location),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, store.ErrConflict) {
		writeError(w, r, core.NewConflictError("This username is already taken. Please choose another one.", "username"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.logger().Info("user registered", "user_id", user.ID, "user_type", user.UserType)
	h.startSession(w, r, user, http.StatusCreated)
}

func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.Store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, auth.ErrInvalidCredentials)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	h.startSession(w, r, user, http.StatusOK)
}

func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.Token != "" {
		if err := h.Sessions.Delete(r.Context(), p.Token); err != nil {
			h.logger().Warn("session delete failed", "error", err)
		}
	}
	auth.ClearSessionCookie(w, h.CookieSecure)
	writeJSON(w, http.StatusOK, authResponse{Success: true})
}

// User returns the logged-in user.
func (h AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	user, err := h.Store.GetUser(r.Context(), p.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, core.NewAuthenticationError("Please log in to access this resource"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	pub := user.Public()
	writeJSON(w, http.StatusOK, authResponse{Success: true, User: &pub})
}

func (h AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *types.User, status int) {
	token, err := h.Sessions.Create(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	auth.SetSessionCookie(w, token, h.SessionTTL, h.CookieSecure)
	pub := user.Public()
	writeJSON(w, status, authResponse{Success: true, User: &pub, Token: token})
}

func (h AuthHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
