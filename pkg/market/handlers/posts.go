package handlers

import (
	"context"
	"net/http"

	"github.com/vango-go/agrimarket/pkg/core/types"
	"github.com/vango-go/agrimarket/pkg/market/community"
)

type PostsHandler struct {
	Community *community.Service
}

func (h PostsHandler) List(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Community.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if posts == nil {
		posts = []*types.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h PostsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	post, err := h.Community.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h PostsHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.Community.Create)
}

func (h PostsHandler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, h.Community.CreateVideoPost)
}

func (h PostsHandler) create(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, community.PostInput) (*types.Post, error)) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in community.PostInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	post, err := fn(r.Context(), p.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h PostsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Community.Delete(r.Context(), p.UserID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h PostsHandler) Like(w http.ResponseWriter, r *http.Request) {
	h.bump(w, r, h.Community.Like)
}

func (h PostsHandler) Share(w http.ResponseWriter, r *http.Request) {
	h.bump(w, r, h.Community.Share)
}

func (h PostsHandler) Save(w http.ResponseWriter, r *http.Request) {
	h.bump(w, r, h.Community.Save)
}

func (h PostsHandler) bump(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (*types.Post, error)) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	post, err := fn(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}
