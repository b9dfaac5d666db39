package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/vango-go/agrimarket/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, core.NewNotFoundError("not found"))
}

// StaticHandler serves the built single-page client from Dir. Unknown
// non-API paths fall back to index.html so client-side routes work; API
// paths and a missing bundle get the JSON 404.
type StaticHandler struct {
	Dir string
}

func (h StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") || h.Dir == "" {
		NotFoundHandler{}.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		NotFoundHandler{}.ServeHTTP(w, r)
		return
	}

	clean := path.Clean("/" + r.URL.Path)
	full := filepath.Join(h.Dir, filepath.FromSlash(clean))
	if info, err := os.Stat(full); err == nil && !info.IsDir() {
		http.ServeFile(w, r, full)
		return
	}
	index := filepath.Join(h.Dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		NotFoundHandler{}.ServeHTTP(w, r)
		return
	}
	http.ServeFile(w, r, index)
}
