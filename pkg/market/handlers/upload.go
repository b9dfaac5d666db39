package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vango-go/agrimarket/pkg/core"
)

// UploadPrefix is the URL path uploaded files are served under.
const UploadPrefix = "/uploads/"

// UploadHandler stores one image or video from the multipart field "file"
// and returns its public URL.
type UploadHandler struct {
	Dir      string
	MaxBytes int64
	Logger   *slog.Logger
}

// uploadTypes maps sniffed content types to the extension the file is
// stored under. Types that a browser may render as a document (SVG, HTML)
// are never accepted.
var uploadTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"application/ogg": ".ogg",
}

// UploadFiles serves stored uploads. Responses are marked nosniff so the
// browser keeps the type the file server derived from the extension.
func UploadFiles(dir string) http.Handler {
	fs := http.StripPrefix(UploadPrefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")
		fs.ServeHTTP(w, r)
	})
}

func (h UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	if h.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, err)
			return
		}
		writeError(w, r, core.NewInvalidRequestError("expected multipart/form-data"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("No file uploaded", "file"))
		return
	}
	defer file.Close()

	var head [512]byte
	nhead, err := io.ReadFull(file, head[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}
	mediaType := http.DetectContentType(head[:nhead])
	ext, ok := uploadTypes[mediaType]
	if !ok {
		writeError(w, r, core.NewInvalidRequestErrorWithParam("only image and video files are allowed", "file"))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeError(w, r, err)
		return
	}

	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		writeError(w, r, err)
		return
	}
	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(h.Dir, name))
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		writeError(w, r, err)
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("file uploaded", "name", name, "media_type", mediaType, "bytes", n)
	writeJSON(w, http.StatusCreated, map[string]string{"url": UploadPrefix + name})
}
