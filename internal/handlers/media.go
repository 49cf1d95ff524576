package handlers

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Media serves a cached asset from /media/{user}/{file}.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	user, file := chi.URLParam(r, "user"), chi.URLParam(r, "file")
	if strings.HasPrefix(file, ".") {
		h.Error(w, http.StatusNotFound, "file not found")
		return
	}
	rel := user + "/" + file

	path, err := h.media.Path(rel)
	if err != nil {
		h.Error(w, http.StatusNotFound, "file not found")
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		h.logger.Debug().Str("path", rel).Msg("media file not found")
		h.Error(w, http.StatusNotFound, "file not found")
		return
	}

	http.ServeFile(w, r, path)
}
