package handlers

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

var assetContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ServeAsset streams a downloaded final asset from local storage.
func (a *App) ServeAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "asset key is required"})
		return
	}

	data, err := a.Assets.Read(r.Context(), key)
	if err != nil {
		a.json(w, http.StatusNotFound, map[string]string{"error": "asset not found"})
		return
	}

	contentType := assetContentTypes[strings.ToLower(path.Ext(key))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
