package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/assistant-relay/internal/media"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

// UploadHandler serves rehosted images.
type UploadHandler struct {
	store  *media.Store
	logger *logger.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(store *media.Store, log *logger.Logger) *UploadHandler {
	return &UploadHandler{store: store, logger: log}
}

// Serve handles GET /uploads/{filename}
func (h *UploadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	f, info, err := h.store.Open(name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer f.Close()

	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
