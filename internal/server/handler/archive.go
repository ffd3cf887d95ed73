package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/pipeline"
)

// ArchiveRunner runs one archive pass.
type ArchiveRunner interface {
	Run(ctx context.Context) (pipeline.ArchiveResult, error)
}

// ArchiveHandler lists and triggers cold-storage archives.
type ArchiveHandler struct {
	runner ArchiveRunner
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(runner ArchiveRunner, blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{runner: runner, blobs: blobs, logger: logger}
}

// TriggerArchive runs one archive pass synchronously.
// POST /api/archive/trigger
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: archive trigger requested")
	res, err := h.runner.Run(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "archive", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListArchives lists archive objects, optionally under kind (positions or audit).
// GET /api/archive?kind=positions
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := "archive/"
	switch kind := r.URL.Query().Get("kind"); kind {
	case "":
	case "positions", "audit":
		prefix += kind + "/"
	default:
		writeError(w, http.StatusBadRequest, "kind must be positions or audit")
		return
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}
