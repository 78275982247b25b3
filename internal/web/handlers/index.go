package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// IndexHandler exposes the in-memory embedding index.
type IndexHandler struct {
	index        *facematch.EmbeddingIndex
	threshold    float64
	snapshotPath string
}

// NewIndexHandler creates an index handler. When snapshotPath is set a
// rebuild also refreshes the snapshot file.
func NewIndexHandler(index *facematch.EmbeddingIndex, threshold float64, snapshotPath string) *IndexHandler {
	return &IndexHandler{index: index, threshold: threshold, snapshotPath: snapshotPath}
}

// Status handles GET /index.
func (h *IndexHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"size":      h.index.Len(),
		"dim":       h.index.Dim(),
		"threshold": h.threshold,
	})
}

// Rebuild handles POST /index/rebuild.
func (h *IndexHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	stats, err := h.index.Rebuild(r.Context())
	if err != nil {
		log.WithError(err).Error("index rebuild failed")
		respondDomainError(w, err)
		return
	}

	snapshotSaved := false
	if h.snapshotPath != "" {
		if err := h.index.SaveSnapshot(h.snapshotPath); err != nil {
			log.WithError(err).Warn("failed to save index snapshot")
		} else {
			snapshotSaved = true
		}
	}

	log.WithFields(logger.Fields{
		"loaded":               stats.Loaded,
		"skipped":              stats.Skipped,
		logger.FieldDurationMs: stats.Duration.Milliseconds(),
	}).Info("index rebuilt")

	respondJSON(w, http.StatusOK, map[string]any{
		"loaded":         stats.Loaded,
		"skipped":        stats.Skipped,
		"duration_ms":    stats.Duration.Milliseconds(),
		"size":           h.index.Len(),
		"snapshot_saved": snapshotSaved,
	})
}
