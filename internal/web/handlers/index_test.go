package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func seededStore(t *testing.T) *mock.MockStore {
	t.Helper()
	store := mock.NewMockStore()
	store.AddMember(1, "Ana", database.MemberActive)
	store.AddMember(2, "Marko", database.MemberPending)
	for id, v := range map[int64]database.Vector{1: {1, 0}, 2: {0, 1}} {
		emb, err := database.NewEmbedding(id, v, time.Now())
		if err != nil {
			t.Fatalf("invalid embedding: %v", err)
		}
		if err := store.SaveEmbedding(t.Context(), emb); err != nil {
			t.Fatalf("failed to save embedding: %v", err)
		}
	}
	return store
}

func TestIndexRebuild_LoadsActiveAndSavesSnapshot(t *testing.T) {
	store := seededStore(t)
	index := facematch.NewEmbeddingIndex(store, 2)
	path := filepath.Join(t.TempDir(), "index.snap")
	handler := NewIndexHandler(index, 0.6, path)

	recorder := httptest.NewRecorder()
	handler.Rebuild(recorder, httptest.NewRequest("POST", "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp map[string]any
	parseJSONResponse(t, recorder, &resp)
	if resp["loaded"] != float64(1) || resp["size"] != float64(1) || resp["snapshot_saved"] != true {
		t.Errorf("unexpected response: %v", resp)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected snapshot file: %v", err)
	}
}

func TestIndexRebuild_StoreUnavailable(t *testing.T) {
	store := seededStore(t)
	store.LoadError = database.Unavailable("load embeddings", errors.New("down"))
	handler := NewIndexHandler(facematch.NewEmbeddingIndex(store, 2), 0.6, "")

	recorder := httptest.NewRecorder()
	handler.Rebuild(recorder, httptest.NewRequest("POST", "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}

func TestIndexStatus(t *testing.T) {
	store := mock.NewMockStore()
	index := facematch.NewEmbeddingIndex(store, 2)
	handler := NewIndexHandler(index, 0.6, "")

	recorder := httptest.NewRecorder()
	handler.Status(recorder, httptest.NewRequest("GET", "/api/v1/index", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp map[string]any
	parseJSONResponse(t, recorder, &resp)
	if resp["size"] != float64(0) || resp["dim"] != float64(2) || resp["threshold"] != 0.6 {
		t.Errorf("unexpected response: %v", resp)
	}
}
