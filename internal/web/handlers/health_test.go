package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

func TestHealthCheck_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler(mock.NewMockStore())
	recorder := httptest.NewRecorder()

	handler.Check(recorder, httptest.NewRequest("GET", "/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}

func TestHealthCheck_StoreDown(t *testing.T) {
	store := mock.NewMockStore()
	store.PingError = errors.New("connection refused")
	handler := NewHealthHandler(store)
	recorder := httptest.NewRecorder()

	handler.Check(recorder, httptest.NewRequest("GET", "/health", nil))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}

func TestHealthCheck_WithoutStore(t *testing.T) {
	recorder := httptest.NewRecorder()

	NewHealthHandler(nil).Check(recorder, httptest.NewRequest("GET", "/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
}
