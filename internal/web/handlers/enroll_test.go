package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/ingest"
	"github.com/kozaktomas/face-attendance/internal/vision"
)

func newEnrollFixture(det vision.Detector) (*EnrollHandler, *mock.MockStore, *facematch.EmbeddingIndex) {
	store := mock.NewMockStore()
	store.AddMember(42, "Ana Horvat", database.MemberActive)
	index := facematch.NewEmbeddingIndex(store, 2)
	enroller := ingest.NewEnroller(store, store, det, index)
	return NewEnrollHandler(enroller, 0), store, index
}

func enrollRequest(body *bytes.Buffer, contentType, memberID string) *http.Request {
	req := httptest.NewRequest("POST", "/api/v1/members/"+memberID+"/enroll", body)
	req.Header.Set("Content-Type", contentType)
	return requestWithChiParams(req, map[string]string{"memberID": memberID})
}

func TestEnroll_StoresEmbedding(t *testing.T) {
	handler, store, index := newEnrollFixture(&stubDetector{faces: []vision.Face{face(0.3, 0.4)}})

	body, contentType := multipartBody(t, "face_images", map[string][]byte{"ana.png": pngImage(t)})
	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, enrollRequest(body, contentType, "42"))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp enrollResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Succeeded != 1 || resp.Dim != 2 || !resp.Indexed {
		t.Errorf("unexpected response: %+v", resp)
	}
	if store.EmbeddingCount() != 1 {
		t.Errorf("expected 1 stored embedding, got %d", store.EmbeddingCount())
	}
	if !index.Contains(42) {
		t.Error("expected member 42 in the index")
	}
}

func TestEnroll_NoFaceIsUnprocessable(t *testing.T) {
	handler, store, index := newEnrollFixture(&stubDetector{})

	body, contentType := multipartBody(t, "face_images", map[string][]byte{"empty.png": pngImage(t)})
	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, enrollRequest(body, contentType, "42"))

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
	var resp enrollResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Succeeded != 0 || len(resp.Errors) != 1 || resp.Errors[0].Filename != "empty.png" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if store.EmbeddingCount() != 0 || index.Len() != 0 {
		t.Error("rejected enrollment must not change state")
	}
}

func TestEnroll_UnknownMember(t *testing.T) {
	handler, _, _ := newEnrollFixture(&stubDetector{faces: []vision.Face{face(0.3, 0.4)}})

	body, contentType := multipartBody(t, "face_images", map[string][]byte{"x.png": pngImage(t)})
	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, enrollRequest(body, contentType, "99"))

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestEnroll_RequiresImages(t *testing.T) {
	handler, _, _ := newEnrollFixture(&stubDetector{})

	body, contentType := multipartBody(t, "other", map[string][]byte{"x.png": pngImage(t)})
	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, enrollRequest(body, contentType, "42"))

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "at least one face_images file is required")
}

func TestEnroll_NotMultipart(t *testing.T) {
	handler, _, _ := newEnrollFixture(&stubDetector{})

	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, enrollRequest(bytes.NewBufferString("{}"), "application/json", "42"))

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "failed to parse multipart form")
}
