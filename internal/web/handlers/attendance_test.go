package handlers

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/ingest"
	"github.com/kozaktomas/face-attendance/internal/vision"
)

func newAttendanceFixture(t *testing.T, det vision.Detector) (*AttendanceHandler, *mock.MockStore) {
	t.Helper()
	store := mock.NewMockStore()
	store.AddMember(42, "Ana  Horvat", database.MemberActive)

	index := facematch.NewEmbeddingIndex(store, 2)
	if err := index.Upsert(42, database.Vector{1, 0}); err != nil {
		t.Fatalf("failed to seed index: %v", err)
	}
	matcher, err := facematch.NewMatcher(index, 0.5)
	if err != nil {
		t.Fatalf("failed to create matcher: %v", err)
	}
	pipeline := ingest.NewPipeline(det, matcher, attendance.NewReconciler(store), store)
	return NewAttendanceHandler(pipeline, store, 0), store
}

func recordRequest(body *bytes.Buffer, contentType, eventID string) *http.Request {
	req := httptest.NewRequest("POST", "/api/v1/events/"+eventID+"/attendance", body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return requestWithChiParams(req, map[string]string{"eventID": eventID})
}

func TestAttendanceRecord_RawImage(t *testing.T) {
	handler, store := newAttendanceFixture(t, &stubDetector{faces: []vision.Face{face(1, 0)}})

	recorder := httptest.NewRecorder()
	handler.Record(recorder, recordRequest(bytes.NewBuffer(pngImage(t)), "image/png", "7"))

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var result ingest.Result
	parseJSONResponse(t, recorder, &result)
	if !result.OK || result.Count != 1 {
		t.Fatalf("expected one recorded member, got %+v", result)
	}
	if result.Recognized[0].MemberID != 42 || result.Recognized[0].ConfidencePercent != 100 {
		t.Errorf("unexpected recognized member: %+v", result.Recognized[0])
	}
	if store.AttendanceCount() != 1 {
		t.Errorf("expected 1 attendance row, got %d", store.AttendanceCount())
	}
}

func TestAttendanceRecord_JSONDataURL(t *testing.T) {
	handler, _ := newAttendanceFixture(t, &stubDetector{faces: []vision.Face{face(1, 0)}})

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngImage(t))
	body := bytes.NewBufferString(`{"image":"` + dataURL + `"}`)

	recorder := httptest.NewRecorder()
	handler.Record(recorder, recordRequest(body, "application/json", "7"))

	assertStatusCode(t, recorder, http.StatusOK)
}

func TestAttendanceRecord_Multipart(t *testing.T) {
	handler, _ := newAttendanceFixture(t, &stubDetector{faces: []vision.Face{face(1, 0)}})

	body, contentType := multipartBody(t, "image", map[string][]byte{"frame.png": pngImage(t)})

	recorder := httptest.NewRecorder()
	handler.Record(recorder, recordRequest(body, contentType, "7"))

	assertStatusCode(t, recorder, http.StatusOK)
}

func TestAttendanceRecord_MalformedImage(t *testing.T) {
	det := &stubDetector{faces: []vision.Face{face(1, 0)}}
	handler, store := newAttendanceFixture(t, det)

	recorder := httptest.NewRecorder()
	handler.Record(recorder, recordRequest(bytes.NewBufferString("not an image"), "application/octet-stream", "7"))

	assertStatusCode(t, recorder, http.StatusBadRequest)
	if det.calls != 0 {
		t.Errorf("detector should not run for a malformed payload, ran %d times", det.calls)
	}
	if store.AttendanceCount() != 0 {
		t.Errorf("expected no attendance rows, got %d", store.AttendanceCount())
	}
}

func TestAttendanceRecord_NoFacesIsOKFalse(t *testing.T) {
	handler, _ := newAttendanceFixture(t, &stubDetector{})

	recorder := httptest.NewRecorder()
	handler.Record(recorder, recordRequest(bytes.NewBuffer(pngImage(t)), "image/png", "7"))

	assertStatusCode(t, recorder, http.StatusOK)
	var result ingest.Result
	parseJSONResponse(t, recorder, &result)
	if result.OK || result.Message != ingest.MessageNoFaces {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestAttendanceRecord_AllWritesFailReturnsResult(t *testing.T) {
	handler, store := newAttendanceFixture(t, &stubDetector{faces: []vision.Face{face(1, 0)}})
	store.UpsertError = database.Unavailable("upsert attendance", errors.New("connection reset"))

	recorder := httptest.NewRecorder()
	handler.Record(recorder, recordRequest(bytes.NewBuffer(pngImage(t)), "image/png", "7"))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	if body := recorder.Body.String(); strings.Contains(body, "connection reset") {
		t.Errorf("response leaks the store error: %s", body)
	}
	var result ingest.Result
	parseJSONResponse(t, recorder, &result)
	if result.OK || len(result.Failed) != 1 {
		t.Fatalf("expected a failed member in the result, got %+v", result)
	}
	if result.Failed[0].Reason != ingest.ReasonStorageUnavailable {
		t.Errorf("reason = %q, want %q", result.Failed[0].Reason, ingest.ReasonStorageUnavailable)
	}
}

func TestAttendanceRecord_Validation(t *testing.T) {
	handler, _ := newAttendanceFixture(t, &stubDetector{})

	tests := []struct {
		name        string
		eventID     string
		body        string
		contentType string
		message     string
	}{
		{"bad event id", "abc", "x", "image/png", `invalid eventID: "abc"`},
		{"empty body", "7", "", "image/png", "image is required"},
		{"bad json", "7", "{", "application/json", errInvalidRequestBody},
		{"json without image", "7", `{}`, "application/json", "image is required"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Record(recorder, recordRequest(bytes.NewBufferString(tc.body), tc.contentType, tc.eventID))
			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestAttendanceRecord_TooLarge(t *testing.T) {
	handler, _ := newAttendanceFixture(t, &stubDetector{})
	handler.maxUpload = 16

	recorder := httptest.NewRecorder()
	handler.Record(recorder, recordRequest(bytes.NewBufferString(strings.Repeat("x", 64)), "image/png", "7"))

	assertStatusCode(t, recorder, http.StatusRequestEntityTooLarge)
}

func TestAttendanceList(t *testing.T) {
	handler, store := newAttendanceFixture(t, &stubDetector{faces: []vision.Face{face(1, 0)}})

	recorder := httptest.NewRecorder()
	handler.Record(recorder, recordRequest(bytes.NewBuffer(pngImage(t)), "image/png", "7"))
	assertStatusCode(t, recorder, http.StatusOK)

	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/events/7/attendance", nil), map[string]string{"eventID": "7"})
	recorder = httptest.NewRecorder()
	handler.List(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	var resp struct {
		EventID    int64 `json:"event_id"`
		Count      int   `json:"count"`
		Attendance []struct {
			MemberID int64   `json:"member_id"`
			Status   string  `json:"status"`
			Conf     float64 `json:"confidence"`
		} `json:"attendance"`
	}
	parseJSONResponse(t, recorder, &resp)
	if resp.EventID != 7 || resp.Count != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Attendance[0].MemberID != 42 || resp.Attendance[0].Status != database.StatusPresent {
		t.Errorf("unexpected record: %+v", resp.Attendance[0])
	}

	store.ListError = database.Unavailable("list attendance", errors.New("down"))
	recorder = httptest.NewRecorder()
	handler.List(recorder, req)
	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}
