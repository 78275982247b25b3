package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/ingest"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// Ingester runs one frame through recognition and attendance.
type Ingester interface {
	Ingest(ctx context.Context, eventID int64, payload []byte) (*ingest.Result, error)
}

// AttendanceHandler handles frame submission and attendance listing.
type AttendanceHandler struct {
	pipeline  Ingester
	store     database.AttendanceStore
	maxUpload int64
}

// NewAttendanceHandler creates an attendance handler. maxUpload <= 0 uses
// constants.MaxUploadSize.
func NewAttendanceHandler(pipeline Ingester, store database.AttendanceStore, maxUpload int64) *AttendanceHandler {
	if maxUpload <= 0 {
		maxUpload = constants.MaxUploadSize
	}
	return &AttendanceHandler{pipeline: pipeline, store: store, maxUpload: maxUpload}
}

type frameRequest struct {
	Image string `json:"image"`
}

var errMissingImage = errors.New("image is required")

// readFramePayload accepts a JSON body {"image": ...}, a multipart form with
// an "image" file, or the raw image bytes.
func readFramePayload(r *http.Request, limit int64) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		var req frameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				return nil, err
			}
			return nil, errors.New(errInvalidRequestBody)
		}
		if req.Image == "" {
			return nil, errMissingImage
		}
		return []byte(req.Image), nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(limit); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				return nil, err
			}
			return nil, errors.New("failed to parse multipart form")
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, errMissingImage
		}
		defer file.Close()
		return io.ReadAll(file)

	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, errMissingImage
		}
		return data, nil
	}
}

// Record handles POST /events/{eventID}/attendance.
func (h *AttendanceHandler) Record(w http.ResponseWriter, r *http.Request) {
	eventID, err := parseIDParam(r, "eventID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	payload, err := readFramePayload(r, h.maxUpload)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if reqID := middleware.RequestID(r); reqID != "" {
		ctx = ingest.WithRequestID(ctx, reqID)
	}

	result, err := h.pipeline.Ingest(ctx, eventID, payload)
	if err != nil {
		logger.FromContext(ctx).WithField(logger.FieldEventID, eventID).WithError(err).Warn("frame ingest failed")
		if result != nil {
			respondJSON(w, statusForError(err), result)
			return
		}
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type attendanceResponse struct {
	MemberID     int64     `json:"member_id"`
	Status       string    `json:"status"`
	RecognizedAt time.Time `json:"recognized_at"`
	Confidence   float64   `json:"confidence"`
}

// List handles GET /events/{eventID}/attendance.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	eventID, err := parseIDParam(r, "eventID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.ListAttendance(r.Context(), eventID)
	if err != nil {
		logger.FromContext(r.Context()).WithField(logger.FieldEventID, eventID).WithError(err).Error("failed to list attendance")
		respondDomainError(w, err)
		return
	}

	out := make([]attendanceResponse, len(records))
	for i, rec := range records {
		out[i] = attendanceResponse{
			MemberID:     rec.MemberID,
			Status:       rec.Status,
			RecognizedAt: rec.RecognizedAt,
			Confidence:   ingest.ConfidencePercent(rec.Confidence),
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"event_id":   eventID,
		"count":      len(out),
		"attendance": out,
	})
}
