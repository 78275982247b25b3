package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/ingest"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// BatchEnroller enrolls reference images for a member.
type BatchEnroller interface {
	EnrollBatch(ctx context.Context, memberID int64, images [][]byte) ingest.BatchResult
}

// EnrollHandler handles reference image enrollment.
type EnrollHandler struct {
	enroller  BatchEnroller
	maxUpload int64
}

// NewEnrollHandler creates an enroll handler.
func NewEnrollHandler(enroller BatchEnroller, maxUpload int64) *EnrollHandler {
	if maxUpload <= 0 {
		maxUpload = constants.MaxUploadSize
	}
	return &EnrollHandler{enroller: enroller, maxUpload: maxUpload}
}

type imageErrorResponse struct {
	Index    int    `json:"index"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error"`
}

type enrollResponse struct {
	MemberID  int64                `json:"member_id"`
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Dim       int                  `json:"dim,omitempty"`
	Indexed   bool                 `json:"indexed"`
	CreatedAt *time.Time           `json:"created_at,omitempty"`
	Errors    []imageErrorResponse `json:"errors,omitempty"`
}

// readEnrollImages reads every "face_images" file of a multipart form.
func readEnrollImages(r *http.Request, limit int64) ([][]byte, []string, error) {
	if err := r.ParseMultipartForm(limit); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, nil, err
		}
		return nil, nil, errors.New("failed to parse multipart form")
	}
	files := r.MultipartForm.File["face_images"]
	if len(files) == 0 {
		return nil, nil, errors.New("at least one face_images file is required")
	}
	if len(files) > constants.MaxEnrollImages {
		return nil, nil, fmt.Errorf("at most %d face_images are accepted", constants.MaxEnrollImages)
	}

	images := make([][]byte, 0, len(files))
	names := make([]string, 0, len(files))
	for _, fh := range files {
		data, err := func() ([]byte, error) {
			file, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open file: %s", sanitizeForLog(fh.Filename))
			}
			defer file.Close()
			return io.ReadAll(file)
		}()
		if err != nil {
			return nil, nil, err
		}
		images = append(images, data)
		names = append(names, fh.Filename)
	}
	return images, names, nil
}

// Enroll handles POST /members/{memberID}/enroll. Images are processed in
// order and the last accepted one becomes the member's embedding. The
// response is 200 when at least one image was accepted.
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	memberID, err := parseIDParam(r, "memberID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	images, names, err := readEnrollImages(r, h.maxUpload)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := logger.FromContext(r.Context()).WithField(logger.FieldMemberID, memberID)
	res := h.enroller.EnrollBatch(r.Context(), memberID, images)

	resp := enrollResponse{MemberID: memberID, Total: res.Total, Succeeded: res.Succeeded}
	if res.Last != nil {
		resp.Dim = res.Last.Dim
		resp.Indexed = res.Last.Indexed
		createdAt := res.Last.CreatedAt
		resp.CreatedAt = &createdAt
	}
	for _, ie := range res.Errors {
		var name string
		if ie.Index < len(names) {
			name = names[ie.Index]
		}
		resp.Errors = append(resp.Errors, imageErrorResponse{Index: ie.Index, Filename: name, Error: clientMessage(ie.Err)})
	}

	if res.Succeeded == 0 {
		first := res.Errors[0].Err
		log.WithError(first).Warn("enrollment failed")
		status := statusForError(first)
		if status >= http.StatusInternalServerError {
			respondDomainError(w, first)
			return
		}
		respondJSON(w, status, resp)
		return
	}

	log.WithFields(logger.Fields{"succeeded": res.Succeeded, "total": res.Total}).Info("member enrolled")
	respondJSON(w, http.StatusOK, resp)
}
