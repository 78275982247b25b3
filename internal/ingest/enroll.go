package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/vision"
)

// Enrollment statuses used as the "status" metric label.
const (
	enrollOK       = "enrolled"
	enrollRejected = "rejected"
	enrollFailed   = "failed"
)

// EmbeddingRef identifies a stored reference embedding.
type EmbeddingRef struct {
	MemberID  int64     `json:"member_id"`
	Dim       int       `json:"dim"`
	Indexed   bool      `json:"indexed"`
	CreatedAt time.Time `json:"created_at"`
}

// ImageError is the failure of one image in a batch enrollment.
type ImageError struct {
	Index int
	Err   error
}

// BatchResult summarizes EnrollBatch.
type BatchResult struct {
	MemberID  int64
	Total     int
	Succeeded int
	Last      *EmbeddingRef
	Errors    []ImageError
}

// Enroller stores members' reference embeddings and keeps the index current.
type Enroller struct {
	store     database.EmbeddingStore
	directory database.MemberDirectory
	detector  vision.Detector
	index     *facematch.EmbeddingIndex
	metrics   *Metrics
	maxEdge   int
	now       func() time.Time
}

// EnrollerOption configures an Enroller.
type EnrollerOption func(*Enroller)

// WithEnrollMetrics enables Prometheus metrics.
func WithEnrollMetrics(m *Metrics) EnrollerOption {
	return func(e *Enroller) {
		e.metrics = m
	}
}

// WithEnrollMaxEdge scales images larger than px before detection.
func WithEnrollMaxEdge(px int) EnrollerOption {
	return func(e *Enroller) {
		e.maxEdge = px
	}
}

// WithEnrollClock overrides time.Now for the embedding timestamp.
func WithEnrollClock(now func() time.Time) EnrollerOption {
	return func(e *Enroller) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEnroller creates an enroller. index may be nil, in which case only the
// store is updated.
func NewEnroller(store database.EmbeddingStore, directory database.MemberDirectory, detector vision.Detector, index *facematch.EmbeddingIndex, opts ...EnrollerOption) *Enroller {
	e := &Enroller{
		store:     store,
		directory: directory,
		detector:  detector,
		index:     index,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enroll computes the member's reference embedding from image and stores it,
// replacing any previous one. The highest scoring face is used when the
// image contains several.
//
// An image without faces returns an *EnrollmentRejectedError and leaves the
// store and index untouched.
func (e *Enroller) Enroll(ctx context.Context, memberID int64, image []byte) (*EmbeddingRef, error) {
	ref, err := e.enroll(ctx, memberID, image)
	switch {
	case err == nil:
		e.metrics.enrollment(enrollOK)
	case errors.Is(err, ErrEnrollmentRejected), errors.Is(err, vision.ErrDecode):
		e.metrics.enrollment(enrollRejected)
	default:
		e.metrics.enrollment(enrollFailed)
	}
	return ref, err
}

func (e *Enroller) enroll(ctx context.Context, memberID int64, image []byte) (*EmbeddingRef, error) {
	member, err := e.directory.GetMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, database.ErrMemberNotFound) {
			return nil, &EnrollmentRejectedError{MemberID: memberID, Reason: "member not found", Err: err}
		}
		return nil, fmt.Errorf("looking up member %d: %w", memberID, err)
	}

	data, err := vision.DecodePayload(image)
	if err != nil {
		return nil, err
	}
	frame, err := vision.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	imageData, err := frame.ForDetection(e.maxEdge)
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	faces, err := e.detector.DetectAndEmbed(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}
	best, ok := vision.BestFace(faces)
	if !ok {
		return nil, &EnrollmentRejectedError{MemberID: memberID, Reason: "no face detected in image"}
	}

	if e.index != nil {
		if dim := e.index.Dim(); dim > 0 && len(best.Embedding) != dim {
			return nil, &EnrollmentRejectedError{
				MemberID: memberID,
				Reason:   "embedding has unexpected dimension",
				Err:      &database.DimensionMismatchError{Expected: dim, Actual: len(best.Embedding)},
			}
		}
	}

	emb, err := database.NewEmbedding(memberID, best.Embedding, e.now())
	if err != nil {
		return nil, &EnrollmentRejectedError{MemberID: memberID, Reason: "invalid embedding", Err: err}
	}
	if err := e.store.SaveEmbedding(ctx, emb); err != nil {
		return nil, fmt.Errorf("saving embedding for member %d: %w", memberID, err)
	}

	ref := &EmbeddingRef{MemberID: memberID, Dim: len(emb.Vector), CreatedAt: emb.CreatedAt}
	if e.index != nil && member.IsActive() {
		if err := e.index.Upsert(memberID, emb.Vector); err != nil {
			logger.FromContext(ctx).WithField(logger.FieldMemberID, memberID).WithError(err).
				Warn("embedding saved but not indexed, it will be picked up by the next rebuild")
		} else {
			ref.Indexed = true
		}
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldMemberID: memberID,
		"faces":              len(faces),
		"indexed":            ref.Indexed,
	}).Info("member enrolled")
	return ref, nil
}

// EnrollBatch enrolls every image independently. A rejected image does not
// affect the others, and the last successful image's embedding is the one
// that remains stored.
func (e *Enroller) EnrollBatch(ctx context.Context, memberID int64, images [][]byte) BatchResult {
	res := BatchResult{MemberID: memberID, Total: len(images)}
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, ImageError{Index: i, Err: err})
			continue
		}
		ref, err := e.Enroll(ctx, memberID, img)
		if err != nil {
			res.Errors = append(res.Errors, ImageError{Index: i, Err: err})
			continue
		}
		res.Succeeded++
		res.Last = ref
	}
	return res
}
