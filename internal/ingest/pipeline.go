// Package ingest turns camera frames into attendance records and enrolls
// members' reference faces.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/notify"
	"github.com/kozaktomas/face-attendance/internal/vision"
)

// DefaultDetectionTimeout bounds the call to the embedding server.
const DefaultDetectionTimeout = 3 * time.Second

// Result messages.
const (
	MessageNoFaces     = "No faces detected in frame"
	MessageNoMatches   = "No recognized faces found"
	MessageNotRecorded = "Attendance could not be recorded"
)

// Recognized is one recorded member in an ingest result.
type Recognized struct {
	MemberID          int64   `json:"member_id"`
	DisplayName       string  `json:"name"`
	ConfidencePercent float64 `json:"confidence"`
}

// FailedMember is a matched member whose attendance was not recorded.
type FailedMember struct {
	MemberID int64  `json:"member_id"`
	Reason   string `json:"reason"`
}

// Result is the outcome of one Ingest call.
type Result struct {
	OK            bool           `json:"success"`
	Message       string         `json:"message"`
	Recognized    []Recognized   `json:"recognized_members"`
	Count         int            `json:"count"`
	FacesDetected int            `json:"faces_detected"`
	Failed        []FailedMember `json:"failed_members,omitempty"`
	RequestID     string         `json:"request_id"`
}

// Pipeline runs decode, detection, matching and reconciliation for a frame.
type Pipeline struct {
	detector         vision.Detector
	matcher          *facematch.Matcher
	reconciler       *attendance.Reconciler
	directory        database.MemberDirectory
	publisher        notify.Publisher
	metrics          *Metrics
	detectionTimeout time.Duration
	maxEdge          int
	now              func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPublisher publishes every recorded member.
func WithPublisher(p notify.Publisher) PipelineOption {
	return func(pl *Pipeline) {
		if p != nil {
			pl.publisher = p
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) PipelineOption {
	return func(pl *Pipeline) {
		pl.metrics = m
	}
}

// WithDetectionTimeout overrides DefaultDetectionTimeout.
func WithDetectionTimeout(d time.Duration) PipelineOption {
	return func(pl *Pipeline) {
		if d > 0 {
			pl.detectionTimeout = d
		}
	}
}

// WithMaxEdge scales frames larger than px before detection.
func WithMaxEdge(px int) PipelineOption {
	return func(pl *Pipeline) {
		pl.maxEdge = px
	}
}

// WithClock overrides time.Now for the recognition timestamp.
func WithClock(now func() time.Time) PipelineOption {
	return func(pl *Pipeline) {
		if now != nil {
			pl.now = now
		}
	}
}

// NewPipeline creates an ingest pipeline.
func NewPipeline(detector vision.Detector, matcher *facematch.Matcher, reconciler *attendance.Reconciler, directory database.MemberDirectory, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		detector:         detector,
		matcher:          matcher,
		reconciler:       reconciler,
		directory:        directory,
		publisher:        notify.NoopPublisher{},
		detectionTimeout: DefaultDetectionTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type requestIDKey struct{}

// WithRequestID attaches an id that Ingest reports instead of generating one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Ingest processes one frame for eventID. payload is raw image bytes or a
// base64 data URL.
//
// A malformed payload returns a *vision.DecodeError and nothing else runs.
// Frames without detected or recognized faces return OK=false and no error.
// When every matched member fails to record, the result is returned together
// with the *attendance.PartialFailureError.
func (p *Pipeline) Ingest(ctx context.Context, eventID int64, payload []byte) (*Result, error) {
	reqID := requestID(ctx)
	ctx = logger.ContextWithFields(ctx, logger.Fields{
		logger.FieldRequestID: reqID,
		logger.FieldEventID:   eventID,
		logger.FieldComponent: "ingest",
	})
	log := logger.FromContext(ctx)
	result := &Result{RequestID: reqID, Recognized: []Recognized{}}

	data, err := vision.DecodePayload(payload)
	if err != nil {
		p.metrics.frame(outcomeDecodeError)
		return nil, err
	}
	frame, err := vision.DecodeImage(data)
	if err != nil {
		p.metrics.frame(outcomeDecodeError)
		return nil, err
	}
	imageData, err := frame.ForDetection(p.maxEdge)
	if err != nil {
		p.metrics.frame(outcomeInternalFail)
		return nil, fmt.Errorf("preparing frame: %w", err)
	}

	faces, err := p.detect(ctx, imageData)
	if err != nil {
		p.metrics.frame(outcomeCancelled)
		return nil, err
	}
	result.FacesDetected = len(faces)
	if len(faces) == 0 {
		p.metrics.frame(outcomeNoFaces)
		result.Message = MessageNoFaces
		return result, nil
	}

	vectors := make([]database.Vector, len(faces))
	for i, f := range faces {
		vectors[i] = f.Embedding
	}
	matches := p.matcher.Match(vectors)
	if len(matches) == 0 {
		p.metrics.frame(outcomeNoMatch)
		result.Message = MessageNoMatches
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		p.metrics.frame(outcomeCancelled)
		return nil, err
	}

	observedAt := p.now()
	report := p.reconciler.Reconcile(ctx, eventID, matches, observedAt)
	p.metrics.reconciliation(len(matches), report.RecordedCount, len(matches)-report.RecordedCount)

	for _, o := range report.Failed() {
		result.Failed = append(result.Failed, FailedMember{MemberID: o.MemberID, Reason: failureReason(o.Err)})
	}

	for _, o := range report.Recorded() {
		name := p.displayName(ctx, o.MemberID)
		result.Recognized = append(result.Recognized, Recognized{
			MemberID:          o.MemberID,
			DisplayName:       name,
			ConfidencePercent: ConfidencePercent(o.Confidence),
		})
		ev := notify.AttendanceEvent{
			RequestID:    reqID,
			EventID:      eventID,
			MemberID:     o.MemberID,
			DisplayName:  name,
			Confidence:   o.Confidence,
			RecognizedAt: observedAt,
		}
		if err := p.publisher.PublishAttendance(context.WithoutCancel(ctx), ev); err != nil {
			log.WithField(logger.FieldMemberID, o.MemberID).WithError(err).Warn("failed to publish attendance event")
		}
	}
	result.Count = report.RecordedCount

	if report.RecordedCount == 0 {
		p.metrics.frame(outcomeNotRecorded)
		result.Message = MessageNotRecorded
		return result, report.Err()
	}

	p.metrics.frame(outcomeRecorded)
	result.OK = true
	result.Message = fmt.Sprintf("Attendance recorded for %d member(s)", report.RecordedCount)
	log.WithField(logger.FieldCount, report.RecordedCount).Info("attendance recorded")
	return result, nil
}

// detect runs the detector within the detection budget. A timeout or
// detector failure yields zero faces; only cancellation of ctx itself is
// returned as an error.
func (p *Pipeline) detect(ctx context.Context, imageData []byte) ([]vision.Face, error) {
	detectCtx, cancel := context.WithTimeout(ctx, p.detectionTimeout)
	defer cancel()

	start := time.Now()
	faces, err := p.detector.DetectAndEmbed(detectCtx, imageData)
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.metrics.detection(0, elapsed, true)
		log := logger.FromContext(ctx).WithError(err).WithField(logger.FieldDurationMs, elapsed.Milliseconds())
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("face detection timed out, treating frame as empty")
		} else {
			log.Warn("face detection failed, treating frame as empty")
		}
		return nil, nil
	}

	p.metrics.detection(len(faces), elapsed, false)
	return faces, nil
}

func (p *Pipeline) displayName(ctx context.Context, memberID int64) string {
	fallback := fmt.Sprintf("Member #%d", memberID)
	if p.directory == nil {
		return fallback
	}
	name, err := p.directory.DisplayName(ctx, memberID)
	if err != nil {
		logger.FromContext(ctx).WithField(logger.FieldMemberID, memberID).WithError(err).Warn("failed to resolve display name")
		return fallback
	}
	if name = facematch.NormalizeDisplayName(name); name == "" {
		return fallback
	}
	return name
}

// ConfidencePercent converts a confidence to a percentage rounded to two
// decimal places.
func ConfidencePercent(confidence float64) float64 {
	return math.Round(confidence*100*100) / 100
}
