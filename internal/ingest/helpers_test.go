package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/notify"
	"github.com/kozaktomas/face-attendance/internal/vision"
)

var testNow = time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// detectorFunc adapts a function to vision.Detector.
type detectorFunc func(ctx context.Context, data []byte) ([]vision.Face, error)

func (f detectorFunc) DetectAndEmbed(ctx context.Context, data []byte) ([]vision.Face, error) {
	return f(ctx, data)
}

// scriptedDetector returns one response per call, in order, and counts calls.
type scriptedDetector struct {
	mu        sync.Mutex
	responses [][]vision.Face
	calls     int
}

func (d *scriptedDetector) DetectAndEmbed(ctx context.Context, data []byte) ([]vision.Face, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := d.calls
	d.calls++
	if i >= len(d.responses) {
		return nil, nil
	}
	return d.responses[i], nil
}

func (d *scriptedDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func faces(vectors ...database.Vector) []vision.Face {
	out := make([]vision.Face, len(vectors))
	for i, v := range vectors {
		out[i] = vision.Face{Index: i, Embedding: v, DetScore: 0.9}
	}
	return out
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.AttendanceEvent
}

func (p *recordingPublisher) PublishAttendance(ctx context.Context, ev notify.AttendanceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func pngFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := range 16 {
		for y := range 16 {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func enrollVector(t *testing.T, store *mock.MockStore, id int64, name string, v database.Vector) {
	t.Helper()
	store.AddMember(id, name, database.MemberActive)
	emb, err := database.NewEmbedding(id, v, testNow)
	require.NoError(t, err)
	require.NoError(t, store.SaveEmbedding(context.Background(), emb))
}

func newTestPipeline(t *testing.T, store *mock.MockStore, det vision.Detector, threshold float64, opts ...PipelineOption) *Pipeline {
	t.Helper()
	index := facematch.NewEmbeddingIndex(store, 2)
	_, err := index.Rebuild(context.Background())
	require.NoError(t, err)
	matcher, err := facematch.NewMatcher(index, threshold)
	require.NoError(t, err)
	reconciler := attendance.NewReconciler(store)
	opts = append([]PipelineOption{WithClock(fixedClock)}, opts...)
	return NewPipeline(det, matcher, reconciler, store, opts...)
}
