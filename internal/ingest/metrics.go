package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame outcomes used as the "outcome" label.
const (
	outcomeDecodeError  = "decode_error"
	outcomeNoFaces      = "no_faces"
	outcomeNoMatch      = "no_match"
	outcomeRecorded     = "recorded"
	outcomeNotRecorded  = "not_recorded"
	outcomeCancelled    = "cancelled"
	outcomeInternalFail = "error"
)

// Metrics collects pipeline and enrollment counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	frames          *prometheus.CounterVec
	facesDetected   prometheus.Counter
	matches         prometheus.Counter
	recorded        prometheus.Counter
	recordFailures  prometheus.Counter
	detectionFailed prometheus.Counter
	detectLatency   prometheus.Histogram
	enrollments     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_frames_total",
			Help: "Frames processed by the ingest pipeline",
		}, []string{"outcome"}),
		facesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_faces_detected_total",
			Help: "Faces detected across all frames",
		}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_matches_total",
			Help: "Faces accepted by the matcher",
		}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_records_upserted_total",
			Help: "Attendance records written",
		}),
		recordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_record_failures_total",
			Help: "Per-member attendance writes that failed",
		}),
		detectionFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_detection_failures_total",
			Help: "Detections that timed out or failed and were treated as empty",
		}),
		detectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_detection_seconds",
			Help:    "Latency of face detection and embedding",
			Buckets: prometheus.DefBuckets,
		}),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_enrollments_total",
			Help: "Enrollment images processed",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.frames,
			m.facesDetected,
			m.matches,
			m.recorded,
			m.recordFailures,
			m.detectionFailed,
			m.detectLatency,
			m.enrollments,
		)
	}
	return m
}

func (m *Metrics) frame(outcome string) {
	if m != nil {
		m.frames.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) detection(faces int, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.detectLatency.Observe(elapsed.Seconds())
	m.facesDetected.Add(float64(faces))
	if failed {
		m.detectionFailed.Inc()
	}
}

func (m *Metrics) reconciliation(matches, recorded, failed int) {
	if m == nil {
		return
	}
	m.matches.Add(float64(matches))
	m.recorded.Add(float64(recorded))
	m.recordFailures.Add(float64(failed))
}

func (m *Metrics) enrollment(status string) {
	if m != nil {
		m.enrollments.WithLabelValues(status).Inc()
	}
}
