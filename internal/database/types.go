package database

import (
	"fmt"
	"math"
	"time"
)

// MemberStatus is the lifecycle state of a member in the membership system.
type MemberStatus string

const (
	MemberPending MemberStatus = "pending"
	MemberActive  MemberStatus = "active"
)

// StatusPresent is the only attendance status written by recognition.
const StatusPresent = "present"

// Vector is a face embedding in feature space.
type Vector []float64

// Validate checks that the vector is non-empty and finite.
func (v Vector) Validate() error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidRecord)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: non-finite value at position %d", ErrInvalidRecord, i)
		}
	}
	return nil
}

// Clone returns a copy that does not share the backing array.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// VectorFromFloat32 widens an embedding returned by the vision server.
func VectorFromFloat32(in []float32) Vector {
	out := make(Vector, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}

// Member is a person who can be recognized. Members are owned by the
// membership system; this service only reads them, except for seeding.
type Member struct {
	ID        int64
	FullName  string
	Status    MemberStatus
	CreatedAt time.Time
}

// IsActive reports whether the member participates in matching.
func (m Member) IsActive() bool {
	return m.Status == MemberActive
}

// Embedding is the single enrolled face vector of a member.
type Embedding struct {
	MemberID  int64
	Vector    Vector
	CreatedAt time.Time
}

// NewEmbedding validates and builds an Embedding. The vector is copied.
func NewEmbedding(memberID int64, v Vector, createdAt time.Time) (Embedding, error) {
	if memberID <= 0 {
		return Embedding{}, fmt.Errorf("%w: member id must be positive, got %d", ErrInvalidRecord, memberID)
	}
	if err := v.Validate(); err != nil {
		return Embedding{}, err
	}
	return Embedding{MemberID: memberID, Vector: v.Clone(), CreatedAt: createdAt}, nil
}

// StoredEmbedding is an embedding row as loaded from storage, still encoded.
// Decoding is left to the caller so one unreadable row does not fail a load.
type StoredEmbedding struct {
	MemberID  int64
	Data      []byte
	CreatedAt time.Time
}

// Decode turns the stored bytes into an Embedding.
func (s StoredEmbedding) Decode() (Embedding, error) {
	v, err := DecodeVector(s.Data)
	if err != nil {
		return Embedding{}, fmt.Errorf("member %d: %w", s.MemberID, err)
	}
	return NewEmbedding(s.MemberID, v, s.CreatedAt)
}

// AttendanceRecord is the single attendance row of a member at an event.
type AttendanceRecord struct {
	MemberID     int64
	EventID      int64
	Status       string
	RecognizedAt time.Time
	Confidence   float64
}

// NewAttendanceRecord builds a "present" record for a recognition.
func NewAttendanceRecord(memberID, eventID int64, confidence float64, recognizedAt time.Time) (AttendanceRecord, error) {
	if memberID <= 0 {
		return AttendanceRecord{}, fmt.Errorf("%w: member id must be positive, got %d", ErrInvalidRecord, memberID)
	}
	if eventID <= 0 {
		return AttendanceRecord{}, fmt.Errorf("%w: event id must be positive, got %d", ErrInvalidRecord, eventID)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return AttendanceRecord{}, fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidRecord, confidence)
	}
	if recognizedAt.IsZero() {
		return AttendanceRecord{}, fmt.Errorf("%w: recognized_at is required", ErrInvalidRecord)
	}
	return AttendanceRecord{
		MemberID:     memberID,
		EventID:      eventID,
		Status:       StatusPresent,
		RecognizedAt: recognizedAt,
		Confidence:   confidence,
	}, nil
}
