package database

import (
	"context"
)

// EmbeddingStore persists one face embedding per member.
type EmbeddingStore interface {
	// LoadActiveEmbeddings returns the stored embeddings of all active members,
	// ordered by member id. Rows are returned encoded.
	LoadActiveEmbeddings(ctx context.Context) ([]StoredEmbedding, error)
	// SaveEmbedding stores emb, replacing any previous embedding of the member.
	SaveEmbedding(ctx context.Context, emb Embedding) error
	// GetEmbedding returns the member's embedding, or nil if none is stored.
	GetEmbedding(ctx context.Context, memberID int64) (*Embedding, error)
}

// AttendanceStore persists attendance records keyed by (member_id, event_id).
type AttendanceStore interface {
	// UpsertAttendance inserts the record or overwrites status, recognized_at
	// and confidence of the existing one in a single atomic statement.
	UpsertAttendance(ctx context.Context, rec AttendanceRecord) error
	// GetAttendance returns the record for the pair, or nil if none exists.
	GetAttendance(ctx context.Context, memberID, eventID int64) (*AttendanceRecord, error)
	// ListAttendance returns all records of an event ordered by member id.
	ListAttendance(ctx context.Context, eventID int64) ([]AttendanceRecord, error)
}

// MemberDirectory resolves members owned by the membership system.
type MemberDirectory interface {
	// GetMember returns the member or ErrMemberNotFound.
	GetMember(ctx context.Context, memberID int64) (*Member, error)
	// DisplayName returns the member's full name or ErrMemberNotFound.
	DisplayName(ctx context.Context, memberID int64) (string, error)
	// IsActive reports whether the member exists and is active.
	IsActive(ctx context.Context, memberID int64) (bool, error)
}

// MemberWriter seeds or updates members.
type MemberWriter interface {
	SaveMember(ctx context.Context, m Member) error
}

// Store is the full storage backend used by the service.
type Store interface {
	EmbeddingStore
	AttendanceStore
	MemberDirectory
	MemberWriter

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
