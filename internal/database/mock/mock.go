// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/database"
)

type attendanceKey struct {
	memberID int64
	eventID  int64
}

// MockStore is an in-memory implementation of database.Store.
type MockStore struct {
	mu         sync.RWMutex
	members    map[int64]database.Member
	embeddings map[int64]database.StoredEmbedding
	attendance map[attendanceKey]database.AttendanceRecord

	// Error injection
	LoadError          error
	SaveEmbeddingError error
	GetEmbeddingError  error
	UpsertError        error
	UpsertErrors       map[int64]error // per member id
	ListError          error
	DirectoryError     error
	PingError          error

	// Call counters
	UpsertCalls int
	SaveCalls   int
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		members:      make(map[int64]database.Member),
		embeddings:   make(map[int64]database.StoredEmbedding),
		attendance:   make(map[attendanceKey]database.AttendanceRecord),
		UpsertErrors: make(map[int64]error),
	}
}

var _ database.Store = (*MockStore)(nil)

// AddMember adds a member to the mock store.
func (m *MockStore) AddMember(id int64, name string, status database.MemberStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[id] = database.Member{ID: id, FullName: name, Status: status}
}

// PutRawEmbedding stores encoded bytes as-is, bypassing validation.
func (m *MockStore) PutRawEmbedding(memberID int64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[memberID] = database.StoredEmbedding{MemberID: memberID, Data: data}
}

// AttendanceCount returns the number of stored attendance rows.
func (m *MockStore) AttendanceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attendance)
}

// EmbeddingCount returns the number of stored embeddings.
func (m *MockStore) EmbeddingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings)
}

// LoadActiveEmbeddings returns embeddings of active members ordered by id.
func (m *MockStore) LoadActiveEmbeddings(ctx context.Context) ([]database.StoredEmbedding, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.StoredEmbedding
	for id, emb := range m.embeddings {
		if mem, ok := m.members[id]; ok && mem.IsActive() {
			out = append(out, emb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

// SaveEmbedding replaces the member's embedding.
func (m *MockStore) SaveEmbedding(ctx context.Context, emb database.Embedding) error {
	if m.SaveEmbeddingError != nil {
		return m.SaveEmbeddingError
	}
	data, err := database.EncodeVector(emb.Vector)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if _, ok := m.members[emb.MemberID]; !ok {
		return fmt.Errorf("saving embedding for member %d: %w", emb.MemberID, database.ErrMemberNotFound)
	}
	m.embeddings[emb.MemberID] = database.StoredEmbedding{MemberID: emb.MemberID, Data: data, CreatedAt: emb.CreatedAt}
	return nil
}

// GetEmbedding returns the member's decoded embedding or nil.
func (m *MockStore) GetEmbedding(ctx context.Context, memberID int64) (*database.Embedding, error) {
	if m.GetEmbeddingError != nil {
		return nil, m.GetEmbeddingError
	}
	m.mu.RLock()
	stored, ok := m.embeddings[memberID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	emb, err := stored.Decode()
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

// UpsertAttendance inserts or overwrites the (member, event) record.
func (m *MockStore) UpsertAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertError != nil {
		return m.UpsertError
	}
	if err := m.UpsertErrors[rec.MemberID]; err != nil {
		return err
	}
	if _, ok := m.members[rec.MemberID]; !ok {
		return fmt.Errorf("recording attendance for member %d: %w", rec.MemberID, database.ErrMemberNotFound)
	}
	m.attendance[attendanceKey{rec.MemberID, rec.EventID}] = rec
	return nil
}

// GetAttendance returns the record for the pair or nil.
func (m *MockStore) GetAttendance(ctx context.Context, memberID, eventID int64) (*database.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.attendance[attendanceKey{memberID, eventID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListAttendance returns the event's records ordered by member id.
func (m *MockStore) ListAttendance(ctx context.Context, eventID int64) ([]database.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceRecord
	for key, rec := range m.attendance {
		if key.eventID == eventID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

// GetMember returns the member or database.ErrMemberNotFound.
func (m *MockStore) GetMember(ctx context.Context, memberID int64) (*database.Member, error) {
	if m.DirectoryError != nil {
		return nil, m.DirectoryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[memberID]
	if !ok {
		return nil, fmt.Errorf("member %d: %w", memberID, database.ErrMemberNotFound)
	}
	return &mem, nil
}

// DisplayName returns the member's full name.
func (m *MockStore) DisplayName(ctx context.Context, memberID int64) (string, error) {
	mem, err := m.GetMember(ctx, memberID)
	if err != nil {
		return "", err
	}
	return mem.FullName, nil
}

// IsActive reports whether the member exists and is active.
func (m *MockStore) IsActive(ctx context.Context, memberID int64) (bool, error) {
	if m.DirectoryError != nil {
		return false, m.DirectoryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[memberID]
	return ok && mem.IsActive(), nil
}

// SaveMember inserts or updates a member.
func (m *MockStore) SaveMember(ctx context.Context, mem database.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[mem.ID] = mem
	return nil
}

// Ping returns PingError.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingError
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
