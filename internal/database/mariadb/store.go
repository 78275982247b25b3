package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// errNoReferencedRow is ER_NO_REFERENCED_ROW_2.
const errNoReferencedRow = 1452

// Store implements database.Store on MariaDB or MySQL.
type Store struct {
	pool *Pool
}

var _ database.Store = (*Store)(nil)

func classify(op string, memberID int64, err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == errNoReferencedRow {
		return fmt.Errorf("%s: member %d: %w", op, memberID, database.ErrMemberNotFound)
	}
	return database.Unavailable(op, err)
}

// SaveMember inserts or updates a member.
func (s *Store) SaveMember(ctx context.Context, m database.Member) error {
	_, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO members (id, full_name, status) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE full_name = VALUES(full_name), status = VALUES(status)
	`, m.ID, m.FullName, string(m.Status))
	return classify("save member", m.ID, err)
}

// GetMember returns the member or database.ErrMemberNotFound.
func (s *Store) GetMember(ctx context.Context, memberID int64) (*database.Member, error) {
	var m database.Member
	var status string
	err := s.pool.db.QueryRowContext(ctx,
		"SELECT id, full_name, status, created_at FROM members WHERE id = ?", memberID,
	).Scan(&m.ID, &m.FullName, &status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %d: %w", memberID, database.ErrMemberNotFound)
	}
	if err != nil {
		return nil, database.Unavailable("get member", err)
	}
	m.Status = database.MemberStatus(status)
	return &m, nil
}

// DisplayName returns the member's full name.
func (s *Store) DisplayName(ctx context.Context, memberID int64) (string, error) {
	m, err := s.GetMember(ctx, memberID)
	if err != nil {
		return "", err
	}
	return m.FullName, nil
}

// IsActive reports whether the member exists and is active.
func (s *Store) IsActive(ctx context.Context, memberID int64) (bool, error) {
	var active bool
	err := s.pool.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM members WHERE id = ? AND status = ?)", memberID, string(database.MemberActive),
	).Scan(&active)
	if err != nil {
		return false, database.Unavailable("check member active", err)
	}
	return active, nil
}

// LoadActiveEmbeddings returns the encoded embeddings of active members.
func (s *Store) LoadActiveEmbeddings(ctx context.Context) ([]database.StoredEmbedding, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT e.member_id, e.embedding, e.created_at
		FROM face_embeddings e
		JOIN members m ON m.id = e.member_id
		WHERE m.status = ?
		ORDER BY e.member_id
	`, string(database.MemberActive))
	if err != nil {
		return nil, database.Unavailable("load embeddings", err)
	}
	defer rows.Close()

	var out []database.StoredEmbedding
	for rows.Next() {
		var e database.StoredEmbedding
		if err := rows.Scan(&e.MemberID, &e.Data, &e.CreatedAt); err != nil {
			return nil, database.Unavailable("scan embedding", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate embeddings", err)
	}
	return out, nil
}

// SaveEmbedding stores the member's embedding, replacing any previous one.
func (s *Store) SaveEmbedding(ctx context.Context, emb database.Embedding) error {
	data, err := database.EncodeVector(emb.Vector)
	if err != nil {
		return err
	}
	_, err = s.pool.db.ExecContext(ctx, `
		INSERT INTO face_embeddings (member_id, embedding, created_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE embedding = VALUES(embedding), created_at = VALUES(created_at)
	`, emb.MemberID, data, emb.CreatedAt.UTC())
	return classify("save embedding", emb.MemberID, err)
}

// GetEmbedding returns the member's decoded embedding, or nil if none is stored.
func (s *Store) GetEmbedding(ctx context.Context, memberID int64) (*database.Embedding, error) {
	var stored database.StoredEmbedding
	err := s.pool.db.QueryRowContext(ctx,
		"SELECT member_id, embedding, created_at FROM face_embeddings WHERE member_id = ?", memberID,
	).Scan(&stored.MemberID, &stored.Data, &stored.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Unavailable("get embedding", err)
	}
	emb, err := stored.Decode()
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

// UpsertAttendance inserts or updates the record in one statement keyed on
// the (member_id, event_id) unique key.
func (s *Store) UpsertAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	_, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO attendance (member_id, event_id, status, recognized_at, confidence)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			recognized_at = VALUES(recognized_at),
			confidence = VALUES(confidence)
	`, rec.MemberID, rec.EventID, rec.Status, rec.RecognizedAt.UTC(), rec.Confidence)
	return classify("upsert attendance", rec.MemberID, err)
}

// GetAttendance returns the record for the pair, or nil.
func (s *Store) GetAttendance(ctx context.Context, memberID, eventID int64) (*database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	err := s.pool.db.QueryRowContext(ctx, `
		SELECT member_id, event_id, status, recognized_at, confidence
		FROM attendance WHERE member_id = ? AND event_id = ?
	`, memberID, eventID).Scan(&rec.MemberID, &rec.EventID, &rec.Status, &rec.RecognizedAt, &rec.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Unavailable("get attendance", err)
	}
	return &rec, nil
}

// ListAttendance returns the event's records ordered by member id.
func (s *Store) ListAttendance(ctx context.Context, eventID int64) ([]database.AttendanceRecord, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT member_id, event_id, status, recognized_at, confidence
		FROM attendance WHERE event_id = ? ORDER BY member_id
	`, eventID)
	if err != nil {
		return nil, database.Unavailable("list attendance", err)
	}
	defer rows.Close()

	var out []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		if err := rows.Scan(&rec.MemberID, &rec.EventID, &rec.Status, &rec.RecognizedAt, &rec.Confidence); err != nil {
			return nil, database.Unavailable("scan attendance", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate attendance", err)
	}
	return out, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return database.Unavailable("ping", s.pool.db.PingContext(ctx))
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}
