// Package sqlite is the embedded storage backend, built on GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

type memberRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false"`
	FullName  string    `gorm:"type:text;not null"`
	Status    string    `gorm:"type:varchar(20);not null;default:active;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (memberRow) TableName() string { return "members" }

type embeddingRow struct {
	MemberID  int64     `gorm:"primaryKey;autoIncrement:false"`
	Embedding []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	Member    memberRow `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE"`
}

func (embeddingRow) TableName() string { return "face_embeddings" }

type attendanceRow struct {
	ID           int64     `gorm:"primaryKey"`
	MemberID     int64     `gorm:"not null;uniqueIndex:idx_attendance_member_event"`
	EventID      int64     `gorm:"not null;uniqueIndex:idx_attendance_member_event;index:idx_attendance_event"`
	Status       string    `gorm:"type:varchar(20);not null;default:present"`
	RecognizedAt time.Time `gorm:"not null"`
	Confidence   float64   `gorm:"not null"`
	Member       memberRow `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE"`
}

func (attendanceRow) TableName() string { return "attendance" }

func (r attendanceRow) record() database.AttendanceRecord {
	return database.AttendanceRecord{
		MemberID:     r.MemberID,
		EventID:      r.EventID,
		Status:       r.Status,
		RecognizedAt: r.RecognizedAt,
		Confidence:   r.Confidence,
	}
}

// Store implements database.Store on SQLite.
type Store struct {
	db *gorm.DB
}

var _ database.Store = (*Store)(nil)

func init() {
	database.RegisterBackend("sqlite", func(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
		return Open(ctx, cfg)
	})
}

// withForeignKeys adds _foreign_keys=on to dsn unless it already sets the
// option. The driver applies DSN options to every new connection, while a
// PRAGMA only affects the connection it ran on.
func withForeignKeys(dsn string) string {
	query := ""
	if _, q, ok := strings.Cut(dsn, "?"); ok {
		query = q
	}
	for _, kv := range strings.Split(query, "&") {
		key, _, _ := strings.Cut(kv, "=")
		if key == "_foreign_keys" || key == "_fk" {
			return dsn
		}
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// Open opens the database file named by cfg.URL and migrates the schema.
// Foreign keys are always enforced; unknown members rely on them.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("SQLite DSN is required")
	}

	db, err := gorm.Open(sqlite.Open(withForeignKeys(cfg.URL)), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	// SQLite allows a single writer; one connection avoids "database is locked".
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db = db.WithContext(ctx)
	var fkEnabled int
	if err := db.Raw("PRAGMA foreign_keys").Scan(&fkEnabled).Error; err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("check foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		sqlDB.Close()
		return nil, errors.New("SQLite DSN disables foreign keys; remove _foreign_keys=off")
	}
	if err := db.AutoMigrate(&memberRow{}, &embeddingRow{}, &attendanceRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db.WithContext(context.Background())}, nil
}

func classify(op string, memberID int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return fmt.Errorf("%s: member %d: %w", op, memberID, database.ErrMemberNotFound)
	}
	return database.Unavailable(op, err)
}

// SaveMember inserts or updates a member.
func (s *Store) SaveMember(ctx context.Context, m database.Member) error {
	row := memberRow{ID: m.ID, FullName: m.FullName, Status: string(m.Status), CreatedAt: m.CreatedAt}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "status"}),
	}).Create(&row).Error
	return classify("save member", m.ID, err)
}

// GetMember returns the member or database.ErrMemberNotFound.
func (s *Store) GetMember(ctx context.Context, memberID int64) (*database.Member, error) {
	var row memberRow
	err := s.db.WithContext(ctx).Where("id = ?", memberID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("member %d: %w", memberID, database.ErrMemberNotFound)
	}
	if err != nil {
		return nil, database.Unavailable("get member", err)
	}
	return &database.Member{
		ID:        row.ID,
		FullName:  row.FullName,
		Status:    database.MemberStatus(row.Status),
		CreatedAt: row.CreatedAt,
	}, nil
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
	var count int64
	err := s.db.WithContext(ctx).Model(&memberRow{}).
		Where("id = ? AND status = ?", memberID, string(database.MemberActive)).
		Count(&count).Error
	if err != nil {
		return false, database.Unavailable("check member active", err)
	}
	return count > 0, nil
}

// LoadActiveEmbeddings returns the encoded embeddings of active members.
func (s *Store) LoadActiveEmbeddings(ctx context.Context) ([]database.StoredEmbedding, error) {
	var rows []embeddingRow
	err := s.db.WithContext(ctx).
		Select("face_embeddings.member_id, face_embeddings.embedding, face_embeddings.created_at").
		Joins("JOIN members ON members.id = face_embeddings.member_id").
		Where("members.status = ?", string(database.MemberActive)).
		Order("face_embeddings.member_id").
		Find(&rows).Error
	if err != nil {
		return nil, database.Unavailable("load embeddings", err)
	}
	out := make([]database.StoredEmbedding, len(rows))
	for i, r := range rows {
		out[i] = database.StoredEmbedding{MemberID: r.MemberID, Data: r.Embedding, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// SaveEmbedding stores the member's embedding, replacing any previous one.
func (s *Store) SaveEmbedding(ctx context.Context, emb database.Embedding) error {
	data, err := database.EncodeVector(emb.Vector)
	if err != nil {
		return err
	}
	row := embeddingRow{MemberID: emb.MemberID, Embedding: data, CreatedAt: emb.CreatedAt.UTC()}
	err = s.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "member_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"embedding", "created_at"}),
	}).Create(&row).Error
	return classify("save embedding", emb.MemberID, err)
}

// GetEmbedding returns the member's decoded embedding, or nil if none is stored.
func (s *Store) GetEmbedding(ctx context.Context, memberID int64) (*database.Embedding, error) {
	var row embeddingRow
	err := s.db.WithContext(ctx).Where("member_id = ?", memberID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Unavailable("get embedding", err)
	}
	emb, err := database.StoredEmbedding{MemberID: row.MemberID, Data: row.Embedding, CreatedAt: row.CreatedAt}.Decode()
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

// UpsertAttendance inserts or updates the record in a single
// INSERT ... ON CONFLICT statement on the (member_id, event_id) index.
func (s *Store) UpsertAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	row := attendanceRow{
		MemberID:     rec.MemberID,
		EventID:      rec.EventID,
		Status:       rec.Status,
		RecognizedAt: rec.RecognizedAt.UTC(),
		Confidence:   rec.Confidence,
	}
	err := s.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "member_id"}, {Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "recognized_at", "confidence"}),
	}).Create(&row).Error
	return classify("upsert attendance", rec.MemberID, err)
}

// GetAttendance returns the record for the pair, or nil.
func (s *Store) GetAttendance(ctx context.Context, memberID, eventID int64) (*database.AttendanceRecord, error) {
	var row attendanceRow
	err := s.db.WithContext(ctx).Where("member_id = ? AND event_id = ?", memberID, eventID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Unavailable("get attendance", err)
	}
	rec := row.record()
	return &rec, nil
}

// ListAttendance returns the event's records ordered by member id.
func (s *Store) ListAttendance(ctx context.Context, eventID int64) ([]database.AttendanceRecord, error) {
	var rows []attendanceRow
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Order("member_id").Find(&rows).Error
	if err != nil {
		return nil, database.Unavailable("list attendance", err)
	}
	out := make([]database.AttendanceRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return database.Unavailable("ping", err)
	}
	return database.Unavailable("ping", sqlDB.PingContext(ctx))
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}
