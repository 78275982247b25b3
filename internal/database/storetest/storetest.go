// Package storetest holds behavior tests shared by every database.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

var (
	t0 = time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	t1 = t0.Add(10 * time.Minute)
)

// Run exercises store. Subtests use disjoint member and event ids so they can
// share one database.
func Run(t *testing.T, store database.Store) {
	t.Helper()

	t.Run("Members", func(t *testing.T) { testMembers(t, store) })
	t.Run("EmbeddingReplace", func(t *testing.T) { testEmbeddingReplace(t, store) })
	t.Run("EmbeddingUnknownMember", func(t *testing.T) { testEmbeddingUnknownMember(t, store) })
	t.Run("LoadActiveOnly", func(t *testing.T) { testLoadActiveOnly(t, store) })
	t.Run("AttendanceUpsert", func(t *testing.T) { testAttendanceUpsert(t, store) })
	t.Run("AttendanceUnknownMember", func(t *testing.T) { testAttendanceUnknownMember(t, store) })
	t.Run("AttendanceConcurrent", func(t *testing.T) { testAttendanceConcurrent(t, store) })
	t.Run("AttendanceList", func(t *testing.T) { testAttendanceList(t, store) })
	t.Run("Ping", func(t *testing.T) {
		if err := store.Ping(context.Background()); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})
}

func mustSaveMember(t *testing.T, store database.Store, id int64, name string, status database.MemberStatus) {
	t.Helper()
	if err := store.SaveMember(context.Background(), database.Member{ID: id, FullName: name, Status: status}); err != nil {
		t.Fatalf("SaveMember(%d) failed: %v", id, err)
	}
}

func mustSaveEmbedding(t *testing.T, store database.Store, id int64, v database.Vector) {
	t.Helper()
	emb, err := database.NewEmbedding(id, v, t0)
	if err != nil {
		t.Fatalf("NewEmbedding failed: %v", err)
	}
	if err := store.SaveEmbedding(context.Background(), emb); err != nil {
		t.Fatalf("SaveEmbedding(%d) failed: %v", id, err)
	}
}

func mustRecord(t *testing.T, memberID, eventID int64, conf float64, at time.Time) database.AttendanceRecord {
	t.Helper()
	rec, err := database.NewAttendanceRecord(memberID, eventID, conf, at)
	if err != nil {
		t.Fatalf("NewAttendanceRecord failed: %v", err)
	}
	return rec
}

func testMembers(t *testing.T, store database.Store) {
	ctx := context.Background()
	mustSaveMember(t, store, 1001, "Ana Lima", database.MemberActive)

	m, err := store.GetMember(ctx, 1001)
	if err != nil {
		t.Fatalf("GetMember failed: %v", err)
	}
	if m.FullName != "Ana Lima" || !m.IsActive() {
		t.Errorf("got %+v", m)
	}

	name, err := store.DisplayName(ctx, 1001)
	if err != nil || name != "Ana Lima" {
		t.Errorf("DisplayName = %q, %v", name, err)
	}

	if _, err := store.GetMember(ctx, 1999); !errors.Is(err, database.ErrMemberNotFound) {
		t.Errorf("expected ErrMemberNotFound, got %v", err)
	}
	if _, err := store.DisplayName(ctx, 1999); !errors.Is(err, database.ErrMemberNotFound) {
		t.Errorf("expected ErrMemberNotFound, got %v", err)
	}

	active, err := store.IsActive(ctx, 1999)
	if err != nil || active {
		t.Errorf("IsActive(unknown) = %v, %v", active, err)
	}

	mustSaveMember(t, store, 1001, "Ana Lima", database.MemberPending)
	active, err = store.IsActive(ctx, 1001)
	if err != nil || active {
		t.Errorf("IsActive(pending) = %v, %v", active, err)
	}
}

func testEmbeddingReplace(t *testing.T, store database.Store) {
	ctx := context.Background()
	mustSaveMember(t, store, 2001, "Ben", database.MemberActive)

	mustSaveEmbedding(t, store, 2001, database.Vector{0.1, 0.2, 0.3})
	mustSaveEmbedding(t, store, 2001, database.Vector{0.125, -0.5, 1e-300})

	emb, err := store.GetEmbedding(ctx, 2001)
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if emb == nil {
		t.Fatal("expected embedding, got nil")
	}
	want := database.Vector{0.125, -0.5, 1e-300}
	if len(emb.Vector) != len(want) {
		t.Fatalf("got %d dimensions, want %d", len(emb.Vector), len(want))
	}
	for i := range want {
		if emb.Vector[i] != want[i] {
			t.Errorf("component %d = %v, want %v", i, emb.Vector[i], want[i])
		}
	}

	missing, err := store.GetEmbedding(ctx, 2998)
	if err != nil || missing != nil {
		t.Errorf("GetEmbedding(unknown) = %v, %v", missing, err)
	}
}

func testEmbeddingUnknownMember(t *testing.T, store database.Store) {
	emb, err := database.NewEmbedding(2999, database.Vector{1, 2}, t0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveEmbedding(context.Background(), emb); !errors.Is(err, database.ErrMemberNotFound) {
		t.Errorf("expected ErrMemberNotFound, got %v", err)
	}
}

func testLoadActiveOnly(t *testing.T, store database.Store) {
	mustSaveMember(t, store, 3002, "Dan", database.MemberPending)
	mustSaveMember(t, store, 3001, "Cara", database.MemberActive)
	mustSaveEmbedding(t, store, 3002, database.Vector{2, 2})
	mustSaveEmbedding(t, store, 3001, database.Vector{1, 1})

	rows, err := store.LoadActiveEmbeddings(context.Background())
	if err != nil {
		t.Fatalf("LoadActiveEmbeddings failed: %v", err)
	}

	seen := make(map[int64]bool)
	for i, r := range rows {
		seen[r.MemberID] = true
		if i > 0 && rows[i-1].MemberID >= r.MemberID {
			t.Errorf("rows not ordered by member id: %d before %d", rows[i-1].MemberID, r.MemberID)
		}
	}
	if !seen[3001] {
		t.Error("active member 3001 missing")
	}
	if seen[3002] {
		t.Error("pending member 3002 must not be loaded")
	}

	for _, r := range rows {
		if r.MemberID != 3001 {
			continue
		}
		emb, err := r.Decode()
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if emb.Vector[0] != 1 || emb.Vector[1] != 1 {
			t.Errorf("vector = %v", emb.Vector)
		}
	}
}

func testAttendanceUpsert(t *testing.T, store database.Store) {
	ctx := context.Background()
	mustSaveMember(t, store, 4001, "Eve", database.MemberActive)

	if err := store.UpsertAttendance(ctx, mustRecord(t, 4001, 7001, 0.70, t0)); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := store.UpsertAttendance(ctx, mustRecord(t, 4001, 7001, 0.55, t1)); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	rec, err := store.GetAttendance(ctx, 4001, 7001)
	if err != nil {
		t.Fatalf("GetAttendance failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record, got nil")
	}
	if rec.Status != database.StatusPresent {
		t.Errorf("status = %q", rec.Status)
	}
	if rec.Confidence != 0.55 {
		t.Errorf("confidence = %v, want 0.55", rec.Confidence)
	}
	if !rec.RecognizedAt.Equal(t1) {
		t.Errorf("recognized_at = %v, want %v", rec.RecognizedAt, t1)
	}

	recs, err := store.ListAttendance(ctx, 7001)
	if err != nil {
		t.Fatalf("ListAttendance failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d rows, want 1", len(recs))
	}

	missing, err := store.GetAttendance(ctx, 4001, 7999)
	if err != nil || missing != nil {
		t.Errorf("GetAttendance(unknown) = %v, %v", missing, err)
	}
}

func testAttendanceUnknownMember(t *testing.T, store database.Store) {
	err := store.UpsertAttendance(context.Background(), mustRecord(t, 4999, 7002, 0.9, t0))
	if !errors.Is(err, database.ErrMemberNotFound) {
		t.Errorf("expected ErrMemberNotFound, got %v", err)
	}
}

func testAttendanceConcurrent(t *testing.T, store database.Store) {
	ctx := context.Background()
	mustSaveMember(t, store, 4002, "Fay", database.MemberActive)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := database.NewAttendanceRecord(4002, 7003, 0.61+float64(i)/100, t0.Add(time.Duration(i)*time.Second))
			if err == nil {
				err = store.UpsertAttendance(ctx, rec)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent upsert failed: %v", err)
		}
	}

	recs, err := store.ListAttendance(ctx, 7003)
	if err != nil {
		t.Fatalf("ListAttendance failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d rows, want exactly 1", len(recs))
	}
}

func testAttendanceList(t *testing.T, store database.Store) {
	ctx := context.Background()
	mustSaveMember(t, store, 5001, "Gus", database.MemberActive)
	mustSaveMember(t, store, 5002, "Hal", database.MemberActive)

	for _, id := range []int64{5002, 5001} {
		if err := store.UpsertAttendance(ctx, mustRecord(t, id, 7004, 0.8, t0)); err != nil {
			t.Fatalf("upsert %d failed: %v", id, err)
		}
	}
	if err := store.UpsertAttendance(ctx, mustRecord(t, 5001, 7005, 0.8, t0)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	recs, err := store.ListAttendance(ctx, 7004)
	if err != nil {
		t.Fatalf("ListAttendance failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d rows, want 2", len(recs))
	}
	if recs[0].MemberID != 5001 || recs[1].MemberID != 5002 {
		t.Errorf("order = %d, %d", recs[0].MemberID, recs[1].MemberID)
	}
	if recs[0].EventID != 7004 {
		t.Errorf("event = %d", recs[0].EventID)
	}

	empty, err := store.ListAttendance(ctx, 7999)
	if err != nil || len(empty) != 0 {
		t.Errorf("ListAttendance(empty) = %v, %v", empty, err)
	}
}
