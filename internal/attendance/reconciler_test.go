package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

func match(id int64, conf float64) facematch.MatchResult {
	return facematch.MatchResult{MemberID: id, Confidence: conf, Distance: 1 - conf}
}

func TestReconcile_CreatesThenUpdatesSameRecord(t *testing.T) {
	store := mock.NewMockStore()
	store.AddMember(42, "Ana Lima", database.MemberActive)
	r := NewReconciler(store)
	ctx := context.Background()

	report := r.Reconcile(ctx, 7, []facematch.MatchResult{match(42, 0.70)}, t0)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.RecordedCount)

	rec, err := store.GetAttendance(ctx, 42, 7)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, database.StatusPresent, rec.Status)
	assert.InDelta(t, 0.70, rec.Confidence, 1e-9)
	assert.Equal(t, t0, rec.RecognizedAt)

	later := t0.Add(10 * time.Minute)
	report = r.Reconcile(ctx, 7, []facematch.MatchResult{match(42, 0.55)}, later)
	require.NoError(t, report.Err())

	assert.Equal(t, 1, store.AttendanceCount(), "second sighting must not add a row")
	rec, err = store.GetAttendance(ctx, 42, 7)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, rec.Confidence, 1e-9)
	assert.Equal(t, later, rec.RecognizedAt)
}

func TestReconcile_IdempotentForSameInput(t *testing.T) {
	store := mock.NewMockStore()
	store.AddMember(1, "Ana", database.MemberActive)
	r := NewReconciler(store)

	for range 3 {
		report := r.Reconcile(context.Background(), 5, []facematch.MatchResult{match(1, 0.8)}, t0)
		require.NoError(t, report.Err())
	}

	assert.Equal(t, 1, store.AttendanceCount())
	recs, err := store.ListAttendance(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, 0.8, recs[0].Confidence, 1e-9)
}

func TestReconcile_IndependentPartialFailure(t *testing.T) {
	store := mock.NewMockStore()
	store.AddMember(1, "Ana", database.MemberActive)
	r := NewReconciler(store)

	report := r.Reconcile(context.Background(), 7, []facematch.MatchResult{match(1, 0.9), match(2, 0.8)}, t0)

	assert.Equal(t, 1, report.RecordedCount)
	require.Len(t, report.Outcomes, 2)
	assert.True(t, report.Outcomes[0].Recorded)
	assert.False(t, report.Outcomes[1].Recorded)
	assert.ErrorIs(t, report.Outcomes[1].Err, database.ErrMemberNotFound)

	err := report.Err()
	require.ErrorIs(t, err, ErrPartialReconciliation)
	assert.ErrorIs(t, err, database.ErrMemberNotFound)
	var pf *PartialFailureError
	require.ErrorAs(t, err, &pf)
	require.Len(t, pf.Failed, 1)
	assert.Equal(t, int64(2), pf.Failed[0].MemberID)
	assert.Contains(t, err.Error(), "member 2")

	rec, _ := store.GetAttendance(context.Background(), 1, 7)
	assert.NotNil(t, rec)
}

func TestReconcile_StoreUnavailablePerMember(t *testing.T) {
	store := mock.NewMockStore()
	store.AddMember(1, "Ana", database.MemberActive)
	store.AddMember(2, "Ben", database.MemberActive)
	store.UpsertErrors[1] = database.Unavailable("upsert attendance", errors.New("timeout"))
	r := NewReconciler(store)

	report := r.Reconcile(context.Background(), 3, []facematch.MatchResult{match(1, 0.9), match(2, 0.9)}, t0)

	assert.Equal(t, 1, report.RecordedCount)
	assert.ErrorIs(t, report.Outcomes[0].Err, database.ErrStoreUnavailable)
	assert.True(t, report.Outcomes[1].Recorded)
	assert.Len(t, report.Recorded(), 1)
	assert.Len(t, report.Failed(), 1)
}

func TestReconcile_DirectoryRejectsInactiveMembers(t *testing.T) {
	store := mock.NewMockStore()
	store.AddMember(1, "Ana", database.MemberActive)
	store.AddMember(2, "Ben", database.MemberPending)
	r := NewReconciler(store, WithDirectory(store))

	report := r.Reconcile(context.Background(), 3, []facematch.MatchResult{match(1, 0.9), match(2, 0.9), match(3, 0.9)}, t0)

	assert.Equal(t, 1, report.RecordedCount)
	assert.ErrorIs(t, report.Outcomes[1].Err, ErrMemberInactive)
	assert.ErrorIs(t, report.Outcomes[2].Err, ErrMemberInactive)
	assert.Equal(t, 1, store.UpsertCalls)
}

func TestReconcile_InvalidMatchIsPerMemberFailure(t *testing.T) {
	store := mock.NewMockStore()
	store.AddMember(1, "Ana", database.MemberActive)
	r := NewReconciler(store)

	report := r.Reconcile(context.Background(), 3, []facematch.MatchResult{match(1, 1.5), match(1, 0.9)}, t0)

	assert.ErrorIs(t, report.Outcomes[0].Err, database.ErrInvalidRecord)
	assert.True(t, report.Outcomes[1].Recorded)
}

func TestReconcile_CancelledBeforeStartWritesNothing(t *testing.T) {
	store := mock.NewMockStore()
	store.AddMember(1, "Ana", database.MemberActive)
	r := NewReconciler(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := r.Reconcile(ctx, 3, []facematch.MatchResult{match(1, 0.9)}, t0)
	assert.Equal(t, 0, report.RecordedCount)
	assert.ErrorIs(t, report.Outcomes[0].Err, context.Canceled)
	assert.Equal(t, 0, store.UpsertCalls)
}

// cancellingStore cancels the caller's context while the write is in flight.
type cancellingStore struct {
	*mock.MockStore
	cancel context.CancelFunc
}

func (s *cancellingStore) UpsertAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	s.cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MockStore.UpsertAttendance(ctx, rec)
}

func TestReconcile_StartedUpsertRunsToCompletion(t *testing.T) {
	inner := mock.NewMockStore()
	inner.AddMember(1, "Ana", database.MemberActive)
	inner.AddMember(2, "Ben", database.MemberActive)

	ctx, cancel := context.WithCancel(context.Background())
	store := &cancellingStore{MockStore: inner, cancel: cancel}
	r := NewReconciler(store)

	report := r.Reconcile(ctx, 3, []facematch.MatchResult{match(1, 0.9), match(2, 0.9)}, t0)

	assert.True(t, report.Outcomes[0].Recorded, "in-flight upsert must complete")
	assert.ErrorIs(t, report.Outcomes[1].Err, context.Canceled)
	assert.Equal(t, 1, inner.AttendanceCount())
}

func TestReconcile_ConcurrentSightingsKeepOneRow(t *testing.T) {
	store := mock.NewMockStore()
	store.AddMember(42, "Ana", database.MemberActive)
	r := NewReconciler(store)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conf := 0.61 + float64(i)/100
			r.Reconcile(context.Background(), 7, []facematch.MatchResult{match(42, conf)}, t0.Add(time.Duration(i)*time.Second))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.AttendanceCount())
	assert.Equal(t, 20, store.UpsertCalls)
}

func TestReconcile_EmptyMatches(t *testing.T) {
	r := NewReconciler(mock.NewMockStore())
	report := r.Reconcile(context.Background(), 1, nil, t0)
	assert.Equal(t, 0, report.RecordedCount)
	assert.Empty(t, report.Outcomes)
	assert.NoError(t, report.Err())
}
