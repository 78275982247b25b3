package facematch

import (
	"math"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)

// fixedSearcher returns a canned neighbor for every query.
type fixedSearcher struct {
	nb Neighbor
	ok bool
}

func (f fixedSearcher) Nearest(database.Vector) (Neighbor, bool) {
	return f.nb, f.ok
}

func TestNewMatcher_Validation(t *testing.T) {
	ix := NewEmbeddingIndex(nil, 0)

	_, err := NewMatcher(nil, 0.6)
	assert.Error(t, err)

	for _, th := range []float64{-0.1, 1, 1.5, math.NaN()} {
		_, err := NewMatcher(ix, th)
		assert.Error(t, err, "threshold %v", th)
	}

	m, err := NewMatcher(ix, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, 0.6, m.Threshold())
}

func TestMatcher_ThresholdIsStrict(t *testing.T) {
	distance := 0.4
	threshold := 1 - distance

	m, err := NewMatcher(fixedSearcher{nb: Neighbor{MemberID: 9, Distance: distance}, ok: true}, threshold)
	require.NoError(t, err)
	assert.Empty(t, m.Match([]database.Vector{{0}}), "confidence equal to threshold must be rejected")

	closer := distance - 1e-9
	m, err = NewMatcher(fixedSearcher{nb: Neighbor{MemberID: 9, Distance: closer}, ok: true}, threshold)
	require.NoError(t, err)
	results := m.Match([]database.Vector{{0}})
	require.Len(t, results, 1, "confidence just above threshold must be accepted")
	assert.Equal(t, int64(9), results[0].MemberID)
	assert.Greater(t, results[0].Confidence, threshold)
}

func TestMatcher_EmptyIndexMatchesNothing(t *testing.T) {
	m, err := NewMatcher(NewEmbeddingIndex(nil, 0), 0)
	require.NoError(t, err)

	assert.Empty(t, m.Match([]database.Vector{{0}, {1, 2}, {0.5, 0.5, 0.5}}))
	assert.Empty(t, m.Match(nil))
}

func TestMatcher_ConfidenceFromDistance(t *testing.T) {
	ix := NewEmbeddingIndex(nil, 1)
	require.NoError(t, ix.Upsert(42, database.Vector{0}))

	m, err := NewMatcher(ix, DefaultThreshold)
	require.NoError(t, err)

	results := m.Match([]database.Vector{{0.30}, {0.55}})
	require.Len(t, results, 1)
	assert.Equal(t, int64(42), results[0].MemberID)
	assert.InDelta(t, 0.70, results[0].Confidence, 1e-9)
	assert.InDelta(t, 0.30, results[0].Distance, 1e-9)
}

func TestMatcher_PassesThroughDuplicateMembers(t *testing.T) {
	ix := NewEmbeddingIndex(nil, 2)
	require.NoError(t, ix.Upsert(1, database.Vector{0, 0}))
	require.NoError(t, ix.Upsert(2, database.Vector{5, 5}))

	m, err := NewMatcher(ix, DefaultThreshold)
	require.NoError(t, err)

	results := m.Match([]database.Vector{{0.1, 0}, {5, 5}, {0, 0.2}})
	require.Len(t, results, 3)
	assert.Equal(t, int64(1), results[0].MemberID)
	assert.Equal(t, int64(2), results[1].MemberID)
	assert.Equal(t, int64(1), results[2].MemberID)
}

func TestMatcher_IsRepeatable(t *testing.T) {
	ix := NewEmbeddingIndex(nil, 1)
	require.NoError(t, ix.Upsert(3, database.Vector{0}))
	m, err := NewMatcher(ix, DefaultThreshold)
	require.NoError(t, err)

	first := m.Match([]database.Vector{{0.1}})
	second := m.Match([]database.Vector{{0.1}})
	assert.Equal(t, first, second)
	assert.Equal(t, 1, ix.Len())
}

func TestConfidence_Clamped(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(1.7))
	assert.Equal(t, 1.0, Confidence(0))
	assert.Equal(t, 1.0, Confidence(-0.5))
}

func TestNewMatchResult(t *testing.T) {
	_, err := NewMatchResult(0, 0.7, 0.3)
	assert.ErrorIs(t, err, database.ErrInvalidRecord)
	_, err = NewMatchResult(1, 1.2, 0)
	assert.ErrorIs(t, err, database.ErrInvalidRecord)
	r, err := NewMatchResult(1, 0.7, 0.3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.MemberID)
}
