package facematch

import (
	"fmt"
	"math"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// DefaultThreshold is the minimum confidence a match must exceed.
const DefaultThreshold = 0.6

// Searcher finds the nearest enrolled member for a vector.
type Searcher interface {
	Nearest(query database.Vector) (Neighbor, bool)
}

// MatchResult is one accepted recognition of a detected face.
type MatchResult struct {
	MemberID   int64   `json:"member_id"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
}

// NewMatchResult validates a match.
func NewMatchResult(memberID int64, confidence, distance float64) (MatchResult, error) {
	if memberID <= 0 {
		return MatchResult{}, fmt.Errorf("%w: member id must be positive, got %d", database.ErrInvalidRecord, memberID)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return MatchResult{}, fmt.Errorf("%w: confidence %v outside [0, 1]", database.ErrInvalidRecord, confidence)
	}
	return MatchResult{MemberID: memberID, Confidence: confidence, Distance: distance}, nil
}

// Confidence converts a distance into a confidence in [0, 1].
func Confidence(distance float64) float64 {
	c := 1 - distance
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Matcher applies the confidence policy to nearest-neighbor lookups.
// It has no side effects.
type Matcher struct {
	index     Searcher
	threshold float64
}

// NewMatcher creates a matcher. threshold must be in [0, 1).
func NewMatcher(index Searcher, threshold float64) (*Matcher, error) {
	if index == nil {
		return nil, fmt.Errorf("matcher requires an index")
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in [0, 1), got %v", threshold)
	}
	return &Matcher{index: index, threshold: threshold}, nil
}

// Threshold returns the configured confidence threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match returns one result per detected vector whose best candidate has a
// confidence strictly above the threshold, in input order.
//
// Results are not deduplicated: when two faces in one frame both match the
// same member, both results are returned.
func (m *Matcher) Match(vectors []database.Vector) []MatchResult {
	var results []MatchResult
	for _, v := range vectors {
		nb, ok := m.index.Nearest(v)
		if !ok {
			continue
		}
		conf := Confidence(nb.Distance)
		if conf <= m.threshold {
			continue
		}
		res, err := NewMatchResult(nb.MemberID, conf, nb.Distance)
		if err != nil {
			continue
		}
		results = append(results, res)
	}
	return results
}
