package facematch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"gonum.org/v1/gonum/floats"
)

// Neighbor is the closest enrolled member to a query vector.
type Neighbor struct {
	MemberID int64
	Distance float64
}

// RebuildStats summarizes one Rebuild.
type RebuildStats struct {
	Loaded   int           `json:"loaded"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

type indexEntry struct {
	memberID int64
	vector   []float64
}

// snapshot is immutable once published.
type snapshot struct {
	entries  []indexEntry
	position map[int64]int
	dim      int
}

func newSnapshot(capacity, dim int) *snapshot {
	return &snapshot{
		entries:  make([]indexEntry, 0, capacity),
		position: make(map[int64]int, capacity),
		dim:      dim,
	}
}

// clone copies the entry list; vectors are shared because they are never mutated.
func (s *snapshot) clone() *snapshot {
	next := newSnapshot(len(s.entries)+1, s.dim)
	next.entries = append(next.entries, s.entries...)
	for id, pos := range s.position {
		next.position[id] = pos
	}
	return next
}

// put adds or replaces a member's vector. A replaced member keeps its
// insertion position.
func (s *snapshot) put(memberID int64, v []float64) error {
	if s.dim == 0 {
		s.dim = len(v)
	}
	if len(v) != s.dim {
		return &database.DimensionMismatchError{Expected: s.dim, Actual: len(v)}
	}
	if pos, ok := s.position[memberID]; ok {
		s.entries[pos] = indexEntry{memberID: memberID, vector: v}
		return nil
	}
	s.position[memberID] = len(s.entries)
	s.entries = append(s.entries, indexEntry{memberID: memberID, vector: v})
	return nil
}

func (s *snapshot) without(memberID int64) *snapshot {
	next := newSnapshot(len(s.entries), s.dim)
	for _, e := range s.entries {
		if e.memberID == memberID {
			continue
		}
		next.position[e.memberID] = len(next.entries)
		next.entries = append(next.entries, e)
	}
	return next
}

// EmbeddingIndex is an in-memory nearest-neighbor index over the enrolled
// embeddings of active members.
//
// Readers never lock: every query works on the snapshot that was current when
// it started. Writers build a new snapshot and publish it with a single
// atomic store, so a query never observes a half-applied update.
type EmbeddingIndex struct {
	store   database.EmbeddingStore
	dim     int
	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
}

// NewEmbeddingIndex creates an empty index backed by store. When dim is
// positive every vector must have that length; otherwise the first vector
// fixes it.
func NewEmbeddingIndex(store database.EmbeddingStore, dim int) *EmbeddingIndex {
	ix := &EmbeddingIndex{store: store, dim: dim}
	ix.current.Store(newSnapshot(0, dim))
	return ix
}

// Rebuild reloads all active embeddings from the store and swaps them in.
// Unreadable rows are skipped with a warning. If the store fails the
// previous contents stay in place.
func (ix *EmbeddingIndex) Rebuild(ctx context.Context) (RebuildStats, error) {
	if ix.store == nil {
		return RebuildStats{}, errors.New("embedding index has no store")
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	start := time.Now()
	rows, err := ix.store.LoadActiveEmbeddings(ctx)
	if err != nil {
		return RebuildStats{}, fmt.Errorf("rebuilding embedding index: %w", err)
	}

	next := newSnapshot(len(rows), ix.dim)
	var stats RebuildStats
	for _, row := range rows {
		emb, err := row.Decode()
		if err == nil {
			err = next.put(emb.MemberID, emb.Vector)
		}
		if err != nil {
			stats.Skipped++
			logger.FromContext(ctx).WithFields(logger.Fields{
				logger.FieldMemberID: row.MemberID,
			}).WithError(err).Warn("skipping unreadable embedding during index rebuild")
			continue
		}
		stats.Loaded++
	}

	ix.current.Store(next)
	stats.Duration = time.Since(start)
	return stats, nil
}

// Upsert adds or replaces one member's vector without a full rebuild.
func (ix *EmbeddingIndex) Upsert(memberID int64, v database.Vector) error {
	if memberID <= 0 {
		return fmt.Errorf("%w: member id must be positive, got %d", database.ErrInvalidRecord, memberID)
	}
	if err := v.Validate(); err != nil {
		return err
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	next := ix.current.Load().clone()
	if err := next.put(memberID, v.Clone()); err != nil {
		return err
	}
	ix.current.Store(next)
	return nil
}

// Remove drops a member from the index. Removing an unknown member is a no-op.
func (ix *EmbeddingIndex) Remove(memberID int64) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	cur := ix.current.Load()
	if _, ok := cur.position[memberID]; !ok {
		return
	}
	ix.current.Store(cur.without(memberID))
}

// Nearest returns the enrolled vector closest to query by Euclidean
// distance. Ties go to the entry inserted first. It returns false when the
// index is empty or the query length does not match.
func (ix *EmbeddingIndex) Nearest(query database.Vector) (Neighbor, bool) {
	s := ix.current.Load()
	if len(s.entries) == 0 || len(query) != s.dim {
		return Neighbor{}, false
	}

	best := Neighbor{MemberID: s.entries[0].memberID, Distance: floats.Distance(query, s.entries[0].vector, 2)}
	for _, e := range s.entries[1:] {
		if d := floats.Distance(query, e.vector, 2); d < best.Distance {
			best = Neighbor{MemberID: e.memberID, Distance: d}
		}
	}
	return best, true
}

// Len returns the number of members in the current snapshot.
func (ix *EmbeddingIndex) Len() int {
	return len(ix.current.Load().entries)
}

// Dim returns the vector length of the current snapshot, 0 when unknown.
func (ix *EmbeddingIndex) Dim() int {
	return ix.current.Load().dim
}

// Contains reports whether the member is in the current snapshot.
func (ix *EmbeddingIndex) Contains(memberID int64) bool {
	_, ok := ix.current.Load().position[memberID]
	return ok
}

// MemberIDs returns member ids in insertion order.
func (ix *EmbeddingIndex) MemberIDs() []int64 {
	s := ix.current.Load()
	ids := make([]int64, len(s.entries))
	for i, e := range s.entries {
		ids[i] = e.memberID
	}
	return ids
}
