package facematch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Snapshot file layout, little-endian:
//
//	[4]byte magic "FIX1"
//	uint32  entry count
//	per entry: int64 member id, uint32 n, n bytes of database.EncodeVector output
var snapshotMagic = [4]byte{'F', 'I', 'X', '1'}

// maxEncodedVector is the largest encoded vector a snapshot may hold.
const maxEncodedVector = 8 + 8*(1<<16)

// SaveSnapshot writes the current contents to path. The file is written to a
// temporary name first and renamed into place.
func (ix *EmbeddingIndex) SaveSnapshot(path string) error {
	if path == "" {
		return nil
	}
	s := ix.current.Load()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating index snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	w := bufio.NewWriter(tmp)
	if err := writeSnapshot(w, s); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing index snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing index snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing index snapshot: %w", err)
	}
	return nil
}

func writeSnapshot(w io.Writer, s *snapshot) error {
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.entries))); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}
	for _, e := range s.entries {
		data, err := database.EncodeVector(e.vector)
		if err != nil {
			return fmt.Errorf("encoding member %d: %w", e.memberID, err)
		}
		if err := binary.Write(w, binary.LittleEndian, e.memberID); err != nil {
			return fmt.Errorf("writing member %d: %w", e.memberID, err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
			return fmt.Errorf("writing member %d: %w", e.memberID, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing member %d: %w", e.memberID, err)
		}
	}
	return nil
}

// LoadSnapshot replaces the index contents with the file at path. A missing
// file is not an error and leaves the index untouched; it returns the number
// of loaded members.
func (ix *EmbeddingIndex) LoadSnapshot(path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading index snapshot: %w", err)
	}

	next, err := readSnapshot(bytes.NewReader(data), ix.dim)
	if err != nil {
		return 0, fmt.Errorf("loading index snapshot %s: %w", path, err)
	}

	ix.writeMu.Lock()
	ix.current.Store(next)
	ix.writeMu.Unlock()
	return len(next.entries), nil
}

// WarmStartStats describes a WarmStart run.
type WarmStartStats struct {
	FromSnapshot int
	RebuildStats
	SnapshotSaved bool
}

// WarmStart loads the snapshot at path and then rebuilds from the store,
// whose contents always replace whatever the file held. The snapshot is
// rewritten only after the rebuild succeeds. An unreadable snapshot is
// reported through snapErr and does not stop the rebuild.
func (ix *EmbeddingIndex) WarmStart(ctx context.Context, path string) (stats WarmStartStats, snapErr, err error) {
	if path != "" {
		stats.FromSnapshot, snapErr = ix.LoadSnapshot(path)
	}

	stats.RebuildStats, err = ix.Rebuild(ctx)
	if err != nil {
		return stats, snapErr, err
	}
	if path != "" {
		if saveErr := ix.SaveSnapshot(path); saveErr != nil {
			snapErr = errors.Join(snapErr, saveErr)
		} else {
			stats.SnapshotSaved = true
		}
	}
	return stats, snapErr, nil
}

func readSnapshot(r io.Reader, dim int) (*snapshot, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", database.ErrCorruptEmbedding, err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("%w: unknown snapshot header %q", database.ErrCorruptEmbedding, magic[:])
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: reading count: %v", database.ErrCorruptEmbedding, err)
	}

	next := newSnapshot(0, dim)
	for i := range count {
		var memberID int64
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &memberID); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", database.ErrCorruptEmbedding, i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", database.ErrCorruptEmbedding, i, err)
		}
		if n > maxEncodedVector {
			return nil, fmt.Errorf("%w: entry %d: %d bytes exceeds limit", database.ErrCorruptEmbedding, i, n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", database.ErrCorruptEmbedding, i, err)
		}
		v, err := database.DecodeVector(buf)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		if err := next.put(memberID, v); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return next, nil
}
