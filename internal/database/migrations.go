package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// ErrMigrationDrift is returned when an applied migration file has been
// edited after it ran.
var ErrMigrationDrift = errors.New("migration changed after it was applied")

// Migration is one embedded schema file.
type Migration struct {
	Version  string
	Checksum string
	SQL      string
}

// Migrator is implemented by SQL backends that track applied schema files.
type Migrator interface {
	AppliedMigrations(ctx context.Context) ([]string, error)
}

// LoadMigrations reads every .sql file in dir, ordered by file name.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		migrations = append(migrations, Migration{
			Version:  e.Name(),
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(content),
		})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// PendingMigrations returns the migrations missing from applied, which maps
// version to recorded checksum. An empty recorded checksum is accepted for
// rows written before checksums were tracked.
func PendingMigrations(all []Migration, applied map[string]string) ([]Migration, error) {
	var pending []Migration
	for _, m := range all {
		sum, ok := applied[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if sum != "" && sum != m.Checksum {
			return nil, fmt.Errorf("%s: %w", m.Version, ErrMigrationDrift)
		}
	}
	return pending, nil
}

// SplitStatements splits a migration file on statement terminators for
// drivers that run one statement per Exec.
func SplitStatements(content string) []string {
	var stmts []string
	for _, s := range strings.Split(content, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
