package store

import (
	"errors"
	"time"

	"codeassist/internal/models"
)

var ErrNotFound = errors.New("patch not found")

// Repository is the patch history backend. Store (memory) and SQLiteStore
// both satisfy it.
type Repository interface {
	SavePatch(p *models.Patch) (*models.Patch, error)
	GetPatch(id string) (*models.Patch, error)
	// ListPatches returns newest first. An empty path lists every file;
	// limit <= 0 means no limit.
	ListPatches(path string, limit int) ([]*models.Patch, error)
	MarkRolledBack(id string, at time.Time) error
	Close() error
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*SQLiteStore)(nil)
)

// Open returns a SQLite-backed repository for path, or an in-memory one when
// path is empty.
func Open(path string) (Repository, error) {
	if path == "" {
		return New(), nil
	}
	return NewSQLite(path)
}
