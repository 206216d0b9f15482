package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"codeassist/internal/models"
	sqlm "codeassist/internal/storage/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and migrates it
// to the latest schema.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := (sqlm.Manager{}).UpToLatest(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for migration commands.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// WithTx commits on nil error and rolls back otherwise.
func (s *SQLiteStore) WithTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SavePatch(p *models.Patch) (*models.Patch, error) {
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	err := s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO patches(id,path,kind,edits,before_text,after_text,diff,applied,skipped,created,created_at)
            VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
			cp.ID, cp.Path, string(cp.Kind), cp.Edits, cp.Before, cp.After, cp.Diff,
			cp.Applied, cp.Skipped, boolInt(cp.Created), cp.CreatedAt.UTC().Format(timeLayout))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save patch: %w", err)
	}
	return &cp, nil
}

// fixed width so created_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const patchColumns = `id,path,kind,edits,before_text,after_text,diff,applied,skipped,created,created_at,rolled_back_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPatch(row scanner) (*models.Patch, error) {
	var (
		p                 models.Patch
		kind, created     string
		edits, diff, rbAt sql.NullString
		isCreated         int
	)
	if err := row.Scan(&p.ID, &p.Path, &kind, &edits, &p.Before, &p.After, &diff, &p.Applied, &p.Skipped, &isCreated, &created, &rbAt); err != nil {
		return nil, err
	}
	p.Kind = models.PatchKind(kind)
	p.Edits = edits.String
	p.Diff = diff.String
	p.Created = isCreated != 0
	if t, err := time.Parse(timeLayout, created); err == nil {
		p.CreatedAt = t
	}
	if rbAt.Valid && rbAt.String != "" {
		if t, err := time.Parse(timeLayout, rbAt.String); err == nil {
			p.RolledBackAt = &t
		}
	}
	return &p, nil
}

func (s *SQLiteStore) GetPatch(id string) (*models.Patch, error) {
	p, err := scanPatch(s.db.QueryRow(`SELECT `+patchColumns+` FROM patches WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) ListPatches(path string, limit int) ([]*models.Patch, error) {
	q := `SELECT ` + patchColumns + ` FROM patches`
	var args []any
	if path != "" {
		q += ` WHERE path=?`
		args = append(args, path)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Patch{}
	for rows.Next() {
		p, err := scanPatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkRolledBack(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE patches SET rolled_back_at=? WHERE id=?`, at.UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
