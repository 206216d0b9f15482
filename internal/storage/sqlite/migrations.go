package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Manager handles schema versioning for the patch history database.
type Manager struct{}

const latestVersion = 2

func (m Manager) ensureTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`)
	if err != nil {
		return err
	}
	var cnt int
	_ = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&cnt)
	if cnt == 0 {
		_, err = db.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES(0)`)
	}
	return err
}

// Version returns the applied schema version, creating the bookkeeping
// table on first use.
func (m Manager) Version(ctx context.Context, db *sql.DB) (int, error) {
	if err := m.ensureTable(ctx, db); err != nil {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (m Manager) setVersion(ctx context.Context, db *sql.DB, v int) error {
	_, err := db.ExecContext(ctx, `UPDATE schema_migrations SET version=?`, v)
	return err
}

// UpToLatest applies migrations to reach latestVersion.
func (m Manager) UpToLatest(ctx context.Context, db *sql.DB) error {
	cur, err := m.Version(ctx, db)
	if err != nil {
		return err
	}
	for v := cur + 1; v <= latestVersion; v++ {
		if err := m.up(ctx, db, v); err != nil {
			return fmt.Errorf("migrate up to v%d: %w", v, err)
		}
		if err := m.setVersion(ctx, db, v); err != nil {
			return err
		}
	}
	return nil
}

// DownOne rolls back the last applied migration.
func (m Manager) DownOne(ctx context.Context, db *sql.DB) error {
	cur, err := m.Version(ctx, db)
	if err != nil {
		return err
	}
	if cur <= 0 {
		return nil
	}
	if err := m.down(ctx, db, cur); err != nil {
		return err
	}
	return m.setVersion(ctx, db, cur-1)
}

func (m Manager) up(ctx context.Context, db *sql.DB, v int) error {
	var stmts []string
	switch v {
	case 1:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS patches (
                id TEXT PRIMARY KEY,
                path TEXT NOT NULL,
                kind TEXT NOT NULL,
                edits TEXT,
                before_text TEXT NOT NULL,
                after_text TEXT NOT NULL,
                diff TEXT,
                applied INTEGER DEFAULT 0,
                skipped INTEGER DEFAULT 0,
                created INTEGER DEFAULT 0,
                created_at TEXT NOT NULL
            );`,
		}
	case 2:
		has, err := hasColumn(ctx, db, "patches", "rolled_back_at")
		if err != nil {
			return err
		}
		if !has {
			stmts = append(stmts, `ALTER TABLE patches ADD COLUMN rolled_back_at TEXT`)
		}
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_patches_path_created ON patches(path, created_at);`)
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("v%d step %d: %w", v, i, err)
		}
	}
	return nil
}

func (m Manager) down(ctx context.Context, db *sql.DB, v int) error {
	switch v {
	case 2:
		// dropping a column needs a table rebuild; keep the column, drop the index
		_, err := db.ExecContext(ctx, `DROP INDEX IF EXISTS idx_patches_path_created;`)
		return err
	case 1:
		return errors.New("down from v1 not supported")
	default:
		return fmt.Errorf("unknown migration version %d", v)
	}
}

func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
