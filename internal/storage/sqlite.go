package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteBackend struct {
	db *sql.DB
}

func openSQLite(cfg Config) (backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	b := &sqliteBackend{db: db}
	if err := b.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (s *sqliteBackend) migrate(ctx context.Context) error {
	q, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(q))
	return err
}

func (s *sqliteBackend) column(ctx context.Context, col, name string) ([]byte, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT `+col+` FROM documents WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(body) == 0 {
		return nil, false, nil
	}
	return body, true, nil
}

func (s *sqliteBackend) get(ctx context.Context, name string) ([]byte, bool, error) {
	return s.column(ctx, "body", name)
}

func (s *sqliteBackend) getBackup(ctx context.Context, name string) ([]byte, bool, error) {
	return s.column(ctx, "backup", name)
}

func (s *sqliteBackend) put(ctx context.Context, name string, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(name, body, backup, updated_at) VALUES(?, ?, NULL, ?)
		 ON CONFLICT(name) DO UPDATE SET backup = documents.body, body = excluded.body, updated_at = excluded.updated_at`,
		name, body, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteBackend) remove(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE name = ?`, name)
	return err
}

func (s *sqliteBackend) quarantine(ctx context.Context, name string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO quarantine(name, body, created_at) SELECT name, body, ? FROM documents WHERE name = ?`,
		time.Now().UnixMilli(), name,
	)
	if err != nil {
		return "", err
	}
	id, _ := res.LastInsertId()
	// Keep the backup column so the fallback load can still read it.
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET body = x'' WHERE name = ?`, name); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return fmt.Sprintf("quarantine#%d", id), nil
}

func (s *sqliteBackend) close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
