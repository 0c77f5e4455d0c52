package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alphabot-ai/hackorsnooze/internal/model"
	"github.com/alphabot-ai/hackorsnooze/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps shared-cache memory databases free of table locks.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: sessions
	`
CREATE TABLE IF NOT EXISTS sessions (
	id_hash TEXT PRIMARY KEY,
	username TEXT,
	token TEXT,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id_hash, username, token, created_at, expires_at)
VALUES (?, ?, ?, ?, ?)
`, sess.IDHash, nullIfEmpty(sess.Username), nullIfEmpty(sess.Token), sess.CreatedAt.Unix(), sess.ExpiresAt.Unix())
	return err
}

func (s *Store) GetSession(ctx context.Context, idHash string) (model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id_hash, username, token, created_at, expires_at
FROM sessions
WHERE id_hash = ?
`, idHash)
	var (
		sess      model.Session
		username  sql.NullString
		token     sql.NullString
		createdAt int64
		expiresAt int64
	)
	if err := row.Scan(&sess.IDHash, &username, &token, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, store.ErrNotFound
		}
		return model.Session{}, err
	}
	sess.Username = username.String
	sess.Token = token.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.ExpiresAt = time.Unix(expiresAt, 0)
	return sess, nil
}

func (s *Store) AttachUser(ctx context.Context, idHash, username, token string) error {
	return s.execOne(ctx, `UPDATE sessions SET username = ?, token = ? WHERE id_hash = ?`, username, token, idHash)
}

func (s *Store) DetachUser(ctx context.Context, idHash string) error {
	return s.execOne(ctx, `UPDATE sessions SET username = NULL, token = NULL WHERE id_hash = ?`, idHash)
}

func (s *Store) TouchSession(ctx context.Context, idHash string, expiresAt time.Time) error {
	return s.execOne(ctx, `UPDATE sessions SET expires_at = ? WHERE id_hash = ?`, expiresAt.Unix(), idHash)
}

func (s *Store) DeleteSession(ctx context.Context, idHash string) error {
	return s.execOne(ctx, `DELETE FROM sessions WHERE id_hash = ?`, idHash)
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
