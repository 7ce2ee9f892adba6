package vram

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps profiles in a SQLite database shared by every worker
// process on a host. The ratchet is a single conditional upsert, so
// concurrent writers cannot lose a higher peak.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS vram_profiles (
  app TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  peak_bytes INTEGER NOT NULL,
  updated_at DATETIME NOT NULL,
  PRIMARY KEY (app, fingerprint)
);
`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, app, fingerprint string) (uint64, bool, error) {
	var peak int64
	err := s.db.QueryRowContext(ctx,
		"SELECT peak_bytes FROM vram_profiles WHERE app=? AND fingerprint=?;", app, fingerprint).Scan(&peak)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load profile: %w", err)
	}
	return uint64(peak), true, nil
}

func (s *SQLiteStore) Ratchet(ctx context.Context, app, fingerprint string, peak uint64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO vram_profiles(app, fingerprint, peak_bytes, updated_at) VALUES(?, ?, ?, ?)
ON CONFLICT(app, fingerprint) DO UPDATE SET
  peak_bytes = excluded.peak_bytes,
  updated_at = excluded.updated_at
WHERE excluded.peak_bytes > vram_profiles.peak_bytes;
`, app, fingerprint, int64(peak), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("ratchet profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
