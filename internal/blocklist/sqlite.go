package blocklist

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blocklist (
	id INTEGER PRIMARY KEY,
	domain TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_domain ON blocklist(domain);
`

// SQLite keeps the blocklist in one SQLite database. Every lookup goes
// through a single connection held under one lock.
type SQLite struct {
	mu sync.Mutex
	db *sql.DB
}

func OpenSQLite(uri string) (*SQLite, error) {
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", uri, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", uri, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blocklist schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) IsDomainBlocked(ctx context.Context, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM blocklist WHERE domain = ? LIMIT 1", domain).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("lookup %q: %w", domain, err)
	}
	return true, nil
}

func (s *SQLite) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return recreate(ctx, tx)
	})
}

func (s *SQLite) Load(ctx context.Context, r io.Reader) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) (err error) {
		n, err = insertDomains(ctx, tx, r)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Replace drops and refills the table inside one transaction.
func (s *SQLite) Replace(ctx context.Context, r io.Reader) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) (err error) {
		if err := recreate(ctx, tx); err != nil {
			return err
		}
		n, err = insertDomains(ctx, tx, r)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func recreate(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS blocklist"); err != nil {
		return fmt.Errorf("drop blocklist table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create blocklist schema: %w", err)
	}
	return nil
}

// insertDomains returns how many rows were actually added; duplicates are
// ignored.
func insertDomains(ctx context.Context, tx *sql.Tx, r io.Reader) (int, error) {
	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO blocklist (domain) VALUES (?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	err = scanDomains(r, func(domain string) error {
		res, err := stmt.ExecContext(ctx, domain)
		if err != nil {
			return fmt.Errorf("insert %q: %w", domain, err)
		}
		added, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert %q: %w", domain, err)
		}
		n += int(added)
		return nil
	})
	return n, err
}
