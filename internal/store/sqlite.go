package store

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

//go:embed migrations/*.sql
var migrations embed.FS

// iteratorPage bounds how many rows an iterator pulls per query.
const iteratorPage = 64

// Store wraps the SQLite database holding the chain state.
type Store struct {
	DB       *sql.DB
	StateDir string
}

// Open opens the SQLite database located under stateDir and runs migrations.
func Open(ctx context.Context, stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	dbPath := filepath.Join(stateDir, "chain.sqlite")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer; the host already serializes
	// transactions, so a single connection keeps WAL and busy_timeout
	// applied consistently.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	timeout := int((3 * time.Second) / time.Millisecond)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", timeout)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		DB:       db,
		StateDir: stateDir,
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set key: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

// Iterator pages through the range with keyset pagination so the single
// connection is never held between reads.
func (s *Store) Iterator(ctx context.Context, start, end []byte, order Order) (Iterator, error) {
	it := &sqliteIterator{ctx: ctx, db: s.DB, start: start, end: end, order: order}
	it.fetch()
	return it, it.err
}

type sqliteIterator struct {
	ctx   context.Context
	db    *sql.DB
	start []byte
	end   []byte
	order Order

	page    *sliceIterator
	lastKey []byte
	done    bool
	err     error
}

func (it *sqliteIterator) fetch() {
	var (
		conds []string
		args  []any
	)
	if it.order == Ascending {
		if it.lastKey != nil {
			conds, args = append(conds, "key > ?"), append(args, it.lastKey)
		} else if it.start != nil {
			conds, args = append(conds, "key >= ?"), append(args, it.start)
		}
		if it.end != nil {
			conds, args = append(conds, "key < ?"), append(args, it.end)
		}
	} else {
		if it.lastKey != nil {
			conds, args = append(conds, "key < ?"), append(args, it.lastKey)
		} else if it.end != nil {
			conds, args = append(conds, "key < ?"), append(args, it.end)
		}
		if it.start != nil {
			conds, args = append(conds, "key >= ?"), append(args, it.start)
		}
	}
	query := "SELECT key, value FROM kv"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if it.order == Ascending {
		query += " ORDER BY key ASC"
	} else {
		query += " ORDER BY key DESC"
	}
	query += " LIMIT ?"
	args = append(args, iteratorPage)

	rows, err := it.db.QueryContext(it.ctx, query, args...)
	if err != nil {
		it.err = fmt.Errorf("range keys: %w", err)
		it.done = true
		it.page = &sliceIterator{}
		return
	}
	defer rows.Close()
	page := &sliceIterator{}
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			it.err = fmt.Errorf("scan key: %w", err)
			break
		}
		page.keys = append(page.keys, k)
		page.values = append(page.values, v)
	}
	if err := rows.Err(); err != nil && it.err == nil {
		it.err = err
	}
	if len(page.keys) < iteratorPage || it.err != nil {
		it.done = true
	}
	if n := len(page.keys); n > 0 {
		it.lastKey = page.keys[n-1]
	}
	it.page = page
}

func (it *sqliteIterator) Valid() bool {
	return it.page.Valid()
}

func (it *sqliteIterator) Next() {
	it.page.Next()
	if !it.page.Valid() && !it.done {
		it.fetch()
	}
}

func (it *sqliteIterator) Key() []byte   { return it.page.Key() }
func (it *sqliteIterator) Value() []byte { return it.page.Value() }
func (it *sqliteIterator) Error() error  { return it.err }
func (it *sqliteIterator) Close() error  { return nil }

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	type mig struct {
		Version string
		SQL     string
	}
	entries := []mig{
		{Version: "0001_kv", SQL: mustReadMigration("migrations/0001_kv.sql")},
		{Version: "0002_blocks", SQL: mustReadMigration("migrations/0002_blocks.sql")},
	}
	for _, entry := range entries {
		applied, err := isMigrationApplied(ctx, db, entry.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if _, err := db.ExecContext(ctx, entry.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`,
			entry.Version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Version, err)
		}
	}
	return nil
}

func isMigrationApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return count > 0, nil
}

func mustReadMigration(path string) string {
	data, err := migrations.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("read migration %s: %v", path, err))
	}
	return string(data)
}
