// Package store provides the SQLite knowledge base for mediakb.
//
// Everything lives in a single SQLite file:
// - persons, works and their categories
// - credits linking persons to works with a role
// - aliases and external ids for both entity kinds
// - unified work groups
// - an FTS5 trigram index over person, work and credit text
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.mediakb/media.db"

// Entity kinds used by alias, external_id and fts rows.
const (
	EntityPerson = "person"
	EntityWork   = "work"
	EntityCredit = "credit"
)

var (
	// ErrNotFound is returned by detail lookups for a missing id.
	ErrNotFound = errors.New("not found")
	// ErrDBNotFound is returned when an existing database is required.
	ErrDBNotFound = errors.New("database not found")
)

// Person is a person row.
type Person struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Kana      string `json:"kana,omitempty"`
	BirthYear int    `json:"birth_year,omitempty"`
	DeathYear int    `json:"death_year,omitempty"`
	Note      string `json:"note,omitempty"`
}

// Work is a work row with its category name resolved.
type Work struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Year     int    `json:"year,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// ExternalID is a cross reference to a source site.
type ExternalID struct {
	Source string `json:"source"`
	Value  string `json:"value"`
	URL    string `json:"url,omitempty"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
	Logger *zap.Logger
}

// SQLiteStore is the knowledge base.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *zap.Logger
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewStore opens (creating if needed) the database and applies the schema.
// Pass ":memory:" for an in-memory database.
func NewStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ExpandPath(DefaultDBPath)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath, log: cfg.Logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// connPragmas are applied to every pooled connection through the DSN.
var connPragmas = []string{"journal_mode(WAL)", "foreign_keys(1)", "busy_timeout(5000)"}

func dsn(path string) string {
	q := make([]string, 0, len(connPragmas))
	for _, p := range connPragmas {
		q = append(q, "_pragma="+p)
	}
	return path + "?" + strings.Join(q, "&")
}

func openDB(path string) (*sql.DB, error) {
	if path == ":memory:" {
		return openMemoryDB()
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// openMemoryDB pins the pool to one connection; each connection would
// otherwise see its own empty database.
func openMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, p := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}
	return db, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// withTx runs fn in one transaction, rolling back on any error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
