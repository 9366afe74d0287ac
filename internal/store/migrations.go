package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion is recorded in meta on first bootstrap.
const SchemaVersion = "1"

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Databases created before the lookup index existed resolve external
	// ids with a table scan.
	if err := s.migrateExternalLookupIndex(); err != nil {
		return fmt.Errorf("migrating external_id lookup index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS category (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS person (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			kana       TEXT,
			birth_year INTEGER,
			death_year INTEGER,
			note       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_person_name ON person(name)`,

		`CREATE TABLE IF NOT EXISTS work (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			category_id INTEGER REFERENCES category(id),
			title       TEXT NOT NULL,
			year        INTEGER,
			subtype     TEXT,
			summary     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_title ON work(title)`,

		`CREATE TABLE IF NOT EXISTS credit (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			work_id   INTEGER NOT NULL REFERENCES work(id) ON DELETE CASCADE,
			person_id INTEGER NOT NULL REFERENCES person(id) ON DELETE CASCADE,
			role      TEXT NOT NULL,
			character TEXT,
			note      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_work_person_role ON credit(work_id, person_id, role)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_person ON credit(person_id)`,

		`CREATE TABLE IF NOT EXISTS alias (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type TEXT NOT NULL CHECK(entity_type IN ('person','work')),
			entity_id   INTEGER NOT NULL,
			name        TEXT NOT NULL,
			UNIQUE(entity_type, entity_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS external_id (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type TEXT NOT NULL CHECK(entity_type IN ('person','work')),
			entity_id   INTEGER NOT NULL,
			source      TEXT NOT NULL,
			value       TEXT NOT NULL,
			url         TEXT,
			UNIQUE(entity_type, entity_id, source)
		)`,

		`CREATE TABLE IF NOT EXISTS unified_work (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS unified_work_member (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			unified_work_id INTEGER NOT NULL REFERENCES unified_work(id) ON DELETE CASCADE,
			work_id         INTEGER NOT NULL REFERENCES work(id) ON DELETE CASCADE,
			relation        TEXT,
			UNIQUE(unified_work_id, work_id)
		)`,

		// Japanese has no word spacing, so the index is trigram based.
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts USING fts5(
			kind UNINDEXED,
			ref_id UNINDEXED,
			text,
			tokenize='trigram'
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": SchemaVersion,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range defaults {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrateExternalLookupIndex() error {
	done, err := s.isMetaFlagEnabled("external_lookup_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_external_lookup ON external_id(entity_type, source, value)`); err != nil {
		return fmt.Errorf("creating external lookup index: %w", err)
	}
	return s.setMetaFlag("external_lookup_v1")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
