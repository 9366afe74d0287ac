package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hurttlocker/mediakb/internal/payload"
)

// DefaultRelation labels unified members added without one.
const DefaultRelation = "related"

// ExternalRef identifies an entity on a source site.
type ExternalRef struct {
	Source string
	Value  string
}

// WorkInput describes a work to resolve or create.
type WorkInput struct {
	Title    string
	Category string
	Year     int
	Subtype  string
	Summary  string
	// External, when set, is resolved before the title.
	External *ExternalRef
}

// GetOrCreatePerson returns the id of the person with exactly name,
// inserting one if absent.
func (s *SQLiteStore) GetOrCreatePerson(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, _, err = getOrCreatePerson(ctx, tx, name)
		return err
	})
	return id, err
}

// GetOrCreateWork resolves a work by external id, then exact title, then
// inserts it.
func (s *SQLiteStore) GetOrCreateWork(ctx context.Context, in WorkInput) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, _, err = getOrCreateWork(ctx, tx, in)
		return err
	})
	return id, err
}

// CreateCredit returns the id of the (work, person, role, character) credit,
// inserting it only when no such row exists.
func (s *SQLiteStore) CreateCredit(ctx context.Context, workID, personID int64, role, character string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, _, err = createCredit(ctx, tx, workID, personID, role, character)
		return err
	})
	return id, err
}

// AddAlias binds name to an entity, ignoring duplicates.
func (s *SQLiteStore) AddAlias(ctx context.Context, entityType string, entityID int64, name string) error {
	_, err := addAlias(ctx, s.db, entityType, entityID, name)
	return err
}

// AddExternalID records a source-site id for an entity, ignoring
// duplicates.
func (s *SQLiteStore) AddExternalID(ctx context.Context, entityType string, entityID int64, source, value, url string) error {
	_, err := addExternalID(ctx, s.db, entityType, entityID, source, value, url)
	return err
}

// UnifyWork adds workID to the named group, creating the group if needed.
func (s *SQLiteStore) UnifyWork(ctx context.Context, group string, workID int64, relation string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := unifyWork(ctx, tx, group, workID, relation)
		return err
	})
}

func getOrCreateCategory(ctx context.Context, q querier, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM category WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up category %q: %w", name, err)
	}
	res, err := q.ExecContext(ctx, `INSERT INTO category(name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("inserting category %q: %w", name, err)
	}
	return res.LastInsertId()
}

func getOrCreatePerson(ctx context.Context, q querier, name string) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM person WHERE name = ? ORDER BY id LIMIT 1`, name).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("looking up person %q: %w", name, err)
	}
	res, err := q.ExecContext(ctx, `INSERT INTO person(name) VALUES (?)`, name)
	if err != nil {
		return 0, false, fmt.Errorf("inserting person %q: %w", name, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	if err := insertFTS(ctx, q, EntityPerson, id, name); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func findByExternal(ctx context.Context, q querier, entityType string, ref ExternalRef) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT entity_id FROM external_id WHERE entity_type = ? AND source = ? AND value = ? ORDER BY entity_id LIMIT 1`,
		entityType, ref.Source, ref.Value,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up %s external id %s=%s: %w", entityType, ref.Source, ref.Value, err)
	}
	return id, true, nil
}

func getOrCreateWork(ctx context.Context, q querier, in WorkInput) (int64, bool, error) {
	if in.External != nil && in.External.Source != "" && in.External.Value != "" {
		id, ok, err := findByExternal(ctx, q, EntityWork, *in.External)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return id, false, nil
		}
	}

	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM work WHERE title = ? ORDER BY id LIMIT 1`, in.Title).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("looking up work %q: %w", in.Title, err)
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = payload.DefaultCategory
	}
	catID, err := getOrCreateCategory(ctx, q, category)
	if err != nil {
		return 0, false, err
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO work(category_id, title, year, subtype, summary) VALUES (?, ?, ?, ?, ?)`,
		catID, in.Title, nullInt(in.Year), nullString(in.Subtype), nullString(in.Summary),
	)
	if err != nil {
		return 0, false, fmt.Errorf("inserting work %q: %w", in.Title, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	if err := insertFTS(ctx, q, EntityWork, id, joinText(in.Title, in.Summary)); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func createCredit(ctx context.Context, q querier, workID, personID int64, role, character string) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM credit
		 WHERE work_id = ? AND person_id = ? AND role = ? AND COALESCE(character, '') = ?
		 ORDER BY id LIMIT 1`,
		workID, personID, role, character,
	).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("looking up credit: %w", err)
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO credit(work_id, person_id, role, character) VALUES (?, ?, ?, ?)`,
		workID, personID, role, nullString(character),
	)
	if err != nil {
		return 0, false, fmt.Errorf("inserting credit: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	if err := insertFTS(ctx, q, EntityCredit, id, joinText(character, role)); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func addAlias(ctx context.Context, q querier, entityType string, entityID int64, name string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO alias(entity_type, entity_id, name) VALUES (?, ?, ?)`,
		entityType, entityID, name,
	)
	if err != nil {
		return false, fmt.Errorf("adding alias %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func addExternalID(ctx context.Context, q querier, entityType string, entityID int64, source, value, url string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO external_id(entity_type, entity_id, source, value, url) VALUES (?, ?, ?, ?, ?)`,
		entityType, entityID, source, value, nullString(url),
	)
	if err != nil {
		return false, fmt.Errorf("adding external id %s=%s: %w", source, value, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func unifyWork(ctx context.Context, q querier, group string, workID int64, relation string) (bool, error) {
	if relation == "" {
		relation = DefaultRelation
	}
	var groupID int64
	err := q.QueryRowContext(ctx, `SELECT id FROM unified_work WHERE name = ?`, group).Scan(&groupID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := q.ExecContext(ctx, `INSERT INTO unified_work(name) VALUES (?)`, group)
		if err != nil {
			return false, fmt.Errorf("inserting unified work %q: %w", group, err)
		}
		if groupID, err = res.LastInsertId(); err != nil {
			return false, err
		}
	case err != nil:
		return false, fmt.Errorf("looking up unified work %q: %w", group, err)
	}

	res, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO unified_work_member(unified_work_id, work_id, relation) VALUES (?, ?, ?)`,
		groupID, workID, relation,
	)
	if err != nil {
		return false, fmt.Errorf("adding unified member: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func insertFTS(ctx context.Context, q querier, kind string, refID int64, text string) error {
	if _, err := q.ExecContext(ctx, `INSERT INTO fts(kind, ref_id, text) VALUES (?, ?, ?)`, kind, refID, text); err != nil {
		return fmt.Errorf("indexing %s %d: %w", kind, refID, err)
	}
	return nil
}

func joinText(parts ...string) string {
	return strings.TrimSpace(strings.Join(parts, " "))
}
