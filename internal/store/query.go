package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSearchLimit applies when a caller passes limit <= 0.
const DefaultSearchLimit = 50

// PersonDetail is a person with aliases and external ids.
type PersonDetail struct {
	Person
	Aliases     []string     `json:"aliases"`
	ExternalIDs []ExternalID `json:"external_ids"`
}

// WorkDetail is a work with aliases and external ids.
type WorkDetail struct {
	Work
	Aliases     []string     `json:"aliases"`
	ExternalIDs []ExternalID `json:"external_ids"`
}

// PersonCredit is one line of a person's filmography.
type PersonCredit struct {
	WorkID    int64  `json:"work_id"`
	Title     string `json:"title"`
	Year      int    `json:"year,omitempty"`
	Role      string `json:"role"`
	Character string `json:"character,omitempty"`
}

// CastEntry is one line of a work's cast and staff.
type CastEntry struct {
	PersonID  int64  `json:"person_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Character string `json:"character,omitempty"`
}

// FTSHit is a full-text search result.
type FTSHit struct {
	Kind    string `json:"kind"`
	RefID   int64  `json:"ref_id"`
	Snippet string `json:"snippet"`
}

// UnifiedMember is a work inside a unified group.
type UnifiedMember struct {
	Group    string `json:"group"`
	WorkID   int64  `json:"work_id"`
	Title    string `json:"title"`
	Year     int    `json:"year,omitempty"`
	Relation string `json:"relation,omitempty"`
}

// Counts reports table sizes.
type Counts struct {
	Persons     int64 `json:"persons"`
	Works       int64 `json:"works"`
	Credits     int64 `json:"credits"`
	Aliases     int64 `json:"aliases"`
	ExternalIDs int64 `json:"external_ids"`
	Unified     int64 `json:"unified"`
	Categories  int64 `json:"categories"`
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return limit
}

// SearchPersons returns persons whose name contains kw.
func (s *SQLiteStore) SearchPersons(ctx context.Context, kw string, limit int) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(kana, ''), COALESCE(birth_year, 0), COALESCE(death_year, 0), COALESCE(note, '')
		 FROM person WHERE name LIKE ? ORDER BY name, id LIMIT ?`,
		"%"+strings.TrimSpace(kw)+"%", limitOrDefault(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("searching persons: %w", err)
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Kana, &p.BirthYear, &p.DeathYear, &p.Note); err != nil {
			return nil, fmt.Errorf("scanning person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PersonDetail loads one person with aliases and external ids.
func (s *SQLiteStore) PersonDetail(ctx context.Context, id int64) (*PersonDetail, error) {
	d := &PersonDetail{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(kana, ''), COALESCE(birth_year, 0), COALESCE(death_year, 0), COALESCE(note, '')
		 FROM person WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.Kana, &d.BirthYear, &d.DeathYear, &d.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("person %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading person %d: %w", id, err)
	}
	if d.Aliases, err = s.aliases(ctx, EntityPerson, id); err != nil {
		return nil, err
	}
	if d.ExternalIDs, err = s.externalIDs(ctx, EntityPerson, id); err != nil {
		return nil, err
	}
	return d, nil
}

// PersonCredits lists a person's credits, oldest work first.
func (s *SQLiteStore) PersonCredits(ctx context.Context, personID int64) ([]PersonCredit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.title, COALESCE(w.year, 0), c.role, COALESCE(c.character, '')
		 FROM credit c JOIN work w ON w.id = c.work_id
		 WHERE c.person_id = ?
		 ORDER BY w.year IS NULL, w.year, w.title`, personID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading credits of person %d: %w", personID, err)
	}
	defer rows.Close()

	var out []PersonCredit
	for rows.Next() {
		var c PersonCredit
		if err := rows.Scan(&c.WorkID, &c.Title, &c.Year, &c.Role, &c.Character); err != nil {
			return nil, fmt.Errorf("scanning credit: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const workColumns = `w.id, w.title, COALESCE(c.name, ''), COALESCE(w.year, 0), COALESCE(w.subtype, ''), COALESCE(w.summary, '')`

// SearchWorks returns works whose title contains kw, newest first.
func (s *SQLiteStore) SearchWorks(ctx context.Context, kw string, limit int) ([]Work, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workColumns+`
		 FROM work w LEFT JOIN category c ON c.id = w.category_id
		 WHERE w.title LIKE ? ORDER BY w.year DESC, w.title LIMIT ?`,
		"%"+strings.TrimSpace(kw)+"%", limitOrDefault(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("searching works: %w", err)
	}
	defer rows.Close()

	var out []Work
	for rows.Next() {
		var w Work
		if err := rows.Scan(&w.ID, &w.Title, &w.Category, &w.Year, &w.Subtype, &w.Summary); err != nil {
			return nil, fmt.Errorf("scanning work: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WorkDetail loads one work with its category, aliases and external ids.
func (s *SQLiteStore) WorkDetail(ctx context.Context, id int64) (*WorkDetail, error) {
	d := &WorkDetail{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+workColumns+` FROM work w LEFT JOIN category c ON c.id = w.category_id WHERE w.id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Category, &d.Year, &d.Subtype, &d.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("work %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading work %d: %w", id, err)
	}
	if d.Aliases, err = s.aliases(ctx, EntityWork, id); err != nil {
		return nil, err
	}
	if d.ExternalIDs, err = s.externalIDs(ctx, EntityWork, id); err != nil {
		return nil, err
	}
	return d, nil
}

// WorkCast lists a work's credits, directors first, then actors.
func (s *SQLiteStore) WorkCast(ctx context.Context, workID int64) ([]CastEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, c.role, COALESCE(c.character, '')
		 FROM credit c JOIN person p ON p.id = c.person_id
		 WHERE c.work_id = ?
		 ORDER BY CASE c.role WHEN 'director' THEN 0 WHEN 'actor' THEN 1 ELSE 9 END, p.name`, workID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading cast of work %d: %w", workID, err)
	}
	defer rows.Close()

	var out []CastEntry
	for rows.Next() {
		var c CastEntry
		if err := rows.Scan(&c.PersonID, &c.Name, &c.Role, &c.Character); err != nil {
			return nil, fmt.Errorf("scanning cast entry: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchFTS queries the trigram index. Queries shorter than three runes
// cannot match a trigram and fall back to LIKE over the indexed text.
func (s *SQLiteStore) SearchFTS(ctx context.Context, query string, limit int) ([]FTSHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if utf8.RuneCountInString(query) < 3 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT kind, ref_id, text FROM fts WHERE text LIKE ? LIMIT ?`,
			"%"+query+"%", limitOrDefault(limit))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT kind, ref_id, snippet(fts, 2, '[', ']', '…', 16) FROM fts WHERE fts MATCH ? ORDER BY rank LIMIT ?`,
			ftsPhrase(query), limitOrDefault(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var out []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.Kind, &h.RefID, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scanning fts hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ftsPhrase quotes the query as one FTS5 phrase so punctuation in titles is
// not parsed as query syntax.
func ftsPhrase(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

// UnifiedByTitle returns the unified groups containing a work whose title
// contains titleLike, with every member of those groups.
func (s *SQLiteStore) UnifiedByTitle(ctx context.Context, titleLike string) ([]UnifiedMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.name, w.id, w.title, COALESCE(w.year, 0), COALESCE(m.relation, '')
		 FROM unified_work u
		 JOIN unified_work_member m ON m.unified_work_id = u.id
		 JOIN work w ON w.id = m.work_id
		 WHERE u.id IN (
			SELECT m2.unified_work_id FROM unified_work_member m2
			JOIN work w2 ON w2.id = m2.work_id
			WHERE w2.title LIKE ?
		 )
		 ORDER BY u.name, w.year, w.title`,
		"%"+strings.TrimSpace(titleLike)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("loading unified groups: %w", err)
	}
	defer rows.Close()

	var out []UnifiedMember
	for rows.Next() {
		var m UnifiedMember
		if err := rows.Scan(&m.Group, &m.WorkID, &m.Title, &m.Year, &m.Relation); err != nil {
			return nil, fmt.Errorf("scanning unified member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FirstUnknown returns the first candidate that matches no person name
// and no work title exactly, or "" when all are known.
func (s *SQLiteStore) FirstUnknown(ctx context.Context, candidates []string) (string, error) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT (SELECT COUNT(*) FROM person WHERE name = ?) + (SELECT COUNT(*) FROM work WHERE title = ?)`,
			c, c,
		).Scan(&n)
		if err != nil {
			return "", fmt.Errorf("checking %q: %w", c, err)
		}
		if n == 0 {
			return c, nil
		}
	}
	return "", nil
}

// Counts returns row counts per table.
func (s *SQLiteStore) Counts(ctx context.Context) (*Counts, error) {
	return countRows(ctx, s.db)
}

func countRows(ctx context.Context, q querier) (*Counts, error) {
	c := &Counts{}
	targets := []struct {
		table string
		dst   *int64
	}{
		{"person", &c.Persons},
		{"work", &c.Works},
		{"credit", &c.Credits},
		{"alias", &c.Aliases},
		{"external_id", &c.ExternalIDs},
		{"unified_work", &c.Unified},
		{"category", &c.Categories},
	}
	for _, t := range targets {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(t.dst); err != nil {
			return nil, fmt.Errorf("counting %s: %w", t.table, err)
		}
	}
	return c, nil
}

func (s *SQLiteStore) aliases(ctx context.Context, entityType string, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM alias WHERE entity_type = ? AND entity_id = ? ORDER BY id`, entityType, id)
	if err != nil {
		return nil, fmt.Errorf("loading aliases: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) externalIDs(ctx context.Context, entityType string, id int64) ([]ExternalID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, value, COALESCE(url, '') FROM external_id
		 WHERE entity_type = ? AND entity_id = ? ORDER BY source`, entityType, id)
	if err != nil {
		return nil, fmt.Errorf("loading external ids: %w", err)
	}
	defer rows.Close()

	out := []ExternalID{}
	for rows.Next() {
		var x ExternalID
		if err := rows.Scan(&x.Source, &x.Value, &x.URL); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}
