package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CleanupOptions configures RunCleanup.
type CleanupOptions struct {
	DBPath string
	// DryRun computes and logs the merge decisions without writing
	// anything, backup included.
	DryRun bool
	// Vacuum runs VACUUM after a committed cleanup.
	Vacuum bool
	Now    func() time.Time
	Logger *zap.Logger
}

// MergeStats counts entity merges.
type MergeStats struct {
	Groups  int `json:"groups"`
	Merged  int `json:"merged"`
	Removed int `json:"removed"`
}

// RemoveStats counts collapsed duplicate rows.
type RemoveStats struct {
	Removed int `json:"removed"`
}

// FTSStats counts rebuilt index rows.
type FTSStats struct {
	Inserted int `json:"inserted"`
}

// CleanupStats aggregates one cleanup pass.
type CleanupStats struct {
	Person     MergeStats  `json:"person"`
	Work       MergeStats  `json:"work"`
	Credit     RemoveStats `json:"credit"`
	ExternalID RemoveStats `json:"external_id"`
	FTS        FTSStats    `json:"fts"`
}

// CleanupReport is returned by RunCleanup. Counts in a dry run describe
// what would change.
type CleanupReport struct {
	DBPath     string       `json:"db_path"`
	DryRun     bool         `json:"dry_run"`
	BackupPath string       `json:"backup_path,omitempty"`
	Stats      CleanupStats `json:"stats"`
	Logs       []string     `json:"logs"`
}

// Merges returns the number of entity rows merged away.
func (r *CleanupReport) Merges() int {
	return r.Stats.Person.Merged + r.Stats.Work.Merged
}

// matchBadges are listing labels ignored when grouping work titles.
var matchBadges = map[string]bool{
	"上映中": true, "配信中": true, "出演": true, "声の出演": true,
	"声優": true, "上映予定": true, "配信予定": true,
}

var wsRun = regexp.MustCompile(`\s+`)

func normalizeSpaces(s string) string {
	return strings.TrimSpace(wsRun.ReplaceAllString(s, " "))
}

// matchTitle is the grouping key for a work title: slashes become spaces
// and leading badge tokens are dropped.
func matchTitle(title string) string {
	s := strings.TrimSpace(title)
	if s == "" {
		return s
	}
	s = strings.NewReplacer("／", " ", "/", " ").Replace(s)
	parts := strings.Fields(s)
	for len(parts) > 0 && matchBadges[parts[0]] {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return strings.TrimSpace(title)
	}
	return strings.Join(parts, " ")
}

// RunCleanup merges duplicate persons and works, collapses duplicate
// credits and external ids, and rebuilds the full-text index. A real run
// writes a backup first and applies everything in one transaction.
func RunCleanup(ctx context.Context, opts CleanupOptions) (*CleanupReport, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	path, err := filepath.Abs(ExpandPath(opts.DBPath))
	if err != nil {
		return nil, fmt.Errorf("resolving db path: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrDBNotFound)
	}

	s, err := NewStore(StoreConfig{DBPath: path, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	report := &CleanupReport{DBPath: path, DryRun: opts.DryRun, Logs: []string{}}
	logf := func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		report.Logs = append(report.Logs, line)
		opts.Logger.Info(line)
	}

	if !opts.DryRun {
		backup := siblingBackupPath(path, opts.Now())
		if err := s.BackupTo(ctx, backup); err != nil {
			return nil, err
		}
		report.BackupPath = backup
		logf("Backup created: %s", backup)
	}

	c := &cleaner{ctx: ctx, dry: opts.DryRun, logf: logf}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		c.q = tx
		var err error
		if report.Stats.Person, err = c.dedupPersons(); err != nil {
			return err
		}
		if report.Stats.Work, err = c.dedupWorks(); err != nil {
			return err
		}
		if report.Stats.Credit, err = c.dedupCredits(); err != nil {
			return err
		}
		if report.Stats.ExternalID, err = c.dedupExternalIDs(); err != nil {
			return err
		}
		report.Stats.FTS, err = c.rebuildFTS()
		return err
	})
	if err != nil {
		return report, fmt.Errorf("cleanup: %w", err)
	}

	if !opts.DryRun && opts.Vacuum {
		if err := s.Vacuum(ctx); err != nil {
			return report, fmt.Errorf("vacuum: %w", err)
		}
		logf("VACUUM executed")
	}
	return report, nil
}

type cleaner struct {
	ctx  context.Context
	q    querier
	dry  bool
	logf func(string, ...any)
}

type idGroup struct {
	key string
	ids []int64
}

// groupIDs buckets ids by key in first-seen order. Input rows arrive in id
// order, so ids[0] is the lowest.
func groupIDs(keys []string, ids []int64) []idGroup {
	index := map[string]int{}
	var groups []idGroup
	for i, k := range keys {
		if j, ok := index[k]; ok {
			groups[j].ids = append(groups[j].ids, ids[i])
			continue
		}
		index[k] = len(groups)
		groups = append(groups, idGroup{key: k, ids: []int64{ids[i]}})
	}
	return groups
}

func (c *cleaner) dedupPersons() (MergeStats, error) {
	var stats MergeStats
	rows, err := c.q.QueryContext(c.ctx, `SELECT id, name FROM person ORDER BY id`)
	if err != nil {
		return stats, fmt.Errorf("scanning persons: %w", err)
	}
	var keys []string
	var ids []int64
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return stats, err
		}
		keys = append(keys, normalizeSpaces(name))
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	for _, g := range groupIDs(keys, ids) {
		if len(g.ids) < 2 {
			continue
		}
		primary, dupes := g.ids[0], g.ids[1:]
		stats.Groups++
		c.logf("person merge group: '%s' -> keep %d, remove %v", g.key, primary, dupes)
		if !c.dry {
			if err := c.mergeInto(EntityPerson, primary, dupes); err != nil {
				return stats, err
			}
		}
		stats.Merged += len(dupes)
		stats.Removed += len(dupes)
	}
	return stats, nil
}

func (c *cleaner) dedupWorks() (MergeStats, error) {
	var stats MergeStats
	rows, err := c.q.QueryContext(c.ctx, `SELECT id, title, category_id, year FROM work ORDER BY id`)
	if err != nil {
		return stats, fmt.Errorf("scanning works: %w", err)
	}
	var keys []string
	var ids []int64
	for rows.Next() {
		var (
			id    int64
			title string
			cat   sql.NullInt64
			year  sql.NullInt64
		)
		if err := rows.Scan(&id, &title, &cat, &year); err != nil {
			rows.Close()
			return stats, err
		}
		keys = append(keys, fmt.Sprintf("(%s, %s, %s)", matchTitle(title), nullKey(cat), nullKey(year)))
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	for _, g := range groupIDs(keys, ids) {
		if len(g.ids) < 2 {
			continue
		}
		primary, dupes := g.ids[0], g.ids[1:]
		stats.Groups++
		c.logf("work merge group: %s -> keep %d, remove %v", g.key, primary, dupes)
		if !c.dry {
			if err := c.mergeInto(EntityWork, primary, dupes); err != nil {
				return stats, err
			}
		}
		stats.Merged += len(dupes)
		stats.Removed += len(dupes)
	}
	return stats, nil
}

func nullKey(n sql.NullInt64) string {
	if !n.Valid {
		return "-"
	}
	return fmt.Sprintf("%d", n.Int64)
}

type mergeStmt struct {
	sql  string
	args []any
}

// mergeInto re-points every reference from dupes to primary and deletes
// the dupes. External ids whose source the primary already has are
// dropped first so the primary's rows stay authoritative.
func (c *cleaner) mergeInto(entity string, primary int64, dupes []int64) error {
	creditCol := "person_id"
	table := "person"
	if entity == EntityWork {
		creditCol, table = "work_id", "work"
	}

	for _, dupe := range dupes {
		stmts := []mergeStmt{
			{`UPDATE OR IGNORE credit SET ` + creditCol + ` = ? WHERE ` + creditCol + ` = ?`, []any{primary, dupe}},
			{`UPDATE OR IGNORE alias SET entity_id = ? WHERE entity_type = ? AND entity_id = ?`, []any{primary, entity, dupe}},
			{`DELETE FROM alias WHERE entity_type = ? AND entity_id = ?`, []any{entity, dupe}},
			{`DELETE FROM external_id WHERE entity_type = ? AND entity_id = ? AND source IN (
				SELECT source FROM external_id WHERE entity_type = ? AND entity_id = ?)`, []any{entity, dupe, entity, primary}},
			{`UPDATE external_id SET entity_id = ? WHERE entity_type = ? AND entity_id = ?`, []any{primary, entity, dupe}},
		}
		if entity == EntityWork {
			stmts = append(stmts,
				mergeStmt{`UPDATE OR IGNORE unified_work_member SET work_id = ? WHERE work_id = ?`, []any{primary, dupe}},
				mergeStmt{`DELETE FROM unified_work_member WHERE work_id = ?`, []any{dupe}},
			)
		}
		stmts = append(stmts, mergeStmt{`DELETE FROM ` + table + ` WHERE id = ?`, []any{dupe}})

		for _, st := range stmts {
			if _, err := c.q.ExecContext(c.ctx, st.sql, st.args...); err != nil {
				return fmt.Errorf("merging %s %d into %d: %w", entity, dupe, primary, err)
			}
		}
	}
	return nil
}

// collapse deletes all but the lowest id of each duplicate group returned
// by query. The query must select a description and GROUP_CONCAT(id).
func (c *cleaner) collapse(label, query, table string) (RemoveStats, error) {
	var stats RemoveStats
	rows, err := c.q.QueryContext(c.ctx, query)
	if err != nil {
		return stats, fmt.Errorf("finding duplicate %s rows: %w", label, err)
	}
	type dup struct {
		desc string
		ids  []int64
	}
	var dups []dup
	for rows.Next() {
		var desc, list string
		if err := rows.Scan(&desc, &list); err != nil {
			rows.Close()
			return stats, err
		}
		dups = append(dups, dup{desc: desc, ids: parseIDList(list)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	for _, d := range dups {
		if len(d.ids) < 2 {
			continue
		}
		keep, remove := d.ids[0], d.ids[1:]
		c.logf("%s duplicates: keep %d, remove %v for %s", label, keep, remove, d.desc)
		if !c.dry {
			for _, id := range remove {
				if _, err := c.q.ExecContext(c.ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
					return stats, fmt.Errorf("removing %s %d: %w", label, id, err)
				}
			}
		}
		stats.Removed += len(remove)
	}
	return stats, nil
}

func (c *cleaner) dedupCredits() (RemoveStats, error) {
	return c.collapse("credit", `
		SELECT printf('(work=%d, person=%d, role=%s, ch=''%s'')', work_id, person_id, role, COALESCE(character, '')),
		       GROUP_CONCAT(id)
		FROM credit
		GROUP BY work_id, person_id, role, COALESCE(character, '')
		HAVING COUNT(*) > 1`, "credit")
}

func (c *cleaner) dedupExternalIDs() (RemoveStats, error) {
	return c.collapse("external_id", `
		SELECT printf('(%s,%d,%s=%s)', entity_type, entity_id, source, value), GROUP_CONCAT(id)
		FROM external_id
		GROUP BY entity_type, entity_id, source, value
		HAVING COUNT(*) > 1`, "external_id")
}

func parseIDList(list string) []int64 {
	var ids []int64
	for _, part := range strings.Split(list, ",") {
		var id int64
		if _, err := fmt.Sscan(strings.TrimSpace(part), &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *cleaner) rebuildFTS() (FTSStats, error) {
	if c.dry {
		var stats FTSStats
		err := c.q.QueryRowContext(c.ctx,
			`SELECT (SELECT COUNT(*) FROM person) + (SELECT COUNT(*) FROM work) + (SELECT COUNT(*) FROM credit)`,
		).Scan(&stats.Inserted)
		if err != nil {
			return stats, fmt.Errorf("counting fts rows: %w", err)
		}
		c.logf("FTS rebuild (dry-run): approx rows=%d", stats.Inserted)
		return stats, nil
	}
	n, err := rebuildFTS(c.ctx, c.q)
	if err != nil {
		return FTSStats{}, err
	}
	c.logf("FTS rebuilt rows=%d", n)
	return FTSStats{Inserted: n}, nil
}

// rebuildFTS replaces the whole index with person, work and credit text.
func rebuildFTS(ctx context.Context, q querier) (int, error) {
	if _, err := q.ExecContext(ctx, `DELETE FROM fts`); err != nil {
		return 0, fmt.Errorf("clearing fts: %w", err)
	}
	inserts := []string{
		`INSERT INTO fts(kind, ref_id, text)
		 SELECT 'person', id, TRIM(COALESCE(name, '') || ' ' || COALESCE(kana, '')) FROM person`,
		`INSERT INTO fts(kind, ref_id, text)
		 SELECT 'work', id, TRIM(COALESCE(title, '') || ' ' || COALESCE(summary, '')) FROM work`,
		`INSERT INTO fts(kind, ref_id, text)
		 SELECT 'credit', id, TRIM(COALESCE(character, '') || ' ' || COALESCE(role, '')) FROM credit`,
	}
	for _, stmt := range inserts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("rebuilding fts: %w", err)
		}
	}
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM fts`).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting fts rows: %w", err)
	}
	return total, nil
}
