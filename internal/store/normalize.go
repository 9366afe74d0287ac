package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hurttlocker/mediakb/internal/extract"
)

// NormalizeOptions configures NormalizeKB.
type NormalizeOptions struct {
	DryRun bool
	Now    func() time.Time
}

// NormalizeReport counts rows inspected and changed by NormalizeKB.
type NormalizeReport struct {
	DryRun         bool   `json:"dry_run"`
	BackupPath     string `json:"backup_path,omitempty"`
	Works          int    `json:"works"`
	WorksChanged   int    `json:"works_changed"`
	Persons        int    `json:"persons"`
	PersonsChanged int    `json:"persons_changed"`
	PersonsDeleted int    `json:"persons_deleted"`
	Aliases        int    `json:"aliases"`
	AliasesChanged int    `json:"aliases_changed"`
	Credits        int    `json:"credits"`
	CreditsChanged int    `json:"credits_changed"`
	FTSRows        int    `json:"fts_rows"`
}

type textRow struct {
	id   int64
	text string
	num  sql.NullInt64
}

func loadTextRows(ctx context.Context, q querier, query string, withNum bool) ([]textRow, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []textRow
	for rows.Next() {
		var r textRow
		dst := []any{&r.id, &r.text}
		if withNum {
			dst = append(dst, &r.num)
		}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// NormalizeKB re-applies title, name, role and character normalization to
// stored rows. Persons whose names normalize to nothing are deleted with
// their aliases, external ids and credits. An applied run backs up first
// and rebuilds the full-text index.
func (s *SQLiteStore) NormalizeKB(ctx context.Context, opts NormalizeOptions) (*NormalizeReport, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	report := &NormalizeReport{DryRun: opts.DryRun}
	if !opts.DryRun && s.dbPath != ":memory:" {
		report.BackupPath = siblingBackupPath(s.dbPath, opts.Now())
		if err := s.BackupTo(ctx, report.BackupPath); err != nil {
			return nil, err
		}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := normalizeWorks(ctx, tx, opts.DryRun, report); err != nil {
			return fmt.Errorf("normalizing works: %w", err)
		}
		if err := normalizePersons(ctx, tx, opts.DryRun, report); err != nil {
			return fmt.Errorf("normalizing persons: %w", err)
		}
		if err := normalizeAliases(ctx, tx, opts.DryRun, report); err != nil {
			return fmt.Errorf("normalizing aliases: %w", err)
		}
		if err := normalizeCredits(ctx, tx, opts.DryRun, report); err != nil {
			return fmt.Errorf("normalizing credits: %w", err)
		}
		if opts.DryRun {
			return nil
		}
		n, err := rebuildFTS(ctx, tx)
		report.FTSRows = n
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func normalizeWorks(ctx context.Context, tx *sql.Tx, dry bool, r *NormalizeReport) error {
	rows, err := loadTextRows(ctx, tx, `SELECT id, title, year FROM work ORDER BY id`, true)
	if err != nil {
		return err
	}
	for _, w := range rows {
		r.Works++
		title, year := extract.NormalizeTitle(w.text)
		if title == "" {
			title = w.text
		}
		// a title without an embedded year keeps the stored one
		yearChanged := year != 0 && (!w.num.Valid || w.num.Int64 != int64(year))
		if title == w.text && !yearChanged {
			continue
		}
		r.WorksChanged++
		if dry {
			continue
		}
		if yearChanged {
			_, err = tx.ExecContext(ctx, `UPDATE work SET title = ?, year = ? WHERE id = ?`, title, year, w.id)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE work SET title = ? WHERE id = ?`, title, w.id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func normalizePersons(ctx context.Context, tx *sql.Tx, dry bool, r *NormalizeReport) error {
	rows, err := loadTextRows(ctx, tx, `SELECT id, name FROM person ORDER BY id`, false)
	if err != nil {
		return err
	}
	for _, p := range rows {
		r.Persons++
		name := extract.NormalizePersonName(p.text)
		if name == "" {
			r.PersonsDeleted++
			if dry {
				continue
			}
			for _, stmt := range []string{
				`DELETE FROM alias WHERE entity_type = 'person' AND entity_id = ?`,
				`DELETE FROM external_id WHERE entity_type = 'person' AND entity_id = ?`,
				`DELETE FROM person WHERE id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, stmt, p.id); err != nil {
					return err
				}
			}
			continue
		}
		if name == p.text {
			continue
		}
		r.PersonsChanged++
		if !dry {
			if _, err := tx.ExecContext(ctx, `UPDATE person SET name = ? WHERE id = ?`, name, p.id); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizeAliases(ctx context.Context, tx *sql.Tx, dry bool, r *NormalizeReport) error {
	rows, err := loadTextRows(ctx, tx, `SELECT id, name FROM alias ORDER BY id`, false)
	if err != nil {
		return err
	}
	for _, a := range rows {
		r.Aliases++
		name := extract.NormalizePersonName(a.text)
		if name == a.text {
			continue
		}
		r.AliasesChanged++
		if dry {
			continue
		}
		if name != "" {
			res, err := tx.ExecContext(ctx, `UPDATE OR IGNORE alias SET name = ? WHERE id = ?`, name, a.id)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				continue
			}
		}
		// empty after normalization, or it collides with an existing alias
		if _, err := tx.ExecContext(ctx, `DELETE FROM alias WHERE id = ?`, a.id); err != nil {
			return err
		}
	}
	return nil
}

func normalizeCredits(ctx context.Context, tx *sql.Tx, dry bool, r *NormalizeReport) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, role, COALESCE(character, '') FROM credit ORDER BY id`)
	if err != nil {
		return err
	}
	type creditRow struct {
		id              int64
		role, character string
	}
	var credits []creditRow
	for rows.Next() {
		var c creditRow
		if err := rows.Scan(&c.id, &c.role, &c.character); err != nil {
			rows.Close()
			return err
		}
		credits = append(credits, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range credits {
		r.Credits++
		role := extract.NormalizeRole(c.role)
		if !extract.IsValidRole(role) {
			role = c.role
		}
		character := extract.NormalizeCharacter(c.character)
		if role == c.role && character == c.character {
			continue
		}
		r.CreditsChanged++
		if dry {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE credit SET role = ?, character = ? WHERE id = ?`,
			role, nullString(character), c.id); err != nil {
			return err
		}
	}
	return nil
}
