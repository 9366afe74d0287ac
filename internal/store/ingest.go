package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/metrics"
	"github.com/hurttlocker/mediakb/internal/payload"
)

// IngestStats counts what one IngestPayload call changed.
type IngestStats struct {
	PersonsCreated  int `json:"persons_created"`
	PersonsMatched  int `json:"persons_matched"`
	WorksCreated    int `json:"works_created"`
	WorksMatched    int `json:"works_matched"`
	CreditsCreated  int `json:"credits_created"`
	CreditsExisting int `json:"credits_existing"`
	Aliases         int `json:"aliases"`
	ExternalIDs     int `json:"external_ids"`
	Unified         int `json:"unified"`
	Skipped         int `json:"skipped"`
}

// IngestPayload upserts a whole payload in one transaction. Persons and
// works are resolved first so credits, external ids and unified rows can
// reference them by name. Nothing is committed if any statement fails.
func (s *SQLiteStore) IngestPayload(ctx context.Context, p *payload.Payload) (*IngestStats, error) {
	stats := &IngestStats{}
	if p == nil {
		return stats, nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		in := &ingester{ctx: ctx, tx: tx, p: p, stats: stats,
			persons: map[string]int64{}, works: map[string]int64{}}
		for _, step := range []func() error{in.ingestPersons, in.ingestWorks, in.ingestCredits, in.ingestExternalIDs, in.ingestUnified} {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.RecordCommit("error")
		return nil, fmt.Errorf("ingesting payload: %w", err)
	}
	metrics.RecordCommit("ok")
	s.log.Debug("payload ingested",
		zap.Int("persons_created", stats.PersonsCreated),
		zap.Int("works_created", stats.WorksCreated),
		zap.Int("credits_created", stats.CreditsCreated))
	return stats, nil
}

type ingester struct {
	ctx     context.Context
	tx      *sql.Tx
	p       *payload.Payload
	stats   *IngestStats
	persons map[string]int64
	works   map[string]int64
}

func (in *ingester) ingestPersons() error {
	for _, ps := range in.p.Persons {
		name := strings.TrimSpace(ps.Name)
		if name == "" {
			in.stats.Skipped++
			continue
		}
		id, created, err := getOrCreatePerson(in.ctx, in.tx, name)
		if err != nil {
			return err
		}
		in.countPerson(created)
		in.persons[name] = id

		for _, a := range ps.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || a == name {
				continue
			}
			added, err := addAlias(in.ctx, in.tx, EntityPerson, id, a)
			if err != nil {
				return err
			}
			if added {
				in.stats.Aliases++
			}
		}

		if _, err := in.tx.ExecContext(in.ctx,
			`UPDATE person SET
				kana       = COALESCE(kana, ?),
				birth_year = COALESCE(birth_year, ?),
				death_year = COALESCE(death_year, ?),
				note       = COALESCE(note, ?)
			 WHERE id = ?`,
			nullString(ps.Kana), nullInt(ps.BirthYear), nullInt(ps.DeathYear), nullString(ps.Note), id,
		); err != nil {
			return fmt.Errorf("backfilling person %q: %w", name, err)
		}
	}
	return nil
}

// workHint returns the first work external id the payload carries for
// title.
func (in *ingester) workHint(title string) *ExternalRef {
	for _, x := range in.p.ExternalIDs {
		if x.Entity == payload.EntityWork && strings.TrimSpace(x.Name) == title && x.Source != "" && x.Value != "" {
			return &ExternalRef{Source: strings.TrimSpace(x.Source), Value: strings.TrimSpace(x.Value)}
		}
	}
	return nil
}

func (in *ingester) ingestWorks() error {
	for _, w := range in.p.Works {
		title := strings.TrimSpace(w.Title)
		if title == "" {
			in.stats.Skipped++
			continue
		}
		id, created, err := getOrCreateWork(in.ctx, in.tx, WorkInput{
			Title:    title,
			Category: w.Category,
			Year:     w.Year,
			Subtype:  w.Subtype,
			Summary:  w.Summary,
			External: in.workHint(title),
		})
		if err != nil {
			return err
		}
		in.countWork(created)
		in.works[title] = id

		if _, err := in.tx.ExecContext(in.ctx,
			`UPDATE work SET
				year    = COALESCE(year, ?),
				subtype = COALESCE(subtype, ?),
				summary = COALESCE(summary, ?)
			 WHERE id = ?`,
			nullInt(w.Year), nullString(w.Subtype), nullString(w.Summary), id,
		); err != nil {
			return fmt.Errorf("backfilling work %q: %w", title, err)
		}
	}
	return nil
}

func (in *ingester) personID(name string) (int64, error) {
	if id, ok := in.persons[name]; ok {
		return id, nil
	}
	id, created, err := getOrCreatePerson(in.ctx, in.tx, name)
	if err != nil {
		return 0, err
	}
	in.countPerson(created)
	in.persons[name] = id
	return id, nil
}

func (in *ingester) workID(title string) (int64, error) {
	if id, ok := in.works[title]; ok {
		return id, nil
	}
	id, created, err := getOrCreateWork(in.ctx, in.tx, WorkInput{Title: title, External: in.workHint(title)})
	if err != nil {
		return 0, err
	}
	in.countWork(created)
	in.works[title] = id
	return id, nil
}

func (in *ingester) ingestCredits() error {
	for _, c := range in.p.Credits {
		work, person := strings.TrimSpace(c.Work), strings.TrimSpace(c.Person)
		if work == "" || person == "" {
			in.stats.Skipped++
			continue
		}
		wid, err := in.workID(work)
		if err != nil {
			return err
		}
		pid, err := in.personID(person)
		if err != nil {
			return err
		}
		role := strings.TrimSpace(c.Role)
		if role == "" {
			role = "actor"
		}
		_, created, err := createCredit(in.ctx, in.tx, wid, pid, role, strings.TrimSpace(c.Character))
		if err != nil {
			return err
		}
		if created {
			in.stats.CreditsCreated++
		} else {
			in.stats.CreditsExisting++
		}
	}
	return nil
}

func (in *ingester) ingestExternalIDs() error {
	for _, x := range in.p.ExternalIDs {
		name, source, value := strings.TrimSpace(x.Name), strings.TrimSpace(x.Source), strings.TrimSpace(x.Value)
		if name == "" || source == "" || value == "" {
			in.stats.Skipped++
			continue
		}
		var (
			id  int64
			err error
		)
		switch x.Entity {
		case payload.EntityWork:
			id, err = in.workID(name)
		case payload.EntityPerson:
			id, err = in.personID(name)
		default:
			in.stats.Skipped++
			continue
		}
		if err != nil {
			return err
		}
		added, err := addExternalID(in.ctx, in.tx, x.Entity, id, source, value, x.URL)
		if err != nil {
			return err
		}
		if added {
			in.stats.ExternalIDs++
		}
	}
	return nil
}

func (in *ingester) ingestUnified() error {
	for _, u := range in.p.Unified {
		work := strings.TrimSpace(u.Work)
		if work == "" {
			in.stats.Skipped++
			continue
		}
		group := strings.TrimSpace(u.Name)
		if group == "" {
			group = work
		}
		wid, err := in.workID(work)
		if err != nil {
			return err
		}
		added, err := unifyWork(in.ctx, in.tx, group, wid, strings.TrimSpace(u.Relation))
		if err != nil {
			return err
		}
		if added {
			in.stats.Unified++
		}
	}
	return nil
}

func (in *ingester) countPerson(created bool) {
	if created {
		in.stats.PersonsCreated++
	} else {
		in.stats.PersonsMatched++
	}
}

func (in *ingester) countWork(created bool) {
	if created {
		in.stats.WorksCreated++
	} else {
		in.stats.WorksMatched++
	}
}
