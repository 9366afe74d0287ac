package payload

import (
	"strings"

	"github.com/hurttlocker/mediakb/internal/extract"
)

const (
	nextQueriesConsidered = 10
	nextQueriesKept       = 5
)

// Normalize strips role and status labels that models glue onto names and
// titles, drops records that were nothing but a label, and trims
// next_queries to five distinct usable terms. Credits, external ids and
// unified groups pass through untouched. The input is not modified.
func Normalize(p *Payload) *Payload {
	if p == nil {
		return &Payload{}
	}
	out := &Payload{
		Credits:     append([]Credit(nil), p.Credits...),
		ExternalIDs: append([]ExternalID(nil), p.ExternalIDs...),
		Unified:     append([]Unified(nil), p.Unified...),
		Note:        p.Note,
	}

	for _, ps := range p.Persons {
		name := cleanLabel(ps.Name)
		if name == "" || extract.IsPureRoleWord(name) {
			continue
		}
		ps.Name = name
		out.Persons = append(out.Persons, ps)
	}
	for _, w := range p.Works {
		title := cleanLabel(w.Title)
		if title == "" || extract.IsPureRoleWord(title) {
			continue
		}
		w.Title = title
		out.Works = append(out.Works, w)
	}

	seen := map[string]bool{}
	for i, q := range p.NextQueries {
		if i >= nextQueriesConsidered {
			break
		}
		s := extract.RemoveRolePrefix(q)
		if s == "" || extract.IsPureRoleWord(s) || seen[s] {
			continue
		}
		seen[s] = true
		out.NextQueries = append(out.NextQueries, s)
		if len(out.NextQueries) >= nextQueriesKept {
			break
		}
	}
	return out
}

func cleanLabel(s string) string {
	return strings.TrimSpace(extract.RemoveStatusPrefix(extract.RemoveRolePrefix(s)))
}
