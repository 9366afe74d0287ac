// Package payload defines the structured batch that collectors emit and the
// KB ingests, together with the tolerant JSON recovery, validation,
// normalization and merge steps applied to it.
package payload

import "strings"

// Person is a named human. Zero-valued fields are unknown.
type Person struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
	Kana      string   `json:"kana,omitempty"`
	BirthYear int      `json:"birth_year,omitempty"`
	DeathYear int      `json:"death_year,omitempty"`
	Note      string   `json:"note,omitempty"`
}

// Work is a film, drama or other title.
type Work struct {
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Year     int    `json:"year,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// Credit references its work and person by title and name.
type Credit struct {
	Work      string `json:"work"`
	Person    string `json:"person"`
	Role      string `json:"role"`
	Character string `json:"character,omitempty"`
}

// ExternalID ties a work or person (by name) to an id on an outside site.
type ExternalID struct {
	Entity string `json:"entity"`
	Name   string `json:"name"`
	Source string `json:"source"`
	Value  string `json:"value"`
	URL    string `json:"url,omitempty"`
}

// Unified groups a work under a franchise-like name.
type Unified struct {
	Name     string `json:"name"`
	Work     string `json:"work"`
	Relation string `json:"relation,omitempty"`
}

// Payload is one batch of facts.
type Payload struct {
	Persons     []Person     `json:"persons"`
	Works       []Work       `json:"works"`
	Credits     []Credit     `json:"credits"`
	ExternalIDs []ExternalID `json:"external_ids"`
	Unified     []Unified    `json:"unified"`
	Note        string       `json:"note,omitempty"`
	NextQueries []string     `json:"next_queries,omitempty"`
}

// Entity kinds for ExternalID.Entity.
const (
	EntityWork   = "work"
	EntityPerson = "person"
)

// DefaultCategory is used when a work arrives without one.
const DefaultCategory = "その他"

// IsEffectivelyEmpty reports whether none of the five fact lists has an
// entry. Note and next queries alone do not count.
func IsEffectivelyEmpty(p *Payload) bool {
	if p == nil {
		return true
	}
	return len(p.Persons) == 0 && len(p.Works) == 0 && len(p.Credits) == 0 &&
		len(p.ExternalIDs) == 0 && len(p.Unified) == 0
}

// HasFacts is true when persons, works, credits or external ids are present.
// Unified groups alone do not make a fallback worth keeping.
func HasFacts(p *Payload) bool {
	return p != nil && (len(p.Persons) > 0 || len(p.Works) > 0 || len(p.Credits) > 0 || len(p.ExternalIDs) > 0)
}

// Names returns the person names then work titles, in order.
func (p *Payload) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Persons)+len(p.Works))
	for _, ps := range p.Persons {
		if n := strings.TrimSpace(ps.Name); n != "" {
			out = append(out, n)
		}
	}
	for _, w := range p.Works {
		if t := strings.TrimSpace(w.Title); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Counts summarizes list sizes for logs and API responses.
type Counts struct {
	Persons     int `json:"persons"`
	Works       int `json:"works"`
	Credits     int `json:"credits"`
	ExternalIDs int `json:"external_ids"`
	Unified     int `json:"unified"`
}

// Count returns the list sizes of p.
func (p *Payload) Count() Counts {
	if p == nil {
		return Counts{}
	}
	return Counts{
		Persons:     len(p.Persons),
		Works:       len(p.Works),
		Credits:     len(p.Credits),
		ExternalIDs: len(p.ExternalIDs),
		Unified:     len(p.Unified),
	}
}
