package payload

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hurttlocker/mediakb/internal/extract"
)

var knownKeys = map[string]bool{
	"persons": true, "works": true, "credits": true, "external_ids": true,
	"unified": true, "note": true, "next_queries": true,
}

// Decode validates an untyped JSON object into a Payload. Unknown keys,
// malformed items, out-of-range years and unmappable roles are dropped;
// every drop or coercion is reported in notes.
func Decode(obj map[string]any) (*Payload, []string) {
	p := &Payload{}
	var notes []string
	notef := func(format string, args ...any) {
		notes = append(notes, fmt.Sprintf(format, args...))
	}

	for k := range obj {
		if !knownKeys[k] {
			notef("dropped unknown key %q", k)
		}
	}

	for i, it := range objects(obj, "persons", notef) {
		name := str(it["name"])
		if name == "" {
			notef("persons[%d]: missing name", i)
			continue
		}
		p.Persons = append(p.Persons, Person{
			Name:      name,
			Aliases:   strList(it["aliases"]),
			Kana:      str(it["kana"]),
			BirthYear: year(it["birth_year"], fmt.Sprintf("persons[%d].birth_year", i), notef),
			DeathYear: year(it["death_year"], fmt.Sprintf("persons[%d].death_year", i), notef),
			Note:      str(it["note"]),
		})
	}

	for i, it := range objects(obj, "works", notef) {
		title := str(it["title"])
		if title == "" {
			notef("works[%d]: missing title", i)
			continue
		}
		p.Works = append(p.Works, Work{
			Title:    title,
			Category: str(it["category"]),
			Year:     year(it["year"], fmt.Sprintf("works[%d].year", i), notef),
			Subtype:  str(it["subtype"]),
			Summary:  str(it["summary"]),
		})
	}

	for i, it := range objects(obj, "credits", notef) {
		work, person := str(it["work"]), str(it["person"])
		if work == "" || person == "" {
			notef("credits[%d]: missing work or person", i)
			continue
		}
		role, ok := coerceRole(str(it["role"]))
		if !ok {
			notef("credits[%d]: dropped unknown role %q", i, str(it["role"]))
			continue
		}
		p.Credits = append(p.Credits, Credit{
			Work:      work,
			Person:    person,
			Role:      role,
			Character: str(it["character"]),
		})
	}

	for i, it := range objects(obj, "external_ids", notef) {
		ent := strings.ToLower(str(it["entity"]))
		if ent != EntityWork && ent != EntityPerson {
			notef("external_ids[%d]: dropped entity %q", i, ent)
			continue
		}
		x := ExternalID{
			Entity: ent,
			Name:   str(it["name"]),
			Source: str(it["source"]),
			Value:  str(it["value"]),
			URL:    str(it["url"]),
		}
		if x.Name == "" || x.Source == "" || x.Value == "" {
			notef("external_ids[%d]: missing name, source or value", i)
			continue
		}
		p.ExternalIDs = append(p.ExternalIDs, x)
	}

	for i, it := range objects(obj, "unified", notef) {
		u := Unified{Name: str(it["name"]), Work: str(it["work"]), Relation: str(it["relation"])}
		if u.Name == "" && u.Work == "" {
			notef("unified[%d]: empty", i)
			continue
		}
		p.Unified = append(p.Unified, u)
	}

	p.Note = str(obj["note"])
	p.NextQueries = strList(obj["next_queries"])
	return p, notes
}

// coerceRole maps empty to actor, Japanese labels to their role and
// accepts enum values case-insensitively.
func coerceRole(raw string) (string, bool) {
	r := strings.TrimSpace(raw)
	if r == "" {
		return extract.RoleActor, true
	}
	if mapped, ok := extract.RoleForKeyword(r); ok {
		return mapped, true
	}
	r = strings.ToLower(r)
	if extract.IsValidRole(r) {
		return r, true
	}
	return "", false
}

func objects(obj map[string]any, key string, notef func(string, ...any)) []map[string]any {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		notef("%s: not a list", key)
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for i, it := range list {
		m, ok := it.(map[string]any)
		if !ok {
			notef("%s[%d]: not an object", key, i)
			continue
		}
		out = append(out, m)
	}
	return out
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

func strList(v any) []string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, it := range x {
			if s := str(it); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func year(v any, field string, notef func(string, ...any)) int {
	var y int
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		y = int(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		n, err := strconv.Atoi(strings.TrimSuffix(s, "年"))
		if err != nil {
			notef("%s: not a year %q", field, s)
			return 0
		}
		notef("%s: coerced %q", field, s)
		y = n
	default:
		notef("%s: not a year", field)
		return 0
	}
	if y < 1800 || y > 2100 {
		notef("%s: %d out of range", field, y)
		return 0
	}
	return y
}
