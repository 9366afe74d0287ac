package payload

import "strings"

// Merge concatenates payloads in order and keeps the first occurrence of
// each record. Note and next queries are not carried over.
//
// Dedup keys (trimmed):
//
//	persons       name
//	works         title, category
//	credits       work, person, role, character
//	external_ids  entity, name, source
//	unified       name, work, relation
func Merge(ps []*Payload) *Payload {
	out := &Payload{}
	seenPerson := map[string]bool{}
	seenWork := map[[2]string]bool{}
	seenCredit := map[[4]string]bool{}
	seenExt := map[[3]string]bool{}
	seenUnified := map[[3]string]bool{}

	for _, p := range ps {
		if p == nil {
			continue
		}
		for _, x := range p.Persons {
			k := strings.TrimSpace(x.Name)
			if !seenPerson[k] {
				seenPerson[k] = true
				out.Persons = append(out.Persons, x)
			}
		}
		for _, x := range p.Works {
			k := [2]string{strings.TrimSpace(x.Title), strings.TrimSpace(x.Category)}
			if !seenWork[k] {
				seenWork[k] = true
				out.Works = append(out.Works, x)
			}
		}
		for _, x := range p.Credits {
			k := [4]string{trim(x.Work), trim(x.Person), trim(x.Role), trim(x.Character)}
			if !seenCredit[k] {
				seenCredit[k] = true
				out.Credits = append(out.Credits, x)
			}
		}
		for _, x := range p.ExternalIDs {
			k := [3]string{trim(x.Entity), trim(x.Name), trim(x.Source)}
			if !seenExt[k] {
				seenExt[k] = true
				out.ExternalIDs = append(out.ExternalIDs, x)
			}
		}
		for _, x := range p.Unified {
			k := [3]string{trim(x.Name), trim(x.Work), trim(x.Relation)}
			if !seenUnified[k] {
				seenUnified[k] = true
				out.Unified = append(out.Unified, x)
			}
		}
	}
	return out
}

func trim(s string) string { return strings.TrimSpace(s) }
