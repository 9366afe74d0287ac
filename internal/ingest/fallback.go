package ingest

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/extract"
	"github.com/hurttlocker/mediakb/internal/payload"
	"github.com/hurttlocker/mediakb/internal/search"
	"github.com/hurttlocker/mediakb/internal/web"
)

func mainMovieURL(hits []search.Hit) string {
	for _, h := range hits {
		if u := strings.TrimSpace(h.URL); web.IsMainMoviePage(u) {
			return u
		}
	}
	return ""
}

// deepPayload builds facts from the first eiga.com film page among hits
// without any model: the work, everyone credited on it, and eiga.com ids.
// It returns an empty payload when there is no such page or it cannot be
// read.
func (o *Orchestrator) deepPayload(ctx context.Context, hits []search.Hit) *payload.Payload {
	out := &payload.Payload{}
	u := mainMovieURL(hits)
	if u == "" {
		return out
	}
	src, err := o.fetcher.Fetch(ctx, u)
	if err != nil {
		o.log.Debug("fallback fetch failed", zap.String("url", u), zap.Error(err))
		return out
	}
	return deepToPayload(u, extract.DeepExtract(u, src))
}

func deepToPayload(u string, d *extract.DeepResult) *payload.Payload {
	out := &payload.Payload{}
	title := strings.TrimSpace(d.Title)
	if title == "" && len(d.Work) > 0 {
		title = strings.TrimSpace(d.Work[0])
	}
	if title == "" {
		return out
	}

	out.Works = append(out.Works, payload.Work{
		Title:    title,
		Category: categoryMovie,
		Year:     firstYear(d.Year),
		Summary:  strings.TrimSpace(d.Synopsis),
	})

	seen := map[string]bool{}
	addPerson := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out.Persons = append(out.Persons, payload.Person{Name: name})
		}
	}
	for _, r := range []struct {
		role  string
		names []string
	}{
		{extract.RoleDirector, d.Director},
		{extract.RoleScreenplay, d.Screenplay},
		{extract.RoleAuthor, d.Author},
		{extract.RoleComposer, d.Composer},
		{extract.RoleActor, d.Actor},
		{extract.RoleVoice, d.Voice},
	} {
		for _, n := range r.names {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			addPerson(n)
			out.Credits = append(out.Credits, payload.Credit{Work: title, Person: n, Role: r.role})
		}
	}

	for _, cp := range d.CastPairs {
		name, pid := strings.TrimSpace(cp.Name), strings.TrimSpace(cp.PersonID)
		if name == "" || pid == "" {
			continue
		}
		addPerson(name)
		out.ExternalIDs = append(out.ExternalIDs, payload.ExternalID{
			Entity: payload.EntityPerson, Name: name, Source: web.EigaHost, Value: pid, URL: web.PersonURL(pid),
		})
	}

	if mid, ok := web.ParseMovieID(u); ok {
		out.ExternalIDs = append(out.ExternalIDs, payload.ExternalID{
			Entity: payload.EntityWork, Name: title, Source: web.EigaHost, Value: mid, URL: u,
		})
	}
	return out
}

// firstYear returns the first plausible year, or 0.
func firstYear(years []string) int {
	for _, y := range years {
		if len(y) < 4 {
			continue
		}
		n, err := strconv.Atoi(y[:4])
		if err == nil && n >= 1800 && n <= 2100 {
			return n
		}
	}
	return 0
}
