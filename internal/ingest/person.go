package ingest

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/extract"
	"github.com/hurttlocker/mediakb/internal/metrics"
	"github.com/hurttlocker/mediakb/internal/payload"
	"github.com/hurttlocker/mediakb/internal/search"
	"github.com/hurttlocker/mediakb/internal/web"
)

const (
	maxFilmographyMovies = 50
	categoryMovie        = "映画"
	categoryDrama        = "ドラマ"
)

func personBaseFromHits(hits []search.Hit) string {
	for _, h := range hits {
		if b := web.PersonBaseFromURL(h.URL); b != "" {
			return b
		}
	}
	return ""
}

// resolvePersonBase finds the eiga.com person page for query: first among
// the round's hits, then through two person-scoped searches, then through
// the site's own search pages.
func (o *Orchestrator) resolvePersonBase(ctx context.Context, rs *runState, query string, hits []search.Hit) string {
	if b := personBaseFromHits(hits); b != "" {
		return b
	}

	searcher := o.planner.Searcher()
	for _, fq := range []string{query + " site:eiga.com/person", `"` + query + `" site:eiga.com/person`} {
		if ctx.Err() != nil {
			return ""
		}
		rs.progress("Person fallback search: " + fq)
		found, err := searcher.Search(ctx, fq, search.Options{
			Region:     search.DefaultRegion,
			MaxResults: search.MaxResultsPerQuery,
			SafeSearch: search.SafeModerate,
		})
		if err != nil {
			metrics.RecordSearch("error")
			rs.log.Debug("person fallback search failed", zap.String("variant", fq), zap.Error(err))
			continue
		}
		metrics.RecordSearch("ok")
		var eiga []search.Hit
		for _, h := range found {
			if web.Host(h.URL) == web.EigaHost {
				eiga = append(eiga, h)
			}
		}
		if b := personBaseFromHits(eiga); b != "" {
			rs.progress("Person base resolved: " + b)
			return b
		}
	}

	q := extract.SanitizeQuery(query)
	if q == "" {
		return ""
	}
	for _, u := range web.EigaSearchURLs(q) {
		if ctx.Err() != nil {
			return ""
		}
		rs.progress("Person direct search (eiga.com): " + u)
		src, err := o.fetcher.Fetch(ctx, u)
		if err != nil {
			rs.progress("Person direct search failed: " + err.Error())
			continue
		}
		if b := web.FindPersonLink(src); b != "" {
			rs.progress("Person direct resolved: " + b)
			return b
		}
	}
	return ""
}

// filmography is what the person page and its listings yielded.
type filmography struct {
	base       string
	name       string
	profile    extract.Profile
	dramas     []string
	dramaPages int
	movies     []web.MovieEntry
	moviePages int
}

func (f *filmography) empty() bool {
	return len(f.dramas) == 0 && len(f.movies) == 0 && f.profile.IsZero()
}

// movieTitles lists every film title on the person's listing.
func (f *filmography) movieTitles() []string {
	var out []string
	for _, m := range f.movies {
		if t := extract.SanitizeQuery(m.Title); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// readFilmography loads the profile and both listings. name is the person
// the facts are filed under; forced runs take it from the page itself.
func (o *Orchestrator) readFilmography(ctx context.Context, rs *runState, base, name string, forced bool) *filmography {
	f := &filmography{base: base, name: name}

	if src, err := o.fetcher.Fetch(ctx, base); err != nil {
		rs.log.Debug("person page fetch failed", zap.String("url", base), zap.Error(err))
	} else {
		f.profile = extract.ExtractPersonProfile(src)
		if forced {
			if n := personNameFromPage(base, src); n != "" {
				f.name = n
			}
		}
	}

	rawDramas, dramaPages := web.ReadListing(ctx, o.fetcher,
		web.ListingPageURLs(base, "drama", web.MaxListingPages),
		web.ExtractDramaTitles, func(s string) string { return s })
	f.dramaPages = dramaPages
	for _, t := range rawDramas {
		c := extract.CleanTitleToken(t)
		if c != "" && !extract.IsPureRoleWord(c) && !slices.Contains(f.dramas, c) {
			f.dramas = append(f.dramas, c)
		}
	}
	if len(f.dramas) > 0 {
		rs.progress("PersonDrama: " + strconv.Itoa(len(f.dramas)) + " items, pages=" + strconv.Itoa(dramaPages))
	}

	f.movies, f.moviePages = web.ReadListing(ctx, o.fetcher,
		web.ListingPageURLs(base, "movie", web.MaxListingPages),
		web.ExtractMovieEntries, func(e web.MovieEntry) string { return e.MovieID })
	return f
}

// personNameFromPage reads the person's name from the page title, which
// eiga.com renders as "<name>のプロフィール..." or "<name> : ...".
func personNameFromPage(url, src string) string {
	d := extract.DeepExtract(url, src)
	t := d.Title
	for _, sep := range []string{"のプロフィール", " : ", "：", " - ", "|", "｜", "（", "("} {
		if i := strings.Index(t, sep); i > 0 {
			t = t[:i]
		}
	}
	return extract.SanitizeQuery(t)
}

// toPayload turns the filmography into facts, bypassing the LLM: the person
// with profile fields, drama and film works with actor credits, and
// eiga.com ids for the person and each film.
func (f *filmography) toPayload(rs *runState) *payload.Payload {
	p := &payload.Payload{
		Persons: []payload.Person{{
			Name:      f.name,
			Kana:      f.profile.Kana,
			BirthYear: f.profile.BirthYear,
			DeathYear: f.profile.DeathYear,
			Note:      f.profile.Note,
		}},
		NextQueries: append([]string(nil), f.dramas...),
	}
	for _, t := range f.dramas {
		p.Works = append(p.Works, payload.Work{Title: t, Category: categoryDrama})
		p.Credits = append(p.Credits, payload.Credit{Work: t, Person: f.name, Role: extract.RoleActor})
	}

	movies := f.movies
	if len(movies) > maxFilmographyMovies {
		movies = movies[:maxFilmographyMovies]
	}
	if len(movies) > 0 {
		rs.progress("Movie list (from person page):")
	}
	for _, m := range movies {
		t := extract.CleanTitleToken(m.Title)
		id := strings.TrimSpace(m.MovieID)
		if t == "" || id == "" {
			continue
		}
		u := web.MovieURL(id)
		rs.progress("- " + t + " (id:" + id + ") :: " + u)
		p.Works = append(p.Works, payload.Work{Title: t, Category: categoryMovie})
		p.Credits = append(p.Credits, payload.Credit{Work: t, Person: f.name, Role: extract.RoleActor})
		p.ExternalIDs = append(p.ExternalIDs, payload.ExternalID{
			Entity: payload.EntityWork, Name: t, Source: web.EigaHost, Value: id, URL: u,
		})
	}

	if pid, ok := web.ParsePersonID(f.base); ok {
		p.ExternalIDs = append(p.ExternalIDs, payload.ExternalID{
			Entity: payload.EntityPerson, Name: f.name, Source: web.EigaHost, Value: pid, URL: f.base,
		})
	}
	return p
}

// snapshot is the audit record written for every person page read.
type snapshot struct {
	Topic         string          `json:"topic"`
	PersonBaseURL string          `json:"person_base_url"`
	Profile       extract.Profile `json:"profile"`
	MovieCount    int             `json:"movie_count"`
	MoviePages    int             `json:"movie_pages"`
	DramaCount    int             `json:"drama_count"`
	DramaPages    int             `json:"drama_pages"`
	MoviesSample  []string        `json:"movies_sample"`
}

func (f *filmography) snapshot(topic string) snapshot {
	titles := f.movieTitles()
	if len(titles) > maxFilmographyMovies {
		titles = titles[:maxFilmographyMovies]
	}
	if titles == nil {
		titles = []string{}
	}
	return snapshot{
		Topic:         topic,
		PersonBaseURL: f.base,
		Profile:       f.profile,
		MovieCount:    len(f.movies),
		MoviePages:    f.moviePages,
		DramaCount:    len(f.dramas),
		DramaPages:    f.dramaPages,
		MoviesSample:  titles,
	}
}
