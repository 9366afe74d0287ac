package web

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hurttlocker/mediakb/internal/extract"
)

// EigaHost is the film database the ingester reads person and film pages from.
const EigaHost = "eiga.com"

// MaxListingPages bounds how many pages of a person's film or drama list
// are read.
const MaxListingPages = 20

var (
	moviePath      = regexp.MustCompile(`^/movie/(\d+)/?$`)
	personPath     = regexp.MustCompile(`^/person/(\d+)/?$`)
	personPrefix   = regexp.MustCompile(`^/person/(\d+)(?:/|$)`)
	personAnyPath  = regexp.MustCompile(`^/person/(\d+)(?:/.*)?$`)
	personHrefAttr = regexp.MustCompile(`href="(/person/(\d+)/?)"`)
	movieHref      = regexp.MustCompile(`^/movie/(\d+)/$`)
	dramaHref      = regexp.MustCompile(`^(?:/drama/\d+/|/tv/[^"]+/)$`)
)

// ParseMovieID returns the id of an eiga.com main film page URL.
func ParseMovieID(rawURL string) (string, bool) {
	return matchPath(rawURL, moviePath)
}

// ParsePersonID returns the id of an eiga.com person page URL.
func ParsePersonID(rawURL string) (string, bool) {
	return matchPath(rawURL, personPath)
}

func matchPath(rawURL string, re *regexp.Regexp) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// PersonURL is the canonical person page URL for an id.
func PersonURL(id string) string { return "https://eiga.com/person/" + id + "/" }

// MovieURL is the canonical film page URL for an id.
func MovieURL(id string) string { return "https://eiga.com/movie/" + id + "/" }

// NormalizePersonURL canonicalizes any absolute eiga.com person URL,
// including sub-pages like /person/<id>/movie/. It returns "" for
// anything else.
func NormalizePersonURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	if !strings.Contains(strings.ToLower(u.Host), EigaHost) {
		return ""
	}
	m := personAnyPath.FindStringSubmatch(u.Path)
	if m == nil {
		return ""
	}
	return PersonURL(m[1])
}

// PersonBaseFromURL returns the canonical person URL when rawURL is on
// eiga.com exactly and points at a person page or one of its sub-pages.
func PersonBaseFromURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || strings.ToLower(u.Host) != EigaHost {
		return ""
	}
	m := personPrefix.FindStringSubmatch(u.Path)
	if m == nil {
		return ""
	}
	return PersonURL(m[1])
}

// IsMainMoviePage reports whether rawURL is an eiga.com /movie/<id>/ page.
func IsMainMoviePage(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || strings.ToLower(u.Host) != EigaHost {
		return false
	}
	return moviePath.MatchString(u.Path)
}

// Host returns the lowercased host of rawURL, or "".
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// ListingPageURLs returns the paginated list URLs of a person's films
// (kind "movie") or dramas (kind "drama"): base/kind/, base/kind/2/, ...
func ListingPageURLs(base, kind string, maxPages int) []string {
	root := strings.TrimRight(base, "/") + "/" + kind + "/"
	urls := []string{root}
	for p := 2; p <= maxPages; p++ {
		urls = append(urls, fmt.Sprintf("%s%d/", root, p))
	}
	return urls
}

// MovieEntry is one film on a person's listing.
type MovieEntry struct {
	Title   string `json:"title"`
	MovieID string `json:"movie_id"`
}

// ExtractMovieEntries returns the distinct (title, id) film links on a page.
func ExtractMovieEntries(src string) []MovieEntry {
	var out []MovieEntry
	seen := map[MovieEntry]bool{}
	for _, a := range extract.Anchors(src) {
		m := movieHref.FindStringSubmatch(a.Href)
		if m == nil {
			continue
		}
		e := MovieEntry{Title: extract.SanitizeQuery(a.Text), MovieID: m[1]}
		if e.Title == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// ExtractMovieTitles returns the distinct film titles linked on a page.
func ExtractMovieTitles(src string) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range ExtractMovieEntries(src) {
		if !seen[e.Title] {
			seen[e.Title] = true
			out = append(out, e.Title)
		}
	}
	return out
}

// ExtractDramaTitles returns the distinct titles linked as /drama/<id>/ or
// /tv/.../ on a page.
func ExtractDramaTitles(src string) []string {
	var out []string
	seen := map[string]bool{}
	for _, a := range extract.Anchors(src) {
		if !dramaHref.MatchString(a.Href) {
			continue
		}
		t := extract.SanitizeQuery(a.Text)
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// FindPersonLink returns the canonical URL of the first person link in a
// page, or "".
func FindPersonLink(src string) string {
	m := personHrefAttr.FindStringSubmatch(src)
	if m == nil {
		return ""
	}
	return PersonURL(m[2])
}

// ReadListing walks paginated listing URLs and collects items with a key
// function for dedup. It stops at the first page that fails to load or
// adds nothing new. pages counts the pages read successfully.
func ReadListing[T any](ctx context.Context, g Getter, urls []string, parse func(string) []T, key func(T) string) (items []T, pages int) {
	seen := map[string]bool{}
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		src, err := g.Fetch(ctx, u)
		if err != nil {
			break
		}
		pages++
		added := false
		for _, it := range parse(src) {
			k := key(it)
			if seen[k] {
				continue
			}
			seen[k] = true
			items = append(items, it)
			added = true
		}
		if !added {
			break
		}
	}
	return items, pages
}

// EigaSearchURLs are the on-site search pages tried when web search cannot
// find a person page.
func EigaSearchURLs(q string) []string {
	esc := url.QueryEscape(q)
	return []string{
		"https://eiga.com/search/?q=" + esc,
		"https://eiga.com/search/?s=person&k=" + esc,
		"https://eiga.com/search/?s=1&k=" + esc,
	}
}
