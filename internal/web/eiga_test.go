package web

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIDs(t *testing.T) {
	id, ok := ParseMovieID("https://eiga.com/movie/101234/")
	assert.True(t, ok)
	assert.Equal(t, "101234", id)

	_, ok = ParseMovieID("https://eiga.com/movie/101234/review/")
	assert.False(t, ok)

	id, ok = ParsePersonID("https://eiga.com/person/55555")
	assert.True(t, ok)
	assert.Equal(t, "55555", id)
}

func TestNormalizePersonURL(t *testing.T) {
	assert.Equal(t, "https://eiga.com/person/55555/", NormalizePersonURL("https://eiga.com/person/55555/movie/2/"))
	assert.Equal(t, "https://eiga.com/person/55555/", NormalizePersonURL("http://www.eiga.com/person/55555"))
	assert.Empty(t, NormalizePersonURL("eiga.com/person/55555/"))
	assert.Empty(t, NormalizePersonURL("https://example.com/person/55555/"))
	assert.Empty(t, NormalizePersonURL("吉沢亮"))
}

func TestPersonBaseFromURL(t *testing.T) {
	assert.Equal(t, "https://eiga.com/person/7/", PersonBaseFromURL("https://eiga.com/person/7/movie/"))
	assert.Empty(t, PersonBaseFromURL("https://www.eiga.com/person/7/"))
	assert.Empty(t, PersonBaseFromURL("https://eiga.com/movie/7/"))
}

func TestIsMainMoviePage(t *testing.T) {
	assert.True(t, IsMainMoviePage("https://eiga.com/movie/1/"))
	assert.False(t, IsMainMoviePage("https://eiga.com/movie/1/photo/"))
	assert.False(t, IsMainMoviePage("https://movies.yahoo.co.jp/movie/1/"))
}

func TestListingPageURLs(t *testing.T) {
	urls := ListingPageURLs("https://eiga.com/person/7/", "movie", 3)
	assert.Equal(t, []string{
		"https://eiga.com/person/7/movie/",
		"https://eiga.com/person/7/movie/2/",
		"https://eiga.com/person/7/movie/3/",
	}, urls)
}

const movieListing = `<ul>
<li><a href="/movie/101/"><span class="title">国宝</span></a></li>
<li><a href="/movie/101/">国宝</a></li>
<li><a href="/movie/102/">キングダム</a></li>
<li><a href="/movie/103/photo/">写真</a></li>
<li><a href="/drama/9/">上映中 ドラマA</a></li>
<li><a href="/tv/abc/">ドラマB</a></li>
<li><a href="/person/5/">誰か</a></li>
</ul>`

func TestExtractListingEntries(t *testing.T) {
	assert.Equal(t, []MovieEntry{{Title: "国宝", MovieID: "101"}, {Title: "キングダム", MovieID: "102"}}, ExtractMovieEntries(movieListing))
	assert.Equal(t, []string{"国宝", "キングダム"}, ExtractMovieTitles(movieListing))
	assert.Equal(t, []string{"上映中 ドラマA", "ドラマB"}, ExtractDramaTitles(movieListing))
	assert.Equal(t, "https://eiga.com/person/5/", FindPersonLink(movieListing))
	assert.Empty(t, FindPersonLink("<p>none</p>"))
}

type mapGetter map[string]string

func (m mapGetter) Fetch(_ context.Context, u string) (string, error) {
	if s, ok := m[u]; ok {
		return s, nil
	}
	return "", errors.New("not found")
}

func TestReadListingStopsWhenNothingNew(t *testing.T) {
	base := "https://eiga.com/person/7/"
	g := mapGetter{
		base + "movie/":    `<a href="/movie/1/">A</a><a href="/movie/2/">B</a>`,
		base + "movie/2/":  `<a href="/movie/3/">C</a>`,
		base + "movie/3/":  `<a href="/movie/3/">C</a>`,
		base + "movie/4/":  `<a href="/movie/4/">D</a>`,
		base + "movie/10/": `<a href="/movie/5/">E</a>`,
	}
	items, pages := ReadListing(context.Background(), g, ListingPageURLs(base, "movie", MaxListingPages),
		ExtractMovieEntries, func(e MovieEntry) string { return e.Title + "|" + e.MovieID })

	assert.Equal(t, 3, pages)
	assert.Len(t, items, 3)
}

func TestReadListingStopsOnFetchError(t *testing.T) {
	base := "https://eiga.com/person/7/"
	g := mapGetter{base + "drama/": `<a href="/drama/1/">X</a>`}
	items, pages := ReadListing(context.Background(), g, ListingPageURLs(base, "drama", MaxListingPages),
		ExtractDramaTitles, func(s string) string { return s })

	assert.Equal(t, 1, pages)
	assert.Equal(t, []string{"X"}, items)
}

func TestEigaSearchURLs(t *testing.T) {
	urls := EigaSearchURLs("吉沢 亮")
	assert.Len(t, urls, 3)
	assert.Equal(t, "https://eiga.com/search/?q=%E5%90%89%E6%B2%A2+%E4%BA%AE", urls[0])
}
