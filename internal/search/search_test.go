package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddgPage = `<html><body>
<div class="results">
  <div class="result results_links results_links_deep web-result">
    <h2 class="result__title">
      <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Feiga.com%2Fperson%2F12345%2F&amp;rut=abc">吉沢亮 : 映画.com</a>
    </h2>
    <a class="result__snippet" href="#">吉沢亮の出演作品  一覧</a>
  </div>
  <div class="result result--ad">
    <a class="result__a" href="https://ads.example/">ad</a>
  </div>
  <div class="result results_links">
    <a class="result__a" href="https://movies.yahoo.co.jp/person/9/">Yahoo映画</a>
    <div class="result__snippet">プロフィール</div>
  </div>
</div>
</body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = w.Write([]byte(ddgPage))
	}))
	defer srv.Close()

	d := NewDuckDuckGo()
	d.Endpoint = srv.URL + "/html/"
	hits, err := d.Search(context.Background(), "吉沢亮", Options{Region: "jp-jp", MaxResults: 5, SafeSearch: SafeStrict})
	require.NoError(t, err)

	assert.Equal(t, "吉沢亮", got.Get("q"))
	assert.Equal(t, "jp-jp", got.Get("kl"))
	assert.Equal(t, "1", got.Get("kp"))

	require.Len(t, hits, 2)
	assert.Equal(t, "https://eiga.com/person/12345/", hits[0].URL)
	assert.Equal(t, "吉沢亮 : 映画.com", hits[0].Title)
	assert.Equal(t, "吉沢亮の出演作品 一覧", hits[0].Snippet)
	assert.Equal(t, "duckduckgo", hits[0].Source)
	assert.Equal(t, "https://movies.yahoo.co.jp/person/9/", hits[1].URL)
}

func TestDuckDuckGoMaxResults(t *testing.T) {
	hits, err := parseDuckDuckGo(ddgPage, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestDuckDuckGoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDuckDuckGo()
	d.Endpoint = srv.URL
	_, err := d.Search(context.Background(), "x", Options{})
	assert.Error(t, err)
}

func TestPlan(t *testing.T) {
	assert.Equal(t, []string{
		"吉沢亮 site:eiga.com/person",
		"吉沢亮 site:eiga.com",
		"吉沢亮 映画.com",
		"吉沢亮 映画com",
		"吉沢亮 site:movies.yahoo.co.jp",
		"吉沢亮 site:.jp",
	}, Plan("吉沢亮", "映画"))
	assert.Equal(t, []string{"吉沢亮 site:.jp"}, Plan(" 吉沢亮 ", "音楽"))
}

func TestPlanAndSearchFiltersAndCaps(t *testing.T) {
	s := SearcherFunc(func(_ context.Context, q string, opts Options) ([]Hit, error) {
		assert.Equal(t, DefaultRegion, opts.Region)
		assert.Equal(t, MaxResultsPerQuery, opts.MaxResults)
		switch q {
		case "国宝 site:eiga.com/person":
			return []Hit{
				{Title: "a", URL: "https://eiga.com/person/1/"},
				{Title: "yt", URL: "https://www.youtube.com/watch?v=1"},
				{Title: "other", URL: "https://example.jp/x"},
			}, nil
		case "国宝 site:eiga.com":
			return nil, errors.New("rate limited")
		case "国宝 site:.jp":
			return []Hit{
				{Title: "a", URL: "https://eiga.com/person/1/"},
				{Title: "jp", URL: "https://example.jp/x"},
				{Title: "com", URL: "https://example.com/x"},
				{Title: "mercari", URL: "https://jp.mercari.com/item/1"},
			}, nil
		}
		return nil, nil
	})

	dir := t.TempDir()
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	p := NewPlanner(PlannerOptions{Searcher: s, DumpDir: dir, Now: func() time.Time { return now }})
	res, err := p.PlanAndSearch(context.Background(), "国宝", "映画")
	require.NoError(t, err)

	require.Len(t, res.Hits, 2)
	assert.Equal(t, "https://eiga.com/person/1/", res.Hits[0].URL)
	assert.Equal(t, "https://example.jp/x", res.Hits[1].URL)
	assert.Len(t, res.PerQuery, len(res.Plan))

	assert.Equal(t, filepath.Join(dir, "search", "search_20250601-123045_国宝.json"), res.DumpPath)
	data, err := os.ReadFile(res.DumpPath)
	require.NoError(t, err)
	var dump map[string]any
	require.NoError(t, json.Unmarshal(data, &dump))
	for _, k := range []string{"topic", "domain", "timestamp", "search_plan", "per_query_results", "merged_hits"} {
		assert.Contains(t, dump, k)
	}
	assert.Equal(t, "国宝", dump["topic"])
}

func TestPlanAndSearchStopsAtCap(t *testing.T) {
	calls := 0
	s := SearcherFunc(func(_ context.Context, q string, _ Options) ([]Hit, error) {
		calls++
		var hits []Hit
		for i := 0; i < 10; i++ {
			hits = append(hits, Hit{Title: "t", URL: "https://eiga.com/movie/" + string(rune('a'+i)) + "/"})
		}
		return hits, nil
	})
	res, err := NewPlanner(PlannerOptions{Searcher: s}).PlanAndSearch(context.Background(), "x", "映画")
	require.NoError(t, err)
	assert.Len(t, res.Hits, MaxHitsTotal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, res.DumpPath)
}

func TestPlanAndSearchNonFilmAcceptsAnyHost(t *testing.T) {
	s := SearcherFunc(func(_ context.Context, _ string, _ Options) ([]Hit, error) {
		return []Hit{{Title: "c", URL: "https://example.com/"}, {Title: "yt", URL: "https://youtube.com/x"}}, nil
	})
	res, err := NewPlanner(PlannerOptions{Searcher: s}).PlanAndSearch(context.Background(), "x", "音楽")
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "https://example.com/", res.Hits[0].URL)
}
