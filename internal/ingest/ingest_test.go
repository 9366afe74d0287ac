package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/mediakb/internal/llm"
	"github.com/hurttlocker/mediakb/internal/payload"
	"github.com/hurttlocker/mediakb/internal/persona"
	"github.com/hurttlocker/mediakb/internal/search"
	"github.com/hurttlocker/mediakb/internal/store"
	"github.com/hurttlocker/mediakb/internal/web"
)

type llmCall struct {
	system string
	prompt string
}

// stubLLM answers through fn and records every call.
type stubLLM struct {
	mu    sync.Mutex
	calls []llmCall
	fn    func(ctx context.Context, system, prompt string) (string, error)
}

func (s *stubLLM) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, llmCall{system: opts.System, prompt: prompt})
	s.mu.Unlock()
	return s.fn(ctx, opts.System, prompt)
}

func (s *stubLLM) Name() string { return "stub/test" }

func (s *stubLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func reply(text string) func(context.Context, string, string) (string, error) {
	return func(context.Context, string, string) (string, error) { return text, nil }
}

type stubPersonas struct {
	provider llm.Provider
}

func (p stubPersonas) CollectorNames() []string         { return []string{persona.SearcherName} }
func (p stubPersonas) PersonaPrompt(string) string      { return "あなたは調査員です。" }
func (p stubPersonas) LLM(string) (llm.Provider, error) { return p.provider, nil }

// stubFetcher serves fixed pages and 404s everything else.
type stubFetcher map[string]string

func (f stubFetcher) Fetch(_ context.Context, u string) (string, error) {
	if src, ok := f[u]; ok {
		return src, nil
	}
	return "", &web.StatusError{URL: u, Status: 404}
}

type harness struct {
	o        *Orchestrator
	kb       *store.SQLiteStore
	llm      *stubLLM
	searches *atomic.Int32
	progress []string
	dir      string
}

func newHarness(t *testing.T, hits []search.Hit, pages stubFetcher, fn func(context.Context, string, string) (string, error)) *harness {
	t.Helper()
	dir := t.TempDir()
	kb, err := store.NewStore(store.StoreConfig{DBPath: filepath.Join(dir, "media.db")})
	require.NoError(t, err)
	t.Cleanup(func() { kb.Close() })

	h := &harness{kb: kb, llm: &stubLLM{fn: fn}, searches: &atomic.Int32{}, dir: dir}
	planner := search.NewPlanner(search.PlannerOptions{
		Searcher: search.SearcherFunc(func(context.Context, string, search.Options) ([]search.Hit, error) {
			h.searches.Add(1)
			return hits, nil
		}),
	})
	if pages == nil {
		pages = stubFetcher{}
	}
	h.o, err = New(Options{
		Planner:     planner,
		Fetcher:     pages,
		Personas:    stubPersonas{provider: h.llm},
		KB:          kb,
		ArtifactDir: filepath.Join(dir, "logs"),
	})
	require.NoError(t, err)
	return h
}

func (h *harness) request(topic string) Request {
	return Request{
		Topic:    topic,
		Domain:   "映画",
		Rounds:   1,
		Expand:   true,
		Progress: func(s string) { h.progress = append(h.progress, s) },
	}
}

var newsHits = []search.Hit{{
	Title:   "吉沢亮 主演作まとめ - 映画.com",
	URL:     "https://eiga.com/news/20250601/7/",
	Snippet: "吉沢亮が主演『国宝』が公開",
}}

const fullReply = `<<<JSON_START>>>
{"persons":[{"name":"吉沢亮","aliases":[]}],
 "works":[{"title":"国宝","category":"映画","year":2025},{"title":"キングダム","category":"映画","year":2019}],
 "credits":[{"work":"国宝","person":"吉沢亮","role":"actor","character":"立花喜久雄"},{"work":"キングダム","person":"吉沢亮","role":"actor","character":null}],
 "external_ids":[],"unified":[],"note":null,"next_queries":[]}
<<<JSON_END>>>`

const emptyReply = `<<<JSON_START>>>{"persons":[],"works":[],"credits":[],"external_ids":[],"unified":[],"note":null,"next_queries":[]}<<<JSON_END>>>`

func TestRunCollectsAndCommits(t *testing.T) {
	h := newHarness(t, newsHits, nil, reply(fullReply))
	ctx := context.Background()

	res, err := h.o.Run(ctx, h.request("吉沢亮"))
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.RoundsRun)
	assert.Equal(t, 1, res.Collected)
	assert.Len(t, res.Payload.Persons, 1)
	assert.Len(t, res.Payload.Works, 2)
	assert.Len(t, res.Payload.Credits, 2)
	assert.Equal(t, "国宝", res.NextKeyword)
	assert.Equal(t, 2, res.Stats.CreditsCreated)

	c, err := h.kb.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Persons)
	assert.Equal(t, int64(2), c.Works)
	assert.Equal(t, int64(2), c.Credits)

	people, err := h.kb.SearchPersons(ctx, "吉沢亮", 5)
	require.NoError(t, err)
	require.Len(t, people, 1)
	credits, err := h.kb.PersonCredits(ctx, people[0].ID)
	require.NoError(t, err)
	assert.Len(t, credits, 2)

	require.Equal(t, 1, h.llm.callCount())
	call := h.llm.calls[0]
	assert.True(t, strings.HasPrefix(call.prompt, "収集対象: 吉沢亮"))
	assert.Contains(t, call.prompt, "## 参考ヒント(検索結果)")
	assert.Contains(t, call.prompt, "https://eiga.com/news/20250601/7/")
	assert.True(t, strings.HasPrefix(call.system, "あなたは調査員です。\n\n## 収集モード\n"))
	assert.Contains(t, call.system, "対象ドメイン: 映画")

	assert.Contains(t, h.progress, "Collected JSON from サーチャー")
	assert.Contains(t, h.progress, "Registered to DB")
	assert.Contains(t, h.progress, "NextKeyword: 国宝")

	logs, err := filepath.Glob(filepath.Join(h.dir, "logs", "ingest", "ingest_*.log"))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestRunRediscoveredWorkIsStoredOnce(t *testing.T) {
	h := newHarness(t, newsHits, nil, func(_ context.Context, _, prompt string) (string, error) {
		person := "吉沢亮"
		if strings.HasPrefix(prompt, "収集対象: 横浜流星") {
			person = "横浜流星"
		}
		return `{"persons":[{"name":"` + person + `"}],"works":[{"title":"国宝","category":"映画","year":2025}],` +
			`"credits":[{"work":"国宝","person":"` + person + `","role":"actor"}]}`, nil
	})
	ctx := context.Background()

	_, err := h.o.Run(ctx, h.request("吉沢亮"))
	require.NoError(t, err)
	first, err := h.kb.SearchWorks(ctx, "国宝", 5)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = h.o.Run(ctx, h.request("横浜流星"))
	require.NoError(t, err)
	second, err := h.kb.SearchWorks(ctx, "国宝", 5)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	c, err := h.kb.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Works)
	assert.Equal(t, int64(2), c.Persons)

	cast, err := h.kb.WorkCast(ctx, second[0].ID)
	require.NoError(t, err)
	assert.Len(t, cast, 2)
}

func TestRunRepairsEmptyPayload(t *testing.T) {
	h := newHarness(t, newsHits, nil, func(_ context.Context, system, _ string) (string, error) {
		if strings.HasPrefix(system, "以下の入力テキストを") {
			return fullReply, nil
		}
		return emptyReply, nil
	})

	res, err := h.o.Run(context.Background(), h.request("吉沢亮"))
	require.NoError(t, err)

	require.Equal(t, 2, h.llm.callCount())
	assert.Equal(t, RepairPrompt("映画"), h.llm.calls[1].system)
	assert.Equal(t, emptyReply, h.llm.calls[1].prompt)

	assert.Equal(t, 1, res.Collected, "only the repaired payload is kept")
	assert.Len(t, res.Payload.Persons, 1)
	assert.Len(t, res.Payload.Works, 2)
	assert.Contains(t, h.progress, "Repaired JSON payload")
}

const filmPage = `<html><head><title>ignored</title>
<meta property="og:title" content="国宝">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Movie","name":"国宝","datePublished":"2025-06-06","description":"任侠の一門に生まれた喜久雄の物語。","director":[{"@type":"Person","name":"李相日"}],"actor":[{"@type":"Person","name":"吉沢亮"},{"@type":"Person","name":"横浜流星"}]}</script>
</head><body>
<p>脚本：奥寺佐渡子</p>
<a href="/person/12345/">吉沢亮</a>
<a href="/person/67890/">横浜流星</a>
</body></html>`

var movieHits = []search.Hit{{
	Title:   "国宝 : 作品情報 - 映画.com",
	URL:     "https://eiga.com/movie/101234/",
	Snippet: "監督：李相日",
}}

func TestRunStrictNonJSONFallsBackToFilmPage(t *testing.T) {
	const prose = "申し訳ありませんが、該当する情報は見つかりませんでした。"
	h := newHarness(t, movieHits, stubFetcher{"https://eiga.com/movie/101234/": filmPage}, reply(prose))
	req := h.request("国宝")
	req.Strict = true

	res, err := h.o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, h.llm.callCount(), "strict runs do not retry")
	assert.True(t, strings.HasPrefix(h.llm.calls[0].system, "## 収集モード(STRICT)\n"))
	assert.Contains(t, h.llm.calls[0].prompt, "## 詳細抽出(サイト精読)")
	assert.Contains(t, h.llm.calls[0].prompt, "- 監督: 李相日")

	require.Len(t, res.Payload.Works, 1)
	w := res.Payload.Works[0]
	assert.Equal(t, "国宝", w.Title)
	assert.Equal(t, "映画", w.Category)
	assert.Equal(t, 2025, w.Year)
	assert.Len(t, res.Payload.Persons, 4)
	assert.Len(t, res.Payload.Credits, 4)
	assert.Len(t, res.Payload.ExternalIDs, 3)

	raw, err := os.ReadFile(filepath.Join(h.dir, "logs", "raw", "ingest_raw_r1_サーチャー.txt"))
	require.NoError(t, err)
	assert.Equal(t, prose, string(raw))
	assert.Contains(t, h.progress, "Non-JSON from サーチャー")
	assert.Contains(t, h.progress, "Collected fallback payload (deep)")
	assert.Contains(t, h.progress, "Preview: "+prose)
}

func TestRunRetriesNonJSONWithStrictPrompt(t *testing.T) {
	h := newHarness(t, newsHits, nil, func(_ context.Context, system, _ string) (string, error) {
		if strings.HasPrefix(system, "## 収集モード(STRICT-RETRY)") {
			return fullReply, nil
		}
		return "調べた結果を文章でお伝えします。", nil
	})

	res, err := h.o.Run(context.Background(), h.request("吉沢亮"))
	require.NoError(t, err)

	require.Equal(t, 2, h.llm.callCount())
	assert.Equal(t, h.llm.calls[0].prompt, h.llm.calls[1].prompt)
	assert.Equal(t, 1, res.Collected)
	assert.Len(t, res.Payload.Works, 2)
	assert.Contains(t, h.progress, "Collected JSON (retry) from サーチャー")
}

func TestRunSurvivesCollectorFailures(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		h := newHarness(t, newsHits, nil, func(context.Context, string, string) (string, error) {
			return "", errors.New("upstream 500")
		})
		res, err := h.o.Run(context.Background(), h.request("吉沢亮"))
		require.NoError(t, err)
		assert.Zero(t, res.Collected)
		assert.Empty(t, res.Payload.Persons)
		assert.NotNil(t, res.Stats)
		assert.Contains(t, h.progress, "Error from サーチャー: upstream 500")
	})

	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t, newsHits, nil, func(ctx context.Context, _, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		h.o.extractTimeout = 20 * time.Millisecond
		res, err := h.o.Run(context.Background(), h.request("吉沢亮"))
		require.NoError(t, err)
		assert.Zero(t, res.Collected)
		assert.Contains(t, h.progress, "Timeout from サーチャー")
	})
}

func TestRunExpandsAndAutoContinues(t *testing.T) {
	h := newHarness(t, newsHits, nil, func(_ context.Context, _, prompt string) (string, error) {
		switch {
		case strings.HasPrefix(prompt, "収集対象: 吉沢亮"):
			return `{"persons":[{"name":"吉沢亮"}],"next_queries":["横浜流星"]}`, nil
		case strings.HasPrefix(prompt, "収集対象: 横浜流星"):
			return `{"persons":[{"name":"横浜流星"}],"works":[{"title":"国宝","category":"映画"}]}`, nil
		}
		return `{"works":[{"title":"国宝","category":"映画","year":2025}]}`, nil
	})

	t.Run("rounds without budget", func(t *testing.T) {
		req := h.request("吉沢亮")
		req.Rounds = 2
		res, err := h.o.Run(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, []string{"吉沢亮"}, res.Executed)
		assert.Equal(t, 1, res.RoundsRun)
		assert.Equal(t, "横浜流星", res.NextKeyword)
	})

	t.Run("with budget", func(t *testing.T) {
		req := h.request("吉沢亮")
		req.Rounds = 1
		req.AutoNextMax = 3
		res, err := h.o.Run(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, []string{"吉沢亮", "横浜流星", "国宝"}, res.Executed)
		assert.Equal(t, 3, res.RoundsRun, "stops once the queue is empty")
	})

	t.Run("no expand", func(t *testing.T) {
		req := h.request("吉沢亮")
		req.Rounds = 3
		req.Expand = false
		res, err := h.o.Run(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, []string{"吉沢亮"}, res.Executed)
	})
}

func TestRunAutoContinueSpendsBudget(t *testing.T) {
	names := []string{"横浜流星", "高畑充希", "寺島しのぶ", "渡辺謙", "田中泯", "森七菜", "見上愛", "三浦貴大"}
	tests := []struct {
		rounds, autoNext, want int
	}{
		{rounds: 3, autoNext: 0, want: 1},
		{rounds: 3, autoNext: 3, want: 4},
		{rounds: 1, autoNext: 3, want: 4},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("rounds=%d auto_next=%d", tc.rounds, tc.autoNext), func(t *testing.T) {
			var calls atomic.Int32
			// every reply suggests a query the run has not seen yet
			h := newHarness(t, newsHits, nil, func(context.Context, string, string) (string, error) {
				next := names[int(calls.Add(1))%len(names)]
				return `{"persons":[{"name":"吉沢亮"}],"next_queries":["` + next + `"]}`, nil
			})
			req := h.request("吉沢亮")
			req.Rounds = tc.rounds
			req.AutoNextMax = tc.autoNext
			res, err := h.o.Run(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.RoundsRun)
			assert.Len(t, res.Executed, tc.want)
		})
	}
}

func TestRunCancelStopsButCommits(t *testing.T) {
	h := newHarness(t, newsHits, nil, reply(`{"persons":[{"name":"吉沢亮"}],"next_queries":["横浜流星"]}`))
	ctx := context.Background()

	t.Run("before first round", func(t *testing.T) {
		req := h.request("吉沢亮")
		req.Cancel = func() bool { return true }
		res, err := h.o.Run(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Zero(t, res.RoundsRun)
		assert.Zero(t, h.llm.callCount())
	})

	t.Run("between rounds", func(t *testing.T) {
		polls := 0
		req := h.request("吉沢亮")
		req.AutoNextMax = 2
		req.Cancel = func() bool { polls++; return polls > 1 }
		res, err := h.o.Run(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Equal(t, 1, res.RoundsRun)

		c, err := h.kb.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), c.Persons, "collected payloads are still committed")
	})
}

func TestRunEmptyTopic(t *testing.T) {
	h := newHarness(t, nil, nil, reply(emptyReply))
	_, err := h.o.Run(context.Background(), h.request("  。"))
	assert.ErrorIs(t, err, ErrEmptyTopic)
}

const personPage = `<html><head><meta property="og:title" content="吉沢亮のプロフィール・作品情報"></head><body>
<h1>吉沢亮（よしざわ りょう）</h1>
<dl><dt>生年月日</dt><dd>1994年2月1日</dd><dt>出身</dt><dd>東京都</dd></dl>
<p>1994年2月1日生まれ、東京都出身。2009年に芸能界デビューし、数々の映画やドラマに出演してきた俳優として知られる存在。代表作に「キングダム」など多数の作品がある。</p>
</body></html>`

func personSite() stubFetcher {
	return stubFetcher{
		"https://eiga.com/person/12345/":       personPage,
		"https://eiga.com/person/12345/drama/": `<a href="/drama/9/">上映中 ドラマA</a><a href="/tv/abc/">ドラマB</a>`,
		"https://eiga.com/person/12345/movie/": `<a href="/movie/101/">国宝</a><a href="/movie/102/">キングダム</a>`,
	}
}

func TestRunForcedPersonURL(t *testing.T) {
	h := newHarness(t, nil, personSite(), func(context.Context, string, string) (string, error) {
		return "", errors.New("offline")
	})
	ctx := context.Background()

	res, err := h.o.Run(ctx, h.request("https://eiga.com/person/12345/"))
	require.NoError(t, err)
	assert.Zero(t, h.searches.Load(), "forced mode never searches")

	p := res.Payload
	require.Len(t, p.Persons, 1)
	assert.Equal(t, "吉沢亮", p.Persons[0].Name)
	assert.Equal(t, "よしざわ りょう", p.Persons[0].Kana)
	assert.Equal(t, 1994, p.Persons[0].BirthYear)

	var titles []string
	for _, w := range p.Works {
		titles = append(titles, w.Title+"/"+w.Category)
	}
	assert.Equal(t, []string{"ドラマA/ドラマ", "ドラマB/ドラマ", "国宝/映画", "キングダム/映画"}, titles)
	assert.Len(t, p.Credits, 4)
	require.Len(t, p.ExternalIDs, 3)
	personID := p.ExternalIDs[2]
	assert.Equal(t, payload.EntityPerson, personID.Entity)
	assert.Equal(t, "吉沢亮", personID.Name)
	assert.Equal(t, "12345", personID.Value)

	require.Equal(t, 1, h.llm.callCount())
	assert.Contains(t, h.llm.calls[0].prompt, "- PERSON_URL :: https://eiga.com/person/12345/")
	assert.NotContains(t, h.llm.calls[0].prompt, "## 抽出候補(自動)", "forced mode adds no structured hints")

	snaps, err := filepath.Glob(filepath.Join(h.dir, "logs", "person", "person_*.json"))
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	works, err := h.kb.SearchWorks(ctx, "国宝", 5)
	require.NoError(t, err)
	require.Len(t, works, 1)
	detail, err := h.kb.WorkDetail(ctx, works[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "101", detail.ExternalIDs[0].Value)
}

func TestRunForcedPersonURLWithoutName(t *testing.T) {
	site := personSite()
	delete(site, "https://eiga.com/person/12345/")
	h := newHarness(t, nil, site, func(context.Context, string, string) (string, error) {
		return "", errors.New("offline")
	})
	ctx := context.Background()

	res, err := h.o.Run(ctx, h.request("https://eiga.com/person/12345/"))
	require.NoError(t, err)

	assert.Contains(t, h.progress, "Skipped filmography payload: person name unknown for https://eiga.com/person/12345/")
	assert.Empty(t, res.Payload.Persons)
	assert.Empty(t, res.Payload.Credits)

	c, err := h.kb.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, c.Persons, "no nameless person is stored")
	assert.Zero(t, c.Credits)
}

func TestRunResolvesPersonFromHits(t *testing.T) {
	hits := []search.Hit{{Title: "吉沢亮 - 映画.com", URL: "https://eiga.com/person/12345/movie/", Snippet: "出演作"}}
	h := newHarness(t, hits, personSite(), reply(emptyReply))

	res, err := h.o.Run(context.Background(), h.request("吉沢亮"))
	require.NoError(t, err)

	require.NotEmpty(t, res.Payload.Persons)
	assert.Equal(t, "吉沢亮", res.Payload.Persons[0].Name)
	assert.Contains(t, h.progress, "Person base resolved: https://eiga.com/person/12345/")

	prompt := h.llm.calls[0].prompt
	assert.Contains(t, prompt, "- PERSON_URL :: https://eiga.com/person/12345/")
	assert.Contains(t, prompt, "- 作品候補: ドラマA, ドラマB")
	assert.NotContains(t, prompt, "出演作", "search hints are suppressed once the person page is known")
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
