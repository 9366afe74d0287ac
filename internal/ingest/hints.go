package ingest

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/mediakb/internal/extract"
	"github.com/hurttlocker/mediakb/internal/search"
	"github.com/hurttlocker/mediakb/internal/web"
)

const (
	maxDeepPages    = 6
	deepConcurrency = 3
	maxCreditHints  = 20

	yahooMoviesHost = "movies.yahoo.co.jp"
)

// Structured candidate labels. The type switch looks for the first two.
const (
	labelPersons = "- 人物候補: "
	labelWorks   = "- 作品候補: "
	labelYears   = "- 年候補: "
	labelRoles   = "- 役割候補: "
)

// hints are the four sections of the hint block shown to collectors.
type hints struct {
	list       string
	structured string
	credits    string
	deep       string
	hitCount   int
}

// personOnly replaces every section with the person page pointer.
func personOnly(base string) hints {
	return hints{list: "- PERSON_URL :: " + base}
}

func (h hints) block() string {
	var b strings.Builder
	if h.list != "" {
		b.WriteString("\n\n## 参考ヒント(検索結果)\n" + h.list + "\n")
	}
	if h.structured != "" {
		b.WriteString("\n## 抽出候補(自動)\n" + h.structured + "\n")
	}
	if h.credits != "" {
		b.WriteString("\n## クレジット候補(自動)\n" + h.credits + "\n")
	}
	if h.deep != "" {
		b.WriteString("\n## 詳細抽出(サイト精読)\n" + h.deep + "\n")
	}
	return b.String()
}

// dump echoes every section to the progress stream.
func (h hints) dump(progress func(string)) {
	for _, sec := range []struct{ name, body string }{
		{"Hints", h.list},
		{"Candidates", h.structured},
		{"Credit candidates", h.credits},
		{"Deep candidates", h.deep},
	} {
		if sec.body == "" {
			continue
		}
		progress(sec.name + " dump begin")
		for _, ln := range strings.Split(sec.body, "\n") {
			progress(ln)
		}
		progress(sec.name + " dump end")
	}
	n := 0
	if h.list != "" {
		n = h.hitCount
	}
	progress("Hints: " + strconv.Itoa(n) + " items")
}

func (h *hints) addStructured(line string) {
	if line == "" {
		return
	}
	if h.structured == "" {
		h.structured = line
		return
	}
	h.structured += "\n" + line
}

func (o *Orchestrator) buildHints(ctx context.Context, hits []search.Hit) hints {
	return hints{
		list:       hitList(hits),
		structured: structuredHints(hits),
		credits:    creditHints(hits),
		deep:       o.deepHints(ctx, hits),
		hitCount:   len(hits),
	}
}

func hitList(hits []search.Hit) string {
	lines := make([]string, 0, len(hits))
	for _, h := range hits {
		lines = append(lines, "- "+h.Title+" :: "+h.URL+" :: "+h.Snippet)
	}
	return strings.Join(lines, "\n")
}

// structuredHints pools the per-hit candidates, keeping first-seen order
// and capping each kind.
func structuredHints(hits []search.Hit) string {
	var persons, works, years, roles []string
	for _, h := range hits {
		c := extract.ExtractCandidates(h.Title, h.Snippet)
		persons = pool(persons, c.Persons, 20)
		works = pool(works, c.Works, 20)
		years = pool(years, c.Years, 20)
		roles = pool(roles, c.Roles, 10)
	}
	var lines []string
	for _, sec := range []struct {
		label string
		vals  []string
	}{
		{labelPersons, persons},
		{labelWorks, works},
		{labelYears, years},
		{labelRoles, roles},
	} {
		if len(sec.vals) > 0 {
			lines = append(lines, sec.label+strings.Join(sec.vals, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

func pool(acc, vals []string, limit int) []string {
	for _, v := range vals {
		if len(acc) >= limit {
			break
		}
		if v != "" && !slices.Contains(acc, v) {
			acc = append(acc, v)
		}
	}
	return acc
}

func creditHints(hits []search.Hit) string {
	var lines []string
	for _, h := range hits {
		c := extract.ExtractCandidates(h.Title, h.Snippet)
		for _, cr := range extract.ExtractCredits(h.Title, h.Snippet, c.Works, c.Years) {
			lines = append(lines, "- "+orDash(cr.Work, "-")+" ("+orDash(cr.Year, "-")+") : "+
				orDash(cr.Person, "?")+" ["+orDash(cr.Role, "?")+"]")
			if len(lines) >= maxCreditHints {
				return strings.Join(lines, "\n")
			}
		}
	}
	return strings.Join(lines, "\n")
}

func isDeepTarget(rawURL string) bool {
	return web.Host(rawURL) == yahooMoviesHost || web.IsMainMoviePage(rawURL)
}

// deepHints reads film pages among the hits. Pages are fetched concurrently
// but rendered in hit order; at most maxDeepPages successful reads are kept.
func (o *Orchestrator) deepHints(ctx context.Context, hits []search.Hit) string {
	var urls []string
	for _, h := range hits {
		if u := strings.TrimSpace(h.URL); u != "" && isDeepTarget(u) {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return ""
	}

	pages := make([]*extract.DeepResult, len(urls))
	var g errgroup.Group
	g.SetLimit(deepConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			src, err := o.fetcher.Fetch(ctx, u)
			if err != nil {
				o.log.Debug("deep fetch failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			pages[i] = extract.DeepExtract(u, src)
			return nil
		})
	}
	_ = g.Wait()

	var lines []string
	kept := 0
	for _, d := range pages {
		if d == nil {
			continue
		}
		if kept >= maxDeepPages {
			break
		}
		lines = append(lines, d.HintLines()...)
		kept++
	}
	return strings.Join(lines, "\n")
}

func orDash(s, dash string) string {
	if strings.TrimSpace(s) == "" {
		return dash
	}
	return s
}
