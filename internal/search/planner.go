package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/extract"
	"github.com/hurttlocker/mediakb/internal/metrics"
)

// QueryResults holds the raw hits of one plan variant.
type QueryResults struct {
	PlanQuery string `json:"plan_query"`
	Results   []Hit  `json:"results"`
}

// Result is the outcome of PlanAndSearch.
type Result struct {
	Hits     []Hit
	Plan     []string
	PerQuery []QueryResults
	// DumpPath is empty when no dump was written.
	DumpPath string
}

// PlannerOptions configures a Planner.
type PlannerOptions struct {
	Searcher Searcher
	// DumpDir is the artifact root; dumps go under DumpDir/search. Empty
	// disables dumps.
	DumpDir string
	Logger  *zap.Logger
	Now     func() time.Time
}

// Planner runs the site-scoped query plan for a topic.
type Planner struct {
	searcher Searcher
	dumpDir  string
	log      *zap.Logger
	now      func() time.Time
}

// NewPlanner builds a Planner. A nil Searcher defaults to DuckDuckGo.
func NewPlanner(opts PlannerOptions) *Planner {
	p := &Planner{
		searcher: opts.Searcher,
		dumpDir:  opts.DumpDir,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if p.searcher == nil {
		p.searcher = NewDuckDuckGo()
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Searcher returns the underlying search capability.
func (p *Planner) Searcher() Searcher { return p.searcher }

// PlanAndSearch executes the plan for query in order, merging hits until
// MaxHitsTotal. Failing variants are skipped. The only error returned is a
// cancelled context.
func (p *Planner) PlanAndSearch(ctx context.Context, query, domain string) (*Result, error) {
	res := &Result{Plan: Plan(query, domain)}
	film := IsFilmDomain(domain)
	seen := make(map[string]bool)

	for _, variant := range res.Plan {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hits, err := p.searcher.Search(ctx, variant, Options{
			Region:     DefaultRegion,
			MaxResults: MaxResultsPerQuery,
			SafeSearch: SafeModerate,
		})
		if err != nil {
			metrics.RecordSearch("error")
			p.log.Warn("search variant failed", zap.String("variant", variant), zap.Error(err))
			res.PerQuery = append(res.PerQuery, QueryResults{PlanQuery: variant, Results: []Hit{}})
			continue
		}
		metrics.RecordSearch("ok")
		if hits == nil {
			hits = []Hit{}
		}
		res.PerQuery = append(res.PerQuery, QueryResults{PlanQuery: variant, Results: hits})

		for _, h := range hits {
			if len(res.Hits) >= MaxHitsTotal {
				break
			}
			if h.URL == "" || seen[h.URL] {
				continue
			}
			u, err := url.Parse(h.URL)
			if err != nil || !acceptHost(u.Hostname(), variant, film) {
				continue
			}
			seen[h.URL] = true
			res.Hits = append(res.Hits, h)
		}
		if len(res.Hits) >= MaxHitsTotal {
			break
		}
	}

	res.DumpPath = p.dump(query, domain, res)
	return res, nil
}

type dumpFile struct {
	Topic      string         `json:"topic"`
	Domain     string         `json:"domain"`
	Timestamp  string         `json:"timestamp"`
	SearchPlan []string       `json:"search_plan"`
	PerQuery   []QueryResults `json:"per_query_results"`
	MergedHits []Hit          `json:"merged_hits"`
}

func (p *Planner) dump(query, domain string, res *Result) string {
	if p.dumpDir == "" {
		return ""
	}
	now := p.now()
	dir := filepath.Join(p.dumpDir, "search")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.log.Warn("search dump dir", zap.Error(err))
		return ""
	}
	merged := res.Hits
	if merged == nil {
		merged = []Hit{}
	}
	data, err := json.MarshalIndent(dumpFile{
		Topic:      query,
		Domain:     domain,
		Timestamp:  now.Format(time.RFC3339),
		SearchPlan: res.Plan,
		PerQuery:   res.PerQuery,
		MergedHits: merged,
	}, "", "  ")
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("search_%s_%s.json", now.Format("20060102-150405"), extract.SafeFileToken(query)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		p.log.Warn("search dump write", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}
