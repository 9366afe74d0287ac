// Package search runs planned web searches for the ingester. A Searcher
// talks to a search engine; the Planner expands a query into site-scoped
// variants, filters hosts and dumps raw results for audit.
package search

import "context"

// Hit is one web search result.
type Hit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// SafeSearch levels.
const (
	SafeStrict   = "strict"
	SafeModerate = "moderate"
	SafeOff      = "off"
)

// Options tunes a single query.
type Options struct {
	Region     string
	MaxResults int
	SafeSearch string
}

// Searcher is the web-search capability.
type Searcher interface {
	Search(ctx context.Context, query string, opts Options) ([]Hit, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, query string, opts Options) ([]Hit, error)

// Search calls f.
func (f SearcherFunc) Search(ctx context.Context, query string, opts Options) ([]Hit, error) {
	return f(ctx, query, opts)
}
