package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	ddgEndpoint = "https://html.duckduckgo.com/html/"
	ddgSource   = "duckduckgo"
	ddgTimeout  = 20 * time.Second
)

// DuckDuckGo searches through the keyless HTML endpoint.
type DuckDuckGo struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

// NewDuckDuckGo returns a client for the public HTML endpoint.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		Endpoint:  ddgEndpoint,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		Client:    &http.Client{},
	}
}

// Search implements Searcher.
func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) ([]Hit, error) {
	params := url.Values{}
	params.Set("q", query)
	if opts.Region != "" {
		params.Set("kl", opts.Region)
	}
	switch opts.SafeSearch {
	case SafeStrict:
		params.Set("kp", "1")
	case SafeOff:
		params.Set("kp", "-2")
	default:
		params.Set("kp", "-1")
	}

	ctx, cancel := context.WithTimeout(ctx, ddgTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", d.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en;q=0.5")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	max := opts.MaxResults
	if max <= 0 {
		max = 10
	}
	return parseDuckDuckGo(string(body), max)
}

// parseDuckDuckGo walks result blocks for result__a links and
// result__snippet text.
func parseDuckDuckGo(src string, max int) ([]Hit, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parsing search HTML: %w", err)
	}

	var hits []Hit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(hits) >= max {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if h := resultHit(n); h.URL != "" && h.Title != "" {
				hits = append(hits, h)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hits, nil
}

func resultHit(n *html.Node) Hit {
	h := Hit{Source: ddgSource}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				h.URL = attrValue(n, "href")
				h.Title = textContent(n)
			case hasClass(n, "result__snippet"):
				h.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	h.URL = unwrapRedirect(h.URL)
	return h
}

// unwrapRedirect turns //duckduckgo.com/l/?uddg=<target>&... into target.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attrValue(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
