// Package web fetches pages for the ingester and knows the URL and listing
// layout of eiga.com person and film pages.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hurttlocker/mediakb/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// Defaults for FetcherOptions.
const (
	DefaultTimeout   = 8 * time.Second
	DefaultMaxChars  = 100000
	DefaultUserAgent = "Mozilla/5.0 (IngestBot/1.0)"
)

// Getter is what the ingester needs from a fetcher.
type Getter interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.Status)
}

// FetcherOptions configures NewFetcher. Zero values take the defaults.
type FetcherOptions struct {
	Timeout   time.Duration
	MaxChars  int
	UserAgent string
	// ForcedCharsets maps a host substring to the encoding to decode with,
	// overriding header and meta sniffing. eiga.com is forced to UTF-8.
	ForcedCharsets map[string]string
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Fetcher downloads pages as decoded text, bounded in time and size.
type Fetcher struct {
	opts   FetcherOptions
	client *http.Client
	log    *zap.Logger
}

// NewFetcher builds a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.ForcedCharsets == nil {
		opts.ForcedCharsets = map[string]string{"eiga.com": "utf-8"}
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{opts: opts, client: client, log: log}
}

// Fetch GETs rawURL following redirects and returns at most MaxChars
// characters of decoded text. Any error means the page contributes nothing.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.RecordFetch("error")
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordFetch("status")
		return "", &StatusError{URL: rawURL, Status: resp.StatusCode}
	}

	// Multi-byte pages need up to 4 bytes per character.
	body := io.LimitReader(resp.Body, int64(f.opts.MaxChars)*4)
	text, err := f.decode(resp.Request.URL, resp.Header.Get("Content-Type"), body)
	if err != nil {
		metrics.RecordFetch("error")
		return "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	metrics.RecordFetch("ok")

	if r := []rune(text); len(r) > f.opts.MaxChars {
		text = string(r[:f.opts.MaxChars])
	}
	f.log.Debug("fetched page", zap.String("url", rawURL), zap.Int("chars", len([]rune(text))))
	return text, nil
}

func (f *Fetcher) decode(u *url.URL, contentType string, body io.Reader) (string, error) {
	if name := f.forcedCharset(u); name != "" {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", err
		}
		if strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
			return strings.ToValidUTF8(string(raw), ""), nil
		}
		enc, err := htmlindex.Get(name)
		if err != nil {
			return "", fmt.Errorf("unknown charset %q: %w", name, err)
		}
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	r, err := charset.NewReader(body, contentType)
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}

func (f *Fetcher) forcedCharset(u *url.URL) string {
	if u == nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for key, cs := range f.opts.ForcedCharsets {
		if strings.Contains(host, key) {
			return cs
		}
	}
	return ""
}
