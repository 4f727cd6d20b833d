// Package enrich visits a discovered record's own website and augments the
// record with contact metadata under a bounded concurrency limit.
package enrich

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// Page is one fetched document plus the raw bytes the extractors need for
// entity-level email matching.
type Page struct {
	URL  string
	Doc  *goquery.Document
	HTML []byte
}

// SiteFetcher retrieves enrichment pages. Probe is an existence check run
// before navigating to conventional secondary paths.
type SiteFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Probe(ctx context.Context, url string) bool
}

// FetcherConfig controls collector behavior.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyFetcher implements SiteFetcher with a gocolly collector.
type CollyFetcher struct {
	cfg  FetcherConfig
	base *colly.Collector
}

// NewCollyFetcher builds a fetcher with a pooled transport shared by clones.
func NewCollyFetcher(cfg FetcherConfig) *CollyFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &CollyFetcher{cfg: cfg, base: c}
}

// Fetch gets url and parses the body. Non-2xx statuses are returned as errors
// so callers can treat the site as unreachable and skip enrichment.
func (f *CollyFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector := f.base.Clone()
	collector.Context = ctx
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := collector.Visit(url); err != nil {
		return nil, fmt.Errorf("visit %s: %w", url, err)
	}
	collector.Wait()

	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", url, status)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return &Page{URL: url, Doc: doc, HTML: body}, nil
}

// Probe reports whether url answers 2xx within the timeout.
func (f *CollyFetcher) Probe(ctx context.Context, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
