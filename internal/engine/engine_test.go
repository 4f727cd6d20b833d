package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/lifecycle"
)

// fakeSession scripts page behavior: scroll heights, next-control presence,
// and per-page extraction batches.
type fakeSession struct {
	heights     []float64
	heightIdx   int
	nextPresent []bool
	clickIdx    int
	stable      []string
	stableIdx   int
	opened      []string
	clicks      int
}

func (f *fakeSession) Open(_ context.Context, url string) error {
	f.opened = append(f.opened, url)
	return nil
}

func (f *fakeSession) Evaluate(_ context.Context, expr string, out any) error {
	switch {
	case strings.Contains(expr, "scrollBy"):
		*(out.(*bool)) = true
	case strings.Contains(expr, "scrollHeight"):
		h := f.heights[min(f.heightIdx, len(f.heights)-1)]
		f.heightIdx++
		*(out.(*float64)) = h
	case strings.Contains(expr, "!== null"):
		present := false
		if f.clickIdx < len(f.nextPresent) {
			present = f.nextPresent[f.clickIdx]
		}
		*(out.(*bool)) = present
	case strings.Contains(expr, "::SPLIT::"):
		s := ""
		if f.stableIdx < len(f.stable) {
			s = f.stable[f.stableIdx]
			f.stableIdx++
		}
		*(out.(*string)) = s
	case expr == "document.documentElement.outerHTML":
		*(out.(*string)) = "<html></html>"
	}
	return nil
}

func (f *fakeSession) Scroll(context.Context, int) error { return nil }

func (f *fakeSession) Click(context.Context, string) error {
	f.clicks++
	f.clickIdx++
	return nil
}

func (f *fakeSession) WaitForSelector(context.Context, string, time.Duration) error { return nil }

func (f *fakeSession) Close() error { return nil }

func testConfig() Config {
	return Config{
		ScrollDelta:  100,
		MaxScrolls:   5,
		SettleMin:    time.Millisecond,
		SettleMax:    2 * time.Millisecond,
		NavTimeout:   time.Second,
		ClickTimeout: 50 * time.Millisecond,
		MaxPages:     10,
	}
}

func newsBatch(links ...string) []leads.Record {
	out := make([]leads.Record, 0, len(links))
	for _, l := range links {
		out = append(out, leads.NewsItem{VendorID: "v1", Topic: "europe", Link: l, Title: "t"})
	}
	return out
}

func TestCrawl_ScrollStopsWhenHeightStopsGrowing(t *testing.T) {
	t.Parallel()

	session := &fakeSession{heights: []float64{100, 200, 200, 200}}
	extracted := 0
	site := SiteConfig{
		Name: "feed",
		URL:  "https://example.com/feed",
		Mode: ModeScroll,
		Extract: func(context.Context, leads.PageSession) ([]leads.Record, error) {
			extracted++
			return newsBatch("https://example.com/a", "https://example.com/b"), nil
		},
	}

	eng := New(testConfig(), nil, nil)
	records, err := eng.Crawl(context.Background(), session, site, lifecycle.NewSignal())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 1, extracted)
	require.Equal(t, []string{"https://example.com/feed"}, session.opened)
}

func TestCrawl_PaginateStopsOnRepeatedFingerprint(t *testing.T) {
	t.Parallel()

	pages := [][]leads.Record{
		newsBatch("https://example.com/1", "https://example.com/2"),
		newsBatch("https://example.com/1", "https://example.com/2"),
	}
	call := 0
	session := &fakeSession{
		nextPresent: []bool{true, true, true},
		stable:      []string{"a", "b", "c", "d", "e", "f", "g", "h"},
	}
	site := SiteConfig{
		Name:           "board",
		URL:            "https://example.com/jobs",
		Mode:           ModePaginate,
		NextSelector:   ".next",
		StableSelector: ".card",
		Extract: func(context.Context, leads.PageSession) ([]leads.Record, error) {
			batch := pages[min(call, len(pages)-1)]
			call++
			return batch, nil
		},
	}

	eng := New(testConfig(), nil, nil)
	records, err := eng.Crawl(context.Background(), session, site, lifecycle.NewSignal())
	require.NoError(t, err)
	// Page 2 repeats page 1: crawl stops and returns page 1's set once.
	require.Len(t, records, 2)
	require.Equal(t, 2, call)
}

func TestCrawl_PaginateStopsWhenNextAbsent(t *testing.T) {
	t.Parallel()

	session := &fakeSession{nextPresent: []bool{false}}
	call := 0
	site := SiteConfig{
		Name:           "board",
		URL:            "https://example.com/jobs",
		Mode:           ModePaginate,
		NextSelector:   ".next",
		StableSelector: ".card",
		Extract: func(context.Context, leads.PageSession) ([]leads.Record, error) {
			call++
			return newsBatch("https://example.com/only"), nil
		},
	}

	eng := New(testConfig(), nil, nil)
	records, err := eng.Crawl(context.Background(), session, site, lifecycle.NewSignal())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 1, call)
	require.Zero(t, session.clicks)
}

func TestCrawl_PaginateDedupsAcrossPages(t *testing.T) {
	t.Parallel()

	pages := [][]leads.Record{
		newsBatch("https://example.com/1?utm_source=x", "https://example.com/2"),
		newsBatch("https://example.com/1", "https://example.com/3"),
	}
	call := 0
	session := &fakeSession{
		nextPresent: []bool{true, false},
		stable:      []string{"a", "b", "c", "d"},
	}
	site := SiteConfig{
		Name:           "board",
		URL:            "https://example.com/jobs",
		Mode:           ModePaginate,
		NextSelector:   ".next",
		StableSelector: ".card",
		Extract: func(context.Context, leads.PageSession) ([]leads.Record, error) {
			batch := pages[min(call, len(pages)-1)]
			call++
			return batch, nil
		},
	}

	eng := New(testConfig(), nil, nil)
	records, err := eng.Crawl(context.Background(), session, site, lifecycle.NewSignal())
	require.NoError(t, err)
	// /1 appears on both pages (with and without tracking params): kept once.
	require.Len(t, records, 3)
}

func TestCrawl_CancelReturnsGatheredRecordsWithoutError(t *testing.T) {
	t.Parallel()

	sig := lifecycle.NewSignal()
	call := 0
	session := &fakeSession{
		nextPresent: []bool{true, true},
		stable:      []string{"a", "b", "c", "d"},
	}
	site := SiteConfig{
		Name:           "board",
		URL:            "https://example.com/jobs",
		Mode:           ModePaginate,
		NextSelector:   ".next",
		StableSelector: ".card",
		Extract: func(context.Context, leads.PageSession) ([]leads.Record, error) {
			call++
			// Cancel lands after the first page's extraction.
			sig.RequestCancel()
			return newsBatch("https://example.com/" + strings.Repeat("x", call)), nil
		},
	}

	eng := New(testConfig(), nil, nil)
	records, err := eng.Crawl(context.Background(), session, site, sig)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 1, call)
}

func TestCrawl_ScrollsInnerFeedWhenConfigured(t *testing.T) {
	t.Parallel()

	session := &fakeSession{heights: []float64{100, 100}}
	site := SiteConfig{
		Name:           "map-feed",
		URL:            "https://example.com/search",
		Mode:           ModeScroll,
		ScrollSelector: `div[role="feed"]`,
		Extract: func(context.Context, leads.PageSession) ([]leads.Record, error) {
			return newsBatch("https://example.com/a"), nil
		},
	}

	eng := New(testConfig(), nil, nil)
	records, err := eng.Crawl(context.Background(), session, site, lifecycle.NewSignal())
	require.NoError(t, err)
	require.Len(t, records, 1)
}

type memBlob struct{ paths []string }

func (m *memBlob) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	m.paths = append(m.paths, path)
	return "mem://" + path, nil
}

func TestCrawl_ArchivesSnapshots(t *testing.T) {
	t.Parallel()

	blob := &memBlob{}
	session := &fakeSession{heights: []float64{100, 100}}
	site := SiteConfig{
		Name:           "feed",
		URL:            "https://example.com/feed",
		Mode:           ModeScroll,
		SnapshotPrefix: "p1/feed",
		Extract: func(context.Context, leads.PageSession) ([]leads.Record, error) {
			return newsBatch("https://example.com/a"), nil
		},
	}

	eng := New(testConfig(), blob, nil)
	_, err := eng.Crawl(context.Background(), session, site, lifecycle.NewSignal())
	require.NoError(t, err)
	require.Equal(t, []string{"p1/feed/page-1.html"}, blob.paths)
}
