package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/leadscout/leadscout/internal/engine"
	"github.com/leadscout/leadscout/internal/enrich"
	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/lifecycle"
	"github.com/leadscout/leadscout/internal/store/memory"
)

type fakeSession struct{}

func (fakeSession) Open(context.Context, string) error              { return nil }
func (fakeSession) Evaluate(context.Context, string, any) error     { return nil }
func (fakeSession) Scroll(context.Context, int) error               { return nil }
func (fakeSession) Click(context.Context, string) error             { return nil }
func (fakeSession) WaitForSelector(context.Context, string, time.Duration) error {
	return nil
}
func (fakeSession) Close() error { return nil }

type fakeBrowser struct{ sessions int }

func (b *fakeBrowser) NewSession(context.Context) (leads.PageSession, error) {
	b.sessions++
	return fakeSession{}, nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakeBrowserFactory struct {
	browser *fakeBrowser
	opened  int
}

func (f *fakeBrowserFactory) NewBrowser(context.Context) (leads.Browser, error) {
	f.opened++
	return f.browser, nil
}

// fakeCrawler serves canned batches keyed by site name.
type fakeCrawler struct {
	batches map[string][]leads.Record
	errs    map[string]error
	crawled []string
}

func (c *fakeCrawler) Crawl(
	_ context.Context,
	_ leads.PageSession,
	site engine.SiteConfig,
	_ *lifecycle.Signal,
) ([]leads.Record, error) {
	c.crawled = append(c.crawled, site.Name)
	if err := c.errs[site.Name]; err != nil {
		return nil, err
	}
	return c.batches[site.Name], nil
}

type fakeEnricher struct {
	records []leads.Record
	count   int64
	err     error
}

func (e *fakeEnricher) Run(_ context.Context, records []leads.Record, _ *lifecycle.Signal) (int64, error) {
	e.records = records
	return e.count, e.err
}

func lead(place, website string) leads.Lead {
	return leads.Lead{
		PlaceID:         place,
		VendorID:        "v1",
		ProjectID:       "p1",
		ProjectCategory: "bakery",
		StoreName:       "Store " + place,
		Website:         website,
	}
}

func seedProject(t *testing.T, store *memory.Store) leads.Project {
	t.Helper()
	p := leads.Project{
		ProjectID:        "p1",
		VendorID:         "v1",
		City:             "Lisbon",
		BusinessCategory: "bakery",
		Status:           leads.StatusRunning,
	}
	require.NoError(t, store.CreateProject(context.Background(), p))
	return p
}

func staticSources(sites ...engine.SiteConfig) SourceFunc {
	return func(leads.Project) []engine.SiteConfig { return sites }
}

func TestRun_DiscoversAndEnriches(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedProject(t, store)

	crawler := &fakeCrawler{batches: map[string][]leads.Record{
		"alpha": {lead("ChIJ1", ""), lead("ChIJ2", "")},
		"beta":  {lead("ChIJ3", "")},
	}}
	enricher := &fakeEnricher{count: 3}
	factory := &fakeBrowserFactory{browser: &fakeBrowser{}}

	w := New(store, factory, crawler, enricher,
		staticSources(engine.SiteConfig{Name: "alpha"}, engine.SiteConfig{Name: "beta"}), nil)

	persisted, err := w.Run(context.Background(), leads.QueueJob{ProjectID: "p1"}, lifecycle.NewSignal())
	require.NoError(t, err)
	require.Equal(t, int64(3), persisted)
	require.Equal(t, []string{"alpha", "beta"}, crawler.crawled)
	require.Len(t, enricher.records, 3)
	require.Equal(t, 1, factory.opened)
	// Each site gets its own tab.
	require.Equal(t, 2, factory.browser.sessions)
}

func TestRun_DedupesAcrossSites(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedProject(t, store)

	crawler := &fakeCrawler{batches: map[string][]leads.Record{
		"alpha": {lead("ChIJ1", "")},
		"beta":  {lead("ChIJ1", ""), lead("ChIJ2", "")},
	}}
	enricher := &fakeEnricher{count: 2}

	w := New(store, &fakeBrowserFactory{browser: &fakeBrowser{}}, crawler, enricher,
		staticSources(engine.SiteConfig{Name: "alpha"}, engine.SiteConfig{Name: "beta"}), nil)

	_, err := w.Run(context.Background(), leads.QueueJob{ProjectID: "p1"}, lifecycle.NewSignal())
	require.NoError(t, err)
	require.Len(t, enricher.records, 2)
}

func TestRun_SiteFailureIsLocal(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedProject(t, store)

	crawler := &fakeCrawler{
		batches: map[string][]leads.Record{"beta": {lead("ChIJ1", "")}},
		errs:    map[string]error{"alpha": errors.New("nav timeout")},
	}
	enricher := &fakeEnricher{count: 1}

	w := New(store, &fakeBrowserFactory{browser: &fakeBrowser{}}, crawler, enricher,
		staticSources(engine.SiteConfig{Name: "alpha"}, engine.SiteConfig{Name: "beta"}), nil)

	persisted, err := w.Run(context.Background(), leads.QueueJob{ProjectID: "p1"}, lifecycle.NewSignal())
	require.NoError(t, err)
	require.Equal(t, int64(1), persisted)
	require.Equal(t, []string{"alpha", "beta"}, crawler.crawled)
}

func TestRun_UnknownProjectFails(t *testing.T) {
	t.Parallel()

	w := New(memory.New(), &fakeBrowserFactory{browser: &fakeBrowser{}},
		&fakeCrawler{}, &fakeEnricher{}, staticSources(), nil)

	_, err := w.Run(context.Background(), leads.QueueJob{ProjectID: "ghost"}, lifecycle.NewSignal())
	require.Error(t, err)
}

// fetcherStub serves canned HTML; any URL not in pages is unreachable.
type fetcherStub struct {
	pages map[string]string
}

func (f *fetcherStub) Probe(_ context.Context, url string) bool {
	_, ok := f.pages[url]
	return ok
}

func (f *fetcherStub) Fetch(_ context.Context, url string) (*enrich.Page, error) {
	html, ok := f.pages[url]
	if !ok {
		return nil, errors.New("unreachable")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return nil, err
	}
	return &enrich.Page{URL: url, Doc: doc, HTML: []byte(html)}, nil
}

// Two candidates are discovered; one of them has a reachable site carrying an
// email. Both records persist, the reachable one enriched, and the run ends
// Finished-eligible with two persisted results.
func TestRun_EndToEnd_EnrichesReachableAndKeepsBare(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedProject(t, store)

	crawler := &fakeCrawler{batches: map[string][]leads.Record{
		"map-search": {
			lead("ChIJ1", "https://reachable.example"),
			lead("ChIJ2", "https://unreachable.example"),
		},
	}}
	fanout := enrich.New(
		&fetcherStub{pages: map[string]string{
			"https://reachable.example": `<html><body>Contact: a@b.com</body></html>`,
		}},
		store,
		enrich.Config{Concurrency: 2},
		nil,
	)

	w := New(store, &fakeBrowserFactory{browser: &fakeBrowser{}}, crawler, fanout,
		staticSources(engine.SiteConfig{Name: "map-search"}), nil)

	persisted, err := w.Run(context.Background(), leads.QueueJob{ProjectID: "p1"}, lifecycle.NewSignal())
	require.NoError(t, err)
	require.Equal(t, int64(2), persisted)

	total, err := store.CountProjectRecords(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
}

// A cancel observed before any page is processed leaves zero persisted
// results, which the lifecycle tracker maps to Cancelled.
func TestRun_EndToEnd_CancelBeforeDiscoveryPersistsNothing(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedProject(t, store)

	crawler := &fakeCrawler{batches: map[string][]leads.Record{
		"map-search": {lead("ChIJ1", "")},
	}}
	fanout := enrich.New(&fetcherStub{}, store, enrich.Config{Concurrency: 1}, nil)

	sig := lifecycle.NewSignal()
	sig.RequestCancel()

	w := New(store, &fakeBrowserFactory{browser: &fakeBrowser{}}, crawler, fanout,
		staticSources(engine.SiteConfig{Name: "map-search"}), nil)

	persisted, err := w.Run(context.Background(), leads.QueueJob{ProjectID: "p1"}, sig)
	require.NoError(t, err)
	require.Zero(t, persisted)
	require.Empty(t, crawler.crawled)

	total, err := store.CountProjectRecords(context.Background(), "p1")
	require.NoError(t, err)
	require.Zero(t, total)
}
