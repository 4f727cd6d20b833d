package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/lifecycle"
)

// fakeFetcher serves canned pages and records the peak number of
// simultaneously in-flight fetches.
type fakeFetcher struct {
	mu          sync.Mutex
	pages       map[string]string
	delay       time.Duration
	inflight    int
	maxInflight int
}

func (f *fakeFetcher) Probe(_ context.Context, url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pages[url]
	return ok
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*Page, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	body, ok := f.pages[url]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("fetch %s: no such page", url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &Page{URL: url, Doc: doc, HTML: []byte(body)}, nil
}

type fakeStore struct {
	leads.ResultStore
	mu       sync.Mutex
	records  []leads.Record
	onUpsert func(leads.Record)
}

func (s *fakeStore) UpsertRecord(_ context.Context, rec leads.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if s.onUpsert != nil {
		s.onUpsert(rec)
	}
	return nil
}

func (s *fakeStore) stored() []leads.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]leads.Record, len(s.records))
	copy(out, s.records)
	return out
}

func enrichableLeads(n int) []leads.Record {
	out := make([]leads.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, leads.Lead{
			PlaceID:         fmt.Sprintf("place-%d", i),
			VendorID:        "v1",
			ProjectCategory: "plumbers",
			Website:         fmt.Sprintf("https://biz-%d.example.com", i),
		})
	}
	return out
}

func pagesFor(records []leads.Record) map[string]string {
	pages := make(map[string]string, len(records))
	for _, rec := range records {
		site := rec.(leads.Enrichable).SiteURL()
		pages[site] = `<html><body><p>owner@` + strings.TrimPrefix(site, "https://") + `</p></body></html>`
	}
	return pages
}

func TestFanout_ConcurrencyNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	records := enrichableLeads(12)
	fetcher := &fakeFetcher{pages: pagesFor(records), delay: 10 * time.Millisecond}
	store := &fakeStore{}

	f := New(fetcher, store, Config{Concurrency: 2, SecondaryPaths: []string{"/none"}}, nil)
	persisted, err := f.Run(context.Background(), records, lifecycle.NewSignal())
	require.NoError(t, err)
	require.EqualValues(t, 12, persisted)
	require.Len(t, store.stored(), 12)
	require.LessOrEqual(t, fetcher.maxInflight, 2)
	require.Positive(t, fetcher.maxInflight)
}

func TestFanout_UnreachableSitePersistsBareRecord(t *testing.T) {
	t.Parallel()

	rec := leads.Lead{PlaceID: "p1", VendorID: "v1", Website: "https://down.example.com"}
	fetcher := &fakeFetcher{pages: map[string]string{}}
	store := &fakeStore{}

	f := New(fetcher, store, Config{Concurrency: 1}, nil)
	persisted, err := f.Run(context.Background(), []leads.Record{rec}, lifecycle.NewSignal())
	require.NoError(t, err)
	require.EqualValues(t, 1, persisted)

	got := store.stored()[0].(leads.Lead)
	require.Empty(t, got.Email)
	require.Equal(t, "p1", got.PlaceID)
}

func TestFanout_NonEnrichableRecordPassesThrough(t *testing.T) {
	t.Parallel()

	rec := leads.NewsItem{VendorID: "v1", Topic: "tech", Link: "https://news.example.com/a"}
	fetcher := &fakeFetcher{pages: map[string]string{}}
	store := &fakeStore{}

	f := New(fetcher, store, Config{Concurrency: 1}, nil)
	persisted, err := f.Run(context.Background(), []leads.Record{rec}, lifecycle.NewSignal())
	require.NoError(t, err)
	require.EqualValues(t, 1, persisted)
	require.Equal(t, rec, store.stored()[0])
}

func TestFanout_SecondaryPathFillsMissingFields(t *testing.T) {
	t.Parallel()

	rec := leads.Lead{PlaceID: "p1", VendorID: "v1", Website: "https://biz.example.com"}
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://biz.example.com":            `<html><body><p>welcome</p></body></html>`,
		"https://biz.example.com/contact-us": `<html><body><p>owner@biz.example.com</p></body></html>`,
	}}
	store := &fakeStore{}

	f := New(fetcher, store, Config{Concurrency: 1}, nil)
	persisted, err := f.Run(context.Background(), []leads.Record{rec}, lifecycle.NewSignal())
	require.NoError(t, err)
	require.EqualValues(t, 1, persisted)

	got := store.stored()[0].(leads.Lead)
	require.Equal(t, "owner@biz.example.com", got.Email)
}

func TestFanout_CancelKeepsEarlierResults(t *testing.T) {
	t.Parallel()

	records := enrichableLeads(5)
	fetcher := &fakeFetcher{pages: pagesFor(records)}
	sig := lifecycle.NewSignal()
	store := &fakeStore{}
	store.onUpsert = func(leads.Record) {
		// Cancel after the first result lands.
		sig.RequestCancel()
	}

	f := New(fetcher, store, Config{Concurrency: 1}, nil)
	persisted, err := f.Run(context.Background(), records, sig)
	require.NoError(t, err)
	require.EqualValues(t, 1, persisted)
	require.Len(t, store.stored(), 1)
}

func TestFanout_PauseBlocksUntilResumed(t *testing.T) {
	t.Parallel()

	records := enrichableLeads(3)
	fetcher := &fakeFetcher{pages: pagesFor(records)}
	store := &fakeStore{}
	sig := lifecycle.NewSignal()
	sig.RequestPause()

	f := New(fetcher, store, Config{Concurrency: 1}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.Run(context.Background(), records, sig)
	}()

	time.Sleep(30 * time.Millisecond)
	require.Empty(t, store.stored())

	sig.Resume()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fanout did not finish after resume")
	}
	require.Len(t, store.stored(), 3)
}
