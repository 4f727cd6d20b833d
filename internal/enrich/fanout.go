package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/lifecycle"
	"github.com/leadscout/leadscout/internal/metrics"
)

// Config controls the fanout.
type Config struct {
	// Concurrency bounds simultaneously in-flight site visits, independent of
	// the number of records.
	Concurrency int
	// SecondaryPaths are conventional paths appended to the record's base URL
	// when primary-page extraction is incomplete.
	SecondaryPaths []string
}

const defaultConcurrency = 3

var defaultSecondaryPaths = []string{"/contact-us", "/about-us"}

// Fanout enriches discovered records concurrently and persists each result
// immediately. Emission order across records is not guaranteed.
type Fanout struct {
	fetcher SiteFetcher
	store   leads.ResultStore
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Fanout.
func New(fetcher SiteFetcher, store leads.ResultStore, cfg Config, logger *zap.Logger) *Fanout {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if len(cfg.SecondaryPaths) == 0 {
		cfg.SecondaryPaths = defaultSecondaryPaths
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{fetcher: fetcher, store: store, cfg: cfg, logger: logger}
}

// Run fans records out to at most cfg.Concurrency workers. It consults sig
// before starting each item and before emitting each result: a cancel aborts
// remaining work (already-persisted results stand) and a pause blocks workers
// at the next checkpoint. The returned count is the number of records
// persisted during this call; enrichment failures are local and skipped.
func (f *Fanout) Run(ctx context.Context, records []leads.Record, sig *lifecycle.Signal) (int64, error) {
	var (
		persisted atomic.Int64
		wg        sync.WaitGroup
		sem       = make(chan struct{}, f.cfg.Concurrency)
	)

	for _, rec := range records {
		if err := f.checkpoint(ctx, sig); err != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return persisted.Load(), ctx.Err()
		}

		wg.Add(1)
		go func(rec leads.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			if f.processRecord(ctx, rec, sig) {
				persisted.Add(1)
			}
		}(rec)
	}

	wg.Wait()
	return persisted.Load(), ctx.Err()
}

// processRecord reports whether the record reached the store.
func (f *Fanout) processRecord(ctx context.Context, rec leads.Record, sig *lifecycle.Signal) bool {
	if err := f.checkpoint(ctx, sig); err != nil {
		return false
	}

	if enrichable, ok := rec.(leads.Enrichable); ok && enrichable.SiteURL() != "" {
		enrichment := f.enrichSite(ctx, enrichable.SiteURL())
		if enrichment.Enriched {
			rec = enrichable.WithEnrichment(enrichment)
		}
	}

	// Re-check before emitting: results persisted before a cancel stand, but
	// no new ones land after it is observed.
	if err := f.checkpoint(ctx, sig); err != nil {
		return false
	}

	if err := f.store.UpsertRecord(ctx, rec); err != nil {
		f.logger.Error("persist record failed",
			zap.String("kind", string(rec.Kind())),
			zap.String("key", rec.Key()),
			zap.Error(err),
		)
		return false
	}
	metrics.ObserveRecordPersisted(string(rec.Kind()))
	return true
}

// enrichSite visits the primary URL and, when fields remain unfilled, the
// conventional secondary paths. An unreachable site is a local recoverable
// failure: the zero Enrichment is returned and the bare record still persists.
func (f *Fanout) enrichSite(ctx context.Context, siteURL string) leads.Enrichment {
	metrics.EnrichmentInflightAdd(1)
	defer metrics.EnrichmentInflightAdd(-1)
	start := time.Now()

	if !f.fetcher.Probe(ctx, siteURL) {
		f.logger.Debug("site unreachable, skipping enrichment", zap.String("url", siteURL))
		metrics.ObserveEnrichment("unreachable", time.Since(start))
		return leads.Enrichment{}
	}

	var e leads.Enrichment
	page, err := f.fetcher.Fetch(ctx, siteURL)
	if err != nil {
		f.logger.Debug("primary page fetch failed", zap.String("url", siteURL), zap.Error(err))
		metrics.ObserveEnrichment("fetch_error", time.Since(start))
		return leads.Enrichment{}
	}
	e = ExtractAll(page, e)
	e.Enriched = true

	for _, path := range f.cfg.SecondaryPaths {
		if complete(e) {
			break
		}
		target := leads.ResolveURL(siteURL, path)
		if !f.fetcher.Probe(ctx, target) {
			continue
		}
		secondary, err := f.fetcher.Fetch(ctx, target)
		if err != nil {
			f.logger.Debug("secondary page fetch failed", zap.String("url", target), zap.Error(err))
			continue
		}
		e = ExtractAll(secondary, e)
	}

	metrics.ObserveEnrichment("ok", time.Since(start))
	return e
}

func complete(e leads.Enrichment) bool {
	return e.Email != "" && e.About != "" && e.LogoURL != "" && e.Social.Complete()
}

func (f *Fanout) checkpoint(ctx context.Context, sig *lifecycle.Signal) error {
	if sig == nil {
		return ctx.Err()
	}
	return sig.Checkpoint(ctx)
}
