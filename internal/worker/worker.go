// Package worker executes one project run end to end: discovery across the
// configured sources followed by the enrichment fanout.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/engine"
	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/lifecycle"
	"github.com/leadscout/leadscout/internal/metrics"
)

// Crawler traverses one site. *engine.Engine is the production implementation.
type Crawler interface {
	Crawl(ctx context.Context, page leads.PageSession, site engine.SiteConfig, sig *lifecycle.Signal) ([]leads.Record, error)
}

// Enricher runs the second phase over the discovered records and reports how
// many were persisted. *enrich.Fanout is the production implementation.
type Enricher interface {
	Run(ctx context.Context, records []leads.Record, sig *lifecycle.Signal) (int64, error)
}

// SourceFunc plans the site strategy table for one project.
type SourceFunc func(p leads.Project) []engine.SiteConfig

// Worker is the scheduler's runner. One browser process is exclusively owned
// by the run for its duration.
type Worker struct {
	store    leads.ResultStore
	browsers leads.BrowserFactory
	crawler  Crawler
	enricher Enricher
	sources  SourceFunc
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	store leads.ResultStore,
	browsers leads.BrowserFactory,
	crawler Crawler,
	enricher Enricher,
	sources SourceFunc,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    store,
		browsers: browsers,
		crawler:  crawler,
		enricher: enricher,
		sources:  sources,
		logger:   logger,
	}
}

// Run performs discovery and enrichment for one queue job. Cancellation is
// not an error: discovery unwinds at the next page boundary and the records
// persisted so far stand. The returned count is the number of records
// persisted during this run.
func (w *Worker) Run(ctx context.Context, job leads.QueueJob, sig *lifecycle.Signal) (int64, error) {
	p, err := w.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return 0, fmt.Errorf("load project %s: %w", job.ProjectID, err)
	}

	browser, err := w.browsers.NewBrowser(ctx)
	if err != nil {
		return 0, fmt.Errorf("open browser: %w", err)
	}
	defer browser.Close()

	discovered := w.discover(ctx, browser, p, sig)
	if len(discovered) == 0 {
		return 0, ctx.Err()
	}

	persisted, err := w.enricher.Run(ctx, discovered, sig)
	if err != nil {
		return persisted, fmt.Errorf("enrichment fanout: %w", err)
	}
	return persisted, nil
}

// discover crawls every planned site with a fresh tab each, deduplicating
// across sites by kind and natural key. One site's failure is local: it is
// logged and the remaining sites still run.
func (w *Worker) discover(
	ctx context.Context,
	browser leads.Browser,
	p leads.Project,
	sig *lifecycle.Signal,
) []leads.Record {
	var (
		all    []leads.Record
		seen   = make(map[string]struct{})
		counts = make(map[leads.Kind]map[string]int)
	)
	for _, site := range w.sources(p) {
		if err := w.checkpoint(ctx, sig); err != nil {
			break
		}

		batch, err := w.crawlSite(ctx, browser, site, sig)
		if err != nil {
			w.logger.Warn("site crawl failed",
				zap.String("project_id", p.ProjectID),
				zap.String("site", site.Name),
				zap.Error(err),
			)
			continue
		}

		added := 0
		for _, rec := range batch {
			key := string(rec.Kind()) + "|" + rec.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, rec)
			added++
			if counts[rec.Kind()] == nil {
				counts[rec.Kind()] = make(map[string]int)
			}
			counts[rec.Kind()][site.Name]++
		}
		w.logger.Info("site discovered records",
			zap.String("project_id", p.ProjectID),
			zap.String("site", site.Name),
			zap.Int("records", added),
		)
	}

	for kind, bySite := range counts {
		for site, n := range bySite {
			metrics.ObserveRecordsDiscovered(string(kind), site, n)
		}
	}
	return all
}

func (w *Worker) crawlSite(
	ctx context.Context,
	browser leads.Browser,
	site engine.SiteConfig,
	sig *lifecycle.Signal,
) ([]leads.Record, error) {
	session, err := browser.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()
	return w.crawler.Crawl(ctx, session, site, sig)
}

func (w *Worker) checkpoint(ctx context.Context, sig *lifecycle.Signal) error {
	if sig == nil {
		return ctx.Err()
	}
	return sig.Checkpoint(ctx)
}
