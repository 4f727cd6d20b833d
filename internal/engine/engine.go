package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/lifecycle"
)

// Config controls traversal behavior. These are configuration constants, not
// values derived at runtime.
type Config struct {
	// ScrollDelta is the pixel distance of one scroll step.
	ScrollDelta int
	// MaxScrolls caps infinite-scroll iterations.
	MaxScrolls int
	// SettleMin/SettleMax bound the randomized settle interval between
	// micro-actions; the jitter reduces detectable regularity.
	SettleMin time.Duration
	SettleMax time.Duration
	// NavTimeout bounds the initial navigation.
	NavTimeout time.Duration
	// ClickTimeout bounds waiting for a pagination click to take effect.
	ClickTimeout time.Duration
	// MaxPages is the default paginate-mode page cap.
	MaxPages int
}

const (
	defaultScrollDelta  = 800
	defaultMaxScrolls   = 20
	defaultSettleMin    = 400 * time.Millisecond
	defaultSettleMax    = 900 * time.Millisecond
	defaultNavTimeout   = 45 * time.Second
	defaultClickTimeout = 15 * time.Second
	defaultMaxPages     = 12
)

func (c Config) withDefaults() Config {
	if c.ScrollDelta <= 0 {
		c.ScrollDelta = defaultScrollDelta
	}
	if c.MaxScrolls <= 0 {
		c.MaxScrolls = defaultMaxScrolls
	}
	if c.SettleMin <= 0 {
		c.SettleMin = defaultSettleMin
	}
	if c.SettleMax <= c.SettleMin {
		c.SettleMax = c.SettleMin + defaultSettleMax - defaultSettleMin
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = defaultNavTimeout
	}
	if c.ClickTimeout <= 0 {
		c.ClickTimeout = defaultClickTimeout
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	return c
}

// Engine drives one page session through a site's traversal strategy and
// returns the deduplicated records it extracted. A finished crawl is not
// restartable; retrying requires a fresh navigation.
type Engine struct {
	cfg       Config
	snapshots leads.BlobStore
	logger    *zap.Logger
}

// New constructs an Engine. snapshots may be nil to skip page archival.
func New(cfg Config, snapshots leads.BlobStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg.withDefaults(), snapshots: snapshots, logger: logger}
}

// Crawl opens the site and traverses it, consulting sig before each page
// transition. Cancellation is never surfaced as an error: the records gathered
// so far are returned. A navigation timeout is that one site's failure.
func (e *Engine) Crawl(
	ctx context.Context,
	page leads.PageSession,
	site SiteConfig,
	sig *lifecycle.Signal,
) ([]leads.Record, error) {
	if site.Extract == nil {
		return nil, fmt.Errorf("site %s: extract func is required", site.Name)
	}

	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavTimeout)
	err := page.Open(navCtx, site.URL)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", site.URL, err)
	}
	if site.StableSelector != "" {
		// Best effort; some sites render late or not at all.
		if err := page.WaitForSelector(ctx, site.StableSelector, e.cfg.ClickTimeout); err != nil {
			e.logger.Debug("stable selector never appeared",
				zap.String("site", site.Name),
				zap.Error(err),
			)
		}
	}

	switch site.Mode {
	case ModePaginate:
		return e.paginate(ctx, page, site, sig)
	default:
		return e.scrollAndExtract(ctx, page, site, sig)
	}
}

func (e *Engine) scrollAndExtract(
	ctx context.Context,
	page leads.PageSession,
	site SiteConfig,
	sig *lifecycle.Signal,
) ([]leads.Record, error) {
	for i := 0; i < e.cfg.MaxScrolls; i++ {
		if stop, err := e.checkpoint(ctx, sig); stop {
			return nil, err
		}

		before, err := e.scrollHeight(ctx, page, site)
		if err != nil {
			return nil, fmt.Errorf("read height: %w", err)
		}
		if err := e.scrollStep(ctx, page, site); err != nil {
			return nil, fmt.Errorf("scroll: %w", err)
		}
		if err := e.settle(ctx); err != nil {
			return nil, err
		}
		after, err := e.scrollHeight(ctx, page, site)
		if err != nil {
			return nil, fmt.Errorf("read height: %w", err)
		}
		if after <= before {
			break
		}
	}

	if stop, err := e.checkpoint(ctx, sig); stop {
		return nil, err
	}
	batch, err := site.Extract(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", site.Name, err)
	}
	e.archive(ctx, page, site, 1)
	return dedupe(batch), nil
}

func (e *Engine) paginate(
	ctx context.Context,
	page leads.PageSession,
	site SiteConfig,
	sig *lifecycle.Signal,
) ([]leads.Record, error) {
	maxPages := site.MaxPages
	if maxPages <= 0 {
		maxPages = e.cfg.MaxPages
	}

	var (
		all             []leads.Record
		seen            = make(map[string]struct{})
		lastFingerprint string
	)
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		if stop, err := e.checkpoint(ctx, sig); stop {
			return all, err
		}

		batch, err := site.Extract(ctx, page)
		if err != nil {
			return all, fmt.Errorf("extract %s page %d: %w", site.Name, pageNum, err)
		}

		// Loop guard: an unreliable "next" control that re-serves the same
		// page produces an identical fingerprint.
		fp := fingerprint(batch)
		if fp != "" && fp == lastFingerprint {
			e.logger.Debug("repeating page detected, stopping",
				zap.String("site", site.Name),
				zap.Int("page", pageNum),
			)
			break
		}
		lastFingerprint = fp

		for _, rec := range batch {
			key := normalizeKey(rec.Key())
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, rec)
		}
		e.archive(ctx, page, site, pageNum)

		if stop, err := e.checkpoint(ctx, sig); stop {
			return all, err
		}
		moved, err := e.clickNext(ctx, page, site)
		if err != nil {
			return all, err
		}
		if !moved {
			break
		}
		if err := e.settle(ctx); err != nil {
			return all, err
		}
	}
	return all, nil
}

// scrollHeight measures the scrolling container, which is the window unless
// the site names an inner feed.
func (e *Engine) scrollHeight(ctx context.Context, page leads.PageSession, site SiteConfig) (float64, error) {
	expr := "document.body.scrollHeight"
	if site.ScrollSelector != "" {
		expr = fmt.Sprintf("(document.querySelector(%q) || document.body).scrollHeight", site.ScrollSelector)
	}
	var h float64
	if err := page.Evaluate(ctx, expr, &h); err != nil {
		return 0, err
	}
	return h, nil
}

func (e *Engine) scrollStep(ctx context.Context, page leads.PageSession, site SiteConfig) error {
	if site.ScrollSelector == "" {
		return page.Scroll(ctx, e.cfg.ScrollDelta)
	}
	expr := fmt.Sprintf(
		"(function(){var el=document.querySelector(%q);if(el){el.scrollBy(0,%d);return true;}window.scrollBy(0,%d);return false;})()",
		site.ScrollSelector, e.cfg.ScrollDelta, e.cfg.ScrollDelta,
	)
	var scrolledFeed bool
	return page.Evaluate(ctx, expr, &scrolledFeed)
}

// clickNext reports whether a next control existed and was activated. When a
// single-page-app click never mutates the stable content within the timeout,
// the move is attempted-but-uncertain: true is returned and the fingerprint
// guard catches a page that did not advance.
func (e *Engine) clickNext(ctx context.Context, page leads.PageSession, site SiteConfig) (bool, error) {
	var present bool
	expr := fmt.Sprintf("document.querySelector(%q) !== null", site.NextSelector)
	if err := page.Evaluate(ctx, expr, &present); err != nil {
		return false, fmt.Errorf("probe next control: %w", err)
	}
	if !present {
		return false, nil
	}

	if site.HardNav {
		if err := page.Click(ctx, site.NextSelector); err != nil {
			return false, fmt.Errorf("click next: %w", err)
		}
		if err := page.WaitForSelector(ctx, site.StableSelector, e.cfg.ClickTimeout); err != nil {
			e.logger.Debug("navigation after next click timed out",
				zap.String("site", site.Name),
				zap.Error(err),
			)
		}
		return true, nil
	}

	before, err := e.stableContent(ctx, page, site)
	if err != nil {
		return false, err
	}
	if err := page.Click(ctx, site.NextSelector); err != nil {
		return false, fmt.Errorf("click next: %w", err)
	}

	deadline := time.Now().Add(e.cfg.ClickTimeout)
	for time.Now().Before(deadline) {
		if err := e.settle(ctx); err != nil {
			return true, err
		}
		after, err := e.stableContent(ctx, page, site)
		if err != nil {
			return true, err
		}
		if after != "" && after != before {
			return true, nil
		}
	}
	return true, nil
}

func (e *Engine) stableContent(ctx context.Context, page leads.PageSession, site SiteConfig) (string, error) {
	var content string
	expr := fmt.Sprintf(
		"Array.from(document.querySelectorAll(%q)).map(function(n){return n.outerHTML}).join('::SPLIT::')",
		site.StableSelector,
	)
	if err := page.Evaluate(ctx, expr, &content); err != nil {
		return "", fmt.Errorf("serialize stable selector: %w", err)
	}
	return content, nil
}

// checkpoint returns stop=true when the crawl must unwind. A cancel request is
// not an error condition for the engine.
func (e *Engine) checkpoint(ctx context.Context, sig *lifecycle.Signal) (bool, error) {
	if sig == nil {
		return ctx.Err() != nil, ctx.Err()
	}
	err := sig.Checkpoint(ctx)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, lifecycle.ErrCancelled):
		return true, nil
	default:
		return true, err
	}
}

func (e *Engine) settle(ctx context.Context) error {
	jitter := e.cfg.SettleMin + rand.N(e.cfg.SettleMax-e.cfg.SettleMin)
	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) archive(ctx context.Context, page leads.PageSession, site SiteConfig, pageNum int) {
	if e.snapshots == nil {
		return
	}
	var html string
	if err := page.Evaluate(ctx, "document.documentElement.outerHTML", &html); err != nil {
		e.logger.Debug("snapshot capture failed", zap.String("site", site.Name), zap.Error(err))
		return
	}
	prefix := strings.Trim(site.SnapshotPrefix, "/")
	if prefix == "" {
		prefix = site.Name
	}
	path := fmt.Sprintf("%s/page-%d.html", prefix, pageNum)
	if _, err := e.snapshots.PutObject(ctx, path, "text/html; charset=utf-8", []byte(html)); err != nil {
		e.logger.Warn("snapshot archive failed", zap.String("path", path), zap.Error(err))
	}
}

// fingerprint is the ordered concatenation of a batch's natural keys.
func fingerprint(batch []leads.Record) string {
	keys := make([]string, 0, len(batch))
	for _, rec := range batch {
		keys = append(keys, rec.Key())
	}
	return strings.Join(keys, "|")
}

func normalizeKey(key string) string {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		if norm, err := leads.NormalizeURL(key); err == nil {
			return norm
		}
	}
	return key
}

func dedupe(batch []leads.Record) []leads.Record {
	seen := make(map[string]struct{}, len(batch))
	out := make([]leads.Record, 0, len(batch))
	for _, rec := range batch {
		key := normalizeKey(rec.Key())
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}
