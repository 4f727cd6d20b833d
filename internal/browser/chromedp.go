// Package browser provides the headless Chrome implementation of the page
// automation interfaces.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/leadscout/leadscout/internal/leads"
)

// Config controls how browser processes are launched and driven.
type Config struct {
	UserAgent string
	// NavTimeout bounds a single navigation inside Open.
	NavTimeout time.Duration
	// Headful disables headless mode for local debugging.
	Headful bool
}

func (c Config) navTimeout() time.Duration {
	if c.NavTimeout > 0 {
		return c.NavTimeout
	}
	return 45 * time.Second
}

// Factory launches one Chrome process per project run off a shared exec
// allocator.
type Factory struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewFactory prepares the exec allocator. Chrome itself is not started until
// the first NewBrowser call.
func NewFactory(cfg Config) *Factory {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !cfg.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Factory{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}
}

// NewBrowser starts a fresh Chrome process. The caller owns it for one
// project run and must Close it.
func (f *Factory) NewBrowser(ctx context.Context) (leads.Browser, error) {
	browserCtx, cancel := chromedp.NewContext(f.allocator)
	// Run with no actions forces the process to start so launch failures
	// surface here instead of on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return &Browser{cfg: f.cfg, ctx: browserCtx, cancel: cancel}, nil
}

// Close shuts the allocator down, killing any browsers still running.
func (f *Factory) Close() {
	f.allocCancel()
}

// Browser wraps one Chrome process.
type Browser struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession opens a new tab.
func (b *Browser) NewSession(context.Context) (leads.PageSession, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	return &Session{cfg: b.cfg, ctx: tabCtx, cancel: cancel}, nil
}

func (b *Browser) Close() error {
	b.cancel()
	return nil
}

// Session drives one tab.
type Session struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
}

// Open navigates to url and waits for the body to be ready.
func (s *Session) Open(ctx context.Context, url string) error {
	runCtx, cancel := s.bounded(ctx, s.cfg.navTimeout())
	defer cancel()

	actions := []chromedp.Action{
		s.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Evaluate runs expr in the page and unmarshals its JSON result into out.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	runCtx, cancel := s.bounded(ctx, 0)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (s *Session) Scroll(ctx context.Context, deltaY int) error {
	var ignored bool
	expr := fmt.Sprintf("(window.scrollBy(0,%d), true)", deltaY)
	return s.Evaluate(ctx, expr, &ignored)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	runCtx, cancel := s.bounded(ctx, 0)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	runCtx, cancel := s.bounded(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (s *Session) Close() error {
	s.cancel()
	return nil
}

// bounded ties the tab context to the caller's context, and to a timeout when
// one is given.
func (s *Session) bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if timeout <= 0 {
		return runCtx, func() { stop(); cancel() }
	}
	runCtx, tcancel := context.WithTimeout(runCtx, timeout)
	return runCtx, func() { stop(); tcancel(); cancel() }
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}
