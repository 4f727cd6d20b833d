// Package engine implements the generic multi-strategy crawler that drives
// one target site through infinite scroll or click-to-paginate navigation.
package engine

import (
	"context"

	"github.com/leadscout/leadscout/internal/leads"
)

// TraversalMode selects how a site exposes more results.
type TraversalMode string

// Supported traversal modes.
const (
	ModeScroll   TraversalMode = "scroll"
	ModePaginate TraversalMode = "paginate"
)

// ExtractFunc pulls structured records out of the currently rendered page.
type ExtractFunc func(ctx context.Context, page leads.PageSession) ([]leads.Record, error)

// SiteConfig describes one target site as a strategy-table entry: a traversal
// mode tag plus an extraction capability, dispatched by Engine.Crawl without
// per-site branching.
type SiteConfig struct {
	// Name labels the site in logs and snapshot paths.
	Name string
	// URL is the fully rendered search/listing URL to open.
	URL string
	// Mode picks the traversal strategy.
	Mode TraversalMode
	// NextSelector locates the "next" control in paginate mode.
	NextSelector string
	// StableSelector identifies the repeated result element; it is used to
	// await initial render and to detect meaningful content change after a
	// single-page-app pagination click.
	StableSelector string
	// ScrollSelector names an inner container that owns the scrollbar (a
	// results feed). Empty means the window scrolls.
	ScrollSelector string
	// HardNav marks sites whose next control triggers a full page load.
	HardNav bool
	// MaxPages caps paginate-mode traversal; 0 uses the engine default.
	MaxPages int
	// SnapshotPrefix scopes archived page snapshots, e.g. "<project>/<site>".
	SnapshotPrefix string
	// Extract runs once per settled page.
	Extract ExtractFunc
}
