// Package sites holds the strategy tables for every crawl source family. Each
// entry pairs a traversal mode with an extraction script evaluated in the
// page; selectors evolve with the target sites and may need per-region
// tuning.
package sites

import (
	"strconv"
	"time"

	"github.com/leadscout/leadscout/internal/leads"
)

// jsHelpers are shared by every extraction expression.
const jsHelpers = `function txt(el,sel){var n=el.querySelector(sel);return n&&n.textContent?n.textContent.trim():'';}` +
	`function href(el,sel){var n=el.querySelector(sel);return n&&n.href?n.href:'';}` +
	`function src(el,sel){var n=el.querySelector(sel);return n&&n.src?n.src:'';}` +
	`function attr(el,sel,a){var n=el.querySelector(sel);return n?(n.getAttribute(a)||''):'';}`

// rowsExpr builds an expression mapping every itemSelector match to an object
// literal described by fields.
func rowsExpr(itemSelector, fields string) string {
	return "(function(){" + jsHelpers +
		"return Array.from(document.querySelectorAll(" + strconv.Quote(itemSelector) + "))" +
		".map(function(el){return {" + fields + "};});})()"
}

func now(clock leads.Clock) time.Time {
	if clock != nil {
		return clock.Now()
	}
	return time.Now()
}

// normalizeLink strips tracking parameters so natural keys dedupe cleanly.
// Unparseable links pass through unchanged.
func normalizeLink(link string) string {
	if link == "" {
		return ""
	}
	if norm, err := leads.NormalizeURL(link); err == nil {
		return norm
	}
	return link
}
