package sites

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/leadscout/leadscout/internal/engine"
	"github.com/leadscout/leadscout/internal/leads"
)

// mapRow mirrors the object literal produced by the map-search extraction
// expression.
type mapRow struct {
	GoogleURL   string `json:"google_url"`
	Name        string `json:"name"`
	Rating      string `json:"rating"`
	Website     string `json:"website"`
	Image       string `json:"image"`
	AddressLine string `json:"address_line"`
	PhoneLine   string `json:"phone_line"`
}

// Result cards live inside the feed; the place anchor is the stable handle
// and the surrounding card carries the details.
var mapRowsExpr = rowsExpr(`div[role="feed"] a[href*="/maps/place/"]`,
	`google_url: el.href||'',`+
		`name: txt(el.parentElement,'div.fontHeadlineSmall'),`+
		`rating: attr(el.parentElement,'span[role="img"]','aria-label'),`+
		`website: href(el.parentElement,'a[data-value="Website"]'),`+
		`image: src(el.parentElement,'img'),`+
		`address_line: (function(){var b=el.parentElement.querySelector('div.fontBodyMedium');var r=b?b.lastElementChild:null;return r&&r.children[0]?r.children[0].textContent.trim():'';})(),`+
		`phone_line: (function(){var b=el.parentElement.querySelector('div.fontBodyMedium');var r=b?b.lastElementChild:null;return r&&r.children[1]?r.children[1].textContent.trim():'';})()`)

// MapSearch builds the discovery entry for the project's city and business
// category. The results feed owns the scrollbar, not the window.
func MapSearch(p leads.Project, clock leads.Clock) engine.SiteConfig {
	query := url.QueryEscape(p.BusinessCategory + " " + p.City)
	return engine.SiteConfig{
		Name:           "map-search",
		URL:            "https://www.google.com/maps/search/" + query,
		Mode:           engine.ModeScroll,
		ScrollSelector: `div[role="feed"]`,
		StableSelector: `div[role="feed"]`,
		SnapshotPrefix: p.ProjectID + "/map-search",
		Extract:        extractMapLeads(p, clock),
	}
}

func extractMapLeads(p leads.Project, clock leads.Clock) engine.ExtractFunc {
	return func(ctx context.Context, page leads.PageSession) ([]leads.Record, error) {
		var rows []mapRow
		if err := page.Evaluate(ctx, mapRowsExpr, &rows); err != nil {
			return nil, fmt.Errorf("extract map rows: %w", err)
		}
		records := make([]leads.Record, 0, len(rows))
		at := now(clock)
		for _, r := range rows {
			if r.Name == "" && r.GoogleURL == "" {
				continue
			}
			category, address := splitAddressLine(r.AddressLine)
			stars, reviews := parseRating(r.Rating)
			records = append(records, leads.Lead{
				PlaceID:         parsePlaceID(r.GoogleURL),
				VendorID:        p.VendorID,
				ProjectID:       p.ProjectID,
				ProjectCategory: p.BusinessCategory,
				StoreName:       r.Name,
				Address:         address,
				Category:        category,
				Phone:           parsePhoneLine(r.PhoneLine),
				GoogleURL:       r.GoogleURL,
				Website:         normalizeLink(r.Website),
				RatingText:      r.Rating,
				Stars:           stars,
				Reviews:         reviews,
				ImageURL:        r.Image,
				ScrapedAt:       at,
			})
		}
		return records, nil
	}
}

// parsePlaceID pulls the "ChI..." place identifier out of a maps URL. The
// identifier runs until the query string or the next path segment.
func parsePlaceID(googleURL string) string {
	idx := strings.Index(googleURL, "ChI")
	if idx < 0 {
		return ""
	}
	id := googleURL[idx:]
	if cut := strings.IndexAny(id, "?/&!"); cut >= 0 {
		id = id[:cut]
	}
	return id
}

// parseRating decodes the aria-label form "4.5 stars 128 Reviews". Either
// half may be missing on unrated businesses.
func parseRating(label string) (stars float64, reviews int) {
	fields := strings.Fields(label)
	for i, f := range fields {
		switch strings.ToLower(strings.TrimSuffix(f, "s")) {
		case "star":
			if i > 0 {
				stars, _ = strconv.ParseFloat(strings.ReplaceAll(fields[i-1], ",", "."), 64)
			}
		case "review":
			if i > 0 {
				reviews, _ = strconv.Atoi(strings.ReplaceAll(fields[i-1], ",", ""))
			}
		}
	}
	return stars, reviews
}

// splitAddressLine separates "Bakery · 12 High St" into its halves.
func splitAddressLine(line string) (category, address string) {
	parts := strings.SplitN(line, "·", 2)
	category = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		address = strings.TrimSpace(parts[1])
	}
	return category, address
}

// parsePhoneLine takes the trailing half of "Open 24 hours · 555 0100"; a
// line without a separator is the phone number itself.
func parsePhoneLine(line string) string {
	parts := strings.Split(line, "·")
	return strings.TrimSpace(parts[len(parts)-1])
}
