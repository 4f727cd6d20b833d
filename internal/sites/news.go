package sites

import (
	"context"
	"fmt"
	"net/url"

	"github.com/leadscout/leadscout/internal/engine"
	"github.com/leadscout/leadscout/internal/leads"
)

type newsRow struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Summary   string `json:"summary"`
	Published string `json:"published"`
}

// NewsSites returns the news strategy table for one topic.
func NewsSites(vendorID, topic string, clock leads.Clock) []engine.SiteConfig {
	q := url.QueryEscape(topic)
	return []engine.SiteConfig{
		{
			Name:           "bbc",
			URL:            "https://www.bbc.com/search?q=" + q,
			Mode:           engine.ModeScroll,
			StableSelector: "div.gs-c-promo",
			Extract: extractNews("bbc", vendorID, topic, clock, rowsExpr("div.gs-c-promo",
				`title: txt(el,'.gs-c-promo-heading__title'),`+
					`link: href(el,'a.gs-c-promo-heading'),`+
					`summary: txt(el,'.gs-c-promo-summary'),`+
					`published: attr(el,'time','datetime')`)),
		},
		{
			// The next control is a real link, so every page is a full load.
			Name:           "euronews",
			URL:            "https://www.euronews.com/search?query=" + q,
			Mode:           engine.ModePaginate,
			NextSelector:   `a[rel="next"]`,
			StableSelector: "article.m-object",
			HardNav:        true,
			Extract: extractNews("euronews", vendorID, topic, clock, rowsExpr("article.m-object",
				`title: txt(el,'.m-object__title a'),`+
					`link: href(el,'.m-object__title a'),`+
					`summary: txt(el,'.m-object__description'),`+
					`published: attr(el,'time','datetime')`)),
		},
		{
			Name:           "guardian",
			URL:            "https://www.theguardian.com/" + url.PathEscape(topic),
			Mode:           engine.ModeScroll,
			StableSelector: "div.fc-item__container",
			Extract: extractNews("guardian", vendorID, topic, clock, rowsExpr("div.fc-item__container",
				`title: txt(el,'.fc-item__title'),`+
					`link: href(el,'a.fc-item__link'),`+
					`summary: txt(el,'.fc-item__standfirst')`)),
		},
	}
}

func extractNews(source, vendorID, topic string, clock leads.Clock, expr string) engine.ExtractFunc {
	return func(ctx context.Context, page leads.PageSession) ([]leads.Record, error) {
		var rows []newsRow
		if err := page.Evaluate(ctx, expr, &rows); err != nil {
			return nil, fmt.Errorf("extract %s rows: %w", source, err)
		}
		records := make([]leads.Record, 0, len(rows))
		at := now(clock)
		for _, r := range rows {
			if r.Link == "" {
				continue
			}
			records = append(records, leads.NewsItem{
				Source:        source,
				VendorID:      vendorID,
				Topic:         topic,
				Title:         r.Title,
				Link:          normalizeLink(r.Link),
				Summary:       r.Summary,
				PublishedDate: r.Published,
				ScrapedAt:     at,
			})
		}
		return records, nil
	}
}
