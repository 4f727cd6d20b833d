package sites

import (
	"context"
	"fmt"
	"net/url"

	"github.com/leadscout/leadscout/internal/engine"
	"github.com/leadscout/leadscout/internal/leads"
)

type propertyRow struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Location string `json:"location"`
	URL      string `json:"url"`
	Image    string `json:"image"`
}

// PropertySites returns the property-portal strategy table for one search
// location.
func PropertySites(vendorID, topic string, clock leads.Clock) []engine.SiteConfig {
	q := url.QueryEscape(topic)
	return []engine.SiteConfig{
		{
			Name:           "rightmove",
			URL:            "https://www.rightmove.co.uk/property-for-sale/find.html?searchLocation=" + q,
			Mode:           engine.ModePaginate,
			NextSelector:   "button.pagination-direction--next",
			StableSelector: "div.propertyCard",
			Extract: extractProperties("rightmove", vendorID, topic, clock, rowsExpr("div.propertyCard",
				`title: txt(el,'h2.propertyCard-title'),`+
					`price: txt(el,'.propertyCard-priceValue'),`+
					`location: txt(el,'address.propertyCard-address'),`+
					`url: href(el,'a.propertyCard-link'),`+
					`image: src(el,'.propertyCard-img img')`)),
		},
		{
			Name:           "idealista",
			URL:            "https://www.idealista.com/en/buscar/venta-viviendas/" + q + "/",
			Mode:           engine.ModeScroll,
			StableSelector: "article.item",
			Extract: extractProperties("idealista", vendorID, topic, clock, rowsExpr("article.item",
				`title: txt(el,'a.item-link'),`+
					`price: txt(el,'span.item-price'),`+
					`location: txt(el,'span.item-detail-location'),`+
					`url: href(el,'a.item-link'),`+
					`image: src(el,'picture img')`)),
		},
		{
			Name:           "immoscout24",
			URL:            "https://www.immobilienscout24.de/Suche/de/wohnung-kaufen?searchQuery=" + q,
			Mode:           engine.ModePaginate,
			NextSelector:   `a[data-nav-next-page]`,
			StableSelector: "li.result-list__listing",
			Extract: extractProperties("immoscout24", vendorID, topic, clock, rowsExpr("li.result-list__listing",
				`title: txt(el,'h5.result-list-entry__brand-title'),`+
					`price: txt(el,'dd.font-highlight'),`+
					`location: txt(el,'div.result-list-entry__address'),`+
					`url: href(el,'a.result-list-entry__brand-title-container'),`+
					`image: src(el,'img.gallery__image')`)),
		},
		{
			Name:           "immoweb",
			URL:            "https://www.immoweb.be/en/search/house/for-sale?postalCodes=" + q,
			Mode:           engine.ModePaginate,
			NextSelector:   "a.pagination__link--next",
			StableSelector: "article.card--result",
			HardNav:        true,
			Extract: extractProperties("immoweb", vendorID, topic, clock, rowsExpr("article.card--result",
				`title: txt(el,'h3.card__title a'),`+
					`price: txt(el,'p.card--result__price'),`+
					`location: txt(el,'p.card__information--locality'),`+
					`url: href(el,'h3.card__title a'),`+
					`image: src(el,'img.card__media-picture')`)),
		},
		{
			Name:           "seloger",
			URL:            "https://www.seloger.com/list.htm?projects=2&places=" + q,
			Mode:           engine.ModePaginate,
			NextSelector:   "div.Pagination-next a",
			StableSelector: "div.c-pa-list__item",
			Extract: extractProperties("seloger", vendorID, topic, clock, rowsExpr("div.c-pa-list__item",
				`title: txt(el,'a.c-pa-link'),`+
					`price: txt(el,'div.c-pa-cprice'),`+
					`location: txt(el,'div.c-pa-city'),`+
					`url: href(el,'a.c-pa-link'),`+
					`image: src(el,'div.c-pa-img img')`)),
		},
	}
}

func extractProperties(source, vendorID, topic string, clock leads.Clock, expr string) engine.ExtractFunc {
	return func(ctx context.Context, page leads.PageSession) ([]leads.Record, error) {
		var rows []propertyRow
		if err := page.Evaluate(ctx, expr, &rows); err != nil {
			return nil, fmt.Errorf("extract %s rows: %w", source, err)
		}
		records := make([]leads.Record, 0, len(rows))
		at := now(clock)
		for _, r := range rows {
			if r.URL == "" {
				continue
			}
			records = append(records, leads.PropertyListing{
				Source:    source,
				VendorID:  vendorID,
				Topic:     topic,
				Title:     r.Title,
				Price:     r.Price,
				Location:  r.Location,
				URL:       normalizeLink(r.URL),
				ImageURL:  r.Image,
				ScrapedAt: at,
			})
		}
		return records, nil
	}
}
