package sites

import (
	"context"
	"fmt"
	"net/url"

	"github.com/leadscout/leadscout/internal/engine"
	"github.com/leadscout/leadscout/internal/leads"
)

type jobRow struct {
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location"`
	Salary   string `json:"salary"`
	Posted   string `json:"posted"`
	Link     string `json:"link"`
}

// JobBoards returns the job-board strategy table for one search term. The
// big aggregators load more results on scroll; the rest paginate in place.
func JobBoards(vendorID, searchTerm string, clock leads.Clock) []engine.SiteConfig {
	q := url.QueryEscape(searchTerm)
	return []engine.SiteConfig{
		{
			Name:           "indeed",
			URL:            "https://www.indeed.com/jobs?q=" + q,
			Mode:           engine.ModeScroll,
			StableSelector: "div.job_seen_beacon",
			Extract: extractJobs("indeed", vendorID, searchTerm, clock, rowsExpr("div.job_seen_beacon",
				`title: txt(el,'h2.jobTitle span'),`+
					`company: txt(el,'span[data-testid="company-name"]'),`+
					`location: txt(el,'div[data-testid="text-location"]'),`+
					`salary: txt(el,'div[data-testid="attribute_snippet_testid"]'),`+
					`posted: txt(el,'span[data-testid="myJobsStateDate"]'),`+
					`link: href(el,'h2.jobTitle a')`)),
		},
		{
			Name:           "linkedin",
			URL:            "https://www.linkedin.com/jobs/search?keywords=" + q,
			Mode:           engine.ModeScroll,
			StableSelector: "div.base-card",
			Extract: extractJobs("linkedin", vendorID, searchTerm, clock, rowsExpr("div.base-card",
				`title: txt(el,'h3.base-search-card__title'),`+
					`company: txt(el,'h4.base-search-card__subtitle'),`+
					`location: txt(el,'span.job-search-card__location'),`+
					`posted: attr(el,'time','datetime'),`+
					`link: href(el,'a.base-card__full-link')`)),
		},
		{
			Name:           "simplyhired",
			URL:            "https://www.simplyhired.com/search?q=" + q,
			Mode:           engine.ModeScroll,
			StableSelector: `li[data-testid="searchSerpJob"]`,
			Extract: extractJobs("simplyhired", vendorID, searchTerm, clock, rowsExpr(`li[data-testid="searchSerpJob"]`,
				`title: txt(el,'h2[data-testid="searchSerpJobTitle"] a'),`+
					`company: txt(el,'span[data-testid="companyName"]'),`+
					`location: txt(el,'span[data-testid="searchSerpJobLocation"]'),`+
					`salary: txt(el,'p[data-testid="searchSerpJobSalaryConfirmed"]'),`+
					`link: href(el,'h2[data-testid="searchSerpJobTitle"] a')`)),
		},
		{
			Name:           "glassdoor",
			URL:            "https://www.glassdoor.com/Job/jobs.htm?sc.keyword=" + q,
			Mode:           engine.ModePaginate,
			NextSelector:   `button[data-test="pagination-next"]`,
			StableSelector: `li[data-test="jobListing"]`,
			Extract: extractJobs("glassdoor", vendorID, searchTerm, clock, rowsExpr(`li[data-test="jobListing"]`,
				`title: txt(el,'a[data-test="job-title"]'),`+
					`company: txt(el,'span[data-test="employer-name"]'),`+
					`location: txt(el,'div[data-test="emp-location"]'),`+
					`salary: txt(el,'div[data-test="detailSalary"]'),`+
					`link: href(el,'a[data-test="job-title"]')`)),
		},
		{
			Name:           "monster",
			URL:            "https://www.monster.com/jobs/search?q=" + q,
			Mode:           engine.ModePaginate,
			NextSelector:   `button[data-testid="svx-next-button"]`,
			StableSelector: `article[data-testid="svx_jobCard"]`,
			Extract: extractJobs("monster", vendorID, searchTerm, clock, rowsExpr(`article[data-testid="svx_jobCard"]`,
				`title: txt(el,'a[data-testid="jobTitle"]'),`+
					`company: txt(el,'span[data-testid="company"]'),`+
					`location: txt(el,'span[data-testid="jobDetailLocation"]'),`+
					`link: href(el,'a[data-testid="jobTitle"]')`)),
		},
		{
			Name:           "dice",
			URL:            "https://www.dice.com/jobs?q=" + q,
			Mode:           engine.ModePaginate,
			NextSelector:   "li.pagination-next a",
			StableSelector: "div.search-card",
			Extract: extractJobs("dice", vendorID, searchTerm, clock, rowsExpr("div.search-card",
				`title: txt(el,'a.card-title-link'),`+
					`company: txt(el,'a[data-cy="search-result-company-name"]'),`+
					`location: txt(el,'span.search-result-location'),`+
					`posted: txt(el,'span.posted-date'),`+
					`link: href(el,'a.card-title-link')`)),
		},
	}
}

func extractJobs(source, vendorID, searchTerm string, clock leads.Clock, expr string) engine.ExtractFunc {
	return func(ctx context.Context, page leads.PageSession) ([]leads.Record, error) {
		var rows []jobRow
		if err := page.Evaluate(ctx, expr, &rows); err != nil {
			return nil, fmt.Errorf("extract %s rows: %w", source, err)
		}
		records := make([]leads.Record, 0, len(rows))
		at := now(clock)
		for _, r := range rows {
			if r.Title == "" && r.Link == "" {
				continue
			}
			records = append(records, leads.JobPosting{
				Source:     source,
				VendorID:   vendorID,
				SearchTerm: searchTerm,
				Title:      r.Title,
				Company:    r.Company,
				Location:   r.Location,
				Salary:     r.Salary,
				PostedDate: r.Posted,
				Link:       normalizeLink(r.Link),
				ScrapedAt:  at,
			})
		}
		return records, nil
	}
}
