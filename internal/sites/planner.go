package sites

import (
	"github.com/leadscout/leadscout/internal/engine"
	"github.com/leadscout/leadscout/internal/leads"
)

// ForProject builds the full multi-source strategy table for one project run:
// map search on the business category and city, job boards and news on the
// category, property portals on the city.
func ForProject(p leads.Project, clock leads.Clock) []engine.SiteConfig {
	configs := []engine.SiteConfig{MapSearch(p, clock)}
	configs = append(configs, JobBoards(p.VendorID, p.BusinessCategory, clock)...)
	configs = append(configs, NewsSites(p.VendorID, p.BusinessCategory, clock)...)
	configs = append(configs, PropertySites(p.VendorID, p.City, clock)...)
	for i := range configs {
		if configs[i].SnapshotPrefix == "" {
			configs[i].SnapshotPrefix = p.ProjectID + "/" + configs[i].Name
		}
	}
	return configs
}
