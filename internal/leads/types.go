// Package leads defines the core types shared across the crawl
// orchestration subsystems.
package leads

import "time"

// ProjectStatus represents the lifecycle state of a scraping project.
type ProjectStatus string

// Project status values persisted in the result store.
const (
	StatusQueued    ProjectStatus = "Queued"
	StatusRunning   ProjectStatus = "Running"
	StatusFinished  ProjectStatus = "Finished"
	StatusCancelled ProjectStatus = "Cancelled"
	StatusFailed    ProjectStatus = "Failed"
)

// Terminal reports whether no further automatic transition may leave s.
func (s ProjectStatus) Terminal() bool {
	switch s {
	case StatusFinished, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Project is the unit of work submitted by a vendor.
type Project struct {
	ProjectID        string        `json:"project_id"`
	VendorID         string        `json:"vendor_id"`
	ProjectName      string        `json:"project_name,omitempty"`
	City             string        `json:"city"`
	BusinessCategory string        `json:"business_category"`
	Status           ProjectStatus `json:"status"`
	CancelRequested  bool          `json:"cancel_requested"`
	PauseRequested   bool          `json:"pause_requested"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Kind identifies the collection a record belongs to.
type Kind string

// Record collections.
const (
	KindLead     Kind = "lead"
	KindJob      Kind = "job"
	KindNews     Kind = "news"
	KindProperty Kind = "property"
)

// Record is a discovered (and possibly enriched) result. Implementations are
// value types; a record is owned exclusively by the task that produced it
// until handed to the store.
type Record interface {
	// Key returns the natural key used for upsert/dedup.
	Key() string
	// Kind returns the collection the record is persisted into.
	Kind() Kind
	// Room returns the (vendor, category) fan-out scope for subscribers.
	Room() (vendorID, category string)
}

// Enrichment carries the optional contact metadata extracted from a record's
// own website.
type Enrichment struct {
	Email    string      `json:"email,omitempty"`
	About    string      `json:"about,omitempty"`
	LogoURL  string      `json:"logo_url,omitempty"`
	Social   SocialLinks `json:"social_links"`
	Enriched bool        `json:"-"`
}

// Enrichable is implemented by records that carry an external site URL worth
// visiting during the enrichment phase.
type Enrichable interface {
	Record
	SiteURL() string
	WithEnrichment(e Enrichment) Record
}

// SocialLinks holds the first matching outbound link per platform.
type SocialLinks struct {
	Facebook  string `json:"facebook,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	YouTube   string `json:"youtube,omitempty"`
}

// Merge fills empty platforms from other without overwriting populated ones.
func (s SocialLinks) Merge(other SocialLinks) SocialLinks {
	if s.Facebook == "" {
		s.Facebook = other.Facebook
	}
	if s.Instagram == "" {
		s.Instagram = other.Instagram
	}
	if s.LinkedIn == "" {
		s.LinkedIn = other.LinkedIn
	}
	if s.YouTube == "" {
		s.YouTube = other.YouTube
	}
	return s
}

// Complete reports whether every platform has a link.
func (s SocialLinks) Complete() bool {
	return s.Facebook != "" && s.Instagram != "" && s.LinkedIn != "" && s.YouTube != ""
}

// Lead is a business discovered on the map search source.
type Lead struct {
	PlaceID         string      `json:"place_id"`
	VendorID        string      `json:"vendor_id"`
	ProjectID       string      `json:"project_id"`
	ProjectCategory string      `json:"project_category"`
	StoreName       string      `json:"store_name"`
	Address         string      `json:"address"`
	Category        string      `json:"category"`
	Phone           string      `json:"phone"`
	GoogleURL       string      `json:"google_url"`
	Website         string      `json:"biz_website"`
	RatingText      string      `json:"rating_text"`
	Stars           float64     `json:"stars"`
	Reviews         int         `json:"number_of_reviews"`
	ImageURL        string      `json:"image_url"`
	Email           string      `json:"email,omitempty"`
	About           string      `json:"about,omitempty"`
	LogoURL         string      `json:"logo_url,omitempty"`
	Social          SocialLinks `json:"social_links"`
	ScrapedAt       time.Time   `json:"scraped_at"`
}

// Key prefers the place identifier and falls back to the maps URL.
func (l Lead) Key() string {
	if l.PlaceID != "" {
		return l.PlaceID
	}
	return l.GoogleURL
}

func (l Lead) Kind() Kind { return KindLead }

func (l Lead) Room() (string, string) { return l.VendorID, l.ProjectCategory }

func (l Lead) SiteURL() string { return l.Website }

// WithEnrichment returns a copy with contact metadata filled in. Fields
// already populated are never overwritten.
func (l Lead) WithEnrichment(e Enrichment) Record {
	if l.Email == "" {
		l.Email = e.Email
	}
	if l.About == "" {
		l.About = e.About
	}
	if l.LogoURL == "" {
		l.LogoURL = e.LogoURL
	}
	l.Social = l.Social.Merge(e.Social)
	return l
}

// JobPosting is a listing discovered on a job board.
type JobPosting struct {
	Source     string    `json:"source"`
	VendorID   string    `json:"vendor_id"`
	SearchTerm string    `json:"search_term"`
	Title      string    `json:"title"`
	Company    string    `json:"company"`
	Location   string    `json:"location"`
	Salary     string    `json:"salary,omitempty"`
	PostedDate string    `json:"posted_date,omitempty"`
	Link       string    `json:"link"`
	ScrapedAt  time.Time `json:"scraped_at"`
}

// Key falls back to title+company when the board renders no link.
func (j JobPosting) Key() string {
	if j.Link != "" {
		return j.Link
	}
	return j.Title + "|" + j.Company
}

func (j JobPosting) Kind() Kind { return KindJob }

func (j JobPosting) Room() (string, string) { return j.VendorID, j.SearchTerm }

// NewsItem is an article discovered on a news listing page.
type NewsItem struct {
	Source        string    `json:"source"`
	VendorID      string    `json:"vendor_id"`
	Topic         string    `json:"topic"`
	Title         string    `json:"title"`
	Link          string    `json:"link"`
	Summary       string    `json:"summary,omitempty"`
	PublishedDate string    `json:"published_date,omitempty"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

func (n NewsItem) Key() string { return n.Link }

func (n NewsItem) Kind() Kind { return KindNews }

func (n NewsItem) Room() (string, string) { return n.VendorID, n.Topic }

// PropertyListing is a listing discovered on a property portal.
type PropertyListing struct {
	Source    string    `json:"source"`
	VendorID  string    `json:"vendor_id"`
	Topic     string    `json:"topic"`
	Title     string    `json:"title"`
	Price     string    `json:"price,omitempty"`
	Location  string    `json:"location,omitempty"`
	URL       string    `json:"url"`
	ImageURL  string    `json:"image,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}

func (p PropertyListing) Key() string { return p.URL }

func (p PropertyListing) Kind() Kind { return KindProperty }

func (p PropertyListing) Room() (string, string) { return p.VendorID, p.Topic }

// QueueJob wraps one project run awaiting execution.
type QueueJob struct {
	ID        string
	ProjectID string
	Priority  int
	Attempt   int
	Submitted time.Time
}
