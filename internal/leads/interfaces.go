package leads

import (
	"context"
	"time"
)

// ResultStore persists projects and result records. All record writes are
// upserts keyed by natural key so concurrent writers stay commutative.
type ResultStore interface {
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, projectID string) (Project, error)
	ListProjects(ctx context.Context, vendorID string) ([]Project, error)
	SetProjectStatus(ctx context.Context, projectID string, status ProjectStatus) error
	SetCancelRequested(ctx context.Context, projectID string, requested bool) error
	SetPauseRequested(ctx context.Context, projectID string, requested bool) error
	UpsertRecord(ctx context.Context, rec Record) error
	CountRecords(ctx context.Context, kind Kind, vendorID, category string) (int64, error)
	CountProjectRecords(ctx context.Context, projectID string) (int64, error)
}

// EventType distinguishes the payloads relayed to live subscribers.
type EventType string

// Event types pushed to subscribers.
const (
	EventRecordInserted EventType = "record-inserted"
	EventTotalCount     EventType = "total-count"
	EventProjectStatus  EventType = "project-status"
)

// Event is emitted after every persisted write that subscribers care about.
type Event struct {
	Type      EventType
	Kind      Kind
	VendorID  string
	Category  string
	Record    Record
	ProjectID string
	Status    ProjectStatus
	At        time.Time
}

// Emitter receives events synchronously; implementations must not block the
// caller for long.
type Emitter interface {
	Emit(evt Event)
}

// PageSession is the narrow page-automation capability the crawl engine
// drives. Evaluate unmarshals the result of a JavaScript expression into out.
type PageSession interface {
	Open(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expr string, out any) error
	Scroll(ctx context.Context, deltaY int) error
	Click(ctx context.Context, selector string) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Close() error
}

// Browser creates page sessions. One Browser is exclusively owned by a
// project's active job for the job's duration.
type Browser interface {
	NewSession(ctx context.Context) (PageSession, error)
	Close() error
}

// BrowserFactory opens a fresh Browser per project run.
type BrowserFactory interface {
	NewBrowser(ctx context.Context) (Browser, error)
}

// Publisher mirrors result events to an external topic (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces queue job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
