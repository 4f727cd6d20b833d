// Package postgres provides the Postgres-backed ResultStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/store"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists projects and result records in Postgres. Every record write
// is an upsert keyed by the record's natural key, so concurrent writers stay
// commutative.
type Store struct {
	pool pool
}

// New connects a pool using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateProject inserts the project, refreshing the mutable columns when the
// project ID is resubmitted.
func (s *Store) CreateProject(ctx context.Context, p leads.Project) error {
	query := `
		INSERT INTO projects (project_id, vendor_id, project_name, city, business_category,
			status, cancel_requested, pause_requested, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_id) DO UPDATE
		SET status = EXCLUDED.status,
			cancel_requested = EXCLUDED.cancel_requested,
			pause_requested = EXCLUDED.pause_requested,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.pool.Exec(ctx, query,
		p.ProjectID, p.VendorID, p.ProjectName, p.City, p.BusinessCategory,
		p.Status, p.CancelRequested, p.PauseRequested, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject returns the project or store.ErrNotFound.
func (s *Store) GetProject(ctx context.Context, projectID string) (leads.Project, error) {
	query := `
		SELECT project_id, vendor_id, project_name, city, business_category,
			status, cancel_requested, pause_requested, created_at, updated_at
		FROM projects
		WHERE project_id = $1;
	`
	var p leads.Project
	err := s.pool.QueryRow(ctx, query, projectID).Scan(
		&p.ProjectID, &p.VendorID, &p.ProjectName, &p.City, &p.BusinessCategory,
		&p.Status, &p.CancelRequested, &p.PauseRequested, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return leads.Project{}, fmt.Errorf("%s: %w", projectID, store.ErrNotFound)
		}
		return leads.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns the vendor's projects, newest first.
func (s *Store) ListProjects(ctx context.Context, vendorID string) ([]leads.Project, error) {
	query := `
		SELECT project_id, vendor_id, project_name, city, business_category,
			status, cancel_requested, pause_requested, created_at, updated_at
		FROM projects
		WHERE vendor_id = $1
		ORDER BY created_at DESC;
	`
	rows, err := s.pool.Query(ctx, query, vendorID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []leads.Project
	for rows.Next() {
		var p leads.Project
		if err := rows.Scan(
			&p.ProjectID, &p.VendorID, &p.ProjectName, &p.City, &p.BusinessCategory,
			&p.Status, &p.CancelRequested, &p.PauseRequested, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetProjectStatus updates the project's status column.
func (s *Store) SetProjectStatus(ctx context.Context, projectID string, status leads.ProjectStatus) error {
	return s.updateProject(ctx,
		`UPDATE projects SET status = $1, updated_at = NOW() WHERE project_id = $2;`,
		status, projectID)
}

// SetCancelRequested flips the advisory cancel flag.
func (s *Store) SetCancelRequested(ctx context.Context, projectID string, requested bool) error {
	return s.updateProject(ctx,
		`UPDATE projects SET cancel_requested = $1, updated_at = NOW() WHERE project_id = $2;`,
		requested, projectID)
}

// SetPauseRequested flips the advisory pause flag.
func (s *Store) SetPauseRequested(ctx context.Context, projectID string, requested bool) error {
	return s.updateProject(ctx,
		`UPDATE projects SET pause_requested = $1, updated_at = NOW() WHERE project_id = $2;`,
		requested, projectID)
}

func (s *Store) updateProject(ctx context.Context, query string, value any, projectID string) error {
	tag, err := s.pool.Exec(ctx, query, value, projectID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", projectID, store.ErrNotFound)
	}
	return nil
}

// UpsertRecord writes the record into its kind's table keyed by natural key.
func (s *Store) UpsertRecord(ctx context.Context, rec leads.Record) error {
	switch r := rec.(type) {
	case leads.Lead:
		return s.upsertLead(ctx, r)
	case leads.JobPosting:
		return s.upsertJob(ctx, r)
	case leads.NewsItem:
		return s.upsertNews(ctx, r)
	case leads.PropertyListing:
		return s.upsertProperty(ctx, r)
	default:
		return fmt.Errorf("unsupported record kind %q", rec.Kind())
	}
}

func (s *Store) upsertLead(ctx context.Context, l leads.Lead) error {
	social, err := json.Marshal(l.Social)
	if err != nil {
		return fmt.Errorf("marshal social links: %w", err)
	}
	query := `
		INSERT INTO leads (place_id, vendor_id, project_id, project_category, store_name,
			address, category, phone, google_url, biz_website, rating_text, stars, reviews,
			image_url, email, about, logo_url, social_links, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (place_id) DO UPDATE
		SET store_name = EXCLUDED.store_name,
			address = EXCLUDED.address,
			category = EXCLUDED.category,
			phone = EXCLUDED.phone,
			biz_website = EXCLUDED.biz_website,
			rating_text = EXCLUDED.rating_text,
			stars = EXCLUDED.stars,
			reviews = EXCLUDED.reviews,
			image_url = EXCLUDED.image_url,
			email = CASE WHEN leads.email <> '' THEN leads.email ELSE EXCLUDED.email END,
			about = CASE WHEN leads.about <> '' THEN leads.about ELSE EXCLUDED.about END,
			logo_url = CASE WHEN leads.logo_url <> '' THEN leads.logo_url ELSE EXCLUDED.logo_url END,
			social_links = EXCLUDED.social_links,
			scraped_at = EXCLUDED.scraped_at;
	`
	_, err = s.pool.Exec(ctx, query,
		l.Key(), l.VendorID, l.ProjectID, l.ProjectCategory, l.StoreName,
		l.Address, l.Category, l.Phone, l.GoogleURL, l.Website, l.RatingText, l.Stars, l.Reviews,
		l.ImageURL, l.Email, l.About, l.LogoURL, social, l.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

func (s *Store) upsertJob(ctx context.Context, j leads.JobPosting) error {
	query := `
		INSERT INTO job_postings (natural_key, source, vendor_id, search_term, title,
			company, location, salary, posted_date, link, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (natural_key) DO UPDATE
		SET title = EXCLUDED.title,
			company = EXCLUDED.company,
			location = EXCLUDED.location,
			salary = EXCLUDED.salary,
			posted_date = EXCLUDED.posted_date,
			link = EXCLUDED.link,
			scraped_at = EXCLUDED.scraped_at;
	`
	_, err := s.pool.Exec(ctx, query,
		j.Key(), j.Source, j.VendorID, j.SearchTerm, j.Title,
		j.Company, j.Location, j.Salary, j.PostedDate, j.Link, j.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job posting: %w", err)
	}
	return nil
}

func (s *Store) upsertNews(ctx context.Context, n leads.NewsItem) error {
	query := `
		INSERT INTO news_items (link, source, vendor_id, topic, title, summary,
			published_date, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (link) DO UPDATE
		SET title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			published_date = EXCLUDED.published_date,
			scraped_at = EXCLUDED.scraped_at;
	`
	_, err := s.pool.Exec(ctx, query,
		n.Link, n.Source, n.VendorID, n.Topic, n.Title, n.Summary,
		n.PublishedDate, n.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert news item: %w", err)
	}
	return nil
}

func (s *Store) upsertProperty(ctx context.Context, p leads.PropertyListing) error {
	query := `
		INSERT INTO property_listings (url, source, vendor_id, topic, title, price,
			location, image_url, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (url) DO UPDATE
		SET title = EXCLUDED.title,
			price = EXCLUDED.price,
			location = EXCLUDED.location,
			image_url = EXCLUDED.image_url,
			scraped_at = EXCLUDED.scraped_at;
	`
	_, err := s.pool.Exec(ctx, query,
		p.URL, p.Source, p.VendorID, p.Topic, p.Title, p.Price,
		p.Location, p.ImageURL, p.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert property listing: %w", err)
	}
	return nil
}

// CountRecords re-counts the rows in scope for one (vendor, category) room.
func (s *Store) CountRecords(ctx context.Context, kind leads.Kind, vendorID, category string) (int64, error) {
	var query string
	switch kind {
	case leads.KindLead:
		query = `SELECT COUNT(*) FROM leads WHERE vendor_id = $1 AND project_category = $2;`
	case leads.KindJob:
		query = `SELECT COUNT(*) FROM job_postings WHERE vendor_id = $1 AND search_term = $2;`
	case leads.KindNews:
		query = `SELECT COUNT(*) FROM news_items WHERE vendor_id = $1 AND topic = $2;`
	case leads.KindProperty:
		query = `SELECT COUNT(*) FROM property_listings WHERE vendor_id = $1 AND topic = $2;`
	default:
		return 0, fmt.Errorf("unsupported record kind %q", kind)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query, vendorID, category).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// CountProjectRecords counts the leads persisted for one project. Only leads
// carry a project reference.
func (s *Store) CountProjectRecords(ctx context.Context, projectID string) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM leads WHERE project_id = $1;`
	if err := s.pool.QueryRow(ctx, query, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count project records: %w", err)
	}
	return n, nil
}
