// Package memory provides an in-memory ResultStore for local development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/store"
)

// Store keeps projects and records in maps keyed the same way the Postgres
// backend keys its tables: projects by project ID, records by natural key
// within their kind.
type Store struct {
	mu       sync.RWMutex
	projects map[string]leads.Project
	records  map[leads.Kind]map[string]leads.Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		projects: make(map[string]leads.Project),
		records:  make(map[leads.Kind]map[string]leads.Record),
	}
}

// CreateProject stores the project. Resubmitting an existing project ID
// overwrites the stale document, matching upsert semantics elsewhere.
func (s *Store) CreateProject(_ context.Context, p leads.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ProjectID] = p
	return nil
}

// GetProject returns the project or store.ErrNotFound.
func (s *Store) GetProject(_ context.Context, projectID string) (leads.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return leads.Project{}, fmt.Errorf("%s: %w", projectID, store.ErrNotFound)
	}
	return p, nil
}

// ListProjects returns the vendor's projects, newest first.
func (s *Store) ListProjects(_ context.Context, vendorID string) ([]leads.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leads.Project, 0)
	for _, p := range s.projects {
		if p.VendorID == vendorID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SetProjectStatus updates the project's status.
func (s *Store) SetProjectStatus(_ context.Context, projectID string, status leads.ProjectStatus) error {
	return s.update(projectID, func(p *leads.Project) {
		p.Status = status
	})
}

// SetCancelRequested flips the advisory cancel flag.
func (s *Store) SetCancelRequested(_ context.Context, projectID string, requested bool) error {
	return s.update(projectID, func(p *leads.Project) {
		p.CancelRequested = requested
	})
}

// SetPauseRequested flips the advisory pause flag.
func (s *Store) SetPauseRequested(_ context.Context, projectID string, requested bool) error {
	return s.update(projectID, func(p *leads.Project) {
		p.PauseRequested = requested
	})
}

// UpsertRecord writes the record under its natural key, replacing any
// previous version.
func (s *Store) UpsertRecord(_ context.Context, rec leads.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.records[rec.Kind()]
	if !ok {
		byKey = make(map[string]leads.Record)
		s.records[rec.Kind()] = byKey
	}
	byKey[rec.Key()] = rec
	return nil
}

// CountRecords re-counts the records in scope for one (vendor, category)
// room.
func (s *Store) CountRecords(_ context.Context, kind leads.Kind, vendorID, category string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rec := range s.records[kind] {
		v, c := rec.Room()
		if v == vendorID && c == category {
			n++
		}
	}
	return n, nil
}

// CountProjectRecords counts the leads persisted for one project. Only leads
// carry a project reference; the other kinds are scoped by vendor and
// category alone.
func (s *Store) CountProjectRecords(_ context.Context, projectID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, rec := range s.records[leads.KindLead] {
		if l, ok := rec.(leads.Lead); ok && l.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (s *Store) update(projectID string, fn func(*leads.Project)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("%s: %w", projectID, store.ErrNotFound)
	}
	fn(&p)
	p.UpdatedAt = time.Now()
	s.projects[projectID] = p
	return nil
}
