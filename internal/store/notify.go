package store

import (
	"context"
	"time"

	"github.com/leadscout/leadscout/internal/leads"
)

// NotifyingStore wraps a ResultStore and emits a record-inserted event after
// every successful record write. Persist-then-publish stands in for a
// store-side change feed: subscribers only ever see data that is already
// durable.
type NotifyingStore struct {
	leads.ResultStore
	emitter leads.Emitter
	clock   leads.Clock
}

// WithNotifications decorates inner so record upserts reach emitter.
func WithNotifications(inner leads.ResultStore, emitter leads.Emitter, clock leads.Clock) *NotifyingStore {
	return &NotifyingStore{ResultStore: inner, emitter: emitter, clock: clock}
}

// UpsertRecord persists the record and then publishes the insert event.
func (s *NotifyingStore) UpsertRecord(ctx context.Context, rec leads.Record) error {
	if err := s.ResultStore.UpsertRecord(ctx, rec); err != nil {
		return err
	}
	if s.emitter != nil {
		vendorID, category := rec.Room()
		s.emitter.Emit(leads.Event{
			Type:     leads.EventRecordInserted,
			Kind:     rec.Kind(),
			VendorID: vendorID,
			Category: category,
			Record:   rec,
			At:       s.now(),
		})
	}
	return nil
}

func (s *NotifyingStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}
