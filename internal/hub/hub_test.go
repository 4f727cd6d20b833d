package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leadscout/leadscout/internal/leads"
)

type fakeCountStore struct {
	leads.ResultStore
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeCountStore() *fakeCountStore {
	return &fakeCountStore{counts: make(map[string]int64)}
}

func (s *fakeCountStore) CountRecords(_ context.Context, kind leads.Kind, vendorID, category string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[string(kind)+"/"+vendorID+"/"+category], nil
}

func (s *fakeCountStore) setCount(kind leads.Kind, vendorID, category string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[string(kind)+"/"+vendorID+"/"+category] = n
}

func recv(t *testing.T, sub *Subscriber) Message {
	t.Helper()
	select {
	case msg := <-sub.Outbound:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestSubscribe_SendsCurrentCount(t *testing.T) {
	t.Parallel()

	store := newFakeCountStore()
	store.setCount(leads.KindLead, "v1", "bakery", 7)
	h := New(store, Config{})
	defer func() { require.NoError(t, h.Close(context.Background())) }()

	sub, err := h.Subscribe(context.Background(), leads.KindLead, "v1", "bakery")
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	msg := recv(t, sub)
	require.Equal(t, leads.EventTotalCount, msg.Event)
	require.EqualValues(t, 7, msg.Count)
}

func TestEmit_RecordInsertedBroadcastsRecordThenRecount(t *testing.T) {
	t.Parallel()

	store := newFakeCountStore()
	h := New(store, Config{})
	defer func() { require.NoError(t, h.Close(context.Background())) }()

	sub, err := h.Subscribe(context.Background(), leads.KindLead, "v1", "bakery")
	require.NoError(t, err)
	defer h.Unsubscribe(sub)
	recv(t, sub) // initial count

	rec := leads.Lead{PlaceID: "p1", VendorID: "v1", ProjectCategory: "bakery", StoreName: "Pao Quente"}
	store.setCount(leads.KindLead, "v1", "bakery", 1)
	h.Emit(leads.Event{Type: leads.EventRecordInserted, Kind: leads.KindLead, Record: rec})

	first := recv(t, sub)
	require.Equal(t, leads.EventRecordInserted, first.Event)
	require.Equal(t, rec, first.Record)

	second := recv(t, sub)
	require.Equal(t, leads.EventTotalCount, second.Event)
	require.EqualValues(t, 1, second.Count)
}

func TestEmit_ScopedToRoom(t *testing.T) {
	t.Parallel()

	store := newFakeCountStore()
	h := New(store, Config{})
	defer func() { require.NoError(t, h.Close(context.Background())) }()

	bakery, err := h.Subscribe(context.Background(), leads.KindLead, "v1", "bakery")
	require.NoError(t, err)
	defer h.Unsubscribe(bakery)
	plumber, err := h.Subscribe(context.Background(), leads.KindLead, "v1", "plumbers")
	require.NoError(t, err)
	defer h.Unsubscribe(plumber)
	recv(t, bakery)
	recv(t, plumber)

	h.Emit(leads.Event{
		Type:   leads.EventRecordInserted,
		Kind:   leads.KindLead,
		Record: leads.Lead{PlaceID: "p1", VendorID: "v1", ProjectCategory: "bakery"},
	})

	msg := recv(t, bakery)
	require.Equal(t, leads.EventRecordInserted, msg.Event)

	select {
	case msg := <-plumber.Outbound:
		t.Fatalf("unexpected message in other room: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmit_ProjectStatusBroadcast(t *testing.T) {
	t.Parallel()

	store := newFakeCountStore()
	h := New(store, Config{})
	defer func() { require.NoError(t, h.Close(context.Background())) }()

	sub, err := h.Subscribe(context.Background(), leads.KindLead, "v1", "bakery")
	require.NoError(t, err)
	defer h.Unsubscribe(sub)
	recv(t, sub)

	h.Emit(leads.Event{
		Type:      leads.EventProjectStatus,
		VendorID:  "v1",
		Category:  "bakery",
		ProjectID: "p1",
		Status:    leads.StatusFinished,
	})

	msg := recv(t, sub)
	require.Equal(t, leads.EventProjectStatus, msg.Event)
	require.Equal(t, "p1", msg.ProjectID)
	require.Equal(t, leads.StatusFinished, msg.Status)
}

func TestEmit_SlowSubscriberNeverBlocks(t *testing.T) {
	t.Parallel()

	store := newFakeCountStore()
	h := New(store, Config{SubscriberBuffer: 2})
	defer func() { require.NoError(t, h.Close(context.Background())) }()

	sub, err := h.Subscribe(context.Background(), leads.KindLead, "v1", "bakery")
	require.NoError(t, err)
	defer h.Unsubscribe(sub)
	// The subscriber never drains; its buffer fills and later messages drop.

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			h.Emit(leads.Event{
				Type:   leads.EventRecordInserted,
				Kind:   leads.KindLead,
				Record: leads.Lead{PlaceID: "p", VendorID: "v1", ProjectCategory: "bakery"},
			})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a slow subscriber")
	}
}

func TestServeSSE_WritesEventFrames(t *testing.T) {
	t.Parallel()

	store := newFakeCountStore()
	store.setCount(leads.KindNews, "v1", "europe", 3)
	h := New(store, Config{})
	defer func() { require.NoError(t, h.Close(context.Background())) }()

	sub, err := h.Subscribe(context.Background(), leads.KindNews, "v1", "europe")
	require.NoError(t, err)
	defer h.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/v1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		defer close(served)
		h.ServeSSE(rec, req, sub)
	}()

	// The queued initial count drains through the stream loop.
	require.Eventually(t, func() bool {
		return len(sub.Outbound) == 0
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-served

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "event: total-count\n"), body)
	require.Contains(t, body, `"count":3`)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
