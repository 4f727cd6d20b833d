// Package hub fans persisted-result events out to live subscribers grouped
// into rooms keyed by (vendor, category).
package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/metrics"
)

// Config controls buffering for the Hub.
//   - BufferSize: size of the inbound event channel (default 1024).
//   - SubscriberBuffer: per-subscriber outbound buffer (default 64).
//   - CountTimeout: store timeout for the post-insert re-count (default 5s).
//   - Heartbeat: SSE keep-alive interval (default 15s).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize       int
	SubscriberBuffer int
	CountTimeout     time.Duration
	Heartbeat        time.Duration
	Logger           *zap.Logger
}

const (
	defaultBufferSize       = 1024
	defaultSubscriberBuffer = 64
	defaultCountTimeout     = 5 * time.Second
	defaultHeartbeat        = 15 * time.Second
	dropLogInterval         = 5 * time.Second
)

// Message is the wire payload pushed to one subscriber.
type Message struct {
	Event     leads.EventType     `json:"event"`
	Kind      leads.Kind          `json:"kind,omitempty"`
	Category  string              `json:"category,omitempty"`
	Record    leads.Record        `json:"record,omitempty"`
	Count     int64               `json:"count,omitempty"`
	ProjectID string              `json:"project_id,omitempty"`
	Status    leads.ProjectStatus `json:"status,omitempty"`
}

// Subscriber is one live connection's membership in a room.
type Subscriber struct {
	ID       string
	Outbound chan Message

	room      string
	done      chan struct{}
	closeOnce sync.Once
}

// RoomKey derives the fan-out group key deterministically.
func RoomKey(vendorID, category string) string {
	return vendorID + "/" + category
}

// Hub relays record-inserted and project-status events to room members.
// Delivery is best-effort and at-most-once; a disconnected subscriber misses
// events until it resubscribes and re-reads the current count.
type Hub struct {
	cfg    Config
	store  leads.ResultStore
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}

	events      chan leads.Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	closed      atomic.Bool
	closeOnce   sync.Once
	dropped     atomic.Int64
	dropLimiter rateLimiter
}

// New starts the fan-out goroutine. The returned Hub immediately accepts
// events and subscriptions.
func New(store leads.ResultStore, cfg Config) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.CountTimeout <= 0 {
		cfg.CountTimeout = defaultCountTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		store:       store,
		logger:      logger,
		rooms:       make(map[string]map[*Subscriber]struct{}),
		events:      make(chan leads.Event, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Subscribe joins the room for (vendorID, category) and immediately queues the
// current total count for that scope, so a fresh subscriber starts from a
// read-your-writes baseline.
func (h *Hub) Subscribe(ctx context.Context, kind leads.Kind, vendorID, category string) (*Subscriber, error) {
	count, err := h.store.CountRecords(ctx, kind, vendorID, category)
	if err != nil {
		return nil, fmt.Errorf("initial count: %w", err)
	}

	sub := &Subscriber{
		ID:       uuid.NewString(),
		Outbound: make(chan Message, h.cfg.SubscriberBuffer),
		room:     RoomKey(vendorID, category),
		done:     make(chan struct{}),
	}
	sub.Outbound <- Message{Event: leads.EventTotalCount, Kind: kind, Category: category, Count: count}

	h.mu.Lock()
	members, ok := h.rooms[sub.room]
	if !ok {
		members = make(map[*Subscriber]struct{})
		h.rooms[sub.room] = members
	}
	members[sub] = struct{}{}
	h.mu.Unlock()

	metrics.SubscribersAdd(1)
	h.logger.Debug("subscriber joined",
		zap.String("subscriber_id", sub.ID),
		zap.String("room", sub.room),
	)
	return sub, nil
}

// Unsubscribe removes the subscriber from its room. Safe to call more than
// once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	removed := false
	if members, ok := h.rooms[sub.room]; ok {
		if _, present := members[sub]; present {
			delete(members, sub)
			removed = true
			if len(members) == 0 {
				delete(h.rooms, sub.room)
			}
		}
	}
	h.mu.Unlock()
	if !removed {
		return
	}

	sub.closeOnce.Do(func() { close(sub.done) })
	metrics.SubscribersAdd(-1)
	h.logger.Debug("subscriber left",
		zap.String("subscriber_id", sub.ID),
		zap.String("room", sub.room),
	)
}

// Emit enqueues an event for fan-out. It never blocks; if the buffer is full
// the event is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt leads.Event) {
	if h == nil || h.closed.Load() {
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		if h.dropLimiter.Allow(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("live events dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close stops the fan-out goroutine and detaches every subscriber.
func (h *Hub) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("hub close wait: %w", ctx.Err())
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0)
	for _, members := range h.rooms {
		for sub := range members {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		h.Unsubscribe(sub)
	}
	return nil
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case evt := <-h.events:
			h.handle(evt)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) handle(evt leads.Event) {
	switch evt.Type {
	case leads.EventRecordInserted:
		vendorID, category := evt.VendorID, evt.Category
		if evt.Record != nil {
			vendorID, category = evt.Record.Room()
		}
		room := RoomKey(vendorID, category)
		h.broadcast(room, Message{
			Event:    leads.EventRecordInserted,
			Kind:     evt.Kind,
			Category: category,
			Record:   evt.Record,
		})

		// Full re-count rather than an incrementing counter: stays correct
		// under concurrent writers and skipped or duplicate events.
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CountTimeout)
		count, err := h.store.CountRecords(ctx, evt.Kind, vendorID, category)
		cancel()
		if err != nil {
			h.logger.Warn("re-count failed",
				zap.String("room", room),
				zap.Error(err),
			)
			return
		}
		h.broadcast(room, Message{
			Event:    leads.EventTotalCount,
			Kind:     evt.Kind,
			Category: category,
			Count:    count,
		})

	case leads.EventProjectStatus:
		room := RoomKey(evt.VendorID, evt.Category)
		h.broadcast(room, Message{
			Event:     leads.EventProjectStatus,
			ProjectID: evt.ProjectID,
			Status:    evt.Status,
		})
	}
}

func (h *Hub) broadcast(room string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[room] {
		select {
		case sub.Outbound <- msg:
		default:
			h.logger.Warn("dropping message, subscriber buffer full",
				zap.String("subscriber_id", sub.ID),
				zap.String("room", room),
			)
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
