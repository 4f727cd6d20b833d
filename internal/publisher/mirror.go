// Package publisher adapts external topic publishers into the event path.
package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/leads"
)

const publishTimeout = 5 * time.Second

// Mirror forwards every event to the in-process emitter and, best effort, to
// an external topic. Publish failures are logged and dropped; the in-process
// path is the source of truth.
type Mirror struct {
	next   leads.Emitter
	pub    leads.Publisher
	topic  string
	logger *zap.Logger
}

// NewMirror wraps next. pub may be nil, in which case events only flow
// in-process.
func NewMirror(next leads.Emitter, pub leads.Publisher, topic string, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{next: next, pub: pub, topic: topic, logger: logger}
}

// Emit never blocks on the external publish.
func (m *Mirror) Emit(evt leads.Event) {
	if m.next != nil {
		m.next.Emit(evt)
	}
	if m.pub == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if _, err := m.pub.Publish(ctx, m.topic, evt); err != nil {
			m.logger.Warn("event mirror publish failed",
				zap.String("topic", m.topic),
				zap.String("type", string(evt.Type)),
				zap.Error(err),
			)
		}
	}()
}
