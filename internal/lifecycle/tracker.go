package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/leads"
)

// CancelPartialPolicy decides the terminal status when a cancel was requested
// after results were already persisted.
type CancelPartialPolicy string

// Supported cancel-partial policies.
const (
	// CancelPartialFinish treats a cancel that arrives after ≥1 persisted
	// result as a successful partial completion. Already-persisted data stays
	// visible to subscribers.
	CancelPartialFinish CancelPartialPolicy = "finish"
	// CancelPartialCancel honors the cancel request literally.
	CancelPartialCancel CancelPartialPolicy = "cancel"
)

// Tracker applies status transitions and pushes them to the store and to live
// subscribers. Transitions are monotone per run: once a terminal status is
// written the tracker is done with the project until a fresh submission.
type Tracker struct {
	store   leads.ResultStore
	emitter leads.Emitter
	clock   leads.Clock
	policy  CancelPartialPolicy
	logger  *zap.Logger
}

// NewTracker wires the tracker. A nil emitter or logger is tolerated.
func NewTracker(
	store leads.ResultStore,
	emitter leads.Emitter,
	clock leads.Clock,
	policy CancelPartialPolicy,
	logger *zap.Logger,
) *Tracker {
	if policy == "" {
		policy = CancelPartialFinish
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:   store,
		emitter: emitter,
		clock:   clock,
		policy:  policy,
		logger:  logger,
	}
}

// Start marks the project Running as its queue job begins executing.
func (t *Tracker) Start(ctx context.Context, p leads.Project) error {
	if err := t.transition(ctx, p, leads.StatusRunning); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// Finalize derives and persists the terminal status for a completed run.
// persisted counts the results written during this run; runErr is the error
// that escaped the run, if any.
func (t *Tracker) Finalize(
	ctx context.Context,
	p leads.Project,
	sig *Signal,
	persisted int64,
	runErr error,
) (leads.ProjectStatus, error) {
	status := t.deriveFinal(sig, persisted, runErr)
	if err := t.transition(ctx, p, status); err != nil {
		return status, fmt.Errorf("finalize %s: %w", p.ProjectID, err)
	}
	return status, nil
}

func (t *Tracker) deriveFinal(sig *Signal, persisted int64, runErr error) leads.ProjectStatus {
	cancelled := sig != nil && sig.Cancelled()
	switch {
	case runErr != nil && !cancelled:
		return leads.StatusFailed
	case cancelled && persisted == 0:
		return leads.StatusCancelled
	case cancelled && t.policy == CancelPartialCancel:
		return leads.StatusCancelled
	default:
		// Includes cancel-after-partial-results under the finish policy:
		// records already persisted and broadcast stand.
		return leads.StatusFinished
	}
}

func (t *Tracker) transition(ctx context.Context, p leads.Project, status leads.ProjectStatus) error {
	if err := t.store.SetProjectStatus(ctx, p.ProjectID, status); err != nil {
		return err
	}
	t.logger.Info("project status",
		zap.String("project_id", p.ProjectID),
		zap.String("status", string(status)),
	)
	if t.emitter != nil {
		t.emitter.Emit(leads.Event{
			Type:      leads.EventProjectStatus,
			VendorID:  p.VendorID,
			Category:  p.BusinessCategory,
			ProjectID: p.ProjectID,
			Status:    status,
			At:        t.now(),
		})
	}
	return nil
}

func (t *Tracker) now() time.Time {
	if t.clock != nil {
		return t.clock.Now()
	}
	return time.Now()
}
