package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/clock/system"
	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/hub"
	iduuid "github.com/leadscout/leadscout/internal/id/uuid"
	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/lifecycle"
	"github.com/leadscout/leadscout/internal/scheduler"
	"github.com/leadscout/leadscout/internal/store/memory"
)

type runnerFunc func(ctx context.Context, job leads.QueueJob, sig *lifecycle.Signal) (int64, error)

func (f runnerFunc) Run(ctx context.Context, job leads.QueueJob, sig *lifecycle.Signal) (int64, error) {
	return f(ctx, job, sig)
}

func newTestServer(t *testing.T, run runnerFunc) (*Server, *memory.Store) {
	t.Helper()

	st := memory.New()
	registry := lifecycle.NewRegistry()
	tracker := lifecycle.NewTracker(st, nil, nil, "", nil)
	sched := scheduler.New(st, tracker, registry, run, nil, iduuid.New(), system.New(), nil)
	t.Cleanup(sched.Shutdown)

	h := hub.New(st, hub.Config{})
	t.Cleanup(func() { _ = h.Close(context.Background()) })

	cfg := config.Config{Server: config.ServerConfig{Port: 8080, RequestTimeoutSec: 5}}
	return NewServer(st, sched, h, iduuid.New(), system.New(), cfg, zap.NewNop()), st
}

func succeedRunner(persisted int64) runnerFunc {
	return func(context.Context, leads.QueueJob, *lifecycle.Signal) (int64, error) {
		return persisted, nil
	}
}

func doJSON(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateProject_SubmitsAndRuns(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, succeedRunner(2))
	rec := doJSON(t, s, http.MethodPost, "/v1/projects", map[string]any{
		"vendor_id":         "v1",
		"project_name":      "lisbon bakeries",
		"city":              "Lisbon",
		"business_category": "bakery",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["project_id"])
	require.NotEmpty(t, resp["job_id"])

	require.Eventually(t, func() bool {
		p, err := st.GetProject(context.Background(), resp["project_id"])
		return err == nil && p.Status == leads.StatusFinished
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateProject_RejectsMissingFields(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, succeedRunner(0))
	rec := doJSON(t, s, http.MethodPost, "/v1/projects", map[string]any{"vendor_id": "v1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/projects", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	s.Handler().ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestListProjects_FiltersByVendor(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, succeedRunner(0))
	require.NoError(t, st.CreateProject(context.Background(), leads.Project{
		ProjectID: "p1", VendorID: "v1", City: "Lisbon", BusinessCategory: "bakery",
	}))

	rec := doJSON(t, s, http.MethodGet, "/v1/projects?vendor_id=v1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Projects []leads.Project `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Projects, 1)
	require.Equal(t, "p1", resp.Projects[0].ProjectID)

	rec = doJSON(t, s, http.MethodGet, "/v1/projects", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectStatus_NotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, succeedRunner(0))
	rec := doJSON(t, s, http.MethodGet, "/v1/projects/ghost/status", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseProject_NotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, succeedRunner(0))
	rec := doJSON(t, s, http.MethodPost, "/v1/projects/ghost/pause", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelProject_ActiveRunEndsCancelled(t *testing.T) {
	t.Parallel()

	// The runner spins at its checkpoint until a cancel is observed.
	run := runnerFunc(func(ctx context.Context, _ leads.QueueJob, sig *lifecycle.Signal) (int64, error) {
		for {
			if err := sig.Checkpoint(ctx); err != nil {
				return 0, nil
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
	s, st := newTestServer(t, run)

	rec := doJSON(t, s, http.MethodPost, "/v1/projects", map[string]any{
		"vendor_id":         "v1",
		"city":              "Lisbon",
		"business_category": "bakery",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	projectID := resp["project_id"]

	require.Eventually(t, func() bool {
		p, err := st.GetProject(context.Background(), projectID)
		return err == nil && p.Status == leads.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	cancelRec := doJSON(t, s, http.MethodPost, "/v1/projects/"+projectID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, cancelRec.Code)

	require.Eventually(t, func() bool {
		p, err := st.GetProject(context.Background(), projectID)
		return err == nil && p.Status == leads.StatusCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResubmit_RejectsProjectWithActiveRun(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	run := runnerFunc(func(ctx context.Context, _ leads.QueueJob, _ *lifecycle.Signal) (int64, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 1, nil
	})
	s, st := newTestServer(t, run)
	defer close(release)

	rec := doJSON(t, s, http.MethodPost, "/v1/projects", map[string]any{
		"vendor_id":         "v1",
		"city":              "Lisbon",
		"business_category": "bakery",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	projectID := resp["project_id"]

	require.Eventually(t, func() bool {
		p, err := st.GetProject(context.Background(), projectID)
		return err == nil && p.Status == leads.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	conflict := doJSON(t, s, http.MethodPost, "/v1/projects/"+projectID+"/submit", nil)
	require.Equal(t, http.StatusConflict, conflict.Code)
}

func TestResubmit_RecoversAbandonedRunningProject(t *testing.T) {
	t.Parallel()

	// A project left at Running by a crash or shutdown has no active signal
	// and no waiting jobs; resubmission starts a fresh run.
	s, st := newTestServer(t, succeedRunner(1))
	require.NoError(t, st.CreateProject(context.Background(), leads.Project{
		ProjectID: "p1", VendorID: "v1", City: "Lisbon", BusinessCategory: "bakery",
		Status: leads.StatusRunning,
	}))

	rec := doJSON(t, s, http.MethodPost, "/v1/projects/p1/submit", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		p, err := st.GetProject(context.Background(), "p1")
		return err == nil && p.Status == leads.StatusFinished
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResubmit_TerminalProjectStartsNewRun(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, succeedRunner(1))
	require.NoError(t, st.CreateProject(context.Background(), leads.Project{
		ProjectID: "p1", VendorID: "v1", City: "Lisbon", BusinessCategory: "bakery",
		Status: leads.StatusCancelled, CancelRequested: true,
	}))

	rec := doJSON(t, s, http.MethodPost, "/v1/projects/p1/submit", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		p, err := st.GetProject(context.Background(), "p1")
		return err == nil && p.Status == leads.StatusFinished && !p.CancelRequested
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream_ValidatesQuery(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, succeedRunner(0))

	rec := doJSON(t, s, http.MethodGet, "/v1/stream?vendor_id=v1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/stream?vendor_id=v1&category=bakery&kind=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStream_SendsInitialCountFrame(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, succeedRunner(0))
	require.NoError(t, st.UpsertRecord(context.Background(), leads.Lead{
		PlaceID: "ChIJ1", VendorID: "v1", ProjectCategory: "bakery",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/stream?vendor_id=v1&category=bakery", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	require.Contains(t, body, "event: total-count")
	require.Contains(t, body, `"count":1`)
}
