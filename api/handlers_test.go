package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"nextup/domain"
	"nextup/engage"
	"nextup/feed"
	"nextup/queue"
	"nextup/session"
)

type mockEngine struct {
	mu        sync.Mutex
	tasks     []domain.Task
	projects  []domain.Project
	captureID string
	captureErr error
	actionErr  error
	deleteProjectErr error
	removeQueuedErr  error
	flushReport queue.FlushReport
	flushErr    error
	lastLimit   int
	lastAction  domain.Action
	lastTaskID  string
	filters     domain.TaskFilter
	engagement  domain.EngagementContext
	pending     int
	online      bool
	snapshot    []queue.Action
}

func (m *mockEngine) Tasks() []domain.Task         { return m.tasks }
func (m *mockEngine) FilteredTasks() []domain.Task { return m.tasks }
func (m *mockEngine) Projects() []domain.Project   { return m.projects }

func (m *mockEngine) Suggestions(limit int) []engage.Suggestion {
	m.mu.Lock()
	m.lastLimit = limit
	m.mu.Unlock()
	return nil
}

func (m *mockEngine) Capture(ctx context.Context, t domain.Task) (string, error) {
	if m.captureErr != nil {
		return "", m.captureErr
	}
	return m.captureID, nil
}

func (m *mockEngine) ExecuteAction(ctx context.Context, taskID string, action domain.Action) error {
	m.mu.Lock()
	m.lastTaskID = taskID
	m.lastAction = action
	m.mu.Unlock()
	return m.actionErr
}

func (m *mockEngine) DeleteTask(ctx context.Context, taskID string) error { return nil }

func (m *mockEngine) DeleteProject(ctx context.Context, projectID string) error {
	return m.deleteProjectErr
}

func (m *mockEngine) SyncNow(ctx context.Context) (queue.FlushReport, error) {
	return m.flushReport, m.flushErr
}

func (m *mockEngine) UpdateContext(patch domain.ContextPatch) domain.EngagementContext {
	patch.Apply(&m.engagement)
	return m.engagement
}

func (m *mockEngine) CurrentContext() domain.EngagementContext { return m.engagement }

func (m *mockEngine) UpdateFilters(f domain.TaskFilter) { m.filters = f }
func (m *mockEngine) Filters() domain.TaskFilter        { return m.filters }

func (m *mockEngine) QueueSnapshot() []queue.Action { return m.snapshot }

func (m *mockEngine) RemoveQueued(ctx context.Context, correlationID string) error {
	return m.removeQueuedErr
}

func (m *mockEngine) PendingCount() int    { return m.pending }
func (m *mockEngine) IsOnline() bool       { return m.online }
func (m *mockEngine) FeedState() feed.State { return feed.StateSubscribed }

type mockSessions struct {
	engine *mockEngine
	err    error
}

func (s mockSessions) For(ctx context.Context, userID string) (Engine, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.engine, nil
}

type mockAuth struct {
	err error
}

func (a mockAuth) UserIDFromAuthHeader(string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "user", nil
}

type mapDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMapDeduper() *mapDeduper { return &mapDeduper{seen: make(map[string]bool)} }

func (d *mapDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[userID+":"+key] {
		return false, nil
	}
	d.seen[userID+":"+key] = true
	return true, nil
}

func (d *mapDeduper) Remove(ctx context.Context, userID, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, userID+":"+key)
	return nil
}

func newTestServer(engine *mockEngine, auth Authenticator, deduper Deduper) *echo.Echo {
	e := echo.New()
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	Register(e, mockSessions{engine: engine}, auth, deduper, logger)
	return e
}

func TestGetTasksReturnsCollection(t *testing.T) {
	engine := &mockEngine{tasks: []domain.Task{{ID: "t1", Title: "Report"}}, online: true}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp tasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].ID != "t1" {
		t.Fatalf("unexpected body: %#v", resp)
	}
}

func TestGetTasksUnauthorized(t *testing.T) {
	e := newTestServer(&mockEngine{}, mockAuth{err: errors.New("missing authorization header")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestPostTaskCreates(t *testing.T) {
	engine := &mockEngine{captureID: "perm-1", online: true}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"Call dentist"}`))
	req.Header.Set("Authorization", "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body: %s", rec.Code, rec.Body.String())
	}
	var resp captureResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "perm-1" || resp.Queued {
		t.Fatalf("unexpected body: %#v", resp)
	}
}

func TestPostTaskEmptyTitle(t *testing.T) {
	engine := &mockEngine{captureErr: session.ErrEmptyTitle}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":""}`))
	req.Header.Set("Authorization", "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestPostTaskDuplicateIdempotencyKey(t *testing.T) {
	engine := &mockEngine{captureID: "perm-1"}
	deduper := newMapDeduper()
	e := newTestServer(engine, mockAuth{}, deduper)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"Call dentist"}`))
		req.Header.Set("Authorization", "Bearer a.b.c")
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(idempotencyKeyHeader, "retry-1")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusCreated {
		t.Fatalf("first delivery: %d", rec.Code)
	}
	if rec := send(); rec.Code != http.StatusConflict {
		t.Fatalf("retry must be dropped: %d", rec.Code)
	}
}

func TestPostTaskFailureReleasesIdempotencyKey(t *testing.T) {
	engine := &mockEngine{captureErr: errors.New("transient")}
	deduper := newMapDeduper()
	e := newTestServer(engine, mockAuth{}, deduper)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"Call dentist"}`))
	req.Header.Set("Authorization", "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(idempotencyKeyHeader, "retry-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	fresh, _ := deduper.Add(context.Background(), "user", "retry-1")
	if !fresh {
		t.Fatal("key must be released after a failed capture")
	}
}

func TestPostActionUnknownType(t *testing.T) {
	engine := &mockEngine{actionErr: domain.UnknownActionError{Type: "archive"}}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/t1/actions", strings.NewReader(`{"type":"archive"}`))
	req.Header.Set("Authorization", "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestPostActionMissingTask(t *testing.T) {
	engine := &mockEngine{actionErr: session.ErrTaskNotFound}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/ghost/actions", strings.NewReader(`{"type":"complete"}`))
	req.Header.Set("Authorization", "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestDeleteProjectConflict(t *testing.T) {
	engine := &mockEngine{deleteProjectErr: domain.ProjectNotEmptyError{ProjectID: "p1", TaskCount: 3}}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/projects/p1", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "3") {
		t.Fatalf("conflict body must name the blocking count: %s", rec.Body.String())
	}
}

func TestGetSuggestionsDefaultLimit(t *testing.T) {
	engine := &mockEngine{engagement: domain.DefaultEngagementContext()}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/suggestions", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if engine.lastLimit != defaultSuggestionLimit {
		t.Fatalf("default limit not applied: %d", engine.lastLimit)
	}
}

func TestGetSuggestionsInvalidLimit(t *testing.T) {
	e := newTestServer(&mockEngine{}, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/suggestions?limit=zero", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestPutContextMergesPatch(t *testing.T) {
	engine := &mockEngine{engagement: domain.DefaultEngagementContext()}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/context", strings.NewReader(`{"location":"office"}`))
	req.Header.Set("Authorization", "Bearer a.b.c")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp domain.EngagementContext
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Location != domain.LocationOffice {
		t.Fatalf("patch not applied: %#v", resp)
	}
	if resp.Energy != domain.EnergyMedium {
		t.Fatalf("untouched fields must keep their defaults: %#v", resp)
	}
}

func TestPostSyncReportsQueueState(t *testing.T) {
	engine := &mockEngine{
		flushReport: queue.FlushReport{Delivered: []queue.Action{{CorrelationID: "c1"}}, Retried: 1},
		pending:     1,
		online:      false,
	}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp syncResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Delivered != 1 || resp.Retried != 1 || resp.Pending != 1 || resp.Online {
		t.Fatalf("unexpected body: %#v", resp)
	}
}

func TestDeleteQueuedNotFound(t *testing.T) {
	engine := &mockEngine{removeQueuedErr: queue.ErrNotFound}
	e := newTestServer(engine, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/queue/ghost", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestServer(&mockEngine{}, mockAuth{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
