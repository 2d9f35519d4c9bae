package api

import (
	"context"

	"nextup/domain"
	"nextup/engage"
	"nextup/feed"
	"nextup/queue"
	"nextup/session"
)

// Engine is the per-user slice of the sync engine the handlers consume.
type Engine interface {
	Tasks() []domain.Task
	FilteredTasks() []domain.Task
	Projects() []domain.Project
	Suggestions(limit int) []engage.Suggestion
	Capture(ctx context.Context, t domain.Task) (string, error)
	ExecuteAction(ctx context.Context, taskID string, action domain.Action) error
	DeleteTask(ctx context.Context, taskID string) error
	DeleteProject(ctx context.Context, projectID string) error
	SyncNow(ctx context.Context) (queue.FlushReport, error)
	UpdateContext(patch domain.ContextPatch) domain.EngagementContext
	CurrentContext() domain.EngagementContext
	UpdateFilters(f domain.TaskFilter)
	Filters() domain.TaskFilter
	QueueSnapshot() []queue.Action
	RemoveQueued(ctx context.Context, correlationID string) error
	PendingCount() int
	IsOnline() bool
	FeedState() feed.State
}

// Sessions hands out the engine for an authenticated user.
type Sessions interface {
	For(ctx context.Context, userID string) (Engine, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper drops duplicate deliveries of retried requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when processing fails so
	// the client may retry.
	Remove(ctx context.Context, userID, key string) error
}

// managerSessions adapts session.Manager to the Sessions interface.
type managerSessions struct {
	m *session.Manager
}

// ManagerSessions wraps a session manager for handler consumption.
func ManagerSessions(m *session.Manager) Sessions {
	return managerSessions{m: m}
}

func (s managerSessions) For(ctx context.Context, userID string) (Engine, error) {
	return s.m.For(ctx, userID)
}
