// Package session ties the sync engine together: it owns the local
// collection, the offline queue, the change-feed subscription and the
// engagement context for one signed-in user, and exposes the derived views
// the presentation layer consumes.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"nextup/collection"
	"nextup/domain"
	"nextup/engage"
	"nextup/feed"
	"nextup/queue"
	"nextup/storage"
)

// Remote is the consumed slice of the hosted store.
type Remote interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	FetchProjects(ctx context.Context, userID string) ([]domain.Project, error)
	SendCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

// ErrTaskNotFound reports an action against an id the collection has never
// seen.
var ErrTaskNotFound = errors.New("task not found")

// ErrEmptyTitle rejects capturing a task without a title.
var ErrEmptyTitle = errors.New("task title must not be empty")

const (
	defaultFlushInterval = 30 * time.Second
	offlineQueuePrefix   = "offline-queue:"
)

// Config tunes one session.
type Config struct {
	UserID        string
	MaxRetries    int           // offline queue retry budget, 0 = default
	FlushInterval time.Duration // periodic background flush, 0 = 30s
}

// Session is the engine facade for a single user session.
type Session struct {
	cfg     Config
	remote  Remote
	tasks   *collection.Store
	offline *queue.Queue
	sub     *feed.Subscriber
	context *engage.ContextModel
	logger  *log.Logger

	mu       sync.Mutex
	filters  domain.TaskFilter
	projects map[string]domain.Project

	online atomic.Bool
	sched  flushScheduler
}

// New wires a session. The feed client carries the change-stream
// subscription; kv persists the offline queue across restarts.
func New(cfg Config, remote Remote, kv storage.KV, feedClient *redis.Client, logger *log.Logger) *Session {
	if cfg.UserID == "" {
		panic("session.New: user id is required")
	}
	if remote == nil {
		panic("session.New: remote store is required")
	}
	if logger == nil {
		panic("session.New: logger is required")
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	s := &Session{
		cfg:      cfg,
		remote:   remote,
		tasks:    collection.New(),
		offline:  queue.New(kv, offlineQueuePrefix+cfg.UserID, cfg.MaxRetries, logger),
		sub:      feed.NewSubscriber(feedClient, logger),
		context:  engage.NewContextModel(),
		logger:   logger,
		projects: make(map[string]domain.Project),
	}
	s.online.Store(true)
	return s
}

// Start rehydrates the offline queue, hydrates the collection from the
// remote store, registers on the change feed and begins the periodic
// background flush. A failed hydration degrades to an offline start rather
// than failing the session.
func (s *Session) Start(ctx context.Context) error {
	if err := s.offline.Load(ctx); err != nil {
		return err
	}

	if tasks, err := s.remote.FetchTasks(ctx, s.cfg.UserID); err != nil {
		s.online.Store(false)
		s.logger.WithError(err).Warn("task hydration failed, starting offline")
	} else {
		s.tasks.Hydrate(tasks)
	}
	if projects, err := s.remote.FetchProjects(ctx, s.cfg.UserID); err != nil {
		s.logger.WithError(err).Warn("project hydration failed")
	} else {
		s.mu.Lock()
		for _, p := range projects {
			s.projects[p.ID] = p
		}
		s.mu.Unlock()
	}

	if err := s.sub.Subscribe(ctx, s.cfg.UserID, s.tasks.ApplyEvent); err != nil {
		s.logger.WithError(err).Warn("change feed subscription failed")
	}

	s.sched.Start(s.cfg.FlushInterval, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushInterval)
		defer cancel()
		if _, err := s.SyncNow(flushCtx); err != nil {
			s.logger.WithError(err).Warn("background flush failed")
		}
	})
	return nil
}

// Close cancels the background flush and tears down the subscription.
func (s *Session) Close() {
	s.sched.Stop()
	s.sub.Unsubscribe()
}

func newCommand(cmdType, entityType, entityID string, payload any) (domain.Command, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return domain.Command{}, err
	}
	key := uuid.NewString()
	return domain.Command{
		ID:             key,
		IdempotencyKey: key,
		EntityType:     entityType,
		EntityID:       entityID,
		Type:           cmdType,
		Data:           data,
		Timestamp:      nextTimestamp(),
	}, nil
}

// Capture creates a task optimistically and returns the id it is visible
// under right away: the permanent id when the create was confirmed
// synchronously, otherwise the local placeholder id.
func (s *Session) Capture(ctx context.Context, t domain.Task) (string, error) {
	if t.Title == "" {
		return "", ErrEmptyTitle
	}
	if t.Status == "" {
		t.Status = domain.StatusCaptured
	}

	// The permanent id is minted client-side and travels in the create
	// command, so replays and the eventual change-feed insert all converge
	// on the same row.
	permID := uuid.NewString()
	t.ID = ""
	localID := s.tasks.Add(t)

	confirmed := t
	confirmed.ID = permID
	cmd, err := newCommand(domain.CommandTaskCreate, "task", permID, confirmed)
	if err != nil {
		return localID, err
	}
	delivered, err := s.dispatch(ctx, queue.Action{TaskID: permID, LocalID: localID, Command: cmd})
	if err != nil {
		return localID, err
	}
	if delivered {
		return permID, nil
	}
	return localID, nil
}

// ExecuteAction applies a high-level action to a task: optimistic local
// update first, then delivery to the server either directly or through the
// offline queue. Unknown action types fail synchronously and are never
// queued.
func (s *Session) ExecuteAction(ctx context.Context, taskID string, action domain.Action) error {
	current, ok := s.tasks.Get(taskID)
	if !ok {
		return ErrTaskNotFound
	}
	patch, err := patchForAction(current, action, time.Now().UTC())
	if err != nil {
		return err
	}

	s.tasks.Update(taskID, patch)

	entityID := s.resolveEntityID(taskID)
	cmd, err := newCommand(domain.CommandTaskUpdate, "task", entityID, patch)
	if err != nil {
		return err
	}
	_, err = s.dispatch(ctx, queue.Action{TaskID: entityID, Command: cmd})
	return err
}

// DeleteTask removes a task locally and issues the delete.
func (s *Session) DeleteTask(ctx context.Context, taskID string) error {
	entityID := s.resolveEntityID(taskID)
	s.tasks.Remove(taskID)
	cmd, err := newCommand(domain.CommandTaskDelete, "task", entityID, nil)
	if err != nil {
		return err
	}
	_, err = s.dispatch(ctx, queue.Action{TaskID: entityID, Command: cmd})
	return err
}

// DeleteProject rejects the delete while tasks are still attached; the
// destructive call is never issued in that state.
func (s *Session) DeleteProject(ctx context.Context, projectID string) error {
	if n := s.tasks.CountByProject(projectID); n > 0 {
		return domain.ProjectNotEmptyError{ProjectID: projectID, TaskCount: n}
	}
	cmd, err := newCommand(domain.CommandProjectDelete, "project", projectID, nil)
	if err != nil {
		return err
	}
	if _, err := s.dispatch(ctx, queue.Action{Command: cmd}); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.projects, projectID)
	s.mu.Unlock()
	return nil
}

// resolveEntityID maps a local placeholder id to the permanent id its
// pending create command carries, so dependent mutations queued behind the
// create reference the row the server will know.
func (s *Session) resolveEntityID(taskID string) string {
	if !collection.IsLocalID(taskID) {
		return taskID
	}
	for _, a := range s.offline.Snapshot() {
		if a.LocalID == taskID {
			return a.TaskID
		}
	}
	return taskID
}

// dispatch sends the action directly when the session is online and no
// earlier actions are queued; otherwise it goes through the offline queue
// so cross-action ordering is preserved. Transient network failures fall
// back to queueing instead of surfacing as hard errors. The returned bool
// reports synchronous confirmation.
func (s *Session) dispatch(ctx context.Context, a queue.Action) (bool, error) {
	if s.online.Load() && s.offline.Pending() == 0 && !collection.IsLocalID(a.TaskID) {
		err := s.remote.SendCommands(ctx, s.cfg.UserID, []domain.Command{a.Command})
		if err == nil {
			s.confirmDelivered(a)
			return true, nil
		}
		s.online.Store(false)
		s.logger.WithError(err).WithField("command", a.Command.Type).Warn("direct send failed, queueing offline")
	}
	_, err := s.offline.Enqueue(ctx, a)
	return false, err
}

// confirmDelivered reconciles a confirmed create: the optimistic
// placeholder is replaced by the record under its permanent id. The later
// change-feed insert for the same id is then an idempotent no-op.
func (s *Session) confirmDelivered(a queue.Action) {
	if a.LocalID == "" || a.Command.Type != domain.CommandTaskCreate {
		return
	}
	var confirmed domain.Task
	if err := sonic.Unmarshal(a.Command.Data, &confirmed); err != nil {
		s.logger.WithError(err).Error("confirmed create payload unreadable")
		return
	}
	confirmed.ID = a.Command.EntityID
	s.tasks.ConfirmLocal(a.LocalID, confirmed)
}

// SyncNow flushes the offline queue. Called on reconnect, from the
// periodic scheduler, and on explicit user request.
func (s *Session) SyncNow(ctx context.Context) (queue.FlushReport, error) {
	report, err := s.offline.Flush(ctx, func(ctx context.Context, a queue.Action) error {
		return s.remote.SendCommands(ctx, s.cfg.UserID, []domain.Command{a.Command})
	})
	for _, a := range report.Delivered {
		s.confirmDelivered(a)
	}
	if err == nil && report.Retried == 0 {
		s.online.Store(true)
	}
	return report, err
}

// Tasks returns the live collection, newest first.
func (s *Session) Tasks() []domain.Task {
	return s.tasks.Snapshot()
}

// Projects returns the known projects.
func (s *Session) Projects() []domain.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out
}

// FilteredTasks narrows the collection by the session's filters, order
// preserved.
func (s *Session) FilteredTasks() []domain.Task {
	s.mu.Lock()
	f := s.filters
	s.mu.Unlock()
	return engage.Filter(s.tasks.Snapshot(), f, time.Now())
}

// Suggestions ranks the actionable tasks against the current context.
// Recomputed fresh on every call; never cached across context changes.
func (s *Session) Suggestions(limit int) []engage.Suggestion {
	return engage.Suggest(s.tasks.Snapshot(), s.context.Current(), time.Now(), limit)
}

// UpdateContext merges a partial context and returns the result.
func (s *Session) UpdateContext(patch domain.ContextPatch) domain.EngagementContext {
	return s.context.Update(patch)
}

// CurrentContext returns the engagement context as it stands.
func (s *Session) CurrentContext() domain.EngagementContext {
	return s.context.Current()
}

// UpdateFilters replaces the session's task filter.
func (s *Session) UpdateFilters(f domain.TaskFilter) {
	s.mu.Lock()
	s.filters = f
	s.mu.Unlock()
}

// Filters returns the current task filter.
func (s *Session) Filters() domain.TaskFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// PendingCount reports offline actions awaiting delivery.
func (s *Session) PendingCount() int {
	return s.offline.Pending()
}

// IsOnline reports whether the last delivery attempt succeeded.
func (s *Session) IsOnline() bool {
	return s.online.Load()
}

// QueueSnapshot exposes the queue contents, terminal failures included,
// for inspection.
func (s *Session) QueueSnapshot() []queue.Action {
	return s.offline.Snapshot()
}

// RemoveQueued discards one queued action by correlation id.
func (s *Session) RemoveQueued(ctx context.Context, correlationID string) error {
	return s.offline.Remove(ctx, correlationID)
}

// FeedState exposes the subscription state.
func (s *Session) FeedState() feed.State {
	return s.sub.State()
}
