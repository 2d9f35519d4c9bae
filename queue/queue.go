// Package queue implements the durable offline action queue. It models the
// user's unsynced intent, so every mutation is written through to the
// durable key-value surface and rehydrated at startup.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"nextup/domain"
	"nextup/storage"
)

// State of one queued action.
type State string

const (
	StatePending  State = "pending"
	StateInFlight State = "in-flight"
	StateTerminal State = "failed-terminal"
)

// DefaultMaxRetries bounds delivery attempts per action before it is
// retained as permanently failed.
const DefaultMaxRetries = 5

// ErrNotFound reports an unknown correlation id.
var ErrNotFound = errors.New("queued action not found")

// Action is one user-initiated mutation awaiting delivery. LocalID ties a
// create back to its optimistic placeholder in the collection.
type Action struct {
	CorrelationID string         `json:"correlationId"`
	TaskID        string         `json:"taskId,omitempty"`
	LocalID       string         `json:"localId,omitempty"`
	Command       domain.Command `json:"command"`
	State         State          `json:"state"`
	EnqueuedAt    time.Time      `json:"enqueuedAt"`
	Attempts      int            `json:"attempts"`
	LastErr       string         `json:"lastErr,omitempty"`
}

// Sender delivers one action to the server.
type Sender func(ctx context.Context, a Action) error

// FlushReport summarizes one flush pass.
type FlushReport struct {
	Delivered []Action `json:"delivered"`
	Retried   int      `json:"retried"`
	Terminal  int      `json:"terminal"`
}

// Queue is a FIFO of offline actions with bounded retries and per-action
// failure isolation.
type Queue struct {
	kv         storage.KV
	key        string
	maxRetries int
	logger     *log.Logger

	mu      sync.Mutex
	actions []Action

	flushMu sync.Mutex
}

// New creates a queue persisted under the given key. maxRetries <= 0 falls
// back to DefaultMaxRetries.
func New(kv storage.KV, key string, maxRetries int, logger *log.Logger) *Queue {
	if kv == nil {
		panic("queue.New: kv is required")
	}
	if logger == nil {
		panic("queue.New: logger is required")
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{kv: kv, key: key, maxRetries: maxRetries, logger: logger}
}

// Load rehydrates the queue from durable storage. In-flight entries from a
// crashed flush go back to pending; the server-facing calls are idempotent,
// so re-delivery converges.
func (q *Queue) Load(ctx context.Context) error {
	data, ok, err := q.kv.Get(ctx, q.key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var actions []Action
	if err := sonic.Unmarshal(data, &actions); err != nil {
		return err
	}
	for i := range actions {
		if actions[i].State == StateInFlight {
			actions[i].State = StatePending
		}
	}
	q.mu.Lock()
	q.actions = actions
	q.mu.Unlock()
	return nil
}

// Enqueue appends an action and returns its correlation id.
func (q *Queue) Enqueue(ctx context.Context, a Action) (string, error) {
	if a.CorrelationID == "" {
		a.CorrelationID = uuid.NewString()
	}
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = time.Now().UTC()
	}
	a.State = StatePending

	q.mu.Lock()
	q.actions = append(q.actions, a)
	q.mu.Unlock()

	if err := q.persist(ctx); err != nil {
		return a.CorrelationID, err
	}
	return a.CorrelationID, nil
}

// Flush attempts delivery of every pending action in FIFO order, one in
// flight at a time. A failure isolates to its action: the retry counter is
// bumped (or the action goes terminal at the retry budget) and the rest of
// the queue still gets its attempt. Failed actions wait for the next
// explicit flush; there is no tight retry loop here.
func (q *Queue) Flush(ctx context.Context, send Sender) (FlushReport, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	var report FlushReport

	q.mu.Lock()
	pending := make([]string, 0, len(q.actions))
	for _, a := range q.actions {
		if a.State == StatePending {
			pending = append(pending, a.CorrelationID)
		}
	}
	q.mu.Unlock()

	for _, id := range pending {
		a, ok := q.take(id)
		if !ok {
			continue
		}
		err := send(ctx, a)
		if err == nil {
			q.drop(id)
			report.Delivered = append(report.Delivered, a)
		} else {
			terminal := q.recordFailure(id, err)
			if terminal {
				report.Terminal++
				q.logger.WithError(err).WithFields(log.Fields{
					"correlation_id": id,
					"attempts":       a.Attempts + 1,
				}).Error("offline action exhausted retry budget")
			} else {
				report.Retried++
				q.logger.WithError(err).WithField("correlation_id", id).Warn("offline action delivery failed, will retry")
			}
		}
		if perr := q.persist(ctx); perr != nil {
			return report, perr
		}
	}
	return report, nil
}

// take marks the action in-flight and returns a copy.
func (q *Queue) take(correlationID string) (Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].CorrelationID == correlationID && q.actions[i].State == StatePending {
			q.actions[i].State = StateInFlight
			return q.actions[i], true
		}
	}
	return Action{}, false
}

func (q *Queue) drop(correlationID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].CorrelationID == correlationID {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			return
		}
	}
}

// recordFailure returns true when the action went terminal.
func (q *Queue) recordFailure(correlationID string, cause error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].CorrelationID != correlationID {
			continue
		}
		q.actions[i].Attempts++
		q.actions[i].LastErr = cause.Error()
		if q.actions[i].Attempts >= q.maxRetries {
			q.actions[i].State = StateTerminal
			return true
		}
		q.actions[i].State = StatePending
		return false
	}
	return false
}

// Remove deletes the action with the given correlation id. Used by the UI
// to discard permanently failed actions.
func (q *Queue) Remove(ctx context.Context, correlationID string) error {
	q.mu.Lock()
	found := false
	for i := range q.actions {
		if q.actions[i].CorrelationID == correlationID {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			found = true
			break
		}
	}
	q.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	return q.persist(ctx)
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	q.actions = nil
	q.mu.Unlock()
	return q.kv.Remove(ctx, q.key)
}

// Pending counts actions still awaiting delivery, terminal ones excluded.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, a := range q.actions {
		if a.State != StateTerminal {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the queue contents in order.
func (q *Queue) Snapshot() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Action, len(q.actions))
	copy(out, q.actions)
	return out
}

func (q *Queue) persist(ctx context.Context) error {
	q.mu.Lock()
	data, err := sonic.Marshal(q.actions)
	q.mu.Unlock()
	if err != nil {
		return err
	}
	return q.kv.Set(ctx, q.key, data)
}
