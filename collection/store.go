// Package collection holds the local, UI-facing task collection. It is the
// single shared mutable resource: optimistic writes, queue flush handlers
// and change-feed reconciliation all funnel through its narrow operations,
// which keeps merges deterministic.
package collection

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nextup/domain"
)

const localIDPrefix = "local-"

// Store is a map-indexed task arena with an explicit order, newest first.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
	order []string
}

// New returns an empty store.
func New() *Store {
	return &Store{tasks: make(map[string]*domain.Task)}
}

// IsLocalID reports whether id is a client-temporary placeholder id.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// NewLocalID mints a client-temporary id for an optimistic insert.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// Hydrate replaces the whole collection with server records, preserving the
// given order. Used once at session start.
func (s *Store) Hydrate(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*domain.Task, len(tasks))
	s.order = s.order[:0]
	for i := range tasks {
		t := tasks[i]
		if _, ok := s.tasks[t.ID]; ok {
			continue
		}
		s.tasks[t.ID] = &t
		s.order = append(s.order, t.ID)
	}
}

// Add inserts an optimistic task and returns its placeholder id. The task
// is prepended so the collection stays newest-first.
func (s *Store) Add(t domain.Task) string {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = NewLocalID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return t.ID
	}
	s.tasks[t.ID] = &t
	s.order = append([]string{t.ID}, s.order...)
	return t.ID
}

// Update applies a partial patch to the task with the given id. A missing
// id is an already-converged state, not an error.
func (s *Store) Update(id string, patch domain.TaskPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	patch.Apply(t, time.Now().UTC())
}

// Remove deletes the task with the given id; no-op when absent.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Store) removeLocked(id string) {
	if _, ok := s.tasks[id]; !ok {
		return
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// ApplyEvent reconciles one change-feed notification. The server record
// wins wholesale over any optimistic partial for the same id; duplicate
// and unmatched events are normal and never raise.
func (s *Store) ApplyEvent(ev domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case domain.EventInsert:
		if _, ok := s.tasks[ev.Task.ID]; ok {
			return
		}
		t := ev.Task
		s.tasks[t.ID] = &t
		s.order = append([]string{t.ID}, s.order...)
	case domain.EventUpdate:
		if _, ok := s.tasks[ev.Task.ID]; !ok {
			return
		}
		t := ev.Task
		s.tasks[t.ID] = &t
	case domain.EventDelete:
		s.removeLocked(ev.Task.ID)
	}
}

// ConfirmLocal replaces the placeholder identified by localID with the
// server-confirmed record, keeping its position. If the confirmed id is
// already present (its insert event won the race) the placeholder is simply
// dropped, so exactly one canonical record remains.
func (s *Store) ConfirmLocal(localID string, confirmed domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[confirmed.ID]; ok {
		s.removeLocked(localID)
		return
	}
	if _, ok := s.tasks[localID]; !ok {
		t := confirmed
		s.tasks[t.ID] = &t
		s.order = append([]string{t.ID}, s.order...)
		return
	}
	delete(s.tasks, localID)
	t := confirmed
	s.tasks[t.ID] = &t
	for i, oid := range s.order {
		if oid == localID {
			s.order[i] = t.ID
			break
		}
	}
}

// Get returns a copy of the task with the given id.
func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

// Snapshot returns a copy of the collection in its current order.
func (s *Store) Snapshot() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(s.order))
	for _, id := range s.order {
		if t, ok := s.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Len returns the number of tasks in the collection.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// CountByProject returns how many tasks reference the given project.
func (s *Store) CountByProject(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			n++
		}
	}
	return n
}
