// Package engage computes what the user should work on next: a filter
// pipeline over explicit predicates and a scoring pipeline against the
// user's current situation.
package engage

import (
	"sync"

	"nextup/domain"
)

// ContextModel holds the user's current situation. It is session-scoped
// and resets to the defaults (home, medium energy, 30-minute window) on
// every new session.
type ContextModel struct {
	mu  sync.Mutex
	cur domain.EngagementContext
}

// NewContextModel returns a model at the documented defaults.
func NewContextModel() *ContextModel {
	return &ContextModel{cur: domain.DefaultEngagementContext()}
}

// Update merges the patch into the current context.
func (m *ContextModel) Update(patch domain.ContextPatch) domain.EngagementContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	patch.Apply(&m.cur)
	return m.cur
}

// Current returns the context as it stands.
func (m *ContextModel) Current() domain.EngagementContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}
