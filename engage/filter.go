package engage

import (
	"time"

	"nextup/domain"
)

// Filter returns the subsequence of tasks passing every populated dimension
// of the filter, order preserved. An empty dimension always passes; within
// the tag dimension one shared tag is enough.
func Filter(tasks []domain.Task, f domain.TaskFilter, now time.Time) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if Matches(t, f, now) {
			out = append(out, t)
		}
	}
	return out
}

// Matches reports whether a single task passes the filter.
func Matches(t domain.Task, f domain.TaskFilter, now time.Time) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if len(f.Contexts) > 0 && !containsContext(f.Contexts, t.Context) {
		return false
	}
	if len(f.Energies) > 0 && !containsEnergy(f.Energies, t.Energy) {
		return false
	}
	if len(f.Durations) > 0 && !containsDuration(f.Durations, t.Duration) {
		return false
	}
	if len(f.Priorities) > 0 && !containsInt(f.Priorities, t.Priority) {
		return false
	}
	if f.DueToday && (t.Due == nil || !sameDay(*t.Due, now)) {
		return false
	}
	if f.Overdue && (t.Due == nil || !t.Due.Before(now)) {
		return false
	}
	if f.HasProject && t.ProjectID == "" {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(t.Tags, f.Tags) {
		return false
	}
	return true
}

func containsStatus(set []domain.Status, v domain.Status) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsContext(set []domain.Context, v domain.Context) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsEnergy(set []domain.Energy, v domain.Energy) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsDuration(set []domain.Duration, v domain.Duration) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func hasAnyTag(tags, allowed []string) bool {
	for _, tag := range tags {
		for _, a := range allowed {
			if tag == a {
				return true
			}
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
