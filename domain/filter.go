package domain

// TaskFilter narrows a task collection by explicit user-chosen predicates.
// An empty dimension places no constraint.
type TaskFilter struct {
	Statuses   []Status   `json:"statuses,omitempty"`
	Contexts   []Context  `json:"contexts,omitempty"`
	Energies   []Energy   `json:"energies,omitempty"`
	Durations  []Duration `json:"durations,omitempty"`
	Priorities []int      `json:"priorities,omitempty"`
	DueToday   bool       `json:"dueToday,omitempty"`
	Overdue    bool       `json:"overdue,omitempty"`
	HasProject bool       `json:"hasProject,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

// IsZero reports whether the filter constrains nothing.
func (f TaskFilter) IsZero() bool {
	return len(f.Statuses) == 0 && len(f.Contexts) == 0 && len(f.Energies) == 0 &&
		len(f.Durations) == 0 && len(f.Priorities) == 0 && len(f.Tags) == 0 &&
		!f.DueToday && !f.Overdue && !f.HasProject
}
