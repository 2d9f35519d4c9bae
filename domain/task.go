package domain

import "time"

// Status is the GTD lifecycle stage of a task.
type Status string

const (
	StatusCaptured   Status = "captured"
	StatusNextAction Status = "next_action"
	StatusProject    Status = "project"
	StatusWaitingFor Status = "waiting_for"
	StatusSomeday    Status = "someday"
	StatusCompleted  Status = "completed"
)

// Context tags where or how a task can be done.
type Context string

const (
	ContextCalls    Context = "calls"
	ContextComputer Context = "computer"
	ContextErrands  Context = "errands"
	ContextHome     Context = "home"
	ContextOffice   Context = "office"
	ContextAnywhere Context = "anywhere"
)

// Energy is the effort level a task demands.
type Energy string

const (
	EnergyHigh   Energy = "high"
	EnergyMedium Energy = "medium"
	EnergyLow    Energy = "low"
)

// Duration is a coarse time-estimate bucket.
type Duration string

const (
	Duration5Min  Duration = "5min"
	Duration15Min Duration = "15min"
	Duration30Min Duration = "30min"
	Duration1Hour Duration = "1hour"
	Duration2Hour Duration = "2hour+"
)

var durationMinutes = map[Duration]int{
	Duration5Min:  5,
	Duration15Min: 15,
	Duration30Min: 30,
	Duration1Hour: 60,
	Duration2Hour: 120,
}

// Minutes returns the bucket's estimate in minutes, or 0 for an unknown bucket.
func (d Duration) Minutes() int {
	return durationMinutes[d]
}

// Task is the central entity of the read model.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Status      Status     `json:"status"`
	ProjectID   string     `json:"projectId,omitempty"`
	Context     Context    `json:"context,omitempty"`
	Energy      Energy     `json:"energy,omitempty"`
	Duration    Duration   `json:"duration,omitempty"`
	Priority    int        `json:"priority,omitempty"` // 1..5, 1 most urgent, 0 unset
	Due         *time.Time `json:"due,omitempty"`
	WaitingOn   string     `json:"waitingOn,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TaskPatch carries a partial update; nil fields are untouched.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	ProjectID   *string    `json:"projectId,omitempty"`
	Context     *Context   `json:"context,omitempty"`
	Energy      *Energy    `json:"energy,omitempty"`
	Duration    *Duration  `json:"duration,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	Due         *time.Time `json:"due,omitempty"`
	WaitingOn   *string    `json:"waitingOn,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Apply folds the patch into the task and refreshes UpdatedAt.
// completedAt is kept consistent with status: leaving the completed
// status clears it.
func (p TaskPatch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Status != nil {
		t.Status = *p.Status
		if *p.Status != StatusCompleted {
			t.CompletedAt = nil
		}
	}
	if p.ProjectID != nil {
		t.ProjectID = *p.ProjectID
	}
	if p.Context != nil {
		t.Context = *p.Context
	}
	if p.Energy != nil {
		t.Energy = *p.Energy
	}
	if p.Duration != nil {
		t.Duration = *p.Duration
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Due != nil {
		t.Due = p.Due
	}
	if p.WaitingOn != nil {
		t.WaitingOn = *p.WaitingOn
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), p.Tags...)
	}
	if p.CompletedAt != nil {
		t.CompletedAt = p.CompletedAt
	}
	t.UpdatedAt = now
}

// ProjectStatus is the lifecycle stage of a project.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectComplete ProjectStatus = "complete"
)

// Project groups tasks under a shared outcome.
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
