package domain

import (
	"fmt"
	"time"
)

// ActionType is the small vocabulary of high-level task actions.
type ActionType string

const (
	ActionComplete ActionType = "complete"
	ActionDefer    ActionType = "defer"
	ActionDelegate ActionType = "delegate"
	ActionUpdate   ActionType = "update"
)

// Action describes one user-initiated task mutation. Only the fields
// relevant to its type are consulted.
type Action struct {
	Type     ActionType `json:"type"`
	Due      *time.Time `json:"due,omitempty"`      // defer: new due date
	Reason   string     `json:"reason,omitempty"`   // defer: appended as a note
	Delegate string     `json:"delegate,omitempty"` // delegate: who it went to
	Patch    *TaskPatch `json:"patch,omitempty"`    // update: arbitrary partial patch
}

// UnknownActionError reports an unrecognized action type. It is a
// programmer error and is never queued or retried.
type UnknownActionError struct {
	Type ActionType
}

func (e UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action type %q", string(e.Type))
}

// ProjectNotEmptyError rejects deleting a project that still has tasks
// attached. The delete is blocked before any call is issued.
type ProjectNotEmptyError struct {
	ProjectID string
	TaskCount int
}

func (e ProjectNotEmptyError) Error() string {
	return fmt.Sprintf("project %s still has %d attached tasks; re-assign or detach them first", e.ProjectID, e.TaskCount)
}
