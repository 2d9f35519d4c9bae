package session

import (
	"time"

	"nextup/domain"
)

// patchForAction translates a high-level action into the concrete field
// mutation it stands for. Every resulting mutation is a field-set, never an
// increment, so replaying it converges.
func patchForAction(current domain.Task, a domain.Action, now time.Time) (domain.TaskPatch, error) {
	switch a.Type {
	case domain.ActionComplete:
		status := domain.StatusCompleted
		completedAt := now
		return domain.TaskPatch{Status: &status, CompletedAt: &completedAt}, nil

	case domain.ActionDefer:
		patch := domain.TaskPatch{}
		if a.Due != nil {
			patch.Due = a.Due
		}
		if a.Reason != "" {
			notes := appendNote(current.Notes, "Deferred: "+a.Reason)
			patch.Notes = &notes
		}
		return patch, nil

	case domain.ActionDelegate:
		status := domain.StatusWaitingFor
		patch := domain.TaskPatch{Status: &status}
		if a.Delegate != "" {
			notes := "Delegated to: " + a.Delegate
			patch.Notes = &notes
			patch.WaitingOn = &a.Delegate
		} else {
			notes := "Delegated"
			patch.Notes = &notes
		}
		return patch, nil

	case domain.ActionUpdate:
		if a.Patch == nil {
			return domain.TaskPatch{}, nil
		}
		return *a.Patch, nil

	default:
		return domain.TaskPatch{}, domain.UnknownActionError{Type: a.Type}
	}
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
