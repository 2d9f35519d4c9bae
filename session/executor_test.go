package session

import (
	"errors"
	"testing"
	"time"

	"nextup/domain"
)

func TestCompleteActionSetsStatusAndTimestamp(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	patch, err := patchForAction(domain.Task{}, domain.Action{Type: domain.ActionComplete}, now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if patch.Status == nil || *patch.Status != domain.StatusCompleted {
		t.Fatalf("status not set: %#v", patch)
	}
	if patch.CompletedAt == nil || !patch.CompletedAt.Equal(now) {
		t.Fatalf("completedAt not set: %#v", patch)
	}
}

func TestDeferActionKeepsStatus(t *testing.T) {
	now := time.Now()
	due := now.Add(48 * time.Hour)
	current := domain.Task{Status: domain.StatusNextAction, Notes: "existing"}

	patch, err := patchForAction(current, domain.Action{Type: domain.ActionDefer, Due: &due, Reason: "waiting on budget"}, now)
	if err != nil {
		t.Fatalf("defer: %v", err)
	}
	if patch.Status != nil {
		t.Fatal("defer must not change status")
	}
	if patch.Due == nil || !patch.Due.Equal(due) {
		t.Fatalf("due not set: %#v", patch)
	}
	if patch.Notes == nil || *patch.Notes != "existing\nDeferred: waiting on budget" {
		t.Fatalf("note not appended: %#v", patch.Notes)
	}
}

func TestDelegateActionVariants(t *testing.T) {
	now := time.Now()

	patch, err := patchForAction(domain.Task{}, domain.Action{Type: domain.ActionDelegate, Delegate: "Sam"}, now)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if patch.Status == nil || *patch.Status != domain.StatusWaitingFor {
		t.Fatalf("status not waiting_for: %#v", patch)
	}
	if patch.Notes == nil || *patch.Notes != "Delegated to: Sam" {
		t.Fatalf("note wrong: %#v", patch.Notes)
	}
	if patch.WaitingOn == nil || *patch.WaitingOn != "Sam" {
		t.Fatalf("waitingOn wrong: %#v", patch.WaitingOn)
	}

	patch, err = patchForAction(domain.Task{}, domain.Action{Type: domain.ActionDelegate}, now)
	if err != nil {
		t.Fatalf("anonymous delegate: %v", err)
	}
	if patch.Notes == nil || *patch.Notes != "Delegated" {
		t.Fatalf("anonymous note wrong: %#v", patch.Notes)
	}
}

func TestUnknownActionPropagates(t *testing.T) {
	_, err := patchForAction(domain.Task{}, domain.Action{Type: "archive"}, time.Now())
	var unknown domain.UnknownActionError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownActionError, got %v", err)
	}
	if unknown.Type != "archive" {
		t.Fatalf("error must name the unrecognized type: %v", unknown)
	}
}

func TestSchedulerStopsCleanly(t *testing.T) {
	var sched flushScheduler
	fired := make(chan struct{}, 16)
	sched.Start(5*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never fired")
	}

	sched.Stop()
	// Stop twice is safe.
	sched.Stop()
}
