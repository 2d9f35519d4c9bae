package domain

import "github.com/bytedance/sonic"

// Command types accepted by the backend command queue.
const (
	CommandTaskCreate    = "task-create"
	CommandTaskUpdate    = "task-update"
	CommandTaskDelete    = "task-delete"
	CommandProjectCreate = "project-create"
	CommandProjectUpdate = "project-update"
	CommandProjectDelete = "project-delete"
)

// Command represents a write request for the domain model. Replaying a
// command with the same idempotency key converges to the same final state;
// every payload is a full field-set, never an increment.
type Command struct {
	// ID carries the idempotency key when enqueued to the backend queue.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	EntityType     string                 `json:"entityType"`
	EntityID       string                 `json:"entityId,omitempty"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// CommandEnvelope wraps a command with the user performing it.
type CommandEnvelope struct {
	UserID  string  `json:"userId"`
	Command Command `json:"command"`
}
