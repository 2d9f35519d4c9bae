package domain

// EventType classifies a change-feed notification.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent is one push notification from the remote store's change
// stream. Delete events carry only the entity id.
type ChangeEvent struct {
	Type  EventType `json:"eventType"`
	Table string    `json:"table"`
	Task  Task      `json:"entity"`
}
