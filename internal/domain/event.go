package domain

// ChangeType classifies a committed mutation.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// ChangeEvent is the notification broadcast to a collection's subscribers
// after a mutation commits. The payload is already sanitized; for deletes it
// carries the identifier plus any echoed fields.
type ChangeEvent struct {
	Type       ChangeType `json:"type"`
	Collection string     `json:"collection"`
	Payload    Record     `json:"payload"`
}
