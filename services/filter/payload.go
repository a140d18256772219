package filter

// Payload carries the event context from discovery through the queues to the
// evaluator and executors. Only populated fields are meaningful for a given
// event key.
type Payload struct {
	ContactName   string   `json:"contact_name,omitempty"`
	ContactNumber string   `json:"contact_number,omitempty"`
	MessageText   string   `json:"message_text,omitempty"`
	Action        string   `json:"action,omitempty"`
	UpdatedFields []string `json:"updated_fields,omitempty"`
	TagID         string   `json:"tag_id,omitempty"`
	TagAction     string   `json:"tag_action,omitempty"`
	BroadcastID   string   `json:"broadcast_id,omitempty"`
}

const (
	ActionCreated = "CREATED"
	ActionUpdated = "UPDATED"

	TagActionAdded   = "added"
	TagActionRemoved = "removed"
)
