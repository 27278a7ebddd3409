package model

const (
	EventMessageCreated = "message.created"
	EventMessageUpdated = "message.updated"
	EventMessageDeleted = "message.deleted"
)

// Event is the fan-out payload published on a workspace topic. TempID is
// the originator's correlation token and AuthorName the author's display
// name; neither is persisted.
type Event struct {
	Type         string   `json:"type"`
	WorkspaceID  string   `json:"workspace_id"`
	Message      *Message `json:"message,omitempty"`
	MessageID    string   `json:"message_id,omitempty"`
	TempID       string   `json:"temp_id,omitempty"`
	OriginConnID string   `json:"origin_conn_id,omitempty"`
	AuthorName   string   `json:"author_name,omitempty"`
}

// CanonicalID returns the server id the event refers to.
func (e Event) CanonicalID() string {
	if e.Message != nil {
		return e.Message.ID
	}
	return e.MessageID
}
