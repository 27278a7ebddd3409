package ws

import "gopherai-cochat/internal/model"

// Frame types sent to subscribers. Event frames reuse the fan-out event
// type as their frame type.
const (
	TypeHello          = "hello"
	TypeMessageCreated = model.EventMessageCreated
	TypeMessageUpdated = model.EventMessageUpdated
	TypeMessageDeleted = model.EventMessageDeleted
)

type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// HelloPayload tells a client which connection id to send as
// X-Connection-ID so its own writes are not echoed back.
type HelloPayload struct {
	ConnID      string `json:"conn_id"`
	WorkspaceID string `json:"workspace_id"`
}
