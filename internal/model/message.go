package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is the canonical transcript record. AuthorID is nil for
// assistant messages, which belong to the workspace rather than a user.
type Message struct {
	ID          string    `gorm:"primaryKey;size:26" json:"id"`
	WorkspaceID string    `gorm:"size:64;not null;index:idx_messages_workspace_order,priority:1" json:"workspace_id"`
	AuthorID    *string   `gorm:"size:64;index" json:"author_id"`
	Role        string    `gorm:"size:16;not null" json:"role"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	CreatedAt   time.Time `gorm:"not null;index:idx_messages_workspace_order,priority:2" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
