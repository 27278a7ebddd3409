package model

import "time"

// Workspace and Membership are owned by the workspace directory; this
// service only reads them to resolve existence and membership.
type Workspace struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Membership struct {
	WorkspaceID string    `gorm:"primaryKey;size:64" json:"workspace_id"`
	UserID      string    `gorm:"primaryKey;size:64" json:"user_id"`
	Role        string    `gorm:"size:16;not null;default:member" json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}
