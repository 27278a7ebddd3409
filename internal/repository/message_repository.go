package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gopherai-cochat/internal/model"
)

// MessageRepository is the transcript store. Every operation touches a
// single message row; ordering comes from (created_at, id) alone.
type MessageRepository struct {
	db  *gorm.DB
	ids *idGenerator
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db, ids: newIDGenerator()}
}

// Append assigns id and created_at and stores the message.
func (r *MessageRepository) Append(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Workspace{}).Where("id = ?", message.WorkspaceID).Count(&count).Error; err != nil {
			return fmt.Errorf("check workspace failed: %w", err)
		}
		if count == 0 {
			return ErrWorkspaceNotFound
		}

		id, now, err := r.ids.next()
		if err != nil {
			return err
		}
		message.ID = id
		message.CreatedAt = now
		message.UpdatedAt = now
		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("create message failed: %w", err)
		}
		return nil
	})
}

// ListByWorkspaceID returns the transcript in ascending order. A
// non-positive limit returns everything.
func (r *MessageRepository) ListByWorkspaceID(ctx context.Context, workspaceID string, limit int) ([]model.Message, error) {
	query := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var messages []model.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentByWorkspaceID returns the newest limit messages, oldest first.
func (r *MessageRepository) ListRecentByWorkspaceID(ctx context.Context, workspaceID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 20
	}

	var messages []model.Message
	if err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	var message model.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message failed: %w", err)
	}
	return &message, nil
}

// UpdateContent replaces the content of a user message owned by editorID.
func (r *MessageRepository) UpdateContent(ctx context.Context, id, editorID, content string) (*model.Message, error) {
	var updated model.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		message, err := lockOwned(tx, id, editorID)
		if err != nil {
			return err
		}
		if err := tx.Model(message).Update("content", content).Error; err != nil {
			return fmt.Errorf("update message failed: %w", err)
		}
		updated = *message
		updated.Content = content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes a user message owned by requesterID and returns the
// removed row.
func (r *MessageRepository) Delete(ctx context.Context, id, requesterID string) (*model.Message, error) {
	var removed model.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		message, err := lockOwned(tx, id, requesterID)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("delete message failed: %w", err)
		}
		removed = *message
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// lockOwned loads the row FOR UPDATE so a concurrent edit and delete of the
// same message serialize. SQLite has no row locks and the dialect drops
// the clause.
func lockOwned(tx *gorm.DB, id, userID string) (*model.Message, error) {
	var message model.Message
	if err := lockedRow(tx, id).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message failed: %w", err)
	}
	if message.Role != model.RoleUser || message.AuthorID == nil || *message.AuthorID != userID {
		return nil, ErrNotAuthor
	}
	return &message, nil
}

func lockedRow(tx *gorm.DB, id string) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id)
}
