package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"gopherai-cochat/internal/model"
)

type WorkspaceRepository struct {
	db *gorm.DB
}

func NewWorkspaceRepository(db *gorm.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

func (r *WorkspaceRepository) Create(ctx context.Context, workspace *model.Workspace) error {
	if err := r.db.WithContext(ctx).Create(workspace).Error; err != nil {
		return fmt.Errorf("create workspace failed: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) AddMember(ctx context.Context, membership *model.Membership) error {
	if err := r.db.WithContext(ctx).Create(membership).Error; err != nil {
		return fmt.Errorf("add member failed: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) Exists(ctx context.Context, workspaceID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Workspace{}).Where("id = ?", workspaceID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check workspace failed: %w", err)
	}
	return count > 0, nil
}

func (r *WorkspaceRepository) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.Membership{}).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check membership failed: %w", err)
	}
	return count > 0, nil
}
