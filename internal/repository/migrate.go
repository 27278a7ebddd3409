package repository

import (
	"fmt"

	"gorm.io/gorm"

	"gopherai-cochat/internal/model"
)

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Workspace{}, &model.Membership{}, &model.Message{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return nil
}
