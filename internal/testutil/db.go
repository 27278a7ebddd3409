// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gopherai-cochat/internal/model"
	"gopherai-cochat/internal/repository"
)

// NewDB opens a private in-memory SQLite database with the schema applied.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	// a single connection serialises writers and keeps the memory db alive
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repository.AutoMigrate(db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

// SeedWorkspace creates a workspace with the given members.
func SeedWorkspace(t *testing.T, db *gorm.DB, workspaceID string, members ...string) {
	t.Helper()

	repo := repository.NewWorkspaceRepository(db)
	ctx := context.Background()
	if err := repo.Create(ctx, &model.Workspace{ID: workspaceID, Name: workspaceID}); err != nil {
		t.Fatalf("seed workspace failed: %v", err)
	}
	for _, userID := range members {
		if err := repo.AddMember(ctx, &model.Membership{WorkspaceID: workspaceID, UserID: userID, Role: "member"}); err != nil {
			t.Fatalf("seed member failed: %v", err)
		}
	}
}
