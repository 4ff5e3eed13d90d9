package cache

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"qagen/internal/infrastructure/persistence/sqlite/model"
)

func setupSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&model.RunKV{}); err != nil {
		t.Fatalf("auto migrate run_kv: %v", err)
	}

	return NewSQLiteCache(db)
}

func TestSQLiteCacheSetGetDelete(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "test_plan:Sprint 44", `{"id":"10001","key":"WCX-900"}`, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, found, err := cache.Get(ctx, "test_plan:Sprint 44")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatalf("Get() expected found=true")
	}
	if value != `{"id":"10001","key":"WCX-900"}` {
		t.Fatalf("Get() value = %q", value)
	}

	if err := cache.Set(ctx, "test_plan:Sprint 44", `{"id":"10002","key":"WCX-901"}`, 0); err != nil {
		t.Fatalf("Set(update) error = %v", err)
	}

	value, found, err = cache.Get(ctx, "test_plan:Sprint 44")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != `{"id":"10002","key":"WCX-901"}` {
		t.Fatalf("Get() after update = %q, found=%v", value, found)
	}

	if err := cache.Delete(ctx, "test_plan:Sprint 44"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, found, err = cache.Get(ctx, "test_plan:Sprint 44")
	if err != nil {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if found {
		t.Fatalf("Get() expected found=false after delete")
	}
}

func TestSQLiteCacheDeletePrefix(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()

	for _, key := range []string{"test_plan:Sprint 44", "test_plan:Sprint 45", "other:x", "test_plan_x"} {
		if err := cache.Set(ctx, key, "v", 0); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
	}

	removed, err := cache.DeletePrefix(ctx, "test_plan:")
	if err != nil {
		t.Fatalf("DeletePrefix() error = %v", err)
	}
	if removed != 2 {
		t.Fatalf("DeletePrefix() removed = %d", removed)
	}
	if _, found, _ := cache.Get(ctx, "test_plan_x"); !found {
		t.Fatalf("DeletePrefix() removed a key outside the prefix")
	}
	if _, found, _ := cache.Get(ctx, "other:x"); !found {
		t.Fatalf("DeletePrefix() removed other:x")
	}
}

func TestSQLiteCacheRejectsEmptyKey(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "", "v", 0); err == nil {
		t.Fatalf("Set() expected error for empty key")
	}
	if _, _, err := cache.Get(ctx, ""); err == nil {
		t.Fatalf("Get() expected error for empty key")
	}
	if err := cache.Delete(ctx, ""); err == nil {
		t.Fatalf("Delete() expected error for empty key")
	}
}
