package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"qagen/internal/bootstrap/config"
	"qagen/internal/bootstrap/database"
)

func TestInitSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "app.sqlite")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	app := &App{DB: db}
	for i := 0; i < 2; i++ {
		if err := app.InitSchema(ctx); err != nil {
			t.Fatalf("InitSchema() run %d error = %v", i+1, err)
		}
	}
	if !db.Migrator().HasTable("generated_artifacts") {
		t.Fatalf("generated_artifacts table missing")
	}
}
