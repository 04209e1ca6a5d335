package migrate

import (
	"context"
	"testing"

	"dualtext/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, err := Version(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh database version = %d (%v)", v, err)
	}
	if err := Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	latest := migrations[len(migrations)-1].Version
	if v, _ := Version(ctx, conn); v != latest {
		t.Fatalf("version = %d, want %d", v, latest)
	}
	if err := Migrate(ctx, conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if v, _ := Version(ctx, conn); v != latest {
		t.Fatalf("version moved on re-run: %d", v)
	}
	for _, table := range []string{"projects", "tasks", "annotations", "runs", "laps", "features", "feature_values", "events"} {
		var n int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil || n != 1 {
			t.Fatalf("table %s missing (%v)", table, err)
		}
	}
}
