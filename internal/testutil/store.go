package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GlitchedBaby/TrafficXia/internal/db"
	"github.com/GlitchedBaby/TrafficXia/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, filepath.Join(t.TempDir(), "trafficxia-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store, ctx
}

func SeedRun(t *testing.T, store *db.Store, ctx context.Context) model.Run {
	t.Helper()
	run := model.Run{
		RunID:      uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		ConfigJSON: "{}",
	}
	if err := store.InsertRun(ctx, run); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	return run
}
