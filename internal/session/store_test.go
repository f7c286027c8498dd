package session

import (
	"context"
	"testing"
	"time"

	"github.com/inksuite/signet/internal/clock"
	"github.com/inksuite/signet/internal/config"
	dbpkg "github.com/inksuite/signet/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, name string, ttlSeconds int) (*Store, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	master, err := dbpkg.NewTest(name)
	if err != nil {
		t.Fatalf("open master: %v", err)
	}
	if err := master.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clk := clock.NewFakeClock(baseTime)
	store := NewStore(StoreParam{
		Cfg:    config.Config{SessionTTLSeconds: ttlSeconds},
		Master: master,
		Log:    zap.NewNop(),
		Clock:  clk,
	})
	return store, master, clk
}

func TestSetGetDelete(t *testing.T) {
	store, _, _ := newTestStore(t, "session_roundtrip", 3600)
	ctx := context.Background()

	err := store.Set(ctx, "sid-1", map[string]interface{}{
		"open_id": "ou_1",
		"step":    "authorized",
	}, 0)
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	data, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data == nil || data["open_id"] != "ou_1" || data["step"] != "authorized" {
		t.Fatalf("data = %v", data)
	}

	ok, err := store.Exists(ctx, "sid-1")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}

	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	data, err = store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if data != nil {
		t.Fatalf("session survived delete: %v", data)
	}
}

func TestGetUnknownSession(t *testing.T) {
	store, _, _ := newTestStore(t, "session_unknown", 3600)

	data, err := store.Get(context.Background(), "sid-none")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data != nil {
		t.Fatalf("unknown session returned %v", data)
	}
}

func TestExpiry(t *testing.T) {
	store, master, clk := newTestStore(t, "session_expiry", 3600)
	ctx := context.Background()

	if err := store.Set(ctx, "sid-exp", map[string]interface{}{"k": "v"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	clk.Advance(59 * time.Second)
	if data, _ := store.Get(ctx, "sid-exp"); data == nil {
		t.Fatal("session expired early")
	}

	clk.Advance(2 * time.Second)
	if data, _ := store.Get(ctx, "sid-exp"); data != nil {
		t.Fatalf("expired session still readable: %v", data)
	}

	// The row is still on disk until a sweep removes it.
	var count int64
	if err := master.Model(&Record{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rows before sweep = %d, want 1", count)
	}
	store.Sweep(ctx)
	if err := master.Model(&Record{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rows after sweep = %d, want 0", count)
	}
}

func TestDefaultTTL(t *testing.T) {
	store, _, clk := newTestStore(t, "session_defaultttl", 0)
	ctx := context.Background()

	if err := store.Set(ctx, "sid-ttl", map[string]interface{}{"k": "v"}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	clk.Advance(23 * time.Hour)
	if data, _ := store.Get(ctx, "sid-ttl"); data == nil {
		t.Fatal("session expired before the default day")
	}
	clk.Advance(2 * time.Hour)
	if data, _ := store.Get(ctx, "sid-ttl"); data != nil {
		t.Fatal("session outlived the default TTL")
	}
}

func TestUpdateMerges(t *testing.T) {
	store, _, _ := newTestStore(t, "session_update", 3600)
	ctx := context.Background()

	if err := store.Set(ctx, "sid-up", map[string]interface{}{"a": "1", "b": "2"}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Update(ctx, "sid-up", map[string]interface{}{"b": "3", "c": "4"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	data, err := store.Get(ctx, "sid-up")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if data["a"] != "1" || data["b"] != "3" || data["c"] != "4" {
		t.Fatalf("merged data = %v", data)
	}

	// Update on an unknown session creates it.
	if err := store.Update(ctx, "sid-new", map[string]interface{}{"x": "y"}); err != nil {
		t.Fatalf("update new: %v", err)
	}
	if data, _ := store.Get(ctx, "sid-new"); data == nil || data["x"] != "y" {
		t.Fatalf("created data = %v", data)
	}
}

func TestFallbackToMemoryWhenStoreDies(t *testing.T) {
	store, master, _ := newTestStore(t, "session_fallback", 3600)
	ctx := context.Background()

	// Kill the durable tier out from under the store.
	sqlDB, err := master.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := store.Set(ctx, "sid-mem", map[string]interface{}{"k": "v"}, 0); err != nil {
		t.Fatalf("set with dead store: %v", err)
	}
	data, err := store.Get(ctx, "sid-mem")
	if err != nil {
		t.Fatalf("get with dead store: %v", err)
	}
	if data == nil || data["k"] != "v" {
		t.Fatalf("data = %v", data)
	}
	ok, err := store.Exists(ctx, "sid-mem")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	if err := store.Delete(ctx, "sid-mem"); err != nil {
		t.Fatalf("delete with dead store: %v", err)
	}
	if data, _ := store.Get(ctx, "sid-mem"); data != nil {
		t.Fatalf("session survived delete: %v", data)
	}
}
