package coordinator

import (
	"testing"

	"github.com/cockroachdb/pebble"
)

func testOffsetStore(t *testing.T) *OffsetStore {
	t.Helper()
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	if err != nil {
		t.Fatalf("open pebble failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewOffsetStore(db)
}

func TestOffsetCommitAndFetch(t *testing.T) {
	store := testOffsetStore(t)

	if err := store.Commit("group-1", "orders", 0, 42); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	offset, ok, err := store.Fetch("group-1", "orders", 0)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !ok || offset != 42 {
		t.Errorf("expected (42, true), got (%d, %v)", offset, ok)
	}
}

func TestOffsetCommitOverwrites(t *testing.T) {
	store := testOffsetStore(t)

	if err := store.Commit("group-1", "orders", 0, 10); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := store.Commit("group-1", "orders", 0, 20); err != nil {
		t.Fatalf("recommit failed: %v", err)
	}

	offset, ok, err := store.Fetch("group-1", "orders", 0)
	if err != nil || !ok {
		t.Fatalf("fetch failed: %v, ok=%v", err, ok)
	}
	if offset != 20 {
		t.Errorf("expected latest commit 20, got %d", offset)
	}
}

func TestOffsetFetchMissing(t *testing.T) {
	store := testOffsetStore(t)

	offset, ok, err := store.Fetch("group-1", "orders", 3)
	if err != nil {
		t.Fatalf("fetch of missing offset should not error: %v", err)
	}
	if ok || offset != -1 {
		t.Errorf("expected (-1, false), got (%d, %v)", offset, ok)
	}
}

func TestOffsetDeleteGroupScoped(t *testing.T) {
	store := testOffsetStore(t)

	store.Commit("doomed", "orders", 0, 1)
	store.Commit("doomed", "payments", 2, 5)
	store.Commit("survivor", "orders", 0, 9)

	if err := store.DeleteGroup("doomed"); err != nil {
		t.Fatalf("delete group failed: %v", err)
	}

	if _, ok, _ := store.Fetch("doomed", "orders", 0); ok {
		t.Error("doomed group's offsets should be gone")
	}
	if _, ok, _ := store.Fetch("doomed", "payments", 2); ok {
		t.Error("doomed group's offsets should be gone for all topics")
	}
	offset, ok, _ := store.Fetch("survivor", "orders", 0)
	if !ok || offset != 9 {
		t.Errorf("other groups must be untouched, got (%d, %v)", offset, ok)
	}
}
