package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "cloid:grid-0", "order-42"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "cloid:grid-0")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || val != "order-42" {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Set(ctx, "cloid:grid-0", "order-43"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	val, _, err = store.Get(ctx, "cloid:grid-0")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if val != "order-43" {
		t.Fatalf("expected overwritten value, got %v", val)
	}
	if err := store.Delete(ctx, "cloid:grid-0"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "cloid:grid-0")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.Set(context.Background(), "key", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
}
