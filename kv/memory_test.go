package kv

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreGetSetRemove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}

	if err := store.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, _ = store.Get(ctx, "k")
	if got != "v2" {
		t.Fatalf("expected v2, got %q", got)
	}

	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after Remove, got %v", err)
	}

	// Removing an absent key is a no-op, not a failure.
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove of absent key failed: %v", err)
	}
}

func TestMemoryStoreWatchFiltersKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ch, stop, err := store.Watch(ctx, "watched")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stop()

	if err := store.Set(ctx, "other", "x"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "watched", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Remove(ctx, "watched"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	first := <-ch
	if first.Key != "watched" || first.Op != OpSet || first.Value != "v" {
		t.Fatalf("unexpected first change: %+v", first)
	}
	second := <-ch
	if second.Key != "watched" || second.Op != OpRemove {
		t.Fatalf("unexpected second change: %+v", second)
	}
}

func TestMemoryStoreWatchStopClosesChannel(t *testing.T) {
	store := NewMemoryStore()

	ch, stop, err := store.Watch(context.Background(), "k")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	stop()
	stop() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after stop")
	}

	// Writes after stop must not panic on the removed watcher.
	if err := store.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Set after stop failed: %v", err)
	}
}
