package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || v != "v" {
		t.Errorf("expected v, got %q (present=%v)", v, ok)
	}
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Set(ctx, "k", "v", time.Minute)
	now = now.Add(2 * time.Minute)

	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("expected key to expire")
	}
}

func TestMemory_SetNX(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "lock", "a", time.Hour)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to succeed, got %v %v", ok, err)
	}
	ok, _ = m.SetNX(ctx, "lock", "b", time.Hour)
	if ok {
		t.Error("expected second SetNX to fail")
	}
	v, _, _ := m.Get(ctx, "lock")
	if v != "a" {
		t.Errorf("expected original value a, got %s", v)
	}
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Set(ctx, "a", "1", 0)
	m.Set(ctx, "b", "2", 0)

	m.Delete(ctx, "a", "b")

	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Error("expected a deleted")
	}
	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Error("expected b deleted")
	}
}
