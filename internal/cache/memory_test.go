package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGetDelete(t *testing.T) {
	c := NewMemory("t")
	ctx := context.Background()

	if err := c.Set(ctx, "k1", "v1", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "v1" {
		t.Fatalf("got %q", v)
	}

	ok, err := c.Exists(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}

	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "k1"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	c := NewMemory("t")
	ctx := context.Background()

	if err := c.Set(ctx, "ephemeral", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	ok, err := c.Exists(ctx, "ephemeral")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("entry should have expired")
	}
}

func TestMemory_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	a := NewMemory("a")
	b := NewMemory("b")

	if err := a.Set(ctx, "shared", "from-a", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := b.Get(ctx, "shared"); !IsNotFound(err) {
		t.Fatalf("expected isolation between clients, got %v", err)
	}
}
