package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryStore_AllowsWithinBudget(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := s.Allow(ctx, "chat:203.0.113.1", 10)
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d rejected within budget", i)
		}
	}

	allowed, err := s.Allow(ctx, "chat:203.0.113.1", 10)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Error("request 11 allowed, want rejected")
	}
}

func TestMemoryStore_IsolatesKeys(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := s.Allow(ctx, "chat:203.0.113.1", 10); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}

	// A different client is unaffected
	allowed, err := s.Allow(ctx, "chat:203.0.113.2", 10)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !allowed {
		t.Error("second client rejected by first client's budget")
	}

	// Same client, different route
	allowed, err = s.Allow(ctx, "health:203.0.113.1", 100)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !allowed {
		t.Error("different route rejected by chat budget")
	}
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "vaultmind:rl:"), mr
}

func TestRedisStore_AllowsWithinBudget(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := s.Allow(ctx, "chat:203.0.113.1", 5)
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d rejected within budget", i)
		}
	}

	allowed, err := s.Allow(ctx, "chat:203.0.113.1", 5)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Error("request 6 allowed, want rejected")
	}
}

func TestRedisStore_WindowExpires(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Allow(ctx, "chat:203.0.113.1", 5); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}

	// The window key expires; the next check lands in a fresh window.
	mr.FastForward(2 * time.Minute)

	allowed, err := s.Allow(ctx, "chat:203.0.113.1", 5)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !allowed {
		t.Error("request rejected after window expiry")
	}
}

func TestRedisStore_ErrorSurfaced(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "vaultmind:rl:")
	mr.Close()
	_ = client.Close()

	if _, err := s.Allow(context.Background(), "chat:203.0.113.1", 5); err == nil {
		t.Fatal("expected error from closed redis")
	}
}
