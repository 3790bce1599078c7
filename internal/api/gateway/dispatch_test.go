package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TestAcquire_InProcess verifies a second dispatch for the same instance is
// refused until the first is released.
func TestAcquire_InProcess(t *testing.T) {
	g := NewDispatchGuard(nil, DispatchConfig{}, zap.NewNop())
	ctx := context.Background()

	lease, err := g.Acquire(ctx, "i-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := g.Acquire(ctx, "i-1"); !errors.Is(err, ErrInFlight) {
		t.Errorf("expected ErrInFlight, got %v", err)
	}
	if other, err := g.Acquire(ctx, "i-2"); err != nil {
		t.Errorf("other instances should not be blocked: %v", err)
	} else {
		other.Release(ctx)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}

	again, err := g.Acquire(ctx, "i-1")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again.Release(ctx)
}

// TestAcquire_RedisUnavailable verifies the guard fails open when redis
// cannot be reached.
func TestAcquire_RedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	g := NewDispatchGuard(client, DispatchConfig{LockTTL: time.Minute}, zap.NewNop())
	ctx := context.Background()

	lease, err := g.Acquire(ctx, "i-1")
	if err != nil {
		t.Fatalf("Acquire should fail open, got %v", err)
	}
	if lease.distrib {
		t.Error("lease should not claim a distributed lock")
	}
	if _, err := g.Acquire(ctx, "i-1"); !errors.Is(err, ErrInFlight) {
		t.Errorf("in-process guard should still apply, got %v", err)
	}
	if err := g.Ping(ctx); err == nil {
		t.Error("Ping should report the unreachable store")
	}
	lease.Release(ctx)
}

// TestNewDispatchGuard_Defaults verifies default prefix and TTL.
func TestNewDispatchGuard_Defaults(t *testing.T) {
	g := NewDispatchGuard(nil, DispatchConfig{}, nil)
	if g.config.KeyPrefix != "quarantine:dispatch" || g.config.LockTTL != 20*time.Minute {
		t.Errorf("unexpected defaults %+v", g.config)
	}
	if err := g.Ping(context.Background()); err != nil {
		t.Errorf("guard without redis should be ready: %v", err)
	}
}
