// Package gateway provides API gateway functionality including per-instance
// dispatch guarding
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrInFlight is returned when a quarantine run for the instance is already
// in progress.
var ErrInFlight = errors.New("quarantine already in flight for instance")

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// DispatchGuard allows a single in-flight quarantine run per instance. It
// always guards within the process and additionally across replicas when a
// redis client is configured.
type DispatchGuard struct {
	redis  *redis.Client
	logger *zap.Logger
	config DispatchConfig
	local  sync.Map
}

// DispatchConfig configures the dispatch guard
type DispatchConfig struct {
	KeyPrefix string        `yaml:"key_prefix"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
}

// Lease is a held dispatch lock. Release is idempotent.
type Lease struct {
	guard      *DispatchGuard
	instanceID string
	key        string
	token      string
	distrib    bool
	once       sync.Once
}

// NewDispatchGuard creates a new guard. redisClient may be nil.
func NewDispatchGuard(redisClient *redis.Client, cfg DispatchConfig, logger *zap.Logger) *DispatchGuard {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "quarantine:dispatch"
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 20 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchGuard{
		redis:  redisClient,
		logger: logger,
		config: cfg,
	}
}

// Acquire takes the lock for instanceID or fails with ErrInFlight. Redis
// failures do not block dispatch; the in-process lock still applies.
func (g *DispatchGuard) Acquire(ctx context.Context, instanceID string) (*Lease, error) {
	token := uuid.NewString()
	if _, loaded := g.local.LoadOrStore(instanceID, token); loaded {
		return nil, fmt.Errorf("%w: %s", ErrInFlight, instanceID)
	}

	lease := &Lease{
		guard:      g,
		instanceID: instanceID,
		key:        fmt.Sprintf("%s:%s", g.config.KeyPrefix, instanceID),
		token:      token,
	}
	if g.redis == nil {
		return lease, nil
	}

	ok, err := g.redis.SetNX(ctx, lease.key, token, g.config.LockTTL).Result()
	if err != nil {
		g.logger.Warn("Dispatch lock check failed, allowing dispatch",
			zap.String("instance_id", instanceID), zap.Error(err))
		return lease, nil
	}
	if !ok {
		g.local.Delete(instanceID)
		return nil, fmt.Errorf("%w: %s", ErrInFlight, instanceID)
	}
	lease.distrib = true
	return lease, nil
}

// Ping reports whether the distributed lock store is reachable. A guard
// without redis is always ready.
func (g *DispatchGuard) Ping(ctx context.Context) error {
	if g.redis == nil {
		return nil
	}
	return g.redis.Ping(ctx).Err()
}

// Release frees the lock. It ignores cancellation of ctx so the lock is not
// left behind by an aborted request.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		defer l.guard.local.Delete(l.instanceID)
		if !l.distrib {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if e := releaseScript.Run(ctx, l.guard.redis, []string{l.key}, l.token).Err(); e != nil {
			l.guard.logger.Warn("Failed to release dispatch lock",
				zap.String("instance_id", l.instanceID), zap.Error(e))
			err = e
		}
	})
	return err
}
