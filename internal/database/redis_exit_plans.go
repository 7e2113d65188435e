package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"smc-trading-core/config"
	"smc-trading-core/internal/logging"
)

// exitPlanKeyPrefix namespaces exit-plan keys: exitplan:{accountID}:{ticket}
const exitPlanKeyPrefix = "exitplan"

// exitPlanTTL keeps plans around well past any realistic position lifetime.
const exitPlanTTL = 7 * 24 * time.Hour

// ExitPlanCache stores exit plans in Redis so a restart mid-position does
// not lose break-even/partial progress. When Redis is unavailable it falls
// back to an in-memory map; the Postgres row remains the durable copy.
type ExitPlanCache struct {
	client    *redis.Client
	logger    *logging.Logger
	mu        sync.RWMutex
	fallback  map[string]*ExitPlan
	available atomic.Bool
}

// NewExitPlanCache creates the cache. A disabled config yields a memory-only
// cache; the caller never needs to branch.
func NewExitPlanCache(cfg config.RedisConfig, logger *logging.Logger) *ExitPlanCache {
	c := &ExitPlanCache{
		logger:   logger.WithComponent("exit_plan_cache"),
		fallback: make(map[string]*ExitPlan),
	}
	if !cfg.Enabled {
		c.logger.Info("redis disabled, exit plans cached in memory only")
		return c
	}

	c.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Warn("redis unavailable at startup, using in-memory cache", "error", err)
		c.available.Store(false)
	} else {
		c.logger.Info("redis connected", "address", cfg.Address)
		c.available.Store(true)
	}
	return c
}

func (c *ExitPlanCache) key(accountID string, ticket int64) string {
	return fmt.Sprintf("%s:%s:%d", exitPlanKeyPrefix, accountID, ticket)
}

// Save writes a plan to Redis and the fallback map.
func (c *ExitPlanCache) Save(ctx context.Context, plan *ExitPlan) error {
	if plan == nil {
		return fmt.Errorf("cannot save nil exit plan")
	}

	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal exit plan: %w", err)
	}

	c.mu.Lock()
	c.fallback[c.key(plan.AccountID, plan.Ticket)] = plan
	c.mu.Unlock()

	if c.client != nil && c.available.Load() {
		if err := c.client.Set(ctx, c.key(plan.AccountID, plan.Ticket), data, exitPlanTTL).Err(); err != nil {
			c.logger.Warn("redis write failed, in-memory copy kept", "ticket", plan.Ticket, "error", err)
			c.available.Store(false)
		}
	}
	return nil
}

// Load returns the cached plan for a ticket, nil when none exists.
func (c *ExitPlanCache) Load(ctx context.Context, accountID string, ticket int64) (*ExitPlan, error) {
	if c.client != nil && c.available.Load() {
		data, err := c.client.Get(ctx, c.key(accountID, ticket)).Result()
		switch {
		case err == nil:
			var plan ExitPlan
			if err := json.Unmarshal([]byte(data), &plan); err != nil {
				return nil, fmt.Errorf("failed to unmarshal exit plan: %w", err)
			}
			return &plan, nil
		case errors.Is(err, redis.Nil):
			return c.fromFallback(accountID, ticket), nil
		default:
			c.logger.Warn("redis read failed, using in-memory cache", "error", err)
			c.available.Store(false)
		}
	}
	return c.fromFallback(accountID, ticket), nil
}

// Delete removes a plan after the position closed.
func (c *ExitPlanCache) Delete(ctx context.Context, accountID string, ticket int64) {
	c.mu.Lock()
	delete(c.fallback, c.key(accountID, ticket))
	c.mu.Unlock()

	if c.client != nil && c.available.Load() {
		if err := c.client.Del(ctx, c.key(accountID, ticket)).Err(); err != nil {
			c.logger.Warn("redis delete failed", "ticket", ticket, "error", err)
			c.available.Store(false)
		}
	}
}

// Close releases the Redis connection.
func (c *ExitPlanCache) Close() {
	if c.client != nil {
		_ = c.client.Close()
	}
}

func (c *ExitPlanCache) fromFallback(accountID string, ticket int64) *ExitPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallback[c.key(accountID, ticket)]
}
