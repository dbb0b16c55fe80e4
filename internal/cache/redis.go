package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DDPL-Work/traveldesk/config"
	"github.com/DDPL-Work/traveldesk/internal/domain"
)

type RedisCache struct {
	client     *redis.Client
	accountTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, accountTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:     redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		accountTTL: accountTTL,
	}
}

// AcquireExecutionLock takes the per-booking mutex held for the duration of
// an execution coordinator run. Returns false when another run is active.
func (c *RedisCache) AcquireExecutionLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, executionLockKey(bookingID), "locked", ttl).Result()
}

func (c *RedisCache) ReleaseExecutionLock(ctx context.Context, bookingID string) error {
	return c.client.Del(ctx, executionLockKey(bookingID)).Err()
}

// AcquireAmendmentLock guards against two amendments racing on one booking.
func (c *RedisCache) AcquireAmendmentLock(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, amendmentLockKey(bookingID), "locked", ttl).Result()
}

func (c *RedisCache) ReleaseAmendmentLock(ctx context.Context, bookingID string) error {
	return c.client.Del(ctx, amendmentLockKey(bookingID)).Err()
}

// GetAccount returns a cached corporate account profile, or nil on a miss.
// Balances in the cache are display-only; the ledger always checks the
// database row under lock.
func (c *RedisCache) GetAccount(ctx context.Context, corporateID string) (*domain.CorporateAccount, error) {
	data, err := c.client.Get(ctx, accountKey(corporateID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var account domain.CorporateAccount
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *RedisCache) SetAccount(ctx context.Context, account *domain.CorporateAccount) error {
	payload, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, accountKey(account.ID), payload, c.accountTTL).Err()
}

func (c *RedisCache) InvalidateAccount(ctx context.Context, corporateID string) error {
	return c.client.Del(ctx, accountKey(corporateID)).Err()
}

func executionLockKey(bookingID string) string {
	return fmt.Sprintf("lock:execution:%s", bookingID)
}

func amendmentLockKey(bookingID string) string {
	return fmt.Sprintf("lock:amendment:%s", bookingID)
}

func accountKey(corporateID string) string {
	return fmt.Sprintf("cache:account:%s", corporateID)
}
