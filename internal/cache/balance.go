package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const balanceTTL = 30 * time.Second

// BalanceCache is a display-only cache of ticket balances. It is advisory:
// billing decisions always read the ledger, and every ledger write
// invalidates the cached value. Nil-safe when redis is not configured.
type BalanceCache struct {
	client *redis.Client
}

func NewBalanceCache(client *redis.Client) *BalanceCache {
	if client == nil {
		return nil
	}
	return &BalanceCache{client: client}
}

func balanceKey(accountKey string) string {
	return "renderbank:balance:" + accountKey
}

func (c *BalanceCache) Get(ctx context.Context, accountKey string) (int64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	raw, err := c.client.Get(ctx, balanceKey(accountKey)).Result()
	if err != nil {
		return 0, false
	}
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

func (c *BalanceCache) Set(ctx context.Context, accountKey string, balance int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, balanceKey(accountKey), strconv.FormatInt(balance, 10), balanceTTL).Err()
}

func (c *BalanceCache) Invalidate(ctx context.Context, accountKey string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, balanceKey(accountKey)).Err()
}
