package currency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/metrics"
)

// NewRedisClient connects to addr and checks it is reachable.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  addr,
		ContextTimeoutEnabled: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return client, nil
}

// Cache memoizes resolved rates in Redis. Unavailable rates are not cached
// so a later lookup can succeed once the provider has data. Cache failures
// never fail a lookup.
type Cache struct {
	client *redis.Client
	next   RateProvider
	symbol string
	ttl    time.Duration
	log    *logging.Logger
}

// NewCache wraps next with a Redis cache keyed by symbol and date.
func NewCache(client *redis.Client, next RateProvider, symbol string, ttl time.Duration, log *logging.Logger) *Cache {
	return &Cache{client: client, next: next, symbol: symbol, ttl: ttl, log: log}
}

// Key returns the cache key for date.
func (c *Cache) Key(date time.Time) string {
	return fmt.Sprintf("docledger:rate:%s:%s", c.symbol, date.Format(time.DateOnly))
}

// RateFor returns the cached rate for date, or asks the wrapped provider.
func (c *Cache) RateFor(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	key := c.Key(date)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		rate, perr := decimal.NewFromString(cached)
		if perr == nil {
			metrics.CacheHit()
			return rate, nil
		}
		c.log.Warn("discarding corrupt cached rate", "key", key, "value", cached)
	case errors.Is(err, redis.Nil):
	default:
		metrics.CacheError()
		c.log.Warn("rate cache read failed", "key", key, "error", err)
	}

	metrics.CacheMiss()
	rate, err := c.next.RateFor(ctx, date)
	if err != nil {
		return decimal.Zero, err
	}

	if err := c.client.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
		metrics.CacheError()
		c.log.Warn("rate cache write failed", "key", key, "error", err)
	}
	return rate, nil
}
