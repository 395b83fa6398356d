package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/redis/go-redis/v9"
)

// cachedBasket carries the persistence fields the public JSON form hides.
type cachedBasket struct {
	ID        string        `json:"id"`
	Lines     []domain.Line `json:"lines"`
	Version   int64         `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// storeIfNewer replaces the entry only when it holds an older version, so
// writes from several processes cannot land out of order.
//
// KEYS[1] basket key; ARGV[1] version, ARGV[2] payload, ARGV[3] ttl in ms.
var storeIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:    client,
		baseTTL:   15 * time.Minute,
		maxJitter: 5 * time.Minute,
	}
}

type RedisCache struct {
	client    *redis.Client
	baseTTL   time.Duration
	maxJitter time.Duration
}

func (r *RedisCache) Get(ctx context.Context, basketID string) (*domain.Basket, error) {
	data, err := r.client.HGet(ctx, cacheKey(basketID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cb cachedBasket
	if err := json.Unmarshal(data, &cb); err != nil {
		return nil, fmt.Errorf("unmarshal basket failed: %w", err)
	}

	return &domain.Basket{
		ID:        cb.ID,
		Lines:     cb.Lines,
		Version:   cb.Version,
		CreatedAt: cb.CreatedAt,
		UpdatedAt: cb.UpdatedAt,
	}, nil
}

func (r *RedisCache) Set(ctx context.Context, basket *domain.Basket) error {
	if _, err := r.store(ctx, basket); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Fill(ctx context.Context, basket *domain.Basket) (bool, error) {
	stored, err := r.store(ctx, basket)
	if err != nil {
		return false, fmt.Errorf("redis fill failed: %w", err)
	}
	return stored, nil
}

func (r *RedisCache) store(ctx context.Context, basket *domain.Basket) (bool, error) {
	data, err := encode(basket)
	if err != nil {
		return false, err
	}
	n, err := storeIfNewer.Run(ctx, r.client,
		[]string{cacheKey(basket.ID)},
		basket.Version, data, r.ttl().Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisCache) Delete(ctx context.Context, basketID string) error {
	if err := r.client.Del(ctx, cacheKey(basketID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCache) ttl() time.Duration {
	if r.maxJitter <= 0 {
		return r.baseTTL
	}
	return r.baseTTL + rand.N(r.maxJitter)
}

func encode(basket *domain.Basket) ([]byte, error) {
	data, err := json.Marshal(cachedBasket{
		ID:        basket.ID,
		Lines:     basket.Lines,
		Version:   basket.Version,
		CreatedAt: basket.CreatedAt,
		UpdatedAt: basket.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal basket failed: %w", err)
	}
	return data, nil
}

func cacheKey(basketID string) string {
	return fmt.Sprintf("basket:%s", basketID)
}
