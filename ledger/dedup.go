package ledger

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper is an advisory pre-filter in front of the durable ledger. It may
// report false negatives freely; the conditional insert in Reserve remains
// the source of truth.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// NopDeduper never reports a key as seen.
type NopDeduper struct{}

func (NopDeduper) Seen(context.Context, string) (bool, error) { return false, nil }

type redisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":"+key, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => key existed => duplicate
	return !ok, nil
}

// NewRedisDeduper builds a Redis-backed pre-filter and degrades to the nop
// deduper when Redis is unreachable; dedup correctness never depends on it.
func NewRedisDeduper(addr, pass string, db int, ttl time.Duration) Deduper {
	if addr == "" {
		return NopDeduper{}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return NopDeduper{}
	}

	return &redisDeduper{client: client, prefix: "shop:notif", ttl: ttl}
}
