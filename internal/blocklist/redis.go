package blocklist

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
)

const redisBatch = 1000

// Redis keeps the blocklist in one redis set, which lets several proxy
// instances share a list.
type Redis struct {
	client *redis.Client
	key    string
}

func OpenRedis(url, key string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), key), nil
}

func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) IsDomainBlocked(ctx context.Context, domain string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, domain).Result()
	if err != nil {
		return false, fmt.Errorf("lookup %q: %w", domain, err)
	}
	return ok, nil
}

func (r *Redis) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *Redis) Load(ctx context.Context, src io.Reader) (int, error) {
	return r.add(ctx, r.key, src)
}

// Replace fills a staging set and renames it over the live one inside a
// MULTI block, so proxies never see a partial or empty list.
func (r *Redis) Replace(ctx context.Context, src io.Reader) (int, error) {
	staging := r.key + ":loading"
	if err := r.client.Del(ctx, staging).Err(); err != nil {
		return 0, fmt.Errorf("clear %s: %w", staging, err)
	}

	n, err := r.add(ctx, staging, src)
	if err != nil {
		_ = r.client.Del(context.WithoutCancel(ctx), staging).Err()
		return 0, err
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if n == 0 {
			// RENAME needs the source key, and an empty set does not exist.
			p.Del(ctx, r.key)
			return nil
		}
		p.Rename(ctx, staging, r.key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("swap %s into %s: %w", staging, r.key, err)
	}
	return n, nil
}

// add sends SADD in batches and returns how many members were new.
func (r *Redis) add(ctx context.Context, key string, src io.Reader) (int, error) {
	n := 0
	batch := make([]any, 0, redisBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		added, err := r.client.SAdd(ctx, key, batch...).Result()
		if err != nil {
			return fmt.Errorf("add %d domains: %w", len(batch), err)
		}
		n += int(added)
		batch = batch[:0]
		return nil
	}

	err := scanDomains(src, func(domain string) error {
		batch = append(batch, domain)
		if len(batch) == redisBatch {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
