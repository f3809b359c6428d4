package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
)

// DefaultRedisHash is the hash that holds one JSON document per account.
const DefaultRedisHash = "trust:accounts"

// RedisRepo keeps every account as a JSON field of a single redis hash.
type RedisRepo struct {
	client *redis.Client
	hash   string
}

func NewRedisRepo(client *redis.Client, hash string) *RedisRepo {
	if hash == "" {
		hash = DefaultRedisHash
	}
	return &RedisRepo{client: client, hash: hash}
}

func (r *RedisRepo) Get(ctx context.Context, key string) (*entity.Account, error) {
	raw, err := r.client.HGet(ctx, r.hash, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var a entity.Account
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", key, err)
	}
	return &a, nil
}

// Set is a check-and-set under WATCH on the hash. A write to any account
// between the version read and EXEC aborts the transaction, which surfaces
// as ErrConflict and is retried by the store.
func (r *RedisRepo) Set(ctx context.Context, a *entity.Account, prev int64) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", a.Key, err)
	}
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		var held int64
		cur, err := tx.HGet(ctx, r.hash, a.Key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored struct {
				Version int64 `json:"version"`
			}
			if err := json.Unmarshal([]byte(cur), &stored); err != nil {
				return fmt.Errorf("decode account %s: %w", a.Key, err)
			}
			held = stored.Version
		}
		if held != prev {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.hash, a.Key, raw)
			return nil
		})
		return err
	}, r.hash)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (r *RedisRepo) List(ctx context.Context) ([]*entity.Account, error) {
	all, err := r.client.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Account, 0, len(all))
	for key, raw := range all {
		var a entity.Account
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", key, err)
		}
		out = append(out, &a)
	}
	sortAccounts(out)
	return out, nil
}
