package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis stores records as plain string keys. Each record has a companion
// counter key bumped on every write, used as its version.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a record store on the given client. All keys are prefixed
// with prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string        { return r.prefix + k }
func (r *Redis) versionKey(k string) string { return r.prefix + k + ":version" }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *Redis) GetVersion(ctx context.Context, key string) ([]byte, string, error) {
	var valueCmd, versionCmd *redis.StringCmd
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		valueCmd = p.Get(ctx, r.key(key))
		versionCmd = p.Get(ctx, r.versionKey(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, "", err
	}
	data, err := valueCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	version, err := versionCmd.Result()
	if errors.Is(err, redis.Nil) {
		version = "0"
	} else if err != nil {
		return nil, "", err
	}
	return data, version, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.key(key), value, 0)
		p.Incr(ctx, r.versionKey(key))
		return nil
	})
	return err
}

func (r *Redis) SetIfVersion(ctx context.Context, key string, value []byte, version string) error {
	k, vk := r.key(key), r.versionKey(key)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, k).Result()
		if err != nil {
			return err
		}
		current, err := tx.Get(ctx, vk).Result()
		if errors.Is(err, redis.Nil) {
			current = "0"
		} else if err != nil {
			return err
		}
		if version == "" && exists > 0 {
			return ErrConcurrencyConflict
		}
		if version != "" && (exists == 0 || current != version) {
			return ErrConcurrencyConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, value, 0)
			p.Incr(ctx, vk)
			return nil
		})
		return err
	}, k, vk)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConcurrencyConflict
	}
	return err
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key), r.versionKey(key)).Err()
}
