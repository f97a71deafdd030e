package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared-scope [Store]: one Redis keyspace visible to
// every client of the deployment. Every mutation is also published on a
// single pub/sub channel so that other clients' watchers fire without
// polling.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore] with the given key namespace
// prefix. All keys and the change channel live under the prefix, so two
// stores with distinct prefixes never observe each other.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ta"
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) changeChannel() string {
	return s.prefix + ":changes"
}

// Get returns the value stored under key, or [ErrNotFound].
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return value, nil
}

// Set writes key and publishes the change in one transaction.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	payload, err := json.Marshal(Change{Key: key, Op: OpSet, Value: value})
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(key), value, 0)
		pipe.Publish(ctx, s.changeChannel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Remove deletes key and publishes the change. Removing an absent key
// is a no-op that still publishes, matching Set/Remove symmetry.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	payload, err := json.Marshal(Change{Key: key, Op: OpRemove})
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(key))
		pipe.Publish(ctx, s.changeChannel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Watch subscribes to mutations of the named keys. Changes made by this
// process are delivered too; callers that must ignore their own writes
// filter on payload identity, not on origin.
func (s *RedisStore) Watch(ctx context.Context, keys ...string) (<-chan Change, func(), error) {
	pubsub := s.redis.Subscribe(ctx, s.changeChannel())

	// Force the SUBSCRIBE round trip so a write issued right after
	// Watch returns cannot be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	wanted := watchSet(keys)
	out := make(chan Change, watchBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				if _, ok := wanted[change.Key]; !ok {
					continue
				}
				select {
				case out <- change:
				default:
					// Slow subscriber: drop. The final value is
					// still observable with a plain Get.
				}
			case <-done:
				return
			}
		}
	}()

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		_ = pubsub.Close()
	}
	return out, stop, nil
}

const watchBuffer = 16
