package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func init() {
	RegisterBackend("redis", func(config map[string]interface{}) (Store, error) {
		addr := fmt.Sprintf("%s:%d",
			stringOption(config, "host", "127.0.0.1"),
			intOption(config, "port", 6379))
		return openRedisStore(&redis.Options{
			Addr:     addr,
			Password: stringOption(config, "password", ""),
			DB:       intOption(config, "database", 0),
		})
	})
}

const (
	redisKeyPrefix = "hivemind:client:"
	redisIndexKey  = "hivemind:clients"
)

// redisStore keeps each record under "hivemind:client:<id>" with a
// sorted-set index scored by client id, which gives List its ordering
// without a SCAN. Redis always serves live data, so Sync and Commit are
// no-ops.
type redisStore struct {
	ctx context.Context
	rdb *redis.Client
}

func openRedisStore(opts *redis.Options) (Store, error) {
	ctx := context.Background()
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Addr, err)
	}
	return &redisStore{ctx: ctx, rdb: rdb}, nil
}

func (s *redisStore) Put(c *Client) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize client record: %w", err)
	}
	key := fmt.Sprintf("%s%d", redisKeyPrefix, c.ClientID)
	pipe := s.rdb.TxPipeline()
	pipe.Set(s.ctx, key, data, 0)
	pipe.ZAdd(s.ctx, redisIndexKey, redis.Z{Score: float64(c.ClientID), Member: key})
	_, err = pipe.Exec(s.ctx)
	return err
}

func (s *redisStore) List() ([]*Client, error) {
	keys, err := s.rdb.ZRange(s.ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list client records: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.rdb.MGet(s.ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch client records: %w", err)
	}
	out := make([]*Client, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var c Client
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("corrupt client record %s: %w", keys[i], err)
		}
		out = append(out, &c)
	}
	return out, nil
}

func (s *redisStore) Sync() error {
	return nil
}

func (s *redisStore) Commit() error {
	return nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
