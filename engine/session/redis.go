package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/askgeorge/askgeorge/engine/domain"
)

// DefaultTTL is how long an idle session survives in Redis.
const DefaultTTL = 24 * time.Hour

const maxTxRetries = 5

// kv is the subset of commands shared by clients, transactions and
// pipelines.
type kv interface {
	Get(ctx context.Context, key string) *redisv9.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redisv9.StatusCmd
}

// RedisStore keeps sessions as JSON values with a sliding TTL.
type RedisStore struct {
	client *redisv9.Client
	ttl    time.Duration
	turns  int
	prefix string
}

// NewRedisStore wraps client. ttl <= 0 uses DefaultTTL.
func NewRedisStore(client *redisv9.Client, ttl time.Duration, turns int) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, turns: turns, prefix: "askgeorge:session:"}
}

func (r *RedisStore) key(id string) string { return r.prefix + id }

func (r *RedisStore) Create(ctx context.Context, mode string) (*Session, error) {
	s := New(mode)
	if err := r.save(ctx, r.client, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	return r.load(ctx, r.client, id)
}

func (r *RedisStore) Append(ctx context.Context, id string, t domain.Turn) (*Session, error) {
	var out *Session
	err := r.modify(ctx, id, func(s *Session) {
		s.Record(t, r.turns)
		out = s
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisStore) SetMode(ctx context.Context, id, mode string) error {
	return r.modify(ctx, id, func(s *Session) {
		s.Mode = mode
		s.Updated = time.Now().UTC()
	})
}

func (r *RedisStore) ClearHistory(ctx context.Context, id string) error {
	return r.modify(ctx, id, func(s *Session) {
		s.Turns = []domain.Turn{}
		s.Updated = time.Now().UTC()
	})
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("session: redis delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return nil
}

// modify runs a read-modify-write under WATCH, retrying when another
// writer touched the key first.
func (r *RedisStore) modify(ctx context.Context, id string, f func(*Session)) error {
	key := r.key(id)
	txf := func(tx *redisv9.Tx) error {
		s, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		f(s)
		_, err = tx.TxPipelined(ctx, func(p redisv9.Pipeliner) error {
			return r.save(ctx, p, s)
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redisv9.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("session: redis update %q: too much contention", id)
}

func (r *RedisStore) load(ctx context.Context, c kv, id string) (*Session, error) {
	raw, err := c.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session: decode %q: %w", id, err)
	}
	if s.Turns == nil {
		s.Turns = []domain.Turn{}
	}
	return &s, nil
}

func (r *RedisStore) save(ctx context.Context, c kv, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := c.Set(ctx, r.key(s.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}
