// Package redisstore keeps credentials in Redis so that processes on different hosts can share
// one session.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultPrefix = "reviewctl:credentials"

var (
	_ credentials.KV      = (*Store)(nil)
	_ credentials.Watcher = (*Store)(nil)
)

// Store is a Redis-backed credentials.KV. Each key lives at <prefix>:<key> and every write is
// announced on <prefix>:changed tagged with the writer's origin id.
type Store struct {
	client redis.UniversalClient
	prefix string
	origin string
	logger zerolog.Logger
}

type Option func(*Store)

// WithPrefix namespaces the keys, e.g. per user
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

type changeMessage struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
}

func New(client redis.UniversalClient, options ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
		origin: uuid.NewString(),
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "redisstore").Str("prefix", s.prefix).Logger()
	return s
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return v, true, nil
}

// GetMany reads keys with one MGET, which redis serves atomically
func (s *Store) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from redis: %w", err)
	}
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	pairs := make([]any, 0, len(values)*2)
	keys := make([]string, 0, len(values))
	for k, v := range values {
		pairs = append(pairs, s.key(k), v)
		keys = append(keys, k)
	}

	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.MSet(ctx, pairs...)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to write credentials to redis: %w", err)
	}
	s.publish(ctx, keys)
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete credentials from redis: %w", err)
	}
	s.publish(ctx, keys)
	return nil
}

// Watch subscribes to the change channel and reports keys written by other origins.
// It returns once the subscription is confirmed and ctx is done, or on a subscribe error.
func (s *Store) Watch(ctx context.Context, onChange func(key string)) error {
	sub := s.client.Subscribe(ctx, s.channel())
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel(), err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.logger.Warn().Err(err).Msg("ignoring malformed change message")
				continue
			}
			if change.Origin == s.origin {
				continue
			}
			for _, k := range change.Keys {
				onChange(k)
			}
		}
	}
}

func (s *Store) publish(ctx context.Context, keys []string) {
	payload, err := json.Marshal(changeMessage{Origin: s.origin, Keys: keys})
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish credentials change")
	}
}

func (s *Store) key(k string) string {
	return s.prefix + ":" + k
}

func (s *Store) channel() string {
	return s.prefix + ":changed"
}
