// Package configstore adapts the director's per-service config and
// autostart set onto Redis. It is intentionally opaque: callers pass and
// receive maps, and unknown keys round-trip untouched.
package configstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haronband/director/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable wraps a Redis connection failure. The reconciler treats
// this as retry-next-tick, never as a fatal condition.
var ErrUnavailable = errors.New("configstore: connection unavailable")

// Store is the config-store adapter: opaque per-name JSON documents plus
// a handful of named sets (chiefly the autostart set).
type Store struct {
	log    *logrus.Entry
	client *redis.Client
}

const keyPrefix = "director:config:"

// New builds a Store from RedisConfig. The connection is lazy: New never
// talks to the network, so a down Redis at boot doesn't fail startup.
func New(log *logrus.Entry, cfg config.RedisConfig) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{log: log, client: client}
}

func docKey(name string) string {
	return keyPrefix + name
}

func setKey(name string) string {
	return "director:set:" + name
}

func (s *Store) wrapErr(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	s.log.WithError(err).Error("config store connection error")
	return ErrUnavailable
}

// LoadConfig returns the stored document for name, or nil if absent.
func (s *Store) LoadConfig(ctx context.Context, name string) (map[string]interface{}, error) {
	raw, err := s.client.Get(ctx, docKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrapErr(err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// SaveConfig persists doc as name's stored document, overwriting whatever
// was there before.
func (s *Store) SaveConfig(ctx context.Context, name string, doc map[string]interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, docKey(name), raw, 0).Err(); err != nil {
		return s.wrapErr(err)
	}
	return nil
}

// ConfigsList returns the names of all stored per-service documents.
func (s *Store) ConfigsList(ctx context.Context) ([]string, error) {
	keys, err := s.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return nil, s.wrapErr(err)
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k[len(keyPrefix):]
	}
	return names, nil
}

// SetExists reports whether the named set has ever been created.
func (s *Store) SetExists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, setKey(key)).Result()
	if err != nil {
		return false, s.wrapErr(err)
	}
	return n > 0, nil
}

// SetAdd adds items to the named set. A no-op if items is empty (Redis
// rejects a bare SADD with no members).
func (s *Store) SetAdd(ctx context.Context, key string, items ...string) error {
	if len(items) == 0 {
		return nil
	}
	members := make([]interface{}, len(items))
	for i, item := range items {
		members[i] = item
	}
	if err := s.client.SAdd(ctx, setKey(key), members...).Err(); err != nil {
		return s.wrapErr(err)
	}
	return nil
}

// SetRm removes item from the named set.
func (s *Store) SetRm(ctx context.Context, key, item string) error {
	if err := s.client.SRem(ctx, setKey(key), item).Err(); err != nil {
		return s.wrapErr(err)
	}
	return nil
}

// SetGet returns every member of the named set.
func (s *Store) SetGet(ctx context.Context, key string) ([]string, error) {
	items, err := s.client.SMembers(ctx, setKey(key)).Result()
	if err != nil {
		return nil, s.wrapErr(err)
	}
	return items, nil
}

// Close shuts the underlying Redis connection down.
func (s *Store) Close() error {
	return s.client.Close()
}
