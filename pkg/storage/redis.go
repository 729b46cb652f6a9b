package storage

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultNamespace prefixes every key written through a RedisStore.
const DefaultNamespace = "nexus:device"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	URL       string
	Namespace string        // key scope, usually one per device
	TTL       time.Duration // zero keeps entries until deleted
	Logger    logrus.FieldLogger
}

// RedisStore keeps entries in Redis under a namespace so several devices can share one server.
type RedisStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    logrus.FieldLogger
}

// NewRedisStore connects to the server at opts.URL and verifies it with a ping.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	client := redis.NewClient(parsed)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}
	store := NewRedisStoreFromClient(client, opts.Namespace, opts.Logger)
	store.ttl = opts.TTL
	store.logger.WithField("db", parsed.DB).Debug("redis store connected")
	return store, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, namespace string, logger logrus.FieldLogger) *RedisStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisStore{
		client:    client,
		namespace: namespace,
		logger:    logger.WithField("namespace", namespace),
	}
}

func (r *RedisStore) key(key string) string {
	return r.namespace + ":" + key
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrapf(err, "redis delete %s", key)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
