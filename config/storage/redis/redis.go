// Package redis provides the Redis backed storage of the factory state.
package redis

import (
	"context"
	"errors"
	"time"

	config "github.com/crabzie/factory-runtime/config/utils"

	"github.com/gofiber/storage/redis/v3"
	"github.com/google/uuid"
	redigo "github.com/redis/go-redis/v9"
)

const (
	lockTTL          = 10 * time.Second
	lockPollInterval = 20 * time.Millisecond
)

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redigo.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Storage *redis.Storage
	client  redigo.UniversalClient
}

// New connects to the configured redis and wraps it in a gofiber storage
func New(ctx context.Context, config *config.Redis) (*Redis, error) {
	client := redigo.NewUniversalClient(&redigo.UniversalOptions{
		Addrs:           []string{config.Addr},
		Password:        config.Password,
		DB:              config.DB,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 1 * time.Second,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Redis{
		Storage: redis.NewFromConnection(client),
		client:  client,
	}, nil
}

// Lock takes a short lived mutex stored at key, polling until it is free or
// ctx is done. The lock expires after lockTTL if the holder dies.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		err := r.client.SetArgs(ctx, key, token, redigo.SetArgs{Mode: "NX", TTL: lockTTL}).Err()
		if err == nil {
			return func() {
				_ = releaseScript.Run(context.WithoutCancel(ctx), r.client, []string{key}, token).Err()
			}, nil
		}
		if !errors.Is(err, redigo.Nil) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Health pings the server
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool
func (r *Redis) Close() error {
	return r.Storage.Close()
}
