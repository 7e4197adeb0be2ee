package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*Redis)(nil)

// Redis is a Store shared by every server instance. Keys never expire:
// the cached user ID lives until sign-out, like browser local storage.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings the server. The caller owns Close.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("localstore: redis ping %s: %w", opts.Addr, err)
	}

	return &Redis{client: client, prefix: "starhunters:device:"}, nil
}

func (r *Redis) key(device, key string) string {
	return r.prefix + device + ":" + key
}

func (r *Redis) Get(ctx context.Context, device, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(device, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("localstore: redis get: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, device, key, value string) error {
	if err := r.client.Set(ctx, r.key(device, key), value, 0).Err(); err != nil {
		return fmt.Errorf("localstore: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, device, key string) error {
	if err := r.client.Del(ctx, r.key(device, key)).Err(); err != nil {
		return fmt.Errorf("localstore: redis del: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
