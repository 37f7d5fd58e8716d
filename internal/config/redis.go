package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StringGetter is the part of a redis client the loader needs
type StringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisLoader reads configuration documents (JSON or YAML) from a redis
// server acting as a remote config service:
//
//	<prefix>:root          the root config
//	<prefix>:units:<name>  one test units file
type RedisLoader struct {
	client StringGetter
	prefix string
}

func NewRedisLoader(client StringGetter, prefix string) *RedisLoader {
	if prefix == "" {
		prefix = "ketchup"
	}
	return &RedisLoader{client: client, prefix: prefix}
}

// NewRedisClient opens a client from a redis URL such as redis://localhost:6379/0
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (l *RedisLoader) RootKey() string { return l.prefix + ":root" }

func (l *RedisLoader) UnitsKey(name string) string { return l.prefix + ":units:" + name }

func (l *RedisLoader) LoadAndValidateRootConfig(ctx context.Context) (*RootConfig, error) {
	key := l.RootKey()
	data, err := l.get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeRoot(key, data, FormatAuto)
}

func (l *RedisLoader) LoadTestUnitsConfigs(ctx context.Context, names []string) ([]TestUnitsConfig, error) {
	cfgs := make([]TestUnitsConfig, 0, len(names))
	for _, name := range names {
		data, err := l.get(ctx, l.UnitsKey(name))
		if err != nil {
			return nil, err
		}
		cfg, err := decodeUnits(name, data, FormatAuto)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func (l *RedisLoader) get(ctx context.Context, key string) ([]byte, error) {
	data, err := l.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("config key %q not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config key %q: %w", key, err)
	}
	return data, nil
}

var _ Loader = (*RedisLoader)(nil)
