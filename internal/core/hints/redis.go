package hints

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// errKeyNotFound redisClient.Get 的未命中错误
var errKeyNotFound = errors.New("key not found")

// redisClient 提示存储用到的最小 Redis 操作集，测试中可替换
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// RedisConfig Redis 后端配置
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL 提示过期时间，0 表示不过期
	TTL         time.Duration
	DialTimeout time.Duration
}

// RedisStore 基于 Redis 的提示存储，适合多个 shelf 进程共享
type RedisStore struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 连接 Redis 并创建存储
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client, err := newGoRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return newRedisStoreWithClient(client, cfg), nil
}

func newRedisStoreWithClient(client redisClient, cfg RedisConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}
}

func (s *RedisStore) Get(ctx context.Context, account common.Address) (uint64, bool, error) {
	raw, err := s.client.Get(ctx, accountKey(s.prefix, account))
	if errors.Is(err, errKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read hint: %w", err)
	}
	id, err := decodeBookID(raw)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *RedisStore) Set(ctx context.Context, account common.Address, bookID uint64) error {
	if err := s.client.Set(ctx, accountKey(s.prefix, account), encodeBookID(bookID), s.ttl); err != nil {
		return fmt.Errorf("write hint: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, account common.Address) error {
	if _, err := s.client.Del(ctx, accountKey(s.prefix, account)); err != nil {
		return fmt.Errorf("delete hint: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.client.Keys(ctx, s.prefix+"*")
	if err != nil {
		return fmt.Errorf("list hints: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.client.Del(ctx, keys...); err != nil {
		return fmt.Errorf("clear hints: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// goRedisClient go-redis 实现
type goRedisClient struct {
	client *redis.Client
}

var _ redisClient = (*goRedisClient)(nil)

func newGoRedisClient(cfg RedisConfig) (redisClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &goRedisClient{client: client}, nil
}

func (c *goRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *goRedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errKeyNotFound
	}
	return b, err
}

func (c *goRedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return c.client.Del(ctx, keys...).Result()
}

func (c *goRedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.client.Keys(ctx, pattern).Result()
}

func (c *goRedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *goRedisClient) Close() error {
	return c.client.Close()
}
