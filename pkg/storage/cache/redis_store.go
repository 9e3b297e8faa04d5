package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"mcsync/pkg/storage"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CachedStore 是一个装饰器，用 Redis 缓存底层 storage.Store 中的文档内容
// 典型用法是包在 S3 外面：清单和资源索引都很小，命中时不再访问 S3
type CachedStore struct {
	backend storage.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client
	ttl     time.Duration
	log     logrus.FieldLogger
}

// MaxCachedSize 超过这个大小的文档不进 Redis
const MaxCachedSize = 8 << 20

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

func NewCachedStore(backend storage.Store, cfg Config, log logrus.FieldLogger) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		log:     log.WithField("component", "redis-cache"),
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(key string) string {
	return "mcsync:doc:" + key
}

// Has 优先查 Redis
func (s *CachedStore) Has(ctx context.Context, key string) (bool, error) {
	val, err := s.client.Exists(ctx, s.cacheKey(key)).Result()
	if err != nil {
		// 缓存故障降级：Redis 不可用时退化为直接查底层存储
		s.log.WithError(err).Warn("redis exists failed, falling back to backend")
	} else if val > 0 {
		return true, nil
	}
	return s.backend.Has(ctx, key)
}

// Put 写入底层存储后再写缓存 (write-through)
func (s *CachedStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.backend.Put(ctx, key, data); err != nil {
		return err
	}
	s.fill(ctx, key, data)
	return nil
}

// Get 命中 Redis 时直接返回内容，不访问底层存储
// 未命中时读底层并回填；Redis 故障只降级，不报错
func (s *CachedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	// 1. 查 Redis
	data, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if err == nil {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.WithError(err).Warn("redis get failed, falling back to backend")
	}

	// 2. 查底层存储
	rc, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err = io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	// 3. 回填
	s.fill(ctx, key, data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

// fill 写缓存；这里的错误不影响主流程
func (s *CachedStore) fill(ctx context.Context, key string, data []byte) {
	if len(data) > MaxCachedSize {
		return
	}
	if err := s.client.Set(ctx, s.cacheKey(key), data, s.ttl).Err(); err != nil {
		s.log.WithError(err).Debug("redis set failed")
	}
}

// Close 释放 Redis 连接
func (s *CachedStore) Close() error {
	return s.client.Close()
}
