package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mcsync/pkg/storage"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// SpyStore (间谍存储)
// 用于统计底层方法被调用的次数，验证请求是否穿透了缓存
// -----------------------------------------------------------------------------
type SpyStore struct {
	hasCount int32
	putCount int32
	getCount int32
	mu       sync.Mutex
	docs     map[string][]byte
}

func NewSpyStore() *SpyStore {
	return &SpyStore{docs: make(map[string][]byte)}
}

func (s *SpyStore) Has(ctx context.Context, key string) (bool, error) {
	atomic.AddInt32(&s.hasCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[key]
	return ok, nil
}

func (s *SpyStore) Put(ctx context.Context, key string, data []byte) error {
	atomic.AddInt32(&s.putCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = data
	return nil
}

func (s *SpyStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	atomic.AddInt32(&s.getCount, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestNewCachedStore_InvalidURL(t *testing.T) {
	_, err := NewCachedStore(NewSpyStore(), Config{RedisURL: "not-a-url"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis url")
}

// readAll 读取 Get 的全部内容
func readAll(t *testing.T, s storage.Store, key string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestCachedStore_RedisDown(t *testing.T) {
	// 直接构造：指向一个没有监听的端口，验证降级路径
	spy := NewSpyStore()
	cs := &CachedStore{
		backend: spy,
		client: redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		}),
		ttl: time.Minute,
		log: logrus.New(),
	}
	defer cs.Close()

	require.NoError(t, cs.Put(context.Background(), "versions/x.json", []byte("x")))
	assert.Equal(t, "x", readAll(t, cs, "versions/x.json"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.getCount), "Redis 不可用时读底层存储")

	exists, err := cs.Has(context.Background(), "versions/x.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCachedStore_Integration(t *testing.T) {
	// A. 环境检查: 确保 Redis 在运行
	redisAddr := "localhost:6379"
	conn, err := net.DialTimeout("tcp", redisAddr, 1*time.Second)
	if err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}
	conn.Close()

	// B. 初始化
	ctx := context.Background()
	spy := NewSpyStore()
	cachedStore, err := NewCachedStore(spy, Config{
		RedisURL: fmt.Sprintf("redis://%s/0", redisAddr),
		TTL:      1 * time.Hour,
	}, nil)
	require.NoError(t, err)
	defer cachedStore.Close()

	written := fmt.Sprintf("assets/it-%d.json", time.Now().UnixNano())
	preloaded := written + ".backend"
	defer cachedStore.client.Del(ctx, cachedStore.cacheKey(written), cachedStore.cacheKey(preloaded))

	// --- Step 1: Put (Write-Through) ---
	require.NoError(t, cachedStore.Put(ctx, written, []byte(`{"objects":{}}`)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.putCount), "Backend Put() should be called")

	// --- Step 2: 写入后的读取直接命中 Redis ---
	assert.Equal(t, `{"objects":{}}`, readAll(t, cachedStore, written))
	assert.Zero(t, atomic.LoadInt32(&spy.getCount), "Backend Get() should NOT be called on hit")

	exists, err := cachedStore.Has(ctx, written)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Zero(t, atomic.LoadInt32(&spy.hasCount), "Backend Has() should NOT be called on hit")

	// --- Step 3: 只在底层存在的文档：第一次穿透并回填，第二次命中 ---
	require.NoError(t, spy.Put(ctx, preloaded, []byte("from-backend")))

	assert.Equal(t, "from-backend", readAll(t, cachedStore, preloaded))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.getCount), "miss reads the backend")

	assert.Equal(t, "from-backend", readAll(t, cachedStore, preloaded))
	assert.Equal(t, int32(1), atomic.LoadInt32(&spy.getCount), "second read is served from Redis")

	// --- Step 4: 不存在的 Key 依然映射为 ErrNotFound ---
	_, err = cachedStore.Get(ctx, written+".missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
