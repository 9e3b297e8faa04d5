package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mcsync/pkg/remote"
	"mcsync/pkg/storage"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout 是单次清单请求的超时
	DefaultTimeout = 30 * time.Second
	// DefaultAttempts 是清单请求的最大尝试次数
	DefaultAttempts = 3
	// DefaultBaseDelay 是第一次重试前的等待时间，之后每次翻倍
	DefaultBaseDelay = time.Second
)

// FetchError 表示文档在重试耗尽后仍然无法获取
type FetchError struct {
	URL      string
	Attempts int
	Err      error // 最后一次失败的原因
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SleepFunc 用于重试间的等待，测试时可以替换
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher 获取 JSON 文档并缓存到 storage.Store
// 缓存命中时无条件信任 (不检查过期，也不校验摘要)
// 同一 cacheKey 的并发调用不在这一层去重
type Fetcher struct {
	store     storage.Store
	client    *http.Client
	userAgent string
	attempts  int
	baseDelay time.Duration
	sleep     SleepFunc
	log       logrus.FieldLogger
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }
func WithUserAgent(ua string) Option { return func(f *Fetcher) { f.userAgent = ua } }
func WithAttempts(n int) Option { return func(f *Fetcher) { f.attempts = n } }
func WithBaseDelay(d time.Duration) Option { return func(f *Fetcher) { f.baseDelay = d } }
func WithSleep(s SleepFunc) Option { return func(f *Fetcher) { f.sleep = s } }
func WithLogger(l logrus.FieldLogger) Option { return func(f *Fetcher) { f.log = l } }

func NewFetcher(store storage.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:     store,
		client:    remote.NewClient(DefaultTimeout),
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		sleep:     remote.Sleep,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.attempts < 1 {
		f.attempts = 1
	}
	return f
}

// Fetch 返回 url 对应文档的原始字节
// 1. cacheKey 已缓存 -> 直接读取，不访问网络
// 2. 否则 GET，最多 attempts 次，间隔 baseDelay * 2^attempt
// 3. 成功后先写缓存，再返回
func (f *Fetcher) Fetch(ctx context.Context, url, cacheKey string) ([]byte, error) {
	if data, ok, err := f.cached(ctx, cacheKey); err != nil {
		return nil, err
	} else if ok {
		f.log.WithField("key", cacheKey).Debug("manifest cache hit")
		return data, nil
	}

	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			delay := f.baseDelay << (attempt - 1)
			f.log.WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt + 1,
				"delay":   delay,
			}).Warn("retrying manifest fetch")
			if err := f.sleep(ctx, delay); err != nil {
				return nil, &FetchError{URL: url, Attempts: attempt, Err: lastErr}
			}
		}

		data, err := f.download(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}

		// 先持久化再返回，保证下次运行直接命中
		if err := f.store.Put(ctx, cacheKey, data); err != nil {
			return nil, fmt.Errorf("failed to cache %s: %w", cacheKey, err)
		}
		return data, nil
	}

	return nil, &FetchError{URL: url, Attempts: f.attempts, Err: lastErr}
}

func (f *Fetcher) cached(ctx context.Context, key string) ([]byte, bool, error) {
	rc, err := f.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache %s: %w", key, err)
	}
	return data, true, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := remote.Get(ctx, f.client, url, f.userAgent)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// FetchVersion 获取并解析版本清单
func (f *Fetcher) FetchVersion(ctx context.Context, url, cacheKey string) (*Version, error) {
	data, err := f.Fetch(ctx, url, cacheKey)
	if err != nil {
		return nil, err
	}
	return ParseVersion(data)
}

// AssetIndexKey 返回资源索引的缓存 Key
func AssetIndexKey(id string) string {
	return "assets/" + id + ".json"
}

// FetchAssetIndex 获取并解析版本引用的资源索引
func (f *Fetcher) FetchAssetIndex(ctx context.Context, ref AssetIndexRef) (*AssetIndex, error) {
	data, err := f.Fetch(ctx, ref.URL, AssetIndexKey(ref.ID))
	if err != nil {
		return nil, err
	}
	return ParseAssetIndex(data)
}
