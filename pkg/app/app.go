// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mcsync/pkg/config"
	"mcsync/pkg/digest"
	"mcsync/pkg/ignore"
	"mcsync/pkg/manifest"
	"mcsync/pkg/meta"
	"mcsync/pkg/planner"
	"mcsync/pkg/remote"
	"mcsync/pkg/resolver"
	"mcsync/pkg/storage"
	"mcsync/pkg/storage/cache"
	"mcsync/pkg/storage/disk"
	"mcsync/pkg/storage/s3"
	"mcsync/pkg/transfer"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// LockFile 位于根目录下，保证同一根目录同时只有一个 sync
const LockFile = ".mcsync.lock"

var ErrRootLocked = errors.New("another mcsync process is working on this root")

// App 是整个应用程序的依赖容器 (Dependency Container)
type App struct {
	Settings *config.Settings
	Root     string

	Store    storage.Store // 清单/资源索引缓存
	Fetcher  *manifest.Fetcher
	Resolver *resolver.Resolver
	Planner  *planner.Planner
	Engine   *transfer.Engine
	Ledger   *meta.Repository // ledger.driver = none 时为 nil

	Log logrus.FieldLogger

	closers []func() error
}

// Option 用于测试时替换退避等待等行为
type Option func(*options)

type options struct {
	sleep func(ctx context.Context, d time.Duration) error
	log   logrus.FieldLogger
}

func WithSleep(s func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = s }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// New 是工厂函数，负责组装这一台机器
// 它只依赖 Settings，不知道具体的 CLI 命令
func New(ctx context.Context, s *config.Settings, opts ...Option) (*App, error) {
	o := options{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	// 1. 根目录 (Single Source of Truth)
	if s.Root == "" {
		return nil, fmt.Errorf("root path not set")
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root: %w", err)
	}

	a := &App{Settings: s, Root: root, Log: o.log}

	// 2. 文档缓存
	store, err := a.initStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	// 3. 清单获取
	timeout := s.HTTPTimeout
	if timeout <= 0 {
		timeout = manifest.DefaultTimeout
	}
	fetchOpts := []manifest.Option{
		manifest.WithHTTPClient(remote.NewClient(timeout)),
		manifest.WithUserAgent(s.UserAgent),
		manifest.WithLogger(o.log),
	}
	if s.FetchAttempts > 0 {
		fetchOpts = append(fetchOpts, manifest.WithAttempts(s.FetchAttempts))
	}
	if s.FetchBaseDelay > 0 {
		fetchOpts = append(fetchOpts, manifest.WithBaseDelay(s.FetchBaseDelay))
	}
	if o.sleep != nil {
		fetchOpts = append(fetchOpts, manifest.WithSleep(o.sleep))
	}
	a.Fetcher = manifest.NewFetcher(store, fetchOpts...)

	// 4. 解析 (.mcsyncignore + exclude)
	matcher, err := ignore.NewMatcher(root, s.Exclude...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load exclusions: %w", err)
	}
	a.Resolver = resolver.New(root, a.Fetcher, resolver.Options{
		Platforms:        s.Platforms,
		Exclude:          matcher,
		ResourcesBaseURL: s.ResourcesURL,
		Logger:           o.log,
	})

	// 5. 比对与传输
	verifier := digest.NewVerifier()
	a.Planner = planner.New(verifier, s.Concurrency, o.log)

	// 下载不设整体超时，大文件只受连接层超时约束
	engineOpts := []transfer.Option{transfer.WithLogger(o.log)}
	if o.sleep != nil {
		engineOpts = append(engineOpts, transfer.WithSleep(o.sleep))
	}
	a.Engine = transfer.NewEngine(remote.NewClient(0), verifier, transfer.Config{
		Concurrency: s.Concurrency,
		Attempts:    s.Attempts,
		Backoff:     s.Backoff,
		BaseDelay:   s.BaseDelay,
		UserAgent:   s.UserAgent,
	}, engineOpts...)

	// 6. 运行记录
	if err := a.initLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// initStore 根据 cache.type 选择后端，配置了 redis 时再包一层文档缓存
func (a *App) initStore(ctx context.Context) (storage.Store, error) {
	c := a.Settings.Cache

	var backend storage.Store
	switch c.Type {
	case "disk", "":
		d, err := disk.NewAdapter(a.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to init disk cache: %w", err)
		}
		backend = d
	case "s3":
		adapter, err := s3.NewAdapter(ctx, s3.Config{
			Endpoint:        c.S3Endpoint,
			Region:          c.S3Region,
			Bucket:          c.S3Bucket,
			Prefix:          c.S3Prefix,
			AccessKeyID:     c.S3AccessKey,
			SecretAccessKey: c.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 cache: %w", err)
		}
		backend = adapter
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.Type)
	}

	if c.RedisURL == "" {
		return backend, nil
	}
	cached, err := cache.NewCachedStore(backend, cache.Config{RedisURL: c.RedisURL, TTL: c.RedisTTL}, a.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init redis cache: %w", err)
	}
	a.closers = append(a.closers, cached.Close)
	return cached, nil
}

func (a *App) initLedger(ctx context.Context) error {
	l := a.Settings.Ledger
	if l.Driver == "" || l.Driver == "none" {
		return nil
	}

	dsn := l.DSN
	if l.Driver == "sqlite" && dsn == "" {
		dsn = filepath.Join(a.Root, ".mcsync", "ledger.db")
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return err
		}
	}

	db, err := meta.NewDB(ctx, meta.Config{Driver: l.Driver, DSN: dsn})
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	a.Ledger = meta.NewRepository(db)
	return nil
}

// Lock 获取根目录的独占锁，已被其它进程持有时返回 ErrRootLocked
func (a *App) Lock() (unlock func(), err error) {
	fl := flock.New(filepath.Join(a.Root, LockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock root: %w", err)
	}
	if !ok {
		return nil, ErrRootLocked
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			a.Log.WithError(err).Warn("failed to release root lock")
		}
	}, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
