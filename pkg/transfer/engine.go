package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mcsync/pkg/digest"
	"mcsync/pkg/remote"
	"mcsync/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 8
	DefaultAttempts    = 3
	DefaultBackoff     = 2.0
	DefaultBaseDelay   = time.Second
)

// ErrNoClient 表示无法建立网络会话，整个运行直接失败
var ErrNoClient = errors.New("transfer: no http client")

// Failure 是任务在重试耗尽后的失败原因
// Err 保留最后一次的错误，可以用 errors.As 取出 *digest.Mismatch / *remote.StatusError
type Failure struct {
	URL      string
	Path     string
	Attempts int
	Err      error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("transfer %s -> %s failed after %d attempt(s): %v", e.URL, e.Path, e.Attempts, e.Err)
}

func (e *Failure) Unwrap() error { return e.Err }

// Config 控制并发与重试
type Config struct {
	Concurrency int           // 同时进行中的传输数上限
	Attempts    int           // 每个任务的最大尝试次数
	Backoff     float64       // 退避倍数: 第 n 次失败后等待 BaseDelay * Backoff^n
	BaseDelay   time.Duration // 退避的时间单位
	UserAgent   string
}

func (c Config) withDefaults() Config {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

// Delay 返回第 failures 次失败后的等待时间
func (c Config) Delay(failures int) time.Duration {
	return time.Duration(float64(c.BaseDelay) * math.Pow(c.Backoff, float64(failures)))
}

// SleepFunc 用于退避等待，测试时可以替换
type SleepFunc func(ctx context.Context, d time.Duration) error

// Engine 执行下载计划
// 同一时刻最多 Concurrency 个任务在进行中；任务之间相互隔离，一个失败不影响其它。
type Engine struct {
	client   *http.Client
	verifier *digest.Verifier
	cfg      Config
	sleep    SleepFunc
	log      logrus.FieldLogger
}

// runState 是一次 Run 内按本地路径共享的状态
// 同一路径的任务串行执行；第一个写成功的任务决定文件内容，之后的任务只做校验
type runState struct {
	mu    sync.Mutex
	paths map[string]*pathState
}

type pathState struct {
	mu      sync.Mutex
	written bool // 本次运行已经写入并校验过
}

func (s *runState) path(p string) *pathState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.paths[p]
	if !ok {
		ps = &pathState{}
		s.paths[p] = ps
	}
	return ps
}

type Option func(*Engine)

func WithSleep(s SleepFunc) Option           { return func(e *Engine) { e.sleep = s } }
func WithLogger(l logrus.FieldLogger) Option { return func(e *Engine) { e.log = l } }

// NewEngine client 必须可以被并发使用 (http.Client 满足)
func NewEngine(client *http.Client, v *digest.Verifier, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		client:   client,
		verifier: v,
		cfg:      cfg.withDefaults(),
		sleep:    remote.Sleep,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.verifier == nil {
		e.verifier = digest.NewVerifier()
	}
	return e
}

// Run 执行所有任务，每个任务恰好输出一个结果 (按完成顺序，而非提交顺序)
// 所有结果输出后通道关闭。
// ctx 取消后不再启动新的传输，进行中的传输会完整结束以免留下半截文件，
// 尚未开始的任务以 context 错误报告为失败。
func (e *Engine) Run(ctx context.Context, tasks []types.Task) (<-chan types.Result, error) {
	if e.client == nil {
		return nil, ErrNoClient
	}
	if e.cfg.Concurrency < 1 {
		return nil, fmt.Errorf("transfer: invalid concurrency %d", e.cfg.Concurrency)
	}

	results := make(chan types.Result, len(tasks))
	sem := semaphore.NewWeighted(int64(e.cfg.Concurrency))
	st := &runState{paths: make(map[string]*pathState)}

	go func() {
		defer close(results)

		var g errgroup.Group
		for i, t := range tasks {
			if err := sem.Acquire(ctx, 1); err != nil {
				// 协作式取消：剩下的任务不再启动，但每个都要有结果
				for _, rest := range tasks[i:] {
					results <- types.Result{Task: rest, Outcome: types.OutcomeFailed, Err: err}
				}
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				results <- e.runTask(ctx, t, st)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return results, nil
}

// RunAll 是 Run 的同步版本，按完成顺序收集所有结果
func (e *Engine) RunAll(ctx context.Context, tasks []types.Task) ([]types.Result, error) {
	ch, err := e.Run(ctx, tasks)
	if err != nil {
		return nil, err
	}
	out := make([]types.Result, 0, len(tasks))
	for r := range ch {
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) runTask(ctx context.Context, t types.Task, st *runState) types.Result {
	log := e.log.WithFields(logrus.Fields{"url": t.URL, "path": t.Path})
	if err := ctx.Err(); err != nil {
		return types.Result{Task: t, Outcome: types.OutcomeFailed, Err: err}
	}

	ps := st.path(t.Path)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	// 0. 本次运行已由其它任务写入：只校验自己的摘要，绝不覆盖
	if ps.written {
		if t.HasDigest() {
			if err := e.verifier.Verify(t.Path, t.SHA1); err != nil {
				log.WithError(err).Error("path already written with a different digest")
				return types.Result{Task: t, Outcome: types.OutcomeFailed, Err: err}
			}
		}
		return types.Result{Task: t, Outcome: types.OutcomeAlreadyValid}
	}

	// 1. 本地已有有效文件 -> 不访问网络
	valid, err := e.validInPlace(t)
	if err != nil {
		log.WithError(err).Warn("local file unusable")
		return types.Result{Task: t, Outcome: types.OutcomeFailed, Err: err}
	}
	if valid {
		return types.Result{Task: t, Outcome: types.OutcomeAlreadyValid}
	}

	// 2. 传输
	n, err := e.transfer(ctx, t, log)
	if err != nil {
		log.WithError(err).Error("transfer failed")
		return types.Result{Task: t, Outcome: types.OutcomeFailed, Err: err}
	}
	ps.written = true

	log.WithField("bytes", n).Debug("downloaded")
	return types.Result{Task: t, Outcome: types.OutcomeDownloaded, Bytes: n}
}

// validInPlace 目标存在且 (无摘要 或 摘要匹配) 时返回 true
// 已知损坏的旧文件会被删除，失败时目标路径上不会留下坏文件
func (e *Engine) validInPlace(t types.Task) (bool, error) {
	if _, err := os.Stat(t.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &digest.IOError{Path: t.Path, Err: err}
	}
	if !t.HasDigest() {
		return true, nil
	}

	ok, err := e.verifier.Matches(t.Path, t.SHA1)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if err := os.Remove(t.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, &digest.IOError{Path: t.Path, Err: err}
	}
	return false, nil
}

// transfer 带重试的传输循环
// 传输失败与摘要不匹配都可重试；本地 I/O 错误只影响本任务，不重试
func (e *Engine) transfer(ctx context.Context, t types.Task, log logrus.FieldLogger) (int64, error) {
	// 进行中的请求不随 ctx 取消，避免写到一半被打断
	inflight := context.WithoutCancel(ctx)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < e.cfg.Attempts; attempt++ {
		if attempt > 0 {
			delay := e.cfg.Delay(attempt)
			log.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"delay":   delay,
			}).WithError(lastErr).Warn("retrying transfer")
			if err := e.sleep(ctx, delay); err != nil {
				break
			}
		}

		attempts++
		n, err := e.fetchOnce(inflight, t)
		if err == nil {
			return n, nil
		}
		lastErr = err

		var ioErr *digest.IOError
		if errors.As(err, &ioErr) {
			break
		}
	}

	return 0, &Failure{URL: t.URL, Path: t.Path, Attempts: attempts, Err: lastErr}
}

// fetchOnce 单次尝试：GET -> 写入同目录的临时文件 -> 校验 -> Rename 到目标
// 任何失败都会删除临时文件，目标路径要么不存在，要么是完整且已校验的文件
func (e *Engine) fetchOnce(ctx context.Context, t types.Task) (int64, error) {
	dir := filepath.Dir(t.Path)
	// MkdirAll 对多个任务并发创建同一目录是安全的
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, &digest.IOError{Path: dir, Err: err}
	}

	resp, err := remote.Get(ctx, e.client, t.URL, e.cfg.UserAgent)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(t.Path)+".part-*")
	if err != nil {
		return 0, &digest.IOError{Path: dir, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write body: %w", err)
	}

	if t.HasDigest() {
		if err := e.verifier.Verify(tmpName, t.SHA1); err != nil {
			var mismatch *digest.Mismatch
			if errors.As(err, &mismatch) {
				mismatch.Path = t.Path
			}
			return 0, err
		}
	}

	if err := os.Rename(tmpName, t.Path); err != nil {
		return 0, &digest.IOError{Path: t.Path, Err: err}
	}
	committed = true
	return n, nil
}
