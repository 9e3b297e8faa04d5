package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"mcsync/pkg/ignore"
	"mcsync/pkg/manifest"
	"mcsync/pkg/rules"
	"mcsync/pkg/storage"
	"mcsync/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// LibrariesBaseURL 是库文件的默认来源，没有 path 时从 URL 中去掉它得到相对路径
	LibrariesBaseURL = "https://libraries.minecraft.net/"
	// ResourcesBaseURL 是资源对象的下载地址前缀
	ResourcesBaseURL = "https://resources.download.minecraft.net"

	nativesPrefix = "natives-"
	// 同时解析的清单数量
	documentWorkers = 4
)

// AssetIndexFetcher 获取版本引用的资源索引 (由 manifest.Fetcher 实现)
type AssetIndexFetcher interface {
	FetchAssetIndex(ctx context.Context, ref manifest.AssetIndexRef) (*manifest.AssetIndex, error)
}

// Document 是一次解析的输入：版本清单 + 调用方指定的 jar 位置
type Document struct {
	Version *manifest.Version
	// JarPath 为空时使用 <root>/versions/<id>/<id>.jar
	JarPath string
}

// DocumentError 表示某个清单的解析被中止 (其它清单不受影响)
type DocumentError struct {
	ID  string
	Err error
}

func (e *DocumentError) Error() string { return fmt.Sprintf("version %s: %v", e.ID, e.Err) }
func (e *DocumentError) Unwrap() error { return e.Err }

type Options struct {
	// Platforms 进一步限制 natives 的平台，为空表示不限制
	Platforms types.PlatformSet
	// Exclude 匹配到的本地路径 (相对根目录) 不生成任务
	Exclude *ignore.Matcher
	// 测试时可替换为本地服务器
	LibrariesBaseURL string
	ResourcesBaseURL string
	Logger           logrus.FieldLogger
}

// Resolver 将版本清单展开为扁平的下载任务列表
type Resolver struct {
	root         string
	assets       AssetIndexFetcher
	platforms    types.PlatformSet
	exclude      *ignore.Matcher
	librariesURL string
	resourcesURL string
	log          logrus.FieldLogger

	// 多个版本共用同一个资源索引时只获取一次
	indexes singleflight.Group
}

func New(root string, assets AssetIndexFetcher, opts Options) *Resolver {
	r := &Resolver{
		root:         root,
		assets:       assets,
		platforms:    opts.Platforms,
		exclude:      opts.Exclude,
		librariesURL: opts.LibrariesBaseURL,
		resourcesURL: strings.TrimSuffix(opts.ResourcesBaseURL, "/"),
		log:          opts.Logger,
	}
	if r.platforms == nil {
		r.platforms = types.FullSet()
	}
	if r.librariesURL == "" {
		r.librariesURL = LibrariesBaseURL
	}
	if r.resourcesURL == "" {
		r.resourcesURL = ResourcesBaseURL
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	return r
}

// Resolve 解析所有清单，按输入顺序拼接任务 (不去重)
// 某个清单失败只丢弃它自己的任务，错误以 *DocumentError 汇总返回
func (r *Resolver) Resolve(ctx context.Context, docs []Document) ([]types.Task, error) {
	perDoc := make([][]types.Task, len(docs))
	errs := make([]error, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(documentWorkers)
	for i, doc := range docs {
		g.Go(func() error {
			tasks, err := r.ResolveDocument(gctx, doc)
			if err != nil {
				errs[i] = err
				return nil
			}
			perDoc[i] = tasks
			return nil
		})
	}
	_ = g.Wait() // 单个清单的失败不会中止其它清单

	var out []types.Task
	for _, tasks := range perDoc {
		out = append(out, tasks...)
	}
	return out, errors.Join(errs...)
}

// ResolveDocument 解析单个清单：client jar -> libraries -> assets
func (r *Resolver) ResolveDocument(ctx context.Context, doc Document) ([]types.Task, error) {
	v := doc.Version
	if v == nil {
		return nil, &DocumentError{Err: errors.New("nil manifest")}
	}

	var tasks []types.Task
	add := func(t types.Task) {
		if r.excluded(t.Path) {
			r.log.WithField("path", t.Path).Debug("excluded")
			return
		}
		tasks = append(tasks, t)
	}

	// 1. 客户端 jar
	if c := v.Downloads.Client; c != nil && c.URL != "" {
		jar := doc.JarPath
		if jar == "" {
			jar = filepath.Join(r.root, filepath.FromSlash(manifest.JarKey(v.ID)))
		}
		add(types.Task{URL: c.URL, Path: jar, SHA1: types.Normalize(string(c.SHA1))})
	}

	// 2. 库文件
	for _, lib := range v.Libraries {
		for _, t := range r.libraryTasks(lib) {
			add(t)
		}
	}

	// 3. 资源对象
	if v.AssetIndex != nil {
		objects, err := r.assetTasks(ctx, *v.AssetIndex)
		if err != nil {
			return nil, &DocumentError{ID: v.ID, Err: err}
		}
		for _, t := range objects {
			add(t)
		}
	}

	return tasks, nil
}

// libraryTasks 主构件无条件输出，natives-<p> 只在 p 属于规则求值结果时输出
func (r *Resolver) libraryTasks(lib manifest.Library) []types.Task {
	if lib.Downloads == nil {
		return nil
	}

	var out []types.Task
	if a := lib.Downloads.Artifact; a != nil {
		if t, ok := r.libraryTask(lib.Name, *a); ok {
			out = append(out, t)
		}
	}

	if len(lib.Downloads.Classifiers) == 0 {
		return out
	}

	allowed := rules.Evaluate(lib.Rules).Intersect(r.platforms)

	// map 遍历无序，排序保证输出稳定
	names := make([]string, 0, len(lib.Downloads.Classifiers))
	for name := range lib.Downloads.Classifiers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !strings.HasPrefix(name, nativesPrefix) {
			continue
		}
		platform := types.Platform(name[len(nativesPrefix):])
		if !allowed.Has(platform) {
			continue
		}
		if t, ok := r.libraryTask(lib.Name, lib.Downloads.Classifiers[name]); ok {
			out = append(out, t)
		}
	}
	return out
}

// libraryTask 本地路径优先取 path，否则从 URL 去掉库的基础地址
// 两者都无法得到位置时跳过该条目
func (r *Resolver) libraryTask(name string, d manifest.Download) (types.Task, bool) {
	if d.URL == "" {
		r.log.WithField("library", name).Debug("library entry has no url, skipping")
		return types.Task{}, false
	}

	rel := d.Path
	if rel == "" {
		if !strings.HasPrefix(d.URL, r.librariesURL) {
			r.log.WithFields(logrus.Fields{"library": name, "url": d.URL}).Debug("cannot derive library path, skipping")
			return types.Task{}, false
		}
		rel = strings.TrimPrefix(d.URL, r.librariesURL)
	}

	key, err := storage.CleanKey(rel)
	if err != nil {
		r.log.WithFields(logrus.Fields{"library": name, "path": rel}).Warn("invalid library path, skipping")
		return types.Task{}, false
	}

	return types.Task{
		URL:  d.URL,
		Path: filepath.Join(r.root, "libraries", filepath.FromSlash(key)),
		SHA1: types.Normalize(string(d.SHA1)),
	}, true
}

// assetTasks 每个对象一条任务，URL 与本地路径都由摘要唯一决定
func (r *Resolver) assetTasks(ctx context.Context, ref manifest.AssetIndexRef) ([]types.Task, error) {
	v, err, _ := r.indexes.Do(ref.ID+"\x00"+ref.URL, func() (any, error) {
		return r.assets.FetchAssetIndex(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	index := v.(*manifest.AssetIndex)

	names := make([]string, 0, len(index.Objects))
	for name := range index.Objects {
		names = append(names, name)
	}
	sort.Strings(names)

	tasks := make([]types.Task, 0, len(names))
	for _, name := range names {
		h := types.Normalize(string(index.Objects[name].Hash))
		if !h.IsValid() {
			r.log.WithFields(logrus.Fields{"asset": name, "hash": h}).Warn("invalid asset hash, skipping")
			continue
		}
		tasks = append(tasks, r.AssetTask(h))
	}
	return tasks, nil
}

// AssetTask 返回摘要对应的任务：<base>/<h[:2]>/<h> -> <root>/assets/objects/<h[:2]>/<h>
func (r *Resolver) AssetTask(h types.Hash) types.Task {
	return types.Task{
		URL:  r.resourcesURL + "/" + h.Shard() + "/" + string(h),
		Path: filepath.Join(r.root, "assets", "objects", h.Shard(), string(h)),
		SHA1: h,
	}
}

func (r *Resolver) excluded(path string) bool {
	rel, err := filepath.Rel(r.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return r.exclude.Matches(rel)
}
