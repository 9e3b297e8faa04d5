package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mcsync/pkg/manifest"
	"mcsync/pkg/meta"
	"mcsync/pkg/metrics"
	"mcsync/pkg/planfile"
	"mcsync/pkg/planner"
	"mcsync/pkg/resolver"
	"mcsync/pkg/types"

	"github.com/sirupsen/logrus"
)

// Mode 记录在运行记录里
const (
	ModeSync  = "sync"
	ModeApply = "apply"
)

// SyncOptions 控制一次 sync 的行为
type SyncOptions struct {
	// DryRun 只解析和比对，不传输
	DryRun bool
	// PlanOut 非空时把待传输任务写成计划文件
	PlanOut string
	// OnResult 每个任务完成时回调 (在调用 Sync 的 goroutine 中执行)
	OnResult func(types.Result)
}

// Report 是一次运行的汇总
type Report struct {
	PlanID  types.Hash
	Sources []string

	Total   int // 解析得到的任务数
	Pending []planner.Pending

	AlreadyValid int
	Downloaded   int
	Failed       int
	Bytes        int64

	Failures []types.Result
	// DocumentErrors 是单个来源被放弃的原因，其它来源照常处理
	DocumentErrors error

	Duration time.Duration
}

// OK 没有失败的任务也没有被放弃的来源
func (r *Report) OK() bool { return r.Failed == 0 && r.DocumentErrors == nil }

// LoadDocuments 把命令行来源转换为解析输入
// 已存在的文件按本地清单读取，jar 位于同目录的 <stem>.jar；其它视为版本号，经版本目录获取
func (a *App) LoadDocuments(ctx context.Context, sources []string) ([]resolver.Document, error) {
	var (
		docs []resolver.Document
		errs []error
	)
	for _, src := range sources {
		doc, err := a.loadDocument(ctx, src)
		if err != nil {
			a.Log.WithField("source", src).WithError(err).Error("failed to load manifest")
			errs = append(errs, &resolver.DocumentError{ID: src, Err: err})
			continue
		}
		docs = append(docs, doc)
	}
	return docs, errors.Join(errs...)
}

func (a *App) loadDocument(ctx context.Context, src string) (resolver.Document, error) {
	if info, err := os.Stat(src); err == nil && !info.IsDir() {
		v, err := manifest.LoadVersionFile(src)
		if err != nil {
			return resolver.Document{}, err
		}
		jar := strings.TrimSuffix(src, filepath.Ext(src)) + ".jar"
		abs, err := filepath.Abs(jar)
		if err != nil {
			return resolver.Document{}, err
		}
		return resolver.Document{Version: v, JarPath: abs}, nil
	}

	v, err := a.Fetcher.ResolveVersion(ctx, a.Settings.CatalogURL, src)
	if err != nil {
		return resolver.Document{}, err
	}
	return resolver.Document{Version: v}, nil
}

// Sync 完整流水线: 加载来源 -> 解析 -> 比对 -> 传输 -> 汇总
// 单个来源失败不影响其它来源，错误记录在 Report.DocumentErrors 中
func (a *App) Sync(ctx context.Context, sources []string, opts SyncOptions) (*Report, error) {
	unlock, err := a.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := time.Now()
	report := &Report{Sources: sources}

	// 1. 加载 + 解析
	docs, loadErr := a.LoadDocuments(ctx, sources)
	tasks, resolveErr := a.Resolver.Resolve(ctx, docs)
	report.DocumentErrors = errors.Join(loadErr, resolveErr)
	report.Total = len(tasks)

	// 2. 比对
	report.Pending = a.Planner.Plan(tasks)
	report.AlreadyValid = report.Total - len(report.Pending)

	plan := planfile.New(a.Root, sources, planner.Tasks(report.Pending))
	if opts.PlanOut != "" {
		id, err := planfile.Write(opts.PlanOut, plan)
		if err != nil {
			return nil, fmt.Errorf("failed to write plan: %w", err)
		}
		report.PlanID = id
	} else {
		id, _, err := planfile.Encode(plan)
		if err != nil {
			return nil, err
		}
		report.PlanID = id
	}

	a.Log.WithFields(logrus.Fields{
		"tasks":   report.Total,
		"pending": len(report.Pending),
		"plan":    report.PlanID,
	}).Info("plan ready")

	if opts.DryRun {
		report.Duration = time.Since(started)
		return report, nil
	}

	// 3. 传输
	rec := metrics.NewRecorder()
	rec.ObserveValid(report.AlreadyValid)
	rec.SetPending(len(report.Pending))
	if err := a.execute(ctx, plan.Tasks, report, rec, opts.OnResult); err != nil {
		return nil, err
	}
	report.Duration = time.Since(started)

	// 4. 记录
	a.finish(ctx, ModeSync, report, started, rec)
	return report, nil
}

// Apply 执行之前保存的计划，计划的根目录必须与当前根目录一致
func (a *App) Apply(ctx context.Context, plan *planfile.Plan, onResult func(types.Result)) (*Report, error) {
	if filepath.Clean(plan.Root) != a.Root {
		return nil, fmt.Errorf("plan was made for root %s, current root is %s", plan.Root, a.Root)
	}

	unlock, err := a.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := time.Now()
	id, _, err := planfile.Encode(plan)
	if err != nil {
		return nil, err
	}
	report := &Report{PlanID: id, Sources: plan.Sources, Total: len(plan.Tasks)}
	for _, t := range plan.Tasks {
		report.Pending = append(report.Pending, planner.Pending{Task: t})
	}

	rec := metrics.NewRecorder()
	rec.SetPending(len(report.Pending))
	if err := a.execute(ctx, plan.Tasks, report, rec, onResult); err != nil {
		return nil, err
	}
	report.Duration = time.Since(started)

	a.finish(ctx, ModeApply, report, started, rec)
	return report, nil
}

// execute 运行传输引擎并累计结果
func (a *App) execute(ctx context.Context, tasks []types.Task, report *Report, rec *metrics.Recorder, onResult func(types.Result)) error {
	results, err := a.Engine.Run(ctx, tasks)
	if err != nil {
		return err
	}

	for r := range results {
		rec.Observe(r)
		switch r.Outcome {
		case types.OutcomeAlreadyValid:
			report.AlreadyValid++
		case types.OutcomeDownloaded:
			report.Downloaded++
			report.Bytes += r.Bytes
		case types.OutcomeFailed:
			report.Failed++
			report.Failures = append(report.Failures, r)
		}
		if onResult != nil {
			onResult(r)
		}
	}
	return nil
}

// finish 写运行记录和指标；这两步失败只记日志，不影响本次结果
func (a *App) finish(ctx context.Context, mode string, report *Report, started time.Time, rec *metrics.Recorder) {
	if a.Ledger != nil {
		if err := a.Ledger.RecordRun(ctx, a.toRun(mode, report, started)); err != nil {
			a.Log.WithError(err).Warn("failed to record run")
		}
	}

	rec.Finish(report.Duration.Seconds())
	if err := rec.WriteTextfile(a.Settings.MetricsFile); err != nil {
		a.Log.WithError(err).Warn("failed to write metrics textfile")
	}
}

func (a *App) toRun(mode string, report *Report, started time.Time) *meta.Run {
	sources, err := meta.EncodeSources(report.Sources)
	if err != nil {
		a.Log.WithError(err).Warn("failed to encode sources")
	}

	run := &meta.Run{
		PlanID:       string(report.PlanID),
		Root:         a.Root,
		Mode:         mode,
		Sources:      sources,
		Total:        report.Total,
		AlreadyValid: report.AlreadyValid,
		Downloaded:   report.Downloaded,
		Failed:       report.Failed,
		Bytes:        report.Bytes,
		StartedAt:    started,
		FinishedAt:   started.Add(report.Duration),
	}
	for _, f := range report.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		run.Failures = append(run.Failures, meta.TaskFailure{URL: f.Task.URL, Path: f.Task.Path, Error: msg})
	}
	return run
}
